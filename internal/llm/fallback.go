package llm

import (
	"context"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// FallbackClient tries the primary backend and, on failure, the fallback.
type FallbackClient struct {
	primary  Client
	fallback Client
	logger   *logging.Logger
}

// NewFallbackClient wraps primary with an optional fallback.
func NewFallbackClient(primary, fallback Client, logger *logging.Logger) *FallbackClient {
	if primary == nil {
		panic("llm: primary client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil || c.fallback == nil || ctx.Err() != nil {
		return resp, err
	}

	c.logger.Warn("primary llm failed, attempting fallback", "error", err.Error(), "model", req.Model)
	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback llm also failed", "primary_error", err.Error(), "fallback_error", fallbackErr.Error())
		return Response{}, fallbackErr
	}
	return fallbackResp, nil
}
