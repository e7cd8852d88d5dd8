package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/smithy-go"
	"google.golang.org/api/googleapi"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"
	KindCanceled ErrorKind = "canceled"
	KindQuota    ErrorKind = "quota"
	KindNetwork  ErrorKind = "network"
	KindEmpty    ErrorKind = "empty"
	KindRejected ErrorKind = "rejected"
	KindUnknown  ErrorKind = "unknown"
)

// ErrEmptyCompletion is returned when a model answers with no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// ProviderError is the structured failure surfaced by Provider.Complete.
type ProviderError struct {
	Kind     ErrorKind
	Model    string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: %s failure from %s after %d attempt(s): %v", e.Kind, e.Model, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindNetwork, KindQuota, KindEmpty, KindUnknown:
		return true
	default:
		return false
	}
}

// Classify maps a raw client error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, ErrEmptyCompletion) {
		return KindEmpty
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceQuotaExceededException", "TooManyRequestsException":
			return KindQuota
		case "ModelTimeoutException":
			return KindTimeout
		case "ValidationException", "AccessDeniedException", "ResourceNotFoundException":
			return KindRejected
		}
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch {
		case gErr.Code == 429:
			return KindQuota
		case gErr.Code == 400 || gErr.Code == 401 || gErr.Code == 403 || gErr.Code == 404:
			return KindRejected
		case gErr.Code >= 500:
			return KindNetwork
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return KindQuota
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "no such host"):
		return KindNetwork
	}
	return KindUnknown
}
