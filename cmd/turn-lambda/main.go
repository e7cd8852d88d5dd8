package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/voice-turn-core/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/voice-turn-core/internal/http/middleware"
	"github.com/wolfman30/voice-turn-core/internal/orchestrator"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

type config struct {
	upstreamBaseURL string
	upstreamTimeout time.Duration
}

func loadConfig() (config, error) {
	baseURL := strings.TrimSpace(os.Getenv("TURN_API_URL"))
	if baseURL == "" {
		return config{}, errors.New("TURN_API_URL is required")
	}

	// Voice turns must answer inside the caller's patience window.
	timeout := 2 * time.Second
	if raw := strings.TrimSpace(os.Getenv("TURN_API_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return config{}, fmt.Errorf("invalid TURN_API_TIMEOUT: %w", err)
		}
		timeout = parsed
	}

	return config{
		upstreamBaseURL: strings.TrimRight(baseURL, "/"),
		upstreamTimeout: timeout,
	}, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	logger := logging.New(os.Getenv("LOG_LEVEL"))
	client := &http.Client{Timeout: cfg.upstreamTimeout}
	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, cfg, client, logger, evt)
	})
}

// handle forwards turn traffic from API Gateway to the turn API. A failed
// turn still returns speakable recovery text.
func handle(ctx context.Context, cfg config, client *http.Client, logger *logging.Logger, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}

	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	isTurn := path == "/v1/turns"
	if !isTurn && !isEndCall(path) {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}

	tenantID := strings.TrimSpace(headerValue(evt.Headers, httpmiddleware.TenantHeader))
	if tenantID == "" {
		tenantID = strings.TrimSpace(evt.StageVariables["tenantId"])
	}
	if tenantID == "" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "missing tenant"}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.upstreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.upstreamBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpmiddleware.TenantHeader, tenantID)

	requestID := strings.TrimSpace(headerValue(evt.Headers, "x-request-id"))
	if requestID == "" {
		requestID = evt.RequestContext.RequestID
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("turn api unreachable", "error", err, "path", path, "tenant_id", tenantID, "request_id", requestID)
		if isTurn {
			return recoveryResponse(), nil
		}
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadGateway, Body: "upstream error"}, nil
	}
	defer resp.Body.Close()

	if isTurn && resp.StatusCode >= http.StatusInternalServerError {
		logger.Error("turn api failed", "status", resp.StatusCode, "tenant_id", tenantID, "request_id", requestID)
		return recoveryResponse(), nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	out := events.APIGatewayV2HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Headers:    map[string]string{},
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		out.Headers["content-type"] = ct
	}
	return out, nil
}

func isEndCall(path string) bool {
	rest, ok := strings.CutPrefix(path, "/v1/calls/")
	if !ok {
		return false
	}
	callID, ok := strings.CutSuffix(rest, "/end")
	return ok && callID != "" && !strings.Contains(callID, "/")
}

func recoveryResponse() events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(map[string]string{
		"responseText": handlers.RecoveryText,
		"action":       orchestrator.ActionContinue,
	})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"content-type": "application/json"},
	}
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(evt.Body)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
