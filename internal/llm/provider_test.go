package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

type stubClient struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	calls     int
	lastReq   Request
	block     bool
}

func (s *stubClient) Complete(ctx context.Context, req Request) (Response, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.lastReq = req
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
	if idx < len(s.errs) && s.errs[idx] != nil {
		return Response{}, s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	if len(s.responses) > 0 {
		return s.responses[len(s.responses)-1], nil
	}
	return Response{}, errors.New("stub: no response")
}

func TestProviderCompleteRecordsCost(t *testing.T) {
	client := &stubClient{responses: []Response{{
		Model: "anthropic.claude-3-haiku-20240307-v1:0",
		Text:  "  We can have someone take a look.  ",
		Usage: TokenUsage{InputTokens: 1000, OutputTokens: 1000, TotalTokens: 2000},
	}}}
	p := NewProvider(client, WithDefaultModel("anthropic.claude-3-haiku-20240307-v1:0"), WithLogger(logging.Discard()))

	out, err := p.Complete(context.Background(), Prompt{System: "facts", User: "hello"}, "", 120)
	require.NoError(t, err)
	assert.Equal(t, "We can have someone take a look.", out.Text)
	assert.Equal(t, 1, out.Attempts)
	assert.InDelta(t, 0.00025+0.00125, out.CostUSD, 1e-9)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", client.lastReq.Model)
	assert.Equal(t, int32(120), client.lastReq.MaxTokens)
	assert.Equal(t, []string{"facts"}, client.lastReq.System)
}

func TestProviderRetriesTransientFailures(t *testing.T) {
	throttled := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	client := &stubClient{
		errs:      []error{throttled, throttled},
		responses: []Response{{}, {}, {Text: "ok", Model: "m"}},
	}
	p := NewProvider(client, WithRetry(3, time.Millisecond), WithLogger(logging.Discard()))

	out, err := p.Complete(context.Background(), Prompt{User: "hi"}, "m", 50)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, client.calls)
}

func TestProviderReturnsStructuredErrorAfterRetries(t *testing.T) {
	throttled := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	client := &stubClient{errs: []error{throttled, throttled, throttled}}
	p := NewProvider(client, WithRetry(3, time.Millisecond), WithLogger(logging.Discard()))

	_, err := p.Complete(context.Background(), Prompt{User: "hi"}, "m", 50)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindQuota, perr.Kind)
	assert.Equal(t, 3, perr.Attempts)
}

func TestProviderDoesNotRetryRejectedRequests(t *testing.T) {
	client := &stubClient{errs: []error{&smithy.GenericAPIError{Code: "ValidationException"}}}
	p := NewProvider(client, WithRetry(3, time.Millisecond), WithLogger(logging.Discard()))

	_, err := p.Complete(context.Background(), Prompt{User: "hi"}, "m", 50)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindRejected, perr.Kind)
	assert.Equal(t, 1, client.calls)
}

func TestProviderTimesOutEachAttempt(t *testing.T) {
	client := &stubClient{block: true}
	p := NewProvider(client, WithTimeout(5*time.Millisecond), WithRetry(2, time.Millisecond), WithLogger(logging.Discard()))

	_, err := p.Complete(context.Background(), Prompt{User: "hi"}, "m", 50)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTimeout, perr.Kind)
	assert.Equal(t, 2, client.calls)
}

func TestProviderHonoursUpstreamCancellation(t *testing.T) {
	client := &stubClient{block: true}
	p := NewProvider(client, WithTimeout(time.Second), WithRetry(3, time.Millisecond), WithLogger(logging.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := p.Complete(ctx, Prompt{User: "hi"}, "m", 50)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTimeout, perr.Kind)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestProviderTreatsBlankTextAsEmpty(t *testing.T) {
	client := &stubClient{responses: []Response{{Text: "   "}}}
	p := NewProvider(client, WithRetry(1, time.Millisecond), WithLogger(logging.Discard()))

	_, err := p.Complete(context.Background(), Prompt{User: "hi"}, "m", 50)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindEmpty, perr.Kind)
}

func TestFallbackClientUsesSecondaryOnFailure(t *testing.T) {
	primary := &stubClient{errs: []error{errors.New("boom")}}
	secondary := &stubClient{responses: []Response{{Text: "from gemini", Model: "gemini-2.0-flash"}}}
	c := NewFallbackClient(primary, secondary, logging.Discard())

	resp, err := c.Complete(context.Background(), Request{Model: "bedrock", Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
}

func TestPricingMatchesInferenceProfiles(t *testing.T) {
	p := DefaultPricing()
	usage := TokenUsage{InputTokens: 2000, OutputTokens: 0}
	assert.InDelta(t, 0.0016, p.Cost("us.anthropic.claude-3-5-haiku-20241022-v1:0", usage), 1e-9)
	assert.InDelta(t, 0.006, p.Cost("mystery-model", usage), 1e-9)

	p.With("mystery-model", Price{InputPer1K: 0.001})
	assert.InDelta(t, 0.002, p.Cost("mystery-model", usage), 1e-9)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindCanceled, Classify(context.Canceled))
	assert.Equal(t, KindQuota, Classify(errors.New("rpc error: RESOURCE_EXHAUSTED")))
	assert.Equal(t, KindNetwork, Classify(errors.New("dial tcp: connection refused")))
	assert.Equal(t, KindUnknown, Classify(errors.New("odd")))
}
