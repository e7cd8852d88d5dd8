package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/voice-turn-core/internal/retry"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

var providerTracer = otel.Tracer("voice.internal.llm")

var (
	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voice",
			Subsystem: "llm",
			Name:      "completion_latency_seconds",
			Help:      "Latency of Tier 3 completions including retries",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		},
		[]string{"model", "status"},
	)
	providerTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by Tier 3 completions",
		},
		[]string{"model", "type"}, // type: input, output
	)
	providerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "llm",
			Name:      "failures_total",
			Help:      "Tier 3 completions that failed after retries, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(providerLatency, providerTokens, providerFailures)
}

// RegisterMetrics registers provider metrics with a non-default registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(providerLatency, providerTokens, providerFailures)
}

// Prompt is the bounded Tier 3 prompt.
type Prompt struct {
	System string
	User   string
}

// Len is the prompt size in characters.
func (p Prompt) Len() int { return len(p.System) + len(p.User) }

// Completion is a successful provider answer with its actual cost.
type Completion struct {
	Text     string
	Model    string
	Usage    TokenUsage
	CostUSD  float64
	Attempts int
	Latency  time.Duration
}

// Provider wraps a Client with a per-attempt timeout, bounded retries, and cost accounting.
type Provider struct {
	client       Client
	defaultModel string
	timeout      time.Duration
	retry        retry.Config
	pricing      *Pricing
	temperature  float32
	logger       *logging.Logger
}

type ProviderOption func(*Provider)

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRetry sets attempt count and base backoff.
func WithRetry(maxAttempts int, baseDelay time.Duration) ProviderOption {
	return func(p *Provider) {
		p.retry.MaxAttempts = maxAttempts
		p.retry.BaseDelay = baseDelay
	}
}

func WithPricing(pricing *Pricing) ProviderOption {
	return func(p *Provider) {
		if pricing != nil {
			p.pricing = pricing
		}
	}
}

// WithDefaultModel is used when a tenant leaves llmModel empty.
func WithDefaultModel(model string) ProviderOption {
	return func(p *Provider) {
		p.defaultModel = strings.TrimSpace(model)
	}
}

func WithLogger(logger *logging.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProvider(client Client, opts ...ProviderOption) *Provider {
	if client == nil {
		panic("llm: client cannot be nil")
	}
	p := &Provider{
		client:      client,
		timeout:     1500 * time.Millisecond,
		retry:       retry.DefaultConfig,
		pricing:     DefaultPricing(),
		temperature: 0.2,
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ResolveModel returns model, or the provider default when model is blank.
func (p *Provider) ResolveModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return p.defaultModel
}

// Estimate prices a prompt before sending it.
func (p *Provider) Estimate(model string, prompt Prompt, maxTokens int) float64 {
	return p.pricing.Estimate(p.ResolveModel(model), prompt.Len(), maxTokens)
}

// Complete sends prompt to model. Failures come back as *ProviderError; the
// provider never panics on quota or network trouble.
func (p *Provider) Complete(ctx context.Context, prompt Prompt, model string, maxTokens int) (Completion, error) {
	model = p.ResolveModel(model)
	ctx, span := providerTracer.Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.max_tokens", maxTokens))

	req := Request{
		Model:       model,
		MaxTokens:   int32(maxTokens),
		Temperature: p.temperature,
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: prompt.User}},
	}
	if strings.TrimSpace(prompt.System) != "" {
		req.System = []string{prompt.System}
	}

	cfg := p.retry
	cfg.ShouldRetry = func(err error) bool { return Classify(err).Retryable() }
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.logger.Warn("llm attempt failed, retrying", "model", model, "attempt", attempt, "delay", delay, "error", err)
	}

	start := time.Now()
	var resp Response
	attempts, err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		out, err := p.client.Complete(attemptCtx, req)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out.Text) == "" {
			return ErrEmptyCompletion
		}
		resp = out
		return nil
	})
	latency := time.Since(start)

	if err != nil {
		kind := Classify(err)
		if ctx.Err() != nil {
			kind = KindCanceled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = KindTimeout
			}
		}
		providerLatency.WithLabelValues(model, "error").Observe(latency.Seconds())
		providerFailures.WithLabelValues(string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		return Completion{}, &ProviderError{Kind: kind, Model: model, Attempts: attempts, Err: err}
	}

	answeredBy := resp.Model
	if answeredBy == "" {
		answeredBy = model
	}
	cost := p.pricing.Cost(answeredBy, resp.Usage)
	providerLatency.WithLabelValues(answeredBy, "ok").Observe(latency.Seconds())
	providerTokens.WithLabelValues(answeredBy, "input").Add(float64(resp.Usage.InputTokens))
	providerTokens.WithLabelValues(answeredBy, "output").Add(float64(resp.Usage.OutputTokens))
	span.SetAttributes(
		attribute.Int("llm.attempts", attempts),
		attribute.Float64("llm.cost_usd", cost),
	)

	return Completion{
		Text:     strings.TrimSpace(resp.Text),
		Model:    answeredBy,
		Usage:    resp.Usage,
		CostUSD:  cost,
		Attempts: attempts,
		Latency:  latency,
	}, nil
}
