package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/voice-turn-core/internal/config"
	"github.com/wolfman30/voice-turn-core/internal/llm"
	"github.com/wolfman30/voice-turn-core/internal/semantic"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// Tier3 bundles the Tier 3 provider with the cleanup its clients need.
type Tier3 struct {
	Provider *llm.Provider
	close    func() error
}

// Close releases the fallback client, if any.
func (t *Tier3) Close() error {
	if t == nil || t.close == nil {
		return nil
	}
	return t.close()
}

// BuildTier3 wires the Tier 3 provider: Bedrock when a model id is set, with
// Gemini as fallback when an API key is set, or Gemini alone. It returns nil
// when neither backend is configured; tenants then escalate instead.
func BuildTier3(ctx context.Context, cfg *appconfig.Config, bedrock *bedrockruntime.Client, logger *logging.Logger) (*Tier3, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var primary llm.Client
	model := strings.TrimSpace(cfg.BedrockModelID)
	if model != "" && bedrock != nil {
		primary = llm.NewBedrockClient(bedrock)
	}

	var gemini *llm.GeminiClient
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		g, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		gemini = g
	}

	var client llm.Client
	switch {
	case primary != nil && gemini != nil:
		client = llm.NewFallbackClient(primary, gemini, logger)
	case primary != nil:
		client = primary
	case gemini != nil:
		client = gemini
		model = cfg.GeminiModelID
	default:
		logger.Warn("no tier 3 provider configured; tier 3 disabled")
		return nil, nil
	}

	provider := llm.NewProvider(client,
		llm.WithDefaultModel(model),
		llm.WithTimeout(cfg.LLMTimeout),
		llm.WithRetry(cfg.LLMMaxAttempts, cfg.LLMRetryBaseDelay),
		llm.WithLogger(logger),
	)
	t := &Tier3{Provider: provider}
	if gemini != nil {
		t.close = gemini.Close
	}
	logger.Info("tier 3 provider enabled", "model", model, "gemini_fallback", primary != nil && gemini != nil)
	return t, nil
}

// BuildScorer returns the Tier 2 scorer: Bedrock embeddings backed by BM25,
// or BM25 alone when no embedding model is configured.
func BuildScorer(cfg *appconfig.Config, bedrock *bedrockruntime.Client, logger *logging.Logger) semantic.Scorer {
	lexical := semantic.NewBM25Scorer()
	if cfg == nil || bedrock == nil || strings.TrimSpace(cfg.BedrockEmbeddingModelID) == "" {
		return lexical
	}
	embedder := llm.NewBedrockEmbedder(bedrock, cfg.BedrockEmbeddingModelID)
	return semantic.FallbackScorer{
		Primary:   semantic.NewEmbeddingScorer(embedder),
		Secondary: lexical,
		Logger:    logger,
	}
}
