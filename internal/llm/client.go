// Package llm holds the Tier 3 provider: model clients, retries, and cost accounting.
package llm

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn of a model conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32 `json:"inputTokens"`
	OutputTokens int32 `json:"outputTokens"`
	TotalTokens  int32 `json:"totalTokens"`
}

type Request struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type Response struct {
	// Model is the model that actually answered, which differs from
	// Request.Model after a fallback.
	Model      string
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client is a single model backend.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Embedder turns text into vectors for semantic scoring.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
