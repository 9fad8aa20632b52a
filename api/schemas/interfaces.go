package schemas

import (
	"context"
)

// -- LLM Interfaces --

// GenerationOptions controls sampling for a single completion.
type GenerationOptions struct {
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
	// ForceJSON asks providers that support it for a JSON-only response.
	ForceJSON bool `json:"force_json"`
}

// GenerationRequest is one system+user prompt pair sent to a model.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts a chat-completion provider.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// -- Synthesis Interfaces --

// PageAnalyzer fetches a page and grounds selectors in it.
type PageAnalyzer interface {
	Fetch(ctx context.Context, url string) (*PageData, error)
	Analyze(ctx context.Context, page *PageData, intent string, taskType TaskType) ([]LiveSelector, error)
}
