package llm

import "context"

// GenerationParams are the optional knobs for a completion request.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// TokenUsage reports provider-side token accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion is the text result of one completion call.
type Completion struct {
	Text  string     `json:"text"`
	Model string     `json:"model"`
	Usage TokenUsage `json:"usage"`
}

// CompletionClient is the contract the interpretation pipeline requires of
// the external completion service: system instruction plus user prompt in,
// text out. Failures carry an HTTP-status-like code (see CompletionError)
// so callers can separate transient faults from permanent ones.
type CompletionClient interface {
	Complete(ctx context.Context, system, prompt string, params GenerationParams) (Completion, error)
}
