package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements CompletionClient against any OpenAI-compatible
// endpoint (OpenAI itself, or a local server speaking the same protocol).
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from the environment.
//
// OPENAI_API_KEY is required (falling back to the container secret file),
// OPENAI_MODEL defaults to gpt-4o-mini, and OPENAI_BASE_URL optionally
// redirects to a compatible local endpoint.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read the OpenAI API key from container secrets")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := strings.Trim(os.Getenv("OPENAI_BASE_URL"), "\"' "); baseURL != "" {
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Scheme != "" && parsed.Host != "" {
			config.BaseURL = baseURL
		} else {
			slog.Warn("OPENAI_BASE_URL is invalid, using the default endpoint", "url", baseURL)
		}
	}

	slog.Info("Initializing completion client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Complete implements the CompletionClient interface.
func (o *OpenAIClient) Complete(ctx context.Context, system, prompt string, params GenerationParams) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return Completion{}, &CompletionError{StatusCode: 502, Message: "provider returned no choices"}
	}

	slog.Debug("Received completion", "model", resp.Model, "finish_reason", resp.Choices[0].FinishReason)
	return Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// classifyError maps go-openai errors onto the CompletionError taxonomy so
// the retry layer can tell transient faults from permanent ones.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CompletionError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &CompletionError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	// Transport-level failure, no HTTP response.
	return &CompletionError{StatusCode: 0, Message: err.Error()}
}
