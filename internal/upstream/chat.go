package upstream

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/prodscribe/internal/shape"
)

// CompletionParams tunes a single chat-completion call.
type CompletionParams struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Completer sends one-shot chat completions.
type Completer struct {
	client *openai.Client
	params CompletionParams
}

// NewCompleter creates a Completer. An empty baseURL uses the SDK default.
func NewCompleter(apiKey, baseURL string, params CompletionParams) *Completer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Completer{
		client: openai.NewClientWithConfig(cfg),
		params: params,
	}
}

// Complete sends prompt as the only user message and returns the SDK
// response wrapped as a shape.Value.
func (c *Completer) Complete(ctx context.Context, prompt string) (shape.Value, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.params.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.params.Temperature,
		MaxTokens:   c.params.MaxTokens,
	})
	if err != nil {
		return shape.Absent, fmt.Errorf("chat completion: %w", err)
	}
	return shape.Decode(resp), nil
}
