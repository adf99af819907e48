package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIChat talks to any OpenAI-compatible chat-completions endpoint
// (OpenAI itself, vLLM, LiteLLM, OpenRouter, self-hosted gateways).
type OpenAIChat struct {
	client *openai.Client
	model  string
}

// NewOpenAIChat builds a chat model. baseURL may be empty for the default
// OpenAI endpoint; it should include the /v1 prefix otherwise.
func NewOpenAIChat(baseURL, apiKey, model string) (*OpenAIChat, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("chat model name required")
	}
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIChat{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Name returns the configured model identifier.
func (c *OpenAIChat) Name() string { return c.model }

// Invoke sends the message sequence and returns the completion text. An
// empty completion comes back as ("", nil) so the invocation engine can
// apply its retry policy.
func (c *OpenAIChat) Invoke(ctx context.Context, messages []ChatMessage) (string, error) {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, convertMessage(msg))
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: converted,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", c.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func convertMessage(msg ChatMessage) openai.ChatCompletionMessage {
	if len(msg.ImageURLs) == 0 {
		return openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Text}
	}
	parts := make([]openai.ChatMessagePart, 0, len(msg.ImageURLs)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: msg.Text,
	})
	for _, url := range msg.ImageURLs {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    url,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}
}
