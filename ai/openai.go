package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider completes prompts against any OpenAI-compatible chat
// completion endpoint (OpenAI itself, Moonshot Kimi, ...).
type OpenAIProvider struct {
	name   string
	client *openai.Client
	req    Request
}

// NewOpenAIProvider creates an OpenAI-compatible provider
func NewOpenAIProvider(name, apiKey, baseURL string, req Request) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
		req:    req,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string { return p.name }

// Complete sends prompt as a single user message
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.req.Model,
		MaxTokens:   p.req.MaxTokens,
		Temperature: float32(p.req.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}
