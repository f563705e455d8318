package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider completes prompts with the Claude Messages API
type AnthropicProvider struct {
	name   string
	client anthropic.Client
	req    Request
}

// NewAnthropicProvider creates a Claude provider.
// SDK retries are disabled; the orchestrator moves on instead.
func NewAnthropicProvider(name, apiKey, baseURL string, req Request) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		name:   name,
		client: anthropic.NewClient(opts...),
		req:    req,
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string { return p.name }

// Complete sends prompt as a single user message
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.req.Model),
		MaxTokens:   int64(p.req.MaxTokens),
		Temperature: anthropic.Float(p.req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content in anthropic response")
	}
	return sb.String(), nil
}
