package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider completes prompts with the Gemini API generateContent method
type GeminiProvider struct {
	name   string
	client *genai.Client
	req    Request
}

// NewGeminiProvider creates a Gemini provider. Without an API key the
// provider is built unusable; the orchestrator never calls it.
func NewGeminiProvider(name, apiKey, baseURL string, req Request) (*GeminiProvider, error) {
	p := &GeminiProvider{name: name, req: req}
	if apiKey == "" {
		return p, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{},
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = strings.TrimRight(baseURL, "/") + "/"
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string { return p.name }

// Complete sends prompt as a single user turn and returns the first candidate's text
func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if p.client == nil {
		return "", errors.New("gemini API key not set")
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(p.req.Temperature)),
	}
	if p.req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(p.req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.req.Model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini response has no candidate text")
	}
	return text, nil
}
