package ai

import (
	"context"
	"fmt"
	"time"

	"autoheal/config"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "ai")

// CompletionProvider turns one prompt into one text completion
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Request is the provider-neutral completion request
type Request struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Entry is one slot in the orchestrator's priority list
type Entry struct {
	Provider CompletionProvider
	Enabled  bool
	Timeout  time.Duration
}

// NewProvider builds the provider for a configured kind
func NewProvider(cfg config.ProviderConfig) (CompletionProvider, error) {
	req := Request{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}

	switch cfg.Kind {
	case config.KindAnthropic:
		return NewAnthropicProvider(cfg.Name, cfg.APIKey, cfg.BaseURL, req), nil
	case config.KindGemini:
		p, err := NewGeminiProvider(cfg.Name, cfg.APIKey, cfg.BaseURL, req)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.KindOpenAI:
		return NewOpenAIProvider(cfg.Name, cfg.APIKey, cfg.BaseURL, req), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// EntriesFromConfig builds the ordered provider list, tagging each entry
// enabled by credential presence.
func EntriesFromConfig(providers []config.ProviderConfig) ([]Entry, error) {
	entries := make([]Entry, 0, len(providers))
	for _, p := range providers {
		provider, err := NewProvider(p)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		entries = append(entries, Entry{
			Provider: provider,
			Enabled:  p.Enabled(),
			Timeout:  p.TimeoutDuration(),
		})
	}
	return entries, nil
}
