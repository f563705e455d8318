package ai

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// BasicProvider tags the sentinel completion
	BasicProvider = "Basic"

	// BasicResponse is returned when no provider produced a completion
	BasicResponse = "Basic AI mode: I can hear you but my high-level logic is offline."

	defaultProviderTimeout = 60 * time.Second
)

// Completion is a completion text and the provider that produced it
type Completion struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

// IsBasic reports whether c is the offline sentinel
func (c Completion) IsBasic() bool {
	return c.Provider == BasicProvider
}

// Orchestrator tries providers in static priority order and returns the
// first success. It never returns an error.
type Orchestrator struct {
	entries []Entry
}

// NewOrchestrator creates an orchestrator over an ordered provider list
func NewOrchestrator(entries []Entry) *Orchestrator {
	return &Orchestrator{entries: append([]Entry(nil), entries...)}
}

// Complete asks each enabled provider once, in order
func (o *Orchestrator) Complete(ctx context.Context, prompt string) Completion {
	for _, entry := range o.entries {
		if !entry.Enabled || entry.Provider == nil {
			continue
		}
		if ctx.Err() != nil {
			logger.WithError(ctx.Err()).Warn("completion abandoned, context done")
			break
		}

		name := entry.Provider.Name()
		start := time.Now()

		text, err := o.call(ctx, entry, prompt)
		if err != nil {
			logger.WithFields(log.Fields{
				"provider": name,
				"error":    err,
			}).Warn("provider failed, trying next")
			continue
		}

		logger.WithFields(log.Fields{
			"provider": name,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Info("completion received")
		return Completion{Text: text, Provider: name}
	}

	logger.Warn("no provider available, using basic mode")
	return Completion{Text: BasicResponse, Provider: BasicProvider}
}

// ProviderStatus is a provider name and whether it has a credential
type ProviderStatus struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Providers lists providers in priority order
func (o *Orchestrator) Providers() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(o.entries))
	for _, e := range o.entries {
		if e.Provider != nil {
			out = append(out, ProviderStatus{Name: e.Provider.Name(), Enabled: e.Enabled})
		}
	}
	return out
}

func (o *Orchestrator) call(ctx context.Context, entry Entry, prompt string) (text string, err error) {
	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()

	text, err = entry.Provider.Complete(callCtx, prompt)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}
