package ai

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"autoheal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a scripted CompletionProvider
type fakeProvider struct {
	name   string
	text   string
	err    error
	delay  time.Duration
	panics bool
	calls  atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func TestOrchestrator_FallbackOrder(t *testing.T) {
	p1 := &fakeProvider{name: "P1", err: errors.New("HTTP 500")}
	p2 := &fakeProvider{name: "P2", text: "from p2"}
	p3 := &fakeProvider{name: "P3", text: "from p3"}

	o := NewOrchestrator([]Entry{
		{Provider: p1, Enabled: true},
		{Provider: p2, Enabled: true},
		{Provider: p3, Enabled: true},
	})

	got := o.Complete(context.Background(), "hello")

	assert.Equal(t, Completion{Text: "from p2", Provider: "P2"}, got)
	assert.Equal(t, int32(1), p1.calls.Load())
	assert.Equal(t, int32(1), p2.calls.Load())
	assert.Equal(t, int32(0), p3.calls.Load(), "P3 must not be invoked")
}

func TestOrchestrator_SkipsDisabled(t *testing.T) {
	disabled := &fakeProvider{name: "Off", text: "nope"}
	enabled := &fakeProvider{name: "On", text: "yes"}

	o := NewOrchestrator([]Entry{
		{Provider: disabled, Enabled: false},
		{Provider: enabled, Enabled: true},
	})

	got := o.Complete(context.Background(), "hello")
	assert.Equal(t, "On", got.Provider)
	assert.Equal(t, int32(0), disabled.calls.Load())
}

func TestOrchestrator_BasicSentinel(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{name: "no providers", entries: nil},
		{name: "all disabled", entries: []Entry{
			{Provider: &fakeProvider{name: "A", text: "x"}, Enabled: false},
			{Provider: &fakeProvider{name: "B", text: "y"}, Enabled: false},
		}},
		{name: "all fail", entries: []Entry{
			{Provider: &fakeProvider{name: "A", err: errors.New("timeout")}, Enabled: true},
			{Provider: &fakeProvider{name: "B", text: ""}, Enabled: true},
			{Provider: &fakeProvider{name: "C", panics: true}, Enabled: true},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewOrchestrator(tt.entries).Complete(context.Background(), "hello")
			assert.True(t, got.IsBasic())
			assert.Equal(t, BasicResponse, got.Text)
		})
	}
}

func TestOrchestrator_PerProviderTimeout(t *testing.T) {
	slow := &fakeProvider{name: "Slow", text: "late", delay: time.Second}
	fast := &fakeProvider{name: "Fast", text: "quick"}

	o := NewOrchestrator([]Entry{
		{Provider: slow, Enabled: true, Timeout: 20 * time.Millisecond},
		{Provider: fast, Enabled: true},
	})

	got := o.Complete(context.Background(), "hello")
	assert.Equal(t, "Fast", got.Provider)
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	p := &fakeProvider{name: "P", text: "x"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := NewOrchestrator([]Entry{{Provider: p, Enabled: true}}).Complete(ctx, "hello")
	assert.True(t, got.IsBasic())
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestEntriesFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Providers[1].APIKey = "gemini-key"

	entries, err := EntriesFromConfig(cfg.Providers)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "Claude", entries[0].Provider.Name())
	assert.False(t, entries[0].Enabled)
	assert.True(t, entries[1].Enabled)
	assert.IsType(t, &GeminiProvider{}, entries[1].Provider)
	assert.IsType(t, &OpenAIProvider{}, entries[2].Provider)

	statuses := NewOrchestrator(entries).Providers()
	assert.Equal(t, []ProviderStatus{{"Claude", false}, {"Gemini", true}, {"Kimi", false}}, statuses)

	_, err = NewProvider(config.ProviderConfig{Name: "X", Kind: "oracle"})
	assert.Error(t, err)
}
