package ai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var testRequest = Request{Model: "test-model", MaxTokens: 256, Temperature: 0.2}

func TestGeminiProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/test-model:generateContent"), r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "diagnose this", gjson.GetBytes(body, "contents.0.parts.0.text").String())
		assert.Equal(t, int64(256), gjson.GetBytes(body, "generationConfig.maxOutputTokens").Int())
		assert.InDelta(t, 0.2, gjson.GetBytes(body, "generationConfig.temperature").Float(), 0.001)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"part one, "},{"text":"part two"}]}}]}`))
	}))
	defer server.Close()

	p, err := NewGeminiProvider("Gemini", "g-key", server.URL, testRequest)
	require.NoError(t, err)
	text, err := p.Complete(context.Background(), "diagnose this")

	require.NoError(t, err)
	assert.Equal(t, "part one, part two", text)
}

func TestGeminiProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "api error", status: http.StatusBadRequest, body: `{"error":{"code":400,"message":"model not found","status":"INVALID_ARGUMENT"}}`, wantErr: "model not found"},
		{name: "no candidates", status: http.StatusOK, body: `{"candidates":[]}`, wantErr: "no candidate text"},
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`, wantErr: "API key not valid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p, err := NewGeminiProvider("Gemini", "k", server.URL, testRequest)
			require.NoError(t, err)
			_, err = p.Complete(context.Background(), "x")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGeminiProvider_WithoutKey(t *testing.T) {
	p, err := NewGeminiProvider("Gemini", "", "", testRequest)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "x")
	assert.ErrorContains(t, err, "API key not set")
}

func TestOpenAIProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer kimi-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "test-model", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "hello", gjson.GetBytes(body, "messages.0.content").String())

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"kimi says hi"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("Kimi", "kimi-key", server.URL, testRequest)
	text, err := p.Complete(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, "kimi says hi", text)
	assert.Equal(t, "Kimi", p.Name())
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[]}`))
	}))
	defer server.Close()

	_, err := NewOpenAIProvider("Kimi", "k", server.URL, testRequest).Complete(context.Background(), "hello")
	assert.ErrorContains(t, err, "no response from Kimi")
}

func TestAnthropicProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "claude-key", r.Header.Get("X-Api-Key"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "test-model", gjson.GetBytes(body, "model").String())
		assert.Equal(t, int64(256), gjson.GetBytes(body, "max_tokens").Int())

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "test-model",
			"content": [{"type": "text", "text": "claude says hi"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider("Claude", "claude-key", server.URL, testRequest)
	text, err := p.Complete(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, "claude says hi", text)
}

func TestAnthropicProvider_ErrorIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
	}))
	defer server.Close()

	_, err := NewAnthropicProvider("Claude", "k", server.URL, testRequest).Complete(context.Background(), "hello")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
