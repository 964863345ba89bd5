package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pidginlab/pidgin/pkg/models"
	"github.com/pidginlab/pidgin/pkg/protocol"
)

func anthropicTestConfig(t *testing.T, url string) Config {
	t.Helper()
	model, err := models.Resolve("claude-sonnet-4-20250514")
	require.NoError(t, err)
	return Config{Model: model, APIKey: "test-key", BaseURL: url, Timeout: 5 * time.Second}
}

func collectAll(t *testing.T, p Provider, req Request) (string, string, *protocol.Usage) {
	t.Helper()
	stream, err := p.Stream(context.Background(), req)
	require.NoError(t, err)

	var content, thinking string
	var usage *protocol.Usage
	for chunk := range stream {
		switch chunk.Kind {
		case ChunkResponse:
			content += chunk.Content
		case ChunkThinking:
			thinking += chunk.Content
		case ChunkDone:
			usage = chunk.Usage
		case ChunkError:
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
	}
	return content, thinking, usage
}

func TestAnthropicStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "You are helpful.", req.System, "system prompts go in the dedicated field")
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `event: message_start
data: {"type":"message_start","message":{"usage":{"input_tokens":12}}}

event: content_block_delta
data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}

event: content_block_delta
data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" world"}}

event: message_delta
data: {"type":"message_delta","usage":{"output_tokens":7}}

event: message_stop
data: {"type":"message_stop"}

`)
	}))
	defer server.Close()

	p, err := newAnthropic(anthropicTestConfig(t, server.URL))
	require.NoError(t, err)

	content, thinking, usage := collectAll(t, p, Request{Messages: []protocol.Message{
		{Role: protocol.RoleSystem, Content: "You are helpful."},
		{Role: protocol.RoleUser, Content: "Hi"},
	}})

	assert.Equal(t, "Hello world", content)
	assert.Empty(t, thinking)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.PromptTokens)
	assert.Equal(t, 7, usage.CompletionTokens)
	assert.Equal(t, 19, usage.TotalTokens)
	assert.Equal(t, usage, p.LastUsage())
}

func TestAnthropicStreamThinking(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Thinking)
		assert.Equal(t, "enabled", req.Thinking.Type)
		assert.Equal(t, 2048, req.Thinking.BudgetTokens)
		assert.Nil(t, req.Temperature, "thinking forces the default temperature")

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"pondering"}}

data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Answer"}}

data: {"type":"message_stop"}

`)
	}))
	defer server.Close()

	p, err := newAnthropic(anthropicTestConfig(t, server.URL))
	require.NoError(t, err)

	temp := 0.7
	content, thinking, _ := collectAll(t, p, Request{
		Messages:       []protocol.Message{{Role: protocol.RoleUser, Content: "Hi"}},
		Temperature:    &temp,
		Thinking:       true,
		ThinkingBudget: 2048,
	})
	assert.Equal(t, "Answer", content)
	assert.Equal(t, "pondering", thinking)
}

func TestAnthropicRateLimitCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("retry-after", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer server.Close()

	p, err := newAnthropic(anthropicTestConfig(t, server.URL))
	require.NoError(t, err)

	_, err = p.Stream(context.Background(), Request{Messages: []protocol.Message{
		{Role: protocol.RoleUser, Content: "Hi"},
	}})
	require.Error(t, err)
	assert.Equal(t, ErrRateLimited, KindOf(err))
	assert.True(t, Retryable(err))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3*time.Second, perr.RetryAfter)
}

func TestAnthropicPrematureEOFIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Content but no message_stop.
		fmt.Fprint(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}

`)
	}))
	defer server.Close()

	p, err := newAnthropic(anthropicTestConfig(t, server.URL))
	require.NoError(t, err)

	stream, err := p.Stream(context.Background(), Request{Messages: []protocol.Message{
		{Role: protocol.RoleUser, Content: "Hi"},
	}})
	require.NoError(t, err)

	var streamErr error
	for chunk := range stream {
		if chunk.Kind == ChunkError {
			streamErr = chunk.Err
		}
	}
	require.Error(t, streamErr)
	assert.Equal(t, ErrTransient, KindOf(streamErr))
}

func TestAnthropicGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		fmt.Fprint(w, `{"content":[{"type":"text","text":"blocking answer"}],"usage":{"input_tokens":4,"output_tokens":2}}`)
	}))
	defer server.Close()

	p, err := newAnthropic(anthropicTestConfig(t, server.URL))
	require.NoError(t, err)

	blocking, ok := p.(BlockingProvider)
	require.True(t, ok)
	content, usage, err := blocking.Generate(context.Background(), Request{Messages: []protocol.Message{
		{Role: protocol.RoleUser, Content: "Hi"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "blocking answer", content)
	require.NotNil(t, usage)
	assert.Equal(t, 6, usage.TotalTokens)
}

func TestAnthropicRequiresAPIKey(t *testing.T) {
	cfg := anthropicTestConfig(t, "http://localhost")
	cfg.APIKey = ""
	_, err := newAnthropic(cfg)
	require.Error(t, err)
	assert.Equal(t, ErrAuthFailed, KindOf(err))
}
