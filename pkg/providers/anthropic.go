package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pidginlab/pidgin/pkg/httpclient"
	"github.com/pidginlab/pidgin/pkg/protocol"
)

const defaultAnthropicHost = "https://api.anthropic.com"

// anthropicProvider speaks the Anthropic Messages API over SSE.
type anthropicProvider struct {
	model     string
	apiKey    string
	host      string
	maxTokens int
	client    *http.Client

	lastUsage *protocol.Usage
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   *anthropicUsage    `json:"usage"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type     string `json:"type"` // "text" or "thinking"
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
	Error        *anthropicError    `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newAnthropic(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, NewError("anthropic", ErrAuthFailed, "API key is required")
	}
	host := cfg.BaseURL
	if host == "" {
		host = defaultAnthropicHost
	}
	return &anthropicProvider{
		model:     cfg.Model.ID,
		apiKey:    cfg.APIKey,
		host:      host,
		maxTokens: cfg.maxTokens(),
		client:    cfg.httpClient(),
	}, nil
}

func (p *anthropicProvider) ModelName() string { return p.model }

func (p *anthropicProvider) LastUsage() *protocol.Usage { return p.lastUsage }

func (p *anthropicProvider) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *anthropicProvider) buildRequest(req Request, stream bool) anthropicRequest {
	// Anthropic takes system prompts in a dedicated field.
	var system string
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == protocol.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
	}

	out := anthropicRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   p.maxTokensFor(req),
		Temperature: req.Temperature,
		Stream:      stream,
		System:      system,
	}
	if req.Thinking {
		budget := req.ThinkingBudget
		if budget <= 0 {
			budget = 1024
		}
		out.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		// Thinking requires temperature 1; the API rejects anything else.
		out.Temperature = nil
	}
	return out
}

func (p *anthropicProvider) maxTokensFor(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return p.maxTokens
}

func (p *anthropicProvider) newHTTPRequest(ctx context.Context, payload anthropicRequest) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError("anthropic", ErrBadRequest, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, WrapError("anthropic", ErrUnknown, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	return httpReq, nil
}

// Stream implements Provider.
func (p *anthropicProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, WrapError("anthropic", KindOf(err), err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		kind := ClassifyStatus(resp.StatusCode, string(body))
		perr := NewError("anthropic", kind, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncateBody(body)))
		perr.RetryAfter = httpclient.ParseAnthropicHeaders(resp.Header).RetryAfter
		return nil, perr
	}

	out := make(chan Chunk, 64)
	go func() {
		defer close(out)
		defer httpclient.DrainAndClose(resp.Body)
		p.readStream(resp.Body, out)
	}()
	return out, nil
}

func (p *anthropicProvider) readStream(body io.Reader, out chan<- Chunk) {
	scanner := httpclient.NewSSEScanner(body)
	var inputTokens, outputTokens int
	for {
		data, err := scanner.Next()
		if err == io.EOF {
			// Stream ended without message_stop: treat as an incomplete
			// chunked read and let the retry wrapper restart the call.
			out <- Chunk{Kind: ChunkError, Err: NewError("anthropic", ErrTransient, "stream ended prematurely")}
			return
		}
		if err != nil {
			out <- Chunk{Kind: ChunkError, Err: WrapError("anthropic", KindOf(err), err)}
			return
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			out <- Chunk{Kind: ChunkError, Err: WrapError("anthropic", ErrTransient, err)}
			return
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				inputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			if event.Delta.Text != "" {
				out <- Chunk{Kind: ChunkResponse, Content: event.Delta.Text}
			}
			if event.Delta.Thinking != "" {
				out <- Chunk{Kind: ChunkThinking, Content: event.Delta.Thinking}
			}
		case "message_delta":
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			kind := ErrTransient
			if event.Error != nil && event.Error.Type == "overloaded_error" {
				kind = ErrOverloaded
			}
			out <- Chunk{Kind: ChunkError, Err: NewError("anthropic", kind, msg)}
			return
		case "message_stop":
			usage := &protocol.Usage{
				PromptTokens:     inputTokens,
				CompletionTokens: outputTokens,
				TotalTokens:      inputTokens + outputTokens,
			}
			p.lastUsage = usage
			out <- Chunk{Kind: ChunkDone, Usage: usage}
			return
		}
	}
}

// Generate is the non-streaming fallback.
func (p *anthropicProvider) Generate(ctx context.Context, req Request) (string, *protocol.Usage, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildRequest(req, false))
	if err != nil {
		return "", nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", nil, WrapError("anthropic", KindOf(err), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		kind := ClassifyStatus(resp.StatusCode, string(body))
		perr := NewError("anthropic", kind, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncateBody(body)))
		perr.RetryAfter = httpclient.ParseAnthropicHeaders(resp.Header).RetryAfter
		return "", nil, perr
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, WrapError("anthropic", ErrTransient, err)
	}
	if parsed.Error != nil {
		return "", nil, NewError("anthropic", ErrUnknown, parsed.Error.Message)
	}

	var text string
	for _, content := range parsed.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}
	var usage *protocol.Usage
	if parsed.Usage != nil {
		usage = &protocol.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		}
		p.lastUsage = usage
	}
	return text, usage, nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

var _ BlockingProvider = (*anthropicProvider)(nil)
