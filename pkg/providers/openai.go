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

const (
	defaultOpenAIHost = "https://api.openai.com"
	defaultXAIHost    = "https://api.x.ai"
)

// chatProvider speaks the OpenAI chat completions wire format over SSE.
// xAI serves the same protocol, so both vendors share this implementation.
type chatProvider struct {
	name      string
	model     string
	apiKey    string
	host      string
	maxTokens int
	client    *http.Client

	lastUsage *protocol.Usage
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_completion_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice  `json:"choices"`
	Usage   *chatUsage    `json:"usage"`
	Error   *chatAPIError `json:"error,omitempty"`
}

type chatChoice struct {
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatDelta   `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatDelta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func newOpenAI(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, NewError("openai", ErrAuthFailed, "API key is required")
	}
	host := cfg.BaseURL
	if host == "" {
		host = defaultOpenAIHost
	}
	return &chatProvider{
		name:      "openai",
		model:     cfg.Model.ID,
		apiKey:    cfg.APIKey,
		host:      host,
		maxTokens: cfg.maxTokens(),
		client:    cfg.httpClient(),
	}, nil
}

func newXAI(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, NewError("xai", ErrAuthFailed, "API key is required")
	}
	host := cfg.BaseURL
	if host == "" {
		host = defaultXAIHost
	}
	return &chatProvider{
		name:      "xai",
		model:     cfg.Model.ID,
		apiKey:    cfg.APIKey,
		host:      host,
		maxTokens: cfg.maxTokens(),
		client:    cfg.httpClient(),
	}, nil
}

func (p *chatProvider) ModelName() string { return p.model }

func (p *chatProvider) LastUsage() *protocol.Usage { return p.lastUsage }

func (p *chatProvider) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *chatProvider) buildRequest(req Request, stream bool) chatRequest {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	out := chatRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   p.maxTokens,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return out
}

func (p *chatProvider) newHTTPRequest(ctx context.Context, payload chatRequest) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(p.name, ErrBadRequest, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(p.name, ErrUnknown, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	return httpReq, nil
}

// Stream implements Provider.
func (p *chatProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, WrapError(p.name, KindOf(err), err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		kind := ClassifyStatus(resp.StatusCode, string(body))
		perr := NewError(p.name, kind, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncateBody(body)))
		perr.RetryAfter = httpclient.ParseOpenAIHeaders(resp.Header).RetryAfter
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

func (p *chatProvider) readStream(body io.Reader, out chan<- Chunk) {
	scanner := httpclient.NewSSEScanner(body)
	var usage *protocol.Usage
	finished := false
	for {
		data, err := scanner.Next()
		if err == io.EOF {
			if !finished {
				out <- Chunk{Kind: ChunkError, Err: NewError(p.name, ErrTransient, "stream ended prematurely")}
				return
			}
			p.lastUsage = usage
			out <- Chunk{Kind: ChunkDone, Usage: usage}
			return
		}
		if err != nil {
			out <- Chunk{Kind: ChunkError, Err: WrapError(p.name, KindOf(err), err)}
			return
		}
		if data == "[DONE]" {
			p.lastUsage = usage
			out <- Chunk{Kind: ChunkDone, Usage: usage}
			return
		}

		var event chatResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			out <- Chunk{Kind: ChunkError, Err: WrapError(p.name, ErrTransient, err)}
			return
		}
		if event.Error != nil {
			out <- Chunk{Kind: ChunkError, Err: NewError(p.name, ErrTransient, event.Error.Message)}
			return
		}
		if event.Usage != nil {
			usage = &protocol.Usage{
				PromptTokens:     event.Usage.PromptTokens,
				CompletionTokens: event.Usage.CompletionTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}
		}
		for _, choice := range event.Choices {
			if choice.Delta != nil {
				if choice.Delta.ReasoningContent != "" {
					out <- Chunk{Kind: ChunkThinking, Content: choice.Delta.ReasoningContent}
				}
				if choice.Delta.Content != "" {
					out <- Chunk{Kind: ChunkResponse, Content: choice.Delta.Content}
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finished = true
			}
		}
	}
}

// Generate is the non-streaming fallback.
func (p *chatProvider) Generate(ctx context.Context, req Request) (string, *protocol.Usage, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildRequest(req, false))
	if err != nil {
		return "", nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", nil, WrapError(p.name, KindOf(err), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		kind := ClassifyStatus(resp.StatusCode, string(body))
		perr := NewError(p.name, kind, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncateBody(body)))
		perr.RetryAfter = httpclient.ParseOpenAIHeaders(resp.Header).RetryAfter
		return "", nil, perr
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, WrapError(p.name, ErrTransient, err)
	}
	if parsed.Error != nil {
		return "", nil, NewError(p.name, ErrUnknown, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return "", nil, NewError(p.name, ErrUnknown, "response contained no choices")
	}

	var usage *protocol.Usage
	if parsed.Usage != nil {
		usage = &protocol.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
		p.lastUsage = usage
	}
	return parsed.Choices[0].Message.Content, usage, nil
}

var _ BlockingProvider = (*chatProvider)(nil)
