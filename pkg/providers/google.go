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

const defaultGoogleHost = "https://generativelanguage.googleapis.com"

// googleProvider speaks the Gemini generateContent API. Streaming uses
// :streamGenerateContent with alt=sse.
type googleProvider struct {
	model     string
	apiKey    string
	host      string
	maxTokens int
	client    *http.Client

	lastUsage *protocol.Usage
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *geminiAPIError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func newGoogle(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, NewError("google", ErrAuthFailed, "API key is required")
	}
	host := cfg.BaseURL
	if host == "" {
		host = defaultGoogleHost
	}
	return &googleProvider{
		model:     cfg.Model.ID,
		apiKey:    cfg.APIKey,
		host:      host,
		maxTokens: cfg.maxTokens(),
		client:    cfg.httpClient(),
	}, nil
}

func (p *googleProvider) ModelName() string { return p.model }

func (p *googleProvider) LastUsage() *protocol.Usage { return p.lastUsage }

func (p *googleProvider) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *googleProvider) buildRequest(req Request) geminiRequest {
	// Gemini takes system prompts as a systemInstruction and uses
	// "model" instead of "assistant".
	var system *geminiContent
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case protocol.RoleSystem:
			if system == nil {
				system = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
			} else {
				system.Parts = append(system.Parts, geminiPart{Text: msg.Content})
			}
		case protocol.RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	return geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
}

func (p *googleProvider) newHTTPRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	payload, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, WrapError("google", ErrBadRequest, err)
	}
	verb := "generateContent"
	query := ""
	if stream {
		verb = "streamGenerateContent"
		query = "?alt=sse"
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:%s%s", p.host, p.model, verb, query)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, WrapError("google", ErrUnknown, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)
	return httpReq, nil
}

// Stream implements Provider.
func (p *googleProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	httpReq, err := p.newHTTPRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, WrapError("google", KindOf(err), err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		kind := ClassifyStatus(resp.StatusCode, string(body))
		perr := NewError("google", kind, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncateBody(body)))
		perr.RetryAfter = httpclient.ParseRetryAfter(resp.Header).RetryAfter
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

func (p *googleProvider) readStream(body io.Reader, out chan<- Chunk) {
	scanner := httpclient.NewSSEScanner(body)
	var usage *protocol.Usage
	for {
		data, err := scanner.Next()
		if err == io.EOF {
			// Gemini has no explicit terminator; EOF after at least one
			// event is a normal finish.
			p.lastUsage = usage
			out <- Chunk{Kind: ChunkDone, Usage: usage}
			return
		}
		if err != nil {
			out <- Chunk{Kind: ChunkError, Err: WrapError("google", KindOf(err), err)}
			return
		}

		var event geminiResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			out <- Chunk{Kind: ChunkError, Err: WrapError("google", ErrTransient, err)}
			return
		}
		if event.Error != nil {
			kind := ClassifyStatus(event.Error.Code, event.Error.Message)
			out <- Chunk{Kind: ChunkError, Err: NewError("google", kind, event.Error.Message)}
			return
		}
		if event.UsageMetadata != nil {
			usage = &protocol.Usage{
				PromptTokens:     event.UsageMetadata.PromptTokenCount,
				CompletionTokens: event.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      event.UsageMetadata.TotalTokenCount,
			}
		}
		for _, candidate := range event.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					out <- Chunk{Kind: ChunkResponse, Content: part.Text}
				}
			}
		}
	}
}

// Generate is the non-streaming fallback.
func (p *googleProvider) Generate(ctx context.Context, req Request) (string, *protocol.Usage, error) {
	httpReq, err := p.newHTTPRequest(ctx, req, false)
	if err != nil {
		return "", nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", nil, WrapError("google", KindOf(err), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		kind := ClassifyStatus(resp.StatusCode, string(body))
		return "", nil, NewError("google", kind, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncateBody(body)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, WrapError("google", ErrTransient, err)
	}
	if parsed.Error != nil {
		kind := ClassifyStatus(parsed.Error.Code, parsed.Error.Message)
		return "", nil, NewError("google", kind, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || parsed.Candidates[0].Content == nil {
		return "", nil, NewError("google", ErrUnknown, "response contained no candidates")
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}
	var usage *protocol.Usage
	if parsed.UsageMetadata != nil {
		usage = &protocol.Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		}
		p.lastUsage = usage
	}
	return text, usage, nil
}

var _ BlockingProvider = (*googleProvider)(nil)
