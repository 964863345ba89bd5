package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pidginlab/pidgin/pkg/httpclient"
	"github.com/pidginlab/pidgin/pkg/protocol"
)

const defaultLocalHost = "http://localhost:11434"

// localProvider speaks the ollama-style /api/chat NDJSON protocol, used for
// locally served models ("local:<name>"). No credentials required.
type localProvider struct {
	model  string
	host   string
	client *http.Client

	lastUsage *protocol.Usage
}

type localChatRequest struct {
	Model    string            `json:"model"`
	Messages []chatMessage     `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  *localChatOptions `json:"options,omitempty"`
}

type localChatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type localChatResponse struct {
	Message         *chatMessage `json:"message,omitempty"`
	Done            bool         `json:"done"`
	PromptEvalCount int          `json:"prompt_eval_count,omitempty"`
	EvalCount       int          `json:"eval_count,omitempty"`
	Error           string       `json:"error,omitempty"`
}

func newLocal(cfg Config) (Provider, error) {
	host := cfg.BaseURL
	if host == "" {
		host = defaultLocalHost
	}
	// "local:llama3" targets the model named llama3 on the local backend.
	model := strings.TrimPrefix(cfg.Model.ID, "local:")
	return &localProvider{
		model:  model,
		host:   host,
		client: cfg.httpClient(),
	}, nil
}

func (p *localProvider) ModelName() string { return p.model }

func (p *localProvider) LastUsage() *protocol.Usage { return p.lastUsage }

func (p *localProvider) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *localProvider) newHTTPRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	payload := localChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   stream,
		Options:  &localChatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError("local", ErrBadRequest, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, WrapError("local", ErrUnknown, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// Stream implements Provider.
func (p *localProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	httpReq, err := p.newHTTPRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, WrapError("local", KindOf(err), err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		kind := ClassifyStatus(resp.StatusCode, string(body))
		return nil, NewError("local", kind, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncateBody(body)))
	}

	out := make(chan Chunk, 64)
	go func() {
		defer close(out)
		defer httpclient.DrainAndClose(resp.Body)
		p.readStream(resp.Body, out)
	}()
	return out, nil
}

func (p *localProvider) readStream(body io.Reader, out chan<- Chunk) {
	scanner := httpclient.NewLineScanner(body)
	for {
		line, err := scanner.Next()
		if err == io.EOF {
			out <- Chunk{Kind: ChunkError, Err: NewError("local", ErrTransient, "stream ended prematurely")}
			return
		}
		if err != nil {
			out <- Chunk{Kind: ChunkError, Err: WrapError("local", KindOf(err), err)}
			return
		}

		var event localChatResponse
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			out <- Chunk{Kind: ChunkError, Err: WrapError("local", ErrTransient, err)}
			return
		}
		if event.Error != "" {
			out <- Chunk{Kind: ChunkError, Err: NewError("local", ErrTransient, event.Error)}
			return
		}
		if event.Message != nil && event.Message.Content != "" {
			out <- Chunk{Kind: ChunkResponse, Content: event.Message.Content}
		}
		if event.Done {
			usage := &protocol.Usage{
				PromptTokens:     event.PromptEvalCount,
				CompletionTokens: event.EvalCount,
				TotalTokens:      event.PromptEvalCount + event.EvalCount,
			}
			p.lastUsage = usage
			out <- Chunk{Kind: ChunkDone, Usage: usage}
			return
		}
	}
}
