package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pidginlab/pidgin/pkg/protocol"
)

// TestProvider is the deterministic in-process backend used for offline
// runs and tests ("local:test"). Responses are a function of the incoming
// message count, so a conversation between two test providers is fully
// reproducible.
type TestProvider struct {
	model string

	mu        sync.Mutex
	calls     int
	lastUsage *protocol.Usage

	// Script, when set, overrides the generated responses: call n returns
	// Script[n % len(Script)].
	Script []string

	// FailWith, when set, makes every call fail with this error.
	FailWith error

	// FailFirst makes the first n calls fail with a retryable error before
	// succeeding, to exercise the retry wrapper.
	FailFirst int
}

// NewTestProvider returns a deterministic provider.
func NewTestProvider(model string) *TestProvider {
	return &TestProvider{model: model}
}

func (p *TestProvider) ModelName() string { return p.model }

func (p *TestProvider) LastUsage() *protocol.Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsage
}

func (p *TestProvider) Cleanup() error { return nil }

// Calls reports how many Stream calls completed or failed.
func (p *TestProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Stream implements Provider.
func (p *TestProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++

	if p.FailWith != nil {
		p.mu.Unlock()
		return nil, p.FailWith
	}
	if call < p.FailFirst {
		p.mu.Unlock()
		return nil, NewError("test", ErrTransient, "scripted transient failure")
	}

	var response string
	if len(p.Script) > 0 {
		response = p.Script[call%len(p.Script)]
	} else {
		response = p.generate(req)
	}

	words := strings.Fields(response)
	usage := &protocol.Usage{
		PromptTokens:     countWords(req.Messages),
		CompletionTokens: len(words),
		TotalTokens:      countWords(req.Messages) + len(words),
	}
	p.lastUsage = usage
	p.mu.Unlock()

	out := make(chan Chunk, len(words)+2)
	go func() {
		defer close(out)
		// One chunk per word keeps the streaming path honest in tests.
		for i, word := range words {
			if ctx.Err() != nil {
				out <- Chunk{Kind: ChunkError, Err: ctx.Err()}
				return
			}
			if i > 0 {
				out <- Chunk{Kind: ChunkResponse, Content: " "}
			}
			out <- Chunk{Kind: ChunkResponse, Content: word}
		}
		out <- Chunk{Kind: ChunkDone, Usage: usage}
	}()
	return out, nil
}

func (p *TestProvider) generate(req Request) string {
	// Deterministic function of the visible history length.
	var lastUser string
	nonSystem := 0
	for _, msg := range req.Messages {
		if msg.Role == protocol.RoleSystem {
			continue
		}
		nonSystem++
		if msg.Role == protocol.RoleUser {
			lastUser = msg.Content
		}
	}
	snippet := lastUser
	if len(snippet) > 32 {
		snippet = snippet[:32]
	}
	return fmt.Sprintf("Reply %d to: %s", nonSystem, snippet)
}

func countWords(messages []protocol.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(strings.Fields(msg.Content))
	}
	return total
}

// SilentProvider returns exactly one empty chunk per call; it backs
// meditation mode where one side of the conversation is mute.
type SilentProvider struct{}

// NewSilentProvider returns the silent backend.
func NewSilentProvider() *SilentProvider { return &SilentProvider{} }

func (p *SilentProvider) ModelName() string { return "silent" }

func (p *SilentProvider) LastUsage() *protocol.Usage { return nil }

func (p *SilentProvider) Cleanup() error { return nil }

// Stream implements Provider.
func (p *SilentProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk, 2)
	out <- Chunk{Kind: ChunkResponse, Content: ""}
	out <- Chunk{Kind: ChunkDone}
	close(out)
	return out, nil
}

var (
	_ Provider = (*TestProvider)(nil)
	_ Provider = (*SilentProvider)(nil)
)
