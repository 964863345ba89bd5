// Package providers implements the streaming model backends.
//
// Every backend satisfies the same Provider contract: a finite, non
// restartable stream of chunks plus final token accounting. The conductor
// never branches on vendor identity; the factory keys construction on the
// static model registry.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pidginlab/pidgin/pkg/httpclient"
	"github.com/pidginlab/pidgin/pkg/models"
	"github.com/pidginlab/pidgin/pkg/protocol"
)

// ChunkKind discriminates streamed content.
type ChunkKind string

const (
	ChunkResponse ChunkKind = "response"
	ChunkThinking ChunkKind = "thinking"
	// ChunkDone terminates a stream; it may carry final usage.
	ChunkDone ChunkKind = "done"
	// ChunkError terminates a stream with a failure.
	ChunkError ChunkKind = "error"
)

// Chunk is one unit of streamed output.
type Chunk struct {
	Kind    ChunkKind
	Content string
	Usage   *protocol.Usage
	Err     error
}

// Request is one provider call.
type Request struct {
	Messages    []protocol.Message
	Temperature *float64
	Thinking    bool
	// ThinkingBudget is the token budget for extended thinking, when the
	// backend supports it.
	ThinkingBudget int
	MaxTokens      int
}

// Provider streams tokens from one model.
//
// Stream returns a channel that yields chunks until a terminal ChunkDone or
// ChunkError; the sequence is finite and not restartable. After a normal
// finish LastUsage returns the final accounting if the wire protocol
// supplied it. Cleanup releases held connections.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	LastUsage() *protocol.Usage
	ModelName() string
	Cleanup() error
}

// BlockingProvider is optionally implemented by backends with a
// non-streaming endpoint; the retry wrapper falls back to it when every
// streaming attempt failed.
type BlockingProvider interface {
	Provider
	Generate(ctx context.Context, req Request) (string, *protocol.Usage, error)
}

// Config parameterizes a concrete backend.
type Config struct {
	Model   *models.Model
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// MaxTokens caps the response length per call.
	MaxTokens int
}

func (c Config) httpClient() *http.Client {
	return httpclient.New(c.Timeout)
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 4096
}

// New constructs the backend for a resolved model. Credentials are read
// from the vendor's environment variable unless cfg.APIKey is set.
func New(cfg Config) (Provider, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("provider config requires a model")
	}
	if cfg.APIKey == "" {
		if envVar := cfg.Model.Vendor.CredentialEnvVar(); envVar != "" {
			cfg.APIKey = os.Getenv(envVar)
		}
	}
	switch cfg.Model.Vendor {
	case models.VendorAnthropic:
		return newAnthropic(cfg)
	case models.VendorOpenAI:
		return newOpenAI(cfg)
	case models.VendorGoogle:
		return newGoogle(cfg)
	case models.VendorXAI:
		return newXAI(cfg)
	case models.VendorLocal:
		return newLocal(cfg)
	case models.VendorTest:
		return NewTestProvider(cfg.Model.ID), nil
	case models.VendorSilent:
		return NewSilentProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported vendor: %s", cfg.Model.Vendor)
	}
}
