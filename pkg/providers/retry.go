package providers

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/pidginlab/pidgin/pkg/protocol"
)

// RetryPolicy drives the backoff wrapper around every provider call.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      bool
}

// DefaultRetryPolicy is exponential backoff with base 1s, cap 60s and
// jitter, three attempts per call.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 3,
		Jitter:      true,
	}
}

// Delay computes the sleep before the given retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	if p.Jitter {
		// Uniform jitter with half-width 0.5 * delay.
		half := float64(delay) * 0.5
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*half)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Completion is one fully aggregated provider response.
type Completion struct {
	Content  string
	Thinking string
	Usage    *protocol.Usage
}

// RetryNotice describes an imminent retry so callers can surface pacing.
type RetryNotice struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// CollectOptions configures Collect.
type CollectOptions struct {
	Policy RetryPolicy
	// OnChunk observes every response/thinking chunk as it streams in.
	// Chunks observed during an attempt that later fails are superseded;
	// the consumer must treat them as provisional.
	OnChunk func(Chunk)
	// OnRetry fires before each backoff sleep.
	OnRetry func(RetryNotice)
}

// Collect runs one provider call under the retry policy and aggregates the
// stream into a Completion. Retryable mid-stream failures restart the whole
// call from scratch, discarding any partial buffer. If every streaming
// attempt fails retryably and the backend offers a non-streaming fallback,
// that is invoked once before giving up.
func Collect(ctx context.Context, p Provider, req Request, opts CollectOptions) (*Completion, error) {
	policy := opts.Policy
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		completion, err := collectOnce(ctx, p, req, opts.OnChunk)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !Retryable(err) || attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		// Server-suggested pacing wins over computed backoff.
		var perr *Error
		if errors.As(err, &perr) && perr.RetryAfter > 0 && perr.RetryAfter <= policy.MaxDelay {
			delay = perr.RetryAfter
		}
		if opts.OnRetry != nil {
			opts.OnRetry(RetryNotice{Attempt: attempt, Delay: delay, Err: err})
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	if Retryable(lastErr) {
		if blocking, ok := p.(BlockingProvider); ok {
			content, usage, err := blocking.Generate(ctx, req)
			if err == nil {
				return &Completion{Content: content, Usage: usage}, nil
			}
			lastErr = err
		}
	}

	return nil, lastErr
}

func collectOnce(ctx context.Context, p Provider, req Request, onChunk func(Chunk)) (*Completion, error) {
	stream, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var content, thinking strings.Builder
	var usage *protocol.Usage
	for chunk := range stream {
		switch chunk.Kind {
		case ChunkResponse:
			content.WriteString(chunk.Content)
			if onChunk != nil {
				onChunk(chunk)
			}
		case ChunkThinking:
			thinking.WriteString(chunk.Content)
			if onChunk != nil {
				onChunk(chunk)
			}
		case ChunkDone:
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
		case ChunkError:
			return nil, chunk.Err
		}
	}
	if usage == nil {
		usage = p.LastUsage()
	}

	return &Completion{
		Content:  content.String(),
		Thinking: thinking.String(),
		Usage:    usage,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
