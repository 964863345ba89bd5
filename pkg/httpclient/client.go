// Package httpclient is the shared HTTP transport for the streaming
// providers: a plain client factory, vendor rate-limit header parsing, and
// SSE / NDJSON scanning helpers.
//
// Call-level retry lives in pkg/providers; this package only classifies
// transport responses and exposes the raw connection.
package httpclient

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single provider call end to end, including the
// full streaming read.
const DefaultTimeout = 120 * time.Second

// New returns an http.Client suitable for streaming provider calls.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// RateLimitInfo carries retry pacing hints parsed from response headers.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// SSEScanner reads a text/event-stream body line by line and yields the
// payload of each "data:" line. Comment lines and empty keep-alives are
// skipped.
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner wraps a streaming response body.
func NewSSEScanner(body io.Reader) *SSEScanner {
	sc := bufio.NewScanner(body)
	// Provider chunks occasionally exceed bufio's 64K default.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEScanner{scanner: sc}
}

// Next returns the next data payload, or io.EOF when the stream ends.
func (s *SSEScanner) Next() (string, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return data, nil
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			return data, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// LineScanner reads newline-delimited JSON bodies (the local backend's
// streaming format).
type LineScanner struct {
	scanner *bufio.Scanner
}

// NewLineScanner wraps a streaming NDJSON body.
func NewLineScanner(body io.Reader) *LineScanner {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LineScanner{scanner: sc}
}

// Next returns the next non-empty line, or io.EOF when the stream ends.
func (s *LineScanner) Next() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		return line, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// DrainAndClose discards any unread body and closes it so the underlying
// connection can be reused.
func DrainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}
