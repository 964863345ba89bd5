package httpclient

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, New(0).Timeout)
	assert.Equal(t, 5*time.Second, New(5*time.Second).Timeout)
}

func TestSSEScanner(t *testing.T) {
	body := strings.NewReader(`: keep-alive comment
event: message_start
data: {"type":"message_start"}

data: {"type":"content_block_delta"}

data:{"no_space":true}

`)
	sc := NewSSEScanner(body)

	first, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"message_start"}`, first)

	second, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"content_block_delta"}`, second)

	third, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"no_space":true}`, third, "data: without a trailing space still parses")

	_, err = sc.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSSEScannerLargeLine(t *testing.T) {
	// Well past bufio's 64K default.
	payload := strings.Repeat("x", 200*1024)
	sc := NewSSEScanner(strings.NewReader("data: " + payload + "\n\n"))
	got, err := sc.Next()
	require.NoError(t, err)
	assert.Len(t, got, len(payload))
}

func TestLineScanner(t *testing.T) {
	sc := NewLineScanner(strings.NewReader("\n{\"a\":1}\n   \n{\"b\":2}\n"))

	first, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, first)

	second, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, second)

	_, err = sc.Next()
	assert.Equal(t, io.EOF, err)
}

func TestParseAnthropicHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("retry-after", "7")
	h.Set("anthropic-ratelimit-requests-remaining", "41")
	h.Set("anthropic-ratelimit-input-tokens-remaining", "9000")
	h.Set("anthropic-ratelimit-requests-reset", "2026-08-24T10:00:00Z")

	info := ParseAnthropicHeaders(h)
	assert.Equal(t, 7*time.Second, info.RetryAfter)
	assert.Equal(t, 41, info.RequestsRemaining)
	assert.Equal(t, 9000, info.TokensRemaining)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC).Unix(), info.ResetTime)
}

func TestParseOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "2")
	h.Set("x-ratelimit-remaining-requests", "99")
	h.Set("x-ratelimit-remaining-tokens", "150000")

	info := ParseOpenAIHeaders(h)
	assert.Equal(t, 2*time.Second, info.RetryAfter)
	assert.Equal(t, 99, info.RequestsRemaining)
	assert.Equal(t, 150000, info.TokensRemaining)
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, ParseRetryAfter(h).RetryAfter)

	h.Set("Retry-After", "11")
	assert.Equal(t, 11*time.Second, ParseRetryAfter(h).RetryAfter)

	h.Set("Retry-After", "not-a-number")
	assert.Zero(t, ParseRetryAfter(h).RetryAfter)
}
