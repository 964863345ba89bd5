package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{429, `{"error":{"type":"rate_limit_error"}}`, ErrRateLimited},
		{429, `{"error":{"type":"insufficient_quota","message":"quota exceeded"}}`, ErrQuotaExhausted},
		{401, "", ErrAuthFailed},
		{403, "", ErrAuthFailed},
		{402, "", ErrQuotaExhausted},
		{404, "", ErrModelNotFound},
		{408, "", ErrTimeout},
		{504, "", ErrTimeout},
		{413, "", ErrContextLimit},
		{400, `{"error":{"message":"prompt is too long: 250000 tokens"}}`, ErrContextLimit},
		{400, `{"error":{"message":"maximum context length is 128000"}}`, ErrContextLimit},
		{400, `{"error":{"message":"model gpt-9 does not exist"}}`, ErrModelNotFound},
		{400, `{"error":{"message":"invalid temperature"}}`, ErrBadRequest},
		{503, "", ErrOverloaded},
		{529, "", ErrOverloaded},
		{500, "", ErrTransient},
		{502, "", ErrTransient},
		{418, "", ErrUnknown},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_%s", tc.status, tc.want), func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyStatus(tc.status, tc.body))
		})
	}
}

func TestRetryableKinds(t *testing.T) {
	retryable := []ErrorKind{ErrRateLimited, ErrOverloaded, ErrTimeout, ErrTransient}
	fatal := []ErrorKind{ErrAuthFailed, ErrQuotaExhausted, ErrModelNotFound, ErrBadRequest, ErrContextLimit, ErrUnknown}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), "%s", k)
	}
	for _, k := range fatal {
		assert.False(t, k.Retryable(), "%s", k)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, ErrRateLimited, KindOf(NewError("anthropic", ErrRateLimited, "slow down")))
	assert.Equal(t, ErrTimeout, KindOf(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, ErrUnknown, KindOf(errors.New("mystery")))

	// Classification survives wrapping.
	wrapped := fmt.Errorf("outer: %w", WrapError("openai", ErrOverloaded, errors.New("inner")))
	assert.Equal(t, ErrOverloaded, KindOf(wrapped))
	assert.True(t, Retryable(wrapped))
}

func TestErrorMessage(t *testing.T) {
	err := NewError("anthropic", ErrRateLimited, "slow down")
	assert.Equal(t, "anthropic: rate_limited: slow down", err.Error())

	wrapped := WrapError("openai", ErrTransient, errors.New("connection reset"))
	assert.Contains(t, wrapped.Error(), "connection reset")
	assert.Equal(t, "connection reset", errors.Unwrap(wrapped).Error())
}
