package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"too many requests", 429, `{"error":{"message":"slow down"}}`, KindRateLimited},
		{"gemini quota", 429, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, KindRateLimited},
		{"unauthorized", 401, `{"error":"invalid x-api-key"}`, KindAuthInvalid},
		{"forbidden", 403, ``, KindAuthInvalid},
		{"gemini bad key on 400", 400, `{"error":{"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT","details":[{"reason":"API_KEY_INVALID"}]}}`, KindAuthInvalid},
		{"groq token quota on 413", 413, `{"error":{"code":"rate_limit_exceeded"}}`, KindRateLimited},
		{"server error", 500, `internal`, KindTransient},
		{"overloaded", 529, `{"type":"overloaded_error"}`, KindTransient},
		{"request timeout", 408, ``, KindTransient},
		{"bad request", 400, `{"error":{"message":"messages: roles must alternate"}}`, KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.status, tt.body))
		})
	}
}

func TestClassifyStatus_Idempotent(t *testing.T) {
	payloads := []struct {
		status int
		body   string
	}{
		{429, `{"error":"rate limited"}`},
		{400, `{"error":{"details":[{"reason":"API_KEY_INVALID"}]}}`},
		{502, `bad gateway`},
		{422, `{"detail":"unprocessable"}`},
	}

	for _, p := range payloads {
		first := ClassifyStatus(p.status, p.body)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, ClassifyStatus(p.status, p.body))
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified error", &Error{Provider: "groq", Kind: KindAuthInvalid, Err: errors.New("bad key")}, KindAuthInvalid},
		{"wrapped classified error", fmt.Errorf("call: %w", &Error{Kind: KindRateLimited}), KindRateLimited},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"net timeout", timeoutErr{}, KindTransient},
		{"json syntax", syntaxErr, KindMalformed},
		{"unknown", errors.New("weird"), KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPoolExhaustedError(t *testing.T) {
	err := &PoolExhaustedError{
		Attempts: 3,
		Failures: []Failure{
			{Provider: "gemini", Kind: KindRateLimited},
			{Provider: "groq", Kind: KindAuthInvalid},
		},
	}

	require.True(t, errors.Is(err, ErrPoolExhausted))
	assert.Contains(t, err.Error(), "gemini=rate_limited")
	assert.Contains(t, err.Error(), "groq=auth_invalid")

	kind, ok := err.LastKind("groq")
	require.True(t, ok)
	assert.Equal(t, KindAuthInvalid, kind)

	_, ok = err.LastKind("claude")
	assert.False(t, ok)
}
