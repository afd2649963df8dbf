package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Kind is the normalized class of a provider failure. The pool's retry
// policy keys off it.
type Kind int

const (
	// KindMalformed means the response could not be parsed. Not retried on the same key.
	KindMalformed Kind = iota
	// KindRateLimited means HTTP 429 or a backend quota signal.
	KindRateLimited
	// KindAuthInvalid means the key was rejected.
	KindAuthInvalid
	// KindTransient means timeout, 5xx or a broken connection. Retryable.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindTransient:
		return "transient"
	default:
		return "malformed"
	}
}

var (
	// ErrPoolExhausted is matched by every *PoolExhaustedError.
	ErrPoolExhausted = errors.New("all providers exhausted")
	// ErrNoProviders is returned when no configured provider has a key.
	ErrNoProviders = errors.New("no provider with api keys configured")
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Error is a classified adapter failure.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Failure records the last error seen for one provider during a dispatch.
type Failure struct {
	Provider string
	Kind     Kind
	Err      error
}

// PoolExhaustedError is returned by Dispatch when every key of every
// provider in the try order failed.
type PoolExhaustedError struct {
	Attempts int
	Failures []Failure
}

func (e *PoolExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Provider, f.Kind))
	}
	return fmt.Sprintf("%s after %d attempts (%s)", ErrPoolExhausted, e.Attempts, strings.Join(parts, ", "))
}

func (e *PoolExhaustedError) Is(target error) bool {
	return target == ErrPoolExhausted
}

// LastKind returns the last error kind recorded for a provider.
func (e *PoolExhaustedError) LastKind(provider string) (Kind, bool) {
	for _, f := range e.Failures {
		if f.Provider == provider {
			return f.Kind, true
		}
	}
	return KindMalformed, false
}

var (
	rateLimitMarkers = []string{"resource_exhausted", "rate_limit", "rate limit", "quota", "too many requests"}
	authMarkers      = []string{"api_key_invalid", "api key not valid", "invalid api key", "invalid_api_key", "permission_denied"}
)

// ClassifyStatus maps an HTTP status and error body to a Kind. Body markers
// take precedence so that backends reporting quota or key problems with a
// 400 are still classified correctly.
func ClassifyStatus(status int, body string) Kind {
	lower := strings.ToLower(body)
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuthInvalid
	case status == 408 || status == 409 || status >= 500:
		return KindTransient
	}

	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return KindAuthInvalid
		}
	}
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return KindRateLimited
		}
	}
	return KindMalformed
}

// Classify maps any error returned from a backend call to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindMalformed
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return ClassifyStatus(anthropicErr.StatusCode, anthropicErr.Error())
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return ClassifyStatus(openaiErr.StatusCode, openaiErr.Error())
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindMalformed
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindMalformed
}

// classified wraps err into an *Error for the given provider.
func classified(provider string, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}

	status := 0
	var anthropicErr *anthropic.Error
	var openaiErr *openai.Error
	if errors.As(err, &anthropicErr) {
		status = anthropicErr.StatusCode
	} else if errors.As(err, &openaiErr) {
		status = openaiErr.StatusCode
	}

	return &Error{
		Provider:   provider,
		Kind:       Classify(err),
		StatusCode: status,
		Err:        err,
	}
}

func malformed(provider string, format string, args ...interface{}) error {
	return &Error{
		Provider: provider,
		Kind:     KindMalformed,
		Err:      fmt.Errorf(format, args...),
	}
}
