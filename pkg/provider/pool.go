package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/freeagent/internal/observability"
	"github.com/harun/freeagent/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Entry pairs an adapter with the keys it may use.
type Entry struct {
	Adapter Adapter
	Keys    []string
}

// PoolOptions tunes the dispatch policy.
type PoolOptions struct {
	// Default is tried first when a dispatch names no preferred provider.
	Default string
	// CallTimeout bounds every single backend call.
	CallTimeout time.Duration
	// TransientRetries is the total number of attempts per key on Transient errors.
	TransientRetries int
	// TransientBackoff is multiplied by the attempt number between retries.
	TransientBackoff time.Duration
}

// DefaultPoolOptions returns the default dispatch policy.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		CallTimeout:      90 * time.Second,
		TransientRetries: 2,
		TransientBackoff: 500 * time.Millisecond,
	}
}

// keyRing is a provider's key list with a shared round-robin cursor.
type keyRing struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// next returns the cursor and moves it one key forward in a single step, so
// concurrent dispatches never start on the same key.
func (r *keyRing) next() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.cursor
	r.cursor = (r.cursor + 1) % len(r.keys)
	return i
}

func (r *keyRing) peek() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// pick takes the next cursor position, stepping past keys already tried in
// this dispatch. tried must have an unset entry.
func (r *keyRing) pick(tried []bool) int {
	i := r.next()
	for tried[i] {
		i = (i + 1) % len(r.keys)
	}
	tried[i] = true
	return i
}

type member struct {
	adapter Adapter
	ring    *keyRing
}

// Pool dispatches conversations across providers and keys.
type Pool struct {
	members []*member
	byName  map[string]*member
	opts    PoolOptions
	sleep   func(ctx context.Context, d time.Duration) error
}

// ProviderStatus describes one pool member.
type ProviderStatus struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	Keys    int    `json:"keys"`
	Cursor  int    `json:"cursor"`
	Default bool   `json:"default"`
}

// NewPool builds a pool from entries in priority order. Entries without keys
// are skipped.
func NewPool(entries []Entry, opts PoolOptions) (*Pool, error) {
	defaults := DefaultPoolOptions()
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaults.CallTimeout
	}
	if opts.TransientRetries <= 0 {
		opts.TransientRetries = defaults.TransientRetries
	}
	if opts.TransientBackoff < 0 {
		opts.TransientBackoff = 0
	}
	opts.Default = strings.ToLower(opts.Default)

	p := &Pool{
		byName: make(map[string]*member),
		opts:   opts,
		sleep:  sleepContext,
	}

	for _, entry := range entries {
		if entry.Adapter == nil {
			continue
		}
		name := entry.Adapter.Name()
		keys := nonEmpty(entry.Keys)
		if len(keys) == 0 {
			log.Warn().Str("provider", name).Msg("Provider has no API keys, skipping")
			continue
		}
		if _, dup := p.byName[name]; dup {
			return nil, fmt.Errorf("provider %s configured twice", name)
		}
		m := &member{adapter: entry.Adapter, ring: &keyRing{keys: keys}}
		p.members = append(p.members, m)
		p.byName[name] = m
		observability.SetProviderKeys(name, len(keys))
	}

	if len(p.members) == 0 {
		return nil, ErrNoProviders
	}

	if _, ok := p.byName[opts.Default]; !ok {
		p.opts.Default = p.members[0].adapter.Name()
	}

	log.Info().
		Int("providers", len(p.members)).
		Str("default", p.opts.Default).
		Msg("Provider pool initialized")

	return p, nil
}

func nonEmpty(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Has reports whether name is a pool member.
func (p *Pool) Has(name string) bool {
	_, ok := p.byName[strings.ToLower(name)]
	return ok
}

// Names returns member names in priority order.
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.members))
	for _, m := range p.members {
		names = append(names, m.adapter.Name())
	}
	return names
}

// Default returns the provider tried first when no preference is given.
func (p *Pool) Default() string {
	return p.opts.Default
}

// Status reports every member in priority order.
func (p *Pool) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, ProviderStatus{
			Name:    m.adapter.Name(),
			Model:   m.adapter.Model(),
			Keys:    len(m.ring.keys),
			Cursor:  m.ring.peek(),
			Default: m.adapter.Name() == p.opts.Default,
		})
	}
	return out
}

// order returns the try order: preferred (or the default) first, then the
// remaining members in priority order.
func (p *Pool) order(preferred string) []*member {
	first := strings.ToLower(strings.TrimSpace(preferred))
	if _, ok := p.byName[first]; !ok {
		first = p.opts.Default
	}

	order := make([]*member, 0, len(p.members))
	if m, ok := p.byName[first]; ok {
		order = append(order, m)
	}
	for _, m := range p.members {
		if m.adapter.Name() != first {
			order = append(order, m)
		}
	}
	return order
}

// Dispatch sends the conversation to the first provider and key that
// answers. It returns a *PoolExhaustedError when every key of every provider
// failed, or the context error when ctx ends first.
func (p *Pool) Dispatch(ctx context.Context, conversation []Message, tools []ToolSchema, preferred string) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "freeagent.provider", "provider.dispatch",
		attribute.String("preferred", preferred),
		attribute.Int("messages", len(conversation)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	req := request{conversation: conversation, tools: tools}
	exhausted := &PoolExhaustedError{}

	for _, m := range p.order(preferred) {
		name := m.adapter.Name()
		tried := make([]bool, len(m.ring.keys))
		var last error

		for range m.ring.keys {
			idx := m.ring.pick(tried)
			resp, err := p.tryKey(ctx, m.adapter, req, m.ring.keys[idx], &exhausted.Attempts)

			if err == nil {
				span.SetAttributes(
					attribute.String("provider", name),
					attribute.Int("attempts", exhausted.Attempts),
				)
				return resp, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.RecordError(ctxErr)
				span.SetStatus(codes.Error, ctxErr.Error())
				return nil, ctxErr
			}

			last = err
			logger.Warn().
				Err(err).
				Str("provider", name).
				Int("key_index", idx).
				Str("kind", Classify(err).String()).
				Msg("Provider key failed")
		}

		exhausted.Failures = append(exhausted.Failures, Failure{
			Provider: name,
			Kind:     Classify(last),
			Err:      last,
		})
		logger.Warn().Str("provider", name).Msg("All keys failed, falling back to next provider")
	}

	observability.RecordPoolExhausted()
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, "pool exhausted")
	return nil, exhausted
}

// request is the payload of one dispatch.
type request struct {
	conversation []Message
	tools        []ToolSchema
}

// tryKey calls the adapter with one key, retrying Transient failures on the
// same key.
func (p *Pool) tryKey(ctx context.Context, adapter Adapter, req request, key string, attempts *int) (*Response, error) {
	var err error
	for attempt := 1; attempt <= p.opts.TransientRetries; attempt++ {
		if attempt > 1 {
			if serr := p.sleep(ctx, time.Duration(attempt-1)*p.opts.TransientBackoff); serr != nil {
				return nil, serr
			}
		}

		*attempts++
		var resp *Response
		resp, err = p.call(ctx, adapter, req, key)
		if err == nil {
			return resp, nil
		}
		if Classify(err) != KindTransient || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, err
}

// call performs a single bounded backend call.
func (p *Pool) call(ctx context.Context, adapter Adapter, req request, key string) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := adapter.Send(callCtx, req.conversation, req.tools, key)
	if err == nil && resp == nil {
		err = malformed(adapter.Name(), "adapter returned no response")
	}
	if err != nil {
		observability.RecordProviderAttempt(adapter.Name(), Classify(err).String(), time.Since(start))
		return nil, err
	}
	observability.RecordProviderAttempt(adapter.Name(), "success", time.Since(start))
	if resp.Provider == "" {
		resp.Provider = adapter.Name()
	}
	return resp, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsExhausted reports whether err is a pool exhaustion.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}
