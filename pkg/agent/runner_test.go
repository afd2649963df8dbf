package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/freeagent/pkg/provider"
	"github.com/harun/freeagent/pkg/toolexecutor"
)

// scriptedPool answers each dispatch with the next step of a script.
type scriptedPool struct {
	mu            sync.Mutex
	steps         []func(ctx context.Context, conv []provider.Message) (*provider.Response, error)
	conversations [][]provider.Message
	preferred     []string
}

func (p *scriptedPool) Dispatch(ctx context.Context, conv []provider.Message, _ []provider.ToolSchema, preferred string) (*provider.Response, error) {
	p.mu.Lock()
	i := len(p.conversations)
	snapshot := make([]provider.Message, len(conv))
	copy(snapshot, conv)
	p.conversations = append(p.conversations, snapshot)
	p.preferred = append(p.preferred, preferred)
	step := p.steps[len(p.steps)-1]
	if i < len(p.steps) {
		step = p.steps[i]
	}
	p.mu.Unlock()
	return step(ctx, conv)
}

func (p *scriptedPool) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conversations)
}

func text(s string) func(context.Context, []provider.Message) (*provider.Response, error) {
	return func(context.Context, []provider.Message) (*provider.Response, error) {
		return &provider.Response{Text: s, Provider: "groq", Usage: provider.Usage{InputTokens: 10, OutputTokens: 5}}, nil
	}
}

func tools(calls ...provider.ToolCall) func(context.Context, []provider.Message) (*provider.Response, error) {
	return func(context.Context, []provider.Message) (*provider.Response, error) {
		return &provider.Response{ToolCalls: calls, Provider: "groq", Usage: provider.Usage{InputTokens: 10, OutputTokens: 2}}, nil
	}
}

type memoryHistory struct {
	mu       sync.Mutex
	messages map[string][]provider.Message
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{messages: make(map[string][]provider.Message)}
}

func (h *memoryHistory) Load(_ context.Context, key string, limit int) ([]provider.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.messages[key]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]provider.Message(nil), msgs...), nil
}

func (h *memoryHistory) Append(_ context.Context, key string, msg provider.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[key] = append(h.messages[key], msg)
	return nil
}

func newRegistry(t *testing.T) *toolexecutor.ToolExecutor {
	t.Helper()
	te := toolexecutor.New(toolexecutor.Options{DefaultTimeout: 5 * time.Second})
	for _, def := range []struct {
		name  string
		delay time.Duration
	}{
		{"web_search", 30 * time.Millisecond},
		{"web_fetch", 0},
		{"memory_save", 10 * time.Millisecond},
	} {
		def := def
		require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
			Name:        def.name,
			Description: "test tool " + def.name,
			Category:    toolexecutor.CategoryWeb,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "input"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				time.Sleep(def.delay)
				return fmt.Sprintf("%s result for %v", def.name, params["query"]), nil
			},
		}))
	}
	te.Seal()
	return te
}

func newTestRunner(t *testing.T, pool ProviderPool, history History, maxTurns int) *Runner {
	t.Helper()
	r, err := NewRunner(Config{
		Pool:     pool,
		Tools:    newRegistry(t),
		History:  history,
		Prompt:   NewPromptBuilder("You are a test agent.", nil, nil),
		MaxTurns: maxTurns,
	})
	require.NoError(t, err)
	return r
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(Config{Tools: toolexecutor.New(toolexecutor.Options{})})
	assert.Error(t, err)

	_, err = NewRunner(Config{Pool: &scriptedPool{}})
	assert.Error(t, err)

	r, err := NewRunner(Config{Pool: &scriptedPool{}, Tools: toolexecutor.New(toolexecutor.Options{})})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTurns, r.MaxTurns())
}

func TestRun_PlainTextAnswer(t *testing.T) {
	pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){text("Hello there")}}
	history := newMemoryHistory()
	r := newTestRunner(t, pool, history, 5)

	res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "hi", PreferredProvider: "mistral"})
	require.NoError(t, err)

	assert.Equal(t, 1, pool.calls())
	assert.Equal(t, "Hello there", res.Response)
	assert.Equal(t, 1, res.Turns)
	assert.Empty(t, res.ToolsUsed)
	assert.Equal(t, "groq", res.Provider)
	assert.Equal(t, 10, res.Usage.InputTokens)
	assert.False(t, res.TurnLimitReached)
	assert.Equal(t, []string{"mistral"}, pool.preferred)

	conv := pool.conversations[0]
	require.Len(t, conv, 2)
	assert.Equal(t, provider.RoleSystem, conv[0].Role)
	assert.Contains(t, conv[0].Content, "You are a test agent.")
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "hi"}, conv[1])

	assert.Equal(t, []provider.Message{
		{Role: provider.RoleUser, Content: "hi"},
		{Role: provider.RoleAssistant, Content: "Hello there"},
	}, history.messages["tg-1"])

	t.Run("history is prepended on the next run", func(t *testing.T) {
		_, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "again"})
		require.NoError(t, err)
		conv := pool.conversations[1]
		require.Len(t, conv, 4)
		assert.Equal(t, "hi", conv[1].Content)
		assert.Equal(t, "Hello there", conv[2].Content)
		assert.Equal(t, "again", conv[3].Content)
	})
}

func TestRun_EmptyAnswer(t *testing.T) {
	t.Run("notice when the model said nothing", func(t *testing.T) {
		pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){text("")}}
		history := newMemoryHistory()
		r := newTestRunner(t, pool, history, 3)

		res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, emptyNotice, res.Response)
		assert.Equal(t, emptyNotice, history.messages["tg-1"][1].Content)
	})

	t.Run("earlier text is reused", func(t *testing.T) {
		pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
			func(context.Context, []provider.Message) (*provider.Response, error) {
				return &provider.Response{Text: "Checking the forecast.", ToolCalls: []provider.ToolCall{{ID: "a", Name: "web_search"}}}, nil
			},
			text("   "),
		}}
		r := newTestRunner(t, pool, nil, 3)

		res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "weather?"})
		require.NoError(t, err)
		assert.Equal(t, "Checking the forecast.", res.Response)
	})
}

func TestRun_EmptyPrompt(t *testing.T) {
	r := newTestRunner(t, &scriptedPool{}, nil, 3)
	_, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "  "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestRun_ToolResultsKeepCallOrder(t *testing.T) {
	pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
		tools(
			provider.ToolCall{ID: "c1", Name: "web_search", Arguments: map[string]interface{}{"query": "a"}},
			provider.ToolCall{ID: "c2", Name: "web_fetch", Arguments: map[string]interface{}{"query": "b"}},
			provider.ToolCall{ID: "c3", Name: "web_search", Arguments: map[string]interface{}{"query": "c"}},
		),
		text("Done"),
	}}
	r := newTestRunner(t, pool, nil, 5)

	res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "research"})
	require.NoError(t, err)
	require.Equal(t, 2, pool.calls())

	conv := pool.conversations[1]
	require.Len(t, conv, 6)
	assistant := conv[2]
	assert.Equal(t, provider.RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 3)

	for i, id := range []string{"c1", "c2", "c3"} {
		msg := conv[3+i]
		assert.Equal(t, provider.RoleTool, msg.Role)
		assert.Equal(t, id, msg.ToolCallID)
		assert.Equal(t, assistant.ToolCalls[i].Name, msg.Name)
	}
	assert.Equal(t, "web_search result for a", conv[3].Content)
	assert.Equal(t, "web_fetch result for b", conv[4].Content)

	assert.Equal(t, []ToolUsage{{Name: "web_search", Count: 2}, {Name: "web_fetch", Count: 1}}, res.ToolsUsed)
	assert.Equal(t, 3, res.ToolCount())
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, provider.Usage{InputTokens: 20, OutputTokens: 7}, res.Usage)
}

func TestRun_MissingCallIDsAreAssigned(t *testing.T) {
	pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
		tools(provider.ToolCall{Name: "web_fetch"}),
		text("ok"),
	}}
	r := newTestRunner(t, pool, nil, 5)

	_, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "x"})
	require.NoError(t, err)

	conv := pool.conversations[1]
	id := conv[2].ToolCalls[0].ID
	assert.NotEmpty(t, id)
	assert.Equal(t, id, conv[3].ToolCallID)
}

func TestRun_UnknownToolIsFedBack(t *testing.T) {
	pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
		tools(provider.ToolCall{ID: "x1", Name: "teleport"}),
		text("That tool does not exist."),
	}}
	r := newTestRunner(t, pool, nil, 5)

	res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "beam me up"})
	require.NoError(t, err)
	assert.Equal(t, "That tool does not exist.", res.Response)

	toolMsg := pool.conversations[1][3]
	assert.Equal(t, "x1", toolMsg.ToolCallID)
	assert.Equal(t, "Error: tool not found: teleport", toolMsg.Content)
}

func TestRun_HallucinationGuard(t *testing.T) {
	t.Run("claim without call is flagged", func(t *testing.T) {
		pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
			text("I searched the web for Go 1.24 and it was released in February."),
		}}
		r := newTestRunner(t, pool, nil, 5)

		res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "when was go 1.24 released?"})
		require.NoError(t, err)
		assert.Equal(t, []string{"web_search"}, res.Flagged)
		assert.True(t, strings.HasPrefix(res.Response, "I searched the web"))
		assert.Contains(t, res.Response, "⚠️")
		assert.Contains(t, res.Response, "web_search")
	})

	t.Run("claim backed by a call passes", func(t *testing.T) {
		pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
			tools(provider.ToolCall{ID: "s1", Name: "web_search", Arguments: map[string]interface{}{"query": "go 1.24"}}),
			text("I searched the web and found the release notes."),
		}}
		r := newTestRunner(t, pool, nil, 5)

		res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "go 1.24?"})
		require.NoError(t, err)
		assert.Empty(t, res.Flagged)
		assert.Equal(t, "I searched the web and found the release notes.", res.Response)
	})
}

func TestRun_TurnLimit(t *testing.T) {
	t.Run("explicit notice without text", func(t *testing.T) {
		pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
			tools(provider.ToolCall{ID: "loop", Name: "web_fetch"}),
		}}
		r := newTestRunner(t, pool, nil, 3)

		res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "loop forever"})
		require.NoError(t, err)
		assert.Equal(t, 3, pool.calls(), "never a 4th provider call")
		assert.True(t, res.TurnLimitReached)
		assert.Equal(t, 3, res.Turns)
		assert.Equal(t, fmt.Sprintf(turnLimitNotice, 3), res.Response)
		assert.Equal(t, []ToolUsage{{Name: "web_fetch", Count: 3}}, res.ToolsUsed)
	})

	t.Run("best effort text", func(t *testing.T) {
		pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
			func(context.Context, []provider.Message) (*provider.Response, error) {
				return &provider.Response{Text: "Still digging...", ToolCalls: []provider.ToolCall{{ID: "a", Name: "web_fetch"}}}, nil
			},
			tools(provider.ToolCall{ID: "b", Name: "web_fetch"}),
		}}
		r := newTestRunner(t, pool, nil, 2)

		res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "dig"})
		require.NoError(t, err)
		assert.Equal(t, 2, pool.calls())
		assert.True(t, res.TurnLimitReached)
		assert.Equal(t, "Still digging...", res.Response)
	})
}

func TestRun_PoolExhausted(t *testing.T) {
	exhausted := &provider.PoolExhaustedError{Failures: []provider.Failure{{Provider: "groq", Kind: provider.KindRateLimited}}}
	pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
		tools(provider.ToolCall{ID: "a", Name: "web_fetch"}),
		func(context.Context, []provider.Message) (*provider.Response, error) { return nil, exhausted },
	}}
	history := newMemoryHistory()
	r := newTestRunner(t, pool, history, 5)

	res, err := r.Run(context.Background(), RunParams{SessionKey: "tg-1", Prompt: "hi"})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersUnavailable)
	assert.ErrorIs(t, err, provider.ErrPoolExhausted)

	var poolErr *provider.PoolExhaustedError
	assert.True(t, errors.As(err, &poolErr))
	assert.Equal(t, 2, pool.calls())
	assert.Empty(t, history.messages["tg-1"], "failed runs are not persisted")
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
		func(callCtx context.Context, _ []provider.Message) (*provider.Response, error) {
			cancel()
			assert.NoError(t, callCtx.Err(), "in-flight call is not interrupted")
			return &provider.Response{Text: "Partial findings", ToolCalls: []provider.ToolCall{{ID: "a", Name: "web_fetch"}}}, nil
		},
		text("never reached"),
	}}
	r := newTestRunner(t, pool, nil, 5)

	res, err := r.Run(ctx, RunParams{SessionKey: "tg-1", Prompt: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, pool.calls())
	assert.Equal(t, "Partial findings\n\n_"+stoppedNotice+"_", res.Response)
	assert.Empty(t, res.ToolsUsed, "tools of a discarded response are not run")

	t.Run("cancelled before the first turn", func(t *testing.T) {
		done, stop := context.WithCancel(context.Background())
		stop()
		pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){text("x")}}
		r := newTestRunner(t, pool, nil, 5)

		res, err := r.Run(done, RunParams{SessionKey: "tg-1", Prompt: "hi"})
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Equal(t, 0, pool.calls())
		assert.Equal(t, stoppedNotice, res.Response)
	})
}

func TestRun_Progress(t *testing.T) {
	pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){
		tools(provider.ToolCall{ID: "a", Name: "web_search", Arguments: map[string]interface{}{"query": "weather in Hanoi"}}),
		text("Sunny"),
	}}
	r := newTestRunner(t, pool, nil, 5)

	var mu sync.Mutex
	var events []ProgressEvent
	res, err := r.Run(context.Background(), RunParams{
		SessionKey: "tg-1",
		Prompt:     "weather?",
		OnProgress: func(ev ProgressEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sunny", res.Response)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ProgressEvent{
		{Kind: ProgressThinking, Turn: 1},
		{Kind: ProgressToolRunning, Tool: "web_search", Detail: "web_search: weather in Hanoi", Turn: 1},
		{Kind: ProgressThinking, Turn: 2},
	}, events)
}

func TestRun_SlowProgressDoesNotBlock(t *testing.T) {
	pool := &scriptedPool{steps: []func(context.Context, []provider.Message) (*provider.Response, error){text("fast")}}
	r := newTestRunner(t, pool, nil, 5)

	release := make(chan struct{})
	defer close(release)

	started := time.Now()
	res, err := r.Run(context.Background(), RunParams{
		SessionKey: "tg-1",
		Prompt:     "hi",
		OnProgress: func(ProgressEvent) { <-release },
	})
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.Equal(t, "fast", res.Response)
	assert.Less(t, elapsed, time.Second, "Run waited for the progress callback")
}

func TestToolDetail(t *testing.T) {
	assert.Equal(t, "web_fetch", toolDetail("web_fetch", nil))
	assert.Equal(t, "bash: ls -la", toolDetail("bash", map[string]interface{}{"command": "ls -la"}))

	long := strings.Repeat("x", 60)
	assert.Equal(t, "web_search: "+strings.Repeat("x", maxHintRunes)+"...", toolDetail("web_search", map[string]interface{}{"query": long}))
}
