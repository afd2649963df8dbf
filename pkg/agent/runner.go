package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/freeagent/internal/observability"
	"github.com/harun/freeagent/internal/tracing"
	"github.com/harun/freeagent/pkg/provider"
	"github.com/harun/freeagent/pkg/toolexecutor"
)

const (
	DefaultMaxTurns     = 10
	DefaultHistoryLimit = 20

	turnLimitNotice = "I reached the limit of %d steps before finishing. Please try again with a narrower request."
	stoppedNotice   = "Request stopped."
	emptyNotice     = "(no response)"
)

var (
	// ErrAllProvidersUnavailable aborts a run whose provider pool is exhausted.
	// The pool error is wrapped alongside it.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")
	// ErrEmptyPrompt is returned for a blank prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")
)

// ProviderPool sends a conversation to a model.
type ProviderPool interface {
	Dispatch(ctx context.Context, conversation []provider.Message, tools []provider.ToolSchema, preferred string) (*provider.Response, error)
}

// ToolRegistry advertises and executes tools.
type ToolRegistry interface {
	Schema() []provider.ToolSchema
	Dispatch(ctx context.Context, call provider.ToolCall, execCtx *toolexecutor.ExecutionContext) toolexecutor.ToolResult
}

// History stores prior turns of a session.
type History interface {
	Load(ctx context.Context, sessionKey string, limit int) ([]provider.Message, error)
	Append(ctx context.Context, sessionKey string, message provider.Message) error
}

// Runner orchestrates agent runs.
type Runner struct {
	pool         ProviderPool
	tools        ToolRegistry
	history      History
	prompt       SystemPrompter
	guard        *Guard
	maxTurns     int
	historyLimit int
	workingDir   string
	toolTimeout  time.Duration
	logger       zerolog.Logger
}

// Config holds runner configuration
type Config struct {
	Pool    ProviderPool
	Tools   ToolRegistry
	History History
	Prompt  SystemPrompter
	// Guard defaults to NewGuard().
	Guard        *Guard
	MaxTurns     int
	HistoryLimit int
	WorkingDir   string
	ToolTimeout  time.Duration
	Logger       *zerolog.Logger
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Pool == nil {
		return nil, fmt.Errorf("provider pool is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	r := &Runner{
		pool:         cfg.Pool,
		tools:        cfg.Tools,
		history:      cfg.History,
		prompt:       cfg.Prompt,
		guard:        cfg.Guard,
		maxTurns:     cfg.MaxTurns,
		historyLimit: cfg.HistoryLimit,
		workingDir:   cfg.WorkingDir,
		toolTimeout:  cfg.ToolTimeout,
		logger:       log.Logger,
	}
	if cfg.Logger != nil {
		r.logger = *cfg.Logger
	}
	if r.prompt == nil {
		r.prompt = NewPromptBuilder("", nil, nil)
	}
	if r.guard == nil {
		r.guard = NewGuard()
	}
	if r.maxTurns <= 0 {
		r.maxTurns = DefaultMaxTurns
	}
	if r.historyLimit <= 0 {
		r.historyLimit = DefaultHistoryLimit
	}
	return r, nil
}

// MaxTurns returns the configured turn limit.
func (r *Runner) MaxTurns() int {
	return r.maxTurns
}

// run is the per-invocation state of one user turn.
type run struct {
	params       RunParams
	conversation []provider.Message
	tally        *toolTally
	progress     *progressRelay
	result       *Result
	lastText     string
	start        time.Time
}

// Run handles one user message. Cancelling ctx stops the loop at the next
// turn boundary and yields a Result with Cancelled set. A pool exhaustion
// returns an error matching ErrAllProvidersUnavailable.
func (r *Runner) Run(ctx context.Context, params RunParams) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx, params.SessionKey, "")
	}
	ctx = tracing.WithSessionKey(tracing.NewAgentRunContext(ctx), params.SessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"freeagent.agent",
		"agent.run",
		attribute.String("session_key", params.SessionKey),
		attribute.String("preferred_provider", params.PreferredProvider),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if strings.TrimSpace(params.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	st := &run{
		params:   params,
		tally:    newToolTally(),
		progress: newProgressRelay(params.OnProgress),
		result:   &Result{},
		start:    time.Now(),
	}
	defer st.progress.close()

	st.conversation = r.buildConversation(ctx, params)

	result, err := r.loop(ctx, st, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordAgentRun(st.result.Provider, time.Since(st.start), st.result.Turns, false)
		logger.Error().Err(err).Int("turns", st.result.Turns).Msg("Agent run failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("provider", result.Provider),
		attribute.Int("turns", result.Turns),
		attribute.Int("tool_calls", result.ToolCount()),
		attribute.Bool("cancelled", result.Cancelled),
	)
	observability.RecordAgentRun(result.Provider, result.Elapsed, result.Turns, true)
	logger.Info().
		Str("provider", result.Provider).
		Int("turns", result.Turns).
		Int("tool_calls", result.ToolCount()).
		Int("input_tokens", result.Usage.InputTokens).
		Int("output_tokens", result.Usage.OutputTokens).
		Dur("elapsed", result.Elapsed).
		Bool("turn_limit", result.TurnLimitReached).
		Bool("cancelled", result.Cancelled).
		Msg("Agent run completed")
	return result, nil
}

func (r *Runner) buildConversation(ctx context.Context, params RunParams) []provider.Message {
	conversation := []provider.Message{{
		Role:    provider.RoleSystem,
		Content: r.prompt.Build(ctx, params.SessionKey),
	}}

	if r.history != nil && params.SessionKey != "" {
		prior, err := r.history.Load(ctx, params.SessionKey, r.historyLimit)
		if err != nil {
			logger := tracing.LoggerFromContext(ctx, r.logger)
			logger.Warn().Err(err).Msg("Failed to load history, continuing without it")
		}
		conversation = append(conversation, prior...)
	}

	return append(conversation, provider.Message{Role: provider.RoleUser, Content: params.Prompt})
}

func (r *Runner) loop(ctx context.Context, st *run, logger zerolog.Logger) (*Result, error) {
	// In-flight calls outlive cancellation; their results are discarded.
	callCtx := context.WithoutCancel(ctx)
	schema := r.tools.Schema()
	execCtx := &toolexecutor.ExecutionContext{
		SessionKey: st.params.SessionKey,
		WorkingDir: r.workingDir,
		Timeout:    r.toolTimeout,
	}

	for turn := 1; turn <= r.maxTurns; turn++ {
		if ctx.Err() != nil {
			return r.stopped(st, logger), nil
		}

		st.progress.emit(ProgressEvent{Kind: ProgressThinking, Turn: turn})
		resp, err := r.pool.Dispatch(callCtx, st.conversation, schema, st.params.PreferredProvider)
		st.result.Turns = turn
		if err != nil {
			if errors.Is(err, provider.ErrPoolExhausted) {
				return nil, fmt.Errorf("%w: %w", ErrAllProvidersUnavailable, err)
			}
			return nil, fmt.Errorf("failed to call provider: %w", err)
		}

		st.result.Provider = resp.Provider
		st.result.Usage.Add(resp.Usage)
		if strings.TrimSpace(resp.Text) != "" {
			st.lastText = resp.Text
		}
		if ctx.Err() != nil {
			return r.stopped(st, logger), nil
		}

		if !resp.HasToolCalls() {
			return r.finish(ctx, st, resp.Text, logger), nil
		}

		r.executeTools(ctx, callCtx, st, resp, turn, execCtx)
	}

	logger.Warn().Int("max_turns", r.maxTurns).Msg("Agent hit max turns")
	st.result.TurnLimitReached = true
	answer := st.lastText
	if answer == "" {
		answer = fmt.Sprintf(turnLimitNotice, r.maxTurns)
	}
	r.persist(ctx, st, answer)
	return r.complete(st, answer), nil
}

// executeTools runs the calls of one response in order and appends the
// assistant message followed by one tool message per call.
func (r *Runner) executeTools(ctx, callCtx context.Context, st *run, resp *provider.Response, turn int, execCtx *toolexecutor.ExecutionContext) {
	calls := make([]provider.ToolCall, len(resp.ToolCalls))
	copy(calls, resp.ToolCalls)
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = fmt.Sprintf("call_%d_%d", turn, i)
		}
	}

	st.conversation = append(st.conversation, provider.Message{
		Role:      provider.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: calls,
	})

	for _, call := range calls {
		st.tally.add(call.Name)
		st.progress.emit(ProgressEvent{
			Kind:   ProgressToolRunning,
			Tool:   call.Name,
			Detail: toolDetail(call.Name, call.Arguments),
			Turn:   turn,
		})

		res := r.tools.Dispatch(callCtx, call, execCtx)
		if !res.Success {
			logger := tracing.LoggerFromContext(ctx, r.logger)
			logger.Debug().Str("tool", call.Name).Str("error", res.Error).Msg("Tool call failed")
		}

		st.conversation = append(st.conversation, provider.Message{
			Role:       provider.RoleTool,
			Content:    res.Content(),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
}

func (r *Runner) finish(ctx context.Context, st *run, text string, logger zerolog.Logger) *Result {
	answer := strings.TrimSpace(text)
	if answer == "" {
		// Blocked or truncated candidates arrive with no parts at all.
		logger.Warn().Int("turn", st.result.Turns).Msg("Model returned an empty answer")
		answer = strings.TrimSpace(st.lastText)
		if answer == "" {
			answer = emptyNotice
		}
	}
	flagged := r.guard.Check(answer, st.tally.called)
	if len(flagged) > 0 {
		for _, tool := range flagged {
			observability.RecordHallucinatedClaim(tool)
		}
		logger.Warn().Strs("claimed_tools", flagged).Msg("Answer claims tool use that did not happen")
		answer = r.guard.Annotate(answer, flagged)
		st.result.Flagged = flagged
	}
	r.persist(ctx, st, answer)
	return r.complete(st, answer)
}

func (r *Runner) stopped(st *run, logger zerolog.Logger) *Result {
	logger.Info().Int("turn", st.result.Turns).Msg("Agent run cancelled")
	st.result.Cancelled = true
	answer := stoppedNotice
	if st.lastText != "" {
		answer = strings.TrimSpace(st.lastText) + "\n\n_" + stoppedNotice + "_"
	}
	return r.complete(st, answer)
}

func (r *Runner) complete(st *run, answer string) *Result {
	st.result.Response = answer
	st.result.ToolsUsed = st.tally.usage()
	st.result.Elapsed = time.Since(st.start)
	return st.result
}

// persist appends the user message and the final answer to the history.
func (r *Runner) persist(ctx context.Context, st *run, answer string) {
	if r.history == nil || st.params.SessionKey == "" {
		return
	}
	ctx = tracing.Detach(ctx)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	for _, msg := range []provider.Message{
		{Role: provider.RoleUser, Content: st.params.Prompt},
		{Role: provider.RoleAssistant, Content: answer},
	} {
		if err := r.history.Append(ctx, st.params.SessionKey, msg); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist history")
			return
		}
	}
}
