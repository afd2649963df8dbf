package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/freeagent/internal/observability"
	"github.com/harun/freeagent/internal/tracing"
	"github.com/harun/freeagent/pkg/agent"
	"github.com/harun/freeagent/pkg/commandqueue"
	"github.com/harun/freeagent/pkg/provider"
	"github.com/harun/freeagent/pkg/store"
	"github.com/harun/freeagent/pkg/toolexecutor"
)

const defaultQueueWarnAfter = 2 * time.Second

// AgentRunner runs one user turn.
type AgentRunner interface {
	Run(ctx context.Context, params agent.RunParams) (*agent.Result, error)
}

// ProviderDirectory describes the configured providers.
type ProviderDirectory interface {
	Names() []string
	Default() string
	Status() []provider.ProviderStatus
}

// SessionStore forgets conversation history.
type SessionStore interface {
	Delete(ctx context.Context, sessionKey string) error
}

// Options wires a Handler.
type Options struct {
	Messenger Messenger
	Runner    AgentRunner
	Queue     *commandqueue.CommandQueue
	Providers ProviderDirectory
	Tools     *toolexecutor.ToolExecutor
	Store     *store.Store
	Sessions  SessionStore

	// AllowedUsers restricts access. Empty allows everyone.
	AllowedUsers     []int64
	ProgressInterval time.Duration
	TypingInterval   time.Duration
	QueueWarnAfter   time.Duration
	Logger           *zerolog.Logger
}

// Handler turns Telegram updates into agent runs and commands.
type Handler struct {
	messenger Messenger
	runner    AgentRunner
	queue     *commandqueue.CommandQueue
	providers ProviderDirectory
	tools     *toolexecutor.ToolExecutor
	store     *store.Store
	sessions  SessionStore
	icon      IconFunc

	allowed          map[int64]bool
	progressInterval time.Duration
	typingInterval   time.Duration
	queueWarnAfter   time.Duration
	logger           zerolog.Logger

	commands map[string]command
}

// NewHandler creates a handler. All collaborators are required.
func NewHandler(opts Options) (*Handler, error) {
	switch {
	case opts.Messenger == nil:
		return nil, fmt.Errorf("messenger is required")
	case opts.Runner == nil:
		return nil, fmt.Errorf("agent runner is required")
	case opts.Queue == nil:
		return nil, fmt.Errorf("command queue is required")
	case opts.Providers == nil:
		return nil, fmt.Errorf("provider directory is required")
	case opts.Tools == nil:
		return nil, fmt.Errorf("tool registry is required")
	case opts.Store == nil:
		return nil, fmt.Errorf("store is required")
	case opts.Sessions == nil:
		return nil, fmt.Errorf("session store is required")
	}

	h := &Handler{
		messenger:        opts.Messenger,
		runner:           opts.Runner,
		queue:            opts.Queue,
		providers:        opts.Providers,
		tools:            opts.Tools,
		store:            opts.Store,
		sessions:         opts.Sessions,
		icon:             CategoryIcons(opts.Tools),
		allowed:          make(map[int64]bool, len(opts.AllowedUsers)),
		progressInterval: opts.ProgressInterval,
		typingInterval:   opts.TypingInterval,
		queueWarnAfter:   opts.QueueWarnAfter,
		logger:           log.Logger,
	}
	if opts.Logger != nil {
		h.logger = *opts.Logger
	}
	if h.queueWarnAfter <= 0 {
		h.queueWarnAfter = defaultQueueWarnAfter
	}
	for _, id := range opts.AllowedUsers {
		h.allowed[id] = true
	}
	h.commands = h.builtinCommands()
	return h, nil
}

// IsAllowed reports whether userID may use the bot.
func (h *Handler) IsAllowed(userID int64) bool {
	return len(h.allowed) == 0 || h.allowed[userID]
}

// HandleUpdate processes one update. Only text messages are handled.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	observability.RecordChatMessage("inbound")

	key := SessionKey(msg.From.ID)
	ctx = tracing.NewRequestContext(ctx, key, strconv.FormatInt(msg.Chat.ID, 10))
	logger := tracing.LoggerFromContext(ctx, h.logger)

	if !h.IsAllowed(msg.From.ID) {
		logger.Warn().Int64("user_id", msg.From.ID).Str("username", msg.From.UserName).Msg("Rejected unauthorized user")
		h.reply(msg.Chat.ID, "Unauthorized.")
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if msg.IsCommand() {
		h.handleCommand(ctx, msg)
		return
	}
	h.handlePrompt(ctx, msg.Chat.ID, key, text)
}

func (h *Handler) reply(chatID int64, text string) {
	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		if _, err := h.messenger.SendMessage(chatID, chunk); err != nil {
			h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send reply")
			return
		}
	}
	observability.RecordChatMessage("outbound")
}

func (h *Handler) handlePrompt(ctx context.Context, chatID int64, key, text string) {
	logger := tracing.LoggerFromContext(ctx, h.logger)
	preferred, prompt := agent.ParseProviderPrefix(text, h.providers.Names())

	status := newStatusMessage(h.messenger, chatID, h.icon, h.progressInterval, logger)
	if err := status.open(); err != nil {
		logger.Error().Err(err).Msg("Failed to send status message")
		return
	}

	stopTyping := make(chan struct{})
	go keepTyping(h.messenger, chatID, h.typingInterval, stopTyping)
	defer close(stopTyping)

	logger.Info().Str("preferred", preferred).Int("prompt_len", len(prompt)).Msg("Processing message")

	start := time.Now()
	value, err := h.queue.EnqueueWithContext(ctx, key, func(taskCtx context.Context) (interface{}, error) {
		return h.runner.Run(taskCtx, agent.RunParams{
			SessionKey:        key,
			Prompt:            prompt,
			PreferredProvider: preferred,
			OnProgress:        status.report,
		})
	}, &commandqueue.TaskOptions{
		WarnAfter: h.queueWarnAfter,
		OnWait: func(_ time.Duration, pos int) {
			status.update(fmt.Sprintf("⏳ Waiting for your previous request to finish (%d ahead)...", pos+1), true)
		},
	})

	if err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Agent run failed")
		h.logQuery(ctx, key, prompt, nil, time.Since(start), false)
		status.finish(userFacingError(err))
		observability.RecordChatMessage("outbound")
		return
	}

	result, ok := value.(*agent.Result)
	if !ok || result == nil {
		logger.Error().Msg("Agent run returned no result")
		status.finish(userFacingError(nil))
		return
	}

	h.logQuery(ctx, key, prompt, result, result.Elapsed, true)
	status.finish(result.Response + FormatFooter(result.ToolsUsed, result.Elapsed, h.icon))
	observability.RecordChatMessage("outbound")
}

func (h *Handler) logQuery(ctx context.Context, key, prompt string, res *agent.Result, elapsed time.Duration, ok bool) {
	rec := store.QueryRecord{
		Owner:   key,
		Prompt:  prompt,
		Elapsed: elapsed,
		Success: ok,
	}
	if res != nil {
		rec.Provider = res.Provider
		rec.Turns = res.Turns
		rec.InputTokens = res.Usage.InputTokens
		rec.OutputTokens = res.Usage.OutputTokens
		for _, u := range res.ToolsUsed {
			rec.Tools = append(rec.Tools, u.Name)
		}
	}
	if err := h.store.LogQuery(tracing.Detach(ctx), rec); err != nil {
		logger := tracing.LoggerFromContext(ctx, h.logger)
		logger.Warn().Err(err).Msg("Failed to log query")
	}
}

// userFacingError maps a run failure to a message without internal details.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, agent.ErrAllProvidersUnavailable):
		return "❌ All providers are unavailable right now. Please try again in a moment."
	case errors.Is(err, commandqueue.ErrLaneReset), errors.Is(err, commandqueue.ErrLaneCleared):
		return "Cancelled."
	case errors.Is(err, commandqueue.ErrLaneFull):
		return "⏳ Too many pending requests. Please wait for the current ones to finish."
	case errors.Is(err, commandqueue.ErrQueueClosed), errors.Is(err, context.Canceled):
		return "The bot is shutting down. Please try again later."
	default:
		return "❌ Something went wrong while processing your message. Please try again."
	}
}
