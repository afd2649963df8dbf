package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/harun/freeagent/internal/config"
)

// MaxMessageLength is Telegram's limit for one text message.
const MaxMessageLength = 4096

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// UpdateHandler processes one update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// Bot represents a Telegram bot instance
type Bot struct {
	api    API
	config *config.TelegramConfig
	logger zerolog.Logger
	self   tgbotapi.User

	handler UpdateHandler
	running atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// New creates a new Telegram bot instance
func New(cfg *config.TelegramConfig, base zerolog.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := NewWithAPI(api, cfg, base)
	bot.self = api.Self

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// NewWithAPI creates a bot on top of an existing API client.
func NewWithAPI(api API, cfg *config.TelegramConfig, base zerolog.Logger) *Bot {
	return &Bot{
		api:    api,
		config: cfg,
		logger: base.With().Str("component", "telegram").Logger(),
	}
}

// SetHandler sets the update handler. It must be called before Start.
func (b *Bot) SetHandler(handler UpdateHandler) {
	b.handler = handler
}

// Username returns the bot's username, if known.
func (b *Bot) Username() string {
	return b.self.UserName
}

// Start begins long polling. Each update is handled on its own goroutine so
// a slow agent run does not hold up other chats.
func (b *Bot) Start(ctx context.Context) error {
	if b.handler == nil {
		return fmt.Errorf("update handler is required")
	}
	if !b.running.CompareAndSwap(false, true) {
		return fmt.Errorf("bot is already running")
	}

	ctx, b.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.wg.Add(1)
	go b.processUpdates(ctx, updates)

	b.logger.Info().Msg("Telegram bot started")
	return nil
}

// Stop stops polling, cancels in-flight handlers and waits for them.
func (b *Bot) Stop() error {
	if !b.running.CompareAndSwap(true, false) {
		return fmt.Errorf("bot is not running")
	}

	b.logger.Info().Msg("Stopping Telegram bot")
	b.api.StopReceivingUpdates()
	b.cancel()
	b.wg.Wait()
	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

// IsRunning returns whether the bot is running
func (b *Bot) IsRunning() bool {
	return b.running.Load()
}

func (b *Bot) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error().
							Interface("panic", r).
							Int("update_id", update.UpdateID).
							Msg("Update handler panicked")
					}
				}()
				b.handler.HandleUpdate(ctx, update)
			}()
		}
	}
}

// SendMessage sends text, trying Markdown first and falling back to plain
// text when Telegram rejects the formatting. It returns the message ID.
func (b *Bot) SendMessage(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	sent, err := b.api.Send(msg)
	if err != nil && isParseError(err) {
		msg.ParseMode = ""
		sent, err = b.api.Send(msg)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}

	b.logger.Debug().
		Int64("chat_id", chatID).
		Int("message_id", sent.MessageID).
		Msg("Message sent")

	return sent.MessageID, nil
}

// EditMessage replaces the text of a sent message. "message is not
// modified" responses are not errors.
func (b *Bot) EditMessage(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown

	_, err := b.api.Send(edit)
	if err != nil && isParseError(err) {
		edit.ParseMode = ""
		_, err = b.api.Send(edit)
	}
	if err != nil {
		if isNotModified(err) {
			return nil
		}
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

// SendTyping sends the typing chat action.
func (b *Bot) SendTyping(chatID int64) error {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := b.api.Request(action); err != nil {
		return fmt.Errorf("failed to send typing action: %w", err)
	}
	return nil
}

// SetCommands sets the bot's command menu in Telegram
func (b *Bot) SetCommands(commands []tgbotapi.BotCommand) error {
	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}

	b.logger.Info().Int("count", len(commands)).Msg("Bot commands updated")
	return nil
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

func isParseError(err error) bool {
	return strings.Contains(err.Error(), "can't parse entities")
}

// ValidateToken validates a bot token by attempting to authenticate
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("bot token is empty")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("invalid bot token: %w", err)
	}

	if api.Self.UserName == "" {
		return fmt.Errorf("failed to get bot info")
	}

	return nil
}
