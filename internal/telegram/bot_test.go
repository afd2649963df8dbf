package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/freeagent/internal/config"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	send     func(n int, c tgbotapi.Chattable) (tgbotapi.Message, error)
	updates  chan tgbotapi.Update
	stopped  bool
}

func (a *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	a.mu.Lock()
	a.sent = append(a.sent, c)
	n := len(a.sent)
	a.mu.Unlock()
	if a.send != nil {
		return a.send(n, c)
	}
	return tgbotapi.Message{MessageID: n}, nil
}

func (a *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (a *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return a.updates
}

func (a *fakeAPI) StopReceivingUpdates() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

type recordingHandler struct {
	mu      sync.Mutex
	updates []int
}

func (h *recordingHandler) HandleUpdate(_ context.Context, update tgbotapi.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update.UpdateID)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

func newTestBot(api *fakeAPI) *Bot {
	return NewWithAPI(api, &config.TelegramConfig{}, zerolog.Nop())
}

func TestBot_SendMessage_MarkdownFallback(t *testing.T) {
	api := &fakeAPI{send: func(n int, c tgbotapi.Chattable) (tgbotapi.Message, error) {
		if n == 1 {
			return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities: unclosed bold")
		}
		return tgbotapi.Message{MessageID: 99}, nil
	}}
	bot := newTestBot(api)

	id, err := bot.SendMessage(5, "*broken")
	require.NoError(t, err)
	assert.Equal(t, 99, id)

	require.Len(t, api.sent, 2)
	assert.Equal(t, tgbotapi.ModeMarkdown, api.sent[0].(tgbotapi.MessageConfig).ParseMode)
	assert.Empty(t, api.sent[1].(tgbotapi.MessageConfig).ParseMode)
}

func TestBot_SendMessage_Error(t *testing.T) {
	api := &fakeAPI{send: func(int, tgbotapi.Chattable) (tgbotapi.Message, error) {
		return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
	}}
	bot := newTestBot(api)

	_, err := bot.SendMessage(5, "hi")
	assert.Error(t, err)
	assert.Len(t, api.sent, 1, "only parse errors are retried")
}

func TestBot_EditMessage_NotModified(t *testing.T) {
	api := &fakeAPI{send: func(int, tgbotapi.Chattable) (tgbotapi.Message, error) {
		return tgbotapi.Message{}, errors.New("Bad Request: message is not modified")
	}}
	bot := newTestBot(api)

	assert.NoError(t, bot.EditMessage(5, 1, "same"))
}

func TestBot_SendTypingAndCommands(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(api)

	require.NoError(t, bot.SendTyping(5))
	require.NoError(t, bot.SetCommands([]tgbotapi.BotCommand{{Command: "help", Description: "Help"}}))
	assert.Len(t, api.requests, 2)
}

func TestBot_StartStop(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 2)}
	bot := newTestBot(api)

	assert.Error(t, bot.Start(context.Background()), "handler is required")

	handler := &recordingHandler{}
	bot.SetHandler(handler)
	require.NoError(t, bot.Start(context.Background()))
	assert.True(t, bot.IsRunning())
	assert.Error(t, bot.Start(context.Background()), "already running")

	api.updates <- tgbotapi.Update{UpdateID: 1}
	api.updates <- tgbotapi.Update{UpdateID: 2}
	require.Eventually(t, func() bool { return handler.count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bot.Stop())
	assert.False(t, bot.IsRunning())
	assert.True(t, api.stopped)
	assert.Error(t, bot.Stop())
}

func TestBot_HandlerPanicIsRecovered(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 1)}
	bot := newTestBot(api)
	bot.SetHandler(panicHandler{})
	require.NoError(t, bot.Start(context.Background()))

	api.updates <- tgbotapi.Update{UpdateID: 1}
	require.NoError(t, bot.Stop())
}

type panicHandler struct{}

func (panicHandler) HandleUpdate(context.Context, tgbotapi.Update) { panic("boom") }
