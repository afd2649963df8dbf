package telegram

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/freeagent/pkg/agent"
)

const (
	thinkingText = "⏳ Thinking..."

	defaultProgressInterval = 1500 * time.Millisecond
	defaultTypingInterval   = 4 * time.Second
)

// Messenger is the outbound side of the bot.
type Messenger interface {
	SendMessage(chatID int64, text string) (int, error)
	EditMessage(chatID int64, messageID int, text string) error
	SendTyping(chatID int64) error
}

// statusMessage is the live "working on it" message of one request. Edits
// are throttled; events arriving too soon after the last edit are dropped.
type statusMessage struct {
	messenger Messenger
	chatID    int64
	icon      IconFunc
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	// editMu orders edits so a late progress edit never lands on the answer.
	editMu sync.Mutex

	mu        sync.Mutex
	messageID int
	lastEdit  time.Time
	lastText  string
}

func newStatusMessage(m Messenger, chatID int64, icon IconFunc, interval time.Duration, logger zerolog.Logger) *statusMessage {
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	return &statusMessage{
		messenger: m,
		chatID:    chatID,
		icon:      icon,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// open sends the initial status message.
func (s *statusMessage) open() error {
	id, err := s.messenger.SendMessage(s.chatID, thinkingText)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.messageID = id
	s.lastEdit = s.now()
	s.lastText = thinkingText
	s.mu.Unlock()
	return nil
}

// report is an agent.ProgressFunc.
func (s *statusMessage) report(ev agent.ProgressEvent) {
	s.update(FormatProgress(ev, s.icon), false)
}

// update edits the status text. force bypasses the throttle.
func (s *statusMessage) update(text string, force bool) {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	s.mu.Lock()
	if s.messageID == 0 || text == s.lastText {
		s.mu.Unlock()
		return
	}
	now := s.now()
	if !force && now.Sub(s.lastEdit) < s.interval {
		s.mu.Unlock()
		return
	}
	s.lastEdit = now
	s.lastText = text
	id := s.messageID
	s.mu.Unlock()

	if err := s.messenger.EditMessage(s.chatID, id, text); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to update status message")
	}
}

// finish replaces the status message with the first chunk of the answer
// and sends the remaining chunks as new messages.
func (s *statusMessage) finish(text string) {
	chunks := SplitMessage(text, MaxMessageLength)

	s.editMu.Lock()
	s.mu.Lock()
	id := s.messageID
	s.messageID = 0
	s.mu.Unlock()

	start := 0
	if id != 0 {
		if err := s.messenger.EditMessage(s.chatID, id, chunks[0]); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to edit status message with answer")
		} else {
			start = 1
		}
	}
	s.editMu.Unlock()

	for _, chunk := range chunks[start:] {
		if _, err := s.messenger.SendMessage(s.chatID, chunk); err != nil {
			s.logger.Error().Err(err).Msg("Failed to send answer chunk")
			return
		}
	}
}

// keepTyping sends the typing action every interval until stop is closed.
func keepTyping(m Messenger, chatID int64, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = defaultTypingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = m.SendTyping(chatID)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
