package telegram

import (
	"fmt"
	"sync"
)

type sentMessage struct {
	id   int
	text string
}

type editedMessage struct {
	id   int
	text string
}

// fakeMessenger records outbound traffic.
type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	edits   []editedMessage
	typing  int
	sendErr error
	editErr error
}

func (m *fakeMessenger) SendMessage(chatID int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.nextID++
	m.sent = append(m.sent, sentMessage{id: m.nextID, text: text})
	return m.nextID, nil
}

func (m *fakeMessenger) EditMessage(chatID int64, messageID int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.edits = append(m.edits, editedMessage{id: messageID, text: text})
	return nil
}

func (m *fakeMessenger) SendTyping(int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
	return nil
}

func (m *fakeMessenger) sentTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.text)
	}
	return out
}

func (m *fakeMessenger) editTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.edits))
	for _, e := range m.edits {
		out = append(out, e.text)
	}
	return out
}

func (m *fakeMessenger) lastEdit() string {
	edits := m.editTexts()
	if len(edits) == 0 {
		return ""
	}
	return edits[len(edits)-1]
}

func (m *fakeMessenger) typingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}

func (m *fakeMessenger) String() string {
	return fmt.Sprintf("sent=%v edits=%v", m.sentTexts(), m.editTexts())
}
