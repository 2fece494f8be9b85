package transport

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage records one outbound message for test assertions.
type SentMessage struct {
	ChatID  string
	Text    string
	TaskID  uint
	Buttons []Button
}

// EditedMessage records one in-place edit for test assertions.
type EditedMessage struct {
	ChatID      string
	MessageID   string
	Text        string
	KeepButtons bool
}

// MockTransport implements Transport for testing. It records everything sent
// and can be configured to fail sends.
type MockTransport struct {
	mu        sync.Mutex
	sent      []SentMessage
	edits     []EditedMessage
	nextID    int
	FailSends bool
	FileURLs  map[string]string // fileID → URL; unset IDs resolve to a derived URL
}

// NewMockTransport creates a MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{FileURLs: make(map[string]string)}
}

// SendTask records the task message and returns a synthetic message ID.
func (m *MockTransport) SendTask(ctx context.Context, chatID string, msg TaskMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends {
		return "", fmt.Errorf("mock transport: send failed")
	}
	m.nextID++
	m.sent = append(m.sent, SentMessage{ChatID: chatID, Text: msg.Text, TaskID: msg.TaskID, Buttons: msg.Buttons})
	return fmt.Sprintf("msg-%d", m.nextID), nil
}

// EditMessage records the edit.
func (m *MockTransport) EditMessage(ctx context.Context, chatID, messageID, text string, keepButtons bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends {
		return fmt.Errorf("mock transport: edit failed")
	}
	m.edits = append(m.edits, EditedMessage{ChatID: chatID, MessageID: messageID, Text: text, KeepButtons: keepButtons})
	return nil
}

// SendText records a plain text message.
func (m *MockTransport) SendText(ctx context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends {
		return fmt.Errorf("mock transport: send failed")
	}
	m.sent = append(m.sent, SentMessage{ChatID: chatID, Text: text})
	return nil
}

// FileURL resolves a file ID from the configured map, or derives a stable URL.
func (m *MockTransport) FileURL(ctx context.Context, fileID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if url, ok := m.FileURLs[fileID]; ok {
		return url, nil
	}
	return "https://files.mock/" + fileID, nil
}

// --- Test helpers ---

// LastSent returns the most recently sent message.
// Returns zero value and false if nothing has been sent.
func (m *MockTransport) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// AllSent returns a copy of all sent messages.
func (m *MockTransport) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns the number of messages sent.
func (m *MockTransport) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllEdits returns a copy of all recorded edits.
func (m *MockTransport) AllEdits() []EditedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EditedMessage, len(m.edits))
	copy(out, m.edits)
	return out
}

// LastEdit returns the most recent edit.
func (m *MockTransport) LastEdit() (EditedMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) == 0 {
		return EditedMessage{}, false
	}
	return m.edits[len(m.edits)-1], true
}
