package telegraph

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MockTransport implements Transport for testing. It records sent and
// edited messages and lets tests inject updates with SimulateMessage and
// SimulateCallback.
type MockTransport struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	channelID  string
	buf        *UpdateBuffer
	sent       []OutboundMessage
	edits      map[string]string // ref -> latest text
	answered   map[string]string // callbackID -> text
	msgCounter int
	sendErr    error
	updatesErr error
	updateErrN int // remaining Updates calls that fail
	connectErr error
	connErrN   int // remaining Connect calls that fail
	polls      int
}

// NewMockTransport creates a MockTransport posting to channelID.
func NewMockTransport(channelID string) *MockTransport {
	return &MockTransport{
		channelID: channelID,
		buf:       NewUpdateBuffer(),
		edits:     make(map[string]string),
		answered:  make(map[string]string),
	}
}

// Connect marks the transport as connected.
func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock transport: already closed")
	}
	if m.connErrN > 0 {
		m.connErrN--
		return m.connectErr
	}
	m.connected = true
	return nil
}

// Send records the message and returns a sequential ref.
func (m *MockTransport) Send(ctx context.Context, msg OutboundMessage) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return MessageRef{}, fmt.Errorf("mock transport: not connected")
	}
	if m.sendErr != nil {
		return MessageRef{}, m.sendErr
	}
	if msg.ChannelID == "" {
		msg.ChannelID = m.channelID
	}
	m.msgCounter++
	m.sent = append(m.sent, msg)
	return MessageRef{ChannelID: msg.ChannelID, MessageID: strconv.Itoa(m.msgCounter)}, nil
}

// Edit records the new text for ref.
func (m *MockTransport) Edit(ctx context.Context, ref MessageRef, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock transport: not connected")
	}
	m.edits[ref.String()] = text
	return nil
}

// Updates returns injected updates after cursor, or the configured error.
func (m *MockTransport) Updates(ctx context.Context, cursor int64, wait time.Duration) ([]Update, error) {
	m.mu.Lock()
	m.polls++
	if m.updateErrN > 0 {
		m.updateErrN--
		err := m.updatesErr
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()
	return m.buf.Poll(ctx, cursor, wait)
}

// AnswerCallback records the callback acknowledgement.
func (m *MockTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered[callbackID] = text
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected = false
	return nil
}

// --- Test helpers ---

// SimulateMessage queues an inbound text message from chatID and returns
// its update ID.
func (m *MockTransport) SimulateMessage(chatID, userName, text string) int64 {
	m.mu.Lock()
	m.msgCounter++
	ref := MessageRef{ChannelID: chatID, MessageID: strconv.Itoa(m.msgCounter)}
	m.mu.Unlock()
	return m.buf.Push(Update{
		Kind:     UpdateMessage,
		ChatID:   chatID,
		UserID:   "u-" + userName,
		UserName: userName,
		Text:     text,
		Ref:      ref,
	})
}

// SimulateCallback queues a button press on ref carrying data.
func (m *MockTransport) SimulateCallback(chatID string, ref MessageRef, callbackID, data string) int64 {
	return m.buf.Push(Update{
		Kind:         UpdateCallback,
		ChatID:       chatID,
		UserID:       "u-operator",
		UserName:     "operator",
		Ref:          ref,
		CallbackID:   callbackID,
		CallbackData: data,
	})
}

// FailUpdates makes the next n Updates calls return err.
func (m *MockTransport) FailUpdates(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErrN = n
	m.updatesErr = err
}

// FailConnect makes the next n Connect calls return err.
func (m *MockTransport) FailConnect(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connErrN = n
	m.connectErr = err
}

// FailSend makes every Send return err (nil restores success).
func (m *MockTransport) FailSend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Polls returns how many times Updates has been called.
func (m *MockTransport) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// LastSent returns the most recently sent message.
func (m *MockTransport) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of messages sent.
func (m *MockTransport) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent messages.
func (m *MockTransport) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// EditedText returns the latest edit applied to ref.
func (m *MockTransport) EditedText(ref MessageRef) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.edits[ref.String()]
	return text, ok
}

// CallbackAnswer returns the text a callback was answered with.
func (m *MockTransport) CallbackAnswer(callbackID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.answered[callbackID]
	return text, ok
}
