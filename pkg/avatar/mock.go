package avatar

import (
	"context"
	"sync"
)

// MockSession is a controllable Session for tests.
type MockSession struct {
	SessionID string

	// SpeakErr and InterruptErr are returned by the respective calls
	// when set.
	SpeakErr     error
	InterruptErr error

	mu             sync.Mutex
	spoken         []string
	interruptCount int
	closed         bool
	events         chan Event
}

// NewMockSession creates a mock session with a buffered event channel.
func NewMockSession(id string) *MockSession {
	return &MockSession{
		SessionID: id,
		events:    make(chan Event, 32),
	}
}

func (m *MockSession) ID() string {
	return m.SessionID
}

func (m *MockSession) Speak(ctx context.Context, text string) error {
	if m.SpeakErr != nil {
		return m.SpeakErr
	}
	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	m.mu.Unlock()
	return nil
}

func (m *MockSession) Interrupt(ctx context.Context) error {
	if m.InterruptErr != nil {
		return m.InterruptErr
	}
	m.mu.Lock()
	m.interruptCount++
	m.mu.Unlock()
	return nil
}

func (m *MockSession) Events() <-chan Event {
	return m.events
}

// Emit injects a vendor event into the stream.
func (m *MockSession) Emit(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.events <- event
}

func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

// Spoken returns the texts passed to Speak.
func (m *MockSession) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

// InterruptCount returns how many times Interrupt was called.
func (m *MockSession) InterruptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interruptCount
}

// Closed reports whether Close has been called.
func (m *MockSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Session = (*MockSession)(nil)
