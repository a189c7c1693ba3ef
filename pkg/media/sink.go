package media

import "sync"

// Stream is a handle to an incoming media stream.
type Stream interface {
	// ID identifies the stream.
	ID() string
}

// SinkState is a snapshot of the sink's playback state.
type SinkState struct {
	// HasStream reports whether a stream is currently attached.
	HasStream bool

	// Width and Height are the decoded video dimensions, zero until
	// metadata arrives.
	Width  int
	Height int

	// Playing reports active playback.
	Playing bool

	// Paused reports that playback is attached but paused.
	Paused bool
}

// VideoSink is the playback surface the manager drives. It is the sole
// owner of the sink's stream binding and play state.
type VideoSink interface {
	// Attach binds the stream to the sink.
	Attach(stream Stream) error

	// Detach unbinds the current stream.
	Detach() error

	// Play starts playback. Returns ErrAutoplayBlocked when the
	// platform refuses unmuted playback.
	Play() error

	// SetMuted toggles the sink's mute state.
	SetMuted(muted bool)

	// State returns the current playback snapshot.
	State() SinkState
}

// MockSink is a controllable VideoSink for tests.
type MockSink struct {
	mu sync.Mutex

	// PlayErr is returned by Play until PlayErrCount calls have been
	// made (zero means always).
	PlayErr      error
	PlayErrCount int

	state        SinkState
	attached     Stream
	attachCount  int
	detachCount  int
	playCalls    int
	mutedHistory []bool
}

// NewMockSink creates a mock sink with no stream attached.
func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) Attach(stream Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached = stream
	m.attachCount++
	m.state.HasStream = stream != nil
	return nil
}

func (m *MockSink) Detach() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached = nil
	m.detachCount++
	m.state = SinkState{}
	return nil
}

func (m *MockSink) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playCalls++
	if m.PlayErr != nil && (m.PlayErrCount == 0 || m.playCalls <= m.PlayErrCount) {
		return m.PlayErr
	}
	m.state.Playing = true
	m.state.Paused = false
	return nil
}

func (m *MockSink) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutedHistory = append(m.mutedHistory, muted)
}

func (m *MockSink) State() SinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetState overrides the reported playback snapshot.
func (m *MockSink) SetState(state SinkState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// AttachCount returns how many times Attach was called.
func (m *MockSink) AttachCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attachCount
}

// DetachCount returns how many times Detach was called.
func (m *MockSink) DetachCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detachCount
}

// PlayCalls returns how many times Play was called.
func (m *MockSink) PlayCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playCalls
}

// MutedHistory returns the sequence of SetMuted calls.
func (m *MockSink) MutedHistory() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.mutedHistory...)
}

var _ VideoSink = (*MockSink)(nil)
