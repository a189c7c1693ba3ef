package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/solace-ai/solace/pkg/bus"
)

// Config tunes the attachment manager.
type Config struct {
	// SessionID tags published events.
	SessionID string

	// MaxAttachAttempts bounds reattachment. Attachment fails
	// terminally once this many attempts have exhausted their windows.
	MaxAttachAttempts int

	// FastCheckInterval is the readiness polling cadence at the start
	// of each attempt.
	FastCheckInterval time.Duration

	// FastCheckCount is how many fast checks run before polling slows
	// down.
	FastCheckCount int

	// SlowCheckInterval is the reduced cadence after the fast checks.
	SlowCheckInterval time.Duration

	// AttemptWindow bounds one attach attempt end to end.
	AttemptWindow time.Duration

	// UnmuteDelay is how long after a muted autoplay fallback the sink
	// is unmuted.
	UnmuteDelay time.Duration
}

// DefaultConfig returns the production attachment tuning: ten fast
// checks over five seconds, then reduced-frequency checks out to
// twenty seconds, three attempts total.
func DefaultConfig() Config {
	return Config{
		MaxAttachAttempts: 3,
		FastCheckInterval: 500 * time.Millisecond,
		FastCheckCount:    10,
		SlowCheckInterval: 3 * time.Second,
		AttemptWindow:     20 * time.Second,
		UnmuteDelay:       250 * time.Millisecond,
	}
}

// Manager drives a VideoSink through the attachment lifecycle for one
// stream: Empty -> Attaching -> Ready, or through Retrying to Failed.
// It is the sole mutator of the sink's stream binding and play state.
type Manager struct {
	cfg  Config
	sink VideoSink
	b    bus.Bus

	// OnReady fires once live evidence is observed.
	OnReady func()

	// OnFailed fires on terminal failure with a user-facing error.
	OnFailed func(error)

	mu          sync.Mutex
	state       State
	attempts    int
	lastErr     error
	cancel      context.CancelFunc
	unmuteTimer *time.Timer
	closed      bool

	wg sync.WaitGroup
}

// NewManager creates an attachment manager for the given sink. The bus
// may be nil in tests.
func NewManager(sink VideoSink, cfg Config, b bus.Bus) *Manager {
	if cfg.MaxAttachAttempts <= 0 {
		cfg.MaxAttachAttempts = 3
	}
	return &Manager{
		cfg:   cfg,
		sink:  sink,
		b:     b,
		state: StateEmpty,
	}
}

// Attach starts the attachment lifecycle for the given stream. A
// previous run for another stream is cancelled first.
func (m *Manager) Attach(stream Stream) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("attachment manager is closed")
	}
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.state = StateAttaching
	m.attempts = 0
	m.lastErr = nil
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, stream)
	return nil
}

func (m *Manager) run(ctx context.Context, stream Stream) {
	defer m.wg.Done()

	for attempt := 1; attempt <= m.cfg.MaxAttachAttempts; attempt++ {
		m.mu.Lock()
		m.attempts = attempt
		if attempt > 1 {
			m.state = StateRetrying
		}
		m.mu.Unlock()

		log.Printf("[Media] Attach attempt %d/%d", attempt, m.cfg.MaxAttachAttempts)

		if err := m.sink.Attach(stream); err != nil {
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
			continue
		}
		m.setState(StateAttaching)

		if m.pollWindow(ctx) {
			m.setReady()
			return
		}
		if ctx.Err() != nil {
			return
		}

		// No live evidence inside the window: detach and reattach.
		m.sink.Detach()
	}

	m.fail(ErrAttachTimeout)
}

// pollWindow polls the sink for live evidence until the attempt window
// expires. Returns true on live evidence.
func (m *Manager) pollWindow(ctx context.Context) bool {
	deadline := time.Now().Add(m.cfg.AttemptWindow)
	interval := m.cfg.FastCheckInterval
	checks := 0

	for {
		snapshot := m.sink.State()
		if isLive(snapshot) {
			return true
		}
		// A present-but-paused stream is the autoplay case: valid
		// stream reference with playback never started.
		if snapshot.HasStream && snapshot.Paused {
			m.tryPlay()
		}

		checks++
		if checks >= m.cfg.FastCheckCount {
			interval = m.cfg.SlowCheckInterval
		}
		if time.Now().Add(interval).After(deadline) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

// tryPlay starts playback, falling back to muted playback with a
// deferred unmute when autoplay policy rejects the first attempt.
func (m *Manager) tryPlay() {
	err := m.sink.Play()
	if err == nil {
		return
	}
	if !errors.Is(err, ErrAutoplayBlocked) {
		log.Printf("[Media] Play failed: %v", err)
		return
	}

	log.Printf("[Media] Autoplay blocked, retrying muted")
	m.sink.SetMuted(true)
	if err := m.sink.Play(); err != nil {
		log.Printf("[Media] Muted play failed: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.unmuteTimer != nil {
		m.unmuteTimer.Stop()
	}
	m.unmuteTimer = time.AfterFunc(m.cfg.UnmuteDelay, func() {
		m.sink.SetMuted(false)
	})
}

// isLive reports readiness evidence: a stream is present and either
// decoded dimensions exist or playback is active. Playing without
// dimensions is sufficient.
func isLive(s SinkState) bool {
	if !s.HasStream {
		return false
	}
	return (s.Width > 0 && s.Height > 0) || s.Playing
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setReady() {
	m.setState(StateReady)
	log.Printf("[Media] Stream ready")
	if m.b != nil {
		m.b.Publish(bus.Event{
			Type:    bus.EventStreamReady,
			Payload: &bus.StreamPayload{SessionID: m.cfg.SessionID},
		})
	}
	if m.OnReady != nil {
		m.OnReady()
	}
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.state = StateFailed
	m.lastErr = err
	m.mu.Unlock()

	log.Printf("[Media] Attachment failed after %d attempts: %v", m.cfg.MaxAttachAttempts, err)
	if m.b != nil {
		m.b.Publish(bus.Event{
			Type:    bus.EventStreamFailed,
			Payload: &bus.ErrorPayload{Component: "media", Err: err},
		})
	}
	if m.OnFailed != nil {
		m.OnFailed(err)
	}
}

// State returns the current attachment state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many attach attempts have started.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastError returns the most recent attachment error.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Close stops polling and releases the sink. Idempotent, safe to call
// before Attach.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	if m.unmuteTimer != nil {
		m.unmuteTimer.Stop()
		m.unmuteTimer = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.sink.Detach()
	return nil
}
