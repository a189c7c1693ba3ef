package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultBaseURL = "https://api.heygen.com"

	sessionCreatePath = "/v1/streaming.new"

	connectTimeout = 10 * time.Second
)

// SessionError wraps a failed vendor session operation.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return "avatar session " + e.Op + " failed: " + e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Config holds vendor session parameters.
type Config struct {
	// APIKey is the vendor API key (required). In the gateway
	// deployment this is injected server-side, never shipped to the
	// browser.
	APIKey string

	// BaseURL overrides the vendor API endpoint. Used by the gateway
	// proxy and tests.
	BaseURL string

	// AvatarID selects the rendered avatar.
	AvatarID string

	// PersonaID selects the conversational persona.
	PersonaID string

	// HTTPClient overrides the client used for session creation.
	HTTPClient *http.Client
}

// Session is the handle to one live vendor conversation. Implemented
// by the websocket client and by MockSession in tests.
type Session interface {
	// ID returns the vendor session id.
	ID() string

	// Speak asks the avatar to speak the given text.
	Speak(ctx context.Context, text string) error

	// Interrupt cancels the avatar's current speech immediately.
	Interrupt(ctx context.Context) error

	// Events returns the normalized vendor event stream. Closed after
	// a disconnect or Close.
	Events() <-chan Event

	// Close ends the session. Idempotent.
	Close() error
}

// vendorSession is the production websocket-backed session.
type vendorSession struct {
	cfg  Config
	info SessionInfo

	conn     *websocket.Conn
	sendChan chan []byte
	events   chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed atomic.Bool
}

// CreateSession mints a vendor session and connects its event socket.
func CreateSession(ctx context.Context, cfg Config) (Session, error) {
	if cfg.APIKey == "" {
		return nil, &SessionError{Op: "create", Err: fmt.Errorf("API key is required")}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: connectTimeout}
	}

	body, _ := json.Marshal(map[string]string{
		"avatar_id":  cfg.AvatarID,
		"persona_id": cfg.PersonaID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+sessionCreatePath, bytes.NewReader(body))
	if err != nil {
		return nil, &SessionError{Op: "create", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", cfg.APIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &SessionError{Op: "create", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &SessionError{Op: "create", Err: fmt.Errorf("vendor returned status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SessionError{Op: "create", Err: err}
	}
	info, err := NormalizeSessionInfo(raw)
	if err != nil {
		return nil, &SessionError{Op: "create", Err: err}
	}

	s := &vendorSession{
		cfg:      cfg,
		info:     *info,
		sendChan: make(chan []byte, 32),
		events:   make(chan Event, 32),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.connect(ctx); err != nil {
		s.cancel()
		return nil, err
	}

	log.Printf("[Avatar] Session %s created", info.SessionID)
	return s, nil
}

func (s *vendorSession) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	headers := map[string][]string{}
	if s.info.AccessToken != "" {
		headers["Authorization"] = []string{"Bearer " + s.info.AccessToken}
	} else {
		headers["X-Api-Key"] = []string{s.cfg.APIKey}
	}

	conn, _, err := dialer.DialContext(ctx, s.info.RealtimeURL, headers)
	if err != nil {
		return &SessionError{Op: "connect", Err: err}
	}
	s.conn = conn

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	return nil
}

// ID returns the vendor session id.
func (s *vendorSession) ID() string {
	return s.info.SessionID
}

// Speak asks the avatar to speak the given text.
func (s *vendorSession) Speak(ctx context.Context, text string) error {
	return s.send(ctx, map[string]string{
		"type":       "speak",
		"session_id": s.info.SessionID,
		"text":       text,
	})
}

// Interrupt cancels the avatar's current speech. The message is queued
// ahead-of-line: barge-in latency must not wait behind buffered speak
// traffic.
func (s *vendorSession) Interrupt(ctx context.Context) error {
	data, _ := json.Marshal(map[string]string{
		"type":       "interrupt",
		"session_id": s.info.SessionID,
	})
	if s.closed.Load() {
		return &SessionError{Op: "interrupt", Err: fmt.Errorf("session is closed")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return &SessionError{Op: "interrupt", Err: fmt.Errorf("session is closed")}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &SessionError{Op: "interrupt", Err: err}
	}
	return nil
}

// Events returns the normalized vendor event stream.
func (s *vendorSession) Events() <-chan Event {
	return s.events
}

func (s *vendorSession) send(ctx context.Context, msg map[string]string) error {
	if s.closed.Load() {
		return &SessionError{Op: "send", Err: fmt.Errorf("session is closed")}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return &SessionError{Op: "send", Err: err}
	}

	select {
	case s.sendChan <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *vendorSession) readLoop() {
	defer s.wg.Done()
	defer func() {
		// Deliver the disconnect before the stream closes so the
		// orchestrator can distinguish vendor drop from local Close.
		if !s.closed.Load() {
			select {
			case s.events <- Event{Kind: KindDisconnected, At: time.Now()}:
			default:
			}
		}
		close(s.events)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Avatar] Session %s read error: %v", s.info.SessionID, err)
			}
			return
		}

		event, err := NormalizeEvent(message)
		if err != nil {
			log.Printf("[Avatar] Session %s dropping malformed event: %v", s.info.SessionID, err)
			continue
		}
		if event == nil {
			continue
		}

		select {
		case s.events <- *event:
		case <-s.ctx.Done():
			return
		default:
			log.Printf("[Avatar] Session %s event channel full, dropping %s", s.info.SessionID, event.Kind)
		}
	}
}

func (s *vendorSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case data, ok := <-s.sendChan:
			if !ok {
				return
			}
			s.mu.Lock()
			if s.conn != nil {
				if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Printf("[Avatar] Session %s write error: %v", s.info.SessionID, err)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close ends the session. Idempotent.
func (s *vendorSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	log.Printf("[Avatar] Session %s closing", s.info.SessionID)

	s.cancel()

	s.mu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	close(s.sendChan)
	s.wg.Wait()
	return nil
}

var _ Session = (*vendorSession)(nil)
