package avatar

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionInfo is the canonical result of session creation.
type SessionInfo struct {
	SessionID   string
	RealtimeURL string
	AccessToken string
}

// rawEnvelope matches the vendor's response envelope. Some endpoints
// return fields at the top level, others nest them under "data"; the
// normalizers below are the only place that variance is allowed to
// exist.
type rawEnvelope struct {
	SessionID   string          `json:"session_id"`
	URL         string          `json:"url"`
	AccessToken string          `json:"access_token"`
	Data        json.RawMessage `json:"data"`
}

// NormalizeSessionInfo parses a session-creation response into the
// canonical SessionInfo, accepting both flat and data-wrapped shapes.
func NormalizeSessionInfo(raw []byte) (*SessionInfo, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed session response: %w", err)
	}

	info := &SessionInfo{
		SessionID:   env.SessionID,
		RealtimeURL: env.URL,
		AccessToken: env.AccessToken,
	}

	if len(env.Data) > 0 {
		var inner rawEnvelope
		if err := json.Unmarshal(env.Data, &inner); err == nil {
			if info.SessionID == "" {
				info.SessionID = inner.SessionID
			}
			if info.RealtimeURL == "" {
				info.RealtimeURL = inner.URL
			}
			if info.AccessToken == "" {
				info.AccessToken = inner.AccessToken
			}
		}
	}

	if info.SessionID == "" {
		return nil, fmt.Errorf("session response missing session_id")
	}
	return info, nil
}

// rawEvent matches the vendor's event message. Field names vary by
// event family: type vs event_type, text vs message, response_id vs
// task_id, payload flat or under "data".
type rawEvent struct {
	Type       string          `json:"type"`
	EventType  string          `json:"event_type"`
	Text       string          `json:"text"`
	Message    string          `json:"message"`
	IsFinal    bool            `json:"is_final"`
	Final      bool            `json:"final"`
	ResponseID string          `json:"response_id"`
	TaskID     string          `json:"task_id"`
	Data       json.RawMessage `json:"data"`
}

func (r *rawEvent) kind() string {
	if r.Type != "" {
		return r.Type
	}
	return r.EventType
}

func (r *rawEvent) text() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Message
}

func (r *rawEvent) responseID() string {
	if r.ResponseID != "" {
		return r.ResponseID
	}
	return r.TaskID
}

func (r *rawEvent) merge(inner *rawEvent) {
	if r.Text == "" {
		r.Text = inner.text()
	}
	if r.ResponseID == "" && r.TaskID == "" {
		r.ResponseID = inner.responseID()
	}
	r.IsFinal = r.IsFinal || r.Final || inner.IsFinal || inner.Final
}

// eventKinds maps every vendor spelling of an event name to the
// canonical kind.
var eventKinds = map[string]EventKind{
	"user.transcript":      KindUserTranscript,
	"user_transcript":      KindUserTranscript,
	"avatar.transcript":    KindAvatarTranscript,
	"avatar_transcript":    KindAvatarTranscript,
	"avatar.start_talking": KindAvatarStartTalking,
	"avatar_start_talking": KindAvatarStartTalking,
	"avatar.stop_talking":  KindAvatarStopTalking,
	"avatar_stop_talking":  KindAvatarStopTalking,
	"stream.ready":         KindStreamReady,
	"stream_ready":         KindStreamReady,
	"disconnected":         KindDisconnected,
	"session.disconnected": KindDisconnected,
	"session_disconnected": KindDisconnected,
}

// NormalizeEvent parses one vendor event message into the canonical
// Event. Unknown event types return (nil, nil): they are vendor noise,
// not errors.
func NormalizeEvent(raw []byte) (*Event, error) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("malformed vendor event: %w", err)
	}

	if len(ev.Data) > 0 {
		var inner rawEvent
		if err := json.Unmarshal(ev.Data, &inner); err == nil {
			ev.merge(&inner)
		}
	}

	kind, ok := eventKinds[ev.kind()]
	if !ok {
		return nil, nil
	}

	return &Event{
		Kind:       kind,
		Text:       ev.text(),
		IsFinal:    ev.IsFinal || ev.Final,
		ResponseID: ev.responseID(),
		At:         time.Now(),
	}, nil
}
