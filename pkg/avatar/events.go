// Package avatar is the boundary to the streaming-avatar vendor. It
// owns session creation, the vendor event socket, and the single
// normalization layer that converts the vendor's variable wire shapes
// into one canonical typed event stream.
package avatar

import "time"

// EventKind identifies a normalized vendor event.
type EventKind string

const (
	// KindUserTranscript is the vendor's own recognition of the user.
	KindUserTranscript EventKind = "user.transcript"

	// KindAvatarTranscript is the text the avatar is speaking.
	KindAvatarTranscript EventKind = "avatar.transcript"

	// KindAvatarStartTalking marks the start of avatar speech playback.
	KindAvatarStartTalking EventKind = "avatar.start_talking"

	// KindAvatarStopTalking marks the end of avatar speech playback.
	KindAvatarStopTalking EventKind = "avatar.stop_talking"

	// KindStreamReady signals the incoming media stream is available.
	KindStreamReady EventKind = "stream.ready"

	// KindDisconnected signals the vendor closed the session.
	KindDisconnected EventKind = "disconnected"
)

// Event is one normalized vendor event.
type Event struct {
	Kind EventKind

	// Text carries transcript content for transcript events.
	Text string

	// IsFinal marks a final transcript (vendor interim otherwise).
	IsFinal bool

	// ResponseID correlates transcript and talking events belonging to
	// one avatar response.
	ResponseID string

	// At is the event arrival time.
	At time.Time
}
