// Package media owns the lifecycle of attaching the avatar's incoming
// media stream to a playback sink: bounded readiness polling, autoplay
// fallback, and a capped reattachment loop.
package media

import "errors"

// State is the attachment lifecycle state.
type State int

const (
	// StateEmpty means no stream has been offered yet.
	StateEmpty State = iota

	// StateAttaching means a stream is attached and readiness evidence
	// is being polled for.
	StateAttaching

	// StateRetrying means a polling window expired and the stream is
	// being reattached.
	StateRetrying

	// StateReady means live evidence was observed.
	StateReady

	// StateFailed is terminal: every attach attempt exhausted its
	// window.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAttaching:
		return "attaching"
	case StateRetrying:
		return "retrying"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrAttachTimeout is the terminal error after the attach attempts are
// exhausted.
var ErrAttachTimeout = errors.New("media stream never became ready; refresh the page to reconnect")

// ErrAutoplayBlocked is returned by a sink whose playback start was
// rejected by autoplay policy. The manager retries muted.
var ErrAutoplayBlocked = errors.New("playback blocked by autoplay policy")
