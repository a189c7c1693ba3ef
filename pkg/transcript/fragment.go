// Package transcript merges transcript fragments arriving from multiple
// concurrent recognition sources into one ordered, de-duplicated stream
// attributed to the right speaker. It is the arbitration point between
// the avatar vendor's pushed transcripts and the fallback recognizers.
package transcript

import "time"

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerAvatar Speaker = "avatar"
	// SpeakerUnknown marks fragments from generic events that carry no
	// definitive speaker tag; the reconciler attributes them.
	SpeakerUnknown Speaker = ""
)

// Fragment is a piece of transcribed text from one source. Interim
// fragments sharing a CorrelationID extend a running utterance; a final
// fragment completes it and is authoritative.
type Fragment struct {
	// SourceID names the producing source ("vendor", "deepgram-user",
	// "tap-avatar", ...). Diagnostic only.
	SourceID string

	Speaker Speaker
	Text    string
	IsFinal bool

	// CorrelationID groups fragments belonging to one utterance or
	// avatar response. Empty for single-shot fragments.
	CorrelationID string

	EmittedAt time.Time
}

// Entry is one event on the reconciled output stream consumed by the UI
// layer.
type Entry struct {
	Speaker       Speaker
	Text          string
	Timestamp     time.Time
	IsInterim     bool
	CorrelationID string
}
