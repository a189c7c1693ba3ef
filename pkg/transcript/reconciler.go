package transcript

import (
	"log"
	"sync"
	"time"

	"github.com/solace-ai/solace/pkg/bus"
)

// ReconcilerConfig tunes the reconciler.
type ReconcilerConfig struct {
	// DedupRetention is the per-speaker duplicate suppression window.
	DedupRetention time.Duration

	// Attribution holds the thresholds for ambiguous-speaker
	// fragments.
	Attribution AttributionConfig
}

// DefaultReconcilerConfig returns the production defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		DedupRetention: DefaultDedupRetention,
		Attribution:    DefaultAttributionConfig(),
	}
}

// utterance tracks the accumulation state for one correlation id.
type utterance struct {
	speaker   Speaker
	text      string
	finalized bool
	retracted bool
	doneAt    time.Time
}

// Reconciler merges transcript fragments from any number of concurrent
// sources into one ordered output stream. Correct under arbitrary
// interleaving across speakers; within one correlation id, fragments
// are expected in arrival order and a final fragment is terminal.
//
// Rules, in order of application per fragment:
//  1. malformed fragments (no text) are dropped with a log, never
//     surfaced as errors
//  2. fragments without a definitive speaker are attributed by timing
//     heuristics (default to avatar)
//  3. fragments for a finalized or retracted correlation id are
//     discarded
//  4. interim fragments extend the running utterance; finals replace
//     it; an interim whose text a same-speaker source is already
//     displaying is withheld
//  5. a final whose normalized text matches a same-speaker utterance
//     within the dedup window is dropped; cross-speaker matches never
//     drop
type Reconciler struct {
	cfg        ReconcilerConfig
	dedup      *DedupWindow
	interims   *DedupWindow
	attributor *Attributor
	b          bus.Bus

	// OnEntry receives every accepted output entry in emission order.
	// Called synchronously under the reconciler's lock; must not
	// re-enter the reconciler.
	OnEntry func(Entry)

	// OnRetract is called when an already-emitted interim utterance is
	// withdrawn.
	OnRetract func(correlationID string)

	mu         sync.Mutex
	utterances map[string]*utterance
	lastPrune  time.Time

	// Timing context for attribution, maintained from VAD and
	// response lifecycle notifications.
	lastUserEnd  time.Time
	lastAvatarAt time.Time
}

// NewReconciler creates a reconciler publishing to b (may be nil in
// tests that only use callbacks).
func NewReconciler(cfg ReconcilerConfig, b bus.Bus) *Reconciler {
	return &Reconciler{
		cfg:        cfg,
		dedup:      NewDedupWindow(cfg.DedupRetention),
		interims:   NewDedupWindow(cfg.DedupRetention),
		attributor: NewAttributor(cfg.Attribution),
		b:          b,
		utterances: make(map[string]*utterance),
	}
}

// NoteUserSpeechEnd records when the user's recognized speech ended.
func (r *Reconciler) NoteUserSpeechEnd(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUserEnd = at
}

// NoteAvatarSpeaking records avatar speech activity.
func (r *Reconciler) NoteAvatarSpeaking(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAvatarAt = at
}

// Ingest processes one fragment from any source.
func (r *Reconciler) Ingest(frag Fragment) {
	if frag.Text == "" {
		log.Printf("[Reconciler] dropping malformed fragment from %q: empty text", frag.SourceID)
		return
	}
	if frag.EmittedAt.IsZero() {
		frag.EmittedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(frag.EmittedAt)

	speaker := frag.Speaker
	if speaker == SpeakerUnknown {
		speaker = r.attributor.Attribute(frag.Text, frag.EmittedAt, r.lastUserEnd, r.lastAvatarAt)
	}

	if speaker == SpeakerAvatar {
		r.lastAvatarAt = frag.EmittedAt
	}

	if frag.CorrelationID == "" {
		// Single-shot fragment: treat as its own completed utterance.
		r.emitFinalLocked(speaker, frag.Text, "", frag.EmittedAt)
		return
	}

	u := r.utterances[frag.CorrelationID]
	if u == nil {
		u = &utterance{speaker: speaker}
		r.utterances[frag.CorrelationID] = u
	}

	if u.retracted {
		return
	}
	if u.finalized {
		// Upstream bug: fragments after the final. Log and discard.
		log.Printf("[Reconciler] discarding fragment for finalized id %s from %q", frag.CorrelationID, frag.SourceID)
		return
	}

	if !frag.IsFinal {
		u.text = extendText(u.text, frag.Text)
		norm := Normalize(u.text)
		// Another source already displaying the same text makes this
		// interim a transient duplicate: keep accumulating without
		// repainting. The finals window is consulted without recording,
		// otherwise an interim would shadow its own final.
		if r.dedup.Contains(u.speaker, norm, frag.EmittedAt) ||
			r.interims.SeenRecently(u.speaker, norm, frag.EmittedAt) {
			log.Printf("[Reconciler] suppressing duplicate interim for id %s", frag.CorrelationID)
			return
		}
		entry := Entry{
			Speaker:       u.speaker,
			Text:          u.text,
			Timestamp:     frag.EmittedAt,
			IsInterim:     true,
			CorrelationID: frag.CorrelationID,
		}
		r.emitLocked(entry)
		return
	}

	// Final fragment: authoritative text for the utterance.
	u.finalized = true
	u.doneAt = frag.EmittedAt
	u.text = frag.Text
	if u.speaker == SpeakerUser {
		r.lastUserEnd = frag.EmittedAt
	}
	r.emitFinalLocked(u.speaker, u.text, frag.CorrelationID, frag.EmittedAt)
}

// Retract withdraws a not-yet-finalized utterance, typically because
// the avatar response it belongs to was interrupted. Nothing for that
// correlation id reaches the output afterwards.
func (r *Reconciler) Retract(correlationID string) {
	if correlationID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.utterances[correlationID]
	if u == nil {
		u = &utterance{}
		r.utterances[correlationID] = u
	}
	if u.finalized || u.retracted {
		return
	}
	u.retracted = true
	u.doneAt = time.Now()

	hadInterim := u.text != ""
	u.text = ""

	log.Printf("[Reconciler] retracted utterance %s", correlationID)
	if r.b != nil {
		r.b.Publish(bus.Event{
			Type:    bus.EventTranscriptRetracted,
			Payload: correlationID,
		})
	}
	if hadInterim && r.OnRetract != nil {
		r.OnRetract(correlationID)
	}
}

// pruneLocked evicts finalized and retracted utterances once they age
// past the dedup retention. Late fragments for an evicted id are by then
// outside every suppression window anyway. Runs at most once per
// retention interval.
func (r *Reconciler) pruneLocked(now time.Time) {
	retention := r.cfg.DedupRetention
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	if now.Sub(r.lastPrune) < retention {
		return
	}
	r.lastPrune = now

	for id, u := range r.utterances {
		if (u.finalized || u.retracted) && now.Sub(u.doneAt) > retention {
			delete(r.utterances, id)
		}
	}
}

func (r *Reconciler) emitFinalLocked(speaker Speaker, text, correlationID string, at time.Time) {
	if r.dedup.SeenRecently(speaker, Normalize(text), at) {
		log.Printf("[Reconciler] dropping duplicate %s utterance: %q", speaker, text)
		return
	}
	r.emitLocked(Entry{
		Speaker:       speaker,
		Text:          text,
		Timestamp:     at,
		IsInterim:     false,
		CorrelationID: correlationID,
	})
}

func (r *Reconciler) emitLocked(entry Entry) {
	if r.b != nil {
		t := bus.EventTranscriptFinal
		if entry.IsInterim {
			t = bus.EventTranscriptInterim
		}
		r.b.Publish(bus.Event{
			Type:      t,
			Timestamp: entry.Timestamp,
			Payload:   entry,
		})
	}
	if r.OnEntry != nil {
		r.OnEntry(entry)
	}
}

// extendText appends an interim continuation to the running text.
// Sources that resend the whole utterance so far (rather than a delta)
// are detected by prefix and replace the buffer instead.
func extendText(current, incoming string) string {
	if current == "" {
		return incoming
	}
	if len(incoming) >= len(current) && incoming[:len(current)] == current {
		return incoming
	}
	return current + " " + incoming
}

// Reset drops all accumulation and dedup state. Used between sessions.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterances = make(map[string]*utterance)
	r.dedup.Clear()
	r.interims.Clear()
	r.lastPrune = time.Time{}
	r.lastUserEnd = time.Time{}
	r.lastAvatarAt = time.Time{}
}
