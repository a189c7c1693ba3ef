// Package bus provides the typed event bus the conversation components
// communicate over. Every asynchronous source in a session (VAD, vendor
// events, media attachment, transcription) publishes onto one bus so the
// orchestrator observes a single merged stream.
package bus

import (
	"context"
	"log"
	"sync"
	"time"
)

// EventType identifies a class of session event.
type EventType int

const (
	EventError EventType = iota
	EventWarning

	// Voice activity, published by the VAD segmenter.
	EventVADSpeechStart
	EventVADSpeechEnd

	// Avatar response lifecycle, published by the vendor session.
	EventResponseStart
	EventResponseEnd

	// Barge-in: an in-flight avatar response was cancelled.
	EventInterrupted

	// Transcript stream, published by the reconciler.
	EventTranscriptInterim
	EventTranscriptFinal
	EventTranscriptRetracted

	// Media attachment lifecycle.
	EventStreamReady
	EventStreamFailed

	// Connection status changes (connecting, connected, disconnected).
	EventStatus
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	switch t {
	case EventError:
		return "error"
	case EventWarning:
		return "warning"
	case EventVADSpeechStart:
		return "vad.speech_start"
	case EventVADSpeechEnd:
		return "vad.speech_end"
	case EventResponseStart:
		return "response.start"
	case EventResponseEnd:
		return "response.end"
	case EventInterrupted:
		return "interrupted"
	case EventTranscriptInterim:
		return "transcript.interim"
	case EventTranscriptFinal:
		return "transcript.final"
	case EventTranscriptRetracted:
		return "transcript.retracted"
	case EventStreamReady:
		return "stream.ready"
	case EventStreamFailed:
		return "stream.failed"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Event is a single bus message.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// Bus is a publish/subscribe event bus. Delivery to a subscriber is
// non-blocking: if a subscriber channel is full the event is dropped for
// that subscriber, never stalling the publisher. Latency-sensitive
// publishers (VAD, interruption) depend on this.
type Bus interface {
	Subscribe(t EventType, ch chan Event)
	Unsubscribe(t EventType, ch chan Event)
	// Publish delivers evt to all current subscribers of evt.Type.
	// Returns true if every subscriber accepted the event.
	Publish(evt Event) bool
	Start(ctx context.Context) error
	Stop() error
}

type eventBus struct {
	mu   sync.RWMutex
	subs map[EventType][]chan Event

	cancel context.CancelFunc
}

// NewEventBus creates an event bus with no subscribers.
func NewEventBus() Bus {
	return &eventBus{
		subs: make(map[EventType][]chan Event),
	}
}

func (b *eventBus) Subscribe(t EventType, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], ch)
}

func (b *eventBus) Unsubscribe(t EventType, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chans := b.subs[t]
	for i, c := range chans {
		if c == ch {
			b.subs[t] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}

func (b *eventBus) Publish(evt Event) bool {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	chans := b.subs[evt.Type]
	b.mu.RUnlock()

	delivered := true
	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
			log.Printf("[Bus] subscriber channel full, dropping %s event", evt.Type)
			delivered = false
		}
	}
	return delivered
}

func (b *eventBus) Start(ctx context.Context) error {
	_, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	return nil
}

func (b *eventBus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return nil
}
