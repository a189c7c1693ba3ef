// Package session orchestrates one avatar conversation: vendor session,
// microphone, VAD, interruption, transcription arbitration and media
// attachment, exposed to the UI through a small imperative API.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/solace-ai/solace/pkg/bus"
	"github.com/solace-ai/solace/pkg/trace"
)

// Canceller is the slice of the avatar session the interruption path
// needs: the one unavoidable network call.
type Canceller interface {
	Interrupt(ctx context.Context) error
}

// Retractor withdraws an in-flight transcript utterance.
type Retractor interface {
	Retract(correlationID string)
}

// InterruptConfig tunes barge-in handling.
type InterruptConfig struct {
	// CooldownMs suppresses repeat interrupts fired within this window
	// of the previous one.
	CooldownMs int

	// CancelTimeoutMs bounds the vendor interrupt call.
	CancelTimeoutMs int
}

// DefaultInterruptConfig returns the production tuning.
func DefaultInterruptConfig() InterruptConfig {
	return InterruptConfig{
		CooldownMs:      500,
		CancelTimeoutMs: 2000,
	}
}

// InterruptController observes VAD and response lifecycle events on the
// bus. A speechStart while the avatar is speaking triggers the barge-in
// path: cancel the avatar's playback, mark the user as interrupting and
// retract the in-flight avatar transcript. Detection to cancel involves
// no round trip besides the interrupt call itself.
type InterruptController struct {
	cfg       InterruptConfig
	b         bus.Bus
	canceller Canceller
	retractor Retractor

	mu                sync.RWMutex
	avatarSpeaking    bool
	userInterrupted   bool
	currentResponseID string
	lastInterruptAt   time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInterruptController creates a controller. The retractor may be nil
// when no reconciler is wired.
func NewInterruptController(cfg InterruptConfig, b bus.Bus, canceller Canceller, retractor Retractor) *InterruptController {
	return &InterruptController{
		cfg:       cfg,
		b:         b,
		canceller: canceller,
		retractor: retractor,
	}
}

// Start subscribes to the bus and begins observing. Subscriptions are
// registered before Start returns, so no event published afterwards is
// missed.
func (ic *InterruptController) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	ic.cancel = cancel

	chans := ic.subscribe()
	ic.wg.Add(1)
	go ic.eventLoop(ctx, chans)

	log.Printf("[Interrupt] Started (cooldown %dms)", ic.cfg.CooldownMs)
	return nil
}

// Stop stops observing. Idempotent.
func (ic *InterruptController) Stop() error {
	if ic.cancel != nil {
		ic.cancel()
		ic.wg.Wait()
		ic.cancel = nil
	}
	return nil
}

type interruptChans struct {
	vadStart      chan bus.Event
	vadEnd        chan bus.Event
	responseStart chan bus.Event
	responseEnd   chan bus.Event
}

func (ic *InterruptController) subscribe() interruptChans {
	chans := interruptChans{
		vadStart:      make(chan bus.Event, 10),
		vadEnd:        make(chan bus.Event, 10),
		responseStart: make(chan bus.Event, 10),
		responseEnd:   make(chan bus.Event, 10),
	}
	ic.b.Subscribe(bus.EventVADSpeechStart, chans.vadStart)
	ic.b.Subscribe(bus.EventVADSpeechEnd, chans.vadEnd)
	ic.b.Subscribe(bus.EventResponseStart, chans.responseStart)
	ic.b.Subscribe(bus.EventResponseEnd, chans.responseEnd)
	return chans
}

func (ic *InterruptController) eventLoop(ctx context.Context, chans interruptChans) {
	defer ic.wg.Done()
	defer func() {
		ic.b.Unsubscribe(bus.EventVADSpeechStart, chans.vadStart)
		ic.b.Unsubscribe(bus.EventVADSpeechEnd, chans.vadEnd)
		ic.b.Unsubscribe(bus.EventResponseStart, chans.responseStart)
		ic.b.Unsubscribe(bus.EventResponseEnd, chans.responseEnd)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-chans.vadStart:
			ic.handleSpeechStart()
		case <-chans.vadEnd:
			ic.handleSpeechEnd()
		case evt := <-chans.responseStart:
			ic.handleResponseStart(evt)
		case <-chans.responseEnd:
			ic.handleResponseEnd()
		}
	}
}

func (ic *InterruptController) handleSpeechStart() {
	ic.mu.Lock()
	if !ic.avatarSpeaking {
		ic.mu.Unlock()
		return
	}
	if time.Since(ic.lastInterruptAt) < time.Duration(ic.cfg.CooldownMs)*time.Millisecond {
		log.Printf("[Interrupt] In cooldown, ignoring speech start")
		ic.mu.Unlock()
		return
	}
	responseID := ic.beginInterruptLocked()
	ic.mu.Unlock()

	ic.finishInterrupt(bus.InterruptSourceVAD, "user_speech_detected", responseID)
}

func (ic *InterruptController) handleSpeechEnd() {
	ic.mu.Lock()
	ic.userInterrupted = false
	ic.mu.Unlock()
}

func (ic *InterruptController) handleResponseStart(evt bus.Event) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.avatarSpeaking = true
	if payload, ok := evt.Payload.(*bus.ResponsePayload); ok {
		ic.currentResponseID = payload.ResponseID
	}
	log.Printf("[Interrupt] Avatar response started: %s", ic.currentResponseID)
}

func (ic *InterruptController) handleResponseEnd() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.avatarSpeaking = false
	ic.currentResponseID = ""
}

// TriggerManualInterrupt fires the barge-in path on behalf of the UI.
// Ignored when the avatar is not speaking.
func (ic *InterruptController) TriggerManualInterrupt() {
	ic.mu.Lock()
	if !ic.avatarSpeaking {
		log.Printf("[Interrupt] Manual interrupt ignored, avatar not speaking")
		ic.mu.Unlock()
		return
	}
	responseID := ic.beginInterruptLocked()
	ic.mu.Unlock()

	ic.finishInterrupt(bus.InterruptSourceClient, "client_request", responseID)
}

// beginInterruptLocked flips the barge-in state and claims the current
// response. Caller holds ic.mu.
func (ic *InterruptController) beginInterruptLocked() (responseID string) {
	responseID = ic.currentResponseID
	ic.avatarSpeaking = false
	ic.userInterrupted = true
	ic.lastInterruptAt = time.Now()
	ic.currentResponseID = ""
	return responseID
}

// finishInterrupt performs the vendor cancel, retraction and bus notify.
// Runs outside ic.mu so state readers never wait on the network call.
func (ic *InterruptController) finishInterrupt(source bus.InterruptSource, reason, responseID string) {
	log.Printf("[Interrupt] Triggering interrupt (source=%v, response=%s)", source, responseID)

	_, span := trace.StartSpan(context.Background(), "session.interrupt")
	defer span.End()
	span.SetAttributes(trace.InterruptAttrs(reason, responseID)...)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(ic.cfg.CancelTimeoutMs)*time.Millisecond)
	defer cancel()
	if err := ic.canceller.Interrupt(ctx); err != nil {
		log.Printf("[Interrupt] Vendor interrupt call failed: %v", err)
		trace.RecordError(span, err)
	}

	if ic.retractor != nil && responseID != "" {
		ic.retractor.Retract(responseID)
	}

	ic.b.Publish(bus.Event{
		Type: bus.EventInterrupted,
		Payload: &bus.InterruptPayload{
			Source:        source,
			ResponseID:    responseID,
			InterruptedAt: time.Now().UnixMilli(),
			Reason:        reason,
		},
	})
}

// AvatarSpeaking reports whether an avatar response is playing.
func (ic *InterruptController) AvatarSpeaking() bool {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.avatarSpeaking
}

// UserInterrupted reports whether the user is currently barging in.
func (ic *InterruptController) UserInterrupted() bool {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.userInterrupted
}
