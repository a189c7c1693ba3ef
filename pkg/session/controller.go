package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solace-ai/solace/pkg/audio"
	"github.com/solace-ai/solace/pkg/avatar"
	"github.com/solace-ai/solace/pkg/bus"
	"github.com/solace-ai/solace/pkg/media"
	"github.com/solace-ai/solace/pkg/stt"
	"github.com/solace-ai/solace/pkg/trace"
	"github.com/solace-ai/solace/pkg/transcript"
	"github.com/solace-ai/solace/pkg/vad"
)

// ConnectionStatus is the session's connection lifecycle state.
type ConnectionStatus string

const (
	StatusIdle         ConnectionStatus = "idle"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReady        ConnectionStatus = "ready"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusFailed       ConnectionStatus = "failed"
)

// ConversationState is the externally visible session snapshot.
type ConversationState struct {
	ConnectionStatus     ConnectionStatus
	AvatarSpeaking       bool
	UserInterrupted      bool
	PendingAttachRetries int
}

// Config holds the session tuning. All vendor credentials arrive here
// explicitly; there is no ambient configuration.
type Config struct {
	SessionID string

	Avatar     avatar.Config
	Interrupt  InterruptConfig
	Capture    audio.CaptureConfig
	Media      media.Config
	Reconciler transcript.ReconcilerConfig

	// InterruptVAD reacts fast for barge-in; TurnVAD waits out pauses
	// so the trainee can finish a sentence.
	InterruptVAD vad.SegmenterConfig
	TurnVAD      vad.SegmenterConfig

	// STT configures the fallback recognizer, when one is wired.
	STT stt.RecognitionConfig
}

// DefaultConfig returns the production session tuning.
func DefaultConfig() Config {
	return Config{
		SessionID:    uuid.NewString(),
		Interrupt:    DefaultInterruptConfig(),
		Capture:      audio.DefaultCaptureConfig(),
		Media:        media.DefaultConfig(),
		Reconciler:   transcript.DefaultReconcilerConfig(),
		InterruptVAD: vad.InterruptSegmenterConfig(),
		TurnVAD:      vad.TurnSegmenterConfig(),
		STT:          stt.RecognitionConfig{Language: "en", EnableInterimResults: true},
	}
}

// Deps are the injected collaborators. Zero-value fields fall back to
// the production implementations.
type Deps struct {
	// Bus carries all internal events. A private bus is created when
	// nil.
	Bus bus.Bus

	// CreateSession mints the vendor session. Defaults to
	// avatar.CreateSession.
	CreateSession func(ctx context.Context, cfg avatar.Config) (avatar.Session, error)

	// OpenMicrophone opens the capture source. Defaults to
	// audio.OpenMicrophone.
	OpenMicrophone func(cfg audio.CaptureConfig) (audio.Source, error)

	// NewDetector constructs one VAD detector instance. Defaults to
	// the adaptive energy detector.
	NewDetector func() (vad.Detector, error)

	// FallbackSTT, when set, transcribes the user independently of the
	// vendor's own recognition.
	FallbackSTT stt.Provider

	// Stream is the incoming media stream handle, attached when the
	// vendor announces stream readiness.
	Stream media.Stream
}

// Controller orchestrates one conversation session end to end.
type Controller struct {
	cfg  Config
	deps Deps

	// OnTranscript receives the reconciled transcript stream.
	OnTranscript func(entry transcript.Entry)

	// OnStatus receives connection status changes.
	OnStatus func(status ConnectionStatus)

	// OnError receives user-facing errors.
	OnError func(err error)

	mu          sync.Mutex
	status      ConnectionStatus
	initialized bool
	ended       bool

	b          bus.Bus
	ownBus     bool
	sess       avatar.Session
	reconciler *transcript.Reconciler
	interrupts *InterruptController
	mediaMgr   *media.Manager
	mic        audio.Source
	recognizer stt.StreamingRecognizer
	avatarRec  stt.StreamingRecognizer
	preroll    *audio.RingBuffer
	inSpeech   bool

	segInterrupt *vad.Segmenter
	segTurn      *vad.Segmenter
	detectors    []vad.Detector

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	teardown []func()
}

// NewController creates an uninitialized controller.
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		status: StatusIdle,
	}
}

// Initialize opens the vendor session and wires the full pipeline:
// microphone, both VAD segmenters, interruption, transcription sources,
// the reconciler and media attachment against the given sink. Resources
// are recorded in acquisition order; EndSession releases them in
// reverse.
func (c *Controller) Initialize(ctx context.Context, sink media.VideoSink) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return fmt.Errorf("session already initialized")
	}
	if c.ended {
		c.mu.Unlock()
		return fmt.Errorf("session already ended")
	}
	c.initialized = true
	c.mu.Unlock()

	ctx, span := trace.StartSpan(ctx, "session.initialize")
	defer span.End()
	span.SetAttributes(trace.SessionAttrs(c.cfg.SessionID)...)

	c.setStatus(StatusConnecting)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.pushTeardown(cancel)

	// Event bus.
	c.b = c.deps.Bus
	if c.b == nil {
		c.b = bus.NewEventBus()
		c.ownBus = true
		c.b.Start(runCtx)
		c.pushTeardown(func() { c.b.Stop() })
	}

	// Vendor session.
	createSession := c.deps.CreateSession
	if createSession == nil {
		createSession = avatar.CreateSession
	}
	sess, err := createSession(ctx, c.cfg.Avatar)
	if err != nil {
		trace.RecordError(span, err)
		c.fail(fmt.Errorf("session create failed: %w", err))
		c.runTeardown()
		return err
	}
	c.sess = sess
	c.pushTeardown(func() { sess.Close() })

	// Reconciler.
	c.reconciler = transcript.NewReconciler(c.cfg.Reconciler, c.b)
	c.reconciler.OnEntry = func(entry transcript.Entry) {
		if c.OnTranscript != nil {
			c.OnTranscript(entry)
		}
	}

	// Media attachment.
	mediaCfg := c.cfg.Media
	mediaCfg.SessionID = c.cfg.SessionID
	c.mediaMgr = media.NewManager(sink, mediaCfg, c.b)
	c.mediaMgr.OnReady = func() { c.setStatus(StatusReady) }
	c.mediaMgr.OnFailed = func(err error) { c.fail(err) }
	c.pushTeardown(func() { c.mediaMgr.Close() })

	// Interruption.
	c.interrupts = NewInterruptController(c.cfg.Interrupt, c.b, sess, c.reconciler)
	c.interrupts.Start(runCtx)
	c.pushTeardown(func() { c.interrupts.Stop() })

	// VAD: two segmenters over the same microphone frames.
	newDetector := c.deps.NewDetector
	if newDetector == nil {
		newDetector = func() (vad.Detector, error) {
			return vad.NewEnergyDetector(vad.DefaultEnergyConfig())
		}
	}
	detInterrupt, err := newDetector()
	if err != nil {
		c.fail(fmt.Errorf("detector init failed: %w", err))
		c.runTeardown()
		return err
	}
	detTurn, err := newDetector()
	if err != nil {
		detInterrupt.Destroy()
		c.fail(fmt.Errorf("detector init failed: %w", err))
		c.runTeardown()
		return err
	}
	c.detectors = []vad.Detector{detInterrupt, detTurn}
	c.pushTeardown(func() {
		detInterrupt.Destroy()
		detTurn.Destroy()
	})

	interruptVAD := c.cfg.InterruptVAD
	interruptVAD.SessionID = c.cfg.SessionID
	c.segInterrupt = vad.NewSegmenter(interruptVAD, detInterrupt, c.b)
	c.pushTeardown(func() { c.segInterrupt.Close() })

	turnVAD := c.cfg.TurnVAD
	turnVAD.SessionID = c.cfg.SessionID
	// The turn segmenter publishes to no bus: its pair would collide
	// with the interrupt segmenter's events. It drives the reconciler
	// timing context and gates the fallback audio path directly.
	c.preroll = audio.NewRingBuffer(audio.CaptureSampleRate, prerollDurationMs)
	c.segTurn = vad.NewSegmenter(turnVAD, detTurn, nil)
	c.segTurn.OnSpeechStart = func(at time.Time, rms float64) {
		c.beginFallbackSegment(runCtx)
	}
	c.segTurn.OnSpeechEnd = func(at time.Time, audioMs int) {
		c.reconciler.NoteUserSpeechEnd(at)
		c.flushFallbackSegment(runCtx)
	}
	c.pushTeardown(func() { c.segTurn.Close() })

	// Fallback transcription.
	if c.deps.FallbackSTT != nil {
		if err := c.startFallbackSTT(runCtx); err != nil {
			// Degraded mode: vendor-pushed transcripts remain.
			log.Printf("[Session] Fallback STT unavailable: %v", err)
			c.reportError(err)
		}

		// Avatar-audio tap: the avatar's own speech, transcribed
		// independently of the vendor's pushed transcripts.
		if tappable, ok := c.deps.Stream.(audio.Tappable); ok {
			if err := c.startAvatarTap(runCtx, tappable); err != nil {
				log.Printf("[Session] Avatar tap unavailable, vendor transcripts only: %v", err)
			}
		}
	}

	// Microphone last: frames start flowing only once every consumer
	// is wired.
	openMic := c.deps.OpenMicrophone
	if openMic == nil {
		openMic = func(cfg audio.CaptureConfig) (audio.Source, error) {
			return audio.OpenMicrophone(cfg)
		}
	}
	mic, err := openMic(c.cfg.Capture)
	if err != nil {
		trace.RecordError(span, err)
		c.fail(fmt.Errorf("microphone open failed: %w", err))
		c.runTeardown()
		return err
	}
	c.mic = mic
	c.pushTeardown(func() { mic.Close() })
	mic.OnFrame(c.handleMicFrame)

	// Vendor events.
	c.wg.Add(1)
	go c.vendorEventLoop(runCtx)

	c.setStatus(StatusConnected)
	log.Printf("[Session] %s initialized", c.cfg.SessionID)
	return nil
}

// prerollDurationMs is how much audio is retained ahead of speechStart
// so the fallback recognizer does not lose word onsets: the turn
// segmenter confirms speech only after MinSpeechDurationMs has already
// elapsed.
const prerollDurationMs = 300

func (c *Controller) handleMicFrame(f *audio.Frame) {
	c.segInterrupt.HandleFrame(f)
	c.segTurn.HandleFrame(f)

	c.mu.Lock()
	recognizer := c.recognizer
	inSpeech := c.inSpeech
	c.mu.Unlock()
	if recognizer == nil {
		return
	}
	if !inSpeech {
		c.preroll.Write(f.Data)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	if err := recognizer.SendAudio(ctx, f.Data); err != nil {
		log.Printf("[Session] Fallback STT send failed: %v", err)
	}
	cancel()
}

// beginFallbackSegment opens the fallback audio path at turn speech
// start, replaying the buffered pre-roll first.
func (c *Controller) beginFallbackSegment(ctx context.Context) {
	c.mu.Lock()
	c.inSpeech = true
	recognizer := c.recognizer
	c.mu.Unlock()
	if recognizer == nil {
		return
	}
	pre := c.preroll.Drain()
	if len(pre) == 0 {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	if err := recognizer.SendAudio(sendCtx, pre); err != nil {
		log.Printf("[Session] Fallback STT pre-roll send failed: %v", err)
	}
	cancel()
}

func (c *Controller) startFallbackSTT(ctx context.Context) error {
	recognizer, err := c.deps.FallbackSTT.StreamingRecognize(ctx, stt.AudioConfig{
		SampleRate:    audio.CaptureSampleRate,
		Channels:      1,
		Encoding:      "pcm",
		BitsPerSample: 16,
	}, c.cfg.STT)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.recognizer = recognizer
	c.mu.Unlock()
	c.pushTeardown(func() {
		recognizer.Close()
		c.mu.Lock()
		c.recognizer = nil
		c.mu.Unlock()
	})

	sourceID := c.deps.FallbackSTT.Name()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for result := range recognizer.Results() {
			c.reconciler.Ingest(transcript.Fragment{
				SourceID:      sourceID,
				Speaker:       transcript.SpeakerUser,
				Text:          result.Text,
				IsFinal:       result.IsFinal,
				CorrelationID: result.UtteranceID,
				EmittedAt:     result.Timestamp,
			})
		}
		// Stream over: a terminal error is reported once, never
		// silently retried.
		if err := recognizer.Err(); err != nil {
			c.reportError(err)
		}
	}()
	return nil
}

// flushFallbackSegment closes the fallback audio path at turn speech
// end and completes the buffered turn on recognizers without native
// streaming.
func (c *Controller) flushFallbackSegment(ctx context.Context) {
	c.mu.Lock()
	c.inSpeech = false
	recognizer := c.recognizer
	c.mu.Unlock()
	flushSegment(ctx, recognizer)
}

// startAvatarTap transcribes the avatar's outgoing speech from the
// decoded media audio; vendor transcript pushes cover the same content
// unreliably, and the reconciler's dedup absorbs the overlap.
// ErrTapUnavailable degrades to vendor-pushed transcripts only.
func (c *Controller) startAvatarTap(ctx context.Context, t audio.Tappable) error {
	tap, err := audio.TapStream(t, audio.CaptureSampleRate, c.cfg.Capture.FrameSamples)
	if err != nil {
		return err
	}

	recognizer, err := c.deps.FallbackSTT.StreamingRecognize(ctx, stt.AudioConfig{
		SampleRate:    audio.CaptureSampleRate,
		Channels:      1,
		Encoding:      "pcm",
		BitsPerSample: 16,
	}, c.cfg.STT)
	if err != nil {
		tap.Close()
		return err
	}

	c.mu.Lock()
	c.avatarRec = recognizer
	c.mu.Unlock()
	c.pushTeardown(func() {
		tap.Close()
		recognizer.Close()
		c.mu.Lock()
		c.avatarRec = nil
		c.mu.Unlock()
	})

	tap.OnFrame(func(f *audio.Frame) {
		sendCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		if err := recognizer.SendAudio(sendCtx, f.Data); err != nil {
			log.Printf("[Session] Avatar tap send failed: %v", err)
		}
		cancel()
	})

	sourceID := c.deps.FallbackSTT.Name() + "-tap"
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for result := range recognizer.Results() {
			c.reconciler.Ingest(transcript.Fragment{
				SourceID:      sourceID,
				Speaker:       transcript.SpeakerAvatar,
				Text:          result.Text,
				IsFinal:       result.IsFinal,
				CorrelationID: result.UtteranceID,
				EmittedAt:     result.Timestamp,
			})
		}
		if err := recognizer.Err(); err != nil {
			c.reportError(err)
		}
	}()

	log.Printf("[Session] Avatar audio tap transcribing via %s", sourceID)
	return nil
}

// flushAvatarSegment completes the tap's buffered segment when the
// avatar stops talking.
func (c *Controller) flushAvatarSegment(ctx context.Context) {
	c.mu.Lock()
	recognizer := c.avatarRec
	c.mu.Unlock()
	flushSegment(ctx, recognizer)
}

// flushSegment completes a buffered segment on recognizers without
// native streaming.
func flushSegment(ctx context.Context, recognizer stt.StreamingRecognizer) {
	if wr, ok := recognizer.(stt.WhisperSegmentRecognizer); ok {
		go func() {
			if err := wr.Flush(ctx); err != nil {
				log.Printf("[Session] Segment flush failed: %v", err)
			}
		}()
	}
}

func (c *Controller) vendorEventLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.sess.Events():
			if !ok {
				return
			}
			c.handleVendorEvent(ctx, event)
		}
	}
}

func (c *Controller) handleVendorEvent(ctx context.Context, event avatar.Event) {
	switch event.Kind {
	case avatar.KindStreamReady:
		if err := c.mediaMgr.Attach(c.deps.Stream); err != nil {
			c.reportError(err)
		}

	case avatar.KindAvatarStartTalking:
		c.reconciler.NoteAvatarSpeaking(event.At)
		c.b.Publish(bus.Event{
			Type:    bus.EventResponseStart,
			Payload: &bus.ResponsePayload{ResponseID: event.ResponseID},
		})

	case avatar.KindAvatarStopTalking:
		c.b.Publish(bus.Event{
			Type:    bus.EventResponseEnd,
			Payload: &bus.ResponsePayload{ResponseID: event.ResponseID},
		})
		c.flushAvatarSegment(ctx)

	case avatar.KindAvatarTranscript:
		c.reconciler.NoteAvatarSpeaking(event.At)
		c.reconciler.Ingest(transcript.Fragment{
			SourceID:      "vendor",
			Speaker:       transcript.SpeakerAvatar,
			Text:          event.Text,
			IsFinal:       event.IsFinal,
			CorrelationID: event.ResponseID,
			EmittedAt:     event.At,
		})

	case avatar.KindUserTranscript:
		// The vendor's own user recognition; the reconciler's dedup
		// absorbs overlap with the fallback recognizer.
		c.reconciler.Ingest(transcript.Fragment{
			SourceID:      "vendor",
			Speaker:       transcript.SpeakerUser,
			Text:          event.Text,
			IsFinal:       event.IsFinal,
			CorrelationID: event.ResponseID,
			EmittedAt:     event.At,
		})

	case avatar.KindDisconnected:
		log.Printf("[Session] %s vendor disconnected", c.cfg.SessionID)
		c.setStatus(StatusDisconnected)
	}
}

// Speak forwards text to the avatar. Recognized user speech is never
// auto-forwarded here: one utterance travels exactly one path to the
// vendor.
func (c *Controller) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	if !c.initialized || c.ended {
		c.mu.Unlock()
		return fmt.Errorf("session not active")
	}
	sess := c.sess
	c.mu.Unlock()
	return sess.Speak(ctx, text)
}

// Interrupt fires the barge-in path on behalf of the UI.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	interrupts := c.interrupts
	c.mu.Unlock()
	if interrupts != nil {
		interrupts.TriggerManualInterrupt()
	}
}

// State returns the externally visible session snapshot.
func (c *Controller) State() ConversationState {
	c.mu.Lock()
	state := ConversationState{ConnectionStatus: c.status}
	interrupts := c.interrupts
	mediaMgr := c.mediaMgr
	c.mu.Unlock()

	if interrupts != nil {
		state.AvatarSpeaking = interrupts.AvatarSpeaking()
		state.UserInterrupted = interrupts.UserInterrupted()
	}
	if mediaMgr != nil {
		state.PendingAttachRetries = mediaMgr.Attempts()
	}
	return state
}

// EndSession releases every owned resource in reverse-acquisition
// order. Idempotent, safe to call before Initialize completed.
func (c *Controller) EndSession() error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return nil
	}
	c.ended = true
	c.mu.Unlock()

	log.Printf("[Session] %s ending", c.cfg.SessionID)
	c.runTeardown()
	c.wg.Wait()
	c.setStatus(StatusDisconnected)
	return nil
}

func (c *Controller) pushTeardown(fn func()) {
	c.mu.Lock()
	c.teardown = append(c.teardown, fn)
	c.mu.Unlock()
}

func (c *Controller) runTeardown() {
	c.mu.Lock()
	fns := c.teardown
	c.teardown = nil
	c.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func (c *Controller) setStatus(status ConnectionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	if c.b != nil {
		c.b.Publish(bus.Event{
			Type:    bus.EventStatus,
			Payload: &bus.StatusPayload{Status: string(status)},
		})
	}
	if c.OnStatus != nil {
		c.OnStatus(status)
	}
}

func (c *Controller) fail(err error) {
	c.setStatus(StatusFailed)
	c.reportError(err)
}

func (c *Controller) reportError(err error) {
	log.Printf("[Session] %s error: %v", c.cfg.SessionID, err)
	if c.OnError != nil {
		c.OnError(err)
	}
}
