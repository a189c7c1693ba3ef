package vad

import (
	"log"
	"sync"
	"time"

	"github.com/solace-ai/solace/pkg/audio"
	"github.com/solace-ai/solace/pkg/bus"
)

// SegmenterConfig tunes the speech segmentation state machine. The
// session runs two segmenters over the same microphone frames: an
// interrupt-tuned one (react fast while the avatar is speaking) and a
// turn-tuned one (let the trainee finish long sentences).
type SegmenterConfig struct {
	SessionID string

	// SpeechProbability is the detector probability at or above which
	// a frame counts as voiced.
	SpeechProbability float32

	// MinSpeechDurationMs is how long voiced frames must persist
	// before speechStart fires. Filters coughs and pops.
	MinSpeechDurationMs int

	// SilenceDurationMs is how long unvoiced frames must persist
	// before speechEnd fires.
	SilenceDurationMs int
}

// DefaultSegmenterConfig is the general-purpose tuning.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SpeechProbability:   0.5,
		MinSpeechDurationMs: 200,
		SilenceDurationMs:   800,
	}
}

// InterruptSegmenterConfig reacts quickly for barge-in detection.
func InterruptSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SpeechProbability:   0.5,
		MinSpeechDurationMs: 150,
		SilenceDurationMs:   600,
	}
}

// TurnSegmenterConfig waits out long pauses so the trainee can finish a
// sentence before the turn is considered over.
func TurnSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SpeechProbability:   0.5,
		MinSpeechDurationMs: 200,
		SilenceDurationMs:   2000,
	}
}

// Segmenter consumes audio frames, runs the detector per frame and
// emits exactly one speechStart/speechEnd pair per speech segment.
// Purely reactive: all timing derives from frame timestamps, no timers
// of its own. HandleFrame must be called from a single goroutine (the
// frame source's delivery goroutine).
type Segmenter struct {
	cfg      SegmenterConfig
	detector Detector
	b        bus.Bus

	// Optional direct callbacks, invoked synchronously after the bus
	// publish. The interruption path uses these to avoid even the bus
	// hop on its latency-critical path.
	OnSpeechStart func(at time.Time, rms float64)
	OnSpeechEnd   func(at time.Time, audioMs int)

	mu          sync.Mutex
	speaking    bool
	voicedSince time.Time
	silentSince time.Time
	speechStart time.Time
	closed      bool
}

// NewSegmenter creates a segmenter publishing to b. The segmenter does
// not own the detector; the caller destroys it after Close.
func NewSegmenter(cfg SegmenterConfig, detector Detector, b bus.Bus) *Segmenter {
	if cfg.SpeechProbability == 0 {
		cfg.SpeechProbability = 0.5
	}
	return &Segmenter{
		cfg:      cfg,
		detector: detector,
		b:        b,
	}
}

// HandleFrame feeds one frame through the state machine. Registered as
// an audio.FrameHandler.
func (s *Segmenter) HandleFrame(f *audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	samples := f.Samples()
	floats := make([]float32, len(samples))
	for i, v := range samples {
		floats[i] = float32(v) / 32768.0
	}

	prob, err := s.detector.Infer(floats)
	if err != nil {
		log.Printf("[Segmenter] detector error: %v", err)
		return
	}

	ts := f.Timestamp
	if prob >= s.cfg.SpeechProbability {
		s.silentSince = time.Time{}
		if s.speaking {
			return
		}
		if s.voicedSince.IsZero() {
			s.voicedSince = ts
		}
		if ts.Sub(s.voicedSince) >= time.Duration(s.cfg.MinSpeechDurationMs)*time.Millisecond {
			s.speaking = true
			s.speechStart = s.voicedSince
			s.voicedSince = time.Time{}
			s.emitStart(ts, f.RMS)
		}
		return
	}

	// Unvoiced frame: a pending voiced run is broken.
	s.voicedSince = time.Time{}
	if !s.speaking {
		return
	}
	if s.silentSince.IsZero() {
		s.silentSince = ts
	}
	if ts.Sub(s.silentSince) >= time.Duration(s.cfg.SilenceDurationMs)*time.Millisecond {
		s.speaking = false
		audioMs := int(s.silentSince.Sub(s.speechStart) / time.Millisecond)
		s.silentSince = time.Time{}
		s.emitEnd(ts, audioMs)
	}
}

func (s *Segmenter) emitStart(at time.Time, rms float64) {
	log.Printf("[Segmenter] speech start (rms=%.3f)", rms)
	if s.b != nil {
		s.b.Publish(bus.Event{
			Type:      bus.EventVADSpeechStart,
			Timestamp: at,
			Payload: &bus.VADPayload{
				SessionID: s.cfg.SessionID,
				Amplitude: rms,
				At:        at,
			},
		})
	}
	if s.OnSpeechStart != nil {
		s.OnSpeechStart(at, rms)
	}
}

func (s *Segmenter) emitEnd(at time.Time, audioMs int) {
	log.Printf("[Segmenter] speech end (%dms)", audioMs)
	if s.b != nil {
		s.b.Publish(bus.Event{
			Type:      bus.EventVADSpeechEnd,
			Timestamp: at,
			Payload: &bus.VADPayload{
				SessionID: s.cfg.SessionID,
				AudioMs:   audioMs,
				At:        at,
			},
		})
	}
	if s.OnSpeechEnd != nil {
		s.OnSpeechEnd(at, audioMs)
	}
}

// Speaking reports whether the segmenter is currently inside a speech
// segment.
func (s *Segmenter) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Reset returns the state machine to silent and resets the detector.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.voicedSince = time.Time{}
	s.silentSince = time.Time{}
	_ = s.detector.Reset()
}

// Close stops the segmenter. Frames arriving afterwards are ignored.
// Safe to call multiple times and before any frame arrived.
func (s *Segmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
