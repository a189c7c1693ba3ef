package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-ai/solace/pkg/audio"
	"github.com/solace-ai/solace/pkg/bus"
)

func frameAt(ts time.Time) *audio.Frame {
	return &audio.Frame{
		Data:       make([]byte, 512*2),
		SampleRate: 16000,
		RMS:        0.1,
		Timestamp:  ts,
	}
}

// feed pushes frames every stepMs with the detector forced to the given
// probability, starting at from, and returns the time after the last
// frame.
func feed(s *Segmenter, probVar *float32, prob float32, from time.Time, stepMs, count int) time.Time {
	*probVar = prob
	ts := from
	for i := 0; i < count; i++ {
		s.HandleFrame(frameAt(ts))
		ts = ts.Add(time.Duration(stepMs) * time.Millisecond)
	}
	return ts
}

func newTestSegmenter(cfg SegmenterConfig) (*Segmenter, *float32, chan bus.Event, chan bus.Event) {
	var prob float32
	detector := &MockDetector{
		InferFunc: func(samples []float32) (float32, error) {
			return prob, nil
		},
	}

	b := bus.NewEventBus()
	starts := make(chan bus.Event, 10)
	ends := make(chan bus.Event, 10)
	b.Subscribe(bus.EventVADSpeechStart, starts)
	b.Subscribe(bus.EventVADSpeechEnd, ends)

	return NewSegmenter(cfg, detector, b), &prob, starts, ends
}

func TestSegmenterEmitsOneStartEndPair(t *testing.T) {
	cfg := DefaultSegmenterConfig() // minSpeech 200ms, silence 800ms
	s, prob, starts, ends := newTestSegmenter(cfg)

	t0 := time.Now()
	// 500ms of speech then 1s of silence, frames every 100ms.
	ts := feed(s, prob, 0.9, t0, 100, 6)
	feed(s, prob, 0.0, ts, 100, 11)

	assert.Len(t, starts, 1)
	assert.Len(t, ends, 1)

	end := <-ends
	payload := end.Payload.(*bus.VADPayload)
	assert.Greater(t, payload.AudioMs, 0)
}

func TestSegmenterShortBurstNeverStarts(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	s, prob, starts, _ := newTestSegmenter(cfg)

	t0 := time.Now()
	// Only 100ms above threshold: below the 200ms minimum.
	ts := feed(s, prob, 0.9, t0, 50, 2)
	feed(s, prob, 0.0, ts, 50, 10)

	assert.Len(t, starts, 0)
	assert.False(t, s.Speaking())
}

func TestSegmenterBriefSilenceDoesNotEndSegment(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	s, prob, starts, ends := newTestSegmenter(cfg)

	t0 := time.Now()
	ts := feed(s, prob, 0.9, t0, 100, 5) // speaking
	require.Len(t, starts, 1)

	// 300ms pause, below the 800ms silence requirement.
	ts = feed(s, prob, 0.0, ts, 100, 3)
	// Back to speech.
	feed(s, prob, 0.9, ts, 100, 5)

	assert.Len(t, ends, 0)
	assert.True(t, s.Speaking())
}

func TestSegmenterInterruptTuningIsFaster(t *testing.T) {
	fast, fprob, fstarts, _ := newTestSegmenter(InterruptSegmenterConfig())
	slow, sprob, sstarts, _ := newTestSegmenter(TurnSegmenterConfig())

	t0 := time.Now()
	// 160ms of voiced audio: enough for the interrupt tuning (150ms),
	// not for the turn tuning (200ms).
	feed(fast, fprob, 0.9, t0, 40, 5)
	feed(slow, sprob, 0.9, t0, 40, 5)

	assert.Len(t, fstarts, 1)
	assert.Len(t, sstarts, 0)
}

func TestSegmenterDirectCallbacks(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	s, prob, _, _ := newTestSegmenter(cfg)

	var startAt time.Time
	var endMs int
	s.OnSpeechStart = func(at time.Time, rms float64) { startAt = at }
	s.OnSpeechEnd = func(at time.Time, audioMs int) { endMs = audioMs }

	t0 := time.Now()
	ts := feed(s, prob, 0.9, t0, 100, 6)
	feed(s, prob, 0.0, ts, 100, 11)

	assert.False(t, startAt.IsZero())
	assert.Greater(t, endMs, 0)
}

func TestSegmenterCloseStopsProcessing(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	s, prob, starts, _ := newTestSegmenter(cfg)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	feed(s, prob, 0.9, time.Now(), 100, 10)
	assert.Len(t, starts, 0)
}

func TestSegmenterReset(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	s, prob, starts, _ := newTestSegmenter(cfg)

	feed(s, prob, 0.9, time.Now(), 100, 6)
	require.Len(t, starts, 1)
	require.True(t, s.Speaking())

	s.Reset()
	assert.False(t, s.Speaking())
}
