package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-ai/solace/pkg/audio"
	"github.com/solace-ai/solace/pkg/avatar"
	"github.com/solace-ai/solace/pkg/media"
	"github.com/solace-ai/solace/pkg/stt"
	"github.com/solace-ai/solace/pkg/transcript"
	"github.com/solace-ai/solace/pkg/vad"
)

// fakeMic is an audio.Source driven by the test.
type fakeMic struct {
	mu       sync.Mutex
	handlers []audio.FrameHandler
	closed   bool
}

func (f *fakeMic) OnFrame(h audio.FrameHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeMic) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMic) emit(frame *audio.Frame) {
	f.mu.Lock()
	handlers := append([]audio.FrameHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(frame)
	}
}

func (f *fakeMic) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type testStream struct{ id string }

func (s testStream) ID() string { return s.id }

type controllerFixture struct {
	controller *Controller
	sess       *avatar.MockSession
	mic        *fakeMic
	sink       *media.MockSink
	detectors  []*vad.MockDetector
}

// newFixture wires a controller against mocks everywhere a device or
// network would sit. The detectors report silence unless probs is set.
func newFixture(t *testing.T, probs []float32) *controllerFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.SessionID = "test-session"
	cfg.Media = media.Config{
		MaxAttachAttempts: 3,
		FastCheckInterval: 5 * time.Millisecond,
		FastCheckCount:    3,
		SlowCheckInterval: 10 * time.Millisecond,
		AttemptWindow:     60 * time.Millisecond,
		UnmuteDelay:       20 * time.Millisecond,
	}
	// Segment boundaries resolve within a few frames in tests.
	cfg.InterruptVAD.MinSpeechDurationMs = 1
	cfg.InterruptVAD.SilenceDurationMs = 5
	cfg.TurnVAD.MinSpeechDurationMs = 1
	cfg.TurnVAD.SilenceDurationMs = 5

	f := &controllerFixture{
		sess: avatar.NewMockSession("vendor-1"),
		mic:  &fakeMic{},
		sink: media.NewMockSink(),
	}

	deps := Deps{
		CreateSession: func(ctx context.Context, _ avatar.Config) (avatar.Session, error) {
			return f.sess, nil
		},
		OpenMicrophone: func(_ audio.CaptureConfig) (audio.Source, error) {
			return f.mic, nil
		},
		NewDetector: func() (vad.Detector, error) {
			var det *vad.MockDetector
			if probs != nil {
				det = vad.NewMockDetectorWithSequence(probs)
			} else {
				det = vad.NewMockDetectorWithProb(0)
			}
			f.detectors = append(f.detectors, det)
			return det, nil
		},
		Stream: testStream{id: "stream-1"},
	}

	f.controller = NewController(cfg, deps)
	t.Cleanup(func() { f.controller.EndSession() })
	return f
}

func micFrame(at time.Time) *audio.Frame {
	samples := make([]int16, 320)
	return &audio.Frame{
		Data:       audio.Int16ToBytes(samples),
		SampleRate: audio.CaptureSampleRate,
		Timestamp:  at,
	}
}

func TestControllerInitialize(t *testing.T) {
	f := newFixture(t, nil)

	var statuses []ConnectionStatus
	var mu sync.Mutex
	f.controller.OnStatus = func(s ConnectionStatus) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))

	state := f.controller.State()
	assert.Equal(t, StatusConnected, state.ConnectionStatus)
	assert.False(t, state.AvatarSpeaking)

	mu.Lock()
	assert.Equal(t, []ConnectionStatus{StatusConnecting, StatusConnected}, statuses)
	mu.Unlock()

	// Second Initialize is refused.
	assert.Error(t, f.controller.Initialize(context.Background(), f.sink))
}

func TestControllerStreamReadyAttachesMedia(t *testing.T) {
	f := newFixture(t, nil)

	ready := make(chan struct{})
	f.controller.OnStatus = func(s ConnectionStatus) {
		if s == StatusReady {
			close(ready)
		}
	}

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))

	f.sess.Emit(avatar.Event{Kind: avatar.KindStreamReady, At: time.Now()})
	waitUntil(t, "sink attach", func() bool { return f.sink.AttachCount() > 0 })

	f.sink.SetState(media.SinkState{HasStream: true, Playing: true})

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ready status")
	}
	assert.Equal(t, StatusReady, f.controller.State().ConnectionStatus)
}

func TestControllerAvatarTranscriptFlow(t *testing.T) {
	f := newFixture(t, nil)

	var entries []transcript.Entry
	var mu sync.Mutex
	f.controller.OnTranscript = func(e transcript.Entry) {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
	}

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))

	now := time.Now()
	f.sess.Emit(avatar.Event{Kind: avatar.KindAvatarStartTalking, ResponseID: "r1", At: now})
	f.sess.Emit(avatar.Event{Kind: avatar.KindAvatarTranscript, Text: "I just", ResponseID: "r1", At: now})
	f.sess.Emit(avatar.Event{Kind: avatar.KindAvatarTranscript, Text: "I just miss her", IsFinal: true, ResponseID: "r1", At: now})

	waitUntil(t, "transcript entries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(entries) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, transcript.SpeakerAvatar, entries[0].Speaker)
	assert.True(t, entries[0].IsInterim)
	assert.Equal(t, "I just", entries[0].Text)
	assert.False(t, entries[1].IsInterim)
	assert.Equal(t, "I just miss her", entries[1].Text)
}

func TestControllerUserTranscriptDeduped(t *testing.T) {
	f := newFixture(t, nil)

	var entries []transcript.Entry
	var mu sync.Mutex
	f.controller.OnTranscript = func(e transcript.Entry) {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
	}

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))

	now := time.Now()
	f.sess.Emit(avatar.Event{Kind: avatar.KindUserTranscript, Text: "Yes, please.", IsFinal: true, ResponseID: "u1", At: now})
	f.sess.Emit(avatar.Event{Kind: avatar.KindUserTranscript, Text: "yes please", IsFinal: true, ResponseID: "u2", At: now.Add(100 * time.Millisecond)})

	waitUntil(t, "first entry", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(entries) >= 1
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, entries, 1)
	assert.Equal(t, transcript.SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "Yes, please.", entries[0].Text)
}

func TestControllerBargeIn(t *testing.T) {
	// Detectors report solid speech; a few frames cross the minimum
	// speech duration.
	f := newFixture(t, []float32{0.9})

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))

	f.sess.Emit(avatar.Event{Kind: avatar.KindAvatarStartTalking, ResponseID: "r1", At: time.Now()})
	waitUntil(t, "avatar speaking", func() bool { return f.controller.State().AvatarSpeaking })

	base := time.Now()
	for i := 0; i < 5; i++ {
		f.mic.emit(micFrame(base.Add(time.Duration(i) * 20 * time.Millisecond)))
	}

	waitUntil(t, "vendor interrupt", func() bool { return f.sess.InterruptCount() == 1 })
	waitUntil(t, "user interrupted", func() bool { return f.controller.State().UserInterrupted })
	assert.False(t, f.controller.State().AvatarSpeaking)
}

func TestControllerSpeak(t *testing.T) {
	f := newFixture(t, nil)

	// Before Initialize.
	assert.Error(t, f.controller.Speak(context.Background(), "hello"))

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))
	require.NoError(t, f.controller.Speak(context.Background(), "hello"))
	assert.Equal(t, []string{"hello"}, f.sess.Spoken())

	require.NoError(t, f.controller.EndSession())
	assert.Error(t, f.controller.Speak(context.Background(), "after end"))
}

func TestControllerVendorDisconnect(t *testing.T) {
	f := newFixture(t, nil)

	disconnected := make(chan struct{})
	f.controller.OnStatus = func(s ConnectionStatus) {
		if s == StatusDisconnected {
			close(disconnected)
		}
	}

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))

	f.sess.Emit(avatar.Event{Kind: avatar.KindDisconnected, At: time.Now()})

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect status")
	}
}

func TestControllerEndSession(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))
	require.NoError(t, f.controller.EndSession())

	assert.True(t, f.sess.Closed())
	assert.True(t, f.mic.isClosed())
	for _, det := range f.detectors {
		assert.True(t, det.DestroyCalled)
	}
	assert.Equal(t, StatusDisconnected, f.controller.State().ConnectionStatus)

	// Idempotent.
	require.NoError(t, f.controller.EndSession())
}

func TestControllerEndSessionBeforeInitialize(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.controller.EndSession())
	assert.Error(t, f.controller.Initialize(context.Background(), f.sink))
}

// fakeSegmentRecognizer records the audio it is handed and counts
// flushes. It satisfies stt.WhisperSegmentRecognizer.
type fakeSegmentRecognizer struct {
	mu      sync.Mutex
	chunks  [][]byte
	flushes int
	results chan *stt.Result
}

func newFakeSegmentRecognizer() *fakeSegmentRecognizer {
	return &fakeSegmentRecognizer{results: make(chan *stt.Result)}
}

func (r *fakeSegmentRecognizer) SendAudio(ctx context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, append([]byte(nil), data...))
	return nil
}

func (r *fakeSegmentRecognizer) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

func (r *fakeSegmentRecognizer) Results() <-chan *stt.Result { return r.results }
func (r *fakeSegmentRecognizer) Err() error                  { return nil }

func (r *fakeSegmentRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results != nil {
		close(r.results)
		r.results = nil
	}
	return nil
}

func (r *fakeSegmentRecognizer) chunkSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, len(r.chunks))
	for i, c := range r.chunks {
		sizes[i] = len(c)
	}
	return sizes
}

func (r *fakeSegmentRecognizer) flushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

// fakeFallbackProvider hands out its recognizers in order, one per
// StreamingRecognize call.
type fakeFallbackProvider struct {
	mu          sync.Mutex
	recognizers []*fakeSegmentRecognizer
	requests    int
}

func (p *fakeFallbackProvider) Name() string { return "fake-stt" }

func (p *fakeFallbackProvider) Recognize(ctx context.Context, reader io.Reader, audioConfig stt.AudioConfig, config stt.RecognitionConfig) (*stt.Result, error) {
	return nil, nil
}

func (p *fakeFallbackProvider) StreamingRecognize(ctx context.Context, audioConfig stt.AudioConfig, config stt.RecognitionConfig) (stt.StreamingRecognizer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requests >= len(p.recognizers) {
		return nil, errors.New("no recognizer configured")
	}
	r := p.recognizers[p.requests]
	p.requests++
	return r, nil
}

func (p *fakeFallbackProvider) requested() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

func (p *fakeFallbackProvider) SupportsStreaming() bool { return false }
func (p *fakeFallbackProvider) Close() error            { return nil }

// tappableStream is a media stream whose decoded audio the test pushes
// through the tap.
type tappableStream struct {
	id         string
	tapRefused bool

	mu       sync.Mutex
	tap      func(pcm []byte, sampleRate int)
	released bool
}

func (s *tappableStream) ID() string { return s.id }

func (s *tappableStream) TapPCM(fn func(pcm []byte, sampleRate int)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tapRefused || s.tap != nil {
		return nil, audio.ErrTapUnavailable
	}
	s.tap = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.released = true
		s.tap = nil
	}, nil
}

func (s *tappableStream) push(pcm []byte, sampleRate int) {
	s.mu.Lock()
	tap := s.tap
	s.mu.Unlock()
	if tap != nil {
		tap(pcm, sampleRate)
	}
}

func (s *tappableStream) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func TestControllerFallbackAudioGating(t *testing.T) {
	var probMu sync.Mutex
	prob := float32(0)
	setProb := func(p float32) {
		probMu.Lock()
		prob = p
		probMu.Unlock()
	}

	f := newFixture(t, nil)
	recognizer := newFakeSegmentRecognizer()
	f.controller.deps.FallbackSTT = &fakeFallbackProvider{recognizers: []*fakeSegmentRecognizer{recognizer}}
	f.controller.deps.NewDetector = func() (vad.Detector, error) {
		return &vad.MockDetector{
			InferFunc: func(samples []float32) (float32, error) {
				probMu.Lock()
				defer probMu.Unlock()
				return prob, nil
			},
		}, nil
	}

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))

	// Silence: frames accumulate in the pre-roll, none reach the
	// recognizer.
	base := time.Now()
	for i := 0; i < 3; i++ {
		f.mic.emit(micFrame(base.Add(time.Duration(i) * 20 * time.Millisecond)))
	}
	assert.Empty(t, recognizer.chunkSizes())

	// Speech: speechStart fires one frame in, draining the pre-roll
	// (including the first voiced frame) before frames stream through.
	setProb(0.9)
	for i := 3; i < 6; i++ {
		f.mic.emit(micFrame(base.Add(time.Duration(i) * 20 * time.Millisecond)))
	}
	frameBytes := 320 * 2
	assert.Equal(t, []int{4 * frameBytes, frameBytes, frameBytes}, recognizer.chunkSizes())

	// Silence again: one frame passes before speechEnd fires, then the
	// segment flushes and frames stop reaching the recognizer.
	setProb(0)
	for i := 6; i < 9; i++ {
		f.mic.emit(micFrame(base.Add(time.Duration(i) * 20 * time.Millisecond)))
	}
	waitUntil(t, "segment flush", func() bool { return recognizer.flushCount() == 1 })
	assert.Len(t, recognizer.chunkSizes(), 4)
}

func TestControllerAvatarTapTranscription(t *testing.T) {
	f := newFixture(t, nil)
	userRec := newFakeSegmentRecognizer()
	tapRec := newFakeSegmentRecognizer()
	provider := &fakeFallbackProvider{recognizers: []*fakeSegmentRecognizer{userRec, tapRec}}
	stream := &tappableStream{id: "stream-1"}
	f.controller.deps.FallbackSTT = provider
	f.controller.deps.Stream = stream

	var entries []transcript.Entry
	var mu sync.Mutex
	f.controller.OnTranscript = func(e transcript.Entry) {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
	}

	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))
	require.Equal(t, 2, provider.requested())

	// Decoded avatar audio flows through the tap into its recognizer;
	// the user-audio recognizer never sees it.
	frameBytes := f.controller.cfg.Capture.FrameSamples * 2
	stream.push(make([]byte, frameBytes), audio.CaptureSampleRate)
	waitUntil(t, "tap audio", func() bool { return len(tapRec.chunkSizes()) == 1 })
	assert.Equal(t, []int{frameBytes}, tapRec.chunkSizes())
	assert.Empty(t, userRec.chunkSizes())

	// Tap results surface as avatar speech.
	tapRec.results <- &stt.Result{UtteranceID: "t1", Text: "I was not ready", IsFinal: true, Timestamp: time.Now()}
	waitUntil(t, "transcript entry", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(entries) == 1
	})
	mu.Lock()
	assert.Equal(t, transcript.SpeakerAvatar, entries[0].Speaker)
	assert.Equal(t, "I was not ready", entries[0].Text)
	mu.Unlock()

	// The avatar stopping flushes buffered segment recognizers.
	f.sess.Emit(avatar.Event{Kind: avatar.KindAvatarStopTalking, ResponseID: "r1", At: time.Now()})
	waitUntil(t, "tap flush", func() bool { return tapRec.flushCount() == 1 })

	require.NoError(t, f.controller.EndSession())
	assert.True(t, stream.isReleased())
}

func TestControllerAvatarTapUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	userRec := newFakeSegmentRecognizer()
	provider := &fakeFallbackProvider{recognizers: []*fakeSegmentRecognizer{userRec}}
	stream := &tappableStream{id: "stream-1", tapRefused: true}
	f.controller.deps.FallbackSTT = provider
	f.controller.deps.Stream = stream

	// Tap refusal is absorbed: the session comes up on vendor-pushed
	// transcripts, and no second recognizer is spun up.
	require.NoError(t, f.controller.Initialize(context.Background(), f.sink))
	assert.Equal(t, StatusConnected, f.controller.State().ConnectionStatus)
	assert.Equal(t, 1, provider.requested())
}

func TestControllerSessionCreateFailure(t *testing.T) {
	f := newFixture(t, nil)

	createErr := assert.AnError
	f.controller.deps.CreateSession = func(ctx context.Context, _ avatar.Config) (avatar.Session, error) {
		return nil, createErr
	}

	var gotErr error
	f.controller.OnError = func(err error) { gotErr = err }

	err := f.controller.Initialize(context.Background(), f.sink)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, f.controller.State().ConnectionStatus)
	assert.ErrorIs(t, gotErr, createErr)
}
