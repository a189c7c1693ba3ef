package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// WhisperProvider implements Provider using OpenAI's Whisper API. It is
// the fallback path when the vendor does not push user transcripts:
// the turn segmenter buffers the user's speech and flushes it here as
// one segment per turn.
type WhisperProvider struct {
	client *openai.Client
	mu     sync.RWMutex
}

// NewWhisperProvider creates a new Whisper provider. An OPENAI_BASE_URL
// environment override is honored so the gateway proxy can front the
// API.
func NewWhisperProvider(apiKey string) (*WhisperProvider, error) {
	if apiKey == "" {
		return nil, &Error{
			Code:    ErrCodeInvalidConfig,
			Message: "OpenAI API key is required",
		}
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		clientConfig.BaseURL = baseURL
		log.Printf("[Whisper] Using BaseURL: %s", clientConfig.BaseURL)
	}

	return &WhisperProvider{
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Name returns the provider name.
func (w *WhisperProvider) Name() string {
	return "openai-whisper"
}

// Recognize transcribes a complete audio segment.
func (w *WhisperProvider) Recognize(ctx context.Context, audio io.Reader, audioConfig AudioConfig, config RecognitionConfig) (*Result, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	audioData, err := io.ReadAll(audio)
	if err != nil {
		return nil, &Error{
			Code:    ErrCodeInvalidAudio,
			Message: "failed to read audio data",
			Err:     err,
		}
	}
	if len(audioData) == 0 {
		return nil, &Error{
			Code:    ErrCodeInvalidAudio,
			Message: "audio data is empty",
		}
	}

	// Whisper expects a container format; wrap raw PCM in a WAV header.
	var fileBytes []byte
	if audioConfig.Encoding == "pcm" || audioConfig.Encoding == "" {
		fileBytes = pcmToWAV(audioData, audioConfig)
	} else {
		fileBytes = audioData
	}

	req := openai.AudioRequest{
		Model:    config.Model,
		FilePath: "segment.wav",
		Reader:   bytes.NewReader(fileBytes),
		Prompt:   config.Prompt,
		Language: config.Language,
	}
	if req.Model == "" {
		req.Model = openai.Whisper1
	}

	start := time.Now()
	resp, err := w.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, &Error{
			Code:    ErrCodeProviderError,
			Message: "Whisper API request failed",
			Err:     err,
		}
	}

	return &Result{
		UtteranceID: uuid.NewString(),
		Text:        resp.Text,
		IsFinal:     true,
		Confidence:  -1,
		Duration:    time.Since(start),
		Timestamp:   time.Now(),
	}, nil
}

// StreamingRecognize creates a segment-buffering recognizer. Whisper
// has no native streaming; audio accumulates until Flush, which the
// caller invokes at each VAD turn end.
func (w *WhisperProvider) StreamingRecognize(ctx context.Context, audioConfig AudioConfig, config RecognitionConfig) (StreamingRecognizer, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rctx, cancel := context.WithCancel(ctx)
	r := &whisperSegmentRecognizer{
		provider:    w,
		audioConfig: audioConfig,
		config:      config,
		resultsChan: make(chan *Result, 10),
		ctx:         rctx,
		cancel:      cancel,
	}
	return r, nil
}

// SupportsStreaming indicates native streaming support.
func (w *WhisperProvider) SupportsStreaming() bool {
	return false
}

// Close releases resources held by the provider.
func (w *WhisperProvider) Close() error {
	return nil
}

// whisperSegmentRecognizer buffers one user turn at a time and
// transcribes it on Flush.
type whisperSegmentRecognizer struct {
	provider    *WhisperProvider
	audioConfig AudioConfig
	config      RecognitionConfig
	resultsChan chan *Result
	ctx         context.Context
	cancel      context.CancelFunc

	mu     sync.Mutex
	buffer []byte
	closed bool

	errMu     sync.Mutex
	streamErr error
}

// SendAudio appends audio to the current segment buffer.
func (r *whisperSegmentRecognizer) SendAudio(ctx context.Context, audioData []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &Error{
			Code:    ErrCodeProviderError,
			Message: "recognizer is closed",
		}
	}
	r.buffer = append(r.buffer, audioData...)
	return nil
}

// Flush transcribes the buffered segment and clears the buffer. Very
// short buffers are discarded as VAD noise.
func (r *whisperSegmentRecognizer) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &Error{
			Code:    ErrCodeProviderError,
			Message: "recognizer is closed",
		}
	}
	segment := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	minBytes := r.audioConfig.SampleRate * 2 / 10 // 100ms
	if len(segment) < minBytes {
		return nil
	}

	result, err := r.provider.Recognize(ctx, bytes.NewReader(segment), r.audioConfig, r.config)
	if err != nil {
		log.Printf("[Whisper] Segment recognition failed: %v", err)
		r.errMu.Lock()
		r.streamErr = err
		r.errMu.Unlock()
		return err
	}
	if result.Text == "" {
		return nil
	}

	select {
	case r.resultsChan <- result:
	case <-r.ctx.Done():
		return r.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Results returns the result channel.
func (r *whisperSegmentRecognizer) Results() <-chan *Result {
	return r.resultsChan
}

// Err returns the last recognition error, if any.
func (r *whisperSegmentRecognizer) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.streamErr
}

// Close stops recognition. Buffered audio is discarded.
func (r *whisperSegmentRecognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.buffer = nil
	r.mu.Unlock()

	r.cancel()
	close(r.resultsChan)
	return nil
}

var _ StreamingRecognizer = (*whisperSegmentRecognizer)(nil)

// WhisperSegmentRecognizer exposes the Flush operation for VAD-driven
// segment completion.
type WhisperSegmentRecognizer interface {
	StreamingRecognizer
	Flush(ctx context.Context) error
}

var _ WhisperSegmentRecognizer = (*whisperSegmentRecognizer)(nil)

// pcmToWAV wraps raw little-endian PCM in a minimal WAV header.
func pcmToWAV(pcmData []byte, config AudioConfig) []byte {
	channels := config.Channels
	if channels == 0 {
		channels = 1
	}
	bitsPerSample := config.BitsPerSample
	if bitsPerSample == 0 {
		bitsPerSample = 16
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(config.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(config.SampleRate*channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}
