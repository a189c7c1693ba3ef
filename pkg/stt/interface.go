// Package stt provides a unified interface for streaming and batch
// speech-to-text providers used by the training session pipeline.
package stt

import (
	"context"
	"io"
	"time"
)

// Result is one recognition output, interim or final.
type Result struct {
	// UtteranceID correlates interim results with the final result of
	// the same utterance. A new id is issued after each final.
	UtteranceID string

	// Text is the recognized text so far.
	Text string

	// IsFinal indicates a final result (true) or interim (false).
	IsFinal bool

	// Confidence score (0.0-1.0) if available, otherwise -1.
	Confidence float32

	// Duration of the audio covered by this result.
	Duration time.Duration

	// Timestamp when the result was produced.
	Timestamp time.Time
}

// AudioConfig specifies the audio format for recognition.
type AudioConfig struct {
	// SampleRate in Hz (e.g., 16000)
	SampleRate int

	// Channels (1 for mono)
	Channels int

	// Encoding format (e.g., "pcm")
	Encoding string

	// BitsPerSample (e.g., 16)
	BitsPerSample int
}

// RecognitionConfig contains settings for speech recognition.
type RecognitionConfig struct {
	// Language code (e.g., "en", "en-US")
	Language string

	// Model to use (provider-specific)
	Model string

	// EnableInterimResults requests partial results during streaming.
	EnableInterimResults bool

	// Prompt or context to guide recognition, if the provider supports
	// it.
	Prompt string
}

// StreamingRecognizer handles continuous recognition from an audio
// stream.
type StreamingRecognizer interface {
	// SendAudio sends audio matching the AudioConfig given at creation.
	SendAudio(ctx context.Context, audioData []byte) error

	// Results returns the result channel. It is closed when the
	// recognizer is closed or the stream fails.
	Results() <-chan *Result

	// Err returns the terminal stream error, if any, after Results has
	// closed. Stream failures are surfaced here rather than retried.
	Err() error

	// Close stops recognition and releases resources.
	Close() error
}

// Provider is the main interface for speech-to-text backends.
type Provider interface {
	// Name returns the provider name (e.g., "deepgram",
	// "openai-whisper").
	Name() string

	// Recognize transcribes a complete buffered audio segment.
	Recognize(ctx context.Context, audio io.Reader, audioConfig AudioConfig, config RecognitionConfig) (*Result, error)

	// StreamingRecognize creates a streaming recognizer for continuous
	// audio input.
	StreamingRecognize(ctx context.Context, audioConfig AudioConfig, config RecognitionConfig) (StreamingRecognizer, error)

	// SupportsStreaming indicates native streaming support.
	SupportsStreaming() bool

	// Close releases resources held by the provider.
	Close() error
}

// Error is the error type for recognition operations.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInvalidConfig
	ErrCodeInvalidAudio
	ErrCodeAuthenticationFailed
	ErrCodeNetworkError
	ErrCodeProviderError
)
