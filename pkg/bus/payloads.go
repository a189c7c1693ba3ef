package bus

import "time"

// VADPayload accompanies EventVADSpeechStart and EventVADSpeechEnd.
type VADPayload struct {
	SessionID string
	// Amplitude is the RMS level that triggered the transition.
	Amplitude float64
	// AudioMs is the length of the detected speech segment, only set on
	// speech end.
	AudioMs int
	At      time.Time
}

// ResponsePayload accompanies EventResponseStart and EventResponseEnd.
// ResponseID doubles as the correlation id grouping the avatar's transcript
// fragments for this response.
type ResponsePayload struct {
	ResponseID string
}

// InterruptSource identifies what triggered an interruption.
type InterruptSource int

const (
	InterruptSourceVAD InterruptSource = iota
	InterruptSourceVendor
	InterruptSourceClient
)

// InterruptPayload accompanies EventInterrupted.
type InterruptPayload struct {
	Source        InterruptSource
	ResponseID    string
	InterruptedAt int64 // unix millis
	Reason        string
}

// StreamPayload accompanies EventStreamReady.
type StreamPayload struct {
	SessionID string
}

// StatusPayload accompanies EventStatus.
type StatusPayload struct {
	Status string
}

// ErrorPayload accompanies EventError and EventWarning.
type ErrorPayload struct {
	Component string
	Err       error
}
