// Package vad provides voice activity detection for the conversation
// session. The default detector is a pure-Go adaptive energy detector;
// a Silero model detector is available behind the `vad` build tag. The
// Segmenter turns per-frame detections into speechStart/speechEnd
// events on the session bus.
package vad

// Detector infers the probability that an audio chunk contains speech.
// Implementations keep internal state across calls and are not safe for
// concurrent use; a detector belongs to exactly one Segmenter.
type Detector interface {
	// Infer returns a speech probability in [0, 1] for samples, which
	// are normalized float32 values in [-1, 1].
	Infer(samples []float32) (float32, error)

	// Reset clears internal state. Call when starting a new stream.
	Reset() error

	// Destroy releases detector resources. The detector must not be
	// used afterwards.
	Destroy() error
}
