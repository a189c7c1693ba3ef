//go:build vad

package vad

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"
)

// SileroConfig configures the Silero model detector.
type SileroConfig struct {
	ModelPath string
	// SampleRate must be 8000 or 16000.
	SampleRate int
	Threshold  float32
}

// SileroDetector wraps the Silero VAD model. Heavier and far more
// robust to non-stationary noise than the energy detector; requires the
// ONNX runtime, hence the build tag.
type SileroDetector struct {
	detector *speech.Detector
}

// NewSileroDetector loads the Silero model from cfg.ModelPath.
func NewSileroDetector(cfg SileroConfig) (*SileroDetector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create silero detector: %w", err)
	}

	return &SileroDetector{detector: detector}, nil
}

// Infer returns 1 if the model found a speech segment in the chunk and
// 0 otherwise. The segmenter's own duration hysteresis smooths this
// binary signal into stable start/end events.
func (d *SileroDetector) Infer(samples []float32) (float32, error) {
	segments, err := d.detector.Detect(samples)
	if err != nil {
		return 0, err
	}
	for _, seg := range segments {
		if seg.SpeechStartAt > 0 || seg.SpeechEndAt > 0 {
			return 1, nil
		}
	}
	return 0, nil
}

// Reset clears the model's internal state.
func (d *SileroDetector) Reset() error {
	return d.detector.Reset()
}

// Destroy releases the model.
func (d *SileroDetector) Destroy() error {
	return d.detector.Destroy()
}

var _ Detector = (*SileroDetector)(nil)
