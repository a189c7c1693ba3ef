package vad

import (
	"fmt"
	"math"
)

// EnergyConfig configures the adaptive energy detector.
type EnergyConfig struct {
	// BaseThreshold is the minimum RMS level treated as speech,
	// regardless of the learned noise floor.
	BaseThreshold float64

	// NoiseMultiplier scales the learned noise floor into the working
	// threshold: threshold = max(BaseThreshold, NoiseMultiplier*floor).
	NoiseMultiplier float64

	// FloorAlpha is the EMA coefficient for noise floor adaptation.
	FloorAlpha float64
}

// DefaultEnergyConfig returns the tuning used for 16kHz mono capture.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		BaseThreshold:   0.012,
		NoiseMultiplier: 2.5,
		FloorAlpha:      0.05,
	}
}

// EnergyDetector is a pure-Go RMS energy detector with an adaptive
// noise floor. The floor tracks quiet chunks only, so sustained speech
// does not raise the threshold underneath itself.
type EnergyDetector struct {
	cfg        EnergyConfig
	noiseFloor float64
}

// NewEnergyDetector creates an energy detector.
func NewEnergyDetector(cfg EnergyConfig) (*EnergyDetector, error) {
	if cfg.BaseThreshold <= 0 {
		return nil, fmt.Errorf("invalid BaseThreshold: %f", cfg.BaseThreshold)
	}
	if cfg.NoiseMultiplier < 1 {
		return nil, fmt.Errorf("invalid NoiseMultiplier: %f", cfg.NoiseMultiplier)
	}
	if cfg.FloorAlpha <= 0 || cfg.FloorAlpha >= 1 {
		return nil, fmt.Errorf("invalid FloorAlpha: %f", cfg.FloorAlpha)
	}
	return &EnergyDetector{cfg: cfg}, nil
}

// Infer maps the chunk's RMS level against the working threshold to a
// pseudo-probability: 0 well below the threshold, 1 well above it.
func (d *EnergyDetector) Infer(samples []float32) (float32, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("empty samples")
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	level := math.Sqrt(sum / float64(len(samples)))

	threshold := d.cfg.BaseThreshold
	if adaptive := d.noiseFloor * d.cfg.NoiseMultiplier; adaptive > threshold {
		threshold = adaptive
	}

	// Adapt the floor on quiet chunks only.
	if level < threshold {
		d.noiseFloor = d.noiseFloor*(1-d.cfg.FloorAlpha) + level*d.cfg.FloorAlpha
	}

	// Linear ramp from threshold to 2x threshold.
	prob := (level - threshold) / threshold
	if prob < 0 {
		prob = 0
	}
	if prob > 1 {
		prob = 1
	}
	return float32(prob), nil
}

// Reset clears the learned noise floor.
func (d *EnergyDetector) Reset() error {
	d.noiseFloor = 0
	return nil
}

// Destroy implements Detector. The energy detector holds no resources.
func (d *EnergyDetector) Destroy() error {
	return nil
}

var _ Detector = (*EnergyDetector)(nil)
