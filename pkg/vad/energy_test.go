package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constSamples(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestEnergyDetectorSilence(t *testing.T) {
	d, err := NewEnergyDetector(DefaultEnergyConfig())
	require.NoError(t, err)

	prob, err := d.Infer(constSamples(512, 0))
	require.NoError(t, err)
	assert.Equal(t, float32(0), prob)
}

func TestEnergyDetectorLoudInput(t *testing.T) {
	d, err := NewEnergyDetector(DefaultEnergyConfig())
	require.NoError(t, err)

	prob, err := d.Infer(constSamples(512, 0.5))
	require.NoError(t, err)
	assert.Equal(t, float32(1), prob)
}

func TestEnergyDetectorAdaptsToNoiseFloor(t *testing.T) {
	cfg := DefaultEnergyConfig()
	d, err := NewEnergyDetector(cfg)
	require.NoError(t, err)

	// Train the floor on sustained background noise just under the
	// base threshold.
	for i := 0; i < 200; i++ {
		_, err := d.Infer(constSamples(512, 0.010))
		require.NoError(t, err)
	}

	// A level that would clear the base threshold alone no longer
	// clears the adapted one.
	prob, err := d.Infer(constSamples(512, 0.014))
	require.NoError(t, err)
	assert.Equal(t, float32(0), prob)

	// Clearly voiced input still detects.
	prob, err = d.Infer(constSamples(512, 0.2))
	require.NoError(t, err)
	assert.Greater(t, prob, float32(0.9))
}

func TestEnergyDetectorReset(t *testing.T) {
	d, err := NewEnergyDetector(DefaultEnergyConfig())
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		d.Infer(constSamples(512, 0.010))
	}
	require.NoError(t, d.Reset())

	// After reset the base threshold applies again.
	prob, err := d.Infer(constSamples(512, 0.025))
	require.NoError(t, err)
	assert.Greater(t, prob, float32(0))
}

func TestEnergyDetectorInvalidConfig(t *testing.T) {
	_, err := NewEnergyDetector(EnergyConfig{BaseThreshold: 0})
	assert.Error(t, err)

	_, err = NewEnergyDetector(EnergyConfig{BaseThreshold: 0.01, NoiseMultiplier: 0.5})
	assert.Error(t, err)

	_, err = NewEnergyDetector(EnergyConfig{BaseThreshold: 0.01, NoiseMultiplier: 2, FloorAlpha: 1.5})
	assert.Error(t, err)
}

func TestEnergyDetectorEmptyInput(t *testing.T) {
	d, _ := NewEnergyDetector(DefaultEnergyConfig())
	_, err := d.Infer(nil)
	assert.Error(t, err)
}
