package vad

import "sync"

// MockDetector is a Detector for tests. Behavior is customized through
// InferFunc; calls are recorded for verification.
type MockDetector struct {
	// InferFunc is called when Infer is invoked. If nil, Infer
	// returns 0 (no speech).
	InferFunc func(samples []float32) (float32, error)

	// InferCount is the number of Infer calls.
	InferCount int

	// ResetCalled and DestroyCalled track lifecycle calls.
	ResetCalled   bool
	DestroyCalled bool

	mu sync.Mutex
}

// NewMockDetectorWithProb returns a mock whose Infer always reports the
// given probability.
func NewMockDetectorWithProb(prob float32) *MockDetector {
	return &MockDetector{
		InferFunc: func(samples []float32) (float32, error) {
			return prob, nil
		},
	}
}

// NewMockDetectorWithSequence returns a mock that reports the given
// probabilities in order, cycling when exhausted.
func NewMockDetectorWithSequence(probs []float32) *MockDetector {
	idx := 0
	return &MockDetector{
		InferFunc: func(samples []float32) (float32, error) {
			if len(probs) == 0 {
				return 0, nil
			}
			prob := probs[idx]
			idx = (idx + 1) % len(probs)
			return prob, nil
		},
	}
}

// Infer implements Detector.
func (m *MockDetector) Infer(samples []float32) (float32, error) {
	m.mu.Lock()
	m.InferCount++
	m.mu.Unlock()

	if m.InferFunc != nil {
		return m.InferFunc(samples)
	}
	return 0, nil
}

// Reset implements Detector.
func (m *MockDetector) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCalled = true
	return nil
}

// Destroy implements Detector.
func (m *MockDetector) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DestroyCalled = true
	return nil
}

var _ Detector = (*MockDetector)(nil)
