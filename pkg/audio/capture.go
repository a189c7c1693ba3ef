package audio

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"
)

const (
	CaptureSampleRate = 16000
	CaptureChannels   = 1
)

// Capture failure classes. PermissionDenied covers OS-level capture
// permission rejections; DeviceUnavailable covers hardware or driver
// failures.
var (
	ErrPermissionDenied  = errors.New("audio: capture permission denied")
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
)

// DefaultCaptureConfig returns the production capture tuning.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		FrameSamples: DefaultFrameSamples,
		PeriodMs:     20,
	}
}

// CaptureConfig configures a microphone capture source.
type CaptureConfig struct {
	// FrameSamples is the number of samples per emitted frame.
	// Defaults to DefaultFrameSamples.
	FrameSamples int

	// PeriodMs is the device callback period. Defaults to 20ms.
	PeriodMs int
}

// CaptureSource produces frames from the default capture device,
// mono 16kHz with the device's echo cancellation left to the OS.
type CaptureSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu     sync.Mutex
	framer *framer
	closed bool
}

// OpenMicrophone opens the default capture device and starts delivering
// frames to registered handlers.
func OpenMicrophone(cfg CaptureConfig) (*CaptureSource, error) {
	if cfg.PeriodMs == 0 {
		cfg.PeriodMs = 20
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s := &CaptureSource{
		ctx:    mctx,
		framer: newFramer(CaptureSampleRate, cfg.FrameSamples),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.PeriodMs)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = CaptureChannels
	deviceConfig.SampleRate = CaptureSampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, framecount uint32) {
			s.mu.Lock()
			if !s.closed {
				s.framer.push(inputSamples)
			}
			s.mu.Unlock()
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init device: %v", ErrDeviceUnavailable, err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: start device: %v", ErrDeviceUnavailable, err)
	}

	log.Printf("[Capture] microphone open: %dHz mono, period %dms", CaptureSampleRate, cfg.PeriodMs)
	return s, nil
}

// OnFrame registers a frame handler.
func (s *CaptureSource) OnFrame(h FrameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framer.addHandler(h)
}

// Close stops the device and releases the audio context. Idempotent.
func (s *CaptureSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
	log.Printf("[Capture] microphone closed")
	return nil
}
