package audio

import (
	"errors"
	"log"
	"sync"
)

// ErrTapUnavailable reports that a stream already has a tap attached,
// typically because the vendor SDK owns the audio graph. Non-fatal: the
// caller falls back to vendor-pushed transcripts.
var ErrTapUnavailable = errors.New("audio: tap unavailable, stream already tapped")

// Tappable is implemented by media streams that can expose their decoded
// PCM to one observer without disturbing playback. TapPCM returns a
// release function, or ErrTapUnavailable if a tap is already attached.
type Tappable interface {
	TapPCM(fn func(pcm []byte, sampleRate int)) (release func(), err error)
}

// TapSource produces frames from the audio of a playing media stream,
// e.g. the avatar's outgoing speech, so it can be transcribed even when
// the vendor's own transcript callbacks are unreliable. The tapped
// audio keeps flowing to its normal destination; the tap only observes.
type TapSource struct {
	mu      sync.Mutex
	framer  *framer
	rs      *Resampler
	release func()
	closed  bool
}

// TapStream attaches a tap to the given stream. Audio arriving at a rate
// other than targetRate is resampled before framing. Returns
// ErrTapUnavailable if another owner already holds the stream's tap.
func TapStream(t Tappable, targetRate, frameSamples int) (*TapSource, error) {
	if targetRate == 0 {
		targetRate = CaptureSampleRate
	}

	s := &TapSource{
		framer: newFramer(targetRate, frameSamples),
	}

	release, err := t.TapPCM(func(pcm []byte, sampleRate int) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}

		data := pcm
		if sampleRate != targetRate {
			if s.rs == nil {
				rs, err := NewResampler(sampleRate, targetRate)
				if err != nil {
					log.Printf("[Tap] resampler init failed: %v", err)
					return
				}
				s.rs = rs
			}
			out, err := s.rs.Resample(pcm)
			if err != nil {
				log.Printf("[Tap] resample failed: %v", err)
				return
			}
			data = out
		}
		s.framer.push(data)
	})
	if err != nil {
		return nil, err
	}

	s.release = release
	log.Printf("[Tap] attached stream tap at %dHz", targetRate)
	return s, nil
}

// OnFrame registers a frame handler.
func (s *TapSource) OnFrame(h FrameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framer.addHandler(h)
}

// Close detaches the tap. Idempotent.
func (s *TapSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.release != nil {
		s.release()
		s.release = nil
	}
	if s.rs != nil {
		s.rs.Free()
		s.rs = nil
	}
	log.Printf("[Tap] stream tap released")
	return nil
}
