// Package audio provides the audio frame sources for a conversation
// session: microphone capture, media-track taps, pre-roll buffering and
// resampling. All sources emit fixed-cadence PCM frames with precomputed
// amplitude so downstream consumers (VAD, STT) never touch raw devices.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Default frame size in samples. ~128ms at 16kHz, matching the buffer
// sizes the capture devices deliver comfortably.
const DefaultFrameSamples = 2048

// Frame is one fixed-size chunk of mono 16-bit PCM plus its amplitude.
// Frames are ephemeral: handlers must copy Data if they keep it.
type Frame struct {
	Data       []byte // little-endian S16 mono
	SampleRate int
	RMS        float64 // normalized to [0,1]
	Peak       float64 // normalized to [0,1]
	Timestamp  time.Time
}

// Samples returns the frame's PCM data as int16 samples.
func (f *Frame) Samples() []int16 {
	return BytesToInt16(f.Data)
}

// FrameHandler receives frames from a source. Handlers run on the
// source's delivery goroutine and must not block.
type FrameHandler func(*Frame)

// Source produces a live sequence of frames for as long as it is open.
type Source interface {
	// OnFrame registers a handler. Multiple handlers are supported;
	// each receives every frame.
	OnFrame(h FrameHandler)

	// Close releases device or graph resources. Idempotent: safe to
	// call multiple times, and safe even if the source never started.
	Close() error
}

// BytesToInt16 converts little-endian PCM bytes to int16 samples.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Int16ToBytes converts int16 samples to little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// Amplitude computes the normalized RMS and peak of PCM samples.
func Amplitude(samples []int16) (rms, peak float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return math.Sqrt(sum / float64(len(samples))), peak
}

// framer accumulates incoming PCM bytes and cuts them into fixed-size
// frames, computing amplitude per frame. Shared by the capture and tap
// sources.
type framer struct {
	sampleRate int
	frameBytes int
	pending    []byte
	handlers   []FrameHandler
}

func newFramer(sampleRate, frameSamples int) *framer {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	return &framer{
		sampleRate: sampleRate,
		frameBytes: frameSamples * 2,
		pending:    make([]byte, 0, frameSamples*4),
	}
}

func (f *framer) addHandler(h FrameHandler) {
	f.handlers = append(f.handlers, h)
}

// push appends PCM bytes and dispatches any complete frames.
func (f *framer) push(data []byte) {
	f.pending = append(f.pending, data...)
	for len(f.pending) >= f.frameBytes {
		chunk := make([]byte, f.frameBytes)
		copy(chunk, f.pending[:f.frameBytes])
		f.pending = f.pending[f.frameBytes:]

		rms, peak := Amplitude(BytesToInt16(chunk))
		frame := &Frame{
			Data:       chunk,
			SampleRate: f.sampleRate,
			RMS:        rms,
			Peak:       peak,
			Timestamp:  time.Now(),
		}
		for _, h := range f.handlers {
			h(frame)
		}
	}
}
