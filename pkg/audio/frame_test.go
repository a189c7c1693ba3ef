package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmplitude(t *testing.T) {
	t.Run("silence", func(t *testing.T) {
		rms, peak := Amplitude(make([]int16, 512))
		assert.Equal(t, 0.0, rms)
		assert.Equal(t, 0.0, peak)
	})

	t.Run("full scale", func(t *testing.T) {
		samples := make([]int16, 512)
		for i := range samples {
			if i%2 == 0 {
				samples[i] = 32767
			} else {
				samples[i] = -32768
			}
		}
		rms, peak := Amplitude(samples)
		assert.InDelta(t, 1.0, rms, 0.01)
		assert.InDelta(t, 1.0, peak, 0.01)
	})

	t.Run("empty input", func(t *testing.T) {
		rms, peak := Amplitude(nil)
		assert.Equal(t, 0.0, rms)
		assert.Equal(t, 0.0, peak)
	})
}

func TestInt16BytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	assert.Equal(t, samples, BytesToInt16(Int16ToBytes(samples)))
}

// fakeTappable delivers PCM pushed by the test and enforces the
// single-tap ownership rule.
type fakeTappable struct {
	fn     func(pcm []byte, sampleRate int)
	rate   int
	tapped bool
}

func (f *fakeTappable) TapPCM(fn func(pcm []byte, sampleRate int)) (func(), error) {
	if f.tapped {
		return nil, ErrTapUnavailable
	}
	f.tapped = true
	f.fn = fn
	return func() { f.tapped = false }, nil
}

func (f *fakeTappable) push(pcm []byte) {
	if f.fn != nil {
		f.fn(pcm, f.rate)
	}
}

func TestTapSourceFraming(t *testing.T) {
	tap := &fakeTappable{rate: 16000}

	src, err := TapStream(tap, 16000, 512)
	require.NoError(t, err)
	defer src.Close()

	var frames []*Frame
	src.OnFrame(func(f *Frame) {
		frames = append(frames, f)
	})

	// 3 pushes of 384 samples each = 1152 samples -> exactly 2 frames
	// of 512 with 128 samples pending.
	chunk := make([]byte, 384*2)
	tap.push(chunk)
	tap.push(chunk)
	tap.push(chunk)

	require.Len(t, frames, 2)
	assert.Equal(t, 512*2, len(frames[0].Data))
	assert.Equal(t, 16000, frames[0].SampleRate)
	assert.Equal(t, 0.0, frames[0].RMS)
	assert.False(t, frames[0].Timestamp.IsZero())
}

func TestTapSourceAlreadyTapped(t *testing.T) {
	tap := &fakeTappable{rate: 16000}

	first, err := TapStream(tap, 16000, 512)
	require.NoError(t, err)
	defer first.Close()

	_, err = TapStream(tap, 16000, 512)
	assert.ErrorIs(t, err, ErrTapUnavailable)
}

func TestTapSourceCloseIdempotent(t *testing.T) {
	tap := &fakeTappable{rate: 16000}

	src, err := TapStream(tap, 16000, 512)
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	// Releasing the tap makes the stream tappable again.
	_, err = TapStream(tap, 16000, 512)
	assert.NoError(t, err)
}

func TestTapSourceIgnoresAudioAfterClose(t *testing.T) {
	tap := &fakeTappable{rate: 16000}

	src, err := TapStream(tap, 16000, 256)
	require.NoError(t, err)

	count := 0
	src.OnFrame(func(f *Frame) { count++ })

	src.Close()
	tap.push(make([]byte, 1024))

	assert.Equal(t, 0, count)
}
