package audio

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// Resampler converts mono S16 PCM between sample rates. Used to bring
// 48kHz tap audio down to the 16kHz the recognizers require.
type Resampler struct {
	ctx      *astiav.SoftwareResampleContext
	inFrame  *astiav.Frame
	outFrame *astiav.Frame
	inRate   int
	outRate  int
}

// NewResampler creates a mono S16 resampler from inRate to outRate.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", inRate, outRate)
	}

	r := &Resampler{
		inRate:  inRate,
		outRate: outRate,
	}

	r.ctx = astiav.AllocSoftwareResampleContext()
	if r.ctx == nil {
		return nil, fmt.Errorf("failed to allocate resample context")
	}

	r.inFrame = astiav.AllocFrame()
	r.outFrame = astiav.AllocFrame()
	if r.inFrame == nil || r.outFrame == nil {
		r.Free()
		return nil, fmt.Errorf("failed to allocate frames")
	}

	return r, nil
}

// Resample converts one chunk of mono S16 PCM.
func (r *Resampler) Resample(input []byte) ([]byte, error) {
	const align = 0

	numSamples := len(input) / 2
	if numSamples == 0 {
		return nil, fmt.Errorf("input too small: %d bytes", len(input))
	}

	r.inFrame.Unref()
	r.outFrame.Unref()

	r.inFrame.SetChannelLayout(astiav.ChannelLayoutMono)
	r.inFrame.SetSampleFormat(astiav.SampleFormatS16)
	r.inFrame.SetSampleRate(r.inRate)
	r.inFrame.SetNbSamples(numSamples)

	r.outFrame.SetChannelLayout(astiav.ChannelLayoutMono)
	r.outFrame.SetSampleFormat(astiav.SampleFormatS16)
	r.outFrame.SetSampleRate(r.outRate)

	outSamples := numSamples * r.outRate / r.inRate
	if outSamples == 0 {
		outSamples = 1
	}
	r.outFrame.SetNbSamples(outSamples)

	if err := r.inFrame.AllocBuffer(align); err != nil {
		return nil, fmt.Errorf("alloc input buffer: %w", err)
	}
	if err := r.outFrame.AllocBuffer(align); err != nil {
		return nil, fmt.Errorf("alloc output buffer: %w", err)
	}
	if err := r.inFrame.MakeWritable(); err != nil {
		return nil, fmt.Errorf("make input writable: %w", err)
	}

	// FFmpeg may require an aligned buffer larger than the raw input.
	bufSize, err := r.inFrame.SamplesBufferSize(align)
	if err != nil {
		return nil, fmt.Errorf("buffer size: %w", err)
	}
	buf := input
	if len(input) < bufSize {
		buf = make([]byte, bufSize)
		copy(buf, input)
	}
	if err := r.inFrame.Data().SetBytes(buf[:bufSize], align); err != nil {
		return nil, fmt.Errorf("set input data: %w", err)
	}

	if err := r.ctx.ConvertFrame(r.inFrame, r.outFrame); err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}

	out, err := r.outFrame.Data().Bytes(align)
	if err != nil {
		return nil, fmt.Errorf("get output data: %w", err)
	}
	return out, nil
}

// Free releases FFmpeg resources. Safe to call multiple times.
func (r *Resampler) Free() {
	if r.ctx != nil {
		r.ctx.Free()
		r.ctx = nil
	}
	if r.inFrame != nil {
		r.inFrame.Free()
		r.inFrame = nil
	}
	if r.outFrame != nil {
		r.outFrame.Free()
		r.outFrame = nil
	}
}
