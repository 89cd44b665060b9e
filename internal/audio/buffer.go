package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrDecode is returned when a file cannot be read, is in an unsupported
// format, or decodes to zero samples.
var ErrDecode = errors.New("decode error")

// Buffer holds decoded PCM audio as channel-major float64 samples in [-1, 1].
type Buffer struct {
	Channels   [][]float64
	SampleRate int
	Source     string
}

// NewMono wraps a single channel of samples.
func NewMono(samples []float64, sampleRate int) *Buffer {
	return &Buffer{Channels: [][]float64{samples}, SampleRate: sampleRate}
}

func (b *Buffer) NumChannels() int { return len(b.Channels) }

// Len returns the number of sample frames (samples per channel).
func (b *Buffer) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Len()) / float64(b.SampleRate) * float64(time.Second))
}

// Validate reports whether the buffer has a positive rate, at least one
// sample and channels of equal length.
func (b *Buffer) Validate() error {
	if b == nil {
		return errors.New("nil buffer")
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", b.SampleRate)
	}
	if len(b.Channels) == 0 || len(b.Channels[0]) == 0 {
		return errors.New("buffer has no samples")
	}
	n := len(b.Channels[0])
	for i, ch := range b.Channels {
		if len(ch) != n {
			return fmt.Errorf("channel %d has %d samples, expected %d", i, len(ch), n)
		}
	}
	return nil
}

// Mono averages all channels sample-wise. A single channel is returned as-is.
func (b *Buffer) Mono() []float64 {
	switch len(b.Channels) {
	case 0:
		return nil
	case 1:
		return b.Channels[0]
	}

	n := b.Len()
	out := make([]float64, n)
	scale := 1.0 / float64(len(b.Channels))
	for _, ch := range b.Channels {
		for i := 0; i < n && i < len(ch); i++ {
			out[i] += ch[i]
		}
	}
	for i := range out {
		out[i] *= scale
	}
	return out
}

// deinterleave splits interleaved frames into channel-major slices.
func deinterleave(data []float64, channels int) [][]float64 {
	frames := len(data) / channels
	out := make([][]float64, channels)
	for c := range out {
		out[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = data[i*channels+c]
		}
	}
	return out
}
