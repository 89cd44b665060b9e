package audio

import (
	"fmt"
	"math"

	"github.com/faiface/beep"
)

// ResampleQuality is the interpolation quality handed to beep.Resample.
const ResampleQuality = 4

// pairStreamer exposes up to two channels as a beep.Streamer.
type pairStreamer struct {
	left, right []float64
	pos         int
}

func (s *pairStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.left) {
		return 0, false
	}
	n := 0
	for n < len(samples) && s.pos < len(s.left) {
		samples[n][0] = s.left[s.pos]
		samples[n][1] = s.right[s.pos]
		n++
		s.pos++
	}
	return n, true
}

func (s *pairStreamer) Err() error { return nil }

// Resample converts buf to targetRate. Channels are processed in pairs.
func Resample(buf *Buffer, targetRate int) (*Buffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	if targetRate <= 0 {
		return nil, fmt.Errorf("invalid target rate %d", targetRate)
	}
	if targetRate == buf.SampleRate {
		return buf, nil
	}

	want := int(math.Round(float64(buf.Len()) * float64(targetRate) / float64(buf.SampleRate)))
	out := make([][]float64, buf.NumChannels())

	for c := 0; c < buf.NumChannels(); c += 2 {
		right := buf.Channels[c]
		if c+1 < buf.NumChannels() {
			right = buf.Channels[c+1]
		}
		src := &pairStreamer{left: buf.Channels[c], right: right}
		rs := beep.Resample(ResampleQuality, beep.SampleRate(buf.SampleRate), beep.SampleRate(targetRate), src)

		left := make([]float64, 0, want)
		rightOut := make([]float64, 0, want)
		chunk := make([][2]float64, 1024)
		for len(left) < want {
			n, ok := rs.Stream(chunk)
			for i := 0; i < n && len(left) < want; i++ {
				left = append(left, chunk[i][0])
				rightOut = append(rightOut, chunk[i][1])
			}
			if !ok {
				break
			}
		}
		if err := rs.Err(); err != nil {
			return nil, fmt.Errorf("resampling: %w", err)
		}
		if len(left) == 0 {
			return nil, fmt.Errorf("resampling %d -> %d Hz produced no samples", buf.SampleRate, targetRate)
		}
		// The interpolator may stop a few samples short of the tail.
		for len(left) < want {
			left = append(left, 0)
			rightOut = append(rightOut, 0)
		}

		out[c] = left
		if c+1 < buf.NumChannels() {
			out[c+1] = rightOut
		}
	}

	return &Buffer{Channels: out, SampleRate: targetRate, Source: buf.Source}, nil
}
