package dsp

import (
	"math"
	"math/cmplx"
	"math/rand/v2"

	"github.com/mjibson/go-dsp/fft"
	"github.com/r9y9/gossp/stft"
)

// ISTFT overlap-adds the inverse transform of each full-length frame and
// normalizes by the summed squared window. The result is not trimmed.
func ISTFT(s *stft.STFT, spectrum [][]complex128) []float64 {
	if len(spectrum) == 0 {
		return nil
	}
	frameLen := len(spectrum[0])
	out := make([]float64, frameLen+(len(spectrum)-1)*s.FrameShift)
	norm := make([]float64, len(out))

	for i, frame := range spectrum {
		buf := fft.IFFT(frame)
		for j := 0; j < frameLen; j++ {
			pos := i*s.FrameShift + j
			w := s.Window[j]
			out[pos] += real(buf[j]) * w
			norm[pos] += w * w
		}
	}

	for i := range out {
		if norm[i] > 1e-8 {
			out[i] /= norm[i]
		}
	}
	return out
}

// mirror rebuilds a conjugate-symmetric nFFT spectrum from its non-negative half.
func mirror(half []complex128, nFFT int) []complex128 {
	full := make([]complex128, nFFT)
	copy(full, half)
	for k := 1; k < nFFT-len(half)+1; k++ {
		full[nFFT-k] = cmplx.Conj(half[k])
	}
	return full
}

// GriffinLim reconstructs a waveform from time-major magnitude frames of
// nFFT/2+1 bins. Phase starts random from rng and is refined for the given
// number of iterations. The returned signal is trimmed to the centered region,
// (frames-1)*hop samples long.
func GriffinLim(mag [][]float64, nFFT, hop, iterations int, rng *rand.Rand) []float64 {
	if len(mag) == 0 {
		return nil
	}
	s := stft.New(hop, nFFT)
	bins := Bins(nFFT)

	phase := make([][]complex128, len(mag))
	for t := range phase {
		phase[t] = make([]complex128, bins)
		for k := range phase[t] {
			phase[t][k] = cmplx.Rect(1, 2*math.Pi*rng.Float64())
		}
	}

	build := func() [][]complex128 {
		spec := make([][]complex128, len(mag))
		for t, row := range mag {
			half := make([]complex128, bins)
			for k := 0; k < bins && k < len(row); k++ {
				half[k] = complex(row[k], 0) * phase[t][k]
			}
			spec[t] = mirror(half, nFFT)
		}
		return spec
	}

	for it := 0; it < iterations; it++ {
		signal := ISTFT(s, build())
		rebuilt := s.STFT(signal)
		for t := 0; t < len(phase) && t < len(rebuilt); t++ {
			for k := 0; k < bins; k++ {
				c := rebuilt[t][k]
				if a := cmplx.Abs(c); a > 1e-16 {
					phase[t][k] = c / complex(a, 0)
				}
			}
		}
	}

	signal := ISTFT(s, build())
	start := nFFT / 2
	end := start + (len(mag)-1)*hop
	if end > len(signal) {
		end = len(signal)
	}
	return signal[start:end]
}
