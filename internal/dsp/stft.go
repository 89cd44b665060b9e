package dsp

import (
	"math/cmplx"

	"github.com/r9y9/gossp/stft"
)

// NumFrames is the number of centered analysis frames for n samples: ceil(n/hop)+1.
func NumFrames(n, hop int) int {
	if n <= 0 || hop <= 0 {
		return 0
	}
	return (n+hop-1)/hop + 1
}

// CenterPad zero-pads x so that frame t is centered on sample t*hop and the
// padded signal holds exactly NumFrames(len(x), hop) frames of nFFT samples.
func CenterPad(x []float64, nFFT, hop int) []float64 {
	frames := NumFrames(len(x), hop)
	if frames == 0 {
		return nil
	}
	out := make([]float64, (frames-1)*hop+nFFT)
	copy(out[nFFT/2:], x)
	return out
}

// STFT returns the windowed spectrum of every centered frame, full length nFFT.
func STFT(x []float64, nFFT, hop int) [][]complex128 {
	padded := CenterPad(x, nFFT, hop)
	if padded == nil {
		return nil
	}
	return stft.New(hop, nFFT).STFT(padded)
}

// Bins is the number of non-negative frequency bins for an nFFT transform.
func Bins(nFFT int) int { return nFFT/2 + 1 }

// Magnitude keeps the non-negative frequency half of each frame.
func Magnitude(spec [][]complex128) [][]float64 {
	out := make([][]float64, len(spec))
	for t, frame := range spec {
		bins := len(frame)/2 + 1
		row := make([]float64, bins)
		for k := 0; k < bins; k++ {
			row[k] = cmplx.Abs(frame[k])
		}
		out[t] = row
	}
	return out
}

// Power squares the magnitude spectrum.
func Power(spec [][]complex128) [][]float64 {
	mag := Magnitude(spec)
	for _, row := range mag {
		for k, v := range row {
			row[k] = v * v
		}
	}
	return mag
}

// FFTFrequencies returns the centre frequency of every non-negative bin.
func FFTFrequencies(sampleRate, nFFT int) []float64 {
	bins := Bins(nFFT)
	out := make([]float64, bins)
	for k := range out {
		out[k] = float64(k) * float64(sampleRate) / float64(nFFT)
	}
	return out
}
