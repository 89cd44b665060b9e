package dsp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	melMinLog   = 1000.0
	melLinSlope = 200.0 / 3
	melLogStep  = 0.06875177742094912 // log(6.4) / 27
)

// HzToMel uses the Slaney scale: linear below 1 kHz, logarithmic above.
func HzToMel(hz float64) float64 {
	if hz < melMinLog {
		return hz / melLinSlope
	}
	return melMinLog/melLinSlope + math.Log(hz/melMinLog)/melLogStep
}

func MelToHz(mel float64) float64 {
	minLogMel := melMinLog / melLinSlope
	if mel < minLogMel {
		return mel * melLinSlope
	}
	return melMinLog * math.Exp(melLogStep*(mel-minLogMel))
}

// MelFrequencies returns n points evenly spaced on the mel scale between fmin and fmax.
func MelFrequencies(n int, fmin, fmax float64) []float64 {
	lo, hi := HzToMel(fmin), HzToMel(fmax)
	out := make([]float64, n)
	for i := range out {
		m := lo
		if n > 1 {
			m = lo + (hi-lo)*float64(i)/float64(n-1)
		}
		out[i] = MelToHz(m)
	}
	return out
}

// MelFilterBank builds an nMels x (nFFT/2+1) matrix of triangular filters with
// area normalization.
func MelFilterBank(sampleRate, nFFT, nMels int, fmin, fmax float64) *mat.Dense {
	if fmax <= 0 || fmax > float64(sampleRate)/2 {
		fmax = float64(sampleRate) / 2
	}

	fftFreqs := FFTFrequencies(sampleRate, nFFT)
	melF := MelFrequencies(nMels+2, fmin, fmax)
	bank := mat.NewDense(nMels, len(fftFreqs), nil)

	for m := 0; m < nMels; m++ {
		left, center, right := melF[m], melF[m+1], melF[m+2]
		enorm := 2.0 / (right - left)
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			w := math.Max(0, math.Min(lower, upper))
			if w > 0 {
				bank.Set(m, k, w*enorm)
			}
		}
	}
	return bank
}

// FramesToMatrix packs time-major frames into a (bins x frames) matrix.
func FramesToMatrix(frames [][]float64) *mat.Dense {
	if len(frames) == 0 {
		return nil
	}
	bins := len(frames[0])
	m := mat.NewDense(bins, len(frames), nil)
	for t, row := range frames {
		for k, v := range row {
			m.Set(k, t, v)
		}
	}
	return m
}

// MatrixToFrames is the inverse of FramesToMatrix.
func MatrixToFrames(m *mat.Dense) [][]float64 {
	bins, frames := m.Dims()
	out := make([][]float64, frames)
	for t := range out {
		row := make([]float64, bins)
		for k := range row {
			row[k] = m.At(k, t)
		}
		out[t] = row
	}
	return out
}

// ApplyMel projects a (bins x frames) power matrix onto the filter bank.
func ApplyMel(bank, power *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(bank, power)
	return &out
}

// MelToLinear approximates the non-negative linear power spectrum whose mel
// projection is melPower, using multiplicative NNLS updates.
func MelToLinear(bank, melPower *mat.Dense, iterations int) *mat.Dense {
	const eps = 1e-12
	_, bins := bank.Dims()
	_, frames := melPower.Dims()

	var mty mat.Dense
	mty.Mul(bank.T(), melPower)

	// Initial guess: back-projection divided by each bin's total filter weight.
	colSum := make([]float64, bins)
	for k := range colSum {
		colSum[k] = mat.Sum(bank.ColView(k))
	}
	x := mat.NewDense(bins, frames, nil)
	for k := 0; k < bins; k++ {
		for t := 0; t < frames; t++ {
			if colSum[k] > 0 {
				x.Set(k, t, mty.At(k, t)/(colSum[k]*colSum[k]+eps))
			}
		}
	}

	var mx, mtmx mat.Dense
	for i := 0; i < iterations; i++ {
		mx.Mul(bank, x)
		mtmx.Mul(bank.T(), &mx)
		x.Apply(func(k, t int, v float64) float64 {
			num := mty.At(k, t)
			if num <= 0 || v <= 0 {
				return 0
			}
			return v * num / (mtmx.At(k, t) + eps)
		}, x)
	}
	return x
}
