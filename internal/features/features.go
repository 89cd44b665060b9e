package features

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/internal/dsp"
)

// ErrAnalysis is returned when a buffer cannot be analysed.
var ErrAnalysis = errors.New("analysis error")

// Analysis defaults shared by every extractor in this package.
const (
	DefaultNMels = 128
	DefaultNFFT  = 2048
	DefaultHop   = 512
	DefaultFMax  = 8000.0
	DefaultNMFCC = 20
)

// Sequence is a time-major run of fixed-width feature vectors (frames x coefficients).
type Sequence [][]float64

func (s Sequence) Len() int { return len(s) }

func (s Sequence) Width() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	for i, row := range s {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Normalization holds a scalar mean and standard deviation.
type Normalization struct {
	Mean float64
	Std  float64
}

// ComputeNormalization returns the population mean and standard deviation
// over every value of every sequence. A zero deviation is reported as 1.
func ComputeNormalization(seqs ...Sequence) Normalization {
	var values []float64
	for _, s := range seqs {
		for _, row := range s {
			values = append(values, row...)
		}
	}
	if len(values) == 0 {
		return Normalization{Mean: 0, Std: 1}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if std == 0 {
		std = 1
	}
	return Normalization{Mean: mean, Std: std}
}

// Apply returns a normalized copy of s.
func (n Normalization) Apply(s Sequence) Sequence {
	out := s.Clone()
	for _, row := range out {
		for i := range row {
			row[i] = (row[i] - n.Mean) / n.Std
		}
	}
	return out
}

// Invert undoes Apply.
func (n Normalization) Invert(s Sequence) Sequence {
	out := s.Clone()
	for _, row := range out {
		for i := range row {
			row[i] = row[i]*n.Std + n.Mean
		}
	}
	return out
}

func checkBuffer(buf *audio.Buffer) ([]float64, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	return buf.Mono(), nil
}

// melPower returns the (nMels x frames) mel power spectrogram of mono samples.
func melPower(mono []float64, sampleRate, nFFT, hop, nMels int, fmin, fmax float64) *mat.Dense {
	power := dsp.FramesToMatrix(dsp.Power(dsp.STFT(mono, nFFT, hop)))
	bank := dsp.MelFilterBank(sampleRate, nFFT, nMels, fmin, fmax)
	return dsp.ApplyMel(bank, power)
}
