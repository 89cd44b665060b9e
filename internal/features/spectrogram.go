package features

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/internal/dsp"
)

type SpectrogramOptions struct {
	NMels int
	NFFT  int
	Hop   int
	FMin  float64
	FMax  float64 // 0 means Nyquist
}

func DefaultSpectrogramOptions() SpectrogramOptions {
	return SpectrogramOptions{
		NMels: DefaultNMels,
		NFFT:  DefaultNFFT,
		Hop:   DefaultHop,
		FMax:  DefaultFMax,
	}
}

func (o SpectrogramOptions) validate() error {
	if o.NMels <= 0 || o.NFFT <= 0 || o.Hop <= 0 {
		return fmt.Errorf("%w: n_mels, n_fft and hop must be positive (got %d, %d, %d)",
			ErrAnalysis, o.NMels, o.NFFT, o.Hop)
	}
	if o.NFFT%2 != 0 {
		return fmt.Errorf("%w: n_fft must be even, got %d", ErrAnalysis, o.NFFT)
	}
	if o.FMin < 0 || (o.FMax > 0 && o.FMax <= o.FMin) {
		return fmt.Errorf("%w: invalid frequency range [%g, %g]", ErrAnalysis, o.FMin, o.FMax)
	}
	return nil
}

// SpectrogramFrame is a mel-bin x time-frame grid of decibel values
// referenced to its own maximum power.
type SpectrogramFrame struct {
	DB         [][]float64 // DB[mel][frame]
	SampleRate int
	Options    SpectrogramOptions
}

func (s *SpectrogramFrame) NMels() int { return len(s.DB) }

func (s *SpectrogramFrame) Frames() int {
	if len(s.DB) == 0 {
		return 0
	}
	return len(s.DB[0])
}

// Range returns the minimum and maximum dB values.
func (s *SpectrogramFrame) Range() (lo, hi float64) {
	first := true
	for _, row := range s.DB {
		for _, v := range row {
			if first || v < lo {
				lo = v
			}
			if first || v > hi {
				hi = v
			}
			first = false
		}
	}
	return lo, hi
}

// Duration of a frame step in seconds.
func (s *SpectrogramFrame) FrameSeconds() float64 {
	return float64(s.Options.Hop) / float64(s.SampleRate)
}

// Spectrogram computes the mel spectrogram of buf in dB, 0 dB at the loudest
// cell and floored 80 dB below it. Multi-channel input is averaged to mono.
func Spectrogram(buf *audio.Buffer, opts SpectrogramOptions) (*SpectrogramFrame, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	mono, err := checkBuffer(buf)
	if err != nil {
		return nil, err
	}

	power := melPower(mono, buf.SampleRate, opts.NFFT, opts.Hop, opts.NMels, opts.FMin, opts.FMax)
	db := dsp.PowerToDB(power, 0, dsp.TopDB)

	rows, _ := db.Dims()
	grid := make([][]float64, rows)
	for m := range grid {
		grid[m] = mat.Row(nil, m, db)
	}

	return &SpectrogramFrame{DB: grid, SampleRate: buf.SampleRate, Options: opts}, nil
}

// MFCC returns nCoeffs cepstral coefficients per frame (frames x nCoeffs).
// The mel stage uses 128 bands over the full band with dB referenced to unit power.
func MFCC(buf *audio.Buffer, nCoeffs, hop int) (Sequence, error) {
	if nCoeffs <= 0 || nCoeffs > DefaultNMels {
		return nil, fmt.Errorf("%w: coefficient count must be in [1, %d], got %d", ErrAnalysis, DefaultNMels, nCoeffs)
	}
	if hop <= 0 {
		return nil, fmt.Errorf("%w: hop must be positive, got %d", ErrAnalysis, hop)
	}
	mono, err := checkBuffer(buf)
	if err != nil {
		return nil, err
	}

	power := melPower(mono, buf.SampleRate, DefaultNFFT, hop, DefaultNMels, 0, 0)
	db := dsp.PowerToDB(power, 1, dsp.TopDB)
	coeffs := dsp.DCT(dsp.DCTBasis(nCoeffs, DefaultNMels), db)

	return Sequence(dsp.MatrixToFrames(coeffs)), nil
}
