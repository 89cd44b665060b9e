package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/internal/dsp"
	"github.com/himanishpuri/AcousticLab/internal/features"
)

// ErrSynthesis is returned when no waveform can be produced or written.
var ErrSynthesis = errors.New("synthesis error")

// Logger is the subset of the application logger the synthesizer reports to.
type Logger interface {
	Debugf(format string, args ...any)
}

type Config struct {
	SampleRate     int
	NFFT           int
	Hop            int
	NMels          int
	Iterations     int // Griffin-Lim rounds
	NNLSIterations int
	PeakLevel      float64 // output is scaled so its peak equals this, 0 disables
	Seed           uint64
}

func DefaultConfig() Config {
	return Config{
		SampleRate:     22050,
		NFFT:           features.DefaultNFFT,
		Hop:            features.DefaultHop,
		NMels:          features.DefaultNMels,
		Iterations:     64,
		NNLSIterations: 30,
		PeakLevel:      0.9,
		Seed:           1,
	}
}

type Synthesizer struct {
	cfg    Config
	bank   *mat.Dense
	logger Logger
}

// New builds a synthesizer. The mel basis is computed once.
func New(cfg Config, logger Logger) (*Synthesizer, error) {
	if cfg.SampleRate <= 0 || cfg.NFFT <= 0 || cfg.NFFT%2 != 0 || cfg.Hop <= 0 || cfg.NMels <= 0 || cfg.Iterations < 0 {
		return nil, fmt.Errorf("%w: invalid configuration %+v", ErrSynthesis, cfg)
	}
	return &Synthesizer{
		cfg:    cfg,
		bank:   dsp.MelFilterBank(cfg.SampleRate, cfg.NFFT, cfg.NMels, 0, 0),
		logger: logger,
	}, nil
}

func (s *Synthesizer) Config() Config { return s.cfg }

// Waveform inverts a frames x coefficients MFCC sequence to audio samples:
// inverse DCT to mel dB, dB to power, non-negative least squares onto the
// linear spectrum, then Griffin-Lim phase reconstruction.
func (s *Synthesizer) Waveform(seq features.Sequence) ([]float64, error) {
	if seq.Len() == 0 {
		return nil, fmt.Errorf("%w: empty feature sequence", ErrSynthesis)
	}
	nCoeffs := seq.Width()
	if nCoeffs == 0 || nCoeffs > s.cfg.NMels {
		return nil, fmt.Errorf("%w: %d coefficients cannot be inverted to %d mel bands",
			ErrSynthesis, nCoeffs, s.cfg.NMels)
	}

	coeffs := dsp.FramesToMatrix(seq)
	melDB := dsp.IDCT(dsp.DCTBasis(nCoeffs, s.cfg.NMels), coeffs)
	melPower := dsp.DBToPower(melDB)
	linear := dsp.MelToLinear(s.bank, melPower, s.cfg.NNLSIterations)

	var mag mat.Dense
	mag.Apply(func(_, _ int, v float64) float64 { return math.Sqrt(v) }, linear)

	rng := rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed+1))
	wave := dsp.GriffinLim(dsp.MatrixToFrames(&mag), s.cfg.NFFT, s.cfg.Hop, s.cfg.Iterations, rng)
	if len(wave) == 0 {
		return nil, fmt.Errorf("%w: %d frames produce an empty waveform", ErrSynthesis, seq.Len())
	}

	for i, v := range wave {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			wave[i] = 0
		}
	}
	if s.cfg.PeakLevel > 0 {
		peak := math.Max(floats.Max(wave), -floats.Min(wave))
		if peak > 0 {
			floats.Scale(s.cfg.PeakLevel/peak, wave)
		}
	}

	if s.logger != nil {
		s.logger.Debugf("%d frames -> %d samples at %d Hz (%d Griffin-Lim iterations)",
			seq.Len(), len(wave), s.cfg.SampleRate, s.cfg.Iterations)
	}
	return wave, nil
}

// Synthesize writes the waveform for seq to path as mono 16-bit WAV and
// returns the path.
func (s *Synthesizer) Synthesize(seq features.Sequence, path string) (string, error) {
	wave, err := s.Waveform(seq)
	if err != nil {
		return "", err
	}
	if err := audio.WriteWAV(path, audio.NewMono(wave, s.cfg.SampleRate)); err != nil {
		return "", fmt.Errorf("%w: writing %s: %w", ErrSynthesis, path, err)
	}
	return path, nil
}
