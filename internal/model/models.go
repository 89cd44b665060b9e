package model

import (
	"errors"
	"fmt"

	"github.com/himanishpuri/AcousticLab/internal/features"
)

var (
	// ErrTraining is returned when the corpus is empty or unusable.
	ErrTraining = errors.New("training error")
	// ErrInvalidModel is returned for malformed serialized models or mismatched shapes.
	ErrInvalidModel = errors.New("invalid model")
)

// Config controls network size and the training loop.
type Config struct {
	HiddenSize   int
	Epochs       int
	BatchSize    int
	LearningRate float64
	ClipNorm     float64 // global gradient norm limit, 0 disables clipping
	Seed         uint64
}

func DefaultConfig() Config {
	return Config{
		HiddenSize:   256,
		Epochs:       20,
		BatchSize:    8,
		LearningRate: 1e-3,
		ClipNorm:     5,
		Seed:         42,
	}
}

func (c Config) validate() error {
	switch {
	case c.HiddenSize <= 0 || c.HiddenSize > maxHiddenSize:
		return fmt.Errorf("%w: hidden size must be in [1, %d], got %d", ErrTraining, maxHiddenSize, c.HiddenSize)
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrTraining, c.Epochs)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrTraining, c.BatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrTraining, c.LearningRate)
	}
	return nil
}

// Progress is called after every epoch with the mean training loss of that epoch.
type Progress func(epoch, epochs int, loss float64)

// TrainedModel is a single-layer tanh recurrent network with a linear read-out
// that maps a padded feature sequence onto a sequence of the same shape.
type TrainedModel struct {
	InputSize  int
	HiddenSize int
	MaxLen     int // every input is padded or truncated to this many frames
	Epochs     int

	// Norm holds the corpus statistics the training data was normalized with.
	Norm features.Normalization

	// Loss is the mean training loss of each epoch.
	Loss []float64

	net *rnn
}

// FinalLoss returns the loss of the last epoch, or 0 for a decoded model
// that carries no history.
func (m *TrainedModel) FinalLoss() float64 {
	if len(m.Loss) == 0 {
		return 0
	}
	return m.Loss[len(m.Loss)-1]
}

// Predict runs seed through the network after padding it with zero frames or
// truncating it to MaxLen. The seed must already be normalized.
func (m *TrainedModel) Predict(seed features.Sequence) (features.Sequence, error) {
	if m == nil || m.net == nil {
		return nil, fmt.Errorf("%w: model has no weights", ErrInvalidModel)
	}
	if seed.Len() == 0 {
		return nil, fmt.Errorf("%w: empty seed sequence", ErrInvalidModel)
	}
	if seed.Width() != m.InputSize {
		return nil, fmt.Errorf("%w: seed has %d coefficients, model expects %d",
			ErrInvalidModel, seed.Width(), m.InputSize)
	}

	x := padSequence(seed, m.MaxLen, m.InputSize)
	out, _ := m.net.forward(x)
	return out, nil
}

// Denormalize maps network output back to the feature scale of the corpus.
func (m *TrainedModel) Denormalize(seq features.Sequence) features.Sequence {
	return m.Norm.Invert(seq)
}

// padSequence right-pads with zero vectors or truncates to length frames.
func padSequence(seq features.Sequence, length, width int) features.Sequence {
	out := make(features.Sequence, length)
	for t := range out {
		row := make([]float64, width)
		if t < len(seq) {
			copy(row, seq[t])
		}
		out[t] = row
	}
	return out
}
