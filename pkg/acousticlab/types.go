package acousticlab

import (
	"time"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/internal/features"
	"github.com/himanishpuri/AcousticLab/internal/model"
	"github.com/himanishpuri/AcousticLab/internal/session"
	"github.com/himanishpuri/AcousticLab/internal/storage"
	"github.com/himanishpuri/AcousticLab/internal/synth"
)

type (
	Buffer             = audio.Buffer
	Spectrogram        = features.SpectrogramFrame
	SpectrogramOptions = features.SpectrogramOptions
	BeatAnalysis       = features.BeatAnalysis
	KeyEstimate        = features.KeyEstimate
	Analysis           = session.Analysis
	TrainResult        = session.TrainResult
	Progress           = model.Progress
	Precision          = model.Precision
)

const (
	Float32 = model.Float32
	Float16 = model.Float16
)

// ParsePrecision accepts "float32" or "float16".
func ParsePrecision(s string) (Precision, error) {
	return model.ParsePrecision(s)
}

// Error categories, matched with errors.Is.
var (
	ErrDecode          = audio.ErrDecode
	ErrAnalysis        = features.ErrAnalysis
	ErrTraining        = model.ErrTraining
	ErrInvalidModel    = model.ErrInvalidModel
	ErrSynthesis       = synth.ErrSynthesis
	ErrGeneration      = session.ErrGeneration
	ErrPlayback        = session.ErrPlayback
	ErrNoBuffer        = session.ErrNoBuffer
	ErrModelNotTrained = session.ErrModelNotTrained
	ErrNotFound        = storage.ErrNotFound
)

// ModelInfo describes a stored model without its weights.
type ModelInfo struct {
	ID         string
	Name       string
	InputSize  int // MFCC coefficients per frame
	HiddenSize int
	MaxLen     int // frames every seed is padded or truncated to
	Epochs     int
	CorpusSize int
	FinalLoss  float64
	Precision  string
	CreatedAt  time.Time
}

// StoredModel is a model together with its encoded network.
type StoredModel struct {
	ModelInfo
	Weights []byte
}

// AnalysisEntry is one recorded Analyze call.
type AnalysisEntry struct {
	ID         uint
	Path       string
	SampleRate int
	Duration   time.Duration
	Tempo      float64
	Beats      []float64
	Key        string
	Mode       string
	CreatedAt  time.Time
}
