package acousticlab

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/himanishpuri/AcousticLab/internal/features"
	"github.com/himanishpuri/AcousticLab/internal/model"
	"github.com/himanishpuri/AcousticLab/internal/session"
	"github.com/himanishpuri/AcousticLab/pkg/logger"
)

// acousticService is the default implementation of the Service interface.
type acousticService struct {
	sess    *session.Session
	storage Storage
	log     Logger
	config  *Config

	mu         sync.Mutex
	corpusSize int // files behind the current model, 0 when restored
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	// Set default logger if none provided
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Precision != model.Float32 && cfg.Precision != model.Float16 {
		return nil, fmt.Errorf("unsupported weight precision %s", cfg.Precision)
	}

	sc := cfg.session
	sc.TempDir = cfg.TempDir
	sc.OutputDir = cfg.OutputDir
	sc.SampleRate = cfg.SampleRate
	sess, err := session.New(sc, cfg.Logger)
	if err != nil {
		return nil, err
	}

	// Create or use provided storage
	var stor Storage
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else {
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &acousticService{
		sess:    sess,
		storage: stor,
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

func (s *acousticService) Load(ctx context.Context, audioPath string) (*Buffer, error) {
	return s.sess.Load(ctx, audioPath)
}

// Spectrogram returns the 128-band mel spectrogram of the loaded audio up to 8 kHz.
func (s *acousticService) Spectrogram() (*Spectrogram, error) {
	return s.sess.Spectrogram(features.DefaultSpectrogramOptions())
}

// Analyze estimates tempo, beats and key of the loaded audio and records the
// result. A failed history write is logged, not returned.
func (s *acousticService) Analyze() (*Analysis, error) {
	a, err := s.sess.Analyze()
	if err != nil {
		return nil, err
	}

	entry := &AnalysisEntry{
		Path:       a.Path,
		SampleRate: a.SampleRate,
		Duration:   a.Duration,
		Tempo:      a.Beat.Tempo,
		Beats:      a.Beat.Beats,
	}
	if a.Key != nil {
		entry.Key = a.Key.Tonic
		entry.Mode = string(a.Key.Mode)
	}
	if err := s.storage.RecordAnalysis(entry); err != nil {
		s.log.Warnf("Failed to record analysis of %s: %v", a.Path, err)
	}
	return a, nil
}

func (s *acousticService) Train(ctx context.Context, corpusDir string, progress Progress) (*TrainResult, error) {
	res, err := s.sess.Train(ctx, corpusDir, progress)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.corpusSize = len(res.Files)
	s.mu.Unlock()
	return res, nil
}

func (s *acousticService) Generate(ctx context.Context) (string, error) {
	return s.sess.Generate(ctx)
}

func (s *acousticService) PreparePlayback() (string, error) {
	return s.sess.PreparePlayback()
}

// SaveModel encodes the current model and stores it under name, replacing
// any model with the same name.
func (s *acousticService) SaveModel(name string) (*ModelInfo, error) {
	m := s.sess.Model()
	if m == nil {
		return nil, ErrModelNotTrained
	}

	var enc bytes.Buffer
	if err := m.Encode(&enc, s.config.Precision); err != nil {
		return nil, fmt.Errorf("encoding model: %w", err)
	}
	buf := enc.Bytes()

	s.mu.Lock()
	corpus := s.corpusSize
	s.mu.Unlock()

	stored := &StoredModel{
		ModelInfo: ModelInfo{
			Name:       name,
			InputSize:  m.InputSize,
			HiddenSize: m.HiddenSize,
			MaxLen:     m.MaxLen,
			Epochs:     m.Epochs,
			CorpusSize: corpus,
			FinalLoss:  m.FinalLoss(),
			Precision:  s.config.Precision.String(),
		},
		Weights: buf,
	}
	id, err := s.storage.SaveModel(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to save model: %w", err)
	}
	stored.ID = id

	s.log.Infof("Saved model %q (%s, %d bytes)", name, id, len(buf))
	return &stored.ModelInfo, nil
}

// UseModel restores a stored model and makes it current.
func (s *acousticService) UseModel(idOrName string) (*ModelInfo, error) {
	stored, err := s.storage.GetModel(idOrName)
	if err != nil {
		return nil, err
	}
	m, err := model.UnmarshalModel(stored.Weights)
	if err != nil {
		return nil, fmt.Errorf("restoring model %s: %w", stored.ID, err)
	}

	s.sess.SetModel(m)
	s.mu.Lock()
	s.corpusSize = stored.CorpusSize
	s.mu.Unlock()

	s.log.Infof("Using model %q (%d coefficients, max length %d)", stored.Name, m.InputSize, m.MaxLen)
	return &stored.ModelInfo, nil
}

func (s *acousticService) ListModels() ([]ModelInfo, error) {
	return s.storage.ListModels()
}

func (s *acousticService) DeleteModel(idOrName string) error {
	return s.storage.DeleteModel(idOrName)
}

// History lists recorded analyses, newest first.
func (s *acousticService) History(limit int) ([]AnalysisEntry, error) {
	return s.storage.ListAnalyses(limit)
}

func (s *acousticService) Close() error {
	return s.storage.Close()
}
