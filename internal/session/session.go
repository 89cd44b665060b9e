package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/internal/features"
	"github.com/himanishpuri/AcousticLab/internal/model"
	"github.com/himanishpuri/AcousticLab/internal/synth"
	"github.com/himanishpuri/AcousticLab/pkg/logger"
	"github.com/himanishpuri/AcousticLab/pkg/utils"
)

const (
	PlaybackFile  = "acousticlab_playback.wav"
	GeneratedFile = "acousticlab_generated.wav"
)

var (
	// ErrGeneration covers a missing model, an empty synthesis result and a
	// failed artifact write.
	ErrGeneration = errors.New("generation error")
	// ErrPlayback is returned when the playback artifact is missing or empty.
	ErrPlayback = errors.New("playback error")

	ErrNoBuffer        = errors.New("no audio loaded")
	ErrModelNotTrained = errors.New("model not trained")
)

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

type Config struct {
	TempDir    string
	OutputDir  string
	SampleRate int // rate of the generation pipeline
	NCoeffs    int
	Hop        int
	Model      model.Config
	Synth      synth.Config
}

func DefaultConfig() Config {
	return Config{
		TempDir:    os.TempDir(),
		OutputDir:  ".",
		SampleRate: 22050,
		NCoeffs:    features.DefaultNMFCC,
		Hop:        features.DefaultHop,
		Model:      model.DefaultConfig(),
		Synth:      synth.DefaultConfig(),
	}
}

// Analysis bundles the beat and key results for the loaded buffer.
type Analysis struct {
	Path       string
	SampleRate int
	Duration   time.Duration
	Beat       *features.BeatAnalysis
	Key        *features.KeyEstimate // nil when no pitched frames were found
}

// Session owns the loaded buffer and the trained model. Every operation
// replaces them only when it succeeds.
type Session struct {
	mu    sync.Mutex
	cfg   Config
	log   Logger
	synth *synth.Synthesizer

	buf   *audio.Buffer
	model *model.TrainedModel
}

func New(cfg Config, log Logger) (*Session, error) {
	if cfg.SampleRate <= 0 || cfg.NCoeffs <= 0 || cfg.Hop <= 0 {
		return nil, fmt.Errorf("invalid session config: rate %d, coefficients %d, hop %d",
			cfg.SampleRate, cfg.NCoeffs, cfg.Hop)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	cfg.Synth.SampleRate = cfg.SampleRate
	cfg.Synth.Hop = cfg.Hop
	synthLog := log
	if l, ok := log.(*logger.Logger); ok {
		synthLog = l.With("synth")
	}
	syn, err := synth.New(cfg.Synth, synthLog)
	if err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, log: log, synth: syn}, nil
}

func (s *Session) Config() Config { return s.cfg }

// Load decodes path at its native rate and makes it the current buffer.
func (s *Session) Load(ctx context.Context, path string) (*audio.Buffer, error) {
	s.log.Infof("Loading audio: %s", path)
	buf, err := audio.Load(ctx, path, 0)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.buf = buf
	s.mu.Unlock()

	s.log.Infof("Loaded %d samples x %d channels at %d Hz (%s)",
		buf.Len(), buf.NumChannels(), buf.SampleRate, buf.Duration())
	return buf, nil
}

func (s *Session) Buffer() *audio.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}

func (s *Session) Model() *model.TrainedModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel replaces the current model, e.g. with one restored from storage.
func (s *Session) SetModel(m *model.TrainedModel) {
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
}

func (s *Session) current() (*audio.Buffer, error) {
	buf := s.Buffer()
	if buf == nil {
		return nil, ErrNoBuffer
	}
	return buf, nil
}

// Spectrogram computes the mel spectrogram of the loaded buffer.
func (s *Session) Spectrogram(opts features.SpectrogramOptions) (*features.SpectrogramFrame, error) {
	buf, err := s.current()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", features.ErrAnalysis, err)
	}
	spec, err := features.Spectrogram(buf, opts)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("Spectrogram: %d mel bins x %d frames", spec.NMels(), spec.Frames())
	return spec, nil
}

// Analyze runs beat tracking and key estimation on the loaded buffer.
func (s *Session) Analyze() (*Analysis, error) {
	buf, err := s.current()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", features.ErrAnalysis, err)
	}

	beat, err := features.BeatTrack(buf)
	if err != nil {
		return nil, err
	}
	if len(beat.Beats) == 0 {
		s.log.Warnf("No beats detected in %s", buf.Source)
	}

	// Unpitched material still has a valid tempo, so a failed key estimate
	// leaves Key nil instead of failing the analysis.
	key, err := features.PitchAndKey(buf)
	if err != nil {
		s.log.Warnf("No key estimate for %s: %v", buf.Source, err)
		key = nil
	}

	s.log.Infof("Tempo %.1f BPM, %d beats, key %s", beat.Tempo, len(beat.Beats), key)
	return &Analysis{
		Path:       buf.Source,
		SampleRate: buf.SampleRate,
		Duration:   buf.Duration(),
		Beat:       beat,
		Key:        key,
	}, nil
}

// Corpus lists the audio files of dir and returns their MFCC sequences at
// the generation sample rate. Files that fail to decode are skipped.
func (s *Session) Corpus(ctx context.Context, dir string) ([]features.Sequence, []string, error) {
	files, err := utils.ListAudioFiles(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: listing %s: %w", model.ErrTraining, dir, err)
	}

	var seqs []features.Sequence
	var used []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		buf, err := audio.Load(ctx, f, s.cfg.SampleRate)
		if err != nil {
			s.log.Warnf("Skipping %s: %v", f, err)
			continue
		}
		seq, err := features.MFCC(buf, s.cfg.NCoeffs, s.cfg.Hop)
		if err != nil {
			s.log.Warnf("Skipping %s: %v", f, err)
			continue
		}
		seqs = append(seqs, seq)
		used = append(used, f)
	}

	if len(seqs) == 0 {
		return nil, nil, fmt.Errorf("%w: no decodable audio files in %s", model.ErrTraining, dir)
	}
	s.log.Infof("Corpus: %d of %d files decoded from %s", len(seqs), len(files), dir)
	return seqs, used, nil
}

// TrainResult describes a completed training run.
type TrainResult struct {
	Model   *model.TrainedModel
	Files   []string // corpus files that decoded
	Elapsed time.Duration

	// ReconstructionError is the mean squared error of the trained model
	// over the normalized corpus.
	ReconstructionError float64
}

// Train builds a corpus from dir, fits a model and makes it current.
func (s *Session) Train(ctx context.Context, dir string, progress model.Progress) (*TrainResult, error) {
	corpus, files, err := s.Corpus(ctx, dir)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	m, err := model.Train(corpus, s.cfg.Model, func(epoch, epochs int, loss float64) {
		s.log.Debugf("Epoch %d/%d loss %.5f", epoch, epochs, loss)
		if progress != nil {
			progress(epoch, epochs, loss)
		}
	})
	if err != nil {
		return nil, err
	}

	res := &TrainResult{Model: m, Files: files, Elapsed: time.Since(start)}

	normalized := make([]features.Sequence, 0, len(corpus))
	for _, seq := range corpus {
		if seq.Len() > 0 {
			normalized = append(normalized, m.Norm.Apply(seq))
		}
	}
	if res.ReconstructionError, err = m.Evaluate(normalized); err != nil {
		return nil, err
	}

	s.SetModel(m)
	s.log.Infof("Trained on %d sequences (max length %d) in %s, final loss %.5f, reconstruction error %.5f",
		len(corpus), m.MaxLen, res.Elapsed.Round(time.Millisecond), m.FinalLoss(), res.ReconstructionError)
	return res, nil
}

// Generate seeds the current model with the loaded buffer and writes the
// synthesized result to the output directory. The seed is normalized with its
// own statistics and the output is mapped back with the corpus statistics.
func (s *Session) Generate(ctx context.Context) (string, error) {
	s.mu.Lock()
	buf, m := s.buf, s.model
	s.mu.Unlock()

	if m == nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, ErrModelNotTrained)
	}
	if buf == nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, ErrNoBuffer)
	}

	if buf.SampleRate != s.cfg.SampleRate {
		resampled, err := audio.Resample(buf, s.cfg.SampleRate)
		if err != nil {
			return "", fmt.Errorf("%w: resampling seed: %w", ErrGeneration, err)
		}
		buf = resampled
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	seed, err := features.MFCC(buf, s.cfg.NCoeffs, s.cfg.Hop)
	if err != nil {
		return "", fmt.Errorf("%w: seed features: %w", ErrGeneration, err)
	}
	seed = features.ComputeNormalization(seed).Apply(seed)

	pred, err := m.Predict(seed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	path := filepath.Join(s.cfg.OutputDir, GeneratedFile)
	out, err := s.synth.Synthesize(m.Denormalize(pred), path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if err := checkArtifact(out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	s.log.Infof("Generated %s from %d predicted frames", out, pred.Len())
	return out, nil
}

// PreparePlayback writes the loaded buffer as a mono WAV to the temp dir and
// returns its path. Launching a player is left to the caller.
func (s *Session) PreparePlayback() (string, error) {
	buf, err := s.current()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPlayback, err)
	}

	path := filepath.Join(s.cfg.TempDir, PlaybackFile)
	mono := audio.NewMono(buf.Mono(), buf.SampleRate)
	if err := audio.WriteWAV(path, mono); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	if err := checkArtifact(path); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	s.log.Debugf("Playback artifact ready: %s", path)
	return path, nil
}

// checkArtifact catches truncated or missing writes.
func checkArtifact(path string) error {
	size, err := utils.FileSize(path)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", path, err)
	}
	if size <= 44 {
		return fmt.Errorf("artifact %s is empty (%d bytes)", path, size)
	}
	return nil
}
