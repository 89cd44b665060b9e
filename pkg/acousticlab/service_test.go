package acousticlab

import (
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.ERROR, Output: io.Discard})
}

func newTestService(t *testing.T, dbPath string, opts ...Option) Service {
	t.Helper()
	base := []Option{
		WithDBPath(dbPath),
		WithTempDir(t.TempDir()),
		WithOutputDir(t.TempDir()),
		WithHiddenSize(8),
		WithEpochs(2),
		WithGriffinLimIterations(4),
		WithLogger(quietLogger()),
	}
	svc, err := NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func writeTone(t *testing.T, path string, freq, seconds float64) string {
	t.Helper()
	const rate = 22050
	x := make([]float64, int(seconds*rate))
	for i := range x {
		x[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	if err := audio.WriteWAV(path, audio.NewMono(x, rate)); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

func TestModelPersistenceAcrossServices(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "lab.sqlite3")

	corpus := t.TempDir()
	writeTone(t, filepath.Join(corpus, "a.wav"), 220, 0.5)
	writeTone(t, filepath.Join(corpus, "b.wav"), 330, 0.4)

	tests := []struct {
		name      string
		precision Precision
	}{
		{"float32", Float32},
		{"float16", Float16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := newTestService(t, dbPath, WithWeightPrecision(tt.precision))
			if _, err := first.SaveModel("untrained"); !errors.Is(err, ErrModelNotTrained) {
				t.Errorf("Expected ErrModelNotTrained, got %v", err)
			}

			res, err := first.Train(ctx, corpus, nil)
			if err != nil {
				t.Fatalf("Train failed: %v", err)
			}
			info, err := first.SaveModel("tones-" + tt.name)
			if err != nil {
				t.Fatalf("SaveModel failed: %v", err)
			}
			if info.CorpusSize != 2 || info.MaxLen != res.Model.MaxLen || info.Precision != tt.name {
				t.Errorf("saved info = %+v", info)
			}

			second := newTestService(t, dbPath)
			if _, err := second.Generate(ctx); !errors.Is(err, ErrModelNotTrained) {
				t.Errorf("Expected ErrModelNotTrained before UseModel, got %v", err)
			}
			used, err := second.UseModel("tones-" + tt.name)
			if err != nil {
				t.Fatalf("UseModel failed: %v", err)
			}
			if used.ID != info.ID {
				t.Errorf("UseModel returned %s, want %s", used.ID, info.ID)
			}

			seed := writeTone(t, filepath.Join(t.TempDir(), "seed.wav"), 440, 0.2)
			if _, err := second.Load(ctx, seed); err != nil {
				t.Fatal(err)
			}
			path, err := second.Generate(ctx)
			if err != nil {
				t.Fatalf("Generate with restored model failed: %v", err)
			}
			out, err := audio.Load(ctx, path, 0)
			if err != nil {
				t.Fatal(err)
			}
			if want := (res.Model.MaxLen - 1) * 512; out.Len() != want {
				t.Errorf("generated %d samples, want %d", out.Len(), want)
			}
		})
	}
}

func TestListAndDeleteModels(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, filepath.Join(t.TempDir(), "lab.sqlite3"))

	corpus := t.TempDir()
	writeTone(t, filepath.Join(corpus, "a.wav"), 220, 0.3)
	if _, err := svc.Train(ctx, corpus, nil); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"one", "two"} {
		if _, err := svc.SaveModel(name); err != nil {
			t.Fatal(err)
		}
	}

	models, err := svc.ListModels()
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("Expected 2 models, got %d", len(models))
	}

	if err := svc.DeleteModel("one"); err != nil {
		t.Fatalf("DeleteModel failed: %v", err)
	}
	if _, err := svc.UseModel("one"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := svc.DeleteModel("one"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestAnalyzeRecordsHistory(t *testing.T) {
	svc := newTestService(t, filepath.Join(t.TempDir(), "lab.sqlite3"))
	path := writeTone(t, filepath.Join(t.TempDir(), "a440.wav"), 440, 1)
	if _, err := svc.Load(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	a, err := svc.Analyze()
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	history, err := svc.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(history))
	}
	h := history[0]
	if h.Path != path || h.Key != a.Key.Tonic || h.Mode != string(a.Key.Mode) || h.Tempo != a.Beat.Tempo {
		t.Errorf("history entry = %+v", h)
	}
	if len(h.Beats) != len(a.Beat.Beats) {
		t.Errorf("history has %d beats, analysis %d", len(h.Beats), len(a.Beat.Beats))
	}
}

func TestAnalyzeSilenceRecordsNoKey(t *testing.T) {
	svc := newTestService(t, filepath.Join(t.TempDir(), "lab.sqlite3"))
	path := filepath.Join(t.TempDir(), "silence.wav")
	if err := audio.WriteWAV(path, audio.NewMono(make([]float64, 22050), 22050)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Load(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	a, err := svc.Analyze()
	if err != nil {
		t.Fatalf("Analyze of silence failed: %v", err)
	}
	if a.Key != nil || a.Beat.Tempo != 0 {
		t.Errorf("analysis = tempo %g, key %v; want 0 and none", a.Beat.Tempo, a.Key)
	}

	history, err := svc.History(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Key != "" || history[0].Mode != "" {
		t.Errorf("history = %+v, want one entry without a key", history)
	}
}

// memoryStorage is an in-process Storage used to check that the service only
// talks to storage through the interface.
type memoryStorage struct {
	analyses []AnalysisEntry
	failing  bool
}

func (m *memoryStorage) SaveModel(*StoredModel) (string, error) { return "", errors.New("read-only") }
func (m *memoryStorage) GetModel(string) (*StoredModel, error) { return nil, ErrNotFound }
func (m *memoryStorage) ListModels() ([]ModelInfo, error) { return nil, nil }
func (m *memoryStorage) DeleteModel(string) error { return ErrNotFound }
func (m *memoryStorage) ListAnalyses(int) ([]AnalysisEntry, error) { return m.analyses, nil }
func (m *memoryStorage) Close() error { return nil }

func (m *memoryStorage) RecordAnalysis(e *AnalysisEntry) error {
	if m.failing {
		return errors.New("disk full")
	}
	m.analyses = append(m.analyses, *e)
	return nil
}

func TestWithStorage(t *testing.T) {
	store := &memoryStorage{failing: true}
	svc := newTestService(t, "", WithStorage(store))

	path := writeTone(t, filepath.Join(t.TempDir(), "a.wav"), 440, 0.5)
	if _, err := svc.Load(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Analyze(); err != nil {
		t.Errorf("a failed history write must not fail Analyze: %v", err)
	}

	store.failing = false
	if _, err := svc.Analyze(); err != nil {
		t.Fatal(err)
	}
	if len(store.analyses) != 1 {
		t.Errorf("Expected 1 recorded analysis, got %d", len(store.analyses))
	}
}

func TestServiceErrors(t *testing.T) {
	svc := newTestService(t, filepath.Join(t.TempDir(), "lab.sqlite3"))
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"load missing file", func() error { _, err := svc.Load(ctx, "/nonexistent/a.wav"); return err }, ErrDecode},
		{"spectrogram without audio", func() error { _, err := svc.Spectrogram(); return err }, ErrAnalysis},
		{"train on empty dir", func() error { _, err := svc.Train(ctx, t.TempDir(), nil); return err }, ErrTraining},
		{"generate without model", func() error { _, err := svc.Generate(ctx); return err }, ErrGeneration},
		{"playback without audio", func() error { _, err := svc.PreparePlayback(); return err }, ErrPlayback},
		{"unknown model", func() error { _, err := svc.UseModel("missing"); return err }, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInvalidPrecision(t *testing.T) {
	_, err := NewService(WithStorage(&memoryStorage{}), WithWeightPrecision(Precision(8)), WithLogger(quietLogger()))
	if err == nil {
		t.Error("Expected an error for an unsupported precision")
	}
}
