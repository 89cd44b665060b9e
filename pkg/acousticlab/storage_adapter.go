package acousticlab

import (
	"time"

	"github.com/himanishpuri/AcousticLab/internal/storage"
)

// storageAdapter adapts the storage.DBClient to implement the Storage interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteStorage creates a new SQLite storage backend.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) SaveModel(m *StoredModel) (string, error) {
	rec := &storage.ModelRecord{
		ID:         m.ID,
		Name:       m.Name,
		InputSize:  m.InputSize,
		HiddenSize: m.HiddenSize,
		MaxLen:     m.MaxLen,
		Epochs:     m.Epochs,
		CorpusSize: m.CorpusSize,
		FinalLoss:  m.FinalLoss,
		Precision:  m.Precision,
		Weights:    m.Weights,
	}
	return s.db.SaveModel(rec)
}

func (s *storageAdapter) GetModel(idOrName string) (*StoredModel, error) {
	rec, err := s.db.GetModel(idOrName)
	if err != nil {
		return nil, err
	}
	return &StoredModel{ModelInfo: modelInfo(rec), Weights: rec.Weights}, nil
}

func (s *storageAdapter) ListModels() ([]ModelInfo, error) {
	recs, err := s.db.ListModels()
	if err != nil {
		return nil, err
	}
	out := make([]ModelInfo, len(recs))
	for i := range recs {
		out[i] = modelInfo(&recs[i])
	}
	return out, nil
}

func (s *storageAdapter) DeleteModel(idOrName string) error {
	return s.db.DeleteModel(idOrName)
}

func (s *storageAdapter) RecordAnalysis(entry *AnalysisEntry) error {
	rec := &storage.AnalysisRecord{
		Path:       entry.Path,
		SampleRate: entry.SampleRate,
		DurationMs: int(entry.Duration / time.Millisecond),
		Tempo:      entry.Tempo,
		Beats:      entry.Beats,
		Key:        entry.Key,
		Mode:       entry.Mode,
	}
	if err := s.db.RecordAnalysis(rec); err != nil {
		return err
	}
	entry.ID = rec.ID
	entry.CreatedAt = rec.CreatedAt
	return nil
}

func (s *storageAdapter) ListAnalyses(limit int) ([]AnalysisEntry, error) {
	recs, err := s.db.ListAnalyses(limit)
	if err != nil {
		return nil, err
	}
	out := make([]AnalysisEntry, len(recs))
	for i, r := range recs {
		out[i] = AnalysisEntry{
			ID:         r.ID,
			Path:       r.Path,
			SampleRate: r.SampleRate,
			Duration:   time.Duration(r.DurationMs) * time.Millisecond,
			Tempo:      r.Tempo,
			Beats:      r.Beats,
			Key:        r.Key,
			Mode:       r.Mode,
			CreatedAt:  r.CreatedAt,
		}
	}
	return out, nil
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}

func modelInfo(rec *storage.ModelRecord) ModelInfo {
	return ModelInfo{
		ID:         rec.ID,
		Name:       rec.Name,
		InputSize:  rec.InputSize,
		HiddenSize: rec.HiddenSize,
		MaxLen:     rec.MaxLen,
		Epochs:     rec.Epochs,
		CorpusSize: rec.CorpusSize,
		FinalLoss:  rec.FinalLoss,
		Precision:  rec.Precision,
		CreatedAt:  rec.CreatedAt,
	}
}
