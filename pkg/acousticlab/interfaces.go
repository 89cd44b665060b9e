package acousticlab

import "context"

type Service interface {
	Load(ctx context.Context, audioPath string) (*Buffer, error)
	Spectrogram() (*Spectrogram, error)
	Analyze() (*Analysis, error)
	Train(ctx context.Context, corpusDir string, progress Progress) (*TrainResult, error)
	Generate(ctx context.Context) (string, error)
	PreparePlayback() (string, error)

	SaveModel(name string) (*ModelInfo, error)
	UseModel(idOrName string) (*ModelInfo, error)
	ListModels() ([]ModelInfo, error)
	DeleteModel(idOrName string) error
	History(limit int) ([]AnalysisEntry, error)
	Close() error
}

type Storage interface {
	SaveModel(m *StoredModel) (string, error)
	GetModel(idOrName string) (*StoredModel, error)
	ListModels() ([]ModelInfo, error)
	DeleteModel(idOrName string) error
	RecordAnalysis(entry *AnalysisEntry) error
	ListAnalyses(limit int) ([]AnalysisEntry, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
