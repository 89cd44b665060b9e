package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/AcousticLab/pkg/utils"
)

const DefaultDBFile = "acousticlab.sqlite3"
const errDBClientNil = "db client is nil"

// ErrNotFound is returned when a model or analysis record does not exist.
var ErrNotFound = errors.New("record not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// ModelRecord is a trained sequence model. Weights holds the encoded network.
type ModelRecord struct {
	ID         string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name       string `gorm:"uniqueIndex:idx_model_name" json:"name"`
	InputSize  int    `json:"input_size"`
	HiddenSize int    `json:"hidden_size"`
	MaxLen     int    `json:"max_len"`
	Epochs     int    `json:"epochs"`
	CorpusSize int    `json:"corpus_size"`
	FinalLoss  float64
	Precision  string `gorm:"type:varchar(16)" json:"precision"`
	Weights    []byte `json:"-"`
	CreatedAt  time.Time
}

// AnalysisRecord is one beat and key analysis of a loaded file.
type AnalysisRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Path       string    `gorm:"index:idx_analysis_path" json:"path"`
	SampleRate int       `json:"sample_rate"`
	DurationMs int       `json:"duration_ms"`
	Tempo      float64   `json:"tempo"`
	BeatCount  int       `json:"beat_count"`
	Beats      []float64 `gorm:"serializer:json" json:"beats"`
	Key        string    `gorm:"type:varchar(2)" json:"key"`
	Mode       string    `gorm:"type:varchar(8)" json:"mode"`
	CreatedAt  time.Time `gorm:"index:idx_analysis_created"`
}

// DefaultDBPath is ACOUSTICLAB_DB_PATH when set, DefaultDBFile otherwise.
func DefaultDBPath() string {
	if dbPath := os.Getenv("ACOUSTICLAB_DB_PATH"); dbPath != "" {
		return dbPath
	}
	return DefaultDBFile
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=foreign_keys(1)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&ModelRecord{}, &AnalysisRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// SaveModel stores rec under its name, replacing an existing model of the same
// name, and returns the record ID.
func (c *DBClient) SaveModel(rec *ModelRecord) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	if rec.Name == "" {
		return "", errors.New("model name is empty")
	}
	if len(rec.Weights) == 0 {
		return "", errors.New("model has no weights")
	}

	err := c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", rec.Name).Delete(&ModelRecord{}).Error; err != nil {
			return fmt.Errorf("replacing model %q: %w", rec.Name, err)
		}
		if rec.ID == "" || !utils.IsUUID(rec.ID) {
			rec.ID = utils.GenerateUUID()
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return "", fmt.Errorf("saving model: %w", err)
	}
	return rec.ID, nil
}

// GetModel looks a model up by ID, falling back to its name.
func (c *DBClient) GetModel(idOrName string) (*ModelRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var rec ModelRecord
	err := c.DB.Where("id = ? OR name = ?", idOrName, idOrName).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: model %q", ErrNotFound, idOrName)
	}
	if err != nil {
		return nil, fmt.Errorf("querying model: %w", err)
	}
	return &rec, nil
}

// ListModels returns model metadata, newest first. Weights are not loaded.
func (c *DBClient) ListModels() ([]ModelRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []ModelRecord
	err := c.DB.Omit("weights").Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return rows, nil
}

func (c *DBClient) DeleteModel(idOrName string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	res := c.DB.Where("id = ? OR name = ?", idOrName, idOrName).Delete(&ModelRecord{})
	if res.Error != nil {
		return fmt.Errorf("deleting model: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: model %q", ErrNotFound, idOrName)
	}
	return nil
}

func (c *DBClient) RecordAnalysis(rec *AnalysisRecord) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if rec.Beats == nil {
		rec.Beats = []float64{}
	}
	rec.BeatCount = len(rec.Beats)
	if err := c.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("recording analysis: %w", err)
	}
	return nil
}

// ListAnalyses returns the most recent analyses first. limit <= 0 returns all.
func (c *DBClient) ListAnalyses(limit int) ([]AnalysisRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	q := c.DB.Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []AnalysisRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	return rows, nil
}
