package acousticlab

import (
	"github.com/himanishpuri/AcousticLab/internal/model"
	"github.com/himanishpuri/AcousticLab/internal/session"
	"github.com/himanishpuri/AcousticLab/internal/storage"
)

type Config struct {
	DBPath     string
	TempDir    string
	OutputDir  string
	SampleRate int
	Precision  Precision
	Logger     Logger
	Storage    Storage

	session session.Config
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithOutputDir sets where generated audio is written.
func WithOutputDir(dir string) Option {
	return func(c *Config) {
		c.OutputDir = dir
	}
}

// WithSampleRate sets the rate of the training and generation pipeline.
func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithHiddenSize(n int) Option {
	return func(c *Config) {
		c.session.Model.HiddenSize = n
	}
}

func WithEpochs(n int) Option {
	return func(c *Config) {
		c.session.Model.Epochs = n
	}
}

func WithGriffinLimIterations(n int) Option {
	return func(c *Config) {
		c.session.Synth.Iterations = n
	}
}

// WithSeed fixes weight initialization, batch order and the initial phase
// of synthesis.
func WithSeed(seed uint64) Option {
	return func(c *Config) {
		c.session.Model.Seed = seed
		c.session.Synth.Seed = seed
	}
}

// WithWeightPrecision selects how saved models store their weights.
func WithWeightPrecision(p Precision) Option {
	return func(c *Config) {
		c.Precision = p
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func defaultConfig() *Config {
	sc := session.DefaultConfig()
	return &Config{
		DBPath:     storage.DefaultDBPath(),
		TempDir:    sc.TempDir,
		OutputDir:  sc.OutputDir,
		SampleRate: sc.SampleRate,
		Precision:  model.Float32,
		session:    sc,
	}
}
