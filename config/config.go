// Package config handles configuration loading for the scembed CLI.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Data      DataConfig      `yaml:"data"`
	Log       LogConfig       `yaml:"log"`
}

// ModelConfig locates the model directory and its files.
type ModelConfig struct {
	Path       string `yaml:"path"`
	Checkpoint string `yaml:"checkpoint"`
	GeneOrder  string `yaml:"gene_order"`
	LayerSizes string `yaml:"layer_sizes"`
	LabelInts  string `yaml:"label_ints"`
	Residual   bool   `yaml:"residual"`
}

// EmbeddingConfig contains inference settings.
type EmbeddingConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

// IndexConfig contains nearest-neighbor index settings.
type IndexConfig struct {
	Path string `yaml:"path"`
	K    int    `yaml:"k"`
	EF   int    `yaml:"ef"`
}

// DataConfig contains training data loading settings.
type DataConfig struct {
	TrainPath   string `yaml:"train_path"`
	ValPath     string `yaml:"val_path"`
	TestPath    string `yaml:"test_path"`
	LabelColumn string `yaml:"label_column"`
	StudyColumn string `yaml:"study_column"`
	BatchSize   int    `yaml:"batch_size"`
	NumWorkers  int    `yaml:"num_workers"`
	Seed        int64  `yaml:"seed"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Path:       "./model",
			Checkpoint: "encoder.ckpt",
			GeneOrder:  "gene_order.tsv",
			LayerSizes: "layer_sizes.json",
			LabelInts:  "label_ints.csv",
		},
		Embedding: EmbeddingConfig{
			ChunkSize: 10000,
		},
		Index: IndexConfig{
			Path: "./model/cells.knn",
			K:    50,
			EF:   100,
		},
		Data: DataConfig{
			LabelColumn: "celltype_id",
			StudyColumn: "study",
			BatchSize:   1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Model.Path == "" {
		cfg.Model.Path = defaults.Model.Path
	}
	if cfg.Model.Checkpoint == "" {
		cfg.Model.Checkpoint = defaults.Model.Checkpoint
	}
	if cfg.Model.GeneOrder == "" {
		cfg.Model.GeneOrder = defaults.Model.GeneOrder
	}
	if cfg.Model.LayerSizes == "" {
		cfg.Model.LayerSizes = defaults.Model.LayerSizes
	}
	if cfg.Model.LabelInts == "" {
		cfg.Model.LabelInts = defaults.Model.LabelInts
	}
	if cfg.Embedding.ChunkSize == 0 {
		cfg.Embedding.ChunkSize = defaults.Embedding.ChunkSize
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = defaults.Index.Path
	}
	if cfg.Index.K == 0 {
		cfg.Index.K = defaults.Index.K
	}
	if cfg.Index.EF == 0 {
		cfg.Index.EF = defaults.Index.EF
	}
	if cfg.Data.LabelColumn == "" {
		cfg.Data.LabelColumn = defaults.Data.LabelColumn
	}
	if cfg.Data.BatchSize == 0 {
		cfg.Data.BatchSize = defaults.Data.BatchSize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}
