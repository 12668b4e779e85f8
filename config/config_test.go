package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	return cfg
}

func TestLoad(t *testing.T) {
	cfg := loadFromString(t, `
model:
  path: /models/v1
  residual: true
embedding:
  chunk_size: 5000
index:
  path: /models/v1/cells.knn
  k: 25
data:
  train_path: /data/train
  label_column: cell_type
  batch_size: 256
`)

	assert.Equal(t, "/models/v1", cfg.Model.Path)
	assert.True(t, cfg.Model.Residual)
	assert.Equal(t, 5000, cfg.Embedding.ChunkSize)
	assert.Equal(t, 25, cfg.Index.K)
	assert.Equal(t, "/data/train", cfg.Data.TrainPath)
	assert.Equal(t, "cell_type", cfg.Data.LabelColumn)
	assert.Equal(t, 256, cfg.Data.BatchSize)
}

func TestLoadDefaultsApplied(t *testing.T) {
	cfg := loadFromString(t, `
model:
  path: /models/v1
`)

	assert.Equal(t, "encoder.ckpt", cfg.Model.Checkpoint)
	assert.Equal(t, "gene_order.tsv", cfg.Model.GeneOrder)
	assert.Equal(t, 10000, cfg.Embedding.ChunkSize)
	assert.Equal(t, 50, cfg.Index.K)
	assert.Equal(t, 100, cfg.Index.EF)
	assert.Equal(t, "celltype_id", cfg.Data.LabelColumn)
	assert.Equal(t, 1000, cfg.Data.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
