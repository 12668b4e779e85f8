package scembed

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/scembed/scembed/encoder"
	"github.com/scembed/scembed/hnsw"
	"github.com/scembed/scembed/knn"
)

// testArch is a single linear layer mapping 4 genes onto the first 3
// axes, so embeddings are easy to predict: row [3,4,0,0] normalizes to
// [0.6, 0.8, 0].
var testArch = encoder.Arch{NumGenes: 4, LatentDim: 3}

func writeModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gene_order.tsv"),
		[]byte("GENE0\nGENE1\nGENE2\nGENE3\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "label_ints.csv"),
		[]byte("0,b cell\n1,t cell\n"), 0o644))

	ffn, err := encoder.NewFFN(testArch)
	require.NoError(t, err)
	require.NoError(t, ffn.LoadStateMap(encoder.State{
		"network.1.weight": {Shape: []int{3, 4}, Data: []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, 0,
		}},
		"network.1.bias": {Shape: []int{3}, Data: []float64{0, 0, 0}},
	}))
	require.NoError(t, ffn.SaveState(filepath.Join(dir, "encoder.ckpt")))
	require.NoError(t, ffn.SaveLayerSizes(filepath.Join(dir, "layer_sizes.json")))
	return dir
}

func TestNewFromModelDir(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)

	assert.Equal(t, 4, ce.NumGenes())
	assert.Equal(t, 3, ce.LatentDim())
	assert.Equal(t, []string{"GENE0", "GENE1", "GENE2", "GENE3"}, ce.GeneOrder())
	assert.Equal(t, 2, ce.Labels().Len())
}

func TestNewWithExplicitArch(t *testing.T) {
	dir := writeModelDir(t)
	// The layer-sizes file is not consulted with an explicit arch.
	require.NoError(t, os.Remove(filepath.Join(dir, "layer_sizes.json")))

	ce, err := New(dir, WithArch(testArch))
	require.NoError(t, err)
	assert.Equal(t, 3, ce.LatentDim())
}

func TestNewArchGeneMismatch(t *testing.T) {
	_, err := New(writeModelDir(t), WithArch(encoder.Arch{NumGenes: 8, LatentDim: 3}))
	assert.Error(t, err)
}

func TestEmbedDense(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)

	out, err := ce.Embed(context.Background(), [][]float32{
		{3, 4, 0, 0},
		{0, 0, 5, 0},
	}, -1, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0}, out[0], 1e-6)
	assert.InDeltaSlice(t, []float32{0, 0, 1}, out[1], 1e-6)
}

func randomExpression(rows int) [][]float32 {
	r := rand.New(rand.NewSource(3))
	out := make([][]float32, rows)
	for i := range out {
		out[i] = make([]float32, 4)
		for j := range out[i] {
			out[i][j] = r.Float32() + 0.1
		}
	}
	return out
}

func TestEmbedChunkingInvariance(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)

	input := randomExpression(25)
	small, err := ce.Embed(context.Background(), input, -1, 7)
	require.NoError(t, err)
	large, err := ce.Embed(context.Background(), input, -1, 10000)
	require.NoError(t, err)
	assert.Equal(t, large, small)
}

func TestEmbedNumRows(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)
	ctx := context.Background()
	input := randomExpression(5)

	all, err := ce.Embed(ctx, input, -1, 0)
	require.NoError(t, err)
	exact, err := ce.Embed(ctx, input, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, all, exact)

	first, err := ce.Embed(ctx, input, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, all[:2], first)

	_, err = ce.Embed(ctx, input, 6, 0)
	assert.Error(t, err)

	_, err = ce.Embed(ctx, input, 0, 0)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedUnsupportedType(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)

	_, err = ce.Embed(context.Background(), "not a matrix", -1, 0)
	assert.ErrorIs(t, err, ErrUnsupportedInputType)
}

func TestEmbedGeneCountMismatch(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)

	_, err = ce.Embed(context.Background(), [][]float32{{1, 2}}, -1, 0)
	assert.Error(t, err)
}

func TestEmbedContextCancellation(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ce.Embed(ctx, randomExpression(5), -1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

// nanEncoder poisons one output cell.
type nanEncoder struct {
	inner Encoder
}

func (e nanEncoder) Forward(x *mat.Dense) (*mat.Dense, error) {
	out, err := e.inner.Forward(x)
	if err != nil {
		return nil, err
	}
	out.Set(1, 2, math.NaN())
	return out, nil
}

func (e nanEncoder) LatentDim() int { return e.inner.LatentDim() }

func TestEmbedNumericalInstability(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)
	ce.encoder = nanEncoder{inner: ce.encoder}

	_, err = ce.Embed(context.Background(), randomExpression(3), -1, 0)
	require.Error(t, err)

	var ni *ErrNumericalInstability
	require.ErrorAs(t, err, &ni)
	assert.Equal(t, 1, ni.Row)
	assert.Equal(t, 2, ni.Col)
}

func TestNearestNeighborsBeforeLoad(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)

	_, err = ce.NearestNeighbors(context.Background(), [][]float32{{1, 0, 0}}, 5, 50)
	assert.ErrorIs(t, err, ErrIndexNotInitialized)
}

func TestLoadKNNIndexMissingFile(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)

	require.NoError(t, ce.LoadKNNIndex(filepath.Join(t.TempDir(), "missing.knn")))
	assert.False(t, ce.KNNIndexLoaded())
}

func TestEmbedAndRetrieve(t *testing.T) {
	ce, err := New(writeModelDir(t))
	require.NoError(t, err)
	ctx := context.Background()

	corpus := randomExpression(60)
	embeddings, err := ce.Embed(ctx, corpus, -1, 0)
	require.NoError(t, err)

	graph := hnsw.New(ce.LatentDim())
	for _, emb := range embeddings {
		_, err := graph.Insert(emb)
		require.NoError(t, err)
	}
	path := filepath.Join(t.TempDir(), "cells.knn")
	require.NoError(t, graph.Save(path))

	require.NoError(t, ce.LoadKNNIndex(path))
	require.True(t, ce.KNNIndexLoaded())

	res, err := ce.NearestNeighbors(ctx, embeddings[:3], 5, 100)
	require.NoError(t, err)
	require.Len(t, res.Indices, 3)
	for i := range res.Indices {
		require.Len(t, res.Indices[i], 5)
		assert.Equal(t, uint32(i), res.Indices[i][0], "self-match first for query %d", i)
	}
}

// recordingCollector captures the k of the most recent query record.
type recordingCollector struct {
	NoopMetricsCollector
	queryK int
}

func (c *recordingCollector) RecordQuery(k int, _ time.Duration, _ error) { c.queryK = k }

func TestQueryMetricsRecordEffectiveK(t *testing.T) {
	metrics := &recordingCollector{}
	ce, err := New(writeModelDir(t), WithMetricsCollector(metrics))
	require.NoError(t, err)

	// Non-positive k falls back to the default; metrics should see the
	// resolved value rather than the caller's zero.
	_, _ = ce.NearestNeighbors(context.Background(), [][]float32{{1, 0, 0}}, 0, 0)
	assert.Equal(t, knn.DefaultK, metrics.queryK)
}

func TestMetricsCollection(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	ce, err := New(writeModelDir(t), WithMetricsCollector(metrics))
	require.NoError(t, err)

	_, err = ce.Embed(context.Background(), randomExpression(4), -1, 0)
	require.NoError(t, err)
	_, _ = ce.NearestNeighbors(context.Background(), [][]float32{{1, 0, 0}}, 5, 50)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.EmbedCount)
	assert.Equal(t, int64(4), stats.EmbedRows)
	assert.Equal(t, int64(1), stats.QueryCount)
	assert.Equal(t, int64(1), stats.QueryErrors)
}
