package hnsw

import (
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(num, dimensions int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))

	vectors := make([][]float32, num)
	for i := range vectors {
		vectors[i] = make([]float32, dimensions)
		for j := range vectors[i] {
			vectors[i][j] = r.Float32()
		}
	}
	return vectors
}

func buildGraph(t *testing.T, vectors [][]float32) *HNSW {
	t.Helper()
	h := New(len(vectors[0]))
	for i, v := range vectors {
		id, err := h.Insert(v)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), id)
	}
	return h
}

func TestInsertAssignsDenseIDs(t *testing.T) {
	h := buildGraph(t, randomVectors(50, 8, 42))
	assert.Equal(t, 50, h.Len())
}

func TestInsertDimensionMismatch(t *testing.T) {
	h := New(8)
	_, err := h.Insert(make([]float32, 4))
	require.Error(t, err)

	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 8, dm.Expected)
	assert.Equal(t, 4, dm.Actual)
}

func TestKNNSearch(t *testing.T) {
	vectors := randomVectors(200, 16, 4711)
	h := buildGraph(t, vectors)

	query := vectors[17]
	results, err := h.KNNSearch(query, 10, 100)
	require.NoError(t, err)
	require.Len(t, results, 10)

	// Ascending by distance.
	assert.True(t, sort.SliceIsSorted(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	}))

	// The query vector itself is in the corpus and must come first.
	assert.Equal(t, uint32(17), results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
}

func TestKNNSearchEmptyGraph(t *testing.T) {
	h := New(8)
	_, err := h.KNNSearch(make([]float32, 8), 5, 50)
	assert.Error(t, err)
}

func TestKNNSearchInvalidK(t *testing.T) {
	h := buildGraph(t, randomVectors(5, 4, 1))
	_, err := h.KNNSearch(make([]float32, 4), 0, 50)
	assert.Error(t, err)
}

func TestKNNSearchRecall(t *testing.T) {
	vectors := randomVectors(500, 12, 99)
	h := buildGraph(t, vectors)

	queries := randomVectors(20, 12, 100)

	var hits, total int
	for _, q := range queries {
		approx, err := h.KNNSearch(q, 10, 200)
		require.NoError(t, err)
		exact, err := h.BruteSearch(q, 10)
		require.NoError(t, err)

		exactIDs := make(map[uint32]struct{}, len(exact))
		for _, r := range exact {
			exactIDs[r.ID] = struct{}{}
		}
		for _, r := range approx {
			if _, ok := exactIDs[r.ID]; ok {
				hits++
			}
		}
		total += len(exact)
	}

	recall := float64(hits) / float64(total)
	assert.Greater(t, recall, 0.8, "recall %f too low", recall)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	vectors := randomVectors(100, 8, 7)
	h := buildGraph(t, vectors)

	path := filepath.Join(t.TempDir(), "cells.knn")
	require.NoError(t, h.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, h.Len(), loaded.Len())
	assert.Equal(t, h.Dimension(), loaded.Dimension())

	query := vectors[3]
	want, err := h.KNNSearch(query, 5, 100)
	require.NoError(t, err)
	got, err := loaded.KNNSearch(query, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.knn"))
	assert.Error(t, err)
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 1, cosineDistance([]float32{1, 0}, []float32{0, 3}), 1e-6)
	assert.InDelta(t, 2, cosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.InDelta(t, 1, cosineDistance([]float32{0, 0}, []float32{1, 0}), 1e-6)
}
