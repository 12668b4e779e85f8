// Package knn adapts an approximate nearest-neighbor index for cell
// embedding lookups. The index itself is a black box: built elsewhere,
// loaded from a file here, queried many times, never mutated by queries.
package knn

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/scembed/scembed/hnsw"
)

// ErrNotInitialized is returned when Query is called before an index was
// loaded. Build or load an index first.
var ErrNotInitialized = errors.New("knn index is not initialized: load an index file or build one first")

const (
	// DefaultK is the default neighbor count per query row.
	DefaultK = 50
	// DefaultEF is the default search-breadth parameter. Larger values
	// improve recall at the cost of query latency.
	DefaultEF = 100
)

// Result holds, for each query row, k neighbor indices into the corpus
// the index was built from and the parallel cosine distances, ordered by
// ascending distance.
type Result struct {
	Indices   [][]uint32
	Distances [][]float32
}

// Index wraps a cosine-space ANN index with tolerant loading.
type Index struct {
	graph  *hnsw.HNSW
	dim    int
	logger *slog.Logger
}

// New creates an adapter for embeddings of the given dimensionality.
// A nil logger discards log output.
func New(dim int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Index{dim: dim, logger: logger}
}

// Load reads an index file, replacing any previously loaded index.
//
// A missing file is not an error: the adapter logs a warning and records
// that no index is available, so retrieval is disabled rather than the
// caller crashed. Callers check Loaded before querying.
func (x *Index) Load(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		x.logger.Warn("no knn index found, nearest-neighbor queries disabled", "path", path)
		x.graph = nil
		return nil
	}

	graph, err := hnsw.Load(path)
	if err != nil {
		return fmt.Errorf("knn: load index: %w", err)
	}
	if graph.Dimension() != x.dim {
		return fmt.Errorf("knn: index dimension %d does not match embedding dimension %d", graph.Dimension(), x.dim)
	}

	x.graph = graph
	x.logger.Info("knn index loaded", "path", path, "size", graph.Len(), "dimension", graph.Dimension())
	return nil
}

// Loaded reports whether an index is available for querying.
func (x *Index) Loaded() bool { return x.graph != nil }

// Query returns the k nearest neighbors for every embedding row. ef is
// the search breadth, applied on every call; callers may vary it per
// query. Non-positive k or ef fall back to the defaults.
func (x *Index) Query(embeddings [][]float32, k, ef int) (*Result, error) {
	if x.graph == nil {
		return nil, ErrNotInitialized
	}
	if k <= 0 {
		k = DefaultK
	}
	if ef <= 0 {
		ef = DefaultEF
	}

	res := &Result{
		Indices:   make([][]uint32, len(embeddings)),
		Distances: make([][]float32, len(embeddings)),
	}
	for i, emb := range embeddings {
		neighbors, err := x.graph.KNNSearch(emb, k, ef)
		if err != nil {
			return nil, fmt.Errorf("knn: query row %d: %w", i, err)
		}
		idxs := make([]uint32, len(neighbors))
		dists := make([]float32, len(neighbors))
		for j, n := range neighbors {
			idxs[j] = n.ID
			dists[j] = n.Distance
		}
		res.Indices[i] = idxs
		res.Distances[i] = dists
	}
	return res, nil
}
