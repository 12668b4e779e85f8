// Package scembed computes dense embeddings for single-cell gene
// expression profiles with a trained feed-forward encoder and retrieves
// similar cells from a cosine-space nearest-neighbor index.
//
// A CellEmbedding is constructed from a model directory holding the
// encoder checkpoint, the aligned gene order, the label table and,
// unless an explicit architecture is supplied, the per-layer weight
// shapes:
//
//	ce, err := scembed.New("./model")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	embeddings, err := ce.Embed(ctx, expr, -1, 0)
//
// Expression input may be a *mat.Dense, [][]float32, a *matrix.CSR or
// any matrix.Matrix; rows must be aligned to ce.GeneOrder(). Inference
// runs in fixed-size chunks so peak memory is bounded by the chunk size
// regardless of input size.
//
// Retrieval is optional and degrades gracefully: a missing index file
// logs a warning and leaves queries disabled.
//
//	if err := ce.LoadKNNIndex("./model/cells.knn"); err != nil {
//		log.Fatal(err)
//	}
//	if ce.KNNIndexLoaded() {
//		res, err := ce.NearestNeighbors(ctx, embeddings, 50, 100)
//		...
//	}
package scembed

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/scembed/scembed/encoder"
	"github.com/scembed/scembed/knn"
	"github.com/scembed/scembed/matrix"
	"github.com/scembed/scembed/model"
)

// DefaultChunkSize is the number of rows forwarded through the encoder
// per inference chunk when the caller does not choose one.
const DefaultChunkSize = 10000

// Encoder turns a dense expression chunk into latent rows. Implemented
// by encoder.FFN.
type Encoder interface {
	Forward(x *mat.Dense) (*mat.Dense, error)
	LatentDim() int
}

// CellEmbedding embeds expression profiles and queries the cell index.
// Gene order, labels and encoder weights are loaded once at construction
// and are read-only afterwards; only LoadKNNIndex mutates state, and
// queries never do.
type CellEmbedding struct {
	geneOrder []string
	labels    *model.LabelRegistry
	encoder   Encoder
	index     *knn.Index
	logger    *Logger
	metrics   MetricsCollector
}

// New loads a model directory. See DefaultFilenames for the expected
// layout; WithArch skips the layer-size inference, WithResidual enables
// skip connections on dimension-matched hidden layers.
func New(modelPath string, optFns ...Option) (*CellEmbedding, error) {
	opts := applyOptions(optFns)
	fn := opts.filenames

	geneOrder, err := model.LoadGeneOrder(filepath.Join(modelPath, fn.GeneOrder))
	if err != nil {
		return nil, err
	}
	labels, err := model.LoadLabelRegistry(filepath.Join(modelPath, fn.LabelInts))
	if err != nil {
		return nil, err
	}

	var arch encoder.Arch
	if opts.arch != nil {
		arch = *opts.arch
	} else {
		arch, err = encoder.InferArch(filepath.Join(modelPath, fn.LayerSizes))
		if err != nil {
			return nil, err
		}
	}
	if opts.residual {
		arch.Residual = true
	}
	if arch.NumGenes != len(geneOrder) {
		return nil, fmt.Errorf("scembed: architecture expects %d genes, gene order lists %d", arch.NumGenes, len(geneOrder))
	}

	ffn, err := encoder.NewFFN(arch)
	if err != nil {
		return nil, err
	}
	if err := ffn.LoadState(filepath.Join(modelPath, fn.Checkpoint)); err != nil {
		return nil, err
	}

	ce := &CellEmbedding{
		geneOrder: geneOrder,
		labels:    labels,
		encoder:   ffn,
		index:     knn.New(arch.LatentDim, opts.logger.Logger),
		logger:    opts.logger,
		metrics:   opts.metricsCollector,
	}
	ce.logger.Info("model loaded",
		"path", modelPath,
		"genes", len(geneOrder),
		"latent_dim", arch.LatentDim,
		"hidden_layers", len(arch.Hidden),
		"labels", labels.Len(),
	)
	return ce, nil
}

// GeneOrder returns the aligned gene symbols. Expression input columns
// must follow this order.
func (ce *CellEmbedding) GeneOrder() []string {
	out := make([]string, len(ce.geneOrder))
	copy(out, ce.geneOrder)
	return out
}

// NumGenes returns the expected expression-row length.
func (ce *CellEmbedding) NumGenes() int { return len(ce.geneOrder) }

// LatentDim returns the embedding dimensionality.
func (ce *CellEmbedding) LatentDim() int { return ce.encoder.LatentDim() }

// Labels returns the id <-> label table shipped with the model.
func (ce *CellEmbedding) Labels() *model.LabelRegistry { return ce.labels }

// Embed computes embeddings for the first numRows rows of the input
// expression matrix; numRows == -1 means all rows. Input may be a
// matrix.Matrix, *mat.Dense, [][]float32 or *matrix.CSR. Rows are
// processed in chunks of chunkSize (DefaultChunkSize when <= 0), each
// chunk densified and forwarded through the encoder; results concatenate
// in row order. Any non-finite encoder output fails the whole call with
// ErrNumericalInstability.
func (ce *CellEmbedding) Embed(ctx context.Context, input any, numRows, chunkSize int) ([][]float32, error) {
	start := time.Now()
	out, err := ce.embed(ctx, input, numRows, chunkSize)

	ce.metrics.RecordEmbed(len(out), time.Since(start), err)
	ce.logger.LogEmbed(ctx, len(out), time.Since(start), err)
	return out, err
}

func (ce *CellEmbedding) embed(ctx context.Context, input any, numRows, chunkSize int) ([][]float32, error) {
	m, err := matrix.FromAny(input)
	if err != nil {
		return nil, translateError(err)
	}

	rows := m.Rows()
	switch {
	case numRows == -1 || numRows == rows:
	case numRows >= 0 && numRows < rows:
		rows = numRows
	default:
		return nil, fmt.Errorf("scembed: requested %d rows, input has %d", numRows, rows)
	}
	if rows == 0 {
		return nil, ErrEmptyInput
	}
	if m.Cols() != len(ce.geneOrder) {
		return nil, fmt.Errorf("scembed: input has %d genes, gene order lists %d", m.Cols(), len(ce.geneOrder))
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	out := make([][]float32, 0, rows)
	for lo := 0; lo < rows; lo += chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := lo + chunkSize
		if hi > rows {
			hi = rows
		}

		chunk, err := m.DenseChunk(lo, hi)
		if err != nil {
			return nil, translateError(err)
		}
		latent, err := ce.encoder.Forward(chunk)
		if err != nil {
			return nil, err
		}

		r, c := latent.Dims()
		for i := 0; i < r; i++ {
			row := make([]float32, c)
			for j := 0; j < c; j++ {
				v := latent.At(i, j)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, &ErrNumericalInstability{Row: lo + i, Col: j}
				}
				row[j] = float32(v)
			}
			out = append(out, row)
		}
	}
	return out, nil
}

// LoadKNNIndex loads the cell index used by NearestNeighbors, replacing
// any previously loaded index. A missing file is not an error: a warning
// is logged and the index left unset; check KNNIndexLoaded.
func (ce *CellEmbedding) LoadKNNIndex(path string) error {
	start := time.Now()
	err := ce.index.Load(path)

	ce.metrics.RecordIndexLoad(time.Since(start), err)
	ce.logger.LogIndexLoad(context.Background(), path, ce.index.Loaded(), err)
	return err
}

// KNNIndexLoaded reports whether an index is available for querying.
func (ce *CellEmbedding) KNNIndexLoaded() bool { return ce.index.Loaded() }

// NearestNeighbors returns, per embedding row, the k nearest cells in
// the loaded index by ascending cosine distance. ef is the search
// breadth, applied on every call; non-positive k or ef fall back to
// knn.DefaultK and knn.DefaultEF.
func (ce *CellEmbedding) NearestNeighbors(ctx context.Context, embeddings [][]float32, k, ef int) (*knn.Result, error) {
	// Resolve defaults here so metrics and logs see the effective k.
	if k <= 0 {
		k = knn.DefaultK
	}
	if ef <= 0 {
		ef = knn.DefaultEF
	}

	start := time.Now()
	res, err := ce.nearestNeighbors(ctx, embeddings, k, ef)

	ce.metrics.RecordQuery(k, time.Since(start), err)
	ce.logger.LogQuery(ctx, len(embeddings), k, err)
	return res, err
}

func (ce *CellEmbedding) nearestNeighbors(ctx context.Context, embeddings [][]float32, k, ef int) (*knn.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := ce.index.Query(embeddings, k, ef)
	if err != nil {
		return nil, translateError(err)
	}
	return res, nil
}
