// Package matrix defines the closed set of expression-matrix
// representations accepted by the batched embedder.
//
// An expression matrix is rows = cells, columns = genes, values =
// non-negative normalized expression. The backing representation varies
// (dense, compressed sparse row, lazily materialized rows) but every
// variant can produce a dense chunk of consecutive rows, which is the
// only operation the embedder needs. Densification happens per chunk, so
// peak memory is bounded by one chunk regardless of total input size.
package matrix

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix is the closed set of supported expression-matrix variants.
// Implementations live in this package only.
type Matrix interface {
	// Rows returns the number of cells.
	Rows() int

	// Cols returns the number of genes.
	Cols() int

	// DenseChunk materializes rows [start, end) as a dense matrix.
	DenseChunk(start, end int) (*mat.Dense, error)

	sealed()
}

// ErrUnsupportedType indicates a value that cannot be classified into one
// of the supported expression-matrix representations.
type ErrUnsupportedType struct {
	Value any
}

func (e *ErrUnsupportedType) Error() string {
	return fmt.Sprintf("unsupported expression matrix type %T", e.Value)
}

// FromAny classifies v into one of the supported variants.
//
// Accepted: Matrix, *mat.Dense, [][]float32, *CSR. Anything else is
// rejected at this boundary with *ErrUnsupportedType.
func FromAny(v any) (Matrix, error) {
	switch x := v.(type) {
	case Matrix:
		return x, nil
	case *mat.Dense:
		return NewDense(x), nil
	case [][]float32:
		return DenseFromRows(x)
	case *CSR:
		return x, nil
	default:
		return nil, &ErrUnsupportedType{Value: v}
	}
}

func checkChunkBounds(start, end, rows int) error {
	if start < 0 || end < start || end > rows {
		return fmt.Errorf("chunk bounds [%d, %d) out of range for %d rows", start, end, rows)
	}
	return nil
}
