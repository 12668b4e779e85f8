package matrix

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// RowSource supplies expression rows on demand. Implemented by the
// aligned-store reader; rows are fetched only when a chunk touches them.
type RowSource interface {
	NumRows() int
	NumCols() int
	Row(i int) ([]float32, error)
}

// Lazy is an expression matrix whose rows are materialized on access
// from an underlying row source.
type Lazy struct {
	src RowSource
}

// NewLazy wraps src as an expression matrix.
func NewLazy(src RowSource) *Lazy {
	return &Lazy{src: src}
}

// Rows returns the number of cells.
func (l *Lazy) Rows() int { return l.src.NumRows() }

// Cols returns the number of genes.
func (l *Lazy) Cols() int { return l.src.NumCols() }

// DenseChunk fetches rows [start, end) from the source.
func (l *Lazy) DenseChunk(start, end int) (*mat.Dense, error) {
	if err := checkChunkBounds(start, end, l.Rows()); err != nil {
		return nil, err
	}
	if start == end {
		return &mat.Dense{}, nil
	}
	cols := l.Cols()
	out := mat.NewDense(end-start, cols, nil)
	for i := start; i < end; i++ {
		row, err := l.src.Row(i)
		if err != nil {
			return nil, fmt.Errorf("materialize row %d: %w", i, err)
		}
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), cols)
		}
		for j, v := range row {
			out.Set(i-start, j, float64(v))
		}
	}
	return out, nil
}

func (l *Lazy) sealed() {}
