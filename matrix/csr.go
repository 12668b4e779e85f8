package matrix

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CSR is a compressed-sparse-row expression matrix: Data holds the
// non-zero values, Indices the column index of each value, and Indptr
// the [start, end) extent of each row within Data/Indices.
// The layout matches the usual scipy convention.
type CSR struct {
	Data    []float32
	Indices []int32
	Indptr  []int64
	NumCols int
}

// NewCSR builds a CSR matrix and validates its parallel-slice invariants.
func NewCSR(data []float32, indices []int32, indptr []int64, numCols int) (*CSR, error) {
	c := &CSR{Data: data, Indices: indices, Indptr: indptr, NumCols: numCols}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the CSR invariants.
func (c *CSR) Validate() error {
	if len(c.Data) != len(c.Indices) {
		return fmt.Errorf("csr: data/indices length mismatch: %d != %d", len(c.Data), len(c.Indices))
	}
	if len(c.Indptr) == 0 {
		return fmt.Errorf("csr: empty indptr")
	}
	if c.Indptr[0] != 0 {
		return fmt.Errorf("csr: indptr must start at 0, got %d", c.Indptr[0])
	}
	if got := c.Indptr[len(c.Indptr)-1]; got != int64(len(c.Data)) {
		return fmt.Errorf("csr: indptr end %d != nnz %d", got, len(c.Data))
	}
	for i := 1; i < len(c.Indptr); i++ {
		if c.Indptr[i] < c.Indptr[i-1] {
			return fmt.Errorf("csr: indptr not non-decreasing at %d", i)
		}
	}
	if c.NumCols <= 0 {
		return fmt.Errorf("csr: invalid column count %d", c.NumCols)
	}
	for _, j := range c.Indices {
		if j < 0 || int(j) >= c.NumCols {
			return fmt.Errorf("csr: column index %d out of range [0, %d)", j, c.NumCols)
		}
	}
	return nil
}

// Rows returns the number of cells.
func (c *CSR) Rows() int { return len(c.Indptr) - 1 }

// Cols returns the number of genes.
func (c *CSR) Cols() int { return c.NumCols }

// DenseChunk densifies rows [start, end). Only the requested rows are
// materialized.
func (c *CSR) DenseChunk(start, end int) (*mat.Dense, error) {
	if err := checkChunkBounds(start, end, c.Rows()); err != nil {
		return nil, err
	}
	if start == end {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(end-start, c.NumCols, nil)
	for i := start; i < end; i++ {
		lo, hi := c.Indptr[i], c.Indptr[i+1]
		for p := lo; p < hi; p++ {
			out.Set(i-start, int(c.Indices[p]), float64(c.Data[p]))
		}
	}
	return out, nil
}

func (c *CSR) sealed() {}
