package matrix

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Dense is an expression matrix backed by a gonum dense matrix.
type Dense struct {
	m *mat.Dense
}

// NewDense wraps m as an expression matrix. The matrix is not copied.
func NewDense(m *mat.Dense) *Dense {
	return &Dense{m: m}
}

// DenseFromRows builds a dense expression matrix from per-cell rows.
// All rows must have the same length.
func DenseFromRows(rows [][]float32) (*Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows given")
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), cols)
		}
		for _, v := range row {
			data = append(data, float64(v))
		}
	}
	return &Dense{m: mat.NewDense(len(rows), cols, data)}, nil
}

// Rows returns the number of cells.
func (d *Dense) Rows() int {
	r, _ := d.m.Dims()
	return r
}

// Cols returns the number of genes.
func (d *Dense) Cols() int {
	_, c := d.m.Dims()
	return c
}

// DenseChunk returns a view of rows [start, end). No data is copied.
func (d *Dense) DenseChunk(start, end int) (*mat.Dense, error) {
	if err := checkChunkBounds(start, end, d.Rows()); err != nil {
		return nil, err
	}
	if start == end {
		return &mat.Dense{}, nil
	}
	return d.m.Slice(start, end, 0, d.Cols()).(*mat.Dense), nil
}

func (d *Dense) sealed() {}
