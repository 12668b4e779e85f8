package encoder

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrDimensionMismatch indicates an input batch whose column count does
// not match the encoder's expected gene count.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

type layer struct {
	w *mat.Dense    // out x in
	b *mat.VecDense // out
}

// FFN is a feed-forward encoder: hidden layers with ReLU activation
// (optionally with residual skips) followed by a linear projection to the
// latent dimension. Output rows are L2-normalized, since the downstream
// nearest-neighbor index operates in cosine space.
type FFN struct {
	arch   Arch
	layers []layer
}

// NewFFN allocates a zero-weight encoder for the given architecture.
// Weights come from LoadState before any useful forward pass.
func NewFFN(arch Arch) (*FFN, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	f := &FFN{arch: arch}
	for _, d := range arch.layerDims() {
		f.layers = append(f.layers, layer{
			w: mat.NewDense(d[1], d[0], nil),
			b: mat.NewVecDense(d[1], nil),
		})
	}
	return f, nil
}

// Arch returns the encoder architecture.
func (f *FFN) Arch() Arch { return f.arch }

// LatentDim returns the embedding dimensionality.
func (f *FFN) LatentDim() int { return f.arch.LatentDim }

// Forward runs the batch through the network and returns one
// L2-normalized latent row per input row.
func (f *FFN) Forward(x *mat.Dense) (*mat.Dense, error) {
	_, c := x.Dims()
	if c != f.arch.NumGenes {
		return nil, &ErrDimensionMismatch{Expected: f.arch.NumGenes, Actual: c}
	}

	h := x
	for i, l := range f.layers {
		out := &mat.Dense{}
		out.Mul(h, l.w.T())
		addBiasRows(out, l.b)

		if i < len(f.layers)-1 {
			reluInPlace(out)
			if f.arch.Residual && sameShape(out, h) {
				out.Add(out, h)
			}
		}
		h = out
	}

	normalizeRows(h)
	return h, nil
}

func addBiasRows(m *mat.Dense, b *mat.VecDense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] += b.AtVec(j)
		}
	}
}

func reluInPlace(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j, v := range row {
			if v < 0 {
				row[j] = 0
			}
		}
	}
}

func sameShape(a, b *mat.Dense) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}

func normalizeRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		norm := floats.Norm(row, 2)
		if norm == 0 {
			continue
		}
		floats.Scale(1/norm, row)
	}
}
