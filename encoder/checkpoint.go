package encoder

import (
	"encoding/gob"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Tensor is one checkpoint entry: a shape and its row-major values.
type Tensor struct {
	Shape []int
	Data  []float64
}

// State maps checkpoint keys (network.N.weight, network.N.bias, N
// starting at 1) to tensors.
type State map[string]Tensor

// LoadState reads a gob-encoded checkpoint file and installs its weights.
func (f *FFN) LoadState(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("encoder: open checkpoint: %w", err)
	}
	defer fh.Close()

	var state State
	if err := gob.NewDecoder(fh).Decode(&state); err != nil {
		return fmt.Errorf("encoder: decode checkpoint: %w", err)
	}
	return f.LoadStateMap(state)
}

// LoadStateMap installs weights from an in-memory state, validating every
// tensor shape against the architecture.
func (f *FFN) LoadStateMap(state State) error {
	for i := range f.layers {
		wKey := fmt.Sprintf("network.%d.weight", i+1)
		bKey := fmt.Sprintf("network.%d.bias", i+1)

		w, ok := state[wKey]
		if !ok {
			return fmt.Errorf("encoder: checkpoint missing %s", wKey)
		}
		rows, cols := f.layers[i].w.Dims()
		if len(w.Shape) != 2 || w.Shape[0] != rows || w.Shape[1] != cols {
			return fmt.Errorf("encoder: %s has shape %v, expected [%d %d]", wKey, w.Shape, rows, cols)
		}
		if len(w.Data) != rows*cols {
			return fmt.Errorf("encoder: %s has %d values, expected %d", wKey, len(w.Data), rows*cols)
		}
		f.layers[i].w = mat.NewDense(rows, cols, append([]float64(nil), w.Data...))

		b, ok := state[bKey]
		if !ok {
			return fmt.Errorf("encoder: checkpoint missing %s", bKey)
		}
		if len(b.Shape) != 1 || b.Shape[0] != rows || len(b.Data) != rows {
			return fmt.Errorf("encoder: %s has shape %v, expected [%d]", bKey, b.Shape, rows)
		}
		f.layers[i].b = mat.NewVecDense(rows, append([]float64(nil), b.Data...))
	}
	return nil
}

// SaveState writes the current weights as a gob checkpoint. Used when
// converting externally trained weights into this module's format and by
// test fixtures.
func (f *FFN) SaveState(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("encoder: create checkpoint: %w", err)
	}
	defer fh.Close()

	if err := gob.NewEncoder(fh).Encode(f.stateMap()); err != nil {
		return fmt.Errorf("encoder: encode checkpoint: %w", err)
	}
	return nil
}

// SaveLayerSizes writes the layer-sizes JSON companion file that InferArch
// consumes.
func (f *FFN) SaveLayerSizes(path string) error {
	shapes := make(map[string][]int, len(f.layers)*2)
	for i, l := range f.layers {
		rows, cols := l.w.Dims()
		shapes[fmt.Sprintf("network.%d.weight", i+1)] = []int{rows, cols}
		shapes[fmt.Sprintf("network.%d.bias", i+1)] = []int{rows}
	}
	return writeJSON(path, shapes)
}

func (f *FFN) stateMap() State {
	state := make(State, len(f.layers)*2)
	for i, l := range f.layers {
		rows, cols := l.w.Dims()
		state[fmt.Sprintf("network.%d.weight", i+1)] = Tensor{
			Shape: []int{rows, cols},
			Data:  append([]float64(nil), l.w.RawMatrix().Data...),
		}
		state[fmt.Sprintf("network.%d.bias", i+1)] = Tensor{
			Shape: []int{rows},
			Data:  append([]float64(nil), l.b.RawVector().Data...),
		}
	}
	return state
}
