// Package encoder implements the feed-forward neural encoder that maps
// gene-expression rows to latent embedding vectors.
//
// The encoder is inference-only: weights are loaded from a checkpoint and
// never updated. Training happens elsewhere; this package only has to
// reproduce the forward pass.
package encoder

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Arch describes the encoder architecture: input width, hidden layer
// widths and the latent (output) dimension. It is an explicit value type;
// inferring it from a layer-sizes file is one optional factory (InferArch).
type Arch struct {
	NumGenes  int
	LatentDim int
	Hidden    []int
	Residual  bool
}

// Validate checks the architecture invariants.
func (a Arch) Validate() error {
	if a.NumGenes <= 0 {
		return fmt.Errorf("encoder: invalid gene count %d", a.NumGenes)
	}
	if a.LatentDim <= 0 {
		return fmt.Errorf("encoder: invalid latent dimension %d", a.LatentDim)
	}
	for i, h := range a.Hidden {
		if h <= 0 {
			return fmt.Errorf("encoder: invalid hidden dimension %d at layer %d", h, i)
		}
	}
	if a.Residual {
		for i := 1; i < len(a.Hidden); i++ {
			if a.Hidden[i] != a.Hidden[0] {
				return fmt.Errorf("encoder: residual connections require equal hidden dimensions, got %v", a.Hidden)
			}
		}
	}
	return nil
}

// layerDims returns the (in, out) dimensions of every layer, hidden
// layers first, latent projection last.
func (a Arch) layerDims() [][2]int {
	dims := make([][2]int, 0, len(a.Hidden)+1)
	in := a.NumGenes
	for _, h := range a.Hidden {
		dims = append(dims, [2]int{in, h})
		in = h
	}
	dims = append(dims, [2]int{in, a.LatentDim})
	return dims
}

// InferArch derives the architecture from a layer-sizes JSON file mapping
// checkpoint keys (network.N.weight, network.N.bias) to weight shapes.
// The last weight layer is the latent projection; all earlier weight
// layers are hidden. Layers are ordered by their numeric index, not by
// string sort, so more than nine layers stay in order.
func InferArch(path string) (Arch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Arch{}, fmt.Errorf("encoder: read layer sizes: %w", err)
	}

	var shapes map[string][]int
	if err := json.Unmarshal(raw, &shapes); err != nil {
		return Arch{}, fmt.Errorf("encoder: parse layer sizes: %w", err)
	}

	type layer struct {
		idx   int
		shape []int
	}
	var layers []layer
	for key, shape := range shapes {
		if !strings.Contains(key, "weight") || len(shape) < 2 {
			continue
		}
		idx, err := layerIndex(key)
		if err != nil {
			return Arch{}, err
		}
		layers = append(layers, layer{idx: idx, shape: shape})
	}
	if len(layers) == 0 {
		return Arch{}, fmt.Errorf("encoder: no weight layers in %s", path)
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i].idx < layers[j].idx })

	arch := Arch{
		NumGenes:  layers[0].shape[1],
		LatentDim: layers[len(layers)-1].shape[0],
	}
	for _, l := range layers[:len(layers)-1] {
		arch.Hidden = append(arch.Hidden, l.shape[0])
	}
	if err := arch.Validate(); err != nil {
		return Arch{}, err
	}
	return arch, nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoder: marshal %s: %w", path, err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// layerIndex extracts N from keys of the form "network.N.weight".
func layerIndex(key string) (int, error) {
	parts := strings.Split(key, ".")
	if len(parts) < 3 {
		return 0, fmt.Errorf("encoder: malformed layer key %q", key)
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("encoder: malformed layer key %q: %w", key, err)
	}
	return idx, nil
}
