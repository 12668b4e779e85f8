package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Weights computes per-row draw weights that counteract label and study
// imbalance. Every row weighs 1/count(label); with a non-nil study
// column the weight is further divided by ln(count(study)), a gentler
// dampening than the linear label correction. The log term is floored at
// ln(2) so single-occurrence studies get finite weights instead of the
// division by ln(1) = 0.
func Weights(labels, studies []string) ([]float64, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("dataset: no labels to weight")
	}
	if studies != nil && len(studies) != len(labels) {
		return nil, fmt.Errorf("dataset: %d studies for %d labels", len(studies), len(labels))
	}

	labelCount := make(map[string]int, 64)
	for _, l := range labels {
		labelCount[l]++
	}
	var studyCount map[string]int
	if studies != nil {
		studyCount = make(map[string]int, 64)
		for _, s := range studies {
			studyCount[s]++
		}
	}

	weights := make([]float64, len(labels))
	for i, l := range labels {
		w := 1 / float64(labelCount[l])
		if studies != nil {
			damp := math.Log(float64(studyCount[studies[i]]))
			if damp < math.Ln2 {
				damp = math.Ln2
			}
			w /= damp
		}
		weights[i] = w
	}
	return weights, nil
}

// Sampler draws row indices with replacement, each index with
// probability proportional to its weight. One epoch's draw order is one
// Draw call of the view's length.
type Sampler struct {
	cum []float64
	rng *rand.Rand
}

// NewSampler builds a sampler over the given weights. Weights must be
// non-negative and sum to a positive total.
func NewSampler(weights []float64, seed int64) (*Sampler, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("dataset: no weights to sample from")
	}
	cum := make([]float64, len(weights))
	sum := 0.0
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("dataset: invalid weight %v at %d", w, i)
		}
		sum += w
		cum[i] = sum
	}
	if sum <= 0 {
		return nil, fmt.Errorf("dataset: weights sum to %v", sum)
	}
	return &Sampler{cum: cum, rng: rand.New(rand.NewSource(seed))}, nil
}

// Draw returns count indices drawn with replacement.
func (s *Sampler) Draw(count int) []int {
	total := s.cum[len(s.cum)-1]
	out := make([]int, count)
	for i := range out {
		r := s.rng.Float64() * total
		idx := sort.SearchFloat64s(s.cum, r)
		if idx == len(s.cum) {
			idx--
		}
		out[i] = idx
	}
	return out
}
