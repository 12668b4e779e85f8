package model

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// LabelRegistry is an immutable bijective mapping between integer class
// ids and cell-type label strings. It is built once at construction.
type LabelRegistry struct {
	intToLabel map[int]string
	labelToInt map[string]int
	labels     []string
}

// NewLabelRegistry enumerates the unique labels in deterministic
// lexicographic order, assigning ids 0..n-1. Sorting pins the label-to-id
// assignment across runs, which checkpoint compatibility depends on.
func NewLabelRegistry(labels []string) *LabelRegistry {
	seen := make(map[string]struct{}, len(labels))
	unique := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		unique = append(unique, l)
	}
	sort.Strings(unique)

	r := &LabelRegistry{
		intToLabel: make(map[int]string, len(unique)),
		labelToInt: make(map[string]int, len(unique)),
		labels:     unique,
	}
	for i, l := range unique {
		r.intToLabel[i] = l
		r.labelToInt[l] = i
	}
	return r
}

// LoadLabelRegistry reads a persisted label table with one "<id>,<label>"
// row per class. A non-numeric first row is treated as a header. The
// mapping must be bijective.
func LoadLabelRegistry(path string) (*LabelRegistry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: open label table: %w", err)
	}
	defer fh.Close()

	reader := csv.NewReader(fh)
	reader.FieldsPerRecord = 2
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("model: read label table: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("model: label table %s is empty", path)
	}

	r := &LabelRegistry{
		intToLabel: make(map[int]string, len(rows)),
		labelToInt: make(map[string]int, len(rows)),
	}
	for i, row := range rows {
		id, err := strconv.Atoi(row[0])
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("model: label table row %d: bad id %q", i, row[0])
		}
		label := row[1]
		if prev, ok := r.intToLabel[id]; ok {
			return nil, fmt.Errorf("model: duplicate id %d for %q and %q", id, prev, label)
		}
		if prev, ok := r.labelToInt[label]; ok {
			return nil, fmt.Errorf("model: duplicate label %q for ids %d and %d", label, prev, id)
		}
		r.intToLabel[id] = label
		r.labelToInt[label] = id
	}

	r.labels = make([]string, 0, len(r.labelToInt))
	for l := range r.labelToInt {
		r.labels = append(r.labels, l)
	}
	sort.Strings(r.labels)
	return r, nil
}

// Int returns the id for a label.
func (r *LabelRegistry) Int(label string) (int, bool) {
	id, ok := r.labelToInt[label]
	return id, ok
}

// Label returns the label for an id.
func (r *LabelRegistry) Label(id int) (string, bool) {
	label, ok := r.intToLabel[id]
	return label, ok
}

// Len returns the number of classes.
func (r *LabelRegistry) Len() int { return len(r.labels) }

// Labels returns the sorted label set.
func (r *LabelRegistry) Labels() []string {
	return append([]string(nil), r.labels...)
}
