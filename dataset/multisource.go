// Package dataset composes aligned stores into training pipelines: a
// multi-source view with one global row index, inverse-frequency sample
// weights, and a data module that collates weighted draws into batches.
package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/scembed/scembed/store"
)

// DefaultParallelism is the number of stores opened concurrently when a
// view scans its split directory.
const DefaultParallelism = 4

// ViewOptions holds configurable settings for opening a view.
type ViewOptions struct {
	// Parallelism bounds concurrent store opens during the directory
	// scan. Row access afterwards is sequential per caller.
	Parallelism int
	// StoreOptions are forwarded to every store opened by the view.
	StoreOptions []func(*store.Options)
}

// DefaultViewOptions returns the default view options.
func DefaultViewOptions() ViewOptions {
	return ViewOptions{Parallelism: DefaultParallelism}
}

// WithParallelism bounds concurrent store opens.
func WithParallelism(n int) func(*ViewOptions) {
	return func(o *ViewOptions) {
		o.Parallelism = n
	}
}

// WithStoreOptions forwards options to every store the view opens.
func WithStoreOptions(optFns ...func(*store.Options)) func(*ViewOptions) {
	return func(o *ViewOptions) {
		o.StoreOptions = optFns
	}
}

// View presents the rows of every aligned store in one split directory
// under a single global index. The index mapping and the annotation
// columns are built once at open time and are read-only afterwards; rows
// themselves are materialized lazily on access and never cached.
type View struct {
	stores  []*store.Store
	sources []string

	// Parallel arrays: global index -> (store, local row).
	datasetIdx []int32
	cellIdx    []int32

	labels  []string
	studies []string

	genes int
}

type openedStore struct {
	store   *store.Store
	labels  []string
	studies []string
}

// OpenView scans dir for *.aligned.zarr entries (sorted order), opens
// each store, and eagerly materializes the label column and, when
// studyColumn is non-empty, the study column.
func OpenView(ctx context.Context, dir, labelColumn, studyColumn string, optFns ...func(*ViewOptions)) (*View, error) {
	opts := DefaultViewOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset: scan %s: %w", dir, err)
	}
	var sources []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".aligned.zarr") {
			sources = append(sources, e.Name())
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("dataset: no *.aligned.zarr stores under %s", dir)
	}

	opened := make([]openedStore, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i, name := range sources {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := store.Open(filepath.Join(dir, name), opts.StoreOptions...)
			if err != nil {
				return fmt.Errorf("dataset: open %s: %w", name, err)
			}
			labels, err := s.AnnotationColumn(labelColumn)
			if err != nil {
				s.Close()
				return fmt.Errorf("dataset: %s: %w", name, err)
			}
			var studies []string
			if studyColumn != "" {
				studies, err = s.AnnotationColumn(studyColumn)
				if err != nil {
					s.Close()
					return fmt.Errorf("dataset: %s: %w", name, err)
				}
			}
			opened[i] = openedStore{store: s, labels: labels, studies: studies}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, o := range opened {
			if o.store != nil {
				o.store.Close()
			}
		}
		return nil, err
	}

	v := &View{sources: sources, genes: opened[0].store.NumGenes()}
	total := 0
	for _, o := range opened {
		total += o.store.RowCount()
	}
	v.datasetIdx = make([]int32, 0, total)
	v.cellIdx = make([]int32, 0, total)
	v.labels = make([]string, 0, total)
	if studyColumn != "" {
		v.studies = make([]string, 0, total)
	}

	for i, o := range opened {
		if o.store.NumGenes() != v.genes {
			v.closeStores(opened)
			return nil, fmt.Errorf("dataset: %s has %d genes, expected %d", sources[i], o.store.NumGenes(), v.genes)
		}
		v.stores = append(v.stores, o.store)
		for c := 0; c < o.store.RowCount(); c++ {
			v.datasetIdx = append(v.datasetIdx, int32(i))
			v.cellIdx = append(v.cellIdx, int32(c))
		}
		v.labels = append(v.labels, o.labels...)
		if v.studies != nil {
			v.studies = append(v.studies, o.studies...)
		}
	}
	return v, nil
}

func (v *View) closeStores(opened []openedStore) {
	for _, o := range opened {
		if o.store != nil {
			o.store.Close()
		}
	}
}

// Len returns the total number of rows across all stores.
func (v *View) Len() int { return len(v.datasetIdx) }

// NumGenes returns the shared gene-axis length.
func (v *View) NumGenes() int { return v.genes }

// Sources returns the store directory names in scan order.
func (v *View) Sources() []string { return v.sources }

// LabelColumn returns the eagerly materialized per-row labels.
func (v *View) LabelColumn() []string { return v.labels }

// StudyColumn returns the per-row study names, or nil when the view was
// opened without a study column.
func (v *View) StudyColumn() []string { return v.studies }

// Row materializes the expression vector at the global index and returns
// it with the row's label and study (study is "" without a study
// column).
func (v *View) Row(idx int) ([]float32, string, string, error) {
	if idx < 0 || idx >= len(v.datasetIdx) {
		return nil, "", "", fmt.Errorf("dataset: index %d out of range [0, %d)", idx, len(v.datasetIdx))
	}
	vec, err := v.stores[v.datasetIdx[idx]].Row(int(v.cellIdx[idx]))
	if err != nil {
		return nil, "", "", err
	}
	study := ""
	if v.studies != nil {
		study = v.studies[idx]
	}
	return vec, v.labels[idx], study, nil
}

// Close releases every underlying store.
func (v *View) Close() error {
	var firstErr error
	for _, s := range v.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
