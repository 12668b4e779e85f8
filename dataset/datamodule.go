package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/scembed/scembed/model"
)

// ErrSplitUnavailable is returned by ValLoader and TestLoader when the
// corresponding path was not configured.
var ErrSplitUnavailable = errors.New("dataset: split unavailable: no path configured")

// DefaultBatchSize is the training batch size when none is configured.
const DefaultBatchSize = 1000

// Config describes the splits and columns a data module is built from.
// TrainPath, GeneOrderPath and LabelColumn are required; ValPath,
// TestPath and StudyColumn are optional.
type Config struct {
	TrainPath string
	ValPath   string
	TestPath  string

	// GeneOrderPath is the newline-delimited gene symbol list every
	// store must be aligned to.
	GeneOrderPath string

	LabelColumn string
	StudyColumn string

	BatchSize int
	// NumWorkers bounds concurrent row materialization during batch
	// collation. Zero or one means sequential; correctness never
	// depends on it.
	NumWorkers int
	Seed       int64
}

// DataModule composes per-split views with weighted sampling and batch
// collation. The label registry is built from the training split, so
// every split's labels map through one deterministic label→int table.
type DataModule struct {
	cfg      Config
	train    *View
	val      *View
	test     *View
	genes    []string
	registry *model.LabelRegistry
	logger   *slog.Logger

	// Per-split samplers, created on first use and shared across epochs
	// so successive loaders continue the random stream instead of
	// replaying the same draw order.
	trainSampler *Sampler
	valSampler   *Sampler
	testSampler  *Sampler
}

// New opens every configured split and builds the gene and label
// registries. A nil logger discards log output.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*DataModule, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.TrainPath == "" {
		return nil, fmt.Errorf("dataset: train path is required")
	}
	if cfg.GeneOrderPath == "" {
		return nil, fmt.Errorf("dataset: gene order path is required")
	}
	if cfg.LabelColumn == "" {
		return nil, fmt.Errorf("dataset: label column is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	genes, err := model.LoadGeneOrder(cfg.GeneOrderPath)
	if err != nil {
		return nil, err
	}

	dm := &DataModule{cfg: cfg, genes: genes, logger: logger}
	dm.train, err = dm.openSplit(ctx, cfg.TrainPath)
	if err != nil {
		return nil, err
	}
	if cfg.ValPath != "" {
		if dm.val, err = dm.openSplit(ctx, cfg.ValPath); err != nil {
			dm.Close()
			return nil, err
		}
	}
	if cfg.TestPath != "" {
		if dm.test, err = dm.openSplit(ctx, cfg.TestPath); err != nil {
			dm.Close()
			return nil, err
		}
	}

	dm.registry = model.NewLabelRegistry(dm.train.LabelColumn())
	logger.Info("data module ready",
		"train_rows", dm.train.Len(),
		"train_sources", len(dm.train.Sources()),
		"labels", dm.registry.Len(),
		"genes", len(genes))
	return dm, nil
}

func (dm *DataModule) openSplit(ctx context.Context, path string) (*View, error) {
	v, err := OpenView(ctx, path, dm.cfg.LabelColumn, dm.cfg.StudyColumn)
	if err != nil {
		return nil, err
	}
	if v.NumGenes() != len(dm.genes) {
		v.Close()
		return nil, fmt.Errorf("dataset: %s has %d genes, gene order lists %d", path, v.NumGenes(), len(dm.genes))
	}
	return v, nil
}

// NumGenes returns the aligned gene-axis length.
func (dm *DataModule) NumGenes() int { return len(dm.genes) }

// GeneOrder returns the aligned gene symbols.
func (dm *DataModule) GeneOrder() []string { return dm.genes }

// Labels returns the label registry built from the training split.
func (dm *DataModule) Labels() *model.LabelRegistry { return dm.registry }

// TrainLoader starts one training epoch: a fresh weighted draw order
// over the training rows, batched with the final partial batch dropped.
func (dm *DataModule) TrainLoader() (*Loader, error) {
	return dm.weightedLoader(dm.train, &dm.trainSampler)
}

// ValLoader starts one validation epoch. Validation rows are drawn with
// the same label/study weighting as training rows.
func (dm *DataModule) ValLoader() (*Loader, error) {
	if dm.val == nil {
		return nil, ErrSplitUnavailable
	}
	return dm.weightedLoader(dm.val, &dm.valSampler)
}

// TestLoader starts one test epoch, weighted like the other splits.
func (dm *DataModule) TestLoader() (*Loader, error) {
	if dm.test == nil {
		return nil, ErrSplitUnavailable
	}
	return dm.weightedLoader(dm.test, &dm.testSampler)
}

func (dm *DataModule) weightedLoader(v *View, sampler **Sampler) (*Loader, error) {
	if *sampler == nil {
		weights, err := Weights(v.LabelColumn(), v.StudyColumn())
		if err != nil {
			return nil, err
		}
		s, err := NewSampler(weights, dm.cfg.Seed)
		if err != nil {
			return nil, err
		}
		*sampler = s
	}
	return dm.newLoader(v, (*sampler).Draw(v.Len())), nil
}

// Close releases every split's stores.
func (dm *DataModule) Close() error {
	var firstErr error
	for _, v := range []*View{dm.train, dm.val, dm.test} {
		if v == nil {
			continue
		}
		if err := v.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (dm *DataModule) newLoader(v *View, order []int) *Loader {
	return &Loader{
		view:      v,
		registry:  dm.registry,
		order:     order,
		batchSize: dm.cfg.BatchSize,
		workers:   dm.cfg.NumWorkers,
	}
}

// Batch is one collated training batch: stacked expression rows, the
// parallel integer labels, and the study names (empty strings without a
// study column).
type Batch struct {
	X       *mat.Dense
	Labels  []int
	Studies []string
}

// Loader yields the batches of one epoch. The final partial batch is
// dropped.
type Loader struct {
	view      *View
	registry  *model.LabelRegistry
	order     []int
	batchSize int
	workers   int
	pos       int
}

// NumBatches returns the number of full batches this epoch yields.
func (l *Loader) NumBatches() int { return len(l.order) / l.batchSize }

// Next collates the next batch. It returns io.EOF when fewer than a full
// batch of indices remain.
func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.pos+l.batchSize > len(l.order) {
		return nil, io.EOF
	}
	indices := l.order[l.pos : l.pos+l.batchSize]
	l.pos += l.batchSize

	batch := &Batch{
		X:       mat.NewDense(len(indices), l.view.NumGenes(), nil),
		Labels:  make([]int, len(indices)),
		Studies: make([]string, len(indices)),
	}

	g, ctx := errgroup.WithContext(ctx)
	if l.workers > 1 {
		g.SetLimit(l.workers)
	} else {
		g.SetLimit(1)
	}
	for i, idx := range indices {
		i, idx := i, idx
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			vec, label, study, err := l.view.Row(idx)
			if err != nil {
				return err
			}
			labelInt, ok := l.registry.Int(label)
			if !ok {
				return fmt.Errorf("dataset: label %q not in training label registry", label)
			}
			for j, v := range vec {
				batch.X.Set(i, j, float64(v))
			}
			batch.Labels[i] = labelInt
			batch.Studies[i] = study
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}
