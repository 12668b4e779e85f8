package scembed

import (
	"log/slog"

	"github.com/scembed/scembed/encoder"
)

// Filenames names the files read from a model directory.
type Filenames struct {
	// Checkpoint is the gob-encoded encoder state.
	Checkpoint string
	// GeneOrder is the newline-delimited gene symbol list.
	GeneOrder string
	// LayerSizes is the per-layer weight-shape JSON, consulted only
	// when no explicit architecture is supplied.
	LayerSizes string
	// LabelInts is the <int>,<label> table.
	LabelInts string
}

// DefaultFilenames returns the standard model directory layout.
func DefaultFilenames() Filenames {
	return Filenames{
		Checkpoint: "encoder.ckpt",
		GeneOrder:  "gene_order.tsv",
		LayerSizes: "layer_sizes.json",
		LabelInts:  "label_ints.csv",
	}
}

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	filenames        Filenames
	arch             *encoder.Arch
	residual         bool
}

// Option configures CellEmbedding construction.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithFilenames overrides the model directory file names.
func WithFilenames(fn Filenames) Option {
	return func(o *options) {
		def := DefaultFilenames()
		if fn.Checkpoint == "" {
			fn.Checkpoint = def.Checkpoint
		}
		if fn.GeneOrder == "" {
			fn.GeneOrder = def.GeneOrder
		}
		if fn.LayerSizes == "" {
			fn.LayerSizes = def.LayerSizes
		}
		if fn.LabelInts == "" {
			fn.LabelInts = def.LabelInts
		}
		o.filenames = fn
	}
}

// WithArch supplies an explicit encoder architecture, skipping the
// layer-size inference from the model directory.
func WithArch(arch encoder.Arch) Option {
	return func(o *options) {
		o.arch = &arch
	}
}

// WithResidual marks the encoder as residual: hidden layers add a skip
// connection when their dimensions match.
func WithResidual() Option {
	return func(o *options) {
		o.residual = true
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		filenames:        DefaultFilenames(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
