// Command scembed embeds single-cell expression stores with a trained
// encoder, builds and queries the cell nearest-neighbor index, and
// inspects model directories.
package main

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scembed/scembed"
	"github.com/scembed/scembed/config"
	"github.com/scembed/scembed/hnsw"
	"github.com/scembed/scembed/store"
)

var (
	configPath string
	outputPath string
	flagK      int
	flagEF     int
)

var rootCmd = &cobra.Command{
	Use:   "scembed",
	Short: "Single-cell expression embedding and retrieval",
	Long: `scembed embeds gene-expression profiles with a trained encoder and
retrieves similar cells from a cosine-space nearest-neighbor index.`,
	SilenceUsage: true,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print a model directory summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ce, err := loadModel()
		if err != nil {
			return err
		}

		fmt.Printf("model:      %s\n", cfg.Model.Path)
		fmt.Printf("genes:      %d\n", ce.NumGenes())
		fmt.Printf("latent dim: %d\n", ce.LatentDim())
		fmt.Printf("labels:     %d\n", ce.Labels().Len())
		if err := ce.LoadKNNIndex(cfg.Index.Path); err != nil {
			return err
		}
		fmt.Printf("knn index:  %s (loaded: %v)\n", cfg.Index.Path, ce.KNNIndexLoaded())
		return nil
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed <store.aligned.zarr>",
	Short: "Embed every row of an aligned store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ce, err := loadModel()
		if err != nil {
			return err
		}

		embeddings, err := embedStore(cmd, ce, cfg, args[0])
		if err != nil {
			return err
		}

		fh, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer fh.Close()
		if err := gob.NewEncoder(fh).Encode(embeddings); err != nil {
			return fmt.Errorf("encode embeddings: %w", err)
		}
		fmt.Printf("wrote %d embeddings to %s\n", len(embeddings), outputPath)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <store.aligned.zarr>",
	Short: "Build the cell index from an aligned store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ce, err := loadModel()
		if err != nil {
			return err
		}

		embeddings, err := embedStore(cmd, ce, cfg, args[0])
		if err != nil {
			return err
		}

		graph := hnsw.New(ce.LatentDim())
		for _, emb := range embeddings {
			if _, err := graph.Insert(emb); err != nil {
				return err
			}
		}
		if err := graph.Save(cfg.Index.Path); err != nil {
			return err
		}
		fmt.Printf("indexed %d cells into %s\n", graph.Len(), cfg.Index.Path)
		return nil
	},
}

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <store.aligned.zarr>",
	Short: "Embed store rows and query the cell index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ce, err := loadModel()
		if err != nil {
			return err
		}
		if err := ce.LoadKNNIndex(cfg.Index.Path); err != nil {
			return err
		}

		embeddings, err := embedStore(cmd, ce, cfg, args[0])
		if err != nil {
			return err
		}

		k, ef := flagK, flagEF
		if k <= 0 {
			k = cfg.Index.K
		}
		if ef <= 0 {
			ef = cfg.Index.EF
		}
		res, err := ce.NearestNeighbors(cmd.Context(), embeddings, k, ef)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		for i := range res.Indices {
			line := struct {
				Row       int       `json:"row"`
				Indices   []uint32  `json:"indices"`
				Distances []float32 `json:"distances"`
			}{Row: i, Indices: res.Indices[i], Distances: res.Distances[i]}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
		return nil
	},
}

func loadModel() (*config.Config, *scembed.CellEmbedding, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	opts := []scembed.Option{
		scembed.WithLogger(newLogger(cfg.Log)),
		scembed.WithFilenames(scembed.Filenames{
			Checkpoint: cfg.Model.Checkpoint,
			GeneOrder:  cfg.Model.GeneOrder,
			LayerSizes: cfg.Model.LayerSizes,
			LabelInts:  cfg.Model.LabelInts,
		}),
	}
	if cfg.Model.Residual {
		opts = append(opts, scembed.WithResidual())
	}

	ce, err := scembed.New(cfg.Model.Path, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, ce, nil
}

func embedStore(cmd *cobra.Command, ce *scembed.CellEmbedding, cfg *config.Config, path string) ([][]float32, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return ce.Embed(cmd.Context(), s.Matrix(), -1, cfg.Embedding.ChunkSize)
}

func newLogger(cfg config.LogConfig) *scembed.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if cfg.Format == "json" {
		return scembed.NewJSONLogger(level)
	}
	return scembed.NewTextLogger(level)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "scembed.yaml", "path to the YAML config file")
	embedCmd.Flags().StringVarP(&outputPath, "output", "o", "embeddings.gob", "output file for gob-encoded embeddings")
	neighborsCmd.Flags().IntVar(&flagK, "k", 0, "neighbors per row (0 uses the config value)")
	neighborsCmd.Flags().IntVar(&flagEF, "ef", 0, "search breadth (0 uses the config value)")

	rootCmd.AddCommand(infoCmd, embedCmd, indexCmd, neighborsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
