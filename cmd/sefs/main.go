package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/kamigoroshii/sefs/config"
	"github.com/kamigoroshii/sefs/internal/api"
	"github.com/kamigoroshii/sefs/internal/chunkindex"
	"github.com/kamigoroshii/sefs/internal/cluster"
	"github.com/kamigoroshii/sefs/internal/embed"
	"github.com/kamigoroshii/sefs/internal/engine"
	"github.com/kamigoroshii/sefs/internal/entropy"
	"github.com/kamigoroshii/sefs/internal/fileops"
	"github.com/kamigoroshii/sefs/internal/hnsw"
	"github.com/kamigoroshii/sefs/internal/keyphrase"
	"github.com/kamigoroshii/sefs/internal/monitor"
	"github.com/kamigoroshii/sefs/internal/organizer"
	"github.com/kamigoroshii/sefs/internal/qa"
	"github.com/kamigoroshii/sefs/internal/store"
	"github.com/kamigoroshii/sefs/internal/textextract"
)

const (
	hnswM              = 16
	hnswEfConstruction = 200
	hnswEfSearch       = 50
)

func main() {
	root := &cobra.Command{
		Use:   "sefs",
		Short: "Self-organizing semantic file system",
		Long:  "sefs — watches a directory, clusters its documents by meaning, and keeps them organized into topic folders.",
	}

	var configPath string
	var modelDir string
	var ortLib string
	var threads int
	root.PersistentFlags().StringVar(&configPath, "config", ".sefs.toml", "path to config file")
	root.PersistentFlags().StringVar(&modelDir, "model-dir", "", "override config's model_dir")
	root.PersistentFlags().StringVar(&ortLib, "ort-lib", "", "path to onnxruntime.so (auto-detected if empty)")
	root.PersistentFlags().IntVar(&threads, "threads", 0, "ONNX intra-op thread count (0 = auto, capped at 4)")

	// loadConfig reads configPath the same way config.Load does, but defers
	// Validate() until after CLI overrides are applied — monitor_root may
	// come from the command line instead of the config file.
	loadConfig := func(monitorRoot string) (config.Config, error) {
		cfg := config.Defaults()
		if b, err := os.ReadFile(configPath); err == nil {
			if err := toml.Unmarshal(b, &cfg); err != nil {
				return config.Config{}, fmt.Errorf("parsing config %q: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return config.Config{}, fmt.Errorf("reading config %q: %w", configPath, err)
		}
		cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")

		if monitorRoot != "" {
			cfg.MonitorRoot = monitorRoot
		}
		if modelDir != "" {
			cfg.ModelDir = modelDir
		}
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
		return cfg, nil
	}

	resolveOrtLib := func() string {
		if ortLib != "" {
			return ortLib
		}
		if exe, err := os.Executable(); err == nil {
			candidate := filepath.Join(filepath.Dir(exe), "lib", "onnxruntime.so")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		return ""
	}

	// build wires every collaborator the ingestion/reorganization loop needs:
	// Store, text extractor, embedding model, clusterer, organizer,
	// ChunkIndex, and the document-level HNSW graph.
	build := func(cfg config.Config) (*engine.Engine, *fileops.FileManager, *store.Store, *chunkindex.Index, *qa.Pipeline, error) {
		fmt.Fprint(os.Stderr, "Loading model… ")
		model, err := embed.New(cfg.ModelDir, resolveOrtLib(), threads)
		if err != nil {
			fmt.Fprintln(os.Stderr, "")
			return nil, nil, nil, nil, nil, fmt.Errorf("load model: %w", err)
		}
		fmt.Fprintln(os.Stderr, "ready.")

		metadataDir := filepath.Join(cfg.MonitorRoot, cfg.MetadataDirName)
		if err := os.MkdirAll(metadataDir, 0o755); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("create metadata dir: %w", err)
		}

		st, err := store.Open(filepath.Join(metadataDir, "embeddings.db"))
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
		}

		extractor := textextract.New(textextract.NaivePDFReader{})
		clusterer := cluster.New(cfg.ClusterEps, cfg.ClusterMinSamples, keyphrase.New())
		mover := fileops.New(cfg.MonitorRoot, slog.Default())
		org := organizer.New(cfg.MonitorRoot, clusterer, mover, slog.Default())

		chunkIdx, err := chunkindex.New(model)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("build chunk index: %w", err)
		}

		graph := hnsw.New(hnswM, hnswEfConstruction, hnswEfSearch)

		eng := engine.New(cfg.MonitorRoot, st, extractor, model, clusterer, org, chunkIdx, graph, slog.Default())
		pipeline := qa.New(chunkIdx, cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.TopKChunks)

		return eng, mover, st, chunkIdx, pipeline, nil
	}

	// ---- sefs serve <dir> ---------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "serve [dir]",
		Short: "Bootstrap, watch, and serve the semantic file system over HTTP",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			monitorRoot := ""
			if len(args) == 1 {
				monitorRoot = args[0]
			}
			cfg, err := loadConfig(monitorRoot)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, mover, st, chunkIdx, pipeline, err := build(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Fprintf(os.Stderr, "Bootstrapping %s…\n", cfg.MonitorRoot)
			if err := eng.Bootstrap(ctx); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}

			mon, err := monitor.New(cfg.MonitorRoot, mover, eng, slog.Default())
			if err != nil {
				return fmt.Errorf("start monitor: %w", err)
			}

			done := make(chan struct{})
			go func() {
				<-ctx.Done()
				close(done)
			}()

			monErrs := make(chan error, 1)
			go func() { monErrs <- mon.Run(done) }()

			srv := api.New(eng, pipeline, mover, st, chunkIdx)
			srvErrs := make(chan error, 1)
			go func() { srvErrs <- srv.Start(cfg.ListenAddr) }()

			fmt.Fprintf(os.Stderr, "Serving on %s, watching %s. (Ctrl+C to stop)\n", cfg.ListenAddr, cfg.MonitorRoot)

			select {
			case <-ctx.Done():
				fmt.Fprintln(os.Stderr, "\n[sefs] shutting down…")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-monErrs:
				return fmt.Errorf("monitor: %w", err)
			case err := <-srvErrs:
				return fmt.Errorf("server: %w", err)
			}
		},
	})

	// ---- sefs reindex <dir> --------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "reindex [dir]",
		Short: "Bootstrap (ingest + organize) once, without starting the watcher or HTTP server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			monitorRoot := ""
			if len(args) == 1 {
				monitorRoot = args[0]
			}
			cfg, err := loadConfig(monitorRoot)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, _, st, _, _, err := build(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Fprintf(os.Stderr, "Reindexing %s…\n", cfg.MonitorRoot)
			if err := eng.Bootstrap(ctx); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}

			stats, err := st.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Done. %d files, %d clusters.\n", stats.TotalFiles, stats.TotalClusters)
			return nil
		},
	})

	// ---- sefs stats <dir> -----------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "stats [dir]",
		Short: "Show store and entropy statistics without ingesting anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			monitorRoot := ""
			if len(args) == 1 {
				monitorRoot = args[0]
			}
			cfg, err := loadConfig(monitorRoot)
			if err != nil {
				return err
			}

			metadataDir := filepath.Join(cfg.MonitorRoot, cfg.MetadataDirName)
			st, err := store.Open(filepath.Join(metadataDir, "embeddings.db"))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			dbStats, err := st.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("files:          %d\n", dbStats.TotalFiles)
			fmt.Printf("clusters:       %d\n", dbStats.TotalClusters)
			fmt.Printf("avg content len: %.1f\n", dbStats.AvgContentLength)

			docs, err := st.LoadAll()
			if err != nil {
				return err
			}
			embeddings := make([][]float32, 0, len(docs))
			clusterIDs := make([]int, 0, len(docs))
			for _, d := range docs {
				embeddings = append(embeddings, d.Embedding)
				clusterIDs = append(clusterIDs, d.ClusterID)
			}
			score := entropy.Compute(embeddings, clusterIDs)
			fmt.Printf("entropy:        %.4f\n", score.Entropy)
			fmt.Printf("cohesion:       %.4f\n", score.Cohesion)
			fmt.Printf("separation:     %.4f\n", score.Separation)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
