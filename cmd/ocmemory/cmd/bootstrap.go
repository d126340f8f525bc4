package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/NewTurn2017/oc-memory/internal/config"
	"github.com/NewTurn2017/oc-memory/internal/embed"
	"github.com/NewTurn2017/oc-memory/internal/engine"
	"github.com/NewTurn2017/oc-memory/internal/search"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

// resolveFormat returns the explicit --format value when set, otherwise
// defaults to "text" when out is a terminal and "json" otherwise
// (piped output or a non-file writer).
func resolveFormat(out io.Writer, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return "text"
	}
	return "json"
}

// loadConfig loads layered configuration from the current directory,
// applying the --data-dir override if set.
func loadConfig() (*config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.Paths.DataDir = dataDirFlag
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

// openEngine wires the Engine Facade from a loaded configuration,
// opening the three stores rooted at cfg.Paths.DataDir. It also
// restores the vector index from disk (or rebuilds it from the
// Record Store on a dimension/schema mismatch). Callers own the
// returned engine and must pass vectorPath to closeEngine so the
// index is persisted for the next startup.
func openEngine(ctx context.Context, cfg *config.Config) (eng *engine.Engine, vectorPath string, err error) {
	dataDir := cfg.Paths.DataDir

	var records store.RecordStore
	if strings.EqualFold(cfg.Store.Backend, "badger") {
		records, err = store.NewBadgerRecordStore(store.DefaultBadgerRecordStoreOptions(filepath.Join(dataDir, "records.badger")))
	} else {
		records, err = store.NewSQLiteRecordStore(filepath.Join(dataDir, "records.db"))
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open record store: %w", err)
	}

	dims := cfg.Embeddings.Dimensions
	if dims <= 0 {
		dims = embed.StaticDimensions
	}
	vecCfg := store.DefaultVectorStoreConfig(dims)
	vecCfg.M = cfg.Vector.M
	vecCfg.EfConstruction = cfg.Vector.EfConstruction
	vecCfg.EfSearch = cfg.Vector.EfSearch
	vector, err := store.NewHNSWVectorStore(vecCfg)
	if err != nil {
		_ = records.Close()
		return nil, "", fmt.Errorf("failed to open vector index: %w", err)
	}

	lexCfg := store.DefaultLexicalConfig()
	lexCfg.K1 = cfg.Lexical.K1
	lexCfg.B = cfg.Lexical.B
	lexCfg.TitleWeight = cfg.Lexical.TitleWeight
	lexCfg.ContentWeight = cfg.Lexical.ContentWeight
	lexCfg.TagsWeight = cfg.Lexical.TagsWeight
	lexicalPath := filepath.Join(dataDir, "lexical.db")
	lexical, err := store.NewSQLiteLexicalIndex(lexicalPath, lexCfg)
	if err != nil {
		_ = records.Close()
		_ = vector.Close()
		return nil, "", fmt.Errorf("failed to open lexical index: %w", err)
	}

	var embedder embed.Embedder
	if cfg.Embeddings.Provider != "none" {
		embedder = embed.NewCachedEmbedderWithDefaults(embed.NewStaticEmbedder(dims))
	}

	engCfg := engine.Config{
		BackpressureThreshold: cfg.Performance.BackpressureThreshold,
		JanitorInterval:       parseDurationOrDefault(cfg.Janitor.Interval, 60*time.Second),
		TombstoneAge:          parseDurationOrDefault(cfg.Janitor.TombstoneRetainFor, 5*time.Minute),
		Weights: search.Weights{
			Semantic:   cfg.Fusion.SemanticWeight,
			Keyword:    cfg.Fusion.KeywordWeight,
			Recency:    cfg.Fusion.RecencyWeight,
			Importance: cfg.Fusion.ImportanceWeight,
		},
	}

	eng = engine.New(records, vector, lexical, embedder, engCfg)
	vectorPath = filepath.Join(dataDir, "vectors.hnsw")
	if err := eng.LoadOrRebuild(ctx, vectorPath); err != nil {
		_ = eng.Close()
		return nil, "", fmt.Errorf("failed to load or rebuild vector index: %w", err)
	}

	return eng, vectorPath, nil
}

// closeEngine persists the vector index and closes the engine. It
// logs rather than returns a save failure so a slow shutdown never
// masks the caller's own command result.
func closeEngine(eng *engine.Engine, vectorPath string) {
	if err := eng.SaveVectorIndex(vectorPath); err != nil {
		slog.Warn("failed to persist vector index", slog.String("error", err.Error()))
	}
	if err := eng.Close(); err != nil {
		slog.Warn("failed to close engine", slog.String("error", err.Error()))
	}
}

func parseDurationOrDefault(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
