package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NewTurn2017/oc-memory/internal/embed"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

func newTestEngineAtDir(t *testing.T, dataDir string, embedder embed.Embedder) *Engine {
	t.Helper()

	records, err := store.NewSQLiteRecordStore(filepath.Join(dataDir, "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	vector, err := store.NewHNSWVectorStore(store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	lexical, err := store.NewSQLiteLexicalIndex(filepath.Join(dataDir, "lexical.db"), store.DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	e := New(records, vector, lexical, embedder, DefaultConfig())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestLoadOrRebuild_MissingFileIsFreshStart(t *testing.T) {
	e := newTestEngineAtDir(t, t.TempDir(), embed.NewStaticEmbedder(embed.StaticDimensions))
	ctx := context.Background()

	err := e.LoadOrRebuild(ctx, filepath.Join(t.TempDir(), "vectors.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, e.vector.Count())
}

func TestLoadOrRebuild_NoEmbedderIsNoOp(t *testing.T) {
	e := newTestEngineAtDir(t, t.TempDir(), nil)
	ctx := context.Background()

	err := e.LoadOrRebuild(ctx, filepath.Join(t.TempDir(), "vectors.hnsw"))
	require.NoError(t, err)
}

func TestSaveThenLoadOrRebuild_RestoresVectorIndex(t *testing.T) {
	dataDir := t.TempDir()
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	embedder := embed.NewStaticEmbedder(embed.StaticDimensions)
	ctx := context.Background()

	e1 := newTestEngineAtDir(t, dataDir, embedder)
	result, err := e1.Store(ctx, StoreInput{Title: "persisted memory", Content: "survives a restart", Type: store.MemoryTypeObservation, Priority: store.PriorityNormal})
	require.NoError(t, err)
	require.True(t, result.HasEmbedding)

	require.NoError(t, e1.SaveVectorIndex(vectorPath))
	require.NoError(t, e1.records.Close()) // release the sqlite file before reopening below

	records2, err := store.NewSQLiteRecordStore(filepath.Join(dataDir, "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records2.Close() })
	vector2, err := store.NewHNSWVectorStore(store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector2.Close() })
	lexical2, err := store.NewSQLiteLexicalIndex(filepath.Join(dataDir, "lexical.db"), store.DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical2.Close() })

	e2 := New(records2, vector2, lexical2, embedder, DefaultConfig())
	t.Cleanup(func() { _ = e2.Close() })

	require.NoError(t, e2.LoadOrRebuild(ctx, vectorPath))
	assert.Equal(t, 1, e2.vector.Count())
	assert.True(t, e2.vector.Contains(result.ID))
}

func TestLoadOrRebuild_DimensionMismatchRebuildsFromRecordStore(t *testing.T) {
	dataDir := t.TempDir()
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	ctx := context.Background()

	e1 := newTestEngineAtDir(t, dataDir, embed.NewStaticEmbedder(embed.StaticDimensions))
	result, err := e1.Store(ctx, StoreInput{Title: "stale dims", Content: "built with an old embedder", Type: store.MemoryTypeObservation, Priority: store.PriorityNormal})
	require.NoError(t, err)
	require.NoError(t, e1.SaveVectorIndex(vectorPath))
	require.NoError(t, e1.records.Close())

	records2, err := store.NewSQLiteRecordStore(filepath.Join(dataDir, "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records2.Close() })
	vector2, err := store.NewHNSWVectorStore(store.DefaultVectorStoreConfig(embed.StaticDimensions + 8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector2.Close() })
	lexical2, err := store.NewSQLiteLexicalIndex(filepath.Join(dataDir, "lexical.db"), store.DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical2.Close() })

	// A differently-dimensioned embedder simulates a changed embedding
	// model: the on-disk index no longer matches, so LoadOrRebuild must
	// drop it and re-embed straight from the Record Store instead of
	// loading (and corrupting search with) the stale vectors.
	mismatchedEmbedder := embed.NewStaticEmbedder(embed.StaticDimensions + 8)
	e2 := New(records2, vector2, lexical2, mismatchedEmbedder, DefaultConfig())
	t.Cleanup(func() { _ = e2.Close() })

	require.NoError(t, e2.LoadOrRebuild(ctx, vectorPath))
	assert.Equal(t, 1, e2.vector.Count())
	assert.True(t, e2.vector.Contains(result.ID))
}
