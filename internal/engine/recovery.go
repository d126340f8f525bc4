package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NewTurn2017/oc-memory/internal/store"
)

// LoadOrRebuild restores the vector index from vectorPath at startup.
// The Record Store is always the source of truth, so a missing or
// unusable on-disk index is never fatal: a missing file means a fresh
// start, and a dimension mismatch or decode failure means the on-disk
// index was built against a different embedder (or schema) than the
// one configured now. Either way the fix is the same — drop whatever
// is on disk and rebuild the index by re-embedding every memory the
// Record Store currently holds.
func (e *Engine) LoadOrRebuild(ctx context.Context, vectorPath string) error {
	if e.embed == nil {
		return nil
	}

	onDiskDims, err := store.ReadHNSWVectorStoreDimensions(vectorPath)
	if err != nil {
		slog.Warn("vector index metadata unreadable, rebuilding from record store",
			slog.String("error", err.Error()))
		return e.rebuildVectorIndex(ctx)
	}
	if onDiskDims == 0 {
		return nil // nothing persisted yet
	}
	if onDiskDims != e.embed.Dimensions() {
		slog.Warn("vector index dimension mismatch, rebuilding from record store",
			slog.Int("on_disk_dims", onDiskDims), slog.Int("configured_dims", e.embed.Dimensions()))
		return e.rebuildVectorIndex(ctx)
	}

	if err := e.vector.Load(vectorPath); err != nil {
		slog.Warn("vector index load failed, rebuilding from record store",
			slog.String("error", err.Error()))
		return e.rebuildVectorIndex(ctx)
	}

	slog.Info("vector index loaded from disk", slog.Int("count", e.vector.Count()))
	return nil
}

// rebuildVectorIndex clears whatever the vector index currently holds
// and re-embeds every memory returned by a full Record Store scan.
// Embedder failures for individual memories are logged and skipped,
// matching Store's best-effort vector indexing — a rebuild is not
// allowed to fail the whole startup over one bad embedding call.
func (e *Engine) rebuildVectorIndex(ctx context.Context) error {
	if existing := e.vector.AllIDs(); len(existing) > 0 {
		if err := e.vector.Delete(ctx, existing); err != nil {
			return fmt.Errorf("clear stale vector index: %w", err)
		}
	}

	var cursor store.Cursor
	rebuilt := 0
	for {
		batch, next, err := e.records.Scan(ctx, cursor, 256)
		if err != nil {
			return fmt.Errorf("scan record store for vector rebuild: %w", err)
		}
		for _, m := range batch {
			if e.indexVector(ctx, m) {
				rebuilt++
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	slog.Info("vector index rebuilt from record store", slog.Int("count", rebuilt))
	return nil
}

// SaveVectorIndex persists the vector index to path. Callers should
// call this during a graceful shutdown so the next LoadOrRebuild has a
// warm index to load instead of rebuilding from a full record scan.
// A no-op when no embedder is configured, since the index is empty.
func (e *Engine) SaveVectorIndex(path string) error {
	if e.embed == nil {
		return nil
	}
	return e.vector.Save(path)
}
