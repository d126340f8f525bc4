package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NewTurn2017/oc-memory/internal/store"
)

// InconsistencyType categorizes a detected cross-store drift.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector entry with no matching record.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyOrphanLexical is a lexical entry with no matching record.
	InconsistencyOrphanLexical
	// InconsistencyMissingVector is a record missing from the vector index.
	InconsistencyMissingVector
	// InconsistencyMissingLexical is a record missing from the lexical index.
	InconsistencyMissingLexical
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyOrphanLexical:
		return "orphan_lexical"
	case InconsistencyMissingVector:
		return "missing_vector"
	case InconsistencyMissingLexical:
		return "missing_lexical"
	default:
		return "unknown"
	}
}

// Inconsistency represents a single detected cross-store issue.
type Inconsistency struct {
	Type     InconsistencyType
	MemoryID string
}

// CheckResult is the outcome of a consistency scan.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Janitor periodically reconciles the Vector Index and Lexical Index
// against the Record Store (the source of truth): ids present in an
// index but absent from the store are orphans and get removed; ids
// present in the store but missing from the lexical index are
// re-indexed from the stored record. Ids missing from the vector index
// are only logged, not re-added: the janitor holds no embedder. It also
// purges tombstones older than the configured age.
//
// This is the spec's required background repair loop (§7): index
// operations during store()/delete() are best-effort, and the janitor
// is what makes that eventually consistent instead of permanently
// drifted.
type Janitor struct {
	records      store.RecordStore
	vector       store.VectorStore
	lexical      store.LexicalIndex
	interval     time.Duration
	tombstoneAge time.Duration

	mu       sync.Mutex
	tombs    map[string]time.Time // memory id -> deletion time, for tombstone aging
	cancel   context.CancelFunc
	stopped  chan struct{}
	started  bool
}

// NewJanitor creates a janitor with the given reconciliation interval
// and tombstone purge age. A zero interval or age falls back to the
// spec defaults (60s interval, 5 minute tombstone age).
func NewJanitor(records store.RecordStore, vector store.VectorStore, lexical store.LexicalIndex, interval, tombstoneAge time.Duration) *Janitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if tombstoneAge <= 0 {
		tombstoneAge = 5 * time.Minute
	}
	return &Janitor{
		records:      records,
		vector:       vector,
		lexical:      lexical,
		interval:     interval,
		tombstoneAge: tombstoneAge,
		tombs:        make(map[string]time.Time),
	}
}

// Start launches the background reconciliation loop. Safe to call once;
// a second call is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.stopped = make(chan struct{})
	j.started = true
	j.mu.Unlock()

	go j.loop(runCtx)
}

// Stop halts the background loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return
	}
	cancel := j.cancel
	stopped := j.stopped
	j.mu.Unlock()

	cancel()
	<-stopped
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := j.Check(ctx)
			if err != nil {
				slog.Warn("janitor consistency check failed", slog.String("error", err.Error()))
				continue
			}
			if len(result.Inconsistencies) > 0 {
				if err := j.Repair(ctx, result.Inconsistencies); err != nil {
					slog.Warn("janitor repair failed", slog.String("error", err.Error()))
				}
			}
			j.purgeTombstones()
		}
	}
}

// Check scans all three stores for drift. O(n) in total entries.
func (j *Janitor) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	recordIDs := make(map[string]struct{})
	var cursor store.Cursor
	for {
		batch, next, err := j.records.Scan(ctx, cursor, 256)
		if err != nil {
			return nil, err
		}
		for _, m := range batch {
			recordIDs[m.ID] = struct{}{}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	vectorIDs := j.vector.AllIDs()
	lexicalIDs, err := j.lexical.AllIDs(ctx)
	if err != nil {
		slog.Warn("janitor failed to list lexical ids", slog.String("error", err.Error()))
	}

	vectorSet := toSet(vectorIDs)
	lexicalSet := toSet(lexicalIDs)

	for _, id := range vectorIDs {
		if _, ok := recordIDs[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, MemoryID: id})
		}
	}
	for _, id := range lexicalIDs {
		if _, ok := recordIDs[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanLexical, MemoryID: id})
		}
	}
	for id := range recordIDs {
		if _, ok := vectorSet[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, MemoryID: id})
		}
		if _, ok := lexicalSet[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingLexical, MemoryID: id})
		}
	}

	return &CheckResult{
		Checked:         len(recordIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair removes orphans from both indexes and re-indexes records
// missing from the lexical index. Records missing from the vector index
// are counted in a debug log and not re-added, since re-embedding needs
// an embedder and the janitor has none; this is not treated as an error.
func (j *Janitor) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphanVector, orphanLexical, missingVector, missingLexical []string

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector:
			orphanVector = append(orphanVector, issue.MemoryID)
		case InconsistencyOrphanLexical:
			orphanLexical = append(orphanLexical, issue.MemoryID)
		case InconsistencyMissingVector:
			missingVector = append(missingVector, issue.MemoryID)
		case InconsistencyMissingLexical:
			missingLexical = append(missingLexical, issue.MemoryID)
		}
	}

	if len(orphanVector) > 0 {
		if err := j.vector.Delete(ctx, orphanVector); err != nil {
			slog.Warn("janitor failed to remove orphan vector entries", slog.String("error", err.Error()))
		} else {
			slog.Info("janitor removed orphan vector entries", slog.Int("count", len(orphanVector)))
		}
	}
	if len(orphanLexical) > 0 {
		if err := j.lexical.Delete(ctx, orphanLexical); err != nil {
			slog.Warn("janitor failed to remove orphan lexical entries", slog.String("error", err.Error()))
		} else {
			slog.Info("janitor removed orphan lexical entries", slog.Int("count", len(orphanLexical)))
		}
	}

	for _, id := range missingLexical {
		m, err := j.records.Get(ctx, id)
		if err != nil {
			continue // raced with a delete; next cycle will clear it
		}
		doc := &store.LexicalDocument{MemoryID: m.ID, Title: m.Title, Content: m.Content, Tags: m.Tags}
		if err := j.lexical.Index(ctx, []*store.LexicalDocument{doc}); err != nil {
			slog.Warn("janitor failed to re-index lexical entry", slog.String("id", id), slog.String("error", err.Error()))
		}
	}

	if len(missingVector) > 0 {
		slog.Debug("janitor found records missing from vector index; re-embedding requires an embedder and is not retried automatically",
			slog.Int("count", len(missingVector)))
	}

	return nil
}

// QuickCheck verifies only that counts match across stores, skipping
// the per-id comparison. Cheap enough to call on a tighter cadence than
// the full Check if a caller wants a fast health signal.
func (j *Janitor) QuickCheck(ctx context.Context) (bool, error) {
	recordCount, err := j.records.Count(ctx)
	if err != nil {
		return false, err
	}
	vectorCount := j.vector.Count()
	lstats, err := j.lexical.Stats(ctx)
	if err != nil {
		return false, err
	}
	return recordCount == vectorCount && recordCount == lstats.DocumentCount, nil
}

// MarkTombstone records a deletion time for id so purgeTombstones can
// age it out after tombstoneAge. The Engine calls this after a
// successful Delete.
func (j *Janitor) MarkTombstone(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tombs[id] = time.Now()
}

// purgeTombstones drops tracked tombstones older than tombstoneAge.
// Since Delete already removes the record and attempts both index
// removals synchronously, purging here just bounds the in-memory
// tombstone map rather than performing further store mutations.
func (j *Janitor) purgeTombstones() {
	j.mu.Lock()
	defer j.mu.Unlock()
	cutoff := time.Now().Add(-j.tombstoneAge)
	for id, deletedAt := range j.tombs {
		if deletedAt.Before(cutoff) {
			delete(j.tombs, id)
		}
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
