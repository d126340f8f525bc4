// Package engine implements the Engine Facade: the single entry point
// that owns the Record Store, Vector Index, and Lexical Index, and
// enforces consistency across them. Transports (mcpserver, httpapi)
// never touch the underlying stores directly.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NewTurn2017/oc-memory/internal/embed"
	memerrors "github.com/NewTurn2017/oc-memory/internal/errors"
	"github.com/NewTurn2017/oc-memory/internal/search"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

// DefaultBackpressureThreshold is the default number of in-flight
// store() calls above which store() is rejected with Busy.
const DefaultBackpressureThreshold = 1024

// StoreInput is the caller-supplied payload for a new memory.
type StoreInput struct {
	Title    string
	Content  string
	Type     store.MemoryType
	Priority store.Priority
	Tags     []string
}

// StoreResult reports the outcome of a store() call.
type StoreResult struct {
	ID           string
	HasEmbedding bool
	Degraded     bool // true when neither index accepted the write (DegradedWrite)
}

// Stats summarizes the engine's current state for the stats() operation.
type Stats struct {
	TotalMemories int
	IndexedCount  int
	HasEmbedder   bool
	SearchMode    search.Mode
	ByType        map[store.MemoryType]int
	ByPriority    map[store.Priority]int
}

// Engine is the Engine Facade described by the spec: it owns the three
// stores, counts in-flight store() calls for backpressure (rejecting
// with Busy above the threshold; writes are not queued), and runs a
// background janitor to repair cross-store
// drift. The record store is always the source of truth; the vector
// and lexical indexes are best-effort, eventually-consistent views.
type Engine struct {
	records store.RecordStore
	vector  store.VectorStore
	lexical store.LexicalIndex
	embed   embed.Embedder // nil means no semantic capability configured
	search  *search.HybridSearcher

	backpressureThreshold int64
	inFlightWrites        int64 // queue depth approximation for Busy

	janitor *Janitor

	embedBreaker *memerrors.CircuitBreaker

	closeOnce sync.Once
}

// Config configures the Engine Facade.
type Config struct {
	BackpressureThreshold int
	JanitorInterval       time.Duration
	TombstoneAge          time.Duration
	Weights               search.Weights
}

// DefaultConfig returns the spec's defaults: 1024 in-flight writes,
// 60s janitor interval, 5 minute tombstone purge age.
func DefaultConfig() Config {
	return Config{
		BackpressureThreshold: DefaultBackpressureThreshold,
		JanitorInterval:       60 * time.Second,
		TombstoneAge:          5 * time.Minute,
		Weights:               search.DefaultWeights(),
	}
}

// New wires the facade around the three stores and an optional embedder.
// embedder may be nil — the engine runs in permanent lexical-only mode,
// which is a supported degraded configuration, not an error.
func New(records store.RecordStore, vector store.VectorStore, lexical store.LexicalIndex, embedder embed.Embedder, cfg Config) *Engine {
	if cfg.BackpressureThreshold <= 0 {
		cfg.BackpressureThreshold = DefaultBackpressureThreshold
	}
	if cfg.Weights == (search.Weights{}) {
		cfg.Weights = search.DefaultWeights()
	}

	e := &Engine{
		records:               records,
		vector:                vector,
		lexical:               lexical,
		embed:                 embedder,
		backpressureThreshold: int64(cfg.BackpressureThreshold),
		embedBreaker:          memerrors.NewCircuitBreaker("store-embed"),
	}
	e.search = search.NewHybridSearcher(vector, lexical, embedder, &recordStoreMetaFetcher{records: records}, cfg.Weights)
	e.janitor = NewJanitor(records, vector, lexical, cfg.JanitorInterval, cfg.TombstoneAge)
	return e
}

// Start begins the background janitor loop. Call once after New.
func (e *Engine) Start(ctx context.Context) {
	e.janitor.Start(ctx)
}

// Store persists a new memory: Record Store first (durable truth), then
// best-effort vector and lexical adds. A Memory is never left without
// at least one searchable index unless both branches fail, in which
// case the record still persists and StoreResult.Degraded is set.
func (e *Engine) Store(ctx context.Context, input StoreInput) (*StoreResult, error) {
	if err := validateStoreInput(input); err != nil {
		return nil, err
	}

	if !e.acquireWriteSlot() {
		return nil, memerrors.Busy(nil)
	}
	defer e.releaseWriteSlot()

	now := time.Now()
	m := &store.Memory{
		ID:             uuid.NewString(),
		Title:          input.Title,
		Content:        input.Content,
		Tags:           normalizeTags(input.Tags),
		Type:           input.Type,
		Priority:       input.Priority,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}

	saved, err := e.records.Put(ctx, m, 0)
	if err != nil {
		return nil, err
	}

	hasEmbedding := e.indexVector(ctx, saved)
	hasLexical := e.indexLexical(ctx, saved)

	result := &StoreResult{ID: saved.ID, HasEmbedding: hasEmbedding}
	if !hasEmbedding && !hasLexical {
		result.Degraded = true
		slog.Warn("memory persisted without any searchable index",
			slog.String("id", saved.ID))
	}

	return result, nil
}

// normalizeTags lowercases and trims each tag so that tag comparison
// (including the filter's tags ⊇ T check) can be byte-exact.
func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return out
}

// indexVector embeds and adds the memory's text to the vector index.
// Returns false (without failing Store) on any embedder or index error.
// The embed call runs through a circuit breaker so a down embedding
// backend fails fast on subsequent stores instead of retrying (and
// waiting out) the same failure on every write.
func (e *Engine) indexVector(ctx context.Context, m *store.Memory) bool {
	if e.embed == nil {
		return false
	}
	var vec []float32
	err := e.embedBreaker.Execute(func() error {
		v, err := e.embed.Embed(ctx, m.Title+"\n"+m.Content)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		slog.Warn("embedder failed, memory has no vector index entry",
			slog.String("id", m.ID), slog.String("error", err.Error()))
		return false
	}
	if err := e.vector.Add(ctx, []string{m.ID}, [][]float32{vec}); err != nil {
		slog.Warn("vector index add failed", slog.String("id", m.ID), slog.String("error", err.Error()))
		return false
	}
	return true
}

// indexLexical adds the memory's text to the lexical index.
func (e *Engine) indexLexical(ctx context.Context, m *store.Memory) bool {
	doc := &store.LexicalDocument{MemoryID: m.ID, Title: m.Title, Content: m.Content, Tags: m.Tags}
	if err := e.lexical.Index(ctx, []*store.LexicalDocument{doc}); err != nil {
		slog.Warn("lexical index add failed", slog.String("id", m.ID), slog.String("error", err.Error()))
		return false
	}
	return true
}

// Get reads a memory, advances its last-accessed time, and returns a
// defensive copy so callers can't mutate engine-owned state.
func (e *Engine) Get(ctx context.Context, id string) (*store.Memory, error) {
	m, err := e.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := e.records.Touch(ctx, id, now); err != nil {
		slog.Warn("failed to advance last_accessed_at", slog.String("id", id), slog.String("error", err.Error()))
	} else {
		m.LastAccessedAt = now
	}

	return m.Clone(), nil
}

// Delete removes a memory from the Record Store, then the Vector Index,
// then the Lexical Index, in that order. Index-removal failures after
// the record is gone are logged and left for the janitor to reconcile —
// the record store's absence is itself the source of truth for deletion.
// It reports whether a record with that id existed; deleting an unknown
// id is not an error and returns false.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	_, getErr := e.records.Get(ctx, id)
	existed := getErr == nil
	if err := e.records.Delete(ctx, id); err != nil {
		return false, err
	}

	if err := e.vector.Delete(ctx, []string{id}); err != nil {
		slog.Warn("vector index delete failed, janitor will reconcile",
			slog.String("id", id), slog.String("error", err.Error()))
	}
	if err := e.lexical.Delete(ctx, []string{id}); err != nil {
		slog.Warn("lexical index delete failed, janitor will reconcile",
			slog.String("id", id), slog.String("error", err.Error()))
	}

	e.janitor.MarkTombstone(id)

	return existed, nil
}

// SearchHit is a fully hydrated or index-only search result, depending
// on the Options.IndexOnly flag passed to Search.
type SearchHit struct {
	Memory    *store.Memory
	Score     float32
	Breakdown search.ScoreBreakdown
}

// SearchResponse is the outcome of a search() call.
type SearchResponse struct {
	Hits    []*SearchHit
	Mode    search.Mode
	Partial bool
}

// Search delegates to the Hybrid Searcher, then hydrates or strips
// content per opts.IndexOnly. Only non-index-only hits advance
// last_accessed_at — an index-only query is a metadata peek, not a read.
func (e *Engine) Search(ctx context.Context, query string, opts search.Options) (*SearchResponse, error) {
	if err := validateSearchOptions(query, opts); err != nil {
		return nil, err
	}

	resp, err := e.search.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	hits := make([]*SearchHit, 0, len(resp.Hits))
	now := time.Now()
	for _, h := range resp.Hits {
		m, err := e.records.Get(ctx, h.MemoryID)
		if err != nil {
			// The record vanished between fusion and hydration (raced
			// with a delete) — drop it rather than surface a partial hit.
			continue
		}

		if opts.IndexOnly {
			view := m.Clone()
			view.Content = ""
			hits = append(hits, &SearchHit{Memory: view, Score: h.Score, Breakdown: h.Breakdown})
			continue
		}

		if err := e.records.Touch(ctx, h.MemoryID, now); err != nil {
			slog.Warn("failed to advance last_accessed_at on search hydration",
				slog.String("id", h.MemoryID), slog.String("error", err.Error()))
		} else {
			m.LastAccessedAt = now
		}
		hits = append(hits, &SearchHit{Memory: m.Clone(), Score: h.Score, Breakdown: h.Breakdown})
	}

	return &SearchResponse{Hits: hits, Mode: resp.Mode, Partial: resp.Partial}, nil
}

// Stats computes engine statistics across all persisted memories.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		HasEmbedder: e.embed != nil,
		ByType:      make(map[store.MemoryType]int),
		ByPriority:  make(map[store.Priority]int),
	}

	var cursor store.Cursor
	for {
		batch, next, err := e.records.Scan(ctx, cursor, 256)
		if err != nil {
			return nil, err
		}
		for _, m := range batch {
			stats.TotalMemories++
			stats.ByType[m.Type]++
			stats.ByPriority[m.Priority]++
		}
		if next == "" {
			break
		}
		cursor = next
	}

	stats.IndexedCount = e.vector.Count()
	if lstats, err := e.lexical.Stats(ctx); err == nil && lstats.DocumentCount > stats.IndexedCount {
		stats.IndexedCount = lstats.DocumentCount
	}

	switch {
	case e.embed != nil:
		stats.SearchMode = search.ModeHybrid
	default:
		stats.SearchMode = search.ModeLexical
	}

	return stats, nil
}

// Close stops the janitor and closes the underlying stores.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.janitor.Stop()
		if cerr := e.records.Close(); cerr != nil {
			err = cerr
		}
		if cerr := e.vector.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := e.lexical.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// acquireWriteSlot enforces the configured backpressure threshold on
// concurrent in-flight store() calls.
func (e *Engine) acquireWriteSlot() bool {
	if atomic.AddInt64(&e.inFlightWrites, 1) > e.backpressureThreshold {
		atomic.AddInt64(&e.inFlightWrites, -1)
		return false
	}
	return true
}

func (e *Engine) releaseWriteSlot() {
	atomic.AddInt64(&e.inFlightWrites, -1)
}

func validateStoreInput(input StoreInput) error {
	if len(input.Title) > 256 {
		return memerrors.InvalidInput("title exceeds 256 bytes", nil)
	}
	if !input.Type.Valid() {
		return memerrors.InvalidInput("memory_type outside enumeration", nil)
	}
	if input.Priority != "" && !input.Priority.Valid() {
		return memerrors.InvalidInput("priority outside enumeration", nil)
	}
	return nil
}

func validateSearchOptions(query string, opts search.Options) error {
	if query == "" {
		return memerrors.InvalidInput("query must not be empty", nil)
	}
	if opts.Limit <= 0 {
		return memerrors.InvalidInput("limit must be > 0", nil)
	}
	return nil
}

// recordStoreMetaFetcher adapts a RecordStore to search.MetaFetcher so
// the Hybrid Searcher can score candidates without importing the
// concrete store implementation.
type recordStoreMetaFetcher struct {
	records store.RecordStore
}

func (f *recordStoreMetaFetcher) FetchMeta(ctx context.Context, ids []string) (map[string]search.MemoryMeta, error) {
	out := make(map[string]search.MemoryMeta, len(ids))
	for _, id := range ids {
		m, err := f.records.Get(ctx, id)
		if err != nil {
			continue // stale index entry; janitor will reconcile
		}
		out[id] = search.MemoryMeta{
			ID:             m.ID,
			PriorityWeight: float32(m.Priority.ImportanceWeight()),
			LastAccessedAt: m.LastAccessedAt.Unix(),
			Type:           m.Type,
			Tags:           m.Tags,
			CreatedAt:      m.CreatedAt.Unix(),
		}
	}
	return out, nil
}
