// Package search composes the dense vector index and the lexical index
// into a single ranked result list, fused by a deterministic, auditable
// weighted score.
package search

import (
	"context"
	"time"

	"github.com/NewTurn2017/oc-memory/internal/store"
)

// Mode reports which branches contributed to a search.
type Mode string

const (
	// ModeHybrid means both the vector and lexical branches contributed.
	ModeHybrid Mode = "hybrid"
	// ModeVector means only the vector branch is available (lexical index down).
	ModeVector Mode = "vector"
	// ModeLexical means only the lexical branch is available (no embedder).
	ModeLexical Mode = "lexical"
)

// ScoreBreakdown exposes the four weighted components that sum to a
// hit's Score, so callers can audit a ranking decision rather than trust
// an opaque number.
type ScoreBreakdown struct {
	Semantic   float32 `json:"semantic"`
	Keyword    float32 `json:"keyword"`
	Recency    float32 `json:"recency"`
	Importance float32 `json:"importance"`
}

// Options configures a hybrid search call.
type Options struct {
	// Limit is the maximum number of hits to return.
	Limit int

	// IndexOnly, when true, tells the caller not to hydrate full content
	// or advance LastAccessedAt on the returned hits. HybridSearcher
	// itself is agnostic to this flag — it always fetches full Memory
	// records to compute recency/importance — the Engine Facade is the
	// one that strips Content and skips Touch for an index-only call.
	IndexOnly bool

	// Filter narrows the candidate union before scoring (spec §4.4
	// step 5: "drop candidates failing the filter").
	Filter Filter
}

// Filter constrains which candidates survive fusion. A zero Filter
// matches everything.
type Filter struct {
	// Types restricts results to memory_type ∈ Types. Empty means no
	// restriction.
	Types []store.MemoryType

	// Tags requires tags ⊇ Tags (every listed tag must be present on
	// the candidate). Empty means no restriction.
	Tags []string

	// After and Before bound created_at to a closed interval. A zero
	// time.Time leaves that side of the window open.
	After  time.Time
	Before time.Time
}

// Matches reports whether m satisfies every constraint in f.
func (f Filter) Matches(m MemoryMeta) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == m.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Tags) > 0 {
		have := make(map[string]struct{}, len(m.Tags))
		for _, t := range m.Tags {
			have[t] = struct{}{}
		}
		for _, want := range f.Tags {
			if _, ok := have[want]; !ok {
				return false
			}
		}
	}

	if !f.After.IsZero() && m.CreatedAt < f.After.Unix() {
		return false
	}
	if !f.Before.IsZero() && m.CreatedAt > f.Before.Unix() {
		return false
	}

	return true
}

// Hit is a single ranked search result.
type Hit struct {
	MemoryID  string
	Score     float32
	Breakdown ScoreBreakdown
}

// Response is the outcome of a hybrid search call.
type Response struct {
	Hits    []*Hit
	Mode    Mode
	Partial bool // deadline-truncated result flag; HybridSearcher.Search never sets it
}

// MemoryMeta is the subset of a Memory record the fusion step needs to
// score and filter candidates: priority for importance, last accessed
// time for recency, and type/tags/created_at for the optional filter.
type MemoryMeta struct {
	ID             string
	PriorityWeight float32 // 0.33 | 0.66 | 1.0, from Priority.ImportanceWeight()
	LastAccessedAt int64   // unix seconds
	Type           store.MemoryType
	Tags           []string
	CreatedAt      int64 // unix seconds
}

// MetaFetcher resolves candidate ids to the metadata the fusion step
// needs. The Engine Facade's RecordStore-backed implementation is the
// production MetaFetcher; tests can supply a map-backed fake.
type MetaFetcher interface {
	FetchMeta(ctx context.Context, ids []string) (map[string]MemoryMeta, error)
}
