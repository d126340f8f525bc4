package search

import (
	"math"
	"sort"
	"time"

	"github.com/NewTurn2017/oc-memory/internal/store"
)

// Weights configures the relative contribution of each score component.
// The four weights are expected to sum to 1.0 so Score stays in [0, 1]
// whenever each component is itself in [0, 1].
type Weights struct {
	Semantic   float64
	Keyword    float64
	Recency    float64
	Importance float64
}

// DefaultWeights returns the spec's fixed weighting: semantic carries
// most of the signal, keyword and recency each contribute a smaller
// share, and authored importance nudges the result without dominating it.
func DefaultWeights() Weights {
	return Weights{
		Semantic:   0.60,
		Keyword:    0.15,
		Recency:    0.15,
		Importance: 0.10,
	}
}

// recencyHalfLifeDays is the number of days after which the recency
// component halves: exp(-ln(2)/30 * days) == 0.5 at days == 30.
const recencyHalfLifeDays = 30.0

// WeightedFusion combines dense-vector and lexical candidate lists into
// a single ranked slice of Hit, the weighted-sum analogue of the
// teacher's Reciprocal Rank Fusion: instead of rank-based smoothing, it
// keeps each of the four components exact and auditable per result.
type WeightedFusion struct {
	Weights Weights
}

// NewWeightedFusion creates a fusion step using the given weights. A
// zero Weights value falls back to DefaultWeights.
func NewWeightedFusion(w Weights) *WeightedFusion {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &WeightedFusion{Weights: w}
}

// Fuse merges dense and lexical candidates, scores each against the
// supplied metadata, and returns hits sorted by Score descending
// (ties broken by LastAccessedAt descending, then MemoryID ascending).
// Candidates missing from meta are dropped — the record store is the
// source of truth and a candidate it doesn't know about is stale index
// state the janitor will reconcile, not a valid result. Candidates
// present in meta but failing filter are dropped too, before scoring.
func (f *WeightedFusion) Fuse(
	dense []*store.VectorResult,
	lexical []*store.LexicalResult,
	meta map[string]MemoryMeta,
	now time.Time,
	filter Filter,
) []*Hit {
	candidates := make(map[string]*candidateScore, len(dense)+len(lexical))
	for _, r := range dense {
		getOrCreateCandidate(candidates, r.ID).semantic = clip01(float64(r.Score))
	}
	for _, r := range lexical {
		getOrCreateCandidate(candidates, r.MemoryID).keyword = clip01(r.Score)
	}

	hits := make([]*Hit, 0, len(candidates))
	for id, c := range candidates {
		m, ok := meta[id]
		if !ok {
			continue
		}
		if !filter.Matches(m) {
			continue
		}

		recency := recencyScore(now, m.LastAccessedAt)
		importance := clip01(float64(m.PriorityWeight))

		breakdown := ScoreBreakdown{
			Semantic:   float32(c.semantic),
			Keyword:    float32(c.keyword),
			Recency:    float32(recency),
			Importance: float32(importance),
		}
		score := f.Weights.Semantic*c.semantic +
			f.Weights.Keyword*c.keyword +
			f.Weights.Recency*recency +
			f.Weights.Importance*importance

		hits = append(hits, &Hit{
			MemoryID:  id,
			Score:     asRankable(float32(score)),
			Breakdown: breakdown,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		return f.less(hits[i], hits[j], meta)
	})

	return hits
}

// candidateScore accumulates the raw (unweighted) per-branch scores for
// a candidate id before it is combined into a Hit.
type candidateScore struct {
	semantic float64
	keyword  float64
}

func getOrCreateCandidate(m map[string]*candidateScore, id string) *candidateScore {
	if c, ok := m[id]; ok {
		return c
	}
	c := &candidateScore{}
	m[id] = c
	return c
}

// less implements the deterministic comparison used to sort fused hits:
// higher score first, then more recently accessed first, then id
// ascending for a total order regardless of map iteration.
func (f *WeightedFusion) less(a, b *Hit, meta map[string]MemoryMeta) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	la, lb := meta[a.MemoryID].LastAccessedAt, meta[b.MemoryID].LastAccessedAt
	if la != lb {
		return la > lb
	}
	return a.MemoryID < b.MemoryID
}

// recencyScore implements exp(-ln(2)/30 * days_since(lastAccessedAt)).
func recencyScore(now time.Time, lastAccessedUnix int64) float64 {
	daysSince := float64(now.Unix()-lastAccessedUnix) / 86400.0
	if daysSince < 0 {
		daysSince = 0
	}
	return math.Exp(-math.Ln2 / recencyHalfLifeDays * daysSince)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// asRankable maps NaN to -Inf so a corrupt score never wins a ranking
// comparison; callers that log raw scores still see the NaN upstream.
func asRankable(score float32) float32 {
	if math.IsNaN(float64(score)) {
		return float32(math.Inf(-1))
	}
	return score
}
