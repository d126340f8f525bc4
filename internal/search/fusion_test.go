package search

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NewTurn2017/oc-memory/internal/store"
)

func TestWeightedFusion_ScoreMatchesFormulaWithinTolerance(t *testing.T) {
	now := time.Now()
	meta := map[string]MemoryMeta{
		"m1": {ID: "m1", PriorityWeight: 0.66, LastAccessedAt: now.Unix()},
	}
	dense := []*store.VectorResult{{ID: "m1", Score: 0.8}}
	lexical := []*store.LexicalResult{{MemoryID: "m1", Score: 0.4}}

	hits := NewWeightedFusion(DefaultWeights()).Fuse(dense, lexical, meta, now, Filter{})
	require.Len(t, hits, 1)

	expected := 0.60*0.8 + 0.15*0.4 + 0.15*1.0 + 0.10*0.66
	assert.InDelta(t, expected, hits[0].Score, 1e-6)
}

func TestWeightedFusion_RecencyHalfLifeAtThirtyDays(t *testing.T) {
	now := time.Now()
	thirtyDaysAgo := now.Add(-30 * 24 * time.Hour).Unix()

	recency := recencyScore(now, thirtyDaysAgo)
	assert.InDelta(t, 0.5, recency, 1e-3)
}

func TestWeightedFusion_RecencyTieBreak_MoreRecentRanksFirst(t *testing.T) {
	now := time.Now()
	meta := map[string]MemoryMeta{
		"recent": {ID: "recent", PriorityWeight: 1.0, LastAccessedAt: now.Add(-1 * 24 * time.Hour).Unix()},
		"stale":  {ID: "stale", PriorityWeight: 1.0, LastAccessedAt: now.Add(-45 * 24 * time.Hour).Unix()},
	}
	// Same title/content in spec's example means identical semantic/keyword scores.
	dense := []*store.VectorResult{{ID: "recent", Score: 0.5}, {ID: "stale", Score: 0.5}}
	lexical := []*store.LexicalResult{{MemoryID: "recent", Score: 0.5}, {MemoryID: "stale", Score: 0.5}}

	hits := NewWeightedFusion(DefaultWeights()).Fuse(dense, lexical, meta, now, Filter{})
	require.Len(t, hits, 2)
	assert.Equal(t, "recent", hits[0].MemoryID)

	assert.InDelta(t, math.Exp(-math.Ln2/30), hits[0].Breakdown.Recency, 1e-3)
	assert.InDelta(t, math.Exp(-math.Ln2*45/30), hits[1].Breakdown.Recency, 1e-3)
}

func TestWeightedFusion_CandidateMissingFromBranchScoresZeroForThatBranch(t *testing.T) {
	now := time.Now()
	meta := map[string]MemoryMeta{
		"dense-only": {ID: "dense-only", PriorityWeight: 1.0, LastAccessedAt: now.Unix()},
	}
	dense := []*store.VectorResult{{ID: "dense-only", Score: 0.9}}

	hits := NewWeightedFusion(DefaultWeights()).Fuse(dense, nil, meta, now, Filter{})
	require.Len(t, hits, 1)
	assert.Zero(t, hits[0].Breakdown.Keyword)
	assert.Equal(t, float32(0.9), hits[0].Breakdown.Semantic)
}

func TestWeightedFusion_CandidateMissingFromMetaIsDropped(t *testing.T) {
	now := time.Now()
	dense := []*store.VectorResult{{ID: "unknown", Score: 0.9}}

	hits := NewWeightedFusion(DefaultWeights()).Fuse(dense, nil, map[string]MemoryMeta{}, now, Filter{})
	assert.Empty(t, hits)
}

func TestWeightedFusion_FilterDropsNonMatchingMemoryType(t *testing.T) {
	now := time.Now()
	meta := map[string]MemoryMeta{
		"task-a": {ID: "task-a", PriorityWeight: 1.0, LastAccessedAt: now.Unix(), Type: store.MemoryTypeTask},
		"fact-a": {ID: "fact-a", PriorityWeight: 1.0, LastAccessedAt: now.Unix(), Type: store.MemoryTypeFact},
	}
	dense := []*store.VectorResult{{ID: "task-a", Score: 0.5}, {ID: "fact-a", Score: 0.5}}

	hits := NewWeightedFusion(DefaultWeights()).Fuse(dense, nil, meta, now, Filter{Types: []store.MemoryType{store.MemoryTypeTask}})
	require.Len(t, hits, 1)
	assert.Equal(t, "task-a", hits[0].MemoryID)
}

func TestWeightedFusion_FilterRequiresAllTags(t *testing.T) {
	now := time.Now()
	meta := map[string]MemoryMeta{
		"both":    {ID: "both", PriorityWeight: 1.0, LastAccessedAt: now.Unix(), Tags: []string{"travel", "japan"}},
		"partial": {ID: "partial", PriorityWeight: 1.0, LastAccessedAt: now.Unix(), Tags: []string{"travel"}},
	}
	dense := []*store.VectorResult{{ID: "both", Score: 0.5}, {ID: "partial", Score: 0.5}}

	hits := NewWeightedFusion(DefaultWeights()).Fuse(dense, nil, meta, now, Filter{Tags: []string{"travel", "japan"}})
	require.Len(t, hits, 1)
	assert.Equal(t, "both", hits[0].MemoryID)
}

func TestWeightedFusion_FilterTimeWindow(t *testing.T) {
	now := time.Now()
	meta := map[string]MemoryMeta{
		"old": {ID: "old", PriorityWeight: 1.0, LastAccessedAt: now.Unix(), CreatedAt: now.Add(-60 * 24 * time.Hour).Unix()},
		"new": {ID: "new", PriorityWeight: 1.0, LastAccessedAt: now.Unix(), CreatedAt: now.Unix()},
	}
	dense := []*store.VectorResult{{ID: "old", Score: 0.5}, {ID: "new", Score: 0.5}}

	hits := NewWeightedFusion(DefaultWeights()).Fuse(dense, nil, meta, now, Filter{After: now.Add(-24 * time.Hour)})
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].MemoryID)
}

func TestWeightedFusion_NaNScoreRanksLast(t *testing.T) {
	now := time.Now()
	meta := map[string]MemoryMeta{
		"nan-score": {ID: "nan-score", PriorityWeight: 1.0, LastAccessedAt: now.Unix()},
		"normal":    {ID: "normal", PriorityWeight: 0.33, LastAccessedAt: now.Unix()},
	}
	dense := []*store.VectorResult{
		{ID: "nan-score", Score: float32(math.NaN())},
		{ID: "normal", Score: 0.1},
	}

	hits := NewWeightedFusion(DefaultWeights()).Fuse(dense, nil, meta, now, Filter{})
	require.Len(t, hits, 2)
	assert.Equal(t, "normal", hits[0].MemoryID)
}
