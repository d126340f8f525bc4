package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NewTurn2017/oc-memory/internal/embed"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

func newTestJanitorStores(t *testing.T) (store.RecordStore, store.VectorStore, store.LexicalIndex) {
	t.Helper()

	records, err := store.NewSQLiteRecordStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	vector, err := store.NewHNSWVectorStore(store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	lexical, err := store.NewSQLiteLexicalIndex("", store.DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	return records, vector, lexical
}

func TestJanitor_Check_FindsNothingOnConsistentStores(t *testing.T) {
	records, vector, lexical := newTestJanitorStores(t)
	ctx := context.Background()

	m := &store.Memory{ID: "mem-1", Title: "a", Content: "b", Type: store.MemoryTypeObservation, Priority: store.PriorityNormal}
	_, err := records.Put(ctx, m, 0)
	require.NoError(t, err)
	require.NoError(t, vector.Add(ctx, []string{"mem-1"}, [][]float32{make([]float32, embed.StaticDimensions)}))
	require.NoError(t, lexical.Index(ctx, []*store.LexicalDocument{{MemoryID: "mem-1", Title: "a", Content: "b"}}))

	j := NewJanitor(records, vector, lexical, time.Minute, time.Minute)
	result, err := j.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Empty(t, result.Inconsistencies)
}

func TestJanitor_Check_FindsOrphanVectorEntry(t *testing.T) {
	records, vector, lexical := newTestJanitorStores(t)
	ctx := context.Background()

	require.NoError(t, vector.Add(ctx, []string{"ghost"}, [][]float32{make([]float32, embed.StaticDimensions)}))

	j := NewJanitor(records, vector, lexical, time.Minute, time.Minute)
	result, err := j.Check(ctx)
	require.NoError(t, err)
	require.Len(t, result.Inconsistencies, 1)
	assert.Equal(t, InconsistencyOrphanVector, result.Inconsistencies[0].Type)
	assert.Equal(t, "ghost", result.Inconsistencies[0].MemoryID)
}

func TestJanitor_Check_FindsMissingLexicalEntry(t *testing.T) {
	records, vector, lexical := newTestJanitorStores(t)
	ctx := context.Background()

	m := &store.Memory{ID: "mem-2", Title: "only in records", Content: "x", Type: store.MemoryTypeObservation, Priority: store.PriorityNormal}
	_, err := records.Put(ctx, m, 0)
	require.NoError(t, err)
	require.NoError(t, vector.Add(ctx, []string{"mem-2"}, [][]float32{make([]float32, embed.StaticDimensions)}))

	j := NewJanitor(records, vector, lexical, time.Minute, time.Minute)
	result, err := j.Check(ctx)
	require.NoError(t, err)

	found := false
	for _, issue := range result.Inconsistencies {
		if issue.Type == InconsistencyMissingLexical && issue.MemoryID == "mem-2" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestJanitor_Repair_RemovesOrphanVectorEntry(t *testing.T) {
	records, vector, lexical := newTestJanitorStores(t)
	ctx := context.Background()

	require.NoError(t, vector.Add(ctx, []string{"ghost"}, [][]float32{make([]float32, embed.StaticDimensions)}))

	j := NewJanitor(records, vector, lexical, time.Minute, time.Minute)
	result, err := j.Check(ctx)
	require.NoError(t, err)

	require.NoError(t, j.Repair(ctx, result.Inconsistencies))
	assert.False(t, vector.Contains("ghost"))
}

func TestJanitor_Repair_ReindexesMissingLexicalEntry(t *testing.T) {
	records, vector, lexical := newTestJanitorStores(t)
	ctx := context.Background()

	m := &store.Memory{ID: "mem-3", Title: "needs lexical", Content: "reindex me", Type: store.MemoryTypeObservation, Priority: store.PriorityNormal}
	_, err := records.Put(ctx, m, 0)
	require.NoError(t, err)
	require.NoError(t, vector.Add(ctx, []string{"mem-3"}, [][]float32{make([]float32, embed.StaticDimensions)}))

	j := NewJanitor(records, vector, lexical, time.Minute, time.Minute)
	result, err := j.Check(ctx)
	require.NoError(t, err)
	require.NoError(t, j.Repair(ctx, result.Inconsistencies))

	hits, err := lexical.Search(ctx, "reindex", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "mem-3", hits[0].MemoryID)
}

func TestJanitor_QuickCheck_DetectsCountMismatch(t *testing.T) {
	records, vector, lexical := newTestJanitorStores(t)
	ctx := context.Background()

	require.NoError(t, vector.Add(ctx, []string{"ghost"}, [][]float32{make([]float32, embed.StaticDimensions)}))

	j := NewJanitor(records, vector, lexical, time.Minute, time.Minute)
	ok, err := j.QuickCheck(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJanitor_MarkTombstone_PurgesAfterAge(t *testing.T) {
	records, vector, lexical := newTestJanitorStores(t)
	j := NewJanitor(records, vector, lexical, time.Minute, time.Millisecond)

	j.MarkTombstone("mem-4")
	j.mu.Lock()
	_, present := j.tombs["mem-4"]
	j.mu.Unlock()
	require.True(t, present)

	time.Sleep(5 * time.Millisecond)
	j.purgeTombstones()

	j.mu.Lock()
	_, stillPresent := j.tombs["mem-4"]
	j.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestJanitor_StartStop_RunsLoopWithoutPanicking(t *testing.T) {
	records, vector, lexical := newTestJanitorStores(t)
	j := NewJanitor(records, vector, lexical, 5*time.Millisecond, time.Minute)

	j.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	j.Stop()
}
