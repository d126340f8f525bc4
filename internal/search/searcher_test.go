package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NewTurn2017/oc-memory/internal/store"
)

// fakeVectorStore is a minimal store.VectorStore stand-in for searcher tests.
type fakeVectorStore struct {
	results []*store.VectorResult
	err     error
	lastK   int
}

func (f *fakeVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error { return nil }
func (f *fakeVectorStore) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, ids []string) error { return nil }
func (f *fakeVectorStore) AllIDs() []string                              { return nil }
func (f *fakeVectorStore) Contains(id string) bool                       { return false }
func (f *fakeVectorStore) Count() int                                    { return len(f.results) }
func (f *fakeVectorStore) Save(path string) error                        { return nil }
func (f *fakeVectorStore) Load(path string) error                        { return nil }
func (f *fakeVectorStore) Close() error                                  { return nil }

// fakeLexicalIndex is a minimal store.LexicalIndex stand-in for searcher tests.
type fakeLexicalIndex struct {
	results []*store.LexicalResult
	err     error
	lastK   int
}

func (f *fakeLexicalIndex) Index(ctx context.Context, docs []*store.LexicalDocument) error {
	return nil
}
func (f *fakeLexicalIndex) Search(ctx context.Context, query string, limit int) ([]*store.LexicalResult, error) {
	f.lastK = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}
func (f *fakeLexicalIndex) Delete(ctx context.Context, ids []string) error { return nil }
func (f *fakeLexicalIndex) AllIDs(ctx context.Context) ([]string, error)  { return nil, nil }
func (f *fakeLexicalIndex) Stats(ctx context.Context) (*store.LexicalStats, error) {
	return &store.LexicalStats{}, nil
}
func (f *fakeLexicalIndex) Close() error { return nil }

// fakeEmbedder is a minimal embed.Embedder stand-in for searcher tests.
type fakeEmbedder struct {
	vector    []float32
	err       error
	available bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeEmbedder) Dimensions() int                       { return len(f.vector) }
func (f *fakeEmbedder) ModelName() string                     { return "fake" }
func (f *fakeEmbedder) Available(ctx context.Context) bool    { return f.available }
func (f *fakeEmbedder) Close() error                          { return nil }

// fakeMetaFetcher resolves ids from an in-memory map.
type fakeMetaFetcher struct {
	meta map[string]MemoryMeta
}

func (f *fakeMetaFetcher) FetchMeta(ctx context.Context, ids []string) (map[string]MemoryMeta, error) {
	out := make(map[string]MemoryMeta, len(ids))
	for _, id := range ids {
		if m, ok := f.meta[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func newMetaFetcher(ids ...string) *fakeMetaFetcher {
	now := time.Now().Unix()
	meta := make(map[string]MemoryMeta, len(ids))
	for _, id := range ids {
		meta[id] = MemoryMeta{ID: id, PriorityWeight: 1.0, LastAccessedAt: now}
	}
	return &fakeMetaFetcher{meta: meta}
}

func TestHybridSearcher_BothBranchesAvailable_ModeHybrid(t *testing.T) {
	vector := &fakeVectorStore{results: []*store.VectorResult{{ID: "m1", Score: 0.9}}}
	lexical := &fakeLexicalIndex{results: []*store.LexicalResult{{MemoryID: "m1", Score: 0.5}}}
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}, available: true}

	searcher := NewHybridSearcher(vector, lexical, embedder, newMetaFetcher("m1"), DefaultWeights())
	resp, err := searcher.Search(context.Background(), "query", Options{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, ModeHybrid, resp.Mode)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "m1", resp.Hits[0].MemoryID)
}

func TestHybridSearcher_NoEmbedder_ModeLexical(t *testing.T) {
	vector := &fakeVectorStore{}
	lexical := &fakeLexicalIndex{results: []*store.LexicalResult{{MemoryID: "m1", Score: 0.8}}}

	searcher := NewHybridSearcher(vector, lexical, nil, newMetaFetcher("m1"), DefaultWeights())
	resp, err := searcher.Search(context.Background(), "query", Options{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, ModeLexical, resp.Mode)
	require.Len(t, resp.Hits, 1)
	assert.Zero(t, resp.Hits[0].Breakdown.Semantic)
}

func TestHybridSearcher_LexicalIndexDown_ModeVector(t *testing.T) {
	vector := &fakeVectorStore{results: []*store.VectorResult{{ID: "m1", Score: 0.7}}}
	lexical := &fakeLexicalIndex{err: errors.New("index corrupt")}
	embedder := &fakeEmbedder{vector: []float32{0.1}, available: true}

	searcher := NewHybridSearcher(vector, lexical, embedder, newMetaFetcher("m1"), DefaultWeights())
	resp, err := searcher.Search(context.Background(), "query", Options{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, ModeVector, resp.Mode)
	require.Len(t, resp.Hits, 1)
	assert.Zero(t, resp.Hits[0].Breakdown.Keyword)
}

func TestHybridSearcher_BothBranchesFail_ReturnsError(t *testing.T) {
	vector := &fakeVectorStore{err: errors.New("vector down")}
	lexical := &fakeLexicalIndex{err: errors.New("lexical down")}
	embedder := &fakeEmbedder{vector: []float32{0.1}, available: true}

	searcher := NewHybridSearcher(vector, lexical, embedder, newMetaFetcher(), DefaultWeights())
	_, err := searcher.Search(context.Background(), "query", Options{Limit: 10})
	assert.Error(t, err)
}

func TestHybridSearcher_EmptyCorpus_ReturnsEmptySuccess(t *testing.T) {
	vector := &fakeVectorStore{}
	lexical := &fakeLexicalIndex{}
	embedder := &fakeEmbedder{vector: []float32{0.1}, available: true}

	searcher := NewHybridSearcher(vector, lexical, embedder, newMetaFetcher(), DefaultWeights())
	resp, err := searcher.Search(context.Background(), "anything", Options{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
}

func TestHybridSearcher_OversamplesBranchesBeforeFusion(t *testing.T) {
	vector := &fakeVectorStore{results: []*store.VectorResult{{ID: "a", Score: 0.9}}}
	lexical := &fakeLexicalIndex{results: []*store.LexicalResult{{MemoryID: "a", Score: 0.5}}}
	embedder := &fakeEmbedder{vector: []float32{0.1}, available: true}

	searcher := NewHybridSearcher(vector, lexical, embedder, newMetaFetcher("a"), DefaultWeights())

	_, err := searcher.Search(context.Background(), "query", Options{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 20, vector.lastK) // max(4*2, 20)
	assert.Equal(t, 20, lexical.lastK)

	_, err = searcher.Search(context.Background(), "query", Options{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 40, vector.lastK) // max(4*10, 20)
	assert.Equal(t, 40, lexical.lastK)
}

func TestHybridSearcher_FilterExcludesNonMatchingCandidates(t *testing.T) {
	vector := &fakeVectorStore{results: []*store.VectorResult{{ID: "task-a", Score: 0.9}, {ID: "fact-a", Score: 0.8}}}
	lexical := &fakeLexicalIndex{}
	embedder := &fakeEmbedder{vector: []float32{0.1}, available: true}

	meta := &fakeMetaFetcher{meta: map[string]MemoryMeta{
		"task-a": {ID: "task-a", PriorityWeight: 1.0, LastAccessedAt: time.Now().Unix(), Type: store.MemoryTypeTask},
		"fact-a": {ID: "fact-a", PriorityWeight: 1.0, LastAccessedAt: time.Now().Unix(), Type: store.MemoryTypeFact},
	}}

	searcher := NewHybridSearcher(vector, lexical, embedder, meta, DefaultWeights())
	resp, err := searcher.Search(context.Background(), "query", Options{
		Limit:  10,
		Filter: Filter{Types: []store.MemoryType{store.MemoryTypeTask}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "task-a", resp.Hits[0].MemoryID)
}

func TestHybridSearcher_LimitTruncatesResults(t *testing.T) {
	vector := &fakeVectorStore{results: []*store.VectorResult{
		{ID: "a", Score: 0.9}, {ID: "b", Score: 0.8}, {ID: "c", Score: 0.7},
	}}
	lexical := &fakeLexicalIndex{}
	embedder := &fakeEmbedder{vector: []float32{0.1}, available: true}

	searcher := NewHybridSearcher(vector, lexical, embedder, newMetaFetcher("a", "b", "c"), DefaultWeights())
	resp, err := searcher.Search(context.Background(), "query", Options{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 2)
}
