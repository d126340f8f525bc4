package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps a StaticEmbedder and records how many times the
// underlying Embed/EmbedBatch were actually invoked, so tests can assert
// on cache hit/miss behavior.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls      int
	embedBatchCalls int
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder(StaticDimensions)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls++
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.embedBatchCalls++
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_RepeatedEmbedHitsCache(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedderWithDefaults(inner)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.embedCalls)
}

func TestCachedEmbedder_EmbedBatchOnlyComputesUncached(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedderWithDefaults(inner)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "already cached")
	require.NoError(t, err)

	results, err := cached.EmbedBatch(ctx, []string{"already cached", "fresh text"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Only "fresh text" should have required a batch call underneath.
	assert.Equal(t, 1, inner.embedBatchCalls)
}

func TestCachedEmbedder_PassthroughMethods(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedderWithDefaults(inner)

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner.StaticEmbedder, cached.Inner().(*countingEmbedder).StaticEmbedder)
}
