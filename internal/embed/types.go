package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion).
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single Embed/EmbedBatch call against the
	// configured embedding capability.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for a
	// transient embedder failure.
	DefaultMaxRetries = 3
)

// StaticDimensions is the embedding dimension produced by StaticEmbedder
// when no explicit dimension is requested. The CLI also passes it to
// store.DefaultVectorStoreConfig when no dimension is configured, so a
// fresh install with no configured model still has a consistent,
// self-describing vector space.
const StaticDimensions = 256

// Embedder is the capability used to turn memory text into a dense vector
// for the semantic branch of search. The engine treats it as an opaque
// external dependency: unavailable (EmbedderUnavailable) just degrades a
// write or search to lexical-only, it is never a fatal condition.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one round trip.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension this embedder produces.
	Dimensions() int

	// ModelName returns the model identifier, surfaced in stats/health.
	ModelName() string

	// Available reports whether the embedder can currently serve requests.
	Available(ctx context.Context) bool

	// Close releases any resources held by the embedder.
	Close() error
}

// normalizeVector normalizes a vector to unit length so cosine distance
// and dot-product scoring behave consistently regardless of the source
// embedder's raw output scale.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
