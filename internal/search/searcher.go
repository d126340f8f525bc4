package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NewTurn2017/oc-memory/internal/embed"
	memerrors "github.com/NewTurn2017/oc-memory/internal/errors"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

// HybridSearcher composes the dense vector branch and the lexical branch,
// fans them out concurrently, and fuses the results. It degrades
// gracefully: an unavailable embedder or a broken lexical index drops
// that branch instead of failing the whole query, matching the spec's
// lexical-only / vector-only / hybrid search_mode contract.
type HybridSearcher struct {
	vector  store.VectorStore
	lexical store.LexicalIndex
	embed   embed.Embedder
	meta    MetaFetcher
	fusion  *WeightedFusion
	breaker *memerrors.CircuitBreaker
}

// NewHybridSearcher wires the vector and lexical branches together with
// a fusion step. embedder may be nil (no semantic branch configured);
// vector/lexical stores are expected non-nil since the engine always
// provisions both, even if one degrades to empty results at runtime.
// The dense branch's embed call is wrapped in a circuit breaker so a
// repeatedly-failing embedding backend fails fast into lexical-only mode
// instead of retrying a query embed on every single search.
func NewHybridSearcher(vector store.VectorStore, lexical store.LexicalIndex, embedder embed.Embedder, meta MetaFetcher, weights Weights) *HybridSearcher {
	return &HybridSearcher{
		vector:  vector,
		lexical: lexical,
		embed:   embedder,
		meta:    meta,
		fusion:  NewWeightedFusion(weights),
		breaker: memerrors.NewCircuitBreaker("query-embed"),
	}
}

// Search runs the dense and lexical branches concurrently via errgroup,
// fuses their candidates, and returns the top opts.Limit hits. It never
// returns an error for a single-branch failure — degraded_mode handling
// is the point — only for total failure (both branches down) or an
// expired context before any scoring could complete. A branch that hits
// an expired deadline is handled like any other branch failure; the
// returned Response.Partial is always false.
func (s *HybridSearcher) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	// Oversample each branch: the union needs candidates that rank outside
	// the final page in one branch but are pulled in by the other.
	k := max(4*limit, 20)

	g, gctx := errgroup.WithContext(ctx)

	var (
		denseResults   []*store.VectorResult
		denseErr       error
		lexicalResults []*store.LexicalResult
		lexicalErr     error
	)

	hasEmbedder := s.embed != nil

	g.Go(func() error {
		if !hasEmbedder {
			return nil
		}
		if !s.embed.Available(gctx) {
			denseErr = memerrors.EmbedderUnavailable(nil)
			return nil
		}
		var vec []float32
		execErr := s.breaker.Execute(func() error {
			v, err := s.embed.Embed(gctx, query)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
		if execErr != nil {
			denseErr = memerrors.EmbedderUnavailable(execErr)
			return nil
		}
		results, err := s.vector.Search(gctx, vec, k)
		if err != nil {
			denseErr = err
			return nil
		}
		denseResults = results
		return nil
	})

	g.Go(func() error {
		results, err := s.lexical.Search(gctx, query, k)
		if err != nil {
			lexicalErr = err
			return nil
		}
		lexicalResults = results
		return nil
	})

	waitErr := g.Wait()

	mode := resolveMode(hasEmbedder, denseErr, lexicalErr)

	partial := false
	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) {
			partial = true
		} else {
			return nil, waitErr
		}
	}

	if (hasEmbedder && denseErr != nil) && lexicalErr != nil {
		return nil, errors.Join(denseErr, lexicalErr)
	}

	if denseErr != nil {
		slog.Warn("dense search branch degraded", slog.String("error", denseErr.Error()))
	}
	if lexicalErr != nil {
		slog.Warn("lexical search branch degraded", slog.String("error", lexicalErr.Error()))
	}

	ids := candidateIDs(denseResults, lexicalResults)
	metaByID, err := s.meta.FetchMeta(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := s.fusion.Fuse(denseResults, lexicalResults, metaByID, time.Now(), opts.Filter)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	return &Response{Hits: hits, Mode: mode, Partial: partial}, nil
}

func resolveMode(hasEmbedder bool, denseErr, lexicalErr error) Mode {
	denseUp := hasEmbedder && denseErr == nil
	lexicalUp := lexicalErr == nil
	switch {
	case denseUp && lexicalUp:
		return ModeHybrid
	case denseUp:
		return ModeVector
	default:
		return ModeLexical
	}
}

func candidateIDs(dense []*store.VectorResult, lexical []*store.LexicalResult) []string {
	seen := make(map[string]struct{}, len(dense)+len(lexical))
	ids := make([]string, 0, len(dense)+len(lexical))
	for _, r := range dense {
		if _, ok := seen[r.ID]; !ok {
			seen[r.ID] = struct{}{}
			ids = append(ids, r.ID)
		}
	}
	for _, r := range lexical {
		if _, ok := seen[r.MemoryID]; !ok {
			seen[r.MemoryID] = struct{}{}
			ids = append(ids, r.MemoryID)
		}
	}
	return ids
}
