// Package retrieval selects and formats past decisions as context for a
// new deliberation.
//
// The retriever consults the L1 query cache, loads a window of recent
// nodes from storage, scores them through the similarity backend with an
// adaptive candidate count, and renders the survivors through a tiered,
// token-budgeted formatter.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shingi-ai/shingi/internal/cache"
	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/similarity"
	"github.com/shingi-ai/shingi/internal/storage"
)

// Retriever produces ranked candidates for a question.
type Retriever struct {
	store   *storage.Store
	backend similarity.Backend
	queries *cache.QueryCache
	cfg     config.GraphConfig
	logger  *slog.Logger
}

// New creates a retriever over the given store and similarity backend.
func New(store *storage.Store, backend similarity.Backend, queries *cache.QueryCache, cfg config.GraphConfig, logger *slog.Logger) *Retriever {
	return &Retriever{
		store:   store,
		backend: backend,
		queries: queries,
		cfg:     cfg,
		logger:  logger,
	}
}

// InvalidateQueries drops every cached query result. Called after any
// write to the graph.
func (r *Retriever) InvalidateQueries() {
	r.queries.InvalidateAll()
}

// FindRelevant returns scored past decisions for question, best first.
// Candidates come from the recent query window; the count adapts to the
// graph size. Results below the noise floor are excluded. Cached matches
// whose ids no longer resolve are silently dropped.
func (r *Retriever) FindRelevant(ctx context.Context, question string) ([]model.ScoredNode, error) {
	normalized := similarity.Normalize(question)
	if normalized == "" {
		return nil, nil
	}

	nodes, err := r.store.ListNodes(ctx, r.cfg.QueryWindow, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieval: load query window: %w", err)
	}
	k := r.cfg.AdaptiveK.K(len(nodes))

	key := cache.QueryKey(normalized, r.cfg.NoiseFloor, k)
	if matches, ok := r.queries.Get(key); ok {
		return r.hydrate(ctx, matches)
	}

	candidates := make([]similarity.Candidate, 0, len(nodes))
	for _, n := range nodes {
		candidates = append(candidates, similarity.Candidate{ID: n.ID, Question: n.Question})
	}

	matches := r.backend.FindSimilar(ctx, question, candidates, r.cfg.NoiseFloor)

	// Defensive re-filter: the backend contract already applies the
	// threshold, but a score drifting below the floor must never reach
	// the tiered formatter.
	filtered := matches[:0]
	for _, m := range matches {
		if m.Score >= r.cfg.NoiseFloor {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) > k {
		filtered = filtered[:k]
	}

	r.queries.Put(key, filtered)
	return r.hydrate(ctx, filtered)
}

// hydrate resolves match ids into full nodes, dropping ids that no longer
// resolve (the cache may outlive a node).
func (r *Retriever) hydrate(ctx context.Context, matches []similarity.Match) ([]model.ScoredNode, error) {
	scored := make([]model.ScoredNode, 0, len(matches))
	for _, m := range matches {
		node, err := r.store.GetNode(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("retrieval: hydrate %s: %w", m.ID, err)
		}
		if node == nil {
			r.logger.Debug("retrieval: cached match no longer resolves", "id", m.ID)
			continue
		}
		scored = append(scored, model.ScoredNode{Node: *node, Score: m.Score})
	}
	return scored, nil
}
