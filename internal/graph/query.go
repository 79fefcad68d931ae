package graph

import (
	"context"
	"fmt"

	"github.com/shingi-ai/shingi/internal/model"
)

// contradictionThreshold is the minimum edge score for two decisions to
// count as answers to the same question.
const contradictionThreshold = 0.60

// Similar returns scored past decisions for a free-text query.
func (g *Graph) Similar(ctx context.Context, query string) ([]model.ScoredNode, error) {
	return g.retriever.FindRelevant(ctx, query)
}

// Decision is one fully hydrated node for query_decisions output.
type Decision struct {
	Node      model.DecisionNode        `json:"node"`
	Stances   []model.ParticipantStance `json:"stances,omitempty"`
	Neighbors []model.ScoredNode        `json:"neighbors,omitempty"`
}

// Lookup returns one decision with its stances and nearest neighbors.
// A missing id returns (nil, nil).
func (g *Graph) Lookup(ctx context.Context, id string, neighborLimit int) (*Decision, error) {
	node, err := g.store.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("graph: lookup %s: %w", id, err)
	}
	if node == nil {
		return nil, nil
	}

	d := &Decision{Node: *node}
	if d.Stances, err = g.store.ListStances(ctx, id); err != nil {
		return nil, fmt.Errorf("graph: lookup stances %s: %w", id, err)
	}
	if d.Neighbors, err = g.store.ListSimilar(ctx, id, g.workerCfg.SimilarityThreshold, neighborLimit); err != nil {
		return nil, fmt.Errorf("graph: lookup neighbors %s: %w", id, err)
	}
	return d, nil
}

// Contradiction pairs two highly similar decisions whose winning options
// differ, a signal that the team reversed itself.
type Contradiction struct {
	First      model.DecisionNode `json:"first"`
	Second     model.DecisionNode `json:"second"`
	Similarity float64            `json:"similarity"`
}

// FindContradictions scans the similarity edges for pairs of decisions
// that answer near-identical questions with different winning options.
func (g *Graph) FindContradictions(ctx context.Context, limit int) ([]Contradiction, error) {
	const edgeScan = 500
	edges, err := g.store.ListEdges(ctx, edgeScan)
	if err != nil {
		return nil, fmt.Errorf("graph: list edges: %w", err)
	}

	seen := make(map[string]bool)
	var out []Contradiction
	for _, e := range edges {
		if e.SimilarityScore < contradictionThreshold {
			continue
		}
		// Edges are directed; collapse both directions onto one key.
		key := e.SourceID + "|" + e.TargetID
		if e.TargetID < e.SourceID {
			key = e.TargetID + "|" + e.SourceID
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		src, err := g.store.GetNode(ctx, e.SourceID)
		if err != nil || src == nil {
			continue
		}
		dst, err := g.store.GetNode(ctx, e.TargetID)
		if err != nil || dst == nil {
			continue
		}
		if src.WinningOption == nil || dst.WinningOption == nil {
			continue
		}
		if *src.WinningOption == *dst.WinningOption {
			continue
		}

		out = append(out, Contradiction{First: *src, Second: *dst, Similarity: e.SimilarityScore})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
