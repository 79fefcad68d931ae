// Package graph is the integration facade between deliberations and the
// decision-graph memory. The orchestrator talks only to this package:
// StoreDeliberation persists an outcome, ContextFor retrieves formatted
// context for a new question.
//
// The facade is deliberately forgiving. Context retrieval never fails a
// deliberation (it degrades to an empty string), and of the persistence
// steps only the node write itself can propagate an error.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shingi-ai/shingi/internal/cache"
	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/retrieval"
	"github.com/shingi-ai/shingi/internal/similarity"
	"github.com/shingi-ai/shingi/internal/storage"
	"github.com/shingi-ai/shingi/internal/telemetry"
	"github.com/shingi-ai/shingi/internal/worker"
)

// capacityWarnNodes is where the facade starts warning that the graph is
// approaching the practical ceiling of the query window strategy.
const capacityWarnNodes = 4500

// syncFallbackLimit bounds the synchronous edge computation used when the
// background worker is absent or rejects a job.
const syncFallbackLimit = 100

// Graph wires storage, retrieval, the similarity backend, the caches, and
// the background worker behind one API.
type Graph struct {
	store     *storage.Store
	retriever *retrieval.Retriever
	backend   similarity.Backend
	worker    *worker.Worker
	stats     *cache.Stats
	cfg       config.GraphConfig
	workerCfg config.WorkerConfig
	logger    *slog.Logger
}

// New assembles the facade. worker may be nil; persistence then computes
// edges synchronously.
func New(store *storage.Store, retriever *retrieval.Retriever, backend similarity.Backend,
	w *worker.Worker, stats *cache.Stats, cfg config.GraphConfig, workerCfg config.WorkerConfig,
	logger *slog.Logger) *Graph {
	return &Graph{
		store:     store,
		retriever: retriever,
		backend:   backend,
		worker:    w,
		stats:     stats,
		cfg:       cfg,
		workerCfg: workerCfg,
		logger:    logger,
	}
}

// StoreDeliberation persists a completed deliberation as a decision node
// with one stance per participant, schedules similarity edge computation,
// and invalidates the query cache. Returns the new node id. Stance and
// edge failures are logged, not propagated; only the node write fails
// the call.
func (g *Graph) StoreDeliberation(ctx context.Context, question string, result model.DeliberationResult) (string, error) {
	node := model.DecisionNode{
		ID:                uuid.NewString(),
		Question:          question,
		Timestamp:         time.Now().UTC(),
		Consensus:         result.Summary,
		ConvergenceStatus: deriveStatus(result),
		Participants:      result.Participants,
		TranscriptPath:    result.TranscriptPath,
	}
	if result.Voting != nil && result.Voting.WinningOption != nil {
		node.WinningOption = result.Voting.WinningOption
	}

	id, err := g.store.SaveNode(ctx, node)
	if err != nil {
		return "", fmt.Errorf("graph: store deliberation: %w", err)
	}

	g.saveStances(ctx, id, result)
	g.scheduleEdges(ctx, id, question)
	g.retriever.InvalidateQueries()
	g.logMilestones(ctx)

	return id, nil
}

// ContextFor returns formatted context from similar past decisions, or ""
// when the graph has nothing relevant or anything fails along the way.
// One MEASUREMENT line is logged per call for offline effectiveness
// analysis.
func (g *Graph) ContextFor(ctx context.Context, question string) string {
	start := time.Now()

	scored, err := g.retriever.FindRelevant(ctx, question)
	if err != nil {
		g.logger.Warn("graph: context retrieval failed", "error", err)
		return ""
	}

	formatted, dist := g.retriever.FormatTiered(ctx, scored)
	telemetry.RecordRetrieval(ctx, time.Since(start).Seconds(), len(scored))

	g.logger.Info("MEASUREMENT graph_context",
		"question", truncate(question, 80),
		"scored", len(scored),
		"strong", dist.Strong,
		"moderate", dist.Moderate,
		"brief", dist.Brief,
		"tokens_used", len(formatted)/4,
		"token_budget", g.cfg.ContextTokenBudget,
		"db_size_bytes", g.store.DBSizeBytes(),
		"duration_ms", time.Since(start).Milliseconds())

	return formatted
}

// saveStances writes one stance per participant from the final round
// slice, attaching the parsed vote when one exists.
func (g *Graph) saveStances(ctx context.Context, nodeID string, result model.DeliberationResult) {
	votes := make(map[string]model.Vote)
	if result.Voting != nil {
		for _, v := range result.Voting.Votes {
			votes[v.Participant] = v
		}
	}

	final := make(map[string]string, len(result.Participants))
	for _, rr := range result.FinalRound() {
		final[rr.Participant] = rr.Response
	}

	for _, p := range result.Participants {
		stance := model.ParticipantStance{
			DecisionID:    nodeID,
			Participant:   p,
			FinalPosition: model.TruncatePosition(final[p]),
		}
		if v, ok := votes[p]; ok {
			opt, conf, rat := v.Option, v.Confidence, v.Rationale
			stance.VoteOption = &opt
			stance.Confidence = &conf
			if rat != "" {
				stance.Rationale = &rat
			}
		}
		if _, err := g.store.SaveStance(ctx, stance); err != nil {
			g.logger.Warn("graph: save stance", "node_id", nodeID, "participant", p, "error", err)
		}
	}
}

// scheduleEdges hands edge computation to the worker, falling back to a
// bounded synchronous pass when the worker is absent or rejects the job.
func (g *Graph) scheduleEdges(ctx context.Context, nodeID, question string) {
	if g.worker != nil {
		err := g.worker.Enqueue(worker.Job{
			NodeID:   nodeID,
			Question: question,
			Priority: worker.PriorityHigh,
		})
		if err == nil {
			return
		}
		g.logger.Warn("graph: worker rejected edge job, computing synchronously", "error", err)
	}
	g.computeEdgesSync(ctx, nodeID, question)
}

// computeEdgesSync scores the new node against recent nodes in parallel
// and upserts edges at or above the worker threshold.
func (g *Graph) computeEdgesSync(ctx context.Context, nodeID, question string) {
	nodes, err := g.store.ListNodes(ctx, syncFallbackLimit, 0)
	if err != nil {
		g.logger.Warn("graph: sync edge fallback list", "error", err)
		return
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	edges := make([]model.DecisionSimilarity, len(nodes))

	for i, n := range nodes {
		if n.ID == nodeID {
			continue
		}
		i, n := i, n
		eg.Go(func() error {
			score := g.backend.Compute(egCtx, question, n.Question)
			if score >= g.workerCfg.SimilarityThreshold {
				edges[i] = model.DecisionSimilarity{
					SourceID:        nodeID,
					TargetID:        n.ID,
					SimilarityScore: score,
					ComputedAt:      time.Now().UTC(),
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	// Writes stay on one goroutine; the store serializes them anyway.
	for _, e := range edges {
		if e.SourceID == "" {
			continue
		}
		if err := g.store.SaveSimilarity(ctx, e); err != nil {
			g.logger.Warn("graph: sync edge save", "target", e.TargetID, "error", err)
		}
	}
}

// logMilestones emits growth logs every 100 nodes, a larger summary every
// 500, and a capacity warning near the query window ceiling.
func (g *Graph) logMilestones(ctx context.Context) {
	n, err := g.store.CountNodes(ctx)
	if err != nil {
		return
	}
	switch {
	case n >= capacityWarnNodes:
		g.logger.Warn("graph: approaching capacity, retrieval quality may degrade",
			"nodes", n, "query_window", g.cfg.QueryWindow)
	case n%500 == 0:
		edges, _ := g.store.CountEdges(ctx)
		g.logger.Info("graph: growth milestone",
			"nodes", n, "edges", edges, "db_size_bytes", g.store.DBSizeBytes())
	case n%100 == 0:
		g.logger.Info("graph: milestone", "nodes", n)
	}
}

// deriveStatus maps a deliberation outcome onto the node status with the
// voting outcomes taking precedence over semantic convergence.
func deriveStatus(result model.DeliberationResult) model.ConvergenceStatus {
	if result.Voting != nil {
		switch {
		case result.Voting.ConsensusReached && unanimous(result.Voting):
			return model.StatusUnanimousConsensus
		case result.Voting.WinningOption != nil:
			return model.StatusMajorityDecision
		case len(result.Voting.Votes) > 0:
			return model.StatusTie
		}
	}
	if result.Convergence != nil && result.Convergence.Status.Valid() {
		return result.Convergence.Status
	}
	if s := model.ConvergenceStatus(result.Status); s.Valid() {
		return s
	}
	return model.StatusUnknown
}

// unanimous reports whether every vote landed on the winning option.
func unanimous(v *model.VotingResult) bool {
	if v.WinningOption == nil || len(v.Votes) == 0 {
		return false
	}
	return v.Tally[*v.WinningOption] == len(v.Votes)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
