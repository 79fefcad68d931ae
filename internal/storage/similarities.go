package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shingi-ai/shingi/internal/model"
)

// SaveSimilarity upserts a similarity edge keyed by (source_id, target_id).
// Re-writes replace the prior row. Endpoints that do not resolve fail with
// ErrIntegrity.
func (s *Store) SaveSimilarity(ctx context.Context, e model.DecisionSimilarity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if e.ComputedAt.IsZero() {
		e.ComputedAt = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_similarities (source_id, target_id, similarity_score, computed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id) DO UPDATE SET
		   similarity_score = excluded.similarity_score,
		   computed_at = excluded.computed_at`,
		e.SourceID, e.TargetID, e.SimilarityScore, e.ComputedAt.UTC().UnixNano(),
	)
	return wrapWriteErr("save similarity", err)
}

// ListSimilar returns nodes connected to id by an edge with score >=
// threshold, ordered by score descending, paired with their scores.
func (s *Store) ListSimilar(ctx context.Context, id string, threshold float64, limit int) ([]model.ScoredNode, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.question, n.timestamp, n.consensus, n.winning_option,
		        n.convergence_status, n.participants, n.transcript_path, n.metadata,
		        e.similarity_score
		 FROM decision_similarities e
		 JOIN decision_nodes n ON n.id = e.target_id
		 WHERE e.source_id = ? AND e.similarity_score >= ?
		 ORDER BY e.similarity_score DESC
		 LIMIT ?`, id, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list similar: %w", err)
	}
	defer rows.Close()

	var results []model.ScoredNode
	for rows.Next() {
		var (
			sn    model.ScoredNode
			score float64
		)
		n, err := scanNodeWithScore(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("storage: scan similar: %w", err)
		}
		sn.Node = *n
		sn.Score = score
		results = append(results, sn)
	}
	return results, rows.Err()
}

// ListEdges returns up to limit edges ordered by score descending.
func (s *Store) ListEdges(ctx context.Context, limit int) ([]model.DecisionSimilarity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, similarity_score, computed_at
		 FROM decision_similarities ORDER BY similarity_score DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list edges: %w", err)
	}
	defer rows.Close()

	var edges []model.DecisionSimilarity
	for rows.Next() {
		var (
			e  model.DecisionSimilarity
			at int64
		)
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.SimilarityScore, &at); err != nil {
			return nil, fmt.Errorf("storage: scan edge: %w", err)
		}
		e.ComputedAt = time.Unix(0, at).UTC()
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func scanNodeWithScore(r rowScanner, score *float64) (*model.DecisionNode, error) {
	var (
		n             model.DecisionNode
		ts            int64
		status        string
		participants  string
		metadata      string
		winningOption *string
	)
	if err := r.Scan(&n.ID, &n.Question, &ts, &n.Consensus, &winningOption,
		&status, &participants, &n.TranscriptPath, &metadata, score); err != nil {
		return nil, err
	}
	n.Timestamp = time.Unix(0, ts).UTC()
	n.ConvergenceStatus = model.ConvergenceStatus(status)
	n.WinningOption = winningOption
	if err := json.Unmarshal([]byte(participants), &n.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &n, nil
}
