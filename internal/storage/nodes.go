package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shingi-ai/shingi/internal/model"
)

// SaveNode inserts a decision node and returns its id. Constraint
// violations surface as ErrIntegrity.
func (s *Store) SaveNode(ctx context.Context, n model.DecisionNode) (string, error) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if err := n.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	participants, err := json.Marshal(n.Participants)
	if err != nil {
		return "", fmt.Errorf("storage: marshal participants: %w", err)
	}
	metadata := []byte("{}")
	if n.Metadata != nil {
		metadata, err = json.Marshal(n.Metadata)
		if err != nil {
			return "", fmt.Errorf("storage: marshal metadata: %w", err)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_nodes
		 (id, question, timestamp, consensus, winning_option, convergence_status, participants, transcript_path, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Question, n.Timestamp.UTC().UnixNano(), n.Consensus, n.WinningOption,
		string(n.ConvergenceStatus), string(participants), n.TranscriptPath, string(metadata),
	)
	if err != nil {
		return "", wrapWriteErr("save node", err)
	}
	return n.ID, nil
}

// GetNode retrieves a node by id. A missing id returns (nil, nil), never
// an error.
func (s *Store) GetNode(ctx context.Context, id string) (*model.DecisionNode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, question, timestamp, consensus, winning_option, convergence_status, participants, transcript_path, metadata
		 FROM decision_nodes WHERE id = ?`, id)

	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get node: %w", err)
	}
	return n, nil
}

// ListNodes returns up to limit nodes ordered newest-first by timestamp.
func (s *Store) ListNodes(ctx context.Context, limit, offset int) ([]model.DecisionNode, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, timestamp, consensus, winning_option, convergence_status, participants, transcript_path, metadata
		 FROM decision_nodes ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []model.DecisionNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(r rowScanner) (*model.DecisionNode, error) {
	var (
		n             model.DecisionNode
		ts            int64
		status        string
		participants  string
		metadata      string
		winningOption sql.NullString
	)
	if err := r.Scan(&n.ID, &n.Question, &ts, &n.Consensus, &winningOption,
		&status, &participants, &n.TranscriptPath, &metadata); err != nil {
		return nil, err
	}
	n.Timestamp = time.Unix(0, ts).UTC()
	n.ConvergenceStatus = model.ConvergenceStatus(status)
	if winningOption.Valid {
		v := winningOption.String
		n.WinningOption = &v
	}
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
