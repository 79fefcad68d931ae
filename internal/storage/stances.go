package storage

import (
	"context"
	"fmt"

	"github.com/shingi-ai/shingi/internal/model"
)

// SaveStance inserts a participant stance and returns its row id. The
// final position is truncated to the model cap at write time. A stance
// whose decision_id does not resolve fails with ErrIntegrity.
func (s *Store) SaveStance(ctx context.Context, st model.ParticipantStance) (int64, error) {
	if err := st.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	st.FinalPosition = model.TruncatePosition(st.FinalPosition)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO participant_stances
		 (decision_id, participant, vote_option, confidence, rationale, final_position)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.DecisionID, st.Participant, st.VoteOption, st.Confidence, st.Rationale, st.FinalPosition,
	)
	if err != nil {
		return 0, wrapWriteErr("save stance", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: stance row id: %w", err)
	}
	return id, nil
}

// ListStances returns all stances for a decision, ordered by participant.
func (s *Store) ListStances(ctx context.Context, decisionID string) ([]model.ParticipantStance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision_id, participant, vote_option, confidence, rationale, final_position
		 FROM participant_stances WHERE decision_id = ? ORDER BY participant`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list stances: %w", err)
	}
	defer rows.Close()

	var stances []model.ParticipantStance
	for rows.Next() {
		var st model.ParticipantStance
		if err := rows.Scan(&st.DecisionID, &st.Participant, &st.VoteOption,
			&st.Confidence, &st.Rationale, &st.FinalPosition); err != nil {
			return nil, fmt.Errorf("storage: scan stance: %w", err)
		}
		stances = append(stances, st)
	}
	return stances, rows.Err()
}
