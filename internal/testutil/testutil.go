// Package testutil provides shared fixtures for tests that need a real
// SQLite-backed store or canned deliberation results.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/storage"
)

// Logger returns a logger that discards everything. Tests that assert on
// log output should build their own.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenStore opens a store on a fresh temp file and closes it when the
// test ends.
func OpenStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "graph.db"), Logger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Node builds a valid decision node for the given question.
func Node(question string) model.DecisionNode {
	return model.DecisionNode{
		ID:                uuid.NewString(),
		Question:          question,
		Timestamp:         time.Now().UTC(),
		Consensus:         "agreed on " + question,
		ConvergenceStatus: model.StatusConverged,
		Participants:      []string{"a@cli", "b@cli"},
	}
}

// SaveNode builds and persists a node, returning its id.
func SaveNode(t *testing.T, store *storage.Store, question string) string {
	t.Helper()
	id, err := store.SaveNode(context.Background(), Node(question))
	if err != nil {
		t.Fatalf("save node %q: %v", question, err)
	}
	return id
}

// Result builds a minimal completed deliberation result.
func Result(participants []string, winning string) model.DeliberationResult {
	res := model.DeliberationResult{
		Status:          "complete",
		Mode:            model.ModeConference,
		RoundsCompleted: 1,
		Participants:    participants,
		Summary:         "test deliberation",
	}
	for _, p := range participants {
		res.FullDebate = append(res.FullDebate, model.RoundResponse{
			Round:       1,
			Participant: p,
			Response:    "position of " + p,
		})
	}
	if winning != "" {
		votes := make([]model.Vote, 0, len(participants))
		tally := map[string]int{winning: len(participants)}
		for _, p := range participants {
			votes = append(votes, model.Vote{Option: winning, Confidence: 0.9, Participant: p})
		}
		res.Voting = &model.VotingResult{
			Tally:            tally,
			Votes:            votes,
			ConsensusReached: true,
			WinningOption:    &winning,
		}
	}
	return res
}
