// Package model defines the core domain types for Shingi.
//
// All persisted types correspond directly to database tables. Types use
// strong typing (enums, time.Time) and avoid interface{} wherever possible.
package model

import (
	"fmt"
	"time"
)

// ConvergenceStatus represents the terminal state of a deliberation.
type ConvergenceStatus string

const (
	StatusConverged          ConvergenceStatus = "converged"
	StatusDiverging          ConvergenceStatus = "diverging"
	StatusRefining           ConvergenceStatus = "refining"
	StatusImpasse            ConvergenceStatus = "impasse"
	StatusMaxRounds          ConvergenceStatus = "max_rounds"
	StatusUnanimousConsensus ConvergenceStatus = "unanimous_consensus"
	StatusMajorityDecision   ConvergenceStatus = "majority_decision"
	StatusTie                ConvergenceStatus = "tie"
	StatusUnknown            ConvergenceStatus = "unknown"
)

// Valid reports whether s is one of the closed set of convergence statuses.
func (s ConvergenceStatus) Valid() bool {
	switch s {
	case StatusConverged, StatusDiverging, StatusRefining, StatusImpasse,
		StatusMaxRounds, StatusUnanimousConsensus, StatusMajorityDecision,
		StatusTie, StatusUnknown:
		return true
	}
	return false
}

// MaxFinalPositionLen caps ParticipantStance.FinalPosition at write time.
const MaxFinalPositionLen = 500

// MaxTimestampSkew is the furthest into the future a node timestamp may lie.
const MaxTimestampSkew = 24 * time.Hour

// DecisionNode is the permanent record of one completed deliberation.
// Immutable after insertion.
type DecisionNode struct {
	ID                string            `json:"id"`
	Question          string            `json:"question"`
	Timestamp         time.Time         `json:"timestamp"`
	Consensus         string            `json:"consensus"`
	WinningOption     *string           `json:"winning_option,omitempty"`
	ConvergenceStatus ConvergenceStatus `json:"convergence_status"`
	Participants      []string          `json:"participants"`
	TranscriptPath    string            `json:"transcript_path,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
}

// Validate checks the invariants a node must satisfy before insertion.
func (n DecisionNode) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("model: node id is empty")
	}
	if n.Question == "" {
		return fmt.Errorf("model: node question is empty")
	}
	if !n.ConvergenceStatus.Valid() {
		return fmt.Errorf("model: invalid convergence status %q", n.ConvergenceStatus)
	}
	if len(n.Participants) == 0 {
		return fmt.Errorf("model: node has no participants")
	}
	if n.Timestamp.After(time.Now().Add(MaxTimestampSkew)) {
		return fmt.Errorf("model: node timestamp %s is in the future", n.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// ParticipantStance is one participant's final position in one decision.
// Created together with its DecisionNode; never updated.
type ParticipantStance struct {
	DecisionID    string   `json:"decision_id"`
	Participant   string   `json:"participant"`
	VoteOption    *string  `json:"vote_option,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Rationale     *string  `json:"rationale,omitempty"`
	FinalPosition string   `json:"final_position"`
}

// Validate checks stance invariants (excluding the foreign key, which the
// storage layer enforces).
func (s ParticipantStance) Validate() error {
	if s.DecisionID == "" {
		return fmt.Errorf("model: stance decision_id is empty")
	}
	if s.Participant == "" {
		return fmt.Errorf("model: stance participant is empty")
	}
	if s.Confidence != nil && (*s.Confidence < 0 || *s.Confidence > 1) {
		return fmt.Errorf("model: stance confidence %.3f outside [0,1]", *s.Confidence)
	}
	return nil
}

// DecisionSimilarity is a directed weighted edge asserting semantic
// similarity between two decision nodes. Upserted by (SourceID, TargetID).
type DecisionSimilarity struct {
	SourceID        string    `json:"source_id"`
	TargetID        string    `json:"target_id"`
	SimilarityScore float64   `json:"similarity_score"`
	ComputedAt      time.Time `json:"computed_at"`
}

// Validate checks edge invariants (score range; endpoints are enforced by
// foreign keys in storage).
func (e DecisionSimilarity) Validate() error {
	if e.SourceID == "" || e.TargetID == "" {
		return fmt.Errorf("model: edge endpoint id is empty")
	}
	if e.SimilarityScore < 0 || e.SimilarityScore > 1 {
		return fmt.Errorf("model: edge score %.3f outside [0,1]", e.SimilarityScore)
	}
	return nil
}

// ScoredNode pairs a node with a similarity score, as returned by retrieval.
type ScoredNode struct {
	Node  DecisionNode `json:"node"`
	Score float64      `json:"score"`
}

// TruncatePosition clamps a free-text position to MaxFinalPositionLen runes.
func TruncatePosition(s string) string {
	r := []rune(s)
	if len(r) <= MaxFinalPositionLen {
		return s
	}
	return string(r[:MaxFinalPositionLen])
}
