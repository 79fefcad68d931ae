package model

import "time"

// DeliberationMode selects how many rounds a deliberation runs.
type DeliberationMode string

const (
	// ModeQuick forces a single round regardless of the requested count.
	ModeQuick DeliberationMode = "quick"
	// ModeConference honors the requested round count up to the configured max.
	ModeConference DeliberationMode = "conference"
)

// Vote is a structured annotation parsed from a participant's response.
type Vote struct {
	Option         string  `json:"option"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale"`
	ContinueDebate *bool   `json:"continue_debate,omitempty"`
	Participant    string  `json:"participant,omitempty"`
}

// WantsToContinue reports the continue_debate flag, defaulting to true
// when the participant did not set it.
func (v Vote) WantsToContinue() bool {
	if v.ContinueDebate == nil {
		return true
	}
	return *v.ContinueDebate
}

// VotingResult aggregates grouped votes for a deliberation.
type VotingResult struct {
	Tally            map[string]int `json:"tally"`
	Votes            []Vote         `json:"votes"`
	ConsensusReached bool           `json:"consensus_reached"`
	WinningOption    *string        `json:"winning_option,omitempty"`
}

// RoundResponse is one participant's response within one round.
type RoundResponse struct {
	Round       int    `json:"round"`
	Participant string `json:"participant"`
	Response    string `json:"response"`
	Failed      bool   `json:"failed,omitempty"`
}

// ConvergenceInfo reports the semantic convergence measurement of the
// final compared round.
type ConvergenceInfo struct {
	Status         ConvergenceStatus  `json:"status"`
	MinSimilarity  float64            `json:"min_similarity"`
	AvgSimilarity  float64            `json:"avg_similarity"`
	PerParticipant map[string]float64 `json:"per_participant,omitempty"`
	StableRounds   int                `json:"stable_rounds"`
}

// ToolRecord captures one tool invocation made during a deliberation.
type ToolRecord struct {
	Round       int            `json:"round"`
	Requester   string         `json:"requester"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Output      string         `json:"output,omitempty"`
	Failed      bool           `json:"failed,omitempty"`
	Error       string         `json:"error,omitempty"`
	ExecutedAt  time.Time      `json:"executed_at"`
	DurationMS  int64          `json:"duration_ms"`
}

// DeliberationResult is the complete outcome of one deliberation, as
// assembled by the orchestrator and consumed by the graph facade and the
// request boundary.
type DeliberationResult struct {
	Status              string            `json:"status"`
	Mode                DeliberationMode  `json:"mode"`
	RoundsCompleted     int               `json:"rounds_completed"`
	Participants        []string          `json:"participants"`
	Summary             string            `json:"summary"`
	TranscriptPath      string            `json:"transcript_path,omitempty"`
	FullDebate          []RoundResponse   `json:"full_debate"`
	Convergence         *ConvergenceInfo  `json:"convergence,omitempty"`
	Voting              *VotingResult     `json:"voting,omitempty"`
	GraphContextSummary string            `json:"graph_context_summary,omitempty"`
	ToolExecutions      []ToolRecord      `json:"tool_executions,omitempty"`
}

// FinalRound returns the best-effort final round slice: the last
// len(participants) responses. When adapter failures left the debate
// shorter, the slice is an approximation, not an invariant.
func (r DeliberationResult) FinalRound() []RoundResponse {
	n := len(r.Participants)
	if n == 0 || len(r.FullDebate) < n {
		return r.FullDebate
	}
	return r.FullDebate[len(r.FullDebate)-n:]
}
