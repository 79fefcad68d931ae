// Package deliberate runs multi-round model debates: prompt assembly,
// sequential adapter invocation, embedded vote and tool-request parsing,
// convergence detection, and final status resolution.
package deliberate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/similarity"
)

// VoteMarker introduces a structured vote inside a response.
const VoteMarker = "VOTE:"

// rawVote mirrors the wire shape of a vote payload.
type rawVote struct {
	Option         string   `json:"option"`
	Confidence     *float64 `json:"confidence"`
	Rationale      string   `json:"rationale"`
	ContinueDebate *bool    `json:"continue_debate"`
}

// ParseVote extracts the vote from a response. When several markers are
// present the last one wins, so templates and examples earlier in the
// response are harmless. The JSON may be wrapped in LaTeX $\boxed{...}$.
// Malformed payloads and confidences outside [0,1] yield no vote.
func ParseVote(response, participant string) *model.Vote {
	var vote *model.Vote
	rest := response
	for {
		idx := strings.Index(rest, VoteMarker)
		if idx < 0 {
			return vote
		}
		rest = rest[idx+len(VoteMarker):]

		payload := strings.TrimSpace(rest)
		// LaTeX wrapper: the \boxed brace doubles as the JSON opening brace.
		if cut, ok := strings.CutPrefix(payload, "$\\boxed{"); ok {
			payload = "{" + cut
		}
		brace := strings.IndexByte(payload, '{')
		if brace < 0 {
			continue
		}

		dec := json.NewDecoder(strings.NewReader(payload[brace:]))
		var raw rawVote
		if err := dec.Decode(&raw); err != nil || raw.Option == "" || raw.Confidence == nil {
			continue
		}
		if *raw.Confidence < 0 || *raw.Confidence > 1 {
			continue
		}
		vote = &model.Vote{
			Option:         raw.Option,
			Confidence:     *raw.Confidence,
			Rationale:      raw.Rationale,
			ContinueDebate: raw.ContinueDebate,
			Participant:    participant,
		}
	}
}

// AggregateVotes groups semantically equivalent options and tallies the
// result. Identical strings always merge; otherwise two distinct labels
// fuse when the backend scores them at or above groupThreshold (kept high
// so genuinely different options never collapse together). The first-seen
// label is canonical. winning_option is the unique maximum; a tie leaves
// it unset.
func AggregateVotes(ctx context.Context, votes []model.Vote, backend similarity.Backend, groupThreshold float64) *model.VotingResult {
	if len(votes) == 0 {
		return nil
	}

	canonical := make([]string, 0, len(votes))
	tally := make(map[string]int, len(votes))
	for _, v := range votes {
		label := v.Option
		for _, c := range canonical {
			if c == label {
				label = c
				break
			}
			if backend != nil && backend.Compute(ctx, c, v.Option) >= groupThreshold {
				label = c
				break
			}
		}
		if _, seen := tally[label]; !seen {
			canonical = append(canonical, label)
		}
		tally[label]++
	}

	result := &model.VotingResult{Tally: tally, Votes: votes}

	best, bestCount, unique := "", 0, false
	for label, count := range tally {
		switch {
		case count > bestCount:
			best, bestCount, unique = label, count, true
		case count == bestCount:
			unique = false
		}
	}
	if unique {
		result.WinningOption = &best
		result.ConsensusReached = bestCount == len(votes)
	}
	return result
}

// ShouldStopEarly reports whether enough participants asked to end the
// debate. Votes without an explicit continue_debate count as wanting to
// continue.
func ShouldStopEarly(votes []model.Vote, cfg config.EarlyStopConfig, round, minRounds int) bool {
	if !cfg.Enabled || len(votes) == 0 {
		return false
	}
	if cfg.RespectMinRounds && round < minRounds {
		return false
	}
	stop := 0
	for _, v := range votes {
		if !v.WantsToContinue() {
			stop++
		}
	}
	return float64(stop)/float64(len(votes)) >= cfg.Threshold
}
