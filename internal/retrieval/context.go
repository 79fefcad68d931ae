package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/shingi-ai/shingi/internal/model"
)

// TierDistribution counts how many results landed in each detail tier.
type TierDistribution struct {
	Strong   int `json:"strong"`
	Moderate int `json:"moderate"`
	Brief    int `json:"brief"`
}

// Total returns the number of formatted results.
func (d TierDistribution) Total() int { return d.Strong + d.Moderate + d.Brief }

// estimateTokens approximates token count as characters over four. Crude
// but stable across models, and only used to bound context size.
func estimateTokens(s string) int { return len(s) / 4 }

// FormatTiered renders scored nodes as a markdown context block, best
// first. Detail scales with score: strong matches include participant
// stances, moderate matches the outcome, and the rest a single line.
// Scores below the noise floor are excluded outright, whatever the
// caller passed in. Rendering stops before the block that would exceed
// the token budget. Returns the block and the tier distribution of what
// was included.
func (r *Retriever) FormatTiered(ctx context.Context, scored []model.ScoredNode) (string, TierDistribution) {
	var dist TierDistribution
	if len(scored) == 0 {
		return "", dist
	}

	var b strings.Builder
	b.WriteString("## Similar Past Deliberations\n")
	budget := r.cfg.ContextTokenBudget
	used := estimateTokens(b.String())

	for _, sn := range scored {
		if sn.Score < r.cfg.NoiseFloor {
			continue
		}
		var block string
		var tier *int
		switch {
		case sn.Score >= r.cfg.TierBoundaries.Strong:
			block = r.formatStrong(ctx, sn)
			tier = &dist.Strong
		case sn.Score >= r.cfg.TierBoundaries.Moderate:
			block = formatModerate(sn)
			tier = &dist.Moderate
		default:
			block = formatBrief(sn)
			tier = &dist.Brief
		}

		cost := estimateTokens(block)
		if used+cost > budget {
			break
		}
		b.WriteString(block)
		used += cost
		*tier++
	}

	if dist.Total() == 0 {
		return "", dist
	}
	return b.String(), dist
}

// formatStrong renders a high-confidence match with full detail,
// including per-participant stances when they load cleanly.
func (r *Retriever) formatStrong(ctx context.Context, sn model.ScoredNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n### %s (similarity %.2f)\n", sn.Node.Question, sn.Score)
	fmt.Fprintf(&b, "- Decided: %s\n", sn.Node.Timestamp.Format("2006-01-02"))
	fmt.Fprintf(&b, "- Outcome: %s\n", outcomeLine(sn.Node))
	fmt.Fprintf(&b, "- Participants: %s\n", strings.Join(sn.Node.Participants, ", "))

	stances, err := r.store.ListStances(ctx, sn.Node.ID)
	if err != nil {
		r.logger.Warn("retrieval: load stances for context", "id", sn.Node.ID, "error", err)
		return b.String()
	}
	for _, s := range stances {
		line := fmt.Sprintf("  - %s", s.Participant)
		if s.VoteOption != nil {
			line += fmt.Sprintf(" voted %q", *s.VoteOption)
		}
		if s.Confidence != nil {
			line += fmt.Sprintf(" (confidence %.2f)", *s.Confidence)
		}
		if s.FinalPosition != "" {
			line += ": " + s.FinalPosition
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// formatModerate renders the outcome without stance detail.
func formatModerate(sn model.ScoredNode) string {
	return fmt.Sprintf("\n### %s (similarity %.2f)\n- Outcome: %s\n",
		sn.Node.Question, sn.Score, outcomeLine(sn.Node))
}

// formatBrief renders a one-line mention.
func formatBrief(sn model.ScoredNode) string {
	return fmt.Sprintf("\n- %s (similarity %.2f): %s\n",
		sn.Node.Question, sn.Score, outcomeLine(sn.Node))
}

func outcomeLine(n model.DecisionNode) string {
	if n.WinningOption != nil && *n.WinningOption != "" {
		return fmt.Sprintf("%q (%s)", *n.WinningOption, n.ConvergenceStatus)
	}
	if n.Consensus != "" {
		return n.Consensus
	}
	return string(n.ConvergenceStatus)
}
