package deliberate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shingi-ai/shingi/internal/model"
)

// writeTranscript renders the deliberation as markdown under the
// transcript directory and returns the file path. Best effort: any
// failure is logged and yields an empty path.
func (o *Orchestrator) writeTranscript(req Request, result model.DeliberationResult) string {
	if o.transcriptDir == "" {
		return ""
	}
	if err := os.MkdirAll(o.transcriptDir, 0o755); err != nil {
		o.logger.Warn("deliberate: create transcript dir", "dir", o.transcriptDir, "error", err)
		return ""
	}

	name := fmt.Sprintf("%s-%s.md", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(o.transcriptDir, name)

	if err := os.WriteFile(path, []byte(renderTranscript(req, result)), 0o644); err != nil {
		o.logger.Warn("deliberate: write transcript", "path", path, "error", err)
		return ""
	}
	return path
}

// renderTranscript produces the markdown body of a transcript.
func renderTranscript(req Request, result model.DeliberationResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Deliberation: %s\n\n", req.Question)
	fmt.Fprintf(&b, "- Date: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Mode: %s\n", result.Mode)
	fmt.Fprintf(&b, "- Participants: %s\n", strings.Join(result.Participants, ", "))
	fmt.Fprintf(&b, "- Rounds completed: %d\n", result.RoundsCompleted)
	if result.Convergence != nil {
		fmt.Fprintf(&b, "- Convergence: %s (min %.2f, avg %.2f)\n",
			result.Convergence.Status, result.Convergence.MinSimilarity, result.Convergence.AvgSimilarity)
	}

	if result.Voting != nil {
		b.WriteString("\n## Votes\n")
		for _, v := range result.Voting.Votes {
			fmt.Fprintf(&b, "- %s: %q (confidence %.2f)", v.Participant, v.Option, v.Confidence)
			if v.Rationale != "" {
				fmt.Fprintf(&b, ", %s", v.Rationale)
			}
			b.WriteString("\n")
		}
		if result.Voting.WinningOption != nil {
			fmt.Fprintf(&b, "\nWinning option: %q\n", *result.Voting.WinningOption)
		}
	}

	b.WriteString("\n## Summary\n")
	b.WriteString(result.Summary)
	b.WriteString("\n")

	currentRound := 0
	for _, rr := range result.FullDebate {
		if rr.Round != currentRound {
			currentRound = rr.Round
			fmt.Fprintf(&b, "\n## Round %d\n", currentRound)
		}
		fmt.Fprintf(&b, "\n### %s\n\n%s\n", rr.Participant, rr.Response)
	}

	if len(result.ToolExecutions) > 0 {
		b.WriteString("\n## Tool Executions\n")
		for _, t := range result.ToolExecutions {
			status := "ok"
			if t.Failed {
				status = "failed: " + t.Error
			}
			fmt.Fprintf(&b, "- round %d, %s: %s (%s, %dms)\n",
				t.Round, t.Requester, t.ToolName, status, t.DurationMS)
		}
	}

	return b.String()
}
