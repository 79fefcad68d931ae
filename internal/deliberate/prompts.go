package deliberate

import (
	"fmt"
	"strings"

	"github.com/shingi-ai/shingi/internal/model"
)

const deliberationInstructions = `You are one participant in a structured multi-model deliberation.
Engage with the other participants' arguments directly. Be concrete,
cite evidence from the project when tools are available, and change your
position when the arguments warrant it.`

const toolInstructions = `You may inspect the project by emitting a tool request on its own line:
TOOL_REQUEST: {"name": "<tool>", "arguments": {...}}
Available tools: read_file(path), search_code(pattern, path?),
list_files(path?), run_command(command) (read-only commands only),
get_file_tree(max_depth?, max_files?). Results appear in the next round.`

const votingInstructions = `End your response with exactly one vote line:
VOTE: {"option": "<your preferred option>", "confidence": <0.0-1.0>, "rationale": "<one sentence>", "continue_debate": <true|false>}
Set continue_debate to false once further rounds would not change your position.`

// promptInput collects everything a round prompt is assembled from.
type promptInput struct {
	Question     string
	UserContext  string
	GraphContext string
	FileTree     string
	ToolsEnabled bool
	Round        int
	TotalRounds  int
	Debate       []model.RoundResponse
	ToolContext  string
}

// buildPrompt assembles the prompt for one participant in one round.
// Round-1 prompts carry the graph context and the file tree; later rounds
// carry the accumulated debate and recent tool results instead.
func buildPrompt(in promptInput) string {
	var b strings.Builder

	b.WriteString(deliberationInstructions)
	b.WriteString("\n\n")
	if in.ToolsEnabled {
		b.WriteString(toolInstructions)
		b.WriteString("\n\n")
	}

	if in.Round == 1 {
		if in.GraphContext != "" {
			b.WriteString(in.GraphContext)
			b.WriteString("\n")
		}
		if in.FileTree != "" {
			b.WriteString("## Project Structure\n")
			b.WriteString(in.FileTree)
			b.WriteString("\n")
		}
	}

	if in.UserContext != "" {
		b.WriteString("## Background\n")
		b.WriteString(in.UserContext)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "## Question (round %d of %d)\n%s\n\n", in.Round, in.TotalRounds, in.Question)

	if len(in.Debate) > 0 {
		b.WriteString("## Debate So Far\n")
		for _, rr := range in.Debate {
			fmt.Fprintf(&b, "\n### Round %d, %s\n%s\n", rr.Round, rr.Participant, rr.Response)
		}
		b.WriteString("\n")
	}

	if in.ToolContext != "" {
		b.WriteString(in.ToolContext)
		b.WriteString("\n")
	}

	b.WriteString(votingInstructions)
	return b.String()
}

// summaryPrompt asks a summarizer model for a neutral recap of the debate.
func summaryPrompt(question string, debate []model.RoundResponse) string {
	var b strings.Builder
	b.WriteString("Summarize the following multi-model deliberation in a short paragraph.\n")
	b.WriteString("State the outcome first, then the strongest arguments on each side.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", question)
	for _, rr := range debate {
		fmt.Fprintf(&b, "\n[Round %d, %s]\n%s\n", rr.Round, rr.Participant, rr.Response)
	}
	return b.String()
}
