package deliberate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shingi-ai/shingi/internal/adapter"
	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/similarity"
	"github.com/shingi-ai/shingi/internal/telemetry"
	"github.com/shingi-ai/shingi/internal/toolexec"
)

// Memory is the graph facade surface the orchestrator needs. It may be
// absent (nil) when the decision graph is disabled.
type Memory interface {
	ContextFor(ctx context.Context, question string) string
	StoreDeliberation(ctx context.Context, question string, result model.DeliberationResult) (string, error)
}

// Request is one deliberation to run. Validation of user input happens at
// the boundary; the orchestrator only clamps the round count.
type Request struct {
	Question         string
	Participants     []string
	Rounds           int
	Mode             model.DeliberationMode
	Context          string
	WorkingDirectory string
}

// Orchestrator drives deliberations end to end.
type Orchestrator struct {
	catalog       *adapter.Catalog
	executor      *toolexec.Executor
	memory        Memory
	backend       similarity.Backend
	cfg           config.DeliberationConfig
	transcriptDir string
	logger        *slog.Logger
}

// NewOrchestrator assembles the orchestrator. memory may be nil.
func NewOrchestrator(catalog *adapter.Catalog, executor *toolexec.Executor, memory Memory,
	backend similarity.Backend, cfg config.DeliberationConfig, transcriptDir string,
	logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		catalog:       catalog,
		executor:      executor,
		memory:        memory,
		backend:       backend,
		cfg:           cfg,
		transcriptDir: transcriptDir,
		logger:        logger,
	}
}

// Deliberate runs the full debate and returns the assembled result.
// Adapter, tool, and memory failures degrade the result; they never fail
// the call. Cancellation is honored between rounds only.
func (o *Orchestrator) Deliberate(ctx context.Context, req Request) (model.DeliberationResult, error) {
	start := time.Now()
	o.executor.ClearHistory()

	rounds := req.Rounds
	if req.Mode == model.ModeQuick {
		rounds = 1
	}
	if rounds < 1 {
		rounds = 1
	}
	if rounds > o.cfg.MaxRounds {
		rounds = o.cfg.MaxRounds
	}

	graphContext := ""
	if o.memory != nil {
		graphContext = o.memory.ContextFor(ctx, req.Question)
	}

	fileTree := ""
	if o.cfg.FileTree.Enabled && req.WorkingDirectory != "" {
		tree, err := o.executor.FileTree(req.WorkingDirectory, o.cfg.FileTree.MaxDepth, o.cfg.FileTree.MaxFiles)
		if err != nil {
			o.logger.Warn("deliberate: file tree injection failed", "error", err)
		} else {
			fileTree = tree
		}
	}

	tracker := NewTracker(o.cfg.Convergence, o.backend)
	var (
		debate       []model.RoundResponse
		latestVotes  = make(map[string]*model.Vote)
		lastInfo     *model.ConvergenceInfo
		hitMaxRounds = true
	)

rounds:
	for round := 1; round <= rounds; round++ {
		if ctx.Err() != nil {
			hitMaxRounds = false
			break
		}

		roundResponses := o.runRound(ctx, req, round, rounds, graphContext, fileTree, debate, latestVotes)
		debate = append(debate, roundResponses...)

		if info := tracker.Observe(ctx, roundResponses); info != nil {
			lastInfo = info
			if tracker.ShouldStop(info, round) {
				o.logger.Info("deliberate: convergence stop", "round", round, "status", info.Status)
				hitMaxRounds = false
				break rounds
			}
		}
		if ShouldStopEarly(votesOf(req.Participants, latestVotes), o.cfg.EarlyStop, round, o.cfg.Convergence.MinRounds) {
			o.logger.Info("deliberate: early stop by vote", "round", round)
			hitMaxRounds = false
			break rounds
		}
	}

	roundsCompleted := len(debate) / max(len(req.Participants), 1)

	voting := AggregateVotes(ctx, votesOf(req.Participants, latestVotes), o.backend, o.cfg.OptionGroupThreshold)
	status := FinalStatus(voting, lastInfo, hitMaxRounds && roundsCompleted >= rounds)

	result := model.DeliberationResult{
		Status:          "complete",
		Mode:            req.Mode,
		RoundsCompleted: roundsCompleted,
		Participants:    req.Participants,
		Summary:         o.summarize(ctx, req, debate, voting),
		FullDebate:      debate,
		Convergence:     lastInfo,
		Voting:          voting,
		ToolExecutions:  o.executor.History(),
	}
	if graphContext != "" {
		result.GraphContextSummary = truncateRunes(graphContext, 500)
	}
	if voting == nil && lastInfo == nil {
		// No signal at all; keep the derived status visible anyway.
		result.Convergence = &model.ConvergenceInfo{Status: status}
	}

	result.TranscriptPath = o.writeTranscript(req, result)

	if o.memory != nil {
		if _, err := o.memory.StoreDeliberation(ctx, req.Question, result); err != nil {
			o.logger.Warn("deliberate: persistence failed", "error", err)
		}
	}

	telemetry.RecordDeliberation(ctx, roundsCompleted)
	o.logger.Info("deliberate: complete",
		"rounds", roundsCompleted,
		"participants", len(req.Participants),
		"status", status,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// runRound invokes every participant in order, executing embedded tool
// requests and collecting votes. A failed adapter leaves an error marker
// in that participant's slot and the round continues.
func (o *Orchestrator) runRound(ctx context.Context, req Request, round, totalRounds int,
	graphContext, fileTree string, debate []model.RoundResponse,
	latestVotes map[string]*model.Vote) []model.RoundResponse {

	responses := make([]model.RoundResponse, 0, len(req.Participants))
	for _, participant := range req.Participants {
		rr := model.RoundResponse{Round: round, Participant: participant}

		prompt := buildPrompt(promptInput{
			Question:     req.Question,
			UserContext:  req.Context,
			GraphContext: graphContext,
			FileTree:     fileTree,
			ToolsEnabled: true,
			Round:        round,
			TotalRounds:  totalRounds,
			Debate:       append(debate, responses...),
			ToolContext:  o.executor.RecentContext(round),
		})

		text, err := o.invoke(ctx, participant, prompt, req.WorkingDirectory)
		if err != nil {
			o.logger.Warn("deliberate: participant failed",
				"participant", participant, "round", round, "error", err)
			rr.Response = fmt.Sprintf("[ERROR: %s unavailable this round: %v]", participant, err)
			rr.Failed = true
			responses = append(responses, rr)
			continue
		}
		rr.Response = text

		for _, toolReq := range toolexec.ParseRequests(text) {
			o.executor.Execute(ctx, round, participant, req.WorkingDirectory, toolReq)
		}
		if vote := ParseVote(text, participant); vote != nil {
			latestVotes[participant] = vote
		}
		responses = append(responses, rr)
	}
	return responses
}

// invoke resolves the participant spec and calls its adapter.
func (o *Orchestrator) invoke(ctx context.Context, participant, prompt, workDir string) (string, error) {
	a, modelName, err := o.catalog.Resolve(participant)
	if err != nil {
		return "", err
	}
	return a.Invoke(ctx, adapter.InvokeRequest{
		Prompt:           prompt,
		Model:            modelName,
		IsDeliberation:   true,
		WorkingDirectory: workDir,
	})
}

// summarize walks the catalog in name order and uses the first adapter
// that answers. With no working summarizer a placeholder derived from the
// voting outcome is returned.
func (o *Orchestrator) summarize(ctx context.Context, req Request, debate []model.RoundResponse, voting *model.VotingResult) string {
	prompt := summaryPrompt(req.Question, debate)
	for _, name := range o.catalog.Names() {
		a, modelName, err := o.catalog.Resolve(name)
		if err != nil {
			continue
		}
		text, err := a.Invoke(ctx, adapter.InvokeRequest{
			Prompt:           prompt,
			Model:            modelName,
			WorkingDirectory: req.WorkingDirectory,
		})
		if err != nil {
			o.logger.Debug("deliberate: summarizer failed", "adapter", name, "error", err)
			continue
		}
		return text
	}

	if voting != nil && voting.WinningOption != nil {
		return fmt.Sprintf("Deliberation on %q concluded; leading option: %q.", req.Question, *voting.WinningOption)
	}
	return fmt.Sprintf("Deliberation on %q concluded without an automatic summary.", req.Question)
}

// votesOf returns the latest vote per participant in participant order,
// keeping option grouping deterministic.
func votesOf(participants []string, m map[string]*model.Vote) []model.Vote {
	out := make([]model.Vote, 0, len(m))
	for _, p := range participants {
		if v, ok := m[p]; ok {
			out = append(out, *v)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
