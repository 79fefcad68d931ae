package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/shingi-ai/shingi/internal/deliberate"
	"github.com/shingi-ai/shingi/internal/model"
)

const (
	minQuestionLen  = 10
	minParticipants = 2
	defaultRounds   = 3
)

// deliberateResponse is the wire shape of a deliberate result. FullDebate
// may be truncated to fit the response budget; the flags say so.
type deliberateResponse struct {
	model.DeliberationResult
	FullDebateTruncated bool `json:"full_debate_truncated,omitempty"`
	TotalRounds         int  `json:"total_rounds,omitempty"`
}

func (s *Server) handleDeliberate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	question := strings.TrimSpace(request.GetString("question", ""))
	if len(question) < minQuestionLen {
		return errorResult("validation", fmt.Sprintf("question must be at least %d characters", minQuestionLen)), nil
	}

	participants := request.GetStringSlice("participants", nil)
	if len(participants) < minParticipants {
		return errorResult("validation", fmt.Sprintf("at least %d participants are required", minParticipants)), nil
	}

	workDir := request.GetString("working_directory", "")
	if workDir == "" {
		return errorResult("validation", "working_directory is required"), nil
	}

	rounds := request.GetInt("rounds", defaultRounds)
	if rounds < 1 || rounds > s.cfg.MaxRounds {
		return errorResult("validation", fmt.Sprintf("rounds must be between 1 and %d", s.cfg.MaxRounds)), nil
	}

	mode := model.DeliberationMode(request.GetString("mode", string(model.ModeConference)))
	if mode != model.ModeQuick && mode != model.ModeConference {
		return errorResult("validation", `mode must be "quick" or "conference"`), nil
	}

	result, err := s.orchestrator.Deliberate(ctx, deliberate.Request{
		Question:         question,
		Participants:     participants,
		Rounds:           rounds,
		Mode:             mode,
		Context:          request.GetString("context", ""),
		WorkingDirectory: workDir,
	})
	if err != nil {
		s.logger.Error("mcp: deliberate failed", "error", err)
		return errorResult("deliberation", err.Error()), nil
	}

	return jsonResult(s.fitBudget(result)), nil
}

// fitBudget drops the oldest rounds from full_debate until the rendered
// response fits the byte budget, flagging the truncation.
func (s *Server) fitBudget(result model.DeliberationResult) deliberateResponse {
	resp := deliberateResponse{DeliberationResult: result}
	if size(resp) <= s.cfg.ResponseBudgetBytes || len(result.FullDebate) == 0 {
		return resp
	}

	totalRounds := result.RoundsCompleted
	perRound := len(result.Participants)
	if perRound == 0 {
		perRound = 1
	}

	debate := result.FullDebate
	for len(debate) > perRound && size(resp) > s.cfg.ResponseBudgetBytes {
		debate = debate[perRound:]
		resp.FullDebate = debate
		resp.FullDebateTruncated = true
		resp.TotalRounds = totalRounds
	}
	return resp
}

func size(v deliberateResponse) int {
	n := len(v.Summary) + len(v.GraphContextSummary)
	for _, rr := range v.FullDebate {
		n += len(rr.Response) + len(rr.Participant) + 32
	}
	for _, t := range v.ToolExecutions {
		n += len(t.Output) + len(t.Error) + 64
	}
	return n
}

func (s *Server) handleQueryDecisions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.graph == nil {
		return errorResult("unavailable", "the decision graph is disabled"), nil
	}

	queryText := request.GetString("query_text", "")
	decisionID := request.GetString("decision_id", "")
	contradictions := request.GetBool("find_contradictions", false)

	selectors := 0
	for _, set := range []bool{queryText != "", decisionID != "", contradictions} {
		if set {
			selectors++
		}
	}
	format := request.GetString("format", "full")
	if format == "stats" {
		return jsonResult(s.graph.GraphMetrics(ctx)), nil
	}
	if selectors != 1 {
		return errorResult("validation", "exactly one of query_text, decision_id, find_contradictions is required"), nil
	}

	limit := request.GetInt("limit", 10)

	switch {
	case queryText != "":
		scored, err := s.graph.Similar(ctx, queryText)
		if err != nil {
			return errorResult("query", err.Error()), nil
		}
		if len(scored) > limit {
			scored = scored[:limit]
		}
		return jsonResult(map[string]any{"results": scored, "total": len(scored)}), nil

	case decisionID != "":
		decision, err := s.graph.Lookup(ctx, decisionID, limit)
		if err != nil {
			return errorResult("query", err.Error()), nil
		}
		if decision == nil {
			return errorResult("not_found", fmt.Sprintf("no decision with id %s", decisionID)), nil
		}
		return jsonResult(decision), nil

	default:
		pairs, err := s.graph.FindContradictions(ctx, limit)
		if err != nil {
			return errorResult("query", err.Error()), nil
		}
		return jsonResult(map[string]any{"contradictions": pairs, "total": len(pairs)}), nil
	}
}

func (s *Server) handleListModels(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	infos, err := s.catalog.ListModels(request.GetString("adapter", ""))
	if err != nil {
		return errorResult("validation", err.Error()), nil
	}
	return jsonResult(map[string]any{"adapters": infos}), nil
}

func (s *Server) handleSetSessionModels(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	args := request.GetArguments()
	models, ok := args["models"].(map[string]any)
	if !ok || len(models) == 0 {
		return errorResult("validation", "models must be a non-empty object of adapter: model|null"), nil
	}

	applied := make(map[string]string, len(models))
	for name, raw := range models {
		modelID := ""
		switch v := raw.(type) {
		case nil:
			// clears the override
		case string:
			modelID = v
		default:
			return errorResult("validation", fmt.Sprintf("model for %s must be a string or null", name)), nil
		}
		if err := s.catalog.SetSessionModel(name, modelID); err != nil {
			return errorResult("validation", err.Error()), nil
		}
		applied[name] = modelID
	}

	return jsonResult(map[string]any{"status": "ok", "session_models": applied}), nil
}
