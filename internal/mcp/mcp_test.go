package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shingi-ai/shingi/internal/adapter"
	"github.com/shingi-ai/shingi/internal/cache"
	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/deliberate"
	"github.com/shingi-ai/shingi/internal/graph"
	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/retrieval"
	"github.com/shingi-ai/shingi/internal/similarity"
	"github.com/shingi-ai/shingi/internal/testutil"
	"github.com/shingi-ai/shingi/internal/toolexec"
)

// fakeAdapter answers every invocation with a fixed voting response.
type fakeAdapter struct {
	name string
}

func (f *fakeAdapter) Name() string         { return f.name }
func (f *fakeAdapter) Models() []string     { return nil }
func (f *fakeAdapter) DefaultModel() string { return "m" }

func (f *fakeAdapter) Invoke(_ context.Context, req adapter.InvokeRequest) (string, error) {
	if !req.IsDeliberation {
		return "the group settled on option a", nil
	}
	return `I agree with option a.
VOTE: {"option": "option a", "confidence": 0.9, "continue_debate": false}`, nil
}

func deliberationConfig() config.DeliberationConfig {
	return config.DeliberationConfig{
		MaxRounds:            5,
		OptionGroupThreshold: 0.85,
		Convergence: config.ConvergenceConfig{
			Threshold: 0.85, DivergenceFloor: 0.40, MinRounds: 2, StableRounds: 2,
		},
		EarlyStop: config.EarlyStopConfig{Enabled: true, Threshold: 2.0 / 3.0, RespectMinRounds: true},
		Tools: config.ToolConfig{
			ContextMaxRounds: 2, OutputMaxChars: 1000, MaxFileSizeBytes: 1 << 20,
		},
		ResponseBudgetBytes: 100 * 1024,
	}
}

func graphConfig() config.GraphConfig {
	return config.GraphConfig{
		Enabled:            true,
		ContextTokenBudget: 2000,
		TierBoundaries:     config.TierBoundaries{Strong: 0.75, Moderate: 0.60},
		QueryWindow:        1000,
		NoiseFloor:         0.40,
		AdaptiveK: config.AdaptiveK{
			SmallThreshold: 100, MediumThreshold: 1000, KSmall: 5, KMedium: 3, KLarge: 2,
		},
	}
}

// newServer wires a server over fake adapters and a real SQLite-backed
// graph. withGraph=false leaves the graph nil, as when disabled.
func newServer(t *testing.T, withGraph bool) (*Server, *graph.Graph) {
	t.Helper()
	catalog, err := adapter.NewCatalog([]adapter.Adapter{
		&fakeAdapter{name: "alpha"}, &fakeAdapter{name: "beta"},
	})
	require.NoError(t, err)

	cfg := deliberationConfig()
	executor := toolexec.New(cfg.Tools, testutil.Logger())
	backend := similarity.NewJaccardBackend()

	var g *graph.Graph
	if withGraph {
		store := testutil.OpenStore(t)
		queries := cache.NewQueryCache(64, time.Minute, &cache.Stats{})
		retriever := retrieval.New(store, backend, queries, graphConfig(), testutil.Logger())
		g = graph.New(store, retriever, backend, nil, &cache.Stats{},
			graphConfig(), config.WorkerConfig{MaxQueueSize: 10, BatchSize: 50, SimilarityThreshold: 0.5},
			testutil.Logger())
	}

	var memory deliberate.Memory
	if g != nil {
		memory = g
	}
	orchestrator := deliberate.NewOrchestrator(catalog, executor, memory, backend, cfg, "", testutil.Logger())
	return New(orchestrator, g, catalog, cfg, testutil.Logger()), g
}

func callRequest(args map[string]any) mcplib.CallToolRequest {
	var req mcplib.CallToolRequest
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, result *mcplib.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func assertErrorType(t *testing.T, result *mcplib.CallToolResult, errType string) {
	t.Helper()
	assert.True(t, result.IsError)
	payload := decodeResult(t, result)
	assert.Equal(t, errType, payload["error_type"])
	assert.Equal(t, "failed", payload["status"])
	assert.NotEmpty(t, payload["error"])
}

func TestHandleDeliberate_Validation(t *testing.T) {
	s, _ := newServer(t, false)
	ctx := context.Background()

	valid := map[string]any{
		"question":          "should we adopt sqlite for local state",
		"participants":      []any{"alpha", "beta"},
		"working_directory": t.TempDir(),
	}
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"short question", func(m map[string]any) { m["question"] = "why" }},
		{"one participant", func(m map[string]any) { m["participants"] = []any{"alpha"} }},
		{"missing working directory", func(m map[string]any) { delete(m, "working_directory") }},
		{"rounds too high", func(m map[string]any) { m["rounds"] = 9 }},
		{"rounds zero", func(m map[string]any) { m["rounds"] = 0 }},
		{"bad mode", func(m map[string]any) { m["mode"] = "tournament" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := make(map[string]any, len(valid))
			for k, v := range valid {
				args[k] = v
			}
			tt.mutate(args)
			result, err := s.handleDeliberate(ctx, callRequest(args))
			require.NoError(t, err, "validation failures are payloads, not protocol errors")
			assertErrorType(t, result, "validation")
		})
	}
}

func TestHandleDeliberate_Success(t *testing.T) {
	s, _ := newServer(t, true)

	result, err := s.handleDeliberate(context.Background(), callRequest(map[string]any{
		"question":          "should we adopt sqlite for local state",
		"participants":      []any{"alpha", "beta"},
		"rounds":            3,
		"working_directory": t.TempDir(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := decodeResult(t, result)
	assert.Equal(t, "complete", payload["status"])
	voting, ok := payload["voting"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "option a", voting["winning_option"])
}

func TestFitBudget_DropsOldestRounds(t *testing.T) {
	s, _ := newServer(t, false)
	s.cfg.ResponseBudgetBytes = 600

	big := strings.Repeat("x", 200)
	result := model.DeliberationResult{
		RoundsCompleted: 3,
		Participants:    []string{"alpha"},
		FullDebate: []model.RoundResponse{
			{Round: 1, Participant: "alpha", Response: "round one " + big},
			{Round: 2, Participant: "alpha", Response: "round two " + big},
			{Round: 3, Participant: "alpha", Response: "round three " + big},
		},
	}

	resp := s.fitBudget(result)
	assert.True(t, resp.FullDebateTruncated)
	assert.Equal(t, 3, resp.TotalRounds)
	require.NotEmpty(t, resp.FullDebate)
	assert.Equal(t, 3, resp.FullDebate[len(resp.FullDebate)-1].Round, "newest round survives")
	assert.NotEqual(t, 1, resp.FullDebate[0].Round, "oldest round dropped first")
}

func TestFitBudget_NoTruncationUnderBudget(t *testing.T) {
	s, _ := newServer(t, false)

	resp := s.fitBudget(testutil.Result([]string{"alpha"}, "yes"))
	assert.False(t, resp.FullDebateTruncated)
	assert.Zero(t, resp.TotalRounds)
}

func TestHandleQueryDecisions_GraphDisabled(t *testing.T) {
	s, _ := newServer(t, false)

	result, err := s.handleQueryDecisions(context.Background(), callRequest(map[string]any{
		"query_text": "anything",
	}))
	require.NoError(t, err)
	assertErrorType(t, result, "unavailable")
}

func TestHandleQueryDecisions_SelectorValidation(t *testing.T) {
	s, _ := newServer(t, true)
	ctx := context.Background()

	result, err := s.handleQueryDecisions(ctx, callRequest(map[string]any{}))
	require.NoError(t, err)
	assertErrorType(t, result, "validation")

	result, err = s.handleQueryDecisions(ctx, callRequest(map[string]any{
		"query_text":  "x",
		"decision_id": "y",
	}))
	require.NoError(t, err)
	assertErrorType(t, result, "validation")
}

func TestHandleQueryDecisions_Flows(t *testing.T) {
	s, g := newServer(t, true)
	ctx := context.Background()

	id, err := g.StoreDeliberation(ctx, "should we adopt sqlite for local state",
		testutil.Result([]string{"alpha"}, "use sqlite"))
	require.NoError(t, err)

	// Semantic search.
	result, err := s.handleQueryDecisions(ctx, callRequest(map[string]any{
		"query_text": "should we adopt sqlite for local state",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload := decodeResult(t, result)
	assert.Equal(t, float64(1), payload["total"])

	// Lookup by id.
	result, err = s.handleQueryDecisions(ctx, callRequest(map[string]any{
		"decision_id": id,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload = decodeResult(t, result)
	node, ok := payload["node"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, id, node["id"])

	// Missing id.
	result, err = s.handleQueryDecisions(ctx, callRequest(map[string]any{
		"decision_id": "no-such-id",
	}))
	require.NoError(t, err)
	assertErrorType(t, result, "not_found")

	// Contradiction scan over an agreeable graph comes back empty.
	result, err = s.handleQueryDecisions(ctx, callRequest(map[string]any{
		"find_contradictions": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload = decodeResult(t, result)
	assert.Equal(t, float64(0), payload["total"])

	// Stats format needs no selector.
	result, err = s.handleQueryDecisions(ctx, callRequest(map[string]any{
		"format": "stats",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload = decodeResult(t, result)
	stats, ok := payload["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), stats["nodes"])
}

func TestHandleListModels(t *testing.T) {
	s, _ := newServer(t, false)

	result, err := s.handleListModels(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload := decodeResult(t, result)
	adapters, ok := payload["adapters"].([]any)
	require.True(t, ok)
	assert.Len(t, adapters, 2)

	result, err = s.handleListModels(context.Background(), callRequest(map[string]any{
		"adapter": "nobody",
	}))
	require.NoError(t, err)
	assertErrorType(t, result, "validation")
}

func TestHandleSetSessionModels(t *testing.T) {
	s, _ := newServer(t, false)
	ctx := context.Background()

	result, err := s.handleSetSessionModels(ctx, callRequest(map[string]any{
		"models": map[string]any{"alpha": "m"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload := decodeResult(t, result)
	assert.Equal(t, "ok", payload["status"])

	// null clears the override.
	result, err = s.handleSetSessionModels(ctx, callRequest(map[string]any{
		"models": map[string]any{"alpha": nil},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	// Missing object.
	result, err = s.handleSetSessionModels(ctx, callRequest(map[string]any{}))
	require.NoError(t, err)
	assertErrorType(t, result, "validation")

	// Non-string value.
	result, err = s.handleSetSessionModels(ctx, callRequest(map[string]any{
		"models": map[string]any{"alpha": 42},
	}))
	require.NoError(t, err)
	assertErrorType(t, result, "validation")

	// Unknown adapter.
	result, err = s.handleSetSessionModels(ctx, callRequest(map[string]any{
		"models": map[string]any{"nobody": "m"},
	}))
	require.NoError(t, err)
	assertErrorType(t, result, "validation")
}
