package deliberate_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shingi-ai/shingi/internal/adapter"
	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/deliberate"
	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/similarity"
	"github.com/shingi-ai/shingi/internal/testutil"
	"github.com/shingi-ai/shingi/internal/toolexec"
)

// fakeAdapter replays scripted responses for deliberation invokes and a
// fixed summary for everything else.
type fakeAdapter struct {
	name    string
	summary string
	err     error

	mu        sync.Mutex
	responses []string
	calls     int
}

func (f *fakeAdapter) Name() string         { return f.name }
func (f *fakeAdapter) Models() []string     { return nil }
func (f *fakeAdapter) DefaultModel() string { return "m" }

func (f *fakeAdapter) Invoke(_ context.Context, req adapter.InvokeRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if !req.IsDeliberation {
		return f.summary, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.responses) == 0 {
		return "no further opinion", nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func (f *fakeAdapter) deliberationCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingMemory captures the graph facade interaction.
type recordingMemory struct {
	contextValue   string
	storedCount    int
	storedQuestion string
	storedResult   model.DeliberationResult
}

func (m *recordingMemory) ContextFor(context.Context, string) string { return m.contextValue }

func (m *recordingMemory) StoreDeliberation(_ context.Context, question string, result model.DeliberationResult) (string, error) {
	m.storedCount++
	m.storedQuestion = question
	m.storedResult = result
	return "node-1", nil
}

func deliberationConfig() config.DeliberationConfig {
	return config.DeliberationConfig{
		MaxRounds:            5,
		OptionGroupThreshold: 0.85,
		Convergence: config.ConvergenceConfig{
			Threshold:       0.85,
			DivergenceFloor: 0.40,
			MinRounds:       2,
			StableRounds:    2,
		},
		EarlyStop: config.EarlyStopConfig{
			Enabled:          true,
			Threshold:        2.0 / 3.0,
			RespectMinRounds: true,
		},
		Tools: config.ToolConfig{
			ContextMaxRounds: 2,
			OutputMaxChars:   1000,
			MaxFileSizeBytes: 1 << 20,
		},
		ResponseBudgetBytes: 100 * 1024,
	}
}

func newOrchestrator(t *testing.T, memory deliberate.Memory, transcriptDir string, fakes ...*fakeAdapter) *deliberate.Orchestrator {
	t.Helper()
	adapters := make([]adapter.Adapter, len(fakes))
	for i, f := range fakes {
		adapters[i] = f
	}
	catalog, err := adapter.NewCatalog(adapters)
	require.NoError(t, err)
	executor := toolexec.New(deliberationConfig().Tools, testutil.Logger())
	return deliberate.NewOrchestrator(catalog, executor, memory, similarity.NewJaccardBackend(),
		deliberationConfig(), transcriptDir, testutil.Logger())
}

func voteLine(option string, confidence float64, continueDebate bool) string {
	return fmt.Sprintf(`VOTE: {"option": %q, "confidence": %.1f, "continue_debate": %t}`, option, confidence, continueDebate)
}

func TestDeliberate_EarlyStopByVotes(t *testing.T) {
	// Distinct responses per round keep semantic convergence out of the
	// picture; the stop comes from the votes alone.
	a := &fakeAdapter{name: "alpha", summary: "they agreed on sqlite", responses: []string{
		"strongly prefer the embedded option\n" + voteLine("sqlite", 0.7, true),
		"unchanged after hearing beta, done debating\n" + voteLine("sqlite", 0.9, false),
	}}
	b := &fakeAdapter{name: "beta", summary: "unused", responses: []string{
		"leaning the same way for operational reasons\n" + voteLine("sqlite", 0.6, true),
		"agreed, nothing more to add here\n" + voteLine("sqlite", 0.8, false),
	}}
	o := newOrchestrator(t, nil, "", a, b)

	result, err := o.Deliberate(context.Background(), deliberate.Request{
		Question:     "should we use sqlite for local state",
		Participants: []string{"alpha", "beta"},
		Rounds:       5,
		Mode:         model.ModeConference,
	})
	require.NoError(t, err)

	assert.Equal(t, "complete", result.Status)
	assert.Equal(t, 2, result.RoundsCompleted)
	assert.Equal(t, 2, a.deliberationCalls(), "no invocations after the stop")
	assert.Equal(t, 2, b.deliberationCalls())
	assert.Len(t, result.FullDebate, 4)

	require.NotNil(t, result.Voting)
	require.NotNil(t, result.Voting.WinningOption)
	assert.Equal(t, "sqlite", *result.Voting.WinningOption)
	assert.True(t, result.Voting.ConsensusReached)
	assert.Equal(t, "they agreed on sqlite", result.Summary)
}

func TestDeliberate_QuickModeIsOneRound(t *testing.T) {
	a := &fakeAdapter{name: "alpha", summary: "quick take"}
	o := newOrchestrator(t, nil, "", a)

	result, err := o.Deliberate(context.Background(), deliberate.Request{
		Question:     "quick sanity check",
		Participants: []string{"alpha"},
		Rounds:       5,
		Mode:         model.ModeQuick,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RoundsCompleted)
	assert.Equal(t, 1, a.deliberationCalls())
}

func TestDeliberate_ConvergenceStop(t *testing.T) {
	// Identical responses every round; the tracker converges after two
	// stable rounds and stops at round 3 of 5.
	same := "the answer is to keep the monolith for now"
	a := &fakeAdapter{name: "alpha", summary: "s", responses: []string{same, same, same, same, same}}
	b := &fakeAdapter{name: "beta", summary: "s", responses: []string{same, same, same, same, same}}
	o := newOrchestrator(t, nil, "", a, b)

	result, err := o.Deliberate(context.Background(), deliberate.Request{
		Question:     "should we split the monolith",
		Participants: []string{"alpha", "beta"},
		Rounds:       5,
		Mode:         model.ModeConference,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.RoundsCompleted)
	require.NotNil(t, result.Convergence)
	assert.Equal(t, model.StatusConverged, result.Convergence.Status)
	assert.Nil(t, result.Voting, "nobody voted")
}

func TestDeliberate_FailedParticipantIsIsolated(t *testing.T) {
	broken := &fakeAdapter{name: "broken", err: fmt.Errorf("connection refused")}
	healthy := &fakeAdapter{name: "healthy", summary: "summary from the healthy one", responses: []string{
		"my position stands\n" + voteLine("option a", 0.8, false),
	}}
	o := newOrchestrator(t, nil, "", broken, healthy)

	result, err := o.Deliberate(context.Background(), deliberate.Request{
		Question:     "does failure isolation hold",
		Participants: []string{"broken", "healthy"},
		Rounds:       1,
		Mode:         model.ModeConference,
	})
	require.NoError(t, err, "adapter failures never fail the deliberation")

	require.Len(t, result.FullDebate, 2)
	assert.True(t, result.FullDebate[0].Failed)
	assert.Contains(t, result.FullDebate[0].Response, "[ERROR: broken unavailable this round:")
	assert.False(t, result.FullDebate[1].Failed)

	// Summarizer walks past the broken adapter.
	assert.Equal(t, "summary from the healthy one", result.Summary)

	require.NotNil(t, result.Voting)
	assert.Len(t, result.Voting.Votes, 1, "only the healthy participant voted")
}

func TestDeliberate_MemoryFlow(t *testing.T) {
	memory := &recordingMemory{contextValue: "## Similar Past Deliberations\nwe picked sqlite before\n"}
	a := &fakeAdapter{name: "alpha", summary: "s", responses: []string{
		"fine\n" + voteLine("sqlite", 0.9, false),
	}}
	o := newOrchestrator(t, memory, "", a)

	result, err := o.Deliberate(context.Background(), deliberate.Request{
		Question:     "should we use sqlite again",
		Participants: []string{"alpha"},
		Rounds:       1,
		Mode:         model.ModeConference,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, memory.storedCount, "outcome persisted once")
	assert.Equal(t, "should we use sqlite again", memory.storedQuestion)
	require.NotNil(t, memory.storedResult.Voting)
	assert.Contains(t, result.GraphContextSummary, "we picked sqlite before")
}

func TestDeliberate_TranscriptWritten(t *testing.T) {
	dir := t.TempDir()
	a := &fakeAdapter{name: "alpha", summary: "the summary", responses: []string{
		"position one\n" + voteLine("yes", 0.9, false),
	}}
	o := newOrchestrator(t, nil, dir, a)

	result, err := o.Deliberate(context.Background(), deliberate.Request{
		Question:     "is the transcript written",
		Participants: []string{"alpha"},
		Rounds:       1,
		Mode:         model.ModeConference,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.TranscriptPath)

	data, err := os.ReadFile(result.TranscriptPath)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# Deliberation: is the transcript written")
	assert.Contains(t, text, "## Votes")
	assert.Contains(t, text, `alpha: "yes"`)
	assert.Contains(t, text, "## Summary")
	assert.Contains(t, text, "position one")
}

func TestDeliberate_RoundsClamped(t *testing.T) {
	a := &fakeAdapter{name: "alpha", summary: "s"}
	o := newOrchestrator(t, nil, "", a)

	// Responses never repeat votes or converge (each reply is the default
	// "no further opinion", which converges; use distinct replies).
	a.responses = []string{
		"first take on the matter",
		"second take with new arguments entirely",
		"third take reversing course completely",
		"fourth take with different framing again",
		"fifth take still exploring the space",
		"sixth take",
		"seventh take",
	}

	result, err := o.Deliberate(context.Background(), deliberate.Request{
		Question:     "how many rounds run",
		Participants: []string{"alpha"},
		Rounds:       99,
		Mode:         model.ModeConference,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, result.RoundsCompleted, "round count clamps to the configured max")
}

func TestDeliberate_ToolRequestsExecuted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/notes.txt", []byte("remember the invariant"), 0o644))

	a := &fakeAdapter{name: "alpha", summary: "s", responses: []string{
		"let me check the notes first\n" +
			`TOOL_REQUEST: {"name": "read_file", "arguments": {"path": "notes.txt"}}` + "\n" +
			voteLine("proceed", 0.8, false),
	}}
	o := newOrchestrator(t, nil, "", a)

	result, err := o.Deliberate(context.Background(), deliberate.Request{
		Question:         "do tools run during rounds",
		Participants:     []string{"alpha"},
		Rounds:           1,
		Mode:             model.ModeConference,
		WorkingDirectory: dir,
	})
	require.NoError(t, err)
	require.Len(t, result.ToolExecutions, 1)
	assert.Equal(t, "read_file", result.ToolExecutions[0].ToolName)
	assert.False(t, result.ToolExecutions[0].Failed)
	assert.Contains(t, result.ToolExecutions[0].Output, "remember the invariant")
}

func TestDeliberate_CancelledBetweenRounds(t *testing.T) {
	a := &fakeAdapter{name: "alpha", summary: "s", responses: []string{
		"round one response entirely unique",
		"round two response also quite different",
	}}
	o := newOrchestrator(t, nil, "", a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Deliberate(ctx, deliberate.Request{
		Question:     "does cancellation stop the debate",
		Participants: []string{"alpha"},
		Rounds:       3,
		Mode:         model.ModeConference,
	})
	require.NoError(t, err)
	assert.Zero(t, result.RoundsCompleted)
	assert.Empty(t, result.FullDebate)
}

func TestDeliberate_SummaryFallbackWithoutSummarizer(t *testing.T) {
	broken := &fakeAdapter{name: "broken", err: fmt.Errorf("down")}
	o := newOrchestrator(t, nil, "", broken)

	result, err := o.Deliberate(context.Background(), deliberate.Request{
		Question:     "what happens with no summarizer",
		Participants: []string{"broken"},
		Rounds:       1,
		Mode:         model.ModeConference,
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(result.Summary, "concluded"))
}
