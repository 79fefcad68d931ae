// Package toolexec parses and executes tool requests embedded in
// participant responses.
//
// A participant asks for a tool by emitting a line containing the
// TOOL_REQUEST: marker followed by a JSON object. Execution happens in
// the client's working directory under a security policy (path exclusion
// globs, file size cap, command whitelist) and a hard timeout. Failures
// never halt a participant; they come back as failed results.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/model"
)

// Marker introduces a tool request inside a response.
const Marker = "TOOL_REQUEST:"

// ExecTimeout bounds a single tool execution regardless of the tool.
const ExecTimeout = 30 * time.Second

// Request is one parsed tool invocation, as embedded in a response.
type Request struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Result is the outcome of executing one request.
type Result struct {
	Tool   string `json:"tool"`
	Output string `json:"output,omitempty"`
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// toolFunc executes one tool. path resolution happens against workDir.
type toolFunc func(ctx context.Context, workDir string, args map[string]any) (string, error)

// Executor runs tool requests and keeps the per-deliberation history.
type Executor struct {
	cfg    config.ToolConfig
	logger *slog.Logger
	tools  map[string]toolFunc

	mu      sync.Mutex
	history []model.ToolRecord
}

// New creates an executor with the built-in tool set.
func New(cfg config.ToolConfig, logger *slog.Logger) *Executor {
	e := &Executor{cfg: cfg, logger: logger}
	e.tools = map[string]toolFunc{
		"read_file":     e.readFile,
		"search_code":   e.searchCode,
		"list_files":    e.listFiles,
		"run_command":   e.runCommand,
		"get_file_tree": e.fileTree,
	}
	return e
}

// ParseRequests extracts every tool request from a response. Parsing
// starts at the first '{' after each marker and uses a streaming decoder,
// so payloads containing '}' inside strings survive. Malformed requests
// are skipped silently; participants get no parse errors.
func ParseRequests(response string) []Request {
	var requests []Request
	rest := response
	for {
		idx := strings.Index(rest, Marker)
		if idx < 0 {
			return requests
		}
		rest = rest[idx+len(Marker):]

		brace := strings.IndexByte(rest, '{')
		if brace < 0 {
			return requests
		}

		dec := json.NewDecoder(strings.NewReader(rest[brace:]))
		var req Request
		if err := dec.Decode(&req); err != nil || req.Name == "" {
			continue
		}
		requests = append(requests, req)
		// Resume scanning after the decoded object.
		rest = rest[brace+int(dec.InputOffset()):]
	}
}

// Execute runs one request in workDir and records it in the history.
// The returned record mirrors what later prompts will see.
func (e *Executor) Execute(ctx context.Context, round int, requester, workDir string, req Request) model.ToolRecord {
	start := time.Now()
	rec := model.ToolRecord{
		Round:      round,
		Requester:  requester,
		ToolName:   req.Name,
		Arguments:  req.Arguments,
		ExecutedAt: start.UTC(),
	}

	fn, ok := e.tools[req.Name]
	if !ok {
		rec.Failed = true
		rec.Error = fmt.Sprintf("unknown tool %q", req.Name)
	} else {
		execCtx, cancel := context.WithTimeout(ctx, ExecTimeout)
		output, err := fn(execCtx, workDir, req.Arguments)
		cancel()
		if err != nil {
			rec.Failed = true
			rec.Error = err.Error()
		} else {
			rec.Output = output
		}
	}

	rec.DurationMS = time.Since(start).Milliseconds()
	e.logger.Debug("toolexec: executed",
		"tool", req.Name, "requester", requester, "round", round,
		"failed", rec.Failed, "duration_ms", rec.DurationMS)

	e.mu.Lock()
	e.history = append(e.history, rec)
	e.mu.Unlock()
	return rec
}

// ClearHistory resets the history at the start of a deliberation.
func (e *Executor) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}

// History returns a copy of all records for the current deliberation.
func (e *Executor) History() []model.ToolRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.ToolRecord, len(e.history))
	copy(out, e.history)
	return out
}

// RecentContext renders the tool results from the last ContextMaxRounds
// rounds for injection into later prompts, each output clipped to
// OutputMaxChars. Empty when no recent tools ran.
func (e *Executor) RecentContext(currentRound int) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	minRound := currentRound - e.cfg.ContextMaxRounds
	var b strings.Builder
	for _, rec := range e.history {
		if rec.Round <= minRound {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("## Recent Tool Results\n")
		}
		fmt.Fprintf(&b, "\n### %s (round %d, by %s)\n", rec.ToolName, rec.Round, rec.Requester)
		if rec.Failed {
			fmt.Fprintf(&b, "FAILED: %s\n", rec.Error)
			continue
		}
		b.WriteString(clip(rec.Output, e.cfg.OutputMaxChars) + "\n")
	}
	return b.String()
}

// clip truncates s to n runes with an ellipsis marker.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n... (truncated)"
}
