// Package mcp implements the Model Context Protocol server for Shingi.
//
// Four tools are exposed over stdio: deliberate runs a multi-round model
// debate, query_decisions searches the decision graph, list_models and
// set_session_models manage the adapter catalog. All tool output is JSON
// text; handler failures come back as {error, error_type, status:
// "failed"} payloads rather than protocol errors.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/shingi-ai/shingi/internal/adapter"
	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/deliberate"
	"github.com/shingi-ai/shingi/internal/graph"
)

// Server wires the orchestrator, the decision graph, and the adapter
// catalog behind the MCP boundary.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	orchestrator *deliberate.Orchestrator
	graph        *graph.Graph
	catalog      *adapter.Catalog
	cfg          config.DeliberationConfig
	logger       *slog.Logger
}

// New creates and configures the MCP server. graph may be nil when the
// decision graph is disabled; query_decisions then reports that.
func New(orchestrator *deliberate.Orchestrator, g *graph.Graph, catalog *adapter.Catalog,
	cfg config.DeliberationConfig, logger *slog.Logger) *Server {
	s := &Server{
		orchestrator: orchestrator,
		graph:        g,
		catalog:      catalog,
		cfg:          cfg,
		logger:       logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"shingi",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the stdio transport until the client hangs up.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("deliberate",
			mcplib.WithDescription("Run a structured multi-round deliberation between several AI models and return the debate, votes, and outcome"),
			mcplib.WithString("question", mcplib.Description("The question to deliberate (at least 10 characters)"), mcplib.Required()),
			mcplib.WithArray("participants", mcplib.Description("Participant specs, e.g. [\"claude@cli\", \"gpt-4o@openai\"] (at least 2)"), mcplib.Required()),
			mcplib.WithNumber("rounds", mcplib.Description("Debate rounds, 1-5 (default 3)")),
			mcplib.WithString("mode", mcplib.Description("\"quick\" (single round) or \"conference\" (default)")),
			mcplib.WithString("context", mcplib.Description("Optional background for the participants")),
			mcplib.WithString("working_directory", mcplib.Description("Project root the participants and tools operate in"), mcplib.Required()),
		),
		s.handleDeliberate,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("query_decisions",
			mcplib.WithDescription("Query past deliberation decisions: semantic search, lookup by id, or contradiction scan"),
			mcplib.WithString("query_text", mcplib.Description("Free-text semantic search over past questions")),
			mcplib.WithString("decision_id", mcplib.Description("Look up one decision with stances and neighbors")),
			mcplib.WithBoolean("find_contradictions", mcplib.Description("Scan for similar decisions with conflicting outcomes")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results (default 10)")),
			mcplib.WithString("format", mcplib.Description("\"full\" (default) or \"stats\" for graph statistics")),
		),
		s.handleQueryDecisions,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_models",
			mcplib.WithDescription("List the configured model backends and their allowed models"),
			mcplib.WithString("adapter", mcplib.Description("Restrict the listing to one backend")),
		),
		s.handleListModels,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("set_session_models",
			mcplib.WithDescription("Override the model used per backend for the rest of the session; null clears an override"),
			mcplib.WithObject("models", mcplib.Description("Map of adapter name to model id (or null to clear)"), mcplib.Required()),
		),
		s.handleSetSessionModels,
	)
}

// errorResult renders the error envelope every tool shares.
func errorResult(errType, msg string) *mcplib.CallToolResult {
	data, _ := json.Marshal(map[string]string{
		"error":      msg,
		"error_type": errType,
		"status":     "failed",
	})
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("internal", fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}},
	}
}
