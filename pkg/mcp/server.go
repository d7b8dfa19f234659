package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/weavehq/weave/internal/engine"
)

// WeaveServer exposes the engine to operator agents over MCP.
type WeaveServer struct {
	engine    *engine.Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewWeaveServer creates a WeaveServer with all tools registered.
func NewWeaveServer(eng *engine.Engine, logger *slog.Logger) *WeaveServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &WeaveServer{engine: eng, logger: logger}

	mcpSrv := server.NewMCPServer(
		"weave",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Weave executes workflow graphs. Use weave.trigger to start a run, weave.status to inspect one, weave.events to read a run's audit log, and weave.complete to finish a node waiting on user input."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *WeaveServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *WeaveServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *WeaveServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: triggerTool(), Handler: s.handleTrigger},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: eventsTool(), Handler: s.handleEvents},
		{Tool: completeTool(), Handler: s.handleComplete},
	}
}

// --- Tool definitions ---

func triggerTool() mcp.Tool {
	return mcp.NewTool("weave.trigger",
		mcp.WithDescription("Start a run of a registered workflow graph"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph to run")),
		mcp.WithObject("payload", mcp.Description("Initial payload delivered to the trigger node")),
		mcp.WithString("entry_edge_id", mcp.Description("Restrict the initial fire to one edge")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("weave.status",
		mcp.WithDescription("Get the current state of a run, including per-node states"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("weave.events",
		mcp.WithDescription("Read a run's audit log"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithNumber("since", mcp.Description("Return events after this sequence number")),
	)
}

func completeTool() mcp.Tool {
	return mcp.NewTool("weave.complete",
		mcp.WithDescription("Complete a node that is waiting for user input"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("ID of the waiting node")),
		mcp.WithObject("payload", mcp.Description("Completion payload; omitted means pass the node input through")),
	)
}
