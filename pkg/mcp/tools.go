package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/weavehq/weave/internal/engine"
	"github.com/weavehq/weave/pkg/schema"
)

// handleTrigger starts a run of a registered graph.
func (s *WeaveServer) handleTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	entryEdgeID := req.GetString("entry_edge_id", "")

	var payload json.RawMessage
	if params := mcp.ParseStringMap(req, "payload", nil); params != nil {
		if b, err := json.Marshal(params); err == nil {
			payload = b
		}
	}

	run, runErr := s.engine.StartRun(ctx, engine.StartOptions{
		GraphID:     graphID,
		EntryEdgeID: entryEdgeID,
		Payload:     payload,
		Trigger:     schema.Trigger{Type: schema.TriggerTypeManual},
	})
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", runErr)), nil
	}
	return marshalResult(run)
}

// handleStatus returns the current state of a run.
func (s *WeaveServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, getErr := s.engine.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
	}
	return marshalResult(run)
}

// handleEvents returns a run's audit log.
func (s *WeaveServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	since := int64(req.GetFloat("since", 0))

	events, evErr := s.engine.Events(ctx, runID, since)
	if evErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event query failed: %v", evErr)), nil
	}
	return marshalResult(map[string]any{"run_id": runID, "events": events})
}

// handleComplete finishes a node waiting for user input.
func (s *WeaveServer) handleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}

	var payload json.RawMessage
	if params := mcp.ParseStringMap(req, "payload", nil); params != nil {
		if b, err := json.Marshal(params); err == nil {
			payload = b
		}
	}

	run, compErr := s.engine.CompleteUserNode(ctx, runID, nodeID, payload)
	if compErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("completion failed: %v", compErr)), nil
	}
	return marshalResult(map[string]any{
		"ok":         true,
		"run_id":     run.ID,
		"run_status": run.Status,
	})
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
