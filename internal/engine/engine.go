package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weavehq/weave/internal/expressions"
	"github.com/weavehq/weave/internal/logging"
	"github.com/weavehq/weave/internal/store"
	"github.com/weavehq/weave/pkg/schema"
)

// Engine executes workflow runs: it creates them, fires nodes, resumes
// them on worker callbacks and user completions, and walks edges to
// completion. All state lives in the store; the engine itself holds no
// per-run state, so any number of requests may drive the same run.
type Engine struct {
	store      store.Store
	conditions *expressions.Conditions
	jq         *expressions.GoJQEngine
	dispatcher Dispatcher
	logger     *slog.Logger

	// callbackBase is the externally reachable base URL workers post
	// their results back to.
	callbackBase string

	defaultDispatchTimeout time.Duration

	mu     sync.RWMutex
	graphs map[string]*CompiledGraph
}

// Options configures a new Engine.
type Options struct {
	Store           store.Store
	Dispatcher      Dispatcher
	Logger          *slog.Logger
	CallbackBase    string
	DispatchTimeout time.Duration
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "engine requires a store")
	}
	conditions, err := expressions.NewConditions()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DispatchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = NewHTTPDispatcher(timeout)
	}
	return &Engine{
		store:                  opts.Store,
		conditions:             conditions,
		jq:                     expressions.NewGoJQEngine(),
		dispatcher:             dispatcher,
		logger:                 logger,
		callbackBase:           opts.CallbackBase,
		defaultDispatchTimeout: timeout,
		graphs:                 make(map[string]*CompiledGraph),
	}, nil
}

// RegisterGraph validates, compiles, and persists a graph definition.
func (e *Engine) RegisterGraph(ctx context.Context, rec *store.GraphRecord) error {
	raw, err := json.Marshal(rec.Definition)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "marshal graph: %s", err.Error()).WithCause(err)
	}
	if err := schema.ValidateGraphJSON(raw); err != nil {
		return err
	}
	compiled, err := Compile(&rec.Definition)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := e.store.CreateGraph(ctx, rec); err != nil {
		return err
	}
	e.mu.Lock()
	e.graphs[rec.ID] = compiled
	e.mu.Unlock()
	return nil
}

// graph returns the compiled graph for graphID, loading and compiling
// from the store on first use.
func (e *Engine) graph(ctx context.Context, graphID string) (*CompiledGraph, error) {
	e.mu.RLock()
	g, ok := e.graphs[graphID]
	e.mu.RUnlock()
	if ok {
		return g, nil
	}

	rec, err := e.store.GetGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	g, err = Compile(&rec.Definition)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.graphs[graphID] = g
	e.mu.Unlock()
	return g, nil
}

// StartOptions configures a new run.
type StartOptions struct {
	GraphID  string
	EntityID string
	Trigger  schema.Trigger
	// Payload becomes the trigger node's output and flows into the
	// first downstream node.
	Payload json.RawMessage
	// EntryEdgeID, when set, restricts the initial walk to that single
	// edge out of its trigger node. Webhook configs pin their entry here.
	EntryEdgeID string
}

// StartRun creates a run, fires its trigger node(s), and walks the graph
// until it quiesces (completes, fails, or blocks on async work).
func (e *Engine) StartRun(ctx context.Context, opts StartOptions) (*store.Run, error) {
	g, err := e.graph(ctx, opts.GraphID)
	if err != nil {
		return nil, err
	}
	rec, err := e.store.GetGraph(ctx, opts.GraphID)
	if err != nil {
		return nil, err
	}

	entries := g.Entries()
	var restrictEdge *schema.EdgeDefinition
	if opts.EntryEdgeID != "" {
		edge, ok := g.Edge(opts.EntryEdgeID)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown entry edge %q", opts.EntryEdgeID)
		}
		src, _ := g.Node(edge.Source)
		if src == nil || src.Type != schema.NodeTypeTrigger {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "entry edge %q does not leave a trigger node", opts.EntryEdgeID)
		}
		entries = []string{edge.Source}
		restrictEdge = edge
	}
	if len(entries) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph has no trigger node")
	}

	run := &store.Run{
		ID:         uuid.NewString(),
		GraphID:    opts.GraphID,
		CanvasID:   rec.CanvasID,
		EntityID:   opts.EntityID,
		Trigger:    opts.Trigger,
		Status:     schema.RunStatusActive,
		NodeStates: make(map[string]*store.NodeState, len(g.NodeIDs())),
	}
	for _, id := range g.NodeIDs() {
		run.NodeStates[id] = &store.NodeState{Status: schema.NodeStatusPending}
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(ctx, run.ID)
	e.appendEvent(ctx, run.ID, "", schema.EventRunCreated, map[string]any{
		"graph_id": opts.GraphID,
		"trigger":  opts.Trigger,
	})
	logging.LogWith(ctx, e.logger).Info("run created", "graph_id", opts.GraphID, "trigger", opts.Trigger.Type)

	var queue []workItem
	for _, entry := range entries {
		items, err := e.fireTrigger(ctx, g, run.ID, entry, opts.Payload, restrictEdge)
		if err != nil {
			return nil, err
		}
		queue = append(queue, items...)
	}

	if err := e.walk(ctx, g, run.ID, queue); err != nil {
		return nil, err
	}
	return e.store.GetRun(ctx, run.ID)
}

// HandleCallback resumes a run when an async worker reports its result.
// Duplicate deliveries for a node already terminal are acknowledged as
// no-op successes; callbacks for nodes not in running state are rejected.
func (e *Engine) HandleCallback(ctx context.Context, runID, nodeID string, status schema.CallbackStatus, output json.RawMessage) (*store.Run, error) {
	if !status.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid callback status %q", status)
	}
	ctx = logging.WithRunID(logging.WithNodeID(ctx, nodeID), runID)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	g, err := e.graph(ctx, run.GraphID)
	if err != nil {
		return nil, err
	}
	node, ok := g.Node(nodeID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "node %q not in graph", nodeID)
	}
	if node.Type != schema.NodeTypeWorker {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q is not a worker", nodeID)
	}

	target := schema.NodeStatusCompleted
	if status == schema.CallbackFailed {
		target = schema.NodeStatusFailed
	}
	expect := schema.NodeStatusRunning
	patch := store.NodeStatePatch{Status: target, ExpectStatus: &expect}
	if status == schema.CallbackCompleted {
		patch.Output = output
	} else {
		patch.Error = callbackError(output)
	}

	run, applied, err := e.store.UpdateNodeState(ctx, runID, nodeID, patch)
	if err != nil {
		return nil, err
	}
	if !applied {
		current := run.NodeStates[nodeID].Status
		if current.IsTerminal() {
			e.appendEvent(ctx, runID, nodeID, schema.EventCallbackDuplicate, map[string]any{"status": string(status)})
			logging.LogWith(ctx, e.logger).Info("duplicate callback ignored", "status", status)
			return run, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"callback for node in state %s", current).WithNode(nodeID)
	}

	e.appendEvent(ctx, runID, nodeID, schema.EventCallbackReceived, map[string]any{"status": string(status)})

	if status == schema.CallbackFailed {
		e.appendEvent(ctx, runID, nodeID, schema.EventNodeFailed, map[string]any{"error": callbackError(output)})
		if err := e.handleNodeFailure(ctx, g, runID, nodeID); err != nil {
			return nil, err
		}
		// The failed path spawns no successors; settle the run in case
		// this was the last outstanding node.
		if err := e.walk(ctx, g, runID, nil); err != nil {
			return nil, err
		}
		return e.store.GetRun(ctx, runID)
	}

	e.appendEvent(ctx, runID, nodeID, schema.EventNodeCompleted, nil)
	queue, err := e.successors(ctx, g, run, nodeID, output, nil)
	if err != nil {
		return nil, err
	}
	if err := e.walk(ctx, g, runID, queue); err != nil {
		return nil, err
	}
	return e.store.GetRun(ctx, runID)
}

// CompleteUserNode resumes a run when a user finishes a UX node.
// A node already completed is acknowledged as a no-op success.
func (e *Engine) CompleteUserNode(ctx context.Context, runID, nodeID string, payload json.RawMessage) (*store.Run, error) {
	ctx = logging.WithRunID(logging.WithNodeID(ctx, nodeID), runID)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	g, err := e.graph(ctx, run.GraphID)
	if err != nil {
		return nil, err
	}
	node, ok := g.Node(nodeID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "node %q not in graph", nodeID)
	}
	if node.Type != schema.NodeTypeUX {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q is not a ux node", nodeID)
	}

	output := payload
	if len(output) == 0 {
		// A UX node completed without payload passes its input through.
		output = run.NodeStates[nodeID].Input
	}

	expect := schema.NodeStatusWaitingForUser
	run, applied, err := e.store.UpdateNodeState(ctx, runID, nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusCompleted,
		ExpectStatus: &expect,
		Output:       output,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		current := run.NodeStates[nodeID].Status
		if current == schema.NodeStatusCompleted {
			e.appendEvent(ctx, runID, nodeID, schema.EventCallbackDuplicate, nil)
			return run, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"completion for node in state %s", current).WithNode(nodeID)
	}

	e.appendEvent(ctx, runID, nodeID, schema.EventUserCompleted, nil)
	e.appendEvent(ctx, runID, nodeID, schema.EventNodeCompleted, nil)

	queue, err := e.successors(ctx, g, run, nodeID, output, nil)
	if err != nil {
		return nil, err
	}
	if err := e.walk(ctx, g, runID, queue); err != nil {
		return nil, err
	}
	return e.store.GetRun(ctx, runID)
}

// GetRun returns the current state of a run.
func (e *Engine) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	return e.store.GetRun(ctx, runID)
}

// ListRuns lists runs matching the filter.
func (e *Engine) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	return e.store.ListRuns(ctx, filter)
}

// Events returns the audit log of a run after the given sequence number.
func (e *Engine) Events(ctx context.Context, runID string, since int64) ([]*store.Event, error) {
	return e.store.GetEvents(ctx, runID, since)
}

// CallbackURL builds the URL an async worker posts its result to.
func (e *Engine) CallbackURL(runID, nodeID string) string {
	return fmt.Sprintf("%s/callback/%s/%s", e.callbackBase, runID, nodeID)
}

func (e *Engine) appendEvent(ctx context.Context, runID, nodeID, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	err := e.store.AppendEvent(ctx, &store.Event{
		RunID:   runID,
		NodeID:  nodeID,
		Type:    eventType,
		Payload: raw,
	})
	if err != nil {
		logging.LogWith(ctx, e.logger).Error("append event failed", "event_type", eventType, "error", err)
	}
}

func callbackError(output json.RawMessage) string {
	if len(output) == 0 {
		return "worker reported failure"
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(output, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return "worker reported failure"
}
