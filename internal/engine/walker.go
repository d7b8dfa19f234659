package engine

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/weavehq/weave/internal/logging"
	"github.com/weavehq/weave/internal/store"
	"github.com/weavehq/weave/pkg/schema"
)

// workItem is one pending node firing. The walker processes items in
// FIFO order so siblings fire in edge-declaration order before any of
// their descendants.
type workItem struct {
	nodeID string
	input  json.RawMessage
}

// walk drains the work queue. Each firing may append more items; the
// walk ends when the queue is empty, at which point the run is marked
// completed if nothing is still running or waiting.
func (e *Engine) walk(ctx context.Context, g *CompiledGraph, runID string, queue []workItem) error {
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		next, err := e.fire(ctx, g, runID, item)
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}
	return e.finishRun(ctx, runID)
}

// fire executes one node according to its type. It reads fresh state
// before acting: a node no longer pending has already been fired by a
// concurrent or earlier path and is skipped.
func (e *Engine) fire(ctx context.Context, g *CompiledGraph, runID string, item workItem) ([]workItem, error) {
	ctx = logging.WithNodeID(ctx, item.nodeID)

	node, ok := g.Node(item.nodeID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "node %q not in graph", item.nodeID)
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != schema.RunStatusActive {
		return nil, nil
	}
	state, ok := run.NodeStates[item.nodeID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no state for node %q", item.nodeID)
	}
	if state.Status != schema.NodeStatusPending {
		return nil, nil
	}

	if schema.IsInstance(item.nodeID) {
		switch node.Type {
		case schema.NodeTypeWorker, schema.NodeTypeUX:
		default:
			// Structural misconfiguration, not a path failure.
			return nil, e.failRun(ctx, runID,
				"node type "+string(node.Type)+" cannot run as a parallel instance")
		}
	}

	// Fan-in gate: a node with several inbound default edges fires only
	// once all of its sources have completed. Until then the firing is a
	// no-op; the last completing source re-enqueues the node. Instances
	// are fed directly by their predecessor instance, and collectors
	// derive readiness from instance state in collectorGather.
	if node.Type != schema.NodeTypeCollector && !schema.IsInstance(item.nodeID) && !isReady(g, run, item.nodeID) {
		return nil, nil
	}

	switch node.Type {
	case schema.NodeTypeTrigger:
		// Triggers reached mid-walk (not at run start) pass input through.
		return e.completeSync(ctx, g, runID, item.nodeID, item.input, item.input)
	case schema.NodeTypeWorker:
		return e.fireWorker(ctx, g, runID, node, item)
	case schema.NodeTypeUX:
		return e.fireUX(ctx, runID, item)
	case schema.NodeTypeSplitter:
		return e.fireSplitter(ctx, g, runID, node, item)
	case schema.NodeTypeCollector:
		return e.fireCollector(ctx, g, runID, node, item.nodeID)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", node.Type).WithNode(item.nodeID)
	}
}

// isReady reports whether every inbound default-edge source of nodeID
// has completed. Conditional inbound edges do not gate readiness: the
// branch they guard may never be taken.
func isReady(g *CompiledGraph, run *store.Run, nodeID string) bool {
	for _, edge := range g.Incoming(nodeID) {
		if edge.Kind == schema.EdgeKindConditional {
			continue
		}
		state := run.NodeStates[edge.Source]
		if state == nil || state.Status != schema.NodeStatusCompleted {
			return false
		}
	}
	return true
}

// fireTrigger fires an entry trigger with the run's initial payload and
// returns the first wave of work. When only is set, successor selection
// is restricted to that single edge.
func (e *Engine) fireTrigger(ctx context.Context, g *CompiledGraph, runID, nodeID string, payload json.RawMessage, only *schema.EdgeDefinition) ([]workItem, error) {
	ctx = logging.WithNodeID(ctx, nodeID)

	pending := schema.NodeStatusPending
	if _, applied, err := e.store.UpdateNodeState(ctx, runID, nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusRunning,
		ExpectStatus: &pending,
		Input:        payload,
	}); err != nil {
		return nil, err
	} else if !applied {
		return nil, nil
	}
	e.appendEvent(ctx, runID, nodeID, schema.EventNodeFired, nil)

	running := schema.NodeStatusRunning
	run, _, err := e.store.UpdateNodeState(ctx, runID, nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusCompleted,
		ExpectStatus: &running,
		Output:       payload,
	})
	if err != nil {
		return nil, err
	}
	e.appendEvent(ctx, runID, nodeID, schema.EventNodeCompleted, nil)

	return e.successors(ctx, g, run, nodeID, payload, only)
}

// completeSync runs a node that finishes synchronously: running then
// completed in one firing, then its successors.
func (e *Engine) completeSync(ctx context.Context, g *CompiledGraph, runID, nodeID string, input, output json.RawMessage) ([]workItem, error) {
	pending := schema.NodeStatusPending
	if _, applied, err := e.store.UpdateNodeState(ctx, runID, nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusRunning,
		ExpectStatus: &pending,
		Input:        input,
	}); err != nil {
		return nil, err
	} else if !applied {
		return nil, nil
	}
	e.appendEvent(ctx, runID, nodeID, schema.EventNodeFired, nil)

	running := schema.NodeStatusRunning
	run, _, err := e.store.UpdateNodeState(ctx, runID, nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusCompleted,
		ExpectStatus: &running,
		Output:       output,
	})
	if err != nil {
		return nil, err
	}
	e.appendEvent(ctx, runID, nodeID, schema.EventNodeCompleted, nil)

	return e.successors(ctx, g, run, nodeID, output, nil)
}

func (e *Engine) fireWorker(ctx context.Context, g *CompiledGraph, runID string, node *schema.NodeDefinition, item workItem) ([]workItem, error) {
	cfg, err := workerConfig(node)
	if err != nil {
		return nil, e.failRunOnError(ctx, runID, err)
	}

	if cfg.Mode == WorkerModeEcho || (cfg.Mode == "" && cfg.Endpoint == "") {
		// Echo workers complete synchronously with output = input.
		return e.completeSync(ctx, g, runID, item.nodeID, item.input, item.input)
	}

	pending := schema.NodeStatusPending
	if _, applied, err := e.store.UpdateNodeState(ctx, runID, item.nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusRunning,
		ExpectStatus: &pending,
		Input:        item.input,
	}); err != nil {
		return nil, err
	} else if !applied {
		return nil, nil
	}
	e.appendEvent(ctx, runID, item.nodeID, schema.EventNodeFired, map[string]any{"endpoint": cfg.Endpoint})

	timeout, err := ParseTimeout(cfg.Timeout, e.defaultDispatchTimeout)
	if err != nil {
		return nil, e.failNode(ctx, g, runID, item.nodeID, err.Error())
	}

	payload := WorkerPayload{
		RunID:       runID,
		NodeID:      item.nodeID,
		Config:      cfg.Params,
		Input:       item.input,
		CallbackURL: e.CallbackURL(runID, item.nodeID),
	}
	if err := e.dispatcher.Dispatch(ctx, cfg.Endpoint, timeout, payload); err != nil {
		e.appendEvent(ctx, runID, item.nodeID, schema.EventDispatchFailed, map[string]any{"error": err.Error()})
		logging.LogWith(ctx, e.logger).Error("worker dispatch failed", "endpoint", cfg.Endpoint, "error", err)
		return nil, e.failNode(ctx, g, runID, item.nodeID, err.Error())
	}

	logging.LogWith(ctx, e.logger).Info("worker dispatched", "endpoint", cfg.Endpoint)
	// The node stays running until the worker posts its callback.
	return nil, nil
}

func (e *Engine) fireUX(ctx context.Context, runID string, item workItem) ([]workItem, error) {
	pending := schema.NodeStatusPending
	if _, applied, err := e.store.UpdateNodeState(ctx, runID, item.nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusWaitingForUser,
		ExpectStatus: &pending,
		Input:        item.input,
	}); err != nil {
		return nil, err
	} else if !applied {
		return nil, nil
	}
	e.appendEvent(ctx, runID, item.nodeID, schema.EventNodeWaitingForUser, nil)
	logging.LogWith(ctx, e.logger).Info("node waiting for user")
	return nil, nil
}

func (e *Engine) fireSplitter(ctx context.Context, g *CompiledGraph, runID string, node *schema.NodeDefinition, item workItem) ([]workItem, error) {
	cfg, err := splitterConfig(node)
	if err != nil {
		return nil, e.failRunOnError(ctx, runID, err)
	}

	pending := schema.NodeStatusPending
	if _, applied, err := e.store.UpdateNodeState(ctx, runID, item.nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusRunning,
		ExpectStatus: &pending,
		Input:        item.input,
	}); err != nil {
		return nil, err
	} else if !applied {
		return nil, nil
	}
	e.appendEvent(ctx, runID, item.nodeID, schema.EventNodeFired, nil)

	var input any
	if len(item.input) > 0 {
		if err := json.Unmarshal(item.input, &input); err != nil {
			return nil, e.failNode(ctx, g, runID, item.nodeID, "splitter input is not valid JSON: "+err.Error())
		}
	}
	results, err := e.jq.EvaluateAll(ctx, cfg.Items, input)
	if err != nil {
		return nil, e.failNode(ctx, g, runID, item.nodeID, err.Error())
	}

	items, err := splitterItems(results)
	if err != nil {
		return nil, e.failNode(ctx, g, runID, item.nodeID, err.Error())
	}

	output, err := json.Marshal(items)
	if err != nil {
		return nil, e.failNode(ctx, g, runID, item.nodeID, "marshal splitter items: "+err.Error())
	}

	running := schema.NodeStatusRunning
	run, _, err := e.store.UpdateNodeState(ctx, runID, item.nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusCompleted,
		ExpectStatus: &running,
		Output:       output,
	})
	if err != nil {
		return nil, err
	}
	e.appendEvent(ctx, runID, item.nodeID, schema.EventNodeCompleted, map[string]any{"item_count": len(items)})

	var queue []workItem
	for _, edge := range g.Outgoing(item.nodeID) {
		follow, err := e.edgeMatches(ctx, run, edge, output)
		if err != nil {
			return nil, e.failRunOnError(ctx, runID, err)
		}
		if !follow {
			continue
		}

		target, _ := g.Node(edge.Target)
		if target != nil && target.Type == schema.NodeTypeCollector {
			queue = append(queue, workItem{nodeID: edge.Target})
			continue
		}

		if len(items) == 0 {
			// Nothing to fan out. The paired collector completes
			// immediately with an empty array.
			more, err := e.completeEmptyRegion(ctx, g, runID, edge.Target)
			if err != nil {
				return nil, err
			}
			queue = append(queue, more...)
			continue
		}

		for i, it := range items {
			instanceID := schema.InstanceID(edge.Target, i)
			if err := e.store.InitNodeState(ctx, runID, instanceID, &store.NodeState{Status: schema.NodeStatusPending}); err != nil {
				return nil, err
			}
			itemJSON, err := json.Marshal(it)
			if err != nil {
				// The splitter already completed; this is a walk error,
				// not a node failure.
				return nil, e.failRunOnError(ctx, runID,
					schema.NewErrorf(schema.ErrCodeExecution, "marshal splitter item: %s", err.Error()).WithNode(item.nodeID))
			}
			queue = append(queue, workItem{nodeID: instanceID, input: itemJSON})
		}
		e.appendEvent(ctx, runID, item.nodeID, schema.EventInstancesCreated, map[string]any{
			"base":  edge.Target,
			"count": len(items),
		})
	}
	return queue, nil
}

// splitterItems interprets jq results as the fan-out array. A single
// array result fans out per element; anything else is an error.
func splitterItems(results []any) ([]any, error) {
	if len(results) == 1 {
		if arr, ok := results[0].([]any); ok {
			return arr, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"splitter items expression yielded %T, want array", results[0])
	}
	if len(results) == 0 {
		return nil, nil
	}
	// Multiple jq outputs (e.g. `.items[]`) are themselves the items.
	return results, nil
}

// completeEmptyRegion resolves a zero-item fan-out: the collector that
// terminates the region completes directly with an empty array.
func (e *Engine) completeEmptyRegion(ctx context.Context, g *CompiledGraph, runID, from string) ([]workItem, error) {
	collectorID := e.findCollector(g, from)
	if collectorID == "" {
		return nil, nil
	}
	return e.completeSync(ctx, g, runID, collectorID, nil, json.RawMessage("[]"))
}

// findCollector walks forward from a node until it reaches a collector.
func (e *Engine) findCollector(g *CompiledGraph, from string) string {
	seen := map[string]bool{}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := g.Node(id); ok && n.Type == schema.NodeTypeCollector {
			return id
		}
		for _, edge := range g.Outgoing(id) {
			queue = append(queue, edge.Target)
		}
	}
	return ""
}

func (e *Engine) fireCollector(ctx context.Context, g *CompiledGraph, runID string, node *schema.NodeDefinition, nodeID string) ([]workItem, error) {
	cfg, err := collectorConfig(node)
	if err != nil {
		return nil, e.failRunOnError(ctx, runID, err)
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	ready, outputs, failures := collectorGather(g, run, nodeID)
	if !ready {
		return nil, nil
	}

	if len(failures) > 0 && cfg.OnInstanceFailure == schema.CollectorFail {
		pending := schema.NodeStatusPending
		if _, applied, err := e.store.UpdateNodeState(ctx, runID, nodeID, store.NodeStatePatch{
			Status:       schema.NodeStatusRunning,
			ExpectStatus: &pending,
		}); err != nil {
			return nil, err
		} else if !applied {
			return nil, nil
		}
		e.appendEvent(ctx, runID, nodeID, schema.EventNodeFired, nil)
		return nil, e.failNode(ctx, g, runID, nodeID,
			"instance failures: "+strings.Join(failures, "; "))
	}

	merged, err := json.Marshal(outputs)
	if err != nil {
		return nil, e.failRunOnError(ctx, runID,
			schema.NewErrorf(schema.ErrCodeExecution, "marshal collected outputs: %s", err.Error()).WithNode(nodeID))
	}
	return e.completeSync(ctx, g, runID, nodeID, nil, merged)
}

// collectorGather checks whether every parallel instance feeding the
// collector is terminal, and if so assembles their outputs in instance
// index order. Failed instances contribute null and their error strings.
func collectorGather(g *CompiledGraph, run *store.Run, collectorID string) (ready bool, outputs []any, failures []string) {
	outputs = []any{}
	for _, edge := range g.Incoming(collectorID) {
		src := edge.Source

		type instance struct {
			idx   int
			state *store.NodeState
		}
		var instances []instance
		for key, state := range run.NodeStates {
			if !schema.IsInstance(key) || schema.BaseID(key) != src {
				continue
			}
			idx, err := strconv.Atoi(key[strings.LastIndex(key, "_")+1:])
			if err != nil {
				continue
			}
			instances = append(instances, instance{idx: idx, state: state})
		}

		if len(instances) == 0 {
			// Region was never instanced: the source feeds the
			// collector directly.
			state := run.NodeStates[src]
			if state == nil || !state.Status.IsTerminal() {
				return false, nil, nil
			}
			if state.Status == schema.NodeStatusFailed {
				failures = append(failures, src+": "+state.Error)
				outputs = append(outputs, nil)
			} else {
				outputs = append(outputs, unmarshalAny(state.Output))
			}
			continue
		}

		sort.Slice(instances, func(i, j int) bool { return instances[i].idx < instances[j].idx })
		for _, inst := range instances {
			if !inst.state.Status.IsTerminal() {
				return false, nil, nil
			}
			if inst.state.Status == schema.NodeStatusFailed {
				failures = append(failures, schema.InstanceID(src, inst.idx)+": "+inst.state.Error)
				outputs = append(outputs, nil)
			} else {
				outputs = append(outputs, unmarshalAny(inst.state.Output))
			}
		}
	}
	return true, outputs, failures
}

// successors computes the next work items after nodeID completed with
// output. Edges are visited in declaration order; conditional edges are
// evaluated against fresh run state. When only is set, all other edges
// are skipped.
func (e *Engine) successors(ctx context.Context, g *CompiledGraph, run *store.Run, nodeID string, output json.RawMessage, only *schema.EdgeDefinition) ([]workItem, error) {
	var queue []workItem
	instanceIdx, isInstance := instanceIndex(nodeID)

	for _, edge := range g.Outgoing(nodeID) {
		if only != nil && edge.ID != only.ID {
			continue
		}
		follow, err := e.edgeMatches(ctx, run, edge, output)
		if err != nil {
			return nil, e.failRunOnError(ctx, run.ID, err)
		}
		if !follow {
			continue
		}

		target := edge.Target
		targetNode, _ := g.Node(target)
		if isInstance && targetNode != nil && targetNode.Type != schema.NodeTypeCollector {
			// Instances propagate their index down the chain until a
			// collector closes the region.
			target = schema.InstanceID(edge.Target, instanceIdx)
			if err := e.store.InitNodeState(ctx, run.ID, target, &store.NodeState{Status: schema.NodeStatusPending}); err != nil {
				return nil, err
			}
		}
		queue = append(queue, workItem{nodeID: target, input: output})
	}
	return queue, nil
}

func instanceIndex(nodeID string) (int, bool) {
	if !schema.IsInstance(nodeID) {
		return 0, false
	}
	idx, err := strconv.Atoi(nodeID[strings.LastIndex(nodeID, "_")+1:])
	if err != nil {
		return 0, false
	}
	return idx, true
}

// edgeMatches reports whether an edge should be followed. Default edges
// always match; conditional edges evaluate their predicate against the
// source output and run context.
func (e *Engine) edgeMatches(ctx context.Context, run *store.Run, edge *schema.EdgeDefinition, output json.RawMessage) (bool, error) {
	if edge.Kind == "" || edge.Kind == schema.EdgeKindDefault {
		return true, nil
	}
	scope := e.buildScope(ctx, run, output)
	ok, err := e.conditions.EvaluateBool(ctx, edge.Engine, edge.Condition, scope)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"edge %q condition failed: %s", edge.ID, err.Error()).WithCause(err)
	}
	return ok, nil
}

// buildScope assembles the condition evaluation environment.
func (e *Engine) buildScope(ctx context.Context, run *store.Run, output json.RawMessage) map[string]any {
	nodes := make(map[string]any, len(run.NodeStates))
	for id, state := range run.NodeStates {
		if state.Output != nil {
			nodes[id] = unmarshalAny(state.Output)
		}
	}

	scope := map[string]any{
		"output": unmarshalAny(output),
		"nodes":  nodes,
		"run": map[string]any{
			"run_id":    run.ID,
			"graph_id":  run.GraphID,
			"canvas_id": run.CanvasID,
			"trigger":   string(run.Trigger.Type),
			"source":    run.Trigger.Source,
		},
	}

	if run.EntityID != "" {
		if ent, err := e.store.GetEntity(ctx, run.EntityID); err == nil {
			scope["entity"] = map[string]any{
				"id":    ent.ID,
				"name":  ent.Name,
				"email": ent.Email,
				"type":  ent.EntityType,
			}
		}
	}
	return scope
}

func unmarshalAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// failNode marks a running node failed and routes the failure.
func (e *Engine) failNode(ctx context.Context, g *CompiledGraph, runID, nodeID, msg string) error {
	running := schema.NodeStatusRunning
	_, _, err := e.store.UpdateNodeState(ctx, runID, nodeID, store.NodeStatePatch{
		Status:       schema.NodeStatusFailed,
		ExpectStatus: &running,
		Error:        msg,
	})
	if err != nil {
		return err
	}
	e.appendEvent(ctx, runID, nodeID, schema.EventNodeFailed, map[string]any{"error": msg})
	logging.LogWith(ctx, e.logger).Error("node failed", "error", msg)

	return e.handleNodeFailure(ctx, g, runID, nodeID)
}

// handleNodeFailure routes a failed node. An instance failure re-checks
// the region's collector, whose policy decides the outcome. Any other
// failure is terminal for its own path only: sibling branches keep
// walking and finishRun settles the run once everything has drained.
func (e *Engine) handleNodeFailure(ctx context.Context, g *CompiledGraph, runID, nodeID string) error {
	if !schema.IsInstance(nodeID) {
		return nil
	}
	collectorID := e.findCollector(g, schema.BaseID(nodeID))
	if collectorID == "" {
		return e.failRun(ctx, runID, "instance "+nodeID+" failed with no collector")
	}
	node, _ := g.Node(collectorID)
	items, err := e.fireCollector(ctx, g, runID, node, collectorID)
	if err != nil {
		return err
	}
	return e.walk(ctx, g, runID, items)
}

func (e *Engine) failRun(ctx context.Context, runID, reason string) error {
	failed := schema.RunStatusFailed
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &failed}); err != nil {
		return err
	}
	e.appendEvent(ctx, runID, "", schema.EventRunFailed, map[string]any{"reason": reason})
	logging.LogWith(ctx, e.logger).Error("run failed", "reason", reason)
	return nil
}

func (e *Engine) failRunOnError(ctx context.Context, runID string, err error) error {
	if ferr := e.failRun(ctx, runID, err.Error()); ferr != nil {
		return ferr
	}
	return err
}

// finishRun settles the run once nothing is running or waiting: failed
// when any static node failed, completed otherwise. Nodes still pending
// belong to branches that were never reached or never became ready.
// Instance failures are excluded; their collector's policy has already
// judged them.
func (e *Engine) finishRun(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != schema.RunStatusActive {
		return nil
	}
	var failedNodes []string
	for id, state := range run.NodeStates {
		switch state.Status {
		case schema.NodeStatusRunning, schema.NodeStatusWaitingForUser:
			return nil
		case schema.NodeStatusFailed:
			if !schema.IsInstance(id) {
				failedNodes = append(failedNodes, id)
			}
		}
	}
	if len(failedNodes) > 0 {
		sort.Strings(failedNodes)
		return e.failRun(ctx, runID, "node failures: "+strings.Join(failedNodes, ", "))
	}
	completed := schema.RunStatusCompleted
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &completed}); err != nil {
		return err
	}
	e.appendEvent(ctx, runID, "", schema.EventRunCompleted, nil)
	logging.LogWith(ctx, e.logger).Info("run completed")
	return nil
}
