package engine

import (
	"encoding/json"

	"github.com/weavehq/weave/pkg/schema"
)

// CompiledGraph is a validated, indexed view of a GraphDefinition.
// Adjacency preserves edge declaration order, which is the order the
// walker visits outgoing edges in.
type CompiledGraph struct {
	def      *schema.GraphDefinition
	nodes    map[string]*schema.NodeDefinition
	outgoing map[string][]*schema.EdgeDefinition
	incoming map[string][]*schema.EdgeDefinition
	entries  []string // trigger node IDs in declaration order
}

// Compile validates a graph definition and builds the adjacency indexes.
// System edges are excluded from execution adjacency: they exist for
// visualization only.
func Compile(def *schema.GraphDefinition) (*CompiledGraph, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph has no nodes")
	}

	g := &CompiledGraph{
		def:      def,
		nodes:    make(map[string]*schema.NodeDefinition, len(def.Nodes)),
		outgoing: make(map[string][]*schema.EdgeDefinition),
		incoming: make(map[string][]*schema.EdgeDefinition),
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "node with empty id")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", n.ID)
		}
		switch n.Type {
		case schema.NodeTypeWorker, schema.NodeTypeUX, schema.NodeTypeSplitter,
			schema.NodeTypeCollector, schema.NodeTypeTrigger:
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", n.Type).WithNode(n.ID)
		}
		if err := validateNodeConfig(n); err != nil {
			return nil, err
		}
		g.nodes[n.ID] = n
		if n.Type == schema.NodeTypeTrigger {
			g.entries = append(g.entries, n.ID)
		}
	}

	edgeIDs := make(map[string]bool, len(def.Edges))
	for i := range def.Edges {
		e := &def.Edges[i]
		if e.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s->%s has empty id", e.Source, e.Target)
		}
		if edgeIDs[e.ID] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate edge id %q", e.ID)
		}
		edgeIDs[e.ID] = true
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %q references unknown source %q", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %q references unknown target %q", e.ID, e.Target)
		}
		switch e.Kind {
		case "", schema.EdgeKindDefault, schema.EdgeKindConditional, schema.EdgeKindSystem:
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %q has unknown kind %q", e.ID, e.Kind)
		}
		if e.Kind == schema.EdgeKindConditional && e.Condition == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "conditional edge %q has no condition", e.ID)
		}
		if e.Kind == schema.EdgeKindSystem {
			continue
		}
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

func validateNodeConfig(n *schema.NodeDefinition) error {
	switch n.Type {
	case schema.NodeTypeSplitter:
		cfg, err := splitterConfig(n)
		if err != nil {
			return err
		}
		if cfg.Items == "" {
			return schema.NewError(schema.ErrCodeValidation, "splitter requires an items expression").WithNode(n.ID)
		}
	case schema.NodeTypeCollector:
		cfg, err := collectorConfig(n)
		if err != nil {
			return err
		}
		switch cfg.OnInstanceFailure {
		case "", schema.CollectorFail, schema.CollectorProceed:
		default:
			return schema.NewErrorf(schema.ErrCodeValidation,
				"unknown on_instance_failure %q", cfg.OnInstanceFailure).WithNode(n.ID)
		}
	case schema.NodeTypeWorker:
		cfg, err := workerConfig(n)
		if err != nil {
			return err
		}
		switch cfg.Mode {
		case "", WorkerModeAsync, WorkerModeEcho:
		default:
			return schema.NewErrorf(schema.ErrCodeValidation, "unknown worker mode %q", cfg.Mode).WithNode(n.ID)
		}
		if (cfg.Mode == "" || cfg.Mode == WorkerModeAsync) && cfg.Endpoint == "" {
			return schema.NewError(schema.ErrCodeValidation, "async worker requires an endpoint").WithNode(n.ID)
		}
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the execution edges.
func (g *CompiledGraph) checkAcyclic() error {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.incoming[id])
	}

	var queue []string
	for _, n := range g.def.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, e := range g.outgoing[id] {
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if visited != len(g.nodes) {
		var stuck []string
		for id, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		return schema.NewError(schema.ErrCodeCycleDetected, "graph contains a cycle").
			WithDetails(map[string]any{"nodes": stuck})
	}
	return nil
}

// Node returns the definition for a node ID. Instance IDs resolve to
// their base node.
func (g *CompiledGraph) Node(nodeID string) (*schema.NodeDefinition, bool) {
	n, ok := g.nodes[nodeID]
	if !ok {
		n, ok = g.nodes[schema.BaseID(nodeID)]
	}
	return n, ok
}

// Outgoing returns the execution edges leaving a node, in declaration order.
func (g *CompiledGraph) Outgoing(nodeID string) []*schema.EdgeDefinition {
	return g.outgoing[schema.BaseID(nodeID)]
}

// Incoming returns the execution edges entering a node, in declaration order.
func (g *CompiledGraph) Incoming(nodeID string) []*schema.EdgeDefinition {
	return g.incoming[schema.BaseID(nodeID)]
}

// Entries returns the trigger node IDs in declaration order.
func (g *CompiledGraph) Entries() []string {
	return g.entries
}

// Edge returns the edge with the given ID, searching execution and
// system edges alike.
func (g *CompiledGraph) Edge(edgeID string) (*schema.EdgeDefinition, bool) {
	for i := range g.def.Edges {
		if g.def.Edges[i].ID == edgeID {
			return &g.def.Edges[i], true
		}
	}
	return nil, false
}

// NodeIDs returns all node IDs in declaration order.
func (g *CompiledGraph) NodeIDs() []string {
	ids := make([]string, 0, len(g.def.Nodes))
	for _, n := range g.def.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Worker modes.
const (
	WorkerModeAsync = "async"
	WorkerModeEcho  = "echo"
)

func workerConfig(n *schema.NodeDefinition) (*schema.WorkerConfig, error) {
	cfg := &schema.WorkerConfig{}
	if err := parseConfig(n, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitterConfig(n *schema.NodeDefinition) (*schema.SplitterConfig, error) {
	cfg := &schema.SplitterConfig{}
	if err := parseConfig(n, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func collectorConfig(n *schema.NodeDefinition) (*schema.CollectorConfig, error) {
	cfg := &schema.CollectorConfig{}
	if err := parseConfig(n, cfg); err != nil {
		return nil, err
	}
	if cfg.OnInstanceFailure == "" {
		cfg.OnInstanceFailure = schema.CollectorFail
	}
	return cfg, nil
}

func parseConfig(n *schema.NodeDefinition, out any) error {
	if len(n.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Config, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid %s config: %s", n.Type, err.Error()).WithNode(n.ID).WithCause(err)
	}
	return nil
}
