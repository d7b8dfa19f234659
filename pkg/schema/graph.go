package schema

import (
	"encoding/json"
	"strconv"
	"strings"
)

// GraphDefinition is the JSON-serializable workflow graph format.
// Immutable once a run references it.
type GraphDefinition struct {
	Nodes    []NodeDefinition `json:"nodes"`
	Edges    []EdgeDefinition `json:"edges"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// NodeDefinition describes a single typed node in a graph.
type NodeDefinition struct {
	ID     string          `json:"id"`
	Type   NodeType        `json:"type"`
	Config json.RawMessage `json:"config,omitempty"` // type-specific config
}

// EdgeDefinition is a directed dependency/data link between two nodes.
type EdgeDefinition struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Kind      EdgeKind `json:"kind,omitempty"`      // default when empty
	Condition string   `json:"condition,omitempty"` // predicate for conditional edges
	Engine    string   `json:"engine,omitempty"`    // expr (default) | cel
}

// NodeType enumerates the kinds of nodes in a graph.
type NodeType string

const (
	NodeTypeWorker    NodeType = "worker"
	NodeTypeUX        NodeType = "ux"
	NodeTypeSplitter  NodeType = "splitter"
	NodeTypeCollector NodeType = "collector"
	NodeTypeTrigger   NodeType = "trigger"
)

// EdgeKind enumerates the kinds of edges.
type EdgeKind string

const (
	EdgeKindDefault     EdgeKind = "default"
	EdgeKindConditional EdgeKind = "conditional"
	EdgeKindSystem      EdgeKind = "system" // visualization only, never drives execution
)

// WorkerConfig is the config block for worker-type nodes.
type WorkerConfig struct {
	Endpoint string          `json:"endpoint,omitempty"` // dispatch URL; empty means echo mode
	Mode     string          `json:"mode,omitempty"`     // async (default) | echo
	Params   json.RawMessage `json:"params,omitempty"`   // forwarded verbatim to the worker
	Timeout  string          `json:"timeout,omitempty"`  // dispatch request timeout
}

// SplitterConfig is the config block for splitter-type nodes.
type SplitterConfig struct {
	Items string `json:"items"` // jq expression selecting the array from upstream output
}

// CollectorConfig is the config block for collector-type nodes.
type CollectorConfig struct {
	OnInstanceFailure string `json:"on_instance_failure,omitempty"` // fail (default) | proceed
}

const (
	// CollectorFail aborts the collector when any instance failed.
	CollectorFail = "fail"
	// CollectorProceed merges partial data, substituting null for failed instances.
	CollectorProceed = "proceed"
)

// instanceSep separates a base node ID from a parallel instance index.
const instanceSep = "_"

// InstanceID returns the node-state key for instance idx of the base node.
func InstanceID(baseID string, idx int) string {
	return baseID + instanceSep + strconv.Itoa(idx)
}

// BaseID returns the base node ID of an instance key, or the key itself
// when it carries no instance suffix.
func BaseID(nodeID string) string {
	i := strings.LastIndex(nodeID, instanceSep)
	if i <= 0 {
		return nodeID
	}
	if _, err := strconv.Atoi(nodeID[i+1:]); err != nil {
		return nodeID
	}
	return nodeID[:i]
}

// IsInstance reports whether nodeID carries a parallel instance suffix.
func IsInstance(nodeID string) bool {
	return BaseID(nodeID) != nodeID
}
