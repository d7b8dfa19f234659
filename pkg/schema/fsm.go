package schema

// nodeTransitions enumerates the legal node status transitions. There are
// exactly two paths through a node's life:
//
//	pending -> running -> {completed | failed}
//	pending -> waiting_for_user -> completed
var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodeStatusPending:        {NodeStatusRunning, NodeStatusWaitingForUser},
	NodeStatusRunning:        {NodeStatusCompleted, NodeStatusFailed},
	NodeStatusWaitingForUser: {NodeStatusCompleted},
}

// CanTransition reports whether from -> to is a legal node status transition.
func CanTransition(from, to NodeStatus) bool {
	for _, allowed := range nodeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GuardTransition returns an error when from -> to is not a legal
// transition. The stores call this on every node-state write, so an
// illegal patch surfaces as a programming error instead of silently
// corrupting a run.
func GuardTransition(nodeID string, from, to NodeStatus) error {
	if !CanTransition(from, to) {
		return NewErrorf(ErrCodeInvalidTransition,
			"illegal transition %s -> %s", from, to).WithNode(nodeID)
	}
	return nil
}
