package models

import (
	"slices"
	"time"
)

// ExecutionStatus is the overall state of a workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the execution has finished.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed || s == ExecutionCancelled
}

// Execution is one run of a workflow.
type Execution struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	UserID        string                 `json:"user_id"`
	Status        ExecutionStatus        `json:"status"`
	TriggerNodeID string                 `json:"trigger_node_id"`
	TriggerData   map[string]any         `json:"trigger_data,omitempty"`
	TestMode      bool                   `json:"test_mode"`
	NodeResults   map[string]*NodeResult `json:"node_results"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// RecordResult stores a node result unless the node already reached a
// terminal state.
func (e *Execution) RecordResult(result *NodeResult) bool {
	if e.NodeResults == nil {
		e.NodeResults = make(map[string]*NodeResult)
	}

	if existing, ok := e.NodeResults[result.NodeID]; ok && existing.Status.Terminal() {
		return false
	}

	e.NodeResults[result.NodeID] = result

	return true
}

// ExecutionProgress is the live view of an execution used for UI polling.
type ExecutionProgress struct {
	ExecutionID    string          `json:"execution_id"`
	WorkflowID     string          `json:"workflow_id"`
	Status         ExecutionStatus `json:"status"`
	CurrentNodeID  string          `json:"current_node_id,omitempty"`
	CompletedNodes []string        `json:"completed_nodes"`
	FailedNodes    []string        `json:"failed_nodes"`
	SkippedNodes   []string        `json:"skipped_nodes"`
	Percentage     int             `json:"percentage"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Merge folds a newer snapshot into p. Scalar fields are latest-wins, node
// lists only grow and a node is never listed in two terminal buckets: the
// first terminal state recorded for a node sticks. A terminal execution
// status is never replaced.
func (p *ExecutionProgress) Merge(next *ExecutionProgress) {
	if !p.Status.Terminal() {
		p.Status = next.Status
	}

	if next.CurrentNodeID != "" {
		p.CurrentNodeID = next.CurrentNodeID
	}

	if next.Percentage > p.Percentage {
		p.Percentage = next.Percentage
	}

	if next.UpdatedAt.After(p.UpdatedAt) {
		p.UpdatedAt = next.UpdatedAt
	}

	if p.WorkflowID == "" {
		p.WorkflowID = next.WorkflowID
	}

	for _, id := range next.CompletedNodes {
		if !p.decided(id) {
			p.CompletedNodes = append(p.CompletedNodes, id)
		}
	}

	for _, id := range next.FailedNodes {
		if !p.decided(id) {
			p.FailedNodes = append(p.FailedNodes, id)
		}
	}

	for _, id := range next.SkippedNodes {
		if !p.decided(id) {
			p.SkippedNodes = append(p.SkippedNodes, id)
		}
	}
}

// NodeStatus returns the terminal bucket a node is in, or pending.
func (p *ExecutionProgress) NodeStatus(nodeID string) NodeStatus {
	switch {
	case slices.Contains(p.CompletedNodes, nodeID):
		return NodeStatusSuccess
	case slices.Contains(p.FailedNodes, nodeID):
		return NodeStatusError
	case slices.Contains(p.SkippedNodes, nodeID):
		return NodeStatusSkipped
	default:
		return NodeStatusPending
	}
}

func (p *ExecutionProgress) decided(nodeID string) bool {
	return p.NodeStatus(nodeID) != NodeStatusPending
}
