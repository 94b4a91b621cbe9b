package models

import (
	"strings"
	"time"
)

// NodeTypeAIAgent is the node type whose chain of child nodes runs as an
// embedded sub-workflow.
const NodeTypeAIAgent = "ai:agent"

// WorkflowNode is a single trigger or action inside a workflow.
type WorkflowNode struct {
	ID        string         `json:"id"                    validate:"required"`
	Type      string         `json:"type"                  validate:"required"` // "provider:key"
	Name      string         `json:"name"`
	Config    map[string]any `json:"config"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
	IsTrigger bool           `json:"is_trigger"`
	ParentID  *string        `json:"parent_id,omitempty"` // Owning ai:agent node for chain members
	Critical  *bool          `json:"critical,omitempty"`
	Alias     string         `json:"alias,omitempty"`
}

// Provider returns the provider part of the node type tag.
func (n *WorkflowNode) Provider() string {
	provider, _ := SplitNodeType(n.Type)

	return provider
}

// IsAgent reports whether the node owns a chain.
func (n *WorkflowNode) IsAgent() bool {
	return n.Type == NodeTypeAIAgent
}

// SplitNodeType splits a "provider:key" tag.
func SplitNodeType(nodeType string) (provider, key string) {
	provider, key, found := strings.Cut(nodeType, ":")
	if !found {
		return "", nodeType
	}

	return provider, key
}

// Connection is a directed edge between two nodes.
type Connection struct {
	ID           string `json:"id"`
	Source       string `json:"source"                  validate:"required"`
	Target       string `json:"target"                  validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// NodeStatus defines the possible states of a node execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSuccess   NodeStatus = "success"
	NodeStatusError     NodeStatus = "error"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusSimulated NodeStatus = "simulated"
)

// Terminal reports whether the status can no longer change.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusSuccess, NodeStatusError, NodeStatusSkipped, NodeStatusSimulated:
		return true
	default:
		return false
	}
}

// NodeResult is the recorded outcome of one node in one execution.
type NodeResult struct {
	NodeID      string         `json:"node_id"`
	Status      NodeStatus     `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Message     string         `json:"message,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

// ActionResult is the envelope every action handler returns.
type ActionResult struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Failed builds an unsuccessful result.
func Failed(message string) ActionResult {
	return ActionResult{Success: false, Message: message}
}

// Succeeded builds a successful result.
func Succeeded(output map[string]any, message string) ActionResult {
	return ActionResult{Success: true, Output: output, Message: message}
}
