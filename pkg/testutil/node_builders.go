// Package testutil provides workflow builders for tests.
package testutil

import (
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a core:log action node. Overrides run in order.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:        uuid.New().String(),
		Type:      "core:log",
		Name:      "Test Node",
		Config:    map[string]any{"message": "test"},
		PositionX: 100,
		PositionY: 200,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithTrigger turns the node into a top-level trigger of the given type.
func WithTrigger(triggerType string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = triggerType
		n.IsTrigger = true
		n.Config = map[string]any{}
	}
}

func WithConfig(config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config = config
	}
}

func WithType(nodeType string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
	}
}

func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// WithParent places the node in the chain of an ai:agent node.
func WithParent(parentID string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ParentID = &parentID
	}
}

// CreateTestWorkflow creates an empty draft workflow owned by owner.
func CreateTestWorkflow(owner string) *models.Workflow {
	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Status:      models.WorkflowStatusDraft,
		Owner:       owner,
		Variables:   map[string]any{"env": "test"},
		Nodes:       []*models.WorkflowNode{},
		Connections: []*models.Connection{},
	}
}

// CreateTestConnection connects the default ports of two nodes.
func CreateTestConnection(sourceNodeID, targetNodeID string) *models.Connection {
	return &models.Connection{
		ID:     sourceNodeID + "-" + targetNodeID,
		Source: sourceNodeID,
		Target: targetNodeID,
	}
}

// CreateChainWorkflow builds a workflow where each trigger feeds a single
// core:log node with id "log".
func CreateChainWorkflow(owner, triggerType string, triggerIDs ...string) *models.Workflow {
	workflow := CreateTestWorkflow(owner)
	workflow.Nodes = append(workflow.Nodes, CreateTestNode(WithID("log"), WithConfig(map[string]any{"message": "hi"})))

	for _, id := range triggerIDs {
		workflow.Nodes = append(workflow.Nodes, CreateTestNode(WithID(id), WithTrigger(triggerType)))
		workflow.Connections = append(workflow.Connections, CreateTestConnection(id, "log"))
	}

	return workflow
}
