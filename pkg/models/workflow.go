// Package models defines the domain models for trigger-driven workflow automation.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, triggers not registered
	WorkflowStatusActive WorkflowStatus = "active" // Triggers registered, receiving events
	WorkflowStatusPaused WorkflowStatus = "paused" // Triggers deactivated
)

var (
	ErrInvalidConnection = errors.New("connection references unknown node")
	ErrDuplicateNode     = errors.New("duplicate node id")
	ErrInvalidParent     = errors.New("node parent is invalid")
	ErrInvalidNode       = errors.New("node is invalid")
	ErrCyclicGraph       = errors.New("connections form a cycle")
)

// Workflow is a user-owned graph of trigger and action nodes.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"                  validate:"required,min=1"`
	Description string          `json:"description"`
	Owner       string          `json:"owner"                 validate:"required"`
	Status      WorkflowStatus  `json:"status"                validate:"required,oneof=draft active paused"`
	Nodes       []*WorkflowNode `json:"nodes"                 validate:"dive"`
	Connections []*Connection   `json:"connections"           validate:"dive"`
	Variables   map[string]any  `json:"variables"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// Validate checks the structural invariants of the graph. Node ids are unique
// and parents point at existing nodes without cycles. Every connection joins
// two existing nodes, and the connections inside one scope are acyclic.
func (w *Workflow) Validate() error {
	nodes := make(map[string]*WorkflowNode, len(w.Nodes))

	for i, node := range w.Nodes {
		if node == nil {
			return fmt.Errorf("%w: node %d is null", ErrInvalidNode, i)
		}

		if node.ID == "" {
			return fmt.Errorf("%w: empty node id", ErrInvalidNode)
		}

		if _, exists := nodes[node.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
		}

		nodes[node.ID] = node
	}

	for _, node := range w.Nodes {
		seen := map[string]bool{node.ID: true}

		for parent := node.ParentID; parent != nil; {
			owner, ok := nodes[*parent]
			if !ok {
				return fmt.Errorf("%w: node %s has unknown parent %s", ErrInvalidParent, node.ID, *parent)
			}

			if seen[owner.ID] {
				return fmt.Errorf("%w: parent cycle at node %s", ErrInvalidParent, node.ID)
			}

			seen[owner.ID] = true
			parent = owner.ParentID
		}
	}

	for i, conn := range w.Connections {
		if conn == nil {
			return fmt.Errorf("%w: connection %d is null", ErrInvalidConnection, i)
		}

		if _, ok := nodes[conn.Source]; !ok {
			return fmt.Errorf("%w: connection %s source %s", ErrInvalidConnection, conn.ID, conn.Source)
		}

		if _, ok := nodes[conn.Target]; !ok {
			return fmt.Errorf("%w: connection %s target %s", ErrInvalidConnection, conn.ID, conn.Target)
		}
	}

	return w.checkAcyclic(nodes)
}

// checkAcyclic runs Kahn's algorithm over each scope. Connections crossing
// scopes are not edges of either scope.
func (w *Workflow) checkAcyclic(nodes map[string]*WorkflowNode) error {
	indegree := make(map[string]int, len(nodes))
	outbound := make(map[string][]string, len(nodes))
	seen := make(map[[2]string]bool, len(w.Connections))

	for _, conn := range w.Connections {
		edge := [2]string{conn.Source, conn.Target}
		if seen[edge] || !sameParent(nodes[conn.Source].ParentID, nodes[conn.Target].ParentID) {
			continue
		}

		seen[edge] = true
		outbound[conn.Source] = append(outbound[conn.Source], conn.Target)
		indegree[conn.Target]++
	}

	var queue []string

	for _, node := range w.Nodes {
		if indegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	visited := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, target := range outbound[id] {
			indegree[target]--
			if indegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}

	if visited == len(w.Nodes) {
		return nil
	}

	var cyclic []string

	for _, node := range w.Nodes {
		if indegree[node.ID] > 0 {
			cyclic = append(cyclic, node.ID)
		}
	}

	return fmt.Errorf("%w: %s", ErrCyclicGraph, strings.Join(cyclic, ", "))
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// TriggerNodes returns the top-level trigger nodes of the workflow.
func (w *Workflow) TriggerNodes() []*WorkflowNode {
	var triggers []*WorkflowNode

	for _, node := range w.Nodes {
		if node.IsTrigger && node.ParentID == nil {
			triggers = append(triggers, node)
		}
	}

	return triggers
}

// ScopeNodes returns the nodes owned by parentID. A nil parent selects the
// top-level graph.
func (w *Workflow) ScopeNodes(parentID *string) []*WorkflowNode {
	var scoped []*WorkflowNode

	for _, node := range w.Nodes {
		if sameParent(node.ParentID, parentID) {
			scoped = append(scoped, node)
		}
	}

	return scoped
}

// RemoveNode deletes a node, the chain it owns and every connection touching
// them. It reports whether anything was removed.
func (w *Workflow) RemoveNode(id string) bool {
	removed := map[string]bool{id: true}

	for changed := true; changed; {
		changed = false

		for _, node := range w.Nodes {
			if node.ParentID != nil && removed[*node.ParentID] && !removed[node.ID] {
				removed[node.ID] = true
				changed = true
			}
		}
	}

	nodes := w.Nodes[:0]
	found := false

	for _, node := range w.Nodes {
		if removed[node.ID] {
			found = true

			continue
		}

		nodes = append(nodes, node)
	}

	w.Nodes = nodes

	connections := w.Connections[:0]

	for _, conn := range w.Connections {
		if removed[conn.Source] || removed[conn.Target] {
			continue
		}

		connections = append(connections, conn)
	}

	w.Connections = connections

	return found
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() (*Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}

	var clone Workflow
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}

	return &clone, nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}
