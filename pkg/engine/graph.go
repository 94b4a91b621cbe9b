package engine

import (
	"slices"

	"github.com/dukex/triggerhub/pkg/models"
)

// CriticalPathPolicy selects the nodes whose failure fails an execution.
type CriticalPathPolicy string

const (
	// CriticalTerminalNodes uses nodes flagged critical, or the reachable
	// nodes without outgoing edges when none are flagged.
	CriticalTerminalNodes CriticalPathPolicy = "terminal"
	// CriticalAllNodes fails the execution on any failed or skipped node.
	CriticalAllNodes CriticalPathPolicy = "all"
)

// graph is the part of a workflow sharing one parent: the top level or the
// chain of one agent node. Edges leaving the scope are ignored.
type graph struct {
	order    []string
	nodes    map[string]*models.WorkflowNode
	inbound  map[string][]string
	outbound map[string][]string
}

func newGraph(wf *models.Workflow, parentID *string) *graph {
	g := &graph{
		nodes:    make(map[string]*models.WorkflowNode),
		inbound:  make(map[string][]string),
		outbound: make(map[string][]string),
	}

	for _, node := range wf.ScopeNodes(parentID) {
		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
	}

	for _, conn := range wf.Connections {
		if g.nodes[conn.Source] == nil || g.nodes[conn.Target] == nil {
			continue
		}

		if !slices.Contains(g.outbound[conn.Source], conn.Target) {
			g.outbound[conn.Source] = append(g.outbound[conn.Source], conn.Target)
			g.inbound[conn.Target] = append(g.inbound[conn.Target], conn.Source)
		}
	}

	return g
}

// roots are the nodes without inbound edges, in declaration order.
func (g *graph) roots() []string {
	var roots []string

	for _, id := range g.order {
		if len(g.inbound[id]) == 0 {
			roots = append(roots, id)
		}
	}

	return roots
}

// reachable returns the nodes reachable from the given starts, starts
// included, in declaration order.
func (g *graph) reachable(starts ...string) []string {
	seen := make(map[string]bool)
	queue := append([]string(nil), starts...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if seen[id] || g.nodes[id] == nil {
			continue
		}

		seen[id] = true
		queue = append(queue, g.outbound[id]...)
	}

	var ids []string

	for _, id := range g.order {
		if seen[id] {
			ids = append(ids, id)
		}
	}

	return ids
}

// critical returns the nodes among reachable whose outcome decides the
// scope's success.
func (g *graph) critical(reachable []string, policy CriticalPathPolicy) []string {
	if policy == CriticalAllNodes {
		return reachable
	}

	var flagged, terminal []string

	for _, id := range reachable {
		node := g.nodes[id]

		if node.Critical != nil && *node.Critical {
			flagged = append(flagged, id)
		}

		if len(g.outbound[id]) == 0 {
			terminal = append(terminal, id)
		}
	}

	if len(flagged) > 0 {
		return flagged
	}

	return terminal
}
