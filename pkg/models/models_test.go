package models

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func strPtr(s string) *string { return &s }

func testWorkflow() *Workflow {
	return &Workflow{
		ID:     "wf-1",
		Name:   "Ticket triage",
		Owner:  "user-1",
		Status: WorkflowStatusDraft,
		Nodes: []*WorkflowNode{
			{ID: "trigger", Type: "hubspot:ticket_created", IsTrigger: true},
			{ID: "agent", Type: NodeTypeAIAgent},
			{ID: "chain-a", Type: "core:transform", ParentID: strPtr("agent")},
			{ID: "notify", Type: "slack:send_message"},
		},
		Connections: []*Connection{
			{ID: "c1", Source: "trigger", Target: "agent"},
			{ID: "c2", Source: "agent", Target: "notify"},
		},
	}
}

func TestWorkflow_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(w *Workflow)
		wantErr error
	}{
		{name: "valid", mutate: func(*Workflow) {}},
		{
			name: "unknown target",
			mutate: func(w *Workflow) {
				w.Connections = append(w.Connections, &Connection{ID: "c3", Source: "notify", Target: "ghost"})
			},
			wantErr: ErrInvalidConnection,
		},
		{
			name: "duplicate node",
			mutate: func(w *Workflow) {
				w.Nodes = append(w.Nodes, &WorkflowNode{ID: "notify", Type: "core:log"})
			},
			wantErr: ErrDuplicateNode,
		},
		{
			name: "unknown parent",
			mutate: func(w *Workflow) {
				w.Nodes[2].ParentID = strPtr("missing")
			},
			wantErr: ErrInvalidParent,
		},
		{
			name: "parent cycle",
			mutate: func(w *Workflow) {
				w.Nodes[1].ParentID = strPtr("chain-a")
			},
			wantErr: ErrInvalidParent,
		},
		{
			name: "null connection",
			mutate: func(w *Workflow) {
				w.Connections = append(w.Connections, nil)
			},
			wantErr: ErrInvalidConnection,
		},
		{
			name: "null node",
			mutate: func(w *Workflow) {
				w.Nodes = append(w.Nodes, nil)
			},
			wantErr: ErrInvalidNode,
		},
		{
			name: "empty node id",
			mutate: func(w *Workflow) {
				w.Nodes[3].ID = ""
			},
			wantErr: ErrInvalidNode,
		},
		{
			name: "connection cycle",
			mutate: func(w *Workflow) {
				w.Nodes = append(w.Nodes, &WorkflowNode{ID: "a", Type: "core:log"}, &WorkflowNode{ID: "b", Type: "core:log"})
				w.Connections = append(w.Connections,
					&Connection{ID: "c3", Source: "trigger", Target: "a"},
					&Connection{ID: "c4", Source: "a", Target: "b"},
					&Connection{ID: "c5", Source: "b", Target: "a"},
				)
			},
			wantErr: ErrCyclicGraph,
		},
		{
			name: "self loop",
			mutate: func(w *Workflow) {
				w.Connections = append(w.Connections, &Connection{ID: "c3", Source: "notify", Target: "notify"})
			},
			wantErr: ErrCyclicGraph,
		},
		{
			name: "cycle inside chain",
			mutate: func(w *Workflow) {
				w.Nodes = append(w.Nodes, &WorkflowNode{ID: "chain-b", Type: "core:log", ParentID: strPtr("agent")})
				w.Connections = append(w.Connections,
					&Connection{ID: "c3", Source: "chain-a", Target: "chain-b"},
					&Connection{ID: "c4", Source: "chain-b", Target: "chain-a"},
				)
			},
			wantErr: ErrCyclicGraph,
		},
		{
			name: "edges across scopes are ignored",
			mutate: func(w *Workflow) {
				w.Connections = append(w.Connections,
					&Connection{ID: "c3", Source: "notify", Target: "chain-a"},
					&Connection{ID: "c4", Source: "chain-a", Target: "notify"},
				)
			},
		},
		{
			name: "duplicate edge",
			mutate: func(w *Workflow) {
				w.Connections = append(w.Connections, &Connection{ID: "c3", Source: "agent", Target: "notify"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wf := testWorkflow()
			tt.mutate(wf)

			err := wf.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestWorkflow_ValidateStruct(t *testing.T) {
	t.Parallel()

	validate := validator.New()

	wf := testWorkflow()
	require.NoError(t, validate.Struct(wf))

	wf.Status = "published"
	assert.Error(t, validate.Struct(wf))
}

func TestWorkflow_ScopeNodes(t *testing.T) {
	t.Parallel()

	wf := testWorkflow()

	top := wf.ScopeNodes(nil)
	assert.Len(t, top, 3)

	chain := wf.ScopeNodes(strPtr("agent"))
	require.Len(t, chain, 1)
	assert.Equal(t, "chain-a", chain[0].ID)

	triggers := wf.TriggerNodes()
	require.Len(t, triggers, 1)
	assert.Equal(t, "trigger", triggers[0].ID)
}

func TestWorkflow_RemoveNodeCascadesChain(t *testing.T) {
	t.Parallel()

	wf := testWorkflow()

	assert.True(t, wf.RemoveNode("agent"))
	assert.Nil(t, wf.NodeByID("agent"))
	assert.Nil(t, wf.NodeByID("chain-a"))
	assert.Empty(t, wf.Connections)
	assert.False(t, wf.RemoveNode("agent"))
}

func TestWorkflow_Clone(t *testing.T) {
	t.Parallel()

	wf := testWorkflow()
	clone, err := wf.Clone()
	require.NoError(t, err)

	clone.Nodes[0].Config = map[string]any{"x": 1}
	assert.Nil(t, wf.Nodes[0].Config)
	assert.Equal(t, wf.Name, clone.Name)
}

func TestSplitNodeType(t *testing.T) {
	t.Parallel()

	provider, key := SplitNodeType("hubspot:ticket_created")
	assert.Equal(t, "hubspot", provider)
	assert.Equal(t, "ticket_created", key)

	provider, key = SplitNodeType("plain")
	assert.Empty(t, provider)
	assert.Equal(t, "plain", key)
}

func TestExecutionProgress_MergeIsMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Now()
	progress := &ExecutionProgress{
		ExecutionID:    "exec-1",
		Status:         ExecutionRunning,
		CompletedNodes: []string{"a"},
		Percentage:     50,
		UpdatedAt:      now,
	}

	progress.Merge(&ExecutionProgress{
		Status:       ExecutionRunning,
		FailedNodes:  []string{"a", "b"},
		SkippedNodes: []string{"c"},
		Percentage:   40,
		UpdatedAt:    now.Add(time.Second),
	})

	assert.Equal(t, []string{"a"}, progress.CompletedNodes)
	assert.Equal(t, []string{"b"}, progress.FailedNodes)
	assert.Equal(t, []string{"c"}, progress.SkippedNodes)
	assert.Equal(t, 50, progress.Percentage)
	assert.Equal(t, NodeStatusSuccess, progress.NodeStatus("a"))

	progress.Merge(&ExecutionProgress{Status: ExecutionCancelled})
	progress.Merge(&ExecutionProgress{Status: ExecutionRunning})
	assert.Equal(t, ExecutionCancelled, progress.Status)
}

func TestExecution_RecordResultKeepsTerminal(t *testing.T) {
	t.Parallel()

	exec := &Execution{ID: "exec-1"}

	assert.True(t, exec.RecordResult(&NodeResult{NodeID: "a", Status: NodeStatusRunning}))
	assert.True(t, exec.RecordResult(&NodeResult{NodeID: "a", Status: NodeStatusSuccess}))
	assert.False(t, exec.RecordResult(&NodeResult{NodeID: "a", Status: NodeStatusError}))
	assert.Equal(t, NodeStatusSuccess, exec.NodeResults["a"].Status)
}

func TestIntegration_SetTokenKeepsRefreshToken(t *testing.T) {
	t.Parallel()

	integration := &Integration{AccessToken: "old", RefreshToken: "refresh"}
	integration.SetToken(&oauth2.Token{AccessToken: "new", Expiry: time.Now().Add(time.Hour)})

	assert.Equal(t, "new", integration.AccessToken)
	assert.Equal(t, "refresh", integration.RefreshToken)
	assert.Equal(t, IntegrationConnected, integration.Status)
	assert.True(t, integration.Token().Valid())
}
