package services

import (
	"testing"
	"time"

	"github.com/dukex/triggerhub/pkg/engine"
	"github.com/dukex/triggerhub/pkg/mocks"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/persistence/file"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type executionFixture struct {
	service     *Execution
	engine      *engine.Engine
	persistence *file.Persistence
	action      *mocks.MockActionHandler
}

func newExecutionFixture(t *testing.T) *executionFixture {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(createTestLogger())

	action := &mocks.MockActionHandler{NodeType: "core:log"}
	action.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(models.Succeeded(map[string]any{"logged": true}, ""))
	reg.RegisterAction(action)

	eng := engine.New(reg, p.ExecutionRepository(), &mocks.MockTokenAccessor{}, createTestLogger())

	return &executionFixture{
		service:     NewExecution(p, eng, createTestLogger()),
		engine:      eng,
		persistence: p,
		action:      action,
	}
}

// chainWorkflow is trigger -> a -> b.
func (f *executionFixture) chainWorkflow(t *testing.T, status models.WorkflowStatus) *models.Workflow {
	t.Helper()

	wf := &models.Workflow{
		ID:     "wf1",
		Name:   "chain",
		Owner:  "u1",
		Status: status,
		Nodes: []*models.WorkflowNode{
			{ID: "trigger", Type: "webhook:received", IsTrigger: true},
			{ID: "a", Type: "core:log"},
			{ID: "b", Type: "core:log"},
		},
		Connections: []*models.Connection{
			{ID: "c1", Source: "trigger", Target: "a"},
			{ID: "c2", Source: "a", Target: "b"},
		},
	}

	require.NoError(t, f.persistence.WorkflowRepository().Save(t.Context(), wf))

	return wf
}

func TestExecution_Run(t *testing.T) {
	t.Parallel()

	f := newExecutionFixture(t)
	wf := f.chainWorkflow(t, models.WorkflowStatusDraft)

	execution, err := f.service.Run(t.Context(), wf.ID, RunRequest{TriggerData: map[string]any{"id": 1}})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPending, execution.Status)
	assert.Equal(t, "trigger", execution.TriggerNodeID)
	assert.Equal(t, "u1", execution.UserID)

	f.service.Wait()

	status, err := f.service.Status(t.Context(), wf.ID, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionSuccess, status.Execution.Status)
	assert.Equal(t, wf.ID, status.Workflow.ID)
	assert.Equal(t, 100, status.Progress.Percentage)
	assert.ElementsMatch(t, []string{"trigger", "a", "b"}, status.Progress.CompletedNodes)

	executions, err := f.service.List(t.Context(), wf.ID)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestExecution_Run_TriggerSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		nodeID  string
		noTrig  bool
		wantErr error
	}{
		{name: "unknown node", nodeID: "ghost", wantErr: ErrNodeNotFound},
		{name: "action node", nodeID: "a", wantErr: ErrNotTriggerNode},
		{name: "no trigger", noTrig: true, wantErr: ErrTriggerNodeRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newExecutionFixture(t)
			wf := f.chainWorkflow(t, models.WorkflowStatusDraft)

			if tt.noTrig {
				wf.Nodes[0].IsTrigger = false
				require.NoError(t, f.persistence.WorkflowRepository().Save(t.Context(), wf))
			}

			_, err := f.service.Run(t.Context(), wf.ID, RunRequest{TriggerNodeID: tt.nodeID})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	f := newExecutionFixture(t)
	_, err := f.service.Run(t.Context(), "missing", RunRequest{})
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecution_Run_TestModeSimulatesSideEffects(t *testing.T) {
	t.Parallel()

	f := newExecutionFixture(t)
	f.action.Effecting = true
	wf := f.chainWorkflow(t, models.WorkflowStatusDraft)

	execution, err := f.service.Run(t.Context(), wf.ID, RunRequest{TestMode: true})
	require.NoError(t, err)

	f.service.Wait()

	status, err := f.service.Status(t.Context(), wf.ID, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.NodeStatusSimulated, status.Execution.NodeResults["a"].Status)
	f.action.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecution_HandleTrigger(t *testing.T) {
	t.Parallel()

	t.Run("active workflow runs", func(t *testing.T) {
		t.Parallel()

		f := newExecutionFixture(t)
		wf := f.chainWorkflow(t, models.WorkflowStatusActive)

		execution, err := f.service.HandleTrigger(t.Context(), protocol.TriggerEvent{
			WorkflowID: wf.ID,
			NodeID:     "trigger",
			UserID:     "u1",
			Provider:   "webhook",
			Data:       map[string]any{"body": "x"},
		})
		require.NoError(t, err)
		require.NotNil(t, execution)

		assert.Equal(t, models.ExecutionSuccess, execution.Status)
		assert.Equal(t, map[string]any{"body": "x"}, execution.TriggerData)
	})

	dropped := []struct {
		name   string
		status models.WorkflowStatus
		event  func(wf *models.Workflow) protocol.TriggerEvent
	}{
		{
			name:   "paused workflow",
			status: models.WorkflowStatusPaused,
			event: func(wf *models.Workflow) protocol.TriggerEvent {
				return protocol.TriggerEvent{WorkflowID: wf.ID, NodeID: "trigger"}
			},
		},
		{
			name:   "unknown workflow",
			status: models.WorkflowStatusActive,
			event: func(*models.Workflow) protocol.TriggerEvent {
				return protocol.TriggerEvent{WorkflowID: "gone", NodeID: "trigger"}
			},
		},
		{
			name:   "removed node",
			status: models.WorkflowStatusActive,
			event: func(wf *models.Workflow) protocol.TriggerEvent {
				return protocol.TriggerEvent{WorkflowID: wf.ID, NodeID: "old-trigger"}
			},
		},
	}

	for _, tt := range dropped {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newExecutionFixture(t)
			wf := f.chainWorkflow(t, tt.status)

			execution, err := f.service.HandleTrigger(t.Context(), tt.event(wf))
			require.NoError(t, err)
			assert.Nil(t, execution)
			f.action.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func waitForNode(t *testing.T, eng *engine.Engine, executionID, nodeID string) {
	t.Helper()

	require.Eventually(t, func() bool {
		ctrl, ok := eng.Controls().Get(executionID)

		return ok && ctrl.Waiting() == nodeID
	}, 2*time.Second, 5*time.Millisecond)
}

func TestExecution_StepAndStop(t *testing.T) {
	t.Parallel()

	f := newExecutionFixture(t)
	wf := f.chainWorkflow(t, models.WorkflowStatusDraft)

	execution, err := f.service.Run(t.Context(), wf.ID, RunRequest{Step: true})
	require.NoError(t, err)

	waitForNode(t, f.engine, execution.ID, "a")

	err = f.service.Step(t.Context(), wf.ID, execution.ID, "jump")
	assert.True(t, IsValidationError(err))

	require.NoError(t, f.service.Step(t.Context(), wf.ID, execution.ID, StepContinue))
	waitForNode(t, f.engine, execution.ID, "b")

	require.NoError(t, f.service.Stop(t.Context(), wf.ID, execution.ID))
	f.service.Wait()

	status, err := f.service.Status(t.Context(), wf.ID, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCancelled, status.Execution.Status)
	assert.Equal(t, models.NodeStatusSuccess, status.Execution.NodeResults["a"].Status)
	assert.NotContains(t, status.Progress.CompletedNodes, "b")

	err = f.service.Stop(t.Context(), wf.ID, execution.ID)
	assert.ErrorIs(t, err, ErrExecutionFinished)
	assert.True(t, IsConflictError(err))
}

func TestExecution_Status_WrongWorkflow(t *testing.T) {
	t.Parallel()

	f := newExecutionFixture(t)
	wf := f.chainWorkflow(t, models.WorkflowStatusDraft)

	execution, err := f.service.Run(t.Context(), wf.ID, RunRequest{})
	require.NoError(t, err)
	f.service.Wait()

	_, err = f.service.Status(t.Context(), "other", execution.ID)
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = f.service.Status(t.Context(), wf.ID, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}
