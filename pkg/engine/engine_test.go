package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/persistence/file"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type funcHandler struct {
	nodeType      string
	sideEffecting bool
	calls         atomic.Int32
	fn            func(ctx context.Context, config map[string]any) models.ActionResult
}

func (h *funcHandler) Type() string        { return h.nodeType }
func (h *funcHandler) SideEffecting() bool { return h.sideEffecting }

func (h *funcHandler) Execute(ctx context.Context, config map[string]any, _ protocol.ActionContext) models.ActionResult {
	h.calls.Add(1)

	return h.fn(ctx, config)
}

// echo returns its resolved config as output.
func echo(nodeType string) *funcHandler {
	return &funcHandler{nodeType: nodeType, fn: func(_ context.Context, config map[string]any) models.ActionResult {
		return models.Succeeded(config, "ok")
	}}
}

func failing(nodeType string) *funcHandler {
	return &funcHandler{nodeType: nodeType, fn: func(context.Context, map[string]any) models.ActionResult {
		return models.Failed("remote rejected the call")
	}}
}

type fixture struct {
	engine     *Engine
	executions persistence.ExecutionRepository
	handlers   map[string]*funcHandler
	notifier   *recordingNotifier
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	logger := createTestLogger()
	reg := registry.NewRegistry(logger)

	handlers := map[string]*funcHandler{
		"test:echo": echo("test:echo"),
		"test:fail": failing("test:fail"),
		"test:send": {nodeType: "test:send", sideEffecting: true, fn: func(context.Context, map[string]any) models.ActionResult {
			return models.Succeeded(map[string]any{"sent": true}, "sent")
		}},
		"test:panic": {nodeType: "test:panic", fn: func(context.Context, map[string]any) models.ActionResult {
			panic("boom")
		}},
	}

	for _, h := range handlers {
		reg.RegisterAction(h)
	}

	executions := file.NewPersistence(t.TempDir()).ExecutionRepository()
	notifier := &recordingNotifier{}

	opts = append([]Option{WithNotifier(notifier)}, opts...)

	return &fixture{
		engine:     New(reg, executions, nil, logger, opts...),
		executions: executions,
		handlers:   handlers,
		notifier:   notifier,
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	started  int
	nodes    []string
	finished []models.ExecutionStatus
}

func (n *recordingNotifier) ExecutionStarted(context.Context, *models.Execution) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.started++
}

func (n *recordingNotifier) NodeCompleted(_ context.Context, _ *models.Execution, node *models.WorkflowNode, _ *models.NodeResult) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nodes = append(n.nodes, node.ID)
}

func (n *recordingNotifier) ExecutionFinished(_ context.Context, execution *models.Execution) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.finished = append(n.finished, execution.Status)
}

func node(id, nodeType string, config map[string]any) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Type: nodeType, Config: config}
}

func edge(source, target string) *models.Connection {
	return &models.Connection{ID: source + "-" + target, Source: source, Target: target}
}

func workflow(nodes []*models.WorkflowNode, connections ...*models.Connection) *models.Workflow {
	trigger := &models.WorkflowNode{ID: "trigger", Type: "webhook:received", IsTrigger: true}

	return &models.Workflow{
		ID:          "wf1",
		Name:        "test",
		Owner:       "u1",
		Status:      models.WorkflowStatusActive,
		Nodes:       append([]*models.WorkflowNode{trigger}, nodes...),
		Connections: connections,
		Variables:   map[string]any{"greeting": "hello"},
	}
}

func execute(t *testing.T, f *fixture, wf *models.Workflow, req RunRequest) *models.Execution {
	t.Helper()

	if req.TriggerNodeID == "" {
		req.TriggerNodeID = "trigger"
	}

	execution, err := f.engine.Execute(context.Background(), wf, req)
	require.NoError(t, err)

	return execution
}

func statusOf(execution *models.Execution, id string) models.NodeStatus {
	if result, ok := execution.NodeResults[id]; ok {
		return result.Status
	}

	return models.NodeStatusPending
}

func TestEngine_FailureSkipsOnlyDownstream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	wf := workflow([]*models.WorkflowNode{
		node("A", "test:fail", nil),
		node("B", "test:echo", map[string]any{"to": "{{A.email}}"}),
		node("C", "test:echo", map[string]any{"msg": "{{variables.greeting}} {{trigger.name}}"}),
	}, edge("trigger", "A"), edge("A", "B"), edge("trigger", "C"))

	execution := execute(t, f, wf, RunRequest{TriggerData: map[string]any{"name": "Ada"}})

	assert.Equal(t, models.NodeStatusError, statusOf(execution, "A"))
	assert.Equal(t, models.NodeStatusSkipped, statusOf(execution, "B"))
	assert.Contains(t, execution.NodeResults["B"].Message, "upstream node A")
	assert.Equal(t, models.NodeStatusSuccess, statusOf(execution, "C"))
	assert.Equal(t, "hello Ada", execution.NodeResults["C"].Output["msg"])

	assert.Equal(t, models.ExecutionFailed, execution.Status)
	assert.Contains(t, execution.Error, "B")
	assert.NotContains(t, execution.Error, "C")
	assert.Equal(t, int32(1), f.handlers["test:echo"].calls.Load(), "B must not run")

	progress, err := f.executions.GetProgress(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, progress.Status)
	assert.ElementsMatch(t, []string{"trigger", "C"}, progress.CompletedNodes)
	assert.Equal(t, []string{"A"}, progress.FailedNodes)
	assert.Equal(t, []string{"B"}, progress.SkippedNodes)
	assert.Equal(t, 100, progress.Percentage)
}

func TestEngine_ResolvesUpstreamOutputs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alias := node("A", "test:echo", map[string]any{"email": "{{trigger.email}}", "count": "{{trigger.count}}"})
	alias.Alias = "lookup"

	wf := workflow([]*models.WorkflowNode{
		alias,
		node("B", "test:echo", map[string]any{"to": "{{A.email}}", "n": "{{lookup.count}}", "missing": "{{A.nope}}"}),
		node("island", "test:echo", nil),
	}, edge("trigger", "A"), edge("A", "B"))

	execution := execute(t, f, wf, RunRequest{UserID: "u1", TriggerData: map[string]any{"email": "a@b.c", "count": 3}})

	require.Equal(t, models.ExecutionSuccess, execution.Status, execution.Error)
	assert.Equal(t, "a@b.c", execution.NodeResults["B"].Output["to"])
	assert.Equal(t, json.Number("3"), execution.NodeResults["B"].Output["n"])
	assert.Nil(t, execution.NodeResults["B"].Output["missing"])
	assert.NotContains(t, execution.NodeResults, "island")

	stored, err := f.executions.GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSuccess, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	assert.Equal(t, 1, f.notifier.started)
	assert.ElementsMatch(t, []string{"trigger", "A", "B"}, f.notifier.nodes)
	assert.Equal(t, []models.ExecutionStatus{models.ExecutionSuccess}, f.notifier.finished)
}

func TestEngine_CriticalPath(t *testing.T) {
	t.Parallel()

	critical := true

	tests := []struct {
		name   string
		policy CriticalPathPolicy
		flagC  bool
		want   models.ExecutionStatus
	}{
		{"terminal nodes by default", CriticalTerminalNodes, false, models.ExecutionFailed},
		{"flagged node succeeded", CriticalTerminalNodes, true, models.ExecutionSuccess},
		{"all nodes policy", CriticalAllNodes, true, models.ExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, WithCriticalPathPolicy(tt.policy))
			c := node("C", "test:echo", nil)

			if tt.flagC {
				c.Critical = &critical
			}

			wf := workflow([]*models.WorkflowNode{node("A", "test:fail", nil), c},
				edge("trigger", "A"), edge("trigger", "C"))

			assert.Equal(t, tt.want, execute(t, f, wf, RunRequest{}).Status)
		})
	}
}

func TestEngine_TestModeSimulatesSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	wf := workflow([]*models.WorkflowNode{
		node("send", "test:send", map[string]any{"text": "hi {{trigger.name}}"}),
		node("after", "test:echo", map[string]any{"simulated": "{{send.simulated}}"}),
	}, edge("trigger", "send"), edge("send", "after"))

	execution := execute(t, f, wf, RunRequest{TestMode: true, TriggerData: map[string]any{"name": "Bo"}})

	require.Equal(t, models.ExecutionSuccess, execution.Status)
	assert.Zero(t, f.handlers["test:send"].calls.Load())
	assert.Equal(t, models.NodeStatusSimulated, statusOf(execution, "send"))
	assert.Equal(t, map[string]any{"text": "hi Bo"}, execution.NodeResults["send"].Output["config"])
	assert.Equal(t, true, execution.NodeResults["after"].Output["simulated"])
}

func TestEngine_HandlerErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	wf := workflow([]*models.WorkflowNode{
		node("p", "test:panic", nil),
		node("u", "nobody:home", nil),
	}, edge("trigger", "p"), edge("trigger", "u"))

	execution := execute(t, f, wf, RunRequest{})

	assert.Equal(t, models.NodeStatusError, statusOf(execution, "p"))
	assert.Contains(t, execution.NodeResults["p"].Message, "panicked")
	assert.Equal(t, models.NodeStatusError, statusOf(execution, "u"))
	assert.Contains(t, execution.NodeResults["u"].Message, "no handler")
	assert.Equal(t, models.ExecutionFailed, execution.Status)
}

func TestEngine_UnknownTriggerNode(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.engine.Execute(context.Background(), workflow(nil), RunRequest{TriggerNodeID: "ghost"})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestEngine_CycleSkipsStalledNodes(t *testing.T) {
	t.Parallel()

	for _, policy := range []CriticalPathPolicy{CriticalTerminalNodes, CriticalAllNodes} {
		t.Run(string(policy), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, WithCriticalPathPolicy(policy))
			wf := workflow([]*models.WorkflowNode{
				node("a", "test:echo", nil),
				node("b", "test:echo", nil),
			}, edge("trigger", "a"), edge("a", "b"), edge("b", "a"))

			execution := execute(t, f, wf, RunRequest{})

			assert.Equal(t, models.ExecutionFailed, execution.Status)
			assert.Equal(t, models.NodeStatusSkipped, statusOf(execution, "a"))
			assert.Equal(t, models.NodeStatusSkipped, statusOf(execution, "b"))
			assert.Contains(t, execution.NodeResults["a"].Message, "cycle")
			assert.Zero(t, f.handlers["test:echo"].calls.Load())

			progress, err := f.executions.GetProgress(context.Background(), execution.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{"trigger"}, progress.CompletedNodes)
			assert.ElementsMatch(t, []string{"a", "b"}, progress.SkippedNodes)
			assert.Equal(t, 100, progress.Percentage)
		})
	}
}

func TestEngine_AgentChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	agentID := "agent"

	chainA := node("x", "test:echo", map[string]any{"value": "{{trigger.topic}}"})
	chainA.ParentID = &agentID
	chainB := node("y", "test:echo", map[string]any{"value": "{{x.value}}!"})
	chainB.ParentID = &agentID

	wf := workflow([]*models.WorkflowNode{
		node(agentID, models.NodeTypeAIAgent, nil),
		chainA,
		chainB,
		node("after", "test:echo", map[string]any{"summary": "{{agent.chain.y.value}}"}),
	}, edge("trigger", agentID), edge("x", "y"), edge(agentID, "after"))

	execution := execute(t, f, wf, RunRequest{TriggerData: map[string]any{"topic": "go"}})

	require.Equal(t, models.ExecutionSuccess, execution.Status, execution.Error)
	assert.Equal(t, models.NodeStatusSuccess, statusOf(execution, "x"))
	assert.Equal(t, models.NodeStatusSuccess, statusOf(execution, "y"))
	assert.Equal(t, "go!", execution.NodeResults["after"].Output["summary"])

	chain := execution.NodeResults[agentID].Output["chain"].(map[string]any)
	assert.Len(t, chain, 2)
}

func TestEngine_AgentChainFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	agentID := "agent"

	broken := node("x", "test:fail", nil)
	broken.ParentID = &agentID

	wf := workflow([]*models.WorkflowNode{
		node(agentID, models.NodeTypeAIAgent, nil),
		broken,
		node("after", "test:echo", nil),
	}, edge("trigger", agentID), edge(agentID, "after"))

	execution := execute(t, f, wf, RunRequest{})

	assert.Equal(t, models.NodeStatusError, statusOf(execution, agentID))
	assert.Equal(t, models.NodeStatusSkipped, statusOf(execution, "after"))
	assert.Equal(t, models.ExecutionFailed, execution.Status)
}

func waitFor(t *testing.T, ctrl *StepController, nodeID string) {
	t.Helper()

	require.Eventually(t, func() bool { return ctrl.Waiting() == nodeID }, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_StepMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	wf := workflow([]*models.WorkflowNode{
		node("A", "test:echo", nil),
		node("B", "test:echo", nil),
		node("C", "test:echo", nil),
	}, edge("trigger", "A"), edge("A", "B"), edge("trigger", "C"))

	ctrl := NewStepController(true)
	done := make(chan *models.Execution, 1)

	go func() {
		execution, err := f.engine.Execute(context.Background(), wf, RunRequest{
			ExecutionID: "ex-step", TriggerNodeID: "trigger", Step: ctrl,
		})
		assert.NoError(t, err)
		done <- execution
	}()

	waitFor(t, ctrl, "A")

	_, ok := f.engine.Controls().Get("ex-step")
	assert.True(t, ok)

	progress, err := f.executions.GetProgress(context.Background(), "ex-step")
	require.NoError(t, err)
	assert.Equal(t, []string{"trigger"}, progress.CompletedNodes)

	require.NoError(t, ctrl.Continue())
	waitFor(t, ctrl, "C")
	require.NoError(t, ctrl.Skip())
	waitFor(t, ctrl, "B")
	ctrl.Resume()

	execution := <-done

	assert.Equal(t, models.NodeStatusSuccess, statusOf(execution, "A"))
	assert.Equal(t, models.NodeStatusSkipped, statusOf(execution, "C"))
	assert.Equal(t, models.NodeStatusSuccess, statusOf(execution, "B"))
	assert.Equal(t, models.ExecutionFailed, execution.Status, "a skipped terminal node fails the run")

	_, ok = f.engine.Controls().Get("ex-step")
	assert.False(t, ok)
	assert.ErrorIs(t, ctrl.Continue(), ErrStopped)
}

func TestEngine_StopCancels(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	wf := workflow([]*models.WorkflowNode{
		node("A", "test:echo", nil),
		node("B", "test:echo", nil),
	}, edge("trigger", "A"), edge("A", "B"))

	ctrl := NewStepController(true)
	done := make(chan *models.Execution, 1)

	go func() {
		execution, err := f.engine.Execute(context.Background(), wf, RunRequest{TriggerNodeID: "trigger", Step: ctrl})
		assert.NoError(t, err)
		done <- execution
	}()

	waitFor(t, ctrl, "A")
	require.NoError(t, ctrl.Continue())
	waitFor(t, ctrl, "B")
	ctrl.Stop()

	execution := <-done

	assert.Equal(t, models.ExecutionCancelled, execution.Status)
	assert.Equal(t, models.NodeStatusSuccess, statusOf(execution, "A"))
	assert.Equal(t, models.NodeStatusPending, statusOf(execution, "B"))
	assert.Equal(t, int32(1), f.handlers["test:echo"].calls.Load())
}

func TestEngine_StopDiscardsInFlightResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctrl := NewStepController(false)
	release := make(chan struct{})

	slow := &funcHandler{nodeType: "test:slow", fn: func(context.Context, map[string]any) models.ActionResult {
		<-release

		return models.Succeeded(map[string]any{"late": true}, "done")
	}}
	f.engine.registry.RegisterAction(slow)

	wf := workflow([]*models.WorkflowNode{node("S", "test:slow", nil)}, edge("trigger", "S"))
	done := make(chan *models.Execution, 1)

	go func() {
		execution, err := f.engine.Execute(context.Background(), wf, RunRequest{TriggerNodeID: "trigger", Step: ctrl})
		assert.NoError(t, err)
		done <- execution
	}()

	require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	ctrl.Stop()
	close(release)

	execution := <-done

	assert.Equal(t, models.ExecutionCancelled, execution.Status)
	assert.NotContains(t, execution.NodeResults, "S")
}
