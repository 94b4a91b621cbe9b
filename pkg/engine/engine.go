// Package engine runs workflow executions: it walks the node graph from the
// trigger, resolves node configuration against earlier outputs and invokes
// the registered action handlers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/otelhelper"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/registry"
	"github.com/dukex/triggerhub/pkg/template"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 4

var ErrNodeNotFound = errors.New("trigger node not found")

// Notifier receives execution lifecycle callbacks.
type Notifier interface {
	ExecutionStarted(ctx context.Context, execution *models.Execution)
	NodeCompleted(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, result *models.NodeResult)
	ExecutionFinished(ctx context.Context, execution *models.Execution)
}

type noopNotifier struct{}

func (noopNotifier) ExecutionStarted(context.Context, *models.Execution) {}

func (noopNotifier) NodeCompleted(context.Context, *models.Execution, *models.WorkflowNode, *models.NodeResult) {
}

func (noopNotifier) ExecutionFinished(context.Context, *models.Execution) {}

type Engine struct {
	registry    *registry.Registry
	executions  persistence.ExecutionRepository
	tokens      protocol.TokenAccessor
	notifier    Notifier
	tracer      trace.Tracer
	logger      *slog.Logger
	policy      CriticalPathPolicy
	parallelism int
	controls    *Controls
}

type Option func(*Engine)

func WithNotifier(notifier Notifier) Option {
	return func(e *Engine) { e.notifier = notifier }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithCriticalPathPolicy(policy CriticalPathPolicy) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithParallelism bounds how many nodes of one wave run at once.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

func New(
	reg *registry.Registry,
	executions persistence.ExecutionRepository,
	tokens protocol.TokenAccessor,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		registry:    reg,
		executions:  executions,
		tokens:      tokens,
		notifier:    noopNotifier{},
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "engine"),
		policy:      CriticalTerminalNodes,
		parallelism: defaultParallelism,
		controls:    NewControls(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Controls exposes the controllers of running executions.
func (e *Engine) Controls() *Controls {
	return e.controls
}

// RunRequest starts an execution at TriggerNodeID with TriggerData as the
// trigger output.
type RunRequest struct {
	ExecutionID   string
	TriggerNodeID string
	TriggerData   map[string]any
	UserID        string
	TestMode      bool
	// Step drives the run node by node; nil runs freely.
	Step *StepController
}

// Execute runs the workflow to completion, stop or cancellation. Node
// failures are recorded on the execution and never returned as errors.
func (e *Engine) Execute(ctx context.Context, wf *models.Workflow, req RunRequest) (*models.Execution, error) {
	trigger := wf.NodeByID(req.TriggerNodeID)
	if trigger == nil || trigger.ParentID != nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, req.TriggerNodeID)
	}

	id := req.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}

	ctrl := req.Step
	if ctrl == nil {
		ctrl = NewStepController(false)
	}

	e.controls.register(id, ctrl)
	defer e.controls.remove(id)
	defer ctrl.Stop()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.run",
		attribute.String(otelhelper.WorkflowIDKey, wf.ID),
		attribute.String(otelhelper.ExecutionIDKey, id),
		attribute.Bool(otelhelper.TestModeKey, req.TestMode))
	defer span.End()

	triggerData := req.TriggerData
	if triggerData == nil {
		triggerData = map[string]any{}
	}

	r := &run{
		engine: e,
		wf:     wf,
		ctrl:   ctrl,
		logger: e.logger.With("workflow_id", wf.ID, "execution_id", id),
		execution: &models.Execution{
			ID:            id,
			WorkflowID:    wf.ID,
			UserID:        req.UserID,
			Status:        models.ExecutionRunning,
			TriggerNodeID: trigger.ID,
			TriggerData:   triggerData,
			TestMode:      req.TestMode,
			NodeResults:   make(map[string]*models.NodeResult),
			StartedAt:     time.Now().UTC(),
		},
		scope: map[string]any{
			"trigger":   triggerData,
			"variables": wf.Variables,
		},
		statuses: make(map[string]models.NodeStatus),
		stalled:  make(map[string]bool),
	}

	top := newGraph(wf, nil)
	reachable := top.reachable(trigger.ID)
	r.total = r.countNodes(top, reachable)

	if err := r.save(ctx); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.notifier.ExecutionStarted(ctx, r.execution)
	r.logger.InfoContext(ctx, "Execution started", "trigger_node_id", trigger.ID, "test_mode", req.TestMode)

	now := time.Now().UTC()
	r.record(ctx, trigger, &models.NodeResult{
		NodeID:      trigger.ID,
		Status:      models.NodeStatusSuccess,
		Output:      triggerData,
		StartedAt:   now,
		CompletedAt: &now,
	})

	r.runScope(ctx, top, reachable)
	r.finish(ctx, top, reachable)

	span.SetAttributes(attribute.String("triggerhub.execution.status", string(r.execution.Status)))

	if r.execution.Status == models.ExecutionFailed {
		otelhelper.SetFailure(span, r.execution.Error)
	}

	return r.execution, nil
}

// run is the state of one execution.
type run struct {
	engine *Engine
	wf     *models.Workflow
	ctrl   *StepController
	logger *slog.Logger
	total  int

	mu        sync.Mutex
	execution *models.Execution
	scope     map[string]any
	statuses  map[string]models.NodeStatus
	stalled   map[string]bool
	current   string
}

func (r *run) halted(ctx context.Context) bool {
	return r.ctrl.Stopped() || ctx.Err() != nil
}

func (r *run) countNodes(g *graph, reachable []string) int {
	n := len(reachable)

	for _, id := range reachable {
		if g.nodes[id].IsAgent() {
			chain := newGraph(r.wf, &id)
			n += r.countNodes(chain, chain.reachable(chain.roots()...))
		}
	}

	return n
}

func (r *run) status(id string) (models.NodeStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.statuses[id]

	return status, ok
}

// runScope executes the reachable nodes of g in waves. A node is eligible
// once every reachable source feeding it has a terminal status.
func (r *run) runScope(ctx context.Context, g *graph, reachable []string) {
	inScope := make(map[string]bool, len(reachable))
	for _, id := range reachable {
		inScope[id] = true
	}

	for !r.halted(ctx) {
		var runnable []*models.WorkflowNode

		progressed := false

		for _, id := range reachable {
			if _, done := r.status(id); done {
				continue
			}

			ready, blockedBy := r.inputs(g, id, inScope)
			if !ready {
				continue
			}

			if blockedBy != "" {
				r.record(ctx, g.nodes[id], skippedResult(id, fmt.Sprintf("upstream node %s did not succeed", blockedBy)))

				progressed = true

				continue
			}

			runnable = append(runnable, g.nodes[id])
		}

		if len(runnable) == 0 {
			if progressed {
				continue
			}

			r.skipStalled(ctx, g, reachable)

			return
		}

		limit := r.engine.parallelism
		if r.ctrl.Paused() {
			limit = 1
		}

		var group errgroup.Group

		group.SetLimit(limit)

		for _, node := range runnable {
			group.Go(func() error {
				r.step(ctx, node)

				return nil
			})
		}

		_ = group.Wait()
	}
}

// skipStalled marks the reachable nodes that never became eligible, which
// only happens when their inputs form a cycle. Stalled nodes fail the scope
// under every critical-path policy.
func (r *run) skipStalled(ctx context.Context, g *graph, reachable []string) {
	for _, id := range reachable {
		if _, done := r.status(id); done {
			continue
		}

		r.mu.Lock()
		r.stalled[id] = true
		r.mu.Unlock()

		r.logger.WarnContext(ctx, "Node inputs never resolved", "node_id", id)
		r.record(ctx, g.nodes[id], skippedResult(id, "inputs never resolved, connections form a cycle"))
	}
}

// inputs reports whether every source of id is decided and names the first
// one that did not succeed.
func (r *run) inputs(g *graph, id string, inScope map[string]bool) (bool, string) {
	blockedBy := ""

	for _, source := range g.inbound[id] {
		if !inScope[source] {
			continue
		}

		status, done := r.status(source)
		if !done {
			return false, ""
		}

		if blockedBy == "" && status != models.NodeStatusSuccess && status != models.NodeStatusSimulated {
			blockedBy = source
		}
	}

	return true, blockedBy
}

func (r *run) step(ctx context.Context, node *models.WorkflowNode) {
	switch r.ctrl.await(ctx, node.ID) {
	case StepStop:
		r.ctrl.Stop()

		return
	case StepSkip:
		r.record(ctx, node, skippedResult(node.ID, "skipped by operator"))

		return
	}

	r.setCurrent(ctx, node.ID)

	result := r.executeNode(ctx, node)

	if r.halted(ctx) {
		r.logger.InfoContext(ctx, "Discarding result of node finished after stop", "node_id", node.ID)

		return
	}

	r.record(ctx, node, result)
}

func (r *run) executeNode(ctx context.Context, node *models.WorkflowNode) *models.NodeResult {
	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "execution.node",
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type))
	defer span.End()

	started := time.Now().UTC()
	outcome := r.invoke(ctx, node)
	completed := time.Now().UTC()

	status := models.NodeStatusSuccess

	switch {
	case outcome.simulated:
		status = models.NodeStatusSimulated
	case !outcome.Success:
		status = models.NodeStatusError

		otelhelper.SetFailure(span, outcome.Message)
	}

	span.SetAttributes(attribute.String(otelhelper.NodeStatusKey, string(status)))

	return &models.NodeResult{
		NodeID:      node.ID,
		Status:      status,
		Output:      outcome.Output,
		Message:     outcome.Message,
		StartedAt:   started,
		CompletedAt: &completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
	}
}

type outcome struct {
	models.ActionResult

	simulated bool
}

func (r *run) invoke(ctx context.Context, node *models.WorkflowNode) (result outcome) {
	scope, err := template.NewScope(r.scopeSnapshot())
	if err != nil {
		return outcome{ActionResult: models.Failed(err.Error())}
	}

	config := scope.ResolveConfig(node.Config)

	if node.IsAgent() {
		return outcome{ActionResult: r.runChain(ctx, node)}
	}

	handler, ok := r.engine.registry.Action(node.Type)
	if !ok {
		return outcome{ActionResult: models.Failed(errs.NewConfigurationError(node.ID, "type", "no handler for "+node.Type).Error())}
	}

	if r.execution.TestMode && handler.SideEffecting() {
		return outcome{
			ActionResult: models.Succeeded(map[string]any{"simulated": true, "config": config}, "side effect simulated in test mode"),
			simulated:    true,
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "Action handler panicked", "node_id", node.ID, "panic", rec)
			result = outcome{ActionResult: models.Failed(fmt.Sprintf("action %s panicked: %v", node.Type, rec))}
		}
	}()

	return outcome{ActionResult: handler.Execute(ctx, config, protocol.ActionContext{
		UserID:      r.execution.UserID,
		WorkflowID:  r.wf.ID,
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		Tokens:      r.engine.tokens,
		Logger:      r.logger.With("node_id", node.ID, "node_type", node.Type),
	})}
}

// runChain executes the chain owned by an agent node as an embedded
// sub-workflow starting at its root nodes.
func (r *run) runChain(ctx context.Context, agent *models.WorkflowNode) models.ActionResult {
	chain := newGraph(r.wf, &agent.ID)
	reachable := chain.reachable(chain.roots()...)

	r.runScope(ctx, chain, reachable)

	outputs := make(map[string]any, len(reachable))

	r.mu.Lock()
	for _, id := range reachable {
		if result, ok := r.execution.NodeResults[id]; ok && result.Output != nil {
			outputs[id] = result.Output
		}
	}
	r.mu.Unlock()

	output := map[string]any{"chain": outputs}

	if failed := r.failedCritical(chain, reachable); len(failed) > 0 {
		return models.ActionResult{
			Success: false,
			Output:  output,
			Message: "chain node(s) did not succeed: " + strings.Join(failed, ", "),
		}
	}

	return models.Succeeded(output, fmt.Sprintf("chain of %d node(s) completed", len(reachable)))
}

func (r *run) failedCritical(g *graph, reachable []string) []string {
	var failed []string

	critical := g.critical(reachable, r.engine.policy)

	for _, id := range reachable {
		r.mu.Lock()
		stalled := r.stalled[id]
		r.mu.Unlock()

		if stalled && !slices.Contains(critical, id) {
			critical = append(critical, id)
		}
	}

	for _, id := range critical {
		status, _ := r.status(id)
		if status == models.NodeStatusError || status == models.NodeStatusSkipped {
			failed = append(failed, id)
		}
	}

	return failed
}

func (r *run) scopeSnapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]any, len(r.scope))
	for k, v := range r.scope {
		snapshot[k] = v
	}

	return snapshot
}

func skippedResult(nodeID, message string) *models.NodeResult {
	now := time.Now().UTC()

	return &models.NodeResult{
		NodeID:      nodeID,
		Status:      models.NodeStatusSkipped,
		Message:     message,
		StartedAt:   now,
		CompletedAt: &now,
	}
}

func (r *run) setCurrent(ctx context.Context, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.current = nodeID
	r.saveLocked(ctx)
}

// record stores a terminal node result, exposes its output to later nodes
// and persists progress.
func (r *run) record(ctx context.Context, node *models.WorkflowNode, result *models.NodeResult) {
	r.mu.Lock()

	if !r.execution.RecordResult(result) {
		r.mu.Unlock()

		return
	}

	r.statuses[node.ID] = result.Status

	if result.Status == models.NodeStatusSuccess || result.Status == models.NodeStatusSimulated {
		r.scope[node.ID] = result.Output
		if node.Alias != "" {
			r.scope[node.Alias] = result.Output
		}
	}

	r.saveLocked(ctx)
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "Node finished", "node_id", node.ID, "status", result.Status, "duration_ms", result.DurationMs)
	r.engine.notifier.NodeCompleted(ctx, r.execution, node, result)
}

func (r *run) finish(ctx context.Context, top *graph, reachable []string) {
	status := models.ExecutionSuccess
	message := ""

	if r.halted(ctx) {
		status = models.ExecutionCancelled
		message = "execution stopped"
	} else if failed := r.failedCritical(top, reachable); len(failed) > 0 {
		status = models.ExecutionFailed
		message = "critical node(s) did not succeed: " + strings.Join(failed, ", ")
	}

	completed := time.Now().UTC()

	r.mu.Lock()
	r.execution.Status = status
	r.execution.Error = message
	r.execution.CompletedAt = &completed
	r.current = ""
	r.saveLocked(ctx)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "Execution finished", "status", status, "duration_ms", completed.Sub(r.execution.StartedAt).Milliseconds())
	r.engine.notifier.ExecutionFinished(context.WithoutCancel(ctx), r.execution)
}

func (r *run) save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.persistLocked(ctx)
}

// saveLocked persists and only logs failures: a progress write error must
// not abort the remaining nodes.
func (r *run) saveLocked(ctx context.Context) {
	if err := r.persistLocked(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist execution progress", "error", err)
	}
}

func (r *run) persistLocked(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	if err := r.engine.executions.SaveExecution(ctx, r.execution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	if err := r.engine.executions.SaveProgress(ctx, r.progressLocked()); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}

	return nil
}

func (r *run) progressLocked() *models.ExecutionProgress {
	progress := &models.ExecutionProgress{
		ExecutionID:    r.execution.ID,
		WorkflowID:     r.wf.ID,
		Status:         r.execution.Status,
		CurrentNodeID:  r.current,
		CompletedNodes: []string{},
		FailedNodes:    []string{},
		SkippedNodes:   []string{},
		UpdatedAt:      time.Now().UTC(),
	}

	ids := make([]string, 0, len(r.statuses))
	for id := range r.statuses {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		switch r.statuses[id] {
		case models.NodeStatusSuccess, models.NodeStatusSimulated:
			progress.CompletedNodes = append(progress.CompletedNodes, id)
		case models.NodeStatusError:
			progress.FailedNodes = append(progress.FailedNodes, id)
		case models.NodeStatusSkipped:
			progress.SkippedNodes = append(progress.SkippedNodes, id)
		}
	}

	if r.total > 0 {
		progress.Percentage = min(100, len(ids)*100/r.total)
	}

	if r.execution.Status.Terminal() {
		progress.Percentage = 100
	}

	return progress
}
