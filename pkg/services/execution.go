package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/triggerhub/pkg/engine"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Step commands accepted by Execution.Step.
const (
	StepContinue = "continue"
	StepSkip     = "skip"
	StepPause    = "pause"
	StepResume   = "resume"
)

type Execution struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	logger      *slog.Logger
	running     sync.WaitGroup
}

func NewExecution(persistence persistence.Persistence, eng *engine.Engine, logger *slog.Logger) *Execution {
	return &Execution{
		persistence: persistence,
		engine:      eng,
		logger:      logger.With("module", "execution_service"),
	}
}

// RunRequest describes a manual run.
type RunRequest struct {
	UserID        string
	TriggerNodeID string
	TriggerData   map[string]any
	TestMode      bool
	// Step starts the run paused before the first action node.
	Step bool
}

// ExecutionStatus is the polling view of one execution.
type ExecutionStatus struct {
	Execution *models.Execution         `json:"execution"`
	Progress  *models.ExecutionProgress `json:"progress"`
	Workflow  *models.Workflow          `json:"workflow"`
}

// Run starts a manual execution in the background and returns it in the
// pending state. Callers poll Status for progress.
func (s *Execution) Run(ctx context.Context, workflowID string, req RunRequest) (*models.Execution, error) {
	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	trigger, err := manualTrigger(workflow, req.TriggerNodeID)
	if err != nil {
		return nil, err
	}

	userID := req.UserID
	if userID == "" {
		userID = workflow.Owner
	}

	execution := &models.Execution{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		UserID:        userID,
		Status:        models.ExecutionPending,
		TriggerNodeID: trigger.ID,
		TriggerData:   req.TriggerData,
		TestMode:      req.TestMode,
		NodeResults:   map[string]*models.NodeResult{},
		StartedAt:     time.Now().UTC(),
	}

	if err := s.persistence.ExecutionRepository().SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	run := engine.RunRequest{
		ExecutionID:   execution.ID,
		TriggerNodeID: trigger.ID,
		TriggerData:   req.TriggerData,
		UserID:        userID,
		TestMode:      req.TestMode,
	}
	if req.Step {
		run.Step = engine.NewStepController(true)
	}

	// The request context may be recycled once the handler returns; only the
	// span is carried over.
	runCtx := trace.ContextWithSpan(context.Background(), trace.SpanFromContext(ctx))

	s.running.Add(1)

	go func() {
		defer s.running.Done()

		if _, err := s.engine.Execute(runCtx, workflow, run); err != nil {
			s.logger.ErrorContext(runCtx, "Manual execution failed to start",
				"workflow_id", workflow.ID, "execution_id", execution.ID, "error", err)
		}
	}()

	return execution, nil
}

// Wait blocks until every background run started by Run has returned.
func (s *Execution) Wait() {
	s.running.Wait()
}

// HandleTrigger runs the execution for a dispatched trigger event. Events
// for workflows that are no longer active are dropped.
func (s *Execution) HandleTrigger(ctx context.Context, event protocol.TriggerEvent) (*models.Execution, error) {
	logger := s.logger.With("workflow_id", event.WorkflowID, "node_id", event.NodeID, "provider", event.Provider)

	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, event.WorkflowID)
	if persistence.IsWorkflowNotFound(err) {
		logger.WarnContext(ctx, "Dropping trigger for unknown workflow")

		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		logger.InfoContext(ctx, "Dropping trigger for inactive workflow", "status", workflow.Status)

		return nil, nil
	}

	userID := event.UserID
	if userID == "" {
		userID = workflow.Owner
	}

	execution, err := s.engine.Execute(ctx, workflow, engine.RunRequest{
		TriggerNodeID: event.NodeID,
		TriggerData:   event.Data,
		UserID:        userID,
	})
	if errors.Is(err, engine.ErrNodeNotFound) {
		logger.WarnContext(ctx, "Dropping trigger for removed node")

		return nil, nil
	}

	return execution, err
}

// Status returns the execution with its live progress and workflow.
func (s *Execution) Status(ctx context.Context, workflowID, executionID string) (*ExecutionStatus, error) {
	execution, err := s.fetch(ctx, workflowID, executionID)
	if err != nil {
		return nil, err
	}

	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	progress, err := s.persistence.ExecutionRepository().GetProgress(ctx, executionID)

	switch {
	case persistence.IsExecutionNotFound(err):
		progress = &models.ExecutionProgress{
			ExecutionID:    execution.ID,
			WorkflowID:     execution.WorkflowID,
			Status:         execution.Status,
			CompletedNodes: []string{},
			FailedNodes:    []string{},
			SkippedNodes:   []string{},
			UpdatedAt:      execution.StartedAt,
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	return &ExecutionStatus{Execution: execution, Progress: progress, Workflow: workflow}, nil
}

// List returns the executions of a workflow.
func (s *Execution) List(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	if _, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	executions, err := s.persistence.ExecutionRepository().ListExecutions(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Stop halts a running execution. Nodes already started finish but their
// results are discarded.
func (s *Execution) Stop(ctx context.Context, workflowID, executionID string) error {
	ctrl, err := s.controller(ctx, workflowID, executionID)
	if err != nil {
		return err
	}

	ctrl.Stop()
	s.logger.InfoContext(ctx, "Execution stop requested", "workflow_id", workflowID, "execution_id", executionID)

	return nil
}

// Step applies an operator command to a running execution.
func (s *Execution) Step(ctx context.Context, workflowID, executionID, command string) error {
	ctrl, err := s.controller(ctx, workflowID, executionID)
	if err != nil {
		return err
	}

	switch command {
	case StepPause:
		ctrl.Pause()
	case StepResume:
		ctrl.Resume()
	case StepContinue:
		err = ctrl.Continue()
	case StepSkip:
		err = ctrl.Skip()
	default:
		return NewValidationError("Step", "INVALID_COMMAND", fmt.Sprintf("unknown step command %q", command), ErrInvalidRequest)
	}

	switch {
	case errors.Is(err, engine.ErrNotWaiting):
		return ErrNotStepping
	case errors.Is(err, engine.ErrStopped):
		return ErrExecutionFinished
	}

	return err
}

func (s *Execution) controller(ctx context.Context, workflowID, executionID string) (*engine.StepController, error) {
	execution, err := s.fetch(ctx, workflowID, executionID)
	if err != nil {
		return nil, err
	}

	ctrl, ok := s.engine.Controls().Get(executionID)
	if ok {
		return ctrl, nil
	}

	if execution.Status.Terminal() {
		return nil, ErrExecutionFinished
	}

	return nil, ErrExecutionNotInFlight
}

func (s *Execution) fetch(ctx context.Context, workflowID, executionID string) (*models.Execution, error) {
	execution, err := s.persistence.ExecutionRepository().GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.WorkflowID != workflowID {
		return nil, persistence.NewNotFoundError("GetExecution", executionID, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func manualTrigger(workflow *models.Workflow, nodeID string) (*models.WorkflowNode, error) {
	if nodeID == "" {
		triggers := workflow.TriggerNodes()
		if len(triggers) == 0 {
			return nil, ErrTriggerNodeRequired
		}

		return triggers[0], nil
	}

	node := workflow.NodeByID(nodeID)
	if node == nil {
		return nil, &ServiceError{Op: "Run", Code: "NODE_NOT_FOUND", Message: "node " + nodeID + " not found", Err: ErrNodeNotFound}
	}

	if !node.IsTrigger || node.ParentID != nil {
		return nil, NewValidationError("Run", "NOT_TRIGGER", "node "+nodeID+" is not a top-level trigger", ErrNotTriggerNode)
	}

	return node, nil
}
