package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, reg *registry.Registry, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    reg,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// MaxPageSize caps the page limit of workflow listings.
const MaxPageSize = 100

// List returns one page of an owner's workflows and the owner's total count.
func (w *Workflow) List(ctx context.Context, owner string, page persistence.Page) ([]*models.Workflow, int, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, 0, ErrEmptyOwnerID
	}

	if page.Number < 1 || page.Limit < 1 || page.Limit > MaxPageSize {
		return nil, 0, NewValidationError("List", "INVALID_PAGE",
			fmt.Sprintf("page must be at least 1 and limit between 1 and %d", MaxPageSize), ErrInvalidRequest)
	}

	workflows, total, err := w.persistence.WorkflowRepository().GetByOwner(ctx, owner, page)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, total, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// Create adds a new draft workflow to the repository.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.DeletedAt = nil
	workflow.Status = models.WorkflowStatusDraft

	if err := w.checkStructure("Create", workflow); err != nil {
		return nil, err
	}

	err := w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Update replaces the definition of a workflow that is not active. Status
// only changes through Activate and Deactivate. Trigger nodes dropped by the
// new definition release their registrations before it is saved.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.Workflow,
) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.WorkflowStatusActive {
		return nil, ErrCannotModifyActive
	}

	workflow.ID = workflowID
	workflow.Owner = existing.Owner
	workflow.Status = existing.Status
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.checkStructure("Update", workflow); err != nil {
		return nil, err
	}

	for _, node := range droppedTriggers(existing, workflow) {
		if err := w.releaseTrigger(ctx, existing.ID, node); err != nil {
			return nil, err
		}
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Copy duplicates a workflow as a new draft owned by owner. Trigger
// registrations are not copied.
func (w *Workflow) Copy(ctx context.Context, workflowID, owner string) (*models.Workflow, error) {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	clone, err := existing.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to copy workflow: %w", err)
	}

	if owner != "" {
		clone.Owner = owner
	}

	clone.Name = existing.Name + " (copy)"

	return w.Create(ctx, clone)
}

// Delete releases every trigger registration of the workflow and removes it.
// Registrations left behind by nodes that no longer exist are swept too.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return err
	}

	for _, node := range existing.TriggerNodes() {
		if err := w.releaseTrigger(ctx, existing.ID, node); err != nil {
			return err
		}
	}

	if err := w.sweepResources(ctx, existing.ID); err != nil {
		return err
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// DeleteNode removes a node together with the chain it owns and its
// connections. Removed trigger nodes release their registrations first.
func (w *Workflow) DeleteNode(ctx context.Context, workflowID, nodeID string) (*models.Workflow, error) {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	node := existing.NodeByID(nodeID)
	if node == nil {
		return nil, &ServiceError{Op: "DeleteNode", Code: "NODE_NOT_FOUND", Message: "node " + nodeID + " not found", Err: ErrNodeNotFound}
	}

	if node.IsTrigger && node.ParentID == nil {
		if err := w.releaseTrigger(ctx, existing.ID, node); err != nil {
			return nil, err
		}
	}

	existing.RemoveNode(nodeID)
	existing.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return existing, nil
}

// Activate registers every trigger node with its provider and marks the
// workflow active. Activating an active or paused workflow re-runs the
// registrations, which are idempotent. When one trigger fails the ones
// registered by this call are deactivated again and the status is kept.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if err := w.checkActivation(existing); err != nil {
		return nil, err
	}

	logger := w.logger.With("workflow_id", existing.ID)

	var activated []*models.WorkflowNode

	for _, node := range existing.TriggerNodes() {
		lifecycle, err := w.registry.LifecycleFor(node)
		if err != nil {
			return nil, err
		}

		_, err = lifecycle.OnActivate(ctx, protocol.ActivateRequest{
			WorkflowID:  existing.ID,
			UserID:      existing.Owner,
			NodeID:      node.ID,
			TriggerType: node.Type,
			Config:      node.Config,
		})
		if err != nil {
			logger.ErrorContext(ctx, "Failed to activate trigger", "node_id", node.ID, "error", err)
			w.rollback(ctx, existing.ID, activated)

			return nil, fmt.Errorf("failed to activate trigger %s: %w", node.ID, err)
		}

		activated = append(activated, node)
	}

	return w.setStatus(ctx, existing, models.WorkflowStatusActive)
}

// Deactivate unregisters every trigger node and pauses the workflow.
func (w *Workflow) Deactivate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var failures []error

	for _, node := range existing.TriggerNodes() {
		lifecycle, err := w.registry.LifecycleFor(node)
		if err != nil {
			w.logger.WarnContext(ctx, "Skipping trigger without lifecycle", "workflow_id", existing.ID, "node_id", node.ID)

			continue
		}

		if err := lifecycle.OnDeactivate(ctx, existing.ID, node.ID); err != nil {
			failures = append(failures, fmt.Errorf("trigger %s: %w", node.ID, err))
		}
	}

	if len(failures) > 0 {
		return nil, fmt.Errorf("failed to deactivate workflow: %w", errors.Join(failures...))
	}

	return w.setStatus(ctx, existing, models.WorkflowStatusPaused)
}

func (w *Workflow) setStatus(ctx context.Context, workflow *models.Workflow, status models.WorkflowStatus) (*models.Workflow, error) {
	workflow.Status = status
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow status: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow status changed", "workflow_id", workflow.ID, "status", status)

	return workflow, nil
}

func (w *Workflow) rollback(ctx context.Context, workflowID string, nodes []*models.WorkflowNode) {
	for _, node := range nodes {
		lifecycle, err := w.registry.LifecycleFor(node)
		if err != nil {
			continue
		}

		if err := lifecycle.OnDeactivate(ctx, workflowID, node.ID); err != nil {
			w.logger.WarnContext(ctx, "Failed to roll back trigger", "workflow_id", workflowID, "node_id", node.ID, "error", err)
		}
	}
}

func (w *Workflow) releaseTrigger(ctx context.Context, workflowID string, node *models.WorkflowNode) error {
	lifecycle, err := w.registry.LifecycleFor(node)
	if err != nil {
		w.logger.WarnContext(ctx, "Skipping trigger without lifecycle", "workflow_id", workflowID, "node_id", node.ID)

		return nil
	}

	if err := lifecycle.OnDelete(ctx, workflowID, node.ID); err != nil {
		return fmt.Errorf("failed to release trigger %s: %w", node.ID, err)
	}

	return nil
}

// sweepResources deletes the registrations still stored for a workflow.
func (w *Workflow) sweepResources(ctx context.Context, workflowID string) error {
	resources, err := w.persistence.TriggerResourceRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to list trigger resources: %w", err)
	}

	for _, resource := range resources {
		w.logger.InfoContext(ctx, "Sweeping orphaned trigger resource",
			"workflow_id", workflowID, "node_id", resource.NodeID, "provider", resource.Provider)

		if lifecycle, ok := w.registry.Lifecycle(resource.Provider); ok {
			if err := lifecycle.OnDelete(ctx, workflowID, resource.NodeID); err != nil {
				return fmt.Errorf("failed to release trigger %s: %w", resource.NodeID, err)
			}

			continue
		}

		err := w.persistence.TriggerResourceRepository().Delete(ctx, workflowID, resource.NodeID, resource.Provider)
		if err != nil {
			return fmt.Errorf("failed to delete trigger resource %s: %w", resource.NodeID, err)
		}
	}

	return nil
}

// droppedTriggers returns the trigger nodes of before that after no longer
// has as a top-level trigger of the same type.
func droppedTriggers(before, after *models.Workflow) []*models.WorkflowNode {
	var dropped []*models.WorkflowNode

	for _, node := range before.TriggerNodes() {
		next := after.NodeByID(node.ID)
		if next == nil || !next.IsTrigger || next.ParentID != nil || next.Type != node.Type {
			dropped = append(dropped, node)
		}
	}

	return dropped
}

// checkStructure rejects malformed definitions with a 400-class error.
func (w *Workflow) checkStructure(op string, workflow *models.Workflow) error {
	if err := w.validate.Struct(workflow); err != nil {
		return NewValidationError(op, "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	if err := workflow.Validate(); err != nil {
		return NewValidationError(op, "INVALID_GRAPH", err.Error(), ErrInvalidRequest)
	}

	return nil
}

// checkActivation collects every reason the workflow cannot run.
func (w *Workflow) checkActivation(workflow *models.Workflow) error {
	if err := w.checkStructure("Activate", workflow); err != nil {
		return err
	}

	triggers := workflow.TriggerNodes()
	if len(triggers) == 0 {
		return NewValidationError("Activate", "TRIGGER_REQUIRED", ErrTriggerNodeRequired.Error(), ErrTriggerNodeRequired)
	}

	var reasons []string

	for _, node := range triggers {
		if _, err := w.registry.LifecycleFor(node); err != nil {
			reasons = append(reasons, fmt.Sprintf("node %s: %v", node.ID, err))
		}
	}

	for _, node := range workflow.Nodes {
		if node.IsTrigger {
			continue
		}

		if node.IsAgent() {
			continue
		}

		if _, ok := w.registry.Action(node.Type); !ok {
			reasons = append(reasons, fmt.Sprintf("node %s: no action handler for %q", node.ID, node.Type))
		}
	}

	if len(reasons) > 0 {
		return errs.NewValidationError(nil, reasons...)
	}

	return nil
}
