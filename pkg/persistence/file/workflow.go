package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/google/uuid"
)

const workflowsDir = "workflows"

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *Persistence
}

func (wr *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	return wr.list(func(*models.Workflow) bool { return true })
}

func (wr *WorkflowRepository) GetByOwner(_ context.Context, owner string, page persistence.Page) ([]*models.Workflow, int, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	owned, err := wr.list(func(w *models.Workflow) bool { return w.Owner == owner })
	if err != nil {
		return nil, 0, err
	}

	return persistence.Slice(owned, page), len(owned), nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	var workflow models.Workflow

	err := wr.store.read(workflowsDir, workflowID, &workflow)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && workflow.DeletedAt != nil) {
		return nil, persistence.NewNotFoundError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	return wr.store.write(workflowsDir, workflow.ID, workflow)
}

// Delete soft deletes a workflow by stamping deleted_at.
func (wr *WorkflowRepository) Delete(_ context.Context, workflowID string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	var workflow models.Workflow

	err := wr.store.read(workflowsDir, workflowID, &workflow)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	return wr.store.write(workflowsDir, workflowID, &workflow)
}

func (wr *WorkflowRepository) list(keep func(*models.Workflow) bool) ([]*models.Workflow, error) {
	workflows := make([]*models.Workflow, 0)

	err := wr.store.list(workflowsDir, func(body []byte) error {
		var workflow models.Workflow
		if err := json.Unmarshal(body, &workflow); err != nil {
			return err
		}

		if workflow.DeletedAt == nil && keep(&workflow) {
			workflows = append(workflows, &workflow)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}
