package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"sort"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
)

const (
	executionsDir = "executions"
	progressDir   = "progress"
)

// ExecutionRepository stores executions and their progress snapshots.
type ExecutionRepository struct {
	store *Persistence
}

func (er *ExecutionRepository) SaveExecution(_ context.Context, execution *models.Execution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return er.store.write(executionsDir, execution.ID, execution)
}

func (er *ExecutionRepository) GetExecution(_ context.Context, id string) (*models.Execution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	var execution models.Execution

	err := er.store.read(executionsDir, id, &execution)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewNotFoundError("GetExecution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func (er *ExecutionRepository) ListExecutions(_ context.Context, workflowID string) ([]*models.Execution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	executions := make([]*models.Execution, 0)

	err := er.store.list(executionsDir, func(body []byte) error {
		var execution models.Execution
		if err := json.Unmarshal(body, &execution); err != nil {
			return err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, &execution)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) SaveProgress(_ context.Context, progress *models.ExecutionProgress) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	var stored models.ExecutionProgress

	err := er.store.read(progressDir, progress.ExecutionID, &stored)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		stored = models.ExecutionProgress{ExecutionID: progress.ExecutionID}
	case err != nil:
		return err
	}

	stored.Merge(progress)

	return er.store.write(progressDir, progress.ExecutionID, &stored)
}

func (er *ExecutionRepository) GetProgress(_ context.Context, executionID string) (*models.ExecutionProgress, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	var progress models.ExecutionProgress

	err := er.store.read(progressDir, executionID, &progress)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewNotFoundError("GetProgress", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &progress, nil
}
