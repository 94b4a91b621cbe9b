package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
)

// ExecutionRepository handles execution and progress database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id, workflow_id, user_id, status, trigger_node_id, trigger_data, test_mode, node_results, error, started_at, completed_at
`

func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.Execution) error {
	triggerJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	resultsJSON, err := json.Marshal(execution.NodeResults)
	if err != nil {
		return fmt.Errorf("failed to marshal node results: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			node_results = EXCLUDED.node_results,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`,
		execution.ID,
		execution.WorkflowID,
		execution.UserID,
		execution.Status,
		execution.TriggerNodeID,
		triggerJSON,
		execution.TestMode,
		resultsJSON,
		execution.Error,
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewNotFoundError("GetExecution", id, persistence.ErrExecutionNotFound)
	}

	return execution, err
}

func (r *ExecutionRepository) ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE workflow_id = $1 ORDER BY started_at DESC`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// SaveProgress merges the snapshot under a row lock so concurrent writers of
// one execution never lose a terminal node state.
func (r *ExecutionRepository) SaveProgress(ctx context.Context, progress *models.ExecutionProgress) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var snapshot []byte

	stored := models.ExecutionProgress{ExecutionID: progress.ExecutionID}

	err = tx.QueryRowContext(ctx,
		`SELECT snapshot FROM execution_progress WHERE execution_id = $1 FOR UPDATE`,
		progress.ExecutionID).Scan(&snapshot)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return fmt.Errorf("failed to load progress: %w", err)
	default:
		if err = json.Unmarshal(snapshot, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal progress: %w", err)
		}
	}

	stored.Merge(progress)

	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}

	snapshot, err = json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_progress (execution_id, workflow_id, snapshot, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (execution_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`, stored.ExecutionID, stored.WorkflowID, snapshot, stored.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit progress: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) GetProgress(ctx context.Context, executionID string) (*models.ExecutionProgress, error) {
	var snapshot []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM execution_progress WHERE execution_id = $1`, executionID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewNotFoundError("GetProgress", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	var progress models.ExecutionProgress
	if err := json.Unmarshal(snapshot, &progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}

	return &progress, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution                models.Execution
		triggerJSON, resultsJSON []byte
		completedAt              sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.UserID,
		&execution.Status,
		&execution.TriggerNodeID,
		&triggerJSON,
		&execution.TestMode,
		&resultsJSON,
		&execution.Error,
		&execution.StartedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if len(triggerJSON) > 0 {
		if err := json.Unmarshal(triggerJSON, &execution.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}

	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &execution.NodeResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node results: %w", err)
		}
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}
