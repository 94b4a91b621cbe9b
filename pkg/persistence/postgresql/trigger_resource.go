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
	"github.com/google/uuid"
)

// TriggerResourceRepository handles trigger resource database operations.
type TriggerResourceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTriggerResourceRepository(db *sql.DB, logger *slog.Logger) *TriggerResourceRepository {
	return &TriggerResourceRepository{db: db, logger: logger}
}

const triggerResourceColumns = `
	id, workflow_id, node_id, provider, trigger_type, external_id, config, status, user_id,
	healthy, health_details, last_health_check, created_at, updated_at
`

// Upsert writes the resource keyed by (workflow_id, node_id, provider). The
// stored id and created_at win over the incoming values.
func (r *TriggerResourceRepository) Upsert(ctx context.Context, resource *models.TriggerResource) error {
	now := time.Now().UTC()

	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}

	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = now
	}

	resource.UpdatedAt = now

	configJSON, err := json.Marshal(resource.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger resource config: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO trigger_resources (`+triggerResourceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (workflow_id, node_id, provider) DO UPDATE SET
			trigger_type = EXCLUDED.trigger_type,
			external_id = EXCLUDED.external_id,
			config = EXCLUDED.config,
			status = EXCLUDED.status,
			user_id = EXCLUDED.user_id,
			healthy = EXCLUDED.healthy,
			health_details = EXCLUDED.health_details,
			last_health_check = EXCLUDED.last_health_check,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`,
		resource.ID,
		resource.WorkflowID,
		resource.NodeID,
		resource.Provider,
		resource.TriggerType,
		resource.ExternalID,
		configJSON,
		resource.Status,
		resource.UserID,
		resource.Healthy,
		resource.HealthDetails,
		resource.LastHealthCheck,
		resource.CreatedAt,
		resource.UpdatedAt,
	).Scan(&resource.ID, &resource.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert trigger resource: %w", err)
	}

	return nil
}

func (r *TriggerResourceRepository) Get(ctx context.Context, workflowID, nodeID, provider string) (*models.TriggerResource, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+triggerResourceColumns+`
		FROM trigger_resources
		WHERE workflow_id = $1 AND node_id = $2 AND provider = $3
	`, workflowID, nodeID, provider)

	resource, err := scanTriggerResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewNotFoundError("Get", workflowID+"/"+nodeID+"/"+provider, persistence.ErrTriggerResourceNotFound)
	}

	return resource, err
}

func (r *TriggerResourceRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerResource, error) {
	return r.query(ctx, `
		SELECT `+triggerResourceColumns+`
		FROM trigger_resources
		WHERE workflow_id = $1
		ORDER BY created_at
	`, workflowID)
}

func (r *TriggerResourceRepository) ListActive(ctx context.Context, provider string) ([]*models.TriggerResource, error) {
	return r.query(ctx, `
		SELECT `+triggerResourceColumns+`
		FROM trigger_resources
		WHERE status = 'active' AND ($1 = '' OR provider = $1)
		ORDER BY created_at
	`, provider)
}

func (r *TriggerResourceRepository) FindActiveBySecret(ctx context.Context, provider, secret string) (*models.TriggerResource, error) {
	if secret == "" {
		return nil, persistence.NewNotFoundError("FindActiveBySecret", provider, persistence.ErrTriggerResourceNotFound)
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+triggerResourceColumns+`
		FROM trigger_resources
		WHERE provider = $1 AND status = 'active' AND config->>'secret' = $2
		ORDER BY created_at
		LIMIT 1
	`, provider, secret)

	resource, err := scanTriggerResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewNotFoundError("FindActiveBySecret", provider, persistence.ErrTriggerResourceNotFound)
	}

	return resource, err
}

func (r *TriggerResourceRepository) Delete(ctx context.Context, workflowID, nodeID, provider string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM trigger_resources WHERE workflow_id = $1 AND node_id = $2 AND provider = $3`,
		workflowID, nodeID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete trigger resource: %w", err)
	}

	return nil
}

func (r *TriggerResourceRepository) query(ctx context.Context, query string, args ...any) ([]*models.TriggerResource, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger resources: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	resources := make([]*models.TriggerResource, 0)

	for rows.Next() {
		resource, err := scanTriggerResource(rows)
		if err != nil {
			return nil, err
		}

		resources = append(resources, resource)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trigger resources: %w", err)
	}

	return resources, nil
}

func scanTriggerResource(row scanner) (*models.TriggerResource, error) {
	var (
		resource        models.TriggerResource
		configJSON      []byte
		lastHealthCheck sql.NullTime
	)

	err := row.Scan(
		&resource.ID,
		&resource.WorkflowID,
		&resource.NodeID,
		&resource.Provider,
		&resource.TriggerType,
		&resource.ExternalID,
		&configJSON,
		&resource.Status,
		&resource.UserID,
		&resource.Healthy,
		&resource.HealthDetails,
		&lastHealthCheck,
		&resource.CreatedAt,
		&resource.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan trigger resource: %w", err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &resource.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger resource config: %w", err)
		}
	}

	if lastHealthCheck.Valid {
		resource.LastHealthCheck = &lastHealthCheck.Time
	}

	return &resource, nil
}
