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

// IntegrationRepository handles connected account database operations.
type IntegrationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewIntegrationRepository(db *sql.DB, logger *slog.Logger) *IntegrationRepository {
	return &IntegrationRepository{db: db, logger: logger}
}

const integrationColumns = `
	id, user_id, provider, access_token, refresh_token, token_type, expiry, scopes, status, created_at, updated_at
`

func (r *IntegrationRepository) SaveIntegration(ctx context.Context, integration *models.Integration) error {
	now := time.Now().UTC()

	if integration.ID == "" {
		integration.ID = uuid.NewString()
	}

	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}

	integration.UpdatedAt = now

	scopesJSON, err := json.Marshal(integration.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	var expiry sql.NullTime
	if !integration.Expiry.IsZero() {
		expiry = sql.NullTime{Time: integration.Expiry, Valid: true}
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO integrations (`+integrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			scopes = EXCLUDED.scopes,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`,
		integration.ID,
		integration.UserID,
		integration.Provider,
		integration.AccessToken,
		integration.RefreshToken,
		integration.TokenType,
		expiry,
		scopesJSON,
		integration.Status,
		integration.CreatedAt,
		integration.UpdatedAt,
	).Scan(&integration.ID)
	if err != nil {
		return fmt.Errorf("failed to save integration: %w", err)
	}

	return nil
}

func (r *IntegrationRepository) GetIntegration(ctx context.Context, userID, provider string) (*models.Integration, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = $1 AND provider = $2`,
		userID, provider)

	integration, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewNotFoundError("GetIntegration", userID+"/"+provider, persistence.ErrIntegrationNotFound)
	}

	return integration, err
}

func (r *IntegrationRepository) ListIntegrations(ctx context.Context, userID string) ([]*models.Integration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = $1 ORDER BY provider`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	integrations := make([]*models.Integration, 0)

	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}

		integrations = append(integrations, integration)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating integrations: %w", err)
	}

	return integrations, nil
}

func scanIntegration(row scanner) (*models.Integration, error) {
	var (
		integration models.Integration
		expiry      sql.NullTime
		scopesJSON  []byte
	)

	err := row.Scan(
		&integration.ID,
		&integration.UserID,
		&integration.Provider,
		&integration.AccessToken,
		&integration.RefreshToken,
		&integration.TokenType,
		&expiry,
		&scopesJSON,
		&integration.Status,
		&integration.CreatedAt,
		&integration.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}

	if expiry.Valid {
		integration.Expiry = expiry.Time
	}

	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &integration.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
	}

	return &integration, nil
}
