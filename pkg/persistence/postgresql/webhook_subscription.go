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

// WebhookSubscriptionRepository handles outbound subscription rows.
type WebhookSubscriptionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWebhookSubscriptionRepository(db *sql.DB, logger *slog.Logger) *WebhookSubscriptionRepository {
	return &WebhookSubscriptionRepository{db: db, logger: logger}
}

const webhookColumns = `
	id, owner, name, event_types, target_url, secret_key, headers, is_active, created_at, updated_at
`

func (r *WebhookSubscriptionRepository) SaveSubscription(ctx context.Context, subscription *models.WebhookSubscription) error {
	now := time.Now().UTC()

	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}

	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}

	subscription.UpdatedAt = now

	eventTypesJSON, err := json.Marshal(subscription.EventTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal event types: %w", err)
	}

	headersJSON, err := json.Marshal(subscription.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (`+webhookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			event_types = EXCLUDED.event_types,
			target_url = EXCLUDED.target_url,
			secret_key = EXCLUDED.secret_key,
			headers = EXCLUDED.headers,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`,
		subscription.ID,
		subscription.Owner,
		subscription.Name,
		eventTypesJSON,
		subscription.TargetURL,
		subscription.SecretKey,
		headersJSON,
		subscription.IsActive,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save webhook subscription: %w", err)
	}

	return nil
}

func (r *WebhookSubscriptionRepository) GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhook_subscriptions WHERE id = $1`, id)

	subscription, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewNotFoundError("GetSubscription", id, persistence.ErrWebhookSubscriptionNotFound)
	}

	return subscription, err
}

func (r *WebhookSubscriptionRepository) ListSubscriptions(ctx context.Context, owner string) ([]*models.WebhookSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhook_subscriptions WHERE owner = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook subscriptions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	subscriptions := make([]*models.WebhookSubscription, 0)

	for rows.Next() {
		subscription, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}

		subscriptions = append(subscriptions, subscription)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook subscriptions: %w", err)
	}

	return subscriptions, nil
}

func (r *WebhookSubscriptionRepository) DeleteSubscription(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete webhook subscription: %w", err)
	}

	return nil
}

func scanSubscription(row scanner) (*models.WebhookSubscription, error) {
	var (
		subscription   models.WebhookSubscription
		eventTypesJSON []byte
		headersJSON    []byte
	)

	err := row.Scan(
		&subscription.ID,
		&subscription.Owner,
		&subscription.Name,
		&eventTypesJSON,
		&subscription.TargetURL,
		&subscription.SecretKey,
		&headersJSON,
		&subscription.IsActive,
		&subscription.CreatedAt,
		&subscription.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan webhook subscription: %w", err)
	}

	if err := json.Unmarshal(eventTypesJSON, &subscription.EventTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event types: %w", err)
	}

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &subscription.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}

	return &subscription, nil
}
