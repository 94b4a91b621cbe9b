package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

// Webhook manages the outbound webhook subscriptions of a user.
type Webhook struct {
	subscriptions persistence.WebhookSubscriptionRepository
	validate      *validator.Validate
	logger        *slog.Logger
}

func NewWebhook(p persistence.Persistence, logger *slog.Logger) *Webhook {
	return &Webhook{
		subscriptions: p.WebhookSubscriptionRepository(),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        logger.With("module", "webhook_service"),
	}
}

// WebhookUpdate changes the fields that are set. Nil fields are kept.
type WebhookUpdate struct {
	Name       *string
	EventTypes []string
	TargetURL  *string
	SecretKey  *string
	Headers    map[string]string
	IsActive   *bool
}

func (w *Webhook) List(ctx context.Context, owner string) ([]*models.WebhookSubscription, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrEmptyOwnerID
	}

	subscriptions, err := w.subscriptions.ListSubscriptions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook subscriptions: %w", err)
	}

	return subscriptions, nil
}

// Fetch returns a subscription of owner. Other users' subscriptions are
// reported as missing.
func (w *Webhook) Fetch(ctx context.Context, owner, id string) (*models.WebhookSubscription, error) {
	subscription, err := w.subscriptions.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	if subscription.Owner != owner {
		return nil, persistence.NewNotFoundError("Fetch", id, persistence.ErrWebhookSubscriptionNotFound)
	}

	return subscription, nil
}

func (w *Webhook) Create(ctx context.Context, owner string, subscription *models.WebhookSubscription) (*models.WebhookSubscription, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrEmptyOwnerID
	}

	subscription.ID = ""
	subscription.Owner = owner

	if err := w.check("CreateWebhook", subscription); err != nil {
		return nil, err
	}

	if err := w.subscriptions.SaveSubscription(ctx, subscription); err != nil {
		return nil, fmt.Errorf("failed to create webhook subscription: %w", err)
	}

	w.logger.InfoContext(ctx, "Webhook subscription created", "subscription_id", subscription.ID, "owner", owner)

	return subscription, nil
}

func (w *Webhook) Update(ctx context.Context, owner, id string, update WebhookUpdate) (*models.WebhookSubscription, error) {
	subscription, err := w.Fetch(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		subscription.Name = *update.Name
	}

	if update.EventTypes != nil {
		subscription.EventTypes = update.EventTypes
	}

	if update.TargetURL != nil {
		subscription.TargetURL = *update.TargetURL
	}

	if update.SecretKey != nil {
		subscription.SecretKey = *update.SecretKey
	}

	if update.Headers != nil {
		subscription.Headers = update.Headers
	}

	if update.IsActive != nil {
		subscription.IsActive = *update.IsActive
	}

	if err := w.check("UpdateWebhook", subscription); err != nil {
		return nil, err
	}

	if err := w.subscriptions.SaveSubscription(ctx, subscription); err != nil {
		return nil, fmt.Errorf("failed to update webhook subscription: %w", err)
	}

	return subscription, nil
}

func (w *Webhook) Delete(ctx context.Context, owner, id string) error {
	if _, err := w.Fetch(ctx, owner, id); err != nil {
		return err
	}

	if err := w.subscriptions.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("failed to delete webhook subscription: %w", err)
	}

	return nil
}

func (w *Webhook) check(op string, subscription *models.WebhookSubscription) error {
	if err := w.validate.Struct(subscription); err != nil {
		return NewValidationError(op, "INVALID_WEBHOOK", err.Error(), ErrInvalidRequest)
	}

	return nil
}
