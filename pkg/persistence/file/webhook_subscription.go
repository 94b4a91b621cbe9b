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

const webhooksDir = "webhook_subscriptions"

type WebhookSubscriptionRepository struct {
	store *Persistence
}

func (wr *WebhookSubscriptionRepository) SaveSubscription(_ context.Context, subscription *models.WebhookSubscription) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	now := time.Now().UTC()

	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}

	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}

	subscription.UpdatedAt = now

	return wr.store.write(webhooksDir, subscription.ID, subscription)
}

func (wr *WebhookSubscriptionRepository) GetSubscription(_ context.Context, id string) (*models.WebhookSubscription, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	var subscription models.WebhookSubscription

	err := wr.store.read(webhooksDir, id, &subscription)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewNotFoundError("GetSubscription", id, persistence.ErrWebhookSubscriptionNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &subscription, nil
}

func (wr *WebhookSubscriptionRepository) ListSubscriptions(_ context.Context, owner string) ([]*models.WebhookSubscription, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	subscriptions := make([]*models.WebhookSubscription, 0)

	err := wr.store.list(webhooksDir, func(body []byte) error {
		var subscription models.WebhookSubscription
		if err := json.Unmarshal(body, &subscription); err != nil {
			return err
		}

		if subscription.Owner == owner {
			subscriptions = append(subscriptions, &subscription)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(subscriptions, func(i, j int) bool {
		return subscriptions[i].CreatedAt.Before(subscriptions[j].CreatedAt)
	})

	return subscriptions, nil
}

func (wr *WebhookSubscriptionRepository) DeleteSubscription(_ context.Context, id string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	return wr.store.remove(webhooksDir, id)
}
