package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/google/uuid"
)

const integrationsDir = "integrations"

// IntegrationRepository stores one connected account per (user, provider).
type IntegrationRepository struct {
	store *Persistence
}

func integrationKey(userID, provider string) string {
	return strings.Join([]string{userID, provider}, "/")
}

func (ir *IntegrationRepository) SaveIntegration(_ context.Context, integration *models.Integration) error {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	now := time.Now().UTC()

	if integration.ID == "" {
		integration.ID = uuid.NewString()
	}

	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}

	integration.UpdatedAt = now

	return ir.store.write(integrationsDir, integrationKey(integration.UserID, integration.Provider), integration)
}

func (ir *IntegrationRepository) GetIntegration(_ context.Context, userID, provider string) (*models.Integration, error) {
	ir.store.mu.RLock()
	defer ir.store.mu.RUnlock()

	key := integrationKey(userID, provider)

	var integration models.Integration

	err := ir.store.read(integrationsDir, key, &integration)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewNotFoundError("GetIntegration", key, persistence.ErrIntegrationNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &integration, nil
}

func (ir *IntegrationRepository) ListIntegrations(_ context.Context, userID string) ([]*models.Integration, error) {
	ir.store.mu.RLock()
	defer ir.store.mu.RUnlock()

	integrations := make([]*models.Integration, 0)

	err := ir.store.list(integrationsDir, func(body []byte) error {
		var integration models.Integration
		if err := json.Unmarshal(body, &integration); err != nil {
			return err
		}

		if integration.UserID == userID {
			integrations = append(integrations, &integration)
		}

		return nil
	})

	return integrations, err
}
