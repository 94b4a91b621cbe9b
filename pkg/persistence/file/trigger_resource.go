package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/google/uuid"
)

const triggerResourcesDir = "trigger_resources"

// TriggerResourceRepository stores one document per (workflow, node, provider).
type TriggerResourceRepository struct {
	store *Persistence
}

func resourceKey(workflowID, nodeID, provider string) string {
	return strings.Join([]string{workflowID, nodeID, provider}, "/")
}

func (tr *TriggerResourceRepository) Upsert(_ context.Context, resource *models.TriggerResource) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	key := resourceKey(resource.WorkflowID, resource.NodeID, resource.Provider)
	now := time.Now().UTC()

	var existing models.TriggerResource

	err := tr.store.read(triggerResourcesDir, key, &existing)

	switch {
	case err == nil:
		resource.ID = existing.ID
		resource.CreatedAt = existing.CreatedAt
	case errors.Is(err, fs.ErrNotExist):
		if resource.ID == "" {
			resource.ID = uuid.NewString()
		}

		if resource.CreatedAt.IsZero() {
			resource.CreatedAt = now
		}
	default:
		return err
	}

	resource.UpdatedAt = now

	return tr.store.write(triggerResourcesDir, key, resource)
}

func (tr *TriggerResourceRepository) Get(_ context.Context, workflowID, nodeID, provider string) (*models.TriggerResource, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	key := resourceKey(workflowID, nodeID, provider)

	var resource models.TriggerResource

	err := tr.store.read(triggerResourcesDir, key, &resource)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewNotFoundError("Get", key, persistence.ErrTriggerResourceNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &resource, nil
}

func (tr *TriggerResourceRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.TriggerResource, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	return tr.list(func(r *models.TriggerResource) bool { return r.WorkflowID == workflowID })
}

func (tr *TriggerResourceRepository) ListActive(_ context.Context, provider string) ([]*models.TriggerResource, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	return tr.list(func(r *models.TriggerResource) bool {
		return r.IsActive() && (provider == "" || r.Provider == provider)
	})
}

func (tr *TriggerResourceRepository) FindActiveBySecret(_ context.Context, provider, secret string) (*models.TriggerResource, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	if secret == "" {
		return nil, persistence.NewNotFoundError("FindActiveBySecret", provider, persistence.ErrTriggerResourceNotFound)
	}

	matches, err := tr.list(func(r *models.TriggerResource) bool {
		return r.IsActive() && r.Provider == provider && r.Secret() == secret
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return nil, persistence.NewNotFoundError("FindActiveBySecret", provider, persistence.ErrTriggerResourceNotFound)
	}

	return matches[0], nil
}

func (tr *TriggerResourceRepository) Delete(_ context.Context, workflowID, nodeID, provider string) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	return tr.store.remove(triggerResourcesDir, resourceKey(workflowID, nodeID, provider))
}

func (tr *TriggerResourceRepository) list(keep func(*models.TriggerResource) bool) ([]*models.TriggerResource, error) {
	resources := make([]*models.TriggerResource, 0)

	err := tr.store.list(triggerResourcesDir, func(body []byte) error {
		var resource models.TriggerResource
		if err := json.Unmarshal(body, &resource); err != nil {
			return err
		}

		if keep(&resource) {
			resources = append(resources, &resource)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(resources, func(i, j int) bool {
		return resources[i].CreatedAt.Before(resources[j].CreatedAt)
	})

	return resources, nil
}
