// Package persistence provides the storage abstraction for workflows,
// trigger resources, executions and connected integrations.
package persistence

import (
	"context"

	"github.com/dukex/triggerhub/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	TriggerResourceRepository() TriggerResourceRepository
	ExecutionRepository() ExecutionRepository
	IntegrationRepository() IntegrationRepository
	WebhookSubscriptionRepository() WebhookSubscriptionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Page selects one window of a listing. Number starts at 1. A zero Limit
// selects every row.
type Page struct {
	Number int
	Limit  int
}

func (p Page) Offset() int {
	if p.Limit <= 0 || p.Number <= 1 {
		return 0
	}

	return (p.Number - 1) * p.Limit
}

// Slice applies the page to a listing already held in memory.
func Slice[T any](items []T, page Page) []T {
	offset := page.Offset()
	if offset >= len(items) {
		return items[:0]
	}

	end := len(items)
	if page.Limit > 0 {
		end = min(end, offset+page.Limit)
	}

	return items[offset:end]
}

// WorkflowRepository stores workflows with their nodes and connections.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	// GetByOwner returns one page of the owner's workflows, newest first,
	// together with the owner's total count.
	GetByOwner(ctx context.Context, owner string, page Page) ([]*models.Workflow, int, error)
	// GetByID returns ErrWorkflowNotFound when the workflow does not exist or
	// was deleted.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// TriggerResourceRepository stores trigger registrations. Rows are keyed by
// (workflow, node, provider).
type TriggerResourceRepository interface {
	// Upsert inserts or replaces the row for the resource key and keeps the
	// original id and creation time.
	Upsert(ctx context.Context, resource *models.TriggerResource) error
	Get(ctx context.Context, workflowID, nodeID, provider string) (*models.TriggerResource, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerResource, error)
	// ListActive returns active resources, optionally for one provider.
	ListActive(ctx context.Context, provider string) ([]*models.TriggerResource, error)
	// FindActiveBySecret resolves an inbound webhook routing secret.
	FindActiveBySecret(ctx context.Context, provider, secret string) (*models.TriggerResource, error)
	Delete(ctx context.Context, workflowID, nodeID, provider string) error
}

// ProgressStore keeps the live progress of executions.
type ProgressStore interface {
	// SaveProgress merges the snapshot into the stored progress using
	// models.ExecutionProgress.Merge semantics.
	SaveProgress(ctx context.Context, progress *models.ExecutionProgress) error
	GetProgress(ctx context.Context, executionID string) (*models.ExecutionProgress, error)
}

// ExecutionRepository stores executions and their progress.
type ExecutionRepository interface {
	ProgressStore

	SaveExecution(ctx context.Context, execution *models.Execution) error
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error)
}

// IntegrationRepository stores users' connected accounts.
type IntegrationRepository interface {
	SaveIntegration(ctx context.Context, integration *models.Integration) error
	GetIntegration(ctx context.Context, userID, provider string) (*models.Integration, error)
	ListIntegrations(ctx context.Context, userID string) ([]*models.Integration, error)
}

// WebhookSubscriptionRepository stores outbound event subscriptions.
type WebhookSubscriptionRepository interface {
	SaveSubscription(ctx context.Context, subscription *models.WebhookSubscription) error
	// GetSubscription returns ErrWebhookSubscriptionNotFound when missing.
	GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error)
	// ListSubscriptions returns the owner's subscriptions, oldest first.
	ListSubscriptions(ctx context.Context, owner string) ([]*models.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

type splitProgressRepository struct {
	ExecutionRepository

	progress ProgressStore
}

// WithProgressStore returns an ExecutionRepository that keeps executions in
// repo and progress in store.
func WithProgressStore(repo ExecutionRepository, store ProgressStore) ExecutionRepository {
	return &splitProgressRepository{ExecutionRepository: repo, progress: store}
}

func (r *splitProgressRepository) SaveProgress(ctx context.Context, progress *models.ExecutionProgress) error {
	return r.progress.SaveProgress(ctx, progress)
}

func (r *splitProgressRepository) GetProgress(ctx context.Context, executionID string) (*models.ExecutionProgress, error) {
	return r.progress.GetProgress(ctx, executionID)
}
