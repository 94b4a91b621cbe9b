package protocol

import (
	"context"

	"github.com/dukex/triggerhub/pkg/models"
)

// ActivateRequest describes the trigger node being registered.
type ActivateRequest struct {
	WorkflowID  string
	UserID      string
	NodeID      string
	TriggerType string
	Config      map[string]any
}

// HealthStatus is the outcome of a trigger health check.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Details string `json:"details,omitempty"`
}

// TriggerLifecycle manages the external resources backing a provider's
// trigger nodes.
type TriggerLifecycle interface {
	Provider() string
	// OnActivate is idempotent per (workflow, node).
	OnActivate(ctx context.Context, req ActivateRequest) (*models.TriggerResource, error)
	OnDeactivate(ctx context.Context, workflowID, nodeID string) error
	OnDelete(ctx context.Context, workflowID, nodeID string) error
	// CheckHealth never fails; problems surface as Healthy=false.
	CheckHealth(ctx context.Context, workflowID, userID string) HealthStatus
}
