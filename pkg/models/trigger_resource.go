package models

import "time"

// TriggerResourceStatus tracks whether a registration routes events.
type TriggerResourceStatus string

const (
	TriggerResourceActive   TriggerResourceStatus = "active"
	TriggerResourceInactive TriggerResourceStatus = "inactive"
	TriggerResourceDeleted  TriggerResourceStatus = "deleted"
)

// TriggerResource is the external registration backing one trigger node:
// a provider webhook subscription, a polling registration or a passive
// routing record.
type TriggerResource struct {
	ID              string                `json:"id"`
	WorkflowID      string                `json:"workflow_id"`
	NodeID          string                `json:"node_id"`
	Provider        string                `json:"provider"`
	TriggerType     string                `json:"trigger_type"`
	ExternalID      string                `json:"external_id,omitempty"`
	Config          map[string]any        `json:"config"`
	Status          TriggerResourceStatus `json:"status"`
	UserID          string                `json:"user_id"`
	Healthy         bool                  `json:"healthy"`
	HealthDetails   string                `json:"health_details,omitempty"`
	LastHealthCheck *time.Time            `json:"last_health_check,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// Secret returns the routing secret stored in the resource config.
func (r *TriggerResource) Secret() string {
	secret, _ := r.Config["secret"].(string)

	return secret
}

// IsActive reports whether inbound events should be routed to the resource.
func (r *TriggerResource) IsActive() bool {
	return r.Status == TriggerResourceActive
}
