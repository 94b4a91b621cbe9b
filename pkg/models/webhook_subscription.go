package models

import (
	"slices"
	"time"
)

// AllEvents subscribes to every execution event type.
const AllEvents = "*"

// WebhookSubscription delivers a user's execution events to an external
// endpoint. Deliveries carry an HMAC-SHA256 signature of the body when
// SecretKey is set.
type WebhookSubscription struct {
	ID         string            `json:"id"`
	Owner      string            `json:"owner"`
	Name       string            `json:"name"        validate:"required,min=1"`
	EventTypes []string          `json:"event_types" validate:"required,min=1,dive,oneof=* execution.started execution.node.completed execution.finished"`
	TargetURL  string            `json:"target_url"  validate:"required,http_url"`
	SecretKey  string            `json:"secret_key,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	IsActive   bool              `json:"is_active"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Wants reports whether the subscription receives events of eventType.
func (s *WebhookSubscription) Wants(eventType string) bool {
	return s.IsActive && (slices.Contains(s.EventTypes, AllEvents) || slices.Contains(s.EventTypes, eventType))
}
