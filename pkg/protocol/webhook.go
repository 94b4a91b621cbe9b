package protocol

import (
	"context"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
)

// InboundRequest is a provider-neutral view of an incoming webhook call.
// Header keys are canonical MIME header keys.
type InboundRequest struct {
	Provider   string
	Method     string
	URL        string
	Headers    map[string]string
	Query      map[string]string
	Body       []byte
	ReceivedAt time.Time
}

// Header returns a header value, or "".
func (r *InboundRequest) Header(key string) string {
	return r.Headers[key]
}

// WebhookAdapter translates one provider's webhook calls into canonical
// trigger data.
type WebhookAdapter interface {
	Provider() string
	// Challenge answers verification handshakes. ok=false means the request
	// is a regular delivery.
	Challenge(req *InboundRequest) (response any, ok bool)
	// RoutingKey extracts the secret identifying the target trigger resource.
	RoutingKey(req *InboundRequest) string
	// Verify checks the request signature against the target resource.
	Verify(req *InboundRequest, resource *models.TriggerResource) bool
	// Normalize converts the payload into one canonical record per event.
	Normalize(triggerType string, req *InboundRequest) ([]map[string]any, error)
	// ShouldSkip returns a reason when the trigger's filters reject the data.
	ShouldSkip(triggerType string, config, data map[string]any) *string
}

// ResourceMatcher is implemented by adapters whose provider posts every
// event to one app-level URL without a routing key. The router offers each
// normalized record to every active resource of the provider.
type ResourceMatcher interface {
	Match(req *InboundRequest, data map[string]any, resource *models.TriggerResource) bool
}

// PayloadValidator is implemented by adapters that check normalized data
// against node configuration. A failure rejects the delivery with 400.
type PayloadValidator interface {
	ValidatePayload(config, data map[string]any) error
}

// TriggerEvent is a matched, normalized inbound event ready for execution.
type TriggerEvent struct {
	WorkflowID  string         `json:"workflow_id"`
	NodeID      string         `json:"node_id"`
	UserID      string         `json:"user_id"`
	Provider    string         `json:"provider"`
	TriggerType string         `json:"trigger_type"`
	Data        map[string]any `json:"data"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// Dispatcher hands trigger events to the execution side.
type Dispatcher interface {
	Dispatch(ctx context.Context, event TriggerEvent) error
}
