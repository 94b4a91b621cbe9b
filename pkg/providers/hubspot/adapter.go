package hubspot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/protocol"
)

const (
	signatureHeader = "X-Hubspot-Signature-V3"
	timestampHeader = "X-Hubspot-Request-Timestamp"
	maxSignatureAge = 5 * time.Minute
)

// subscriptionTriggers maps HubSpot subscription types onto trigger types.
var subscriptionTriggers = map[string]string{
	"ticket.creation":       TicketCreated,
	"ticket.propertyChange": TicketUpdated,
	"contact.creation":      ContactCreated,
	"note.creation":         NoteCreated,
	"call.creation":         CallCreated,
	"task.creation":         TaskCreated,
	"meeting.creation":      MeetingCreated,
	"form.submission":       FormSubmission,
}

// Adapter handles HubSpot webhook deliveries.
type Adapter struct {
	clientSecret string
	now          func() time.Time
}

// NewAdapter builds the adapter. clientSecret signs deliveries; when empty
// the resource routing secret is used.
func NewAdapter(clientSecret string) *Adapter {
	return &Adapter{clientSecret: clientSecret, now: time.Now}
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) Challenge(*protocol.InboundRequest) (any, bool) { return nil, false }

func (a *Adapter) RoutingKey(req *protocol.InboundRequest) string {
	return req.Query["token"]
}

// Verify checks the v3 signature when HubSpot sent one. Unsigned deliveries
// are authenticated by the routing token alone.
func (a *Adapter) Verify(req *protocol.InboundRequest, resource *models.TriggerResource) bool {
	signature := req.Header(signatureHeader)
	if signature == "" {
		return true
	}

	timestamp := req.Header(timestampHeader)

	millis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || a.now().Sub(time.UnixMilli(millis)) > maxSignatureAge {
		return false
	}

	key := a.clientSecret
	if key == "" {
		key = resource.Secret()
	}

	message := req.Method + req.URL + string(req.Body) + timestamp

	return payload.EqualBase64(signature, payload.Sign([]byte(key), []byte(message)))
}

// Normalize accepts a single event or a batch.
func (a *Adapter) Normalize(triggerType string, req *protocol.InboundRequest) ([]map[string]any, error) {
	events, err := decodeEvents(req.Body)
	if err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0, len(events))

	for _, event := range events {
		if kind, ok := event["subscriptionType"].(string); ok && subscriptionTriggers[kind] != triggerType {
			continue
		}

		if data := BuildTriggerData(triggerType, event); data != nil {
			records = append(records, data)
		}
	}

	return records, nil
}

func decodeEvents(body []byte) ([]map[string]any, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid hubspot payload: %w", err)
	}

	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		events := make([]map[string]any, 0, len(v))

		for _, item := range v {
			if event, ok := item.(map[string]any); ok {
				events = append(events, event)
			}
		}

		return events, nil
	}

	return nil, fmt.Errorf("invalid hubspot payload: unexpected %T", raw)
}

func (a *Adapter) ShouldSkip(triggerType string, config, data map[string]any) *string {
	return ShouldSkipByConfig(triggerType, config, data)
}

// Match routes app-level deliveries by portal.
func (a *Adapter) Match(_ *protocol.InboundRequest, data map[string]any, resource *models.TriggerResource) bool {
	portal := payload.String(resource.Config, "portal_id")
	if portal == "" {
		return true
	}

	return portal == fmt.Sprint(data["portalId"])
}
