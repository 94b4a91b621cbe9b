// Package outbound delivers execution events to the webhook subscriptions
// of the workflow owner.
package outbound

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/triggerhub/pkg/eventbus"
	"github.com/dukex/triggerhub/pkg/events"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"golang.org/x/sync/errgroup"
)

const (
	SignatureHeader = "X-Triggerhub-Signature"
	EventHeader     = "X-Triggerhub-Event"
	DeliveryHeader  = "X-Triggerhub-Delivery"
)

const (
	deliveryTimeout = 10 * time.Second
	maxConcurrent   = 4
)

// Delivered lists the event types a subscription can receive.
var Delivered = []events.EventType{
	events.ExecutionStartedEvent,
	events.NodeCompletedEvent,
	events.ExecutionFinishedEvent,
}

// Delivery is the body posted to subscribers.
type Delivery struct {
	ID         string           `json:"id"`
	Event      events.EventType `json:"event"`
	Timestamp  time.Time        `json:"timestamp"`
	WorkflowID string           `json:"workflow_id"`
	Data       any              `json:"data"`
}

type Deliverer struct {
	workflows     persistence.WorkflowRepository
	subscriptions persistence.WebhookSubscriptionRepository
	client        *providerapi.Client
	logger        *slog.Logger
}

// NewDeliverer builds a deliverer posting through a providerapi client.
// opts are applied after the delivery defaults.
func NewDeliverer(p persistence.Persistence, logger *slog.Logger, opts ...providerapi.Option) *Deliverer {
	opts = append([]providerapi.Option{providerapi.WithTimeout(deliveryTimeout)}, opts...)

	return &Deliverer{
		workflows:     p.WorkflowRepository(),
		subscriptions: p.WebhookSubscriptionRepository(),
		client:        providerapi.New("outbound", "", opts...),
		logger:        logger.With("module", "outbound"),
	}
}

// Register routes the execution events of sub to the deliverer.
func (d *Deliverer) Register(sub eventbus.EventSubscriber) error {
	for _, eventType := range Delivered {
		if err := sub.Handle(eventType, d.Deliver); err != nil {
			return fmt.Errorf("failed to register %s delivery: %w", eventType, err)
		}
	}

	return nil
}

// Deliver posts one event to every matching subscription. Only lookup
// failures are returned, so the bus redelivers the event. A failed POST is
// logged after the client's retries and does not affect other subscribers.
func (d *Deliverer) Deliver(ctx context.Context, event any) error {
	base, ok := baseEvent(event)
	if !ok {
		d.logger.WarnContext(ctx, "Ignoring event without delivery support", "event", fmt.Sprintf("%T", event))

		return nil
	}

	logger := d.logger.With("event_id", base.ID, "event_type", base.Type, "workflow_id", base.WorkflowID)

	workflow, err := d.workflows.GetByID(ctx, base.WorkflowID)
	if persistence.IsWorkflowNotFound(err) {
		logger.DebugContext(ctx, "Workflow gone, dropping event")

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", base.WorkflowID, err)
	}

	subscriptions, err := d.subscriptions.ListSubscriptions(ctx, workflow.Owner)
	if err != nil {
		return fmt.Errorf("failed to list webhook subscriptions: %w", err)
	}

	var targets []*models.WebhookSubscription

	for _, subscription := range subscriptions {
		if subscription.Wants(string(base.Type)) {
			targets = append(targets, subscription)
		}
	}

	if len(targets) == 0 {
		return nil
	}

	body, err := json.Marshal(Delivery{
		ID:         base.ID,
		Event:      base.Type,
		Timestamp:  base.Timestamp,
		WorkflowID: base.WorkflowID,
		Data:       event,
	})
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}

	var group errgroup.Group

	group.SetLimit(maxConcurrent)

	for _, subscription := range targets {
		group.Go(func() error {
			if err := d.post(ctx, subscription, base, body); err != nil {
				logger.WarnContext(ctx, "Webhook delivery failed",
					"subscription_id", subscription.ID, "target_url", subscription.TargetURL, "error", err)
			}

			return nil
		})
	}

	_ = group.Wait()

	logger.DebugContext(ctx, "Event delivered", "subscriptions", len(targets))

	return nil
}

func (d *Deliverer) post(ctx context.Context, subscription *models.WebhookSubscription, base events.BaseEvent, body []byte) error {
	headers := make(map[string]string, len(subscription.Headers)+3)
	for key, value := range subscription.Headers {
		headers[key] = value
	}

	headers[EventHeader] = string(base.Type)
	headers[DeliveryHeader] = base.ID

	if subscription.SecretKey != "" {
		headers[SignatureHeader] = Signature(subscription.SecretKey, body)
	}

	return d.client.Do(ctx, providerapi.Request{
		Method:  http.MethodPost,
		Path:    subscription.TargetURL,
		Headers: headers,
		Body:    body,
	}, nil)
}

// Signature is the value of SignatureHeader for body: "sha256=" followed by
// the hex HMAC-SHA256 of body under secret.
func Signature(secret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(payload.Sign([]byte(secret), body))
}

func baseEvent(event any) (events.BaseEvent, bool) {
	switch e := event.(type) {
	case *events.ExecutionStarted:
		return e.BaseEvent, true
	case *events.NodeCompleted:
		return e.BaseEvent, true
	case *events.ExecutionFinished:
		return e.BaseEvent, true
	default:
		return events.BaseEvent{}, false
	}
}
