// Package webhook receives provider webhook deliveries, matches them to
// trigger resources and hands the normalized events to a dispatcher.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/otelhelper"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GenericProvider is the provider of workflow-scoped webhook endpoints.
const GenericProvider = "webhook"

var errBadPayload = errors.New("bad payload")

// Outcome is the HTTP answer to a delivery.
type Outcome struct {
	Status int
	Body   any
}

func ignored(reason string) Outcome {
	return Outcome{Status: http.StatusOK, Body: map[string]any{"received": true, "ignored": reason}}
}

func failure(status int, message string) Outcome {
	return Outcome{Status: status, Body: map[string]any{"error": message}}
}

type Router struct {
	registry   *registry.Registry
	resources  persistence.TriggerResourceRepository
	dispatcher protocol.Dispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
}

type Option func(*Router)

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Router) { r.tracer = tracer }
}

func NewRouter(
	reg *registry.Registry,
	resources persistence.TriggerResourceRepository,
	dispatcher protocol.Dispatcher,
	logger *slog.Logger,
	opts ...Option,
) *Router {
	r := &Router{
		registry:   reg,
		resources:  resources,
		dispatcher: dispatcher,
		logger:     logger.With("module", "webhook"),
		tracer:     otelhelper.NoopTracer(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// target is a resource a delivery may be routed to. Matched targets come
// from an app-level endpoint and must claim each record themselves.
type target struct {
	resource *models.TriggerResource
	matched  bool
}

// HandleProvider processes a delivery on /webhooks/{provider}.
func (r *Router) HandleProvider(ctx context.Context, req *protocol.InboundRequest) Outcome {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "webhook.deliver", attribute.String(otelhelper.ProviderKey, req.Provider))
	defer span.End()

	logger := r.logger.With("provider", req.Provider)

	adapter, ok := r.registry.WebhookAdapter(req.Provider)
	if !ok {
		return failure(http.StatusNotFound, "unknown provider "+req.Provider)
	}

	if response, ok := adapter.Challenge(req); ok {
		logger.InfoContext(ctx, "Answered webhook challenge")

		return Outcome{Status: http.StatusOK, Body: response}
	}

	targets, err := r.targets(ctx, adapter, req)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to resolve trigger resources", "error", err)

		return failure(http.StatusInternalServerError, "failed to resolve trigger")
	}

	if len(targets) == 0 {
		logger.InfoContext(ctx, "Ignoring webhook without active trigger")

		return ignored("no matching trigger")
	}

	return r.deliver(ctx, logger, adapter, req, targets)
}

// HandleWorkflow processes a delivery on /workflow-webhooks/{workflowID}.
// An empty nodeID targets every generic webhook node of the workflow.
func (r *Router) HandleWorkflow(ctx context.Context, workflowID, nodeID string, req *protocol.InboundRequest) Outcome {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "webhook.deliver",
		attribute.String(otelhelper.ProviderKey, GenericProvider),
		attribute.String(otelhelper.WorkflowIDKey, workflowID))
	defer span.End()

	logger := r.logger.With("provider", GenericProvider, "workflow_id", workflowID)
	req.Provider = GenericProvider

	adapter, ok := r.registry.WebhookAdapter(GenericProvider)
	if !ok {
		return failure(http.StatusNotFound, "generic webhooks are not enabled")
	}

	resources, err := r.resources.ListByWorkflow(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to list trigger resources", "error", err)

		return failure(http.StatusInternalServerError, "failed to resolve trigger")
	}

	var targets []target

	for _, resource := range resources {
		if resource.Provider != GenericProvider || !resource.IsActive() {
			continue
		}

		if nodeID != "" && resource.NodeID != nodeID {
			continue
		}

		targets = append(targets, target{resource: resource})
	}

	if len(targets) == 0 {
		logger.InfoContext(ctx, "Ignoring webhook without active trigger", "node_id", nodeID)

		return ignored("no matching trigger")
	}

	return r.deliver(ctx, logger, adapter, req, targets)
}

func (r *Router) targets(ctx context.Context, adapter protocol.WebhookAdapter, req *protocol.InboundRequest) ([]target, error) {
	if key := adapter.RoutingKey(req); key != "" {
		resource, err := r.resources.FindActiveBySecret(ctx, req.Provider, key)
		if persistence.IsTriggerResourceNotFound(err) {
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		return []target{{resource: resource}}, nil
	}

	if _, ok := adapter.(protocol.ResourceMatcher); !ok {
		return nil, nil
	}

	resources, err := r.resources.ListActive(ctx, req.Provider)
	if err != nil {
		return nil, err
	}

	targets := make([]target, 0, len(resources))
	for _, resource := range resources {
		targets = append(targets, target{resource: resource, matched: true})
	}

	return targets, nil
}

func (r *Router) deliver(
	ctx context.Context,
	logger *slog.Logger,
	adapter protocol.WebhookAdapter,
	req *protocol.InboundRequest,
	targets []target,
) Outcome {
	verified := targets[:0:0]

	for _, t := range targets {
		if adapter.Verify(req, t.resource) {
			verified = append(verified, t)
		}
	}

	if len(verified) == 0 {
		logger.WarnContext(ctx, "Rejected webhook with invalid signature")

		return failure(http.StatusUnauthorized, "invalid signature")
	}

	dispatched := 0
	failed := 0
	reason := "no matching event"

	for _, t := range verified {
		count, skip, err := r.deliverTo(ctx, adapter, req, t)

		switch {
		case errors.Is(err, errBadPayload):
			logger.WarnContext(ctx, "Rejected malformed webhook payload", "node_id", t.resource.NodeID, "error", err)

			if req.Provider == GenericProvider {
				return failure(http.StatusBadRequest, err.Error())
			}

			reason = "malformed payload"
		case err != nil:
			logger.ErrorContext(ctx, "Failed to dispatch trigger event",
				"workflow_id", t.resource.WorkflowID, "node_id", t.resource.NodeID, "error", err)

			failed++
		case skip != "":
			reason = skip
		}

		dispatched += count
	}

	// A 5xx makes the provider redeliver to every target, so it is only
	// returned when nothing went through.
	if dispatched == 0 && failed > 0 {
		return failure(http.StatusInternalServerError, "failed to dispatch event")
	}

	if dispatched == 0 {
		logger.InfoContext(ctx, "Ignoring webhook", "reason", reason)

		return ignored(reason)
	}

	logger.InfoContext(ctx, "Dispatched webhook events", "count", dispatched, "failed", failed)

	body := map[string]any{"received": true, "dispatched": dispatched}
	if failed > 0 {
		body["failed"] = failed
	}

	return Outcome{Status: http.StatusOK, Body: body}
}

// deliverTo normalizes the delivery for one resource and dispatches every
// record it accepts. It returns the last skip reason when nothing matched.
func (r *Router) deliverTo(
	ctx context.Context,
	adapter protocol.WebhookAdapter,
	req *protocol.InboundRequest,
	t target,
) (int, string, error) {
	resource := t.resource

	records, err := adapter.Normalize(resource.TriggerType, req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", errBadPayload, err)
	}

	matcher, _ := adapter.(protocol.ResourceMatcher)
	validator, _ := adapter.(protocol.PayloadValidator)

	dispatched := 0
	reason := ""

	for _, data := range records {
		if t.matched && !matcher.Match(req, data, resource) {
			continue
		}

		if validator != nil {
			if err := validator.ValidatePayload(resource.Config, data); err != nil {
				return dispatched, "", fmt.Errorf("%w: %v", errBadPayload, err)
			}
		}

		if skip := adapter.ShouldSkip(resource.TriggerType, resource.Config, data); skip != nil {
			reason = *skip

			continue
		}

		err := r.dispatcher.Dispatch(ctx, protocol.TriggerEvent{
			WorkflowID:  resource.WorkflowID,
			NodeID:      resource.NodeID,
			UserID:      resource.UserID,
			Provider:    resource.Provider,
			TriggerType: resource.TriggerType,
			Data:        data,
			ReceivedAt:  receivedAt(req),
		})
		if err != nil {
			return dispatched, "", err
		}

		dispatched++
	}

	return dispatched, reason, nil
}

func receivedAt(req *protocol.InboundRequest) time.Time {
	if req.ReceivedAt.IsZero() {
		return time.Now().UTC()
	}

	return req.ReceivedAt
}
