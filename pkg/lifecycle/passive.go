package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
)

// PassiveLifecycle serves triggers the user wires up by hand, such as the
// generic webhook. Activation only records a routing entry.
type PassiveLifecycle struct {
	base

	publicBase string
}

func NewPassiveLifecycle(provider string, resources persistence.TriggerResourceRepository, publicBase string, logger *slog.Logger) *PassiveLifecycle {
	return &PassiveLifecycle{
		base: base{
			provider:  provider,
			resources: resources,
			logger:    logger.With("module", "lifecycle", "provider", provider),
		},
		publicBase: publicBase,
	}
}

// WorkflowWebhookURL is the inbound endpoint of a generic webhook node.
func WorkflowWebhookURL(base, workflowID, nodeID string) string {
	return joinURL(base, "/workflow-webhooks/"+url.PathEscape(workflowID)) + "?node=" + url.QueryEscape(nodeID)
}

func (l *PassiveLifecycle) OnActivate(ctx context.Context, req protocol.ActivateRequest) (*models.TriggerResource, error) {
	existing, err := l.current(ctx, req.WorkflowID, req.NodeID)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.IsActive() {
		existing.TriggerType = req.TriggerType

		return l.refreshActive(ctx, existing, req.Config)
	}

	resource := existing
	if resource == nil {
		resource = &models.TriggerResource{
			WorkflowID: req.WorkflowID,
			NodeID:     req.NodeID,
			Provider:   l.provider,
		}
	}

	secret := resource.Secret()
	if secret == "" {
		secret = NewSecret()
	}

	webhookURL := WorkflowWebhookURL(l.publicBase, req.WorkflowID, req.NodeID)

	config := mergeConfig(nil, req.Config)
	config[ConfigSecret] = secret
	config[ConfigWebhookURL] = webhookURL
	config[ConfigInstructions] = fmt.Sprintf(
		"Send a POST request with a JSON body to %s. "+
			"Sign the raw body with HMAC-SHA256 using the secret and send the hex digest in the X-Webhook-Signature header.",
		webhookURL)

	resource.TriggerType = req.TriggerType
	resource.Config = config
	resource.UserID = req.UserID
	resource.Healthy = true
	resource.HealthDetails = ""

	if err := l.save(ctx, resource, triggerActivate); err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Webhook endpoint registered",
		"workflow_id", req.WorkflowID, "node_id", req.NodeID, "url", webhookURL)

	return resource, nil
}

func (l *PassiveLifecycle) OnDeactivate(ctx context.Context, workflowID, nodeID string) error {
	resource, err := l.current(ctx, workflowID, nodeID)
	if err != nil || resource == nil {
		return err
	}

	return l.save(ctx, resource, triggerDeactivate)
}

func (l *PassiveLifecycle) OnDelete(ctx context.Context, workflowID, nodeID string) error {
	resource, err := l.current(ctx, workflowID, nodeID)
	if err != nil || resource == nil {
		return err
	}

	return l.remove(ctx, resource)
}

// CheckHealth reports healthy while a routing entry is active. There is no
// remote side to probe.
func (l *PassiveLifecycle) CheckHealth(ctx context.Context, workflowID, _ string) protocol.HealthStatus {
	resources, err := activeResources(ctx, l.resources, workflowID, l.provider)
	if err != nil {
		return protocol.HealthStatus{Healthy: false, Details: err.Error()}
	}

	return protocol.HealthStatus{Healthy: true, Details: fmt.Sprintf("%d endpoint(s) active", len(resources))}
}
