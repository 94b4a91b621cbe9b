package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
	"golang.org/x/oauth2"
)

const DefaultPollInterval = time.Minute

// PollSource is implemented by providers that have no push delivery.
type PollSource interface {
	Provider() string
	// Cursor returns the position after which items count as new.
	Cursor(ctx context.Context, token *oauth2.Token, config map[string]any) (string, error)
	// Poll returns the items newer than the resource cursor, normalized, and
	// the cursor to store next.
	Poll(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) ([]map[string]any, string, error)
}

// PollingLifecycle records polling registrations. The Poller does the work.
type PollingLifecycle struct {
	base

	source PollSource
	tokens protocol.TokenAccessor
}

func NewPollingLifecycle(source PollSource, tokens protocol.TokenAccessor, resources persistence.TriggerResourceRepository, logger *slog.Logger) *PollingLifecycle {
	return &PollingLifecycle{
		base: base{
			provider:  source.Provider(),
			resources: resources,
			logger:    logger.With("module", "lifecycle", "provider", source.Provider()),
		},
		source: source,
		tokens: tokens,
	}
}

func pollInterval(config map[string]any) (time.Duration, error) {
	raw, ok := config[ConfigInterval].(string)
	if !ok || raw == "" {
		return DefaultPollInterval, nil
	}

	interval, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}

	if interval < DefaultPollInterval {
		return DefaultPollInterval, nil
	}

	return interval, nil
}

func (l *PollingLifecycle) OnActivate(ctx context.Context, req protocol.ActivateRequest) (*models.TriggerResource, error) {
	if _, err := pollInterval(req.Config); err != nil {
		return nil, errs.NewConfigurationError(req.NodeID, ConfigInterval, err.Error())
	}

	existing, err := l.current(ctx, req.WorkflowID, req.NodeID)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.IsActive() {
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

	if _, err := transition(ctx, resource.Status, triggerActivate); err != nil {
		return nil, err
	}

	token, err := l.tokens.Token(ctx, req.UserID, l.provider)
	if err != nil {
		return nil, err
	}

	cursor, err := l.source.Cursor(ctx, token, req.Config)
	if err != nil {
		return nil, err
	}

	config := mergeConfig(nil, req.Config)
	config[ConfigCursor] = cursor

	resource.TriggerType = req.TriggerType
	resource.Config = config
	resource.UserID = req.UserID
	resource.Healthy = true
	resource.HealthDetails = ""

	if err := l.save(ctx, resource, triggerActivate); err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Polling registration created",
		"workflow_id", req.WorkflowID, "node_id", req.NodeID, "cursor", cursor)

	return resource, nil
}

func (l *PollingLifecycle) OnDeactivate(ctx context.Context, workflowID, nodeID string) error {
	resource, err := l.current(ctx, workflowID, nodeID)
	if err != nil || resource == nil {
		return err
	}

	return l.save(ctx, resource, triggerDeactivate)
}

func (l *PollingLifecycle) OnDelete(ctx context.Context, workflowID, nodeID string) error {
	resource, err := l.current(ctx, workflowID, nodeID)
	if err != nil || resource == nil {
		return err
	}

	return l.remove(ctx, resource)
}

func (l *PollingLifecycle) CheckHealth(ctx context.Context, workflowID, userID string) (status protocol.HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			status = protocol.HealthStatus{Healthy: false, Details: fmt.Sprintf("health check failed: %v", r)}
		}
	}()

	resources, err := activeResources(ctx, l.resources, workflowID, l.provider)
	if err != nil {
		return protocol.HealthStatus{Healthy: false, Details: err.Error()}
	}

	token, err := l.tokens.Token(ctx, userID, l.provider)
	if err != nil {
		return protocol.HealthStatus{Healthy: false, Details: err.Error()}
	}

	if _, err := l.source.Cursor(ctx, token, resources[0].Config); err != nil {
		return protocol.HealthStatus{Healthy: false, Details: err.Error()}
	}

	return protocol.HealthStatus{Healthy: true, Details: fmt.Sprintf("%d polling registration(s) healthy", len(resources))}
}
