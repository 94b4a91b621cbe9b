package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
)

// SubscribeRequest is what a provider needs to create a webhook
// subscription pointing back at us.
type SubscribeRequest struct {
	WorkflowID  string
	NodeID      string
	TriggerType string
	Config      map[string]any
	CallbackURL string
	Secret      string
}

// Subscription is the provider's answer to a subscribe call. Config entries
// are stored on the trigger resource.
type Subscription struct {
	ExternalID string
	Config     map[string]any
}

// SubscriptionAPI is implemented by providers that push events to a
// registered callback URL.
type SubscriptionAPI interface {
	Subscribe(ctx context.Context, token *oauth2.Token, req SubscribeRequest) (*Subscription, error)
	Unsubscribe(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) error
	// Check returns an error when the remote subscription is gone or broken.
	Check(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) error
}

// SubscriptionLifecycle manages remote webhook subscriptions.
type SubscriptionLifecycle struct {
	base

	api          SubscriptionAPI
	tokens       protocol.TokenAccessor
	callbackBase string
	backoff      func() retry.Backoff
}

type SubscriptionOption func(*SubscriptionLifecycle)

// WithUnsubscribeBackoff replaces the retry policy of remote cleanup calls.
func WithUnsubscribeBackoff(backoff func() retry.Backoff) SubscriptionOption {
	return func(l *SubscriptionLifecycle) { l.backoff = backoff }
}

func NewSubscriptionLifecycle(
	provider string,
	api SubscriptionAPI,
	tokens protocol.TokenAccessor,
	resources persistence.TriggerResourceRepository,
	callbackBase string,
	logger *slog.Logger,
	opts ...SubscriptionOption,
) *SubscriptionLifecycle {
	l := &SubscriptionLifecycle{
		base: base{
			provider:  provider,
			resources: resources,
			logger:    logger.With("module", "lifecycle", "provider", provider),
		},
		api:          api,
		tokens:       tokens,
		callbackBase: callbackBase,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewConstant(200*time.Millisecond))
		},
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// CallbackURL is the endpoint a provider posts to for a routing secret.
func CallbackURL(base, provider, secret string) string {
	return joinURL(base, "/webhooks/"+provider) + "?token=" + url.QueryEscape(secret)
}

func (l *SubscriptionLifecycle) OnActivate(ctx context.Context, req protocol.ActivateRequest) (*models.TriggerResource, error) {
	existing, err := l.current(ctx, req.WorkflowID, req.NodeID)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.IsActive() && existing.TriggerType == req.TriggerType {
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

	// A trigger type change on an active node replaces the subscription.
	if existing != nil && existing.IsActive() {
		l.unsubscribe(ctx, existing)
	}

	token, err := l.tokens.Token(ctx, req.UserID, l.provider)
	if err != nil {
		return nil, err
	}

	secret := resource.Secret()
	if secret == "" {
		secret = NewSecret()
	}

	callback := CallbackURL(l.callbackBase, l.provider, secret)

	subscription, err := l.api.Subscribe(ctx, token, SubscribeRequest{
		WorkflowID:  req.WorkflowID,
		NodeID:      req.NodeID,
		TriggerType: req.TriggerType,
		Config:      req.Config,
		CallbackURL: callback,
		Secret:      secret,
	})
	if err != nil {
		l.logger.WarnContext(ctx, "Provider rejected subscription",
			"workflow_id", req.WorkflowID, "node_id", req.NodeID, "error", err)

		return nil, err
	}

	config := mergeConfig(subscription.Config, req.Config)
	config[ConfigSecret] = secret
	config[ConfigCallbackURL] = callback

	resource.TriggerType = req.TriggerType
	resource.ExternalID = subscription.ExternalID
	resource.Config = config
	resource.UserID = req.UserID
	resource.Healthy = true
	resource.HealthDetails = ""

	if err := l.save(ctx, resource, triggerActivate); err != nil {
		l.unsubscribe(ctx, resource)

		return nil, err
	}

	l.logger.InfoContext(ctx, "Trigger subscription created",
		"workflow_id", req.WorkflowID, "node_id", req.NodeID, "external_id", resource.ExternalID)

	return resource, nil
}

func (l *SubscriptionLifecycle) OnDeactivate(ctx context.Context, workflowID, nodeID string) error {
	resource, err := l.current(ctx, workflowID, nodeID)
	if err != nil || resource == nil {
		return err
	}

	if resource.IsActive() {
		l.unsubscribe(ctx, resource)
	}

	return l.save(ctx, resource, triggerDeactivate)
}

func (l *SubscriptionLifecycle) OnDelete(ctx context.Context, workflowID, nodeID string) error {
	resource, err := l.current(ctx, workflowID, nodeID)
	if err != nil || resource == nil {
		return err
	}

	if resource.IsActive() {
		l.unsubscribe(ctx, resource)
	}

	return l.remove(ctx, resource)
}

// unsubscribe removes the remote subscription. Failures are logged; the
// local state change goes ahead regardless.
func (l *SubscriptionLifecycle) unsubscribe(ctx context.Context, resource *models.TriggerResource) {
	if resource.ExternalID == "" {
		return
	}

	logger := l.logger.With("workflow_id", resource.WorkflowID, "node_id", resource.NodeID, "external_id", resource.ExternalID)

	token, err := l.tokens.Token(ctx, resource.UserID, l.provider)
	if err != nil {
		logger.WarnContext(ctx, "Skipping remote unsubscribe, no usable token", "error", err)

		return
	}

	err = retry.Do(ctx, l.backoff(), func(ctx context.Context) error {
		err := l.api.Unsubscribe(ctx, token, resource)
		if retryable(err) {
			return retry.RetryableError(err)
		}

		return err
	})
	if err != nil {
		logger.ErrorContext(ctx, "Remote unsubscribe failed", "error", err)

		return
	}

	resource.ExternalID = ""

	logger.InfoContext(ctx, "Remote subscription removed")
}

func retryable(err error) bool {
	if err == nil {
		return false
	}

	apiErr, ok := errs.AsExternalAPI(err)
	if !ok {
		return !errors.Is(err, context.Canceled)
	}

	return apiErr.Kind == errs.KindUnavailable || apiErr.Kind == errs.KindRateLimited
}

func (l *SubscriptionLifecycle) CheckHealth(ctx context.Context, workflowID, userID string) (status protocol.HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "Health check panicked", "workflow_id", workflowID, "panic", r)
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

	var problems []string

	for _, resource := range resources {
		if resource.ExternalID == "" {
			problems = append(problems, describe(resource, errors.New("no remote subscription")))

			continue
		}

		if err := l.api.Check(ctx, token, resource); err != nil {
			problems = append(problems, describe(resource, err))
		}
	}

	if len(problems) > 0 {
		return protocol.HealthStatus{Healthy: false, Details: strings.Join(problems, "; ")}
	}

	return protocol.HealthStatus{Healthy: true, Details: fmt.Sprintf("%d subscription(s) healthy", len(resources))}
}

// activeResources lists a workflow's active resources of one provider.
func activeResources(ctx context.Context, repo persistence.TriggerResourceRepository, workflowID, provider string) ([]*models.TriggerResource, error) {
	all, err := repo.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, errs.NewDatabaseError("list trigger resources", err)
	}

	active := make([]*models.TriggerResource, 0, len(all))

	for _, resource := range all {
		if resource.Provider == provider && resource.IsActive() {
			active = append(active, resource)
		}
	}

	if len(active) == 0 {
		return nil, errNoResources
	}

	return active, nil
}
