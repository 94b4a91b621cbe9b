package hubspot

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"golang.org/x/oauth2"
)

var triggerEventTypes = func() map[string]string {
	types := make(map[string]string, len(subscriptionTriggers))
	for eventType, trigger := range subscriptionTriggers {
		types[trigger] = eventType
	}

	return types
}()

// SubscriptionAPI manages HubSpot app webhook subscriptions.
type SubscriptionAPI struct {
	client *providerapi.Client
	appID  string
}

func NewSubscriptionAPI(client *providerapi.Client, appID string) *SubscriptionAPI {
	return &SubscriptionAPI{client: client, appID: appID}
}

func (s *SubscriptionAPI) app(config map[string]any) string {
	if appID := payload.String(config, "app_id"); appID != "" {
		return appID
	}

	return s.appID
}

type subscriptionResponse struct {
	ID     any    `json:"id"`
	Active bool   `json:"active"`
	Type   string `json:"eventType"`
}

type accountResponse struct {
	PortalID any `json:"portalId"`
}

func (s *SubscriptionAPI) Subscribe(ctx context.Context, token *oauth2.Token, req lifecycle.SubscribeRequest) (*lifecycle.Subscription, error) {
	eventType, ok := triggerEventTypes[req.TriggerType]
	if !ok {
		return nil, errs.NewConfigurationError(req.NodeID, "trigger_type", fmt.Sprintf("unsupported trigger %s", req.TriggerType))
	}

	appID := s.app(req.Config)
	if appID == "" {
		return nil, errs.NewConfigurationError(req.NodeID, "app_id", "hubspot app id is not configured")
	}

	var account accountResponse

	if err := s.client.Do(ctx, providerapi.Request{Path: "/account-info/v3/details", Token: token}, &account); err != nil {
		return nil, err
	}

	var created subscriptionResponse

	err := s.client.Do(ctx, providerapi.Request{
		Method: http.MethodPost,
		Path:   "/webhooks/v3/" + appID + "/subscriptions",
		Token:  token,
		Body: map[string]any{
			"eventType": eventType,
			"active":    true,
			"targetUrl": req.CallbackURL,
		},
	}, &created)
	if err != nil {
		return nil, err
	}

	return &lifecycle.Subscription{
		ExternalID: idString(created.ID),
		Config: map[string]any{
			"app_id":     appID,
			"portal_id":  idString(account.PortalID),
			"event_type": eventType,
		},
	}, nil
}

func (s *SubscriptionAPI) Unsubscribe(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) error {
	return s.client.Do(ctx, providerapi.Request{
		Method: http.MethodDelete,
		Path:   "/webhooks/v3/" + s.app(resource.Config) + "/subscriptions/" + resource.ExternalID,
		Token:  token,
	}, nil)
}

func (s *SubscriptionAPI) Check(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) error {
	var current subscriptionResponse

	err := s.client.Do(ctx, providerapi.Request{
		Path:  "/webhooks/v3/" + s.app(resource.Config) + "/subscriptions/" + resource.ExternalID,
		Token: token,
	}, &current)
	if err != nil {
		return err
	}

	if !current.Active {
		return fmt.Errorf("subscription %s is paused", resource.ExternalID)
	}

	return nil
}
