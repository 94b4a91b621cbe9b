package shopify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"golang.org/x/oauth2"
)

type webhookEnvelope struct {
	Webhook struct {
		ID      any    `json:"id"`
		Topic   string `json:"topic"`
		Address string `json:"address"`
	} `json:"webhook"`
}

// SubscriptionAPI registers store webhooks through the Admin API.
type SubscriptionAPI struct {
	clients ClientFactory
}

func NewSubscriptionAPI(clients ClientFactory) *SubscriptionAPI {
	return &SubscriptionAPI{clients: clients}
}

func (s *SubscriptionAPI) Subscribe(ctx context.Context, token *oauth2.Token, req lifecycle.SubscribeRequest) (*lifecycle.Subscription, error) {
	shop, err := payload.RequireString(req.NodeID, req.Config, "shop")
	if err != nil {
		return nil, err
	}

	topic, ok := topics[req.TriggerType]
	if !ok {
		return nil, errs.NewConfigurationError(req.NodeID, "trigger_type", fmt.Sprintf("unsupported trigger %s", req.TriggerType))
	}

	var created webhookEnvelope

	err = s.clients(shop).Do(ctx, providerRequest(http.MethodPost, "/webhooks.json", token, map[string]any{
		"webhook": map[string]any{
			"topic":   topic,
			"address": req.CallbackURL,
			"format":  "json",
		},
	}), &created)
	if err != nil {
		return nil, err
	}

	return &lifecycle.Subscription{
		ExternalID: idString(created.Webhook.ID),
		Config:     map[string]any{"shop": normalizeShop(shop), "topic": topic},
	}, nil
}

func (s *SubscriptionAPI) Unsubscribe(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) error {
	path := "/webhooks/" + resource.ExternalID + ".json"

	return s.clients(payload.String(resource.Config, "shop")).Do(ctx, providerRequest(http.MethodDelete, path, token, nil), nil)
}

func (s *SubscriptionAPI) Check(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) error {
	var current webhookEnvelope

	path := "/webhooks/" + resource.ExternalID + ".json"

	if err := s.clients(payload.String(resource.Config, "shop")).Do(ctx, providerRequest(http.MethodGet, path, token, nil), &current); err != nil {
		return err
	}

	if current.Webhook.Address != payload.String(resource.Config, lifecycle.ConfigCallbackURL) {
		return fmt.Errorf("webhook %s points to %s", resource.ExternalID, current.Webhook.Address)
	}

	return nil
}
