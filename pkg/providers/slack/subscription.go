package slack

import (
	"context"

	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"golang.org/x/oauth2"
)

// SubscriptionAPI binds triggers to a workspace. Event delivery itself is
// configured once on the Slack app; subscribing makes sure the bot is in the
// watched channel.
type SubscriptionAPI struct {
	client *providerapi.Client
}

func NewSubscriptionAPI(client *providerapi.Client) *SubscriptionAPI {
	return &SubscriptionAPI{client: client}
}

func (s *SubscriptionAPI) Subscribe(ctx context.Context, token *oauth2.Token, req lifecycle.SubscribeRequest) (*lifecycle.Subscription, error) {
	auth, err := call(ctx, s.client, token, "auth.test", nil)
	if err != nil {
		return nil, err
	}

	externalID := auth.TeamID

	if channel := payload.String(req.Config, "channel"); channel != "" {
		if _, err := call(ctx, s.client, token, "conversations.join", map[string]any{"channel": channel}); err != nil {
			return nil, err
		}

		externalID += ":" + channel
	}

	return &lifecycle.Subscription{
		ExternalID: externalID,
		Config:     map[string]any{"team_id": auth.TeamID, "team": auth.Team},
	}, nil
}

// Unsubscribe leaves the bot in place since other workflows may watch the
// same channel.
func (s *SubscriptionAPI) Unsubscribe(context.Context, *oauth2.Token, *models.TriggerResource) error {
	return nil
}

func (s *SubscriptionAPI) Check(ctx context.Context, token *oauth2.Token, _ *models.TriggerResource) error {
	_, err := call(ctx, s.client, token, "auth.test", nil)

	return err
}
