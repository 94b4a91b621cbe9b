// Package providers wires the built-in integrations into a registry.
package providers

import (
	"log/slog"

	"github.com/dukex/triggerhub/pkg/actions/httprequest"
	actionlog "github.com/dukex/triggerhub/pkg/actions/log"
	"github.com/dukex/triggerhub/pkg/actions/transform"
	"github.com/dukex/triggerhub/pkg/credentials"
	"github.com/dukex/triggerhub/pkg/integrations"
	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"github.com/dukex/triggerhub/pkg/providers/airtable"
	"github.com/dukex/triggerhub/pkg/providers/gmail"
	"github.com/dukex/triggerhub/pkg/providers/hubspot"
	"github.com/dukex/triggerhub/pkg/providers/shopify"
	"github.com/dukex/triggerhub/pkg/providers/slack"
	"github.com/dukex/triggerhub/pkg/providers/webhook"
	"github.com/dukex/triggerhub/pkg/registry"
)

// UserAgent is sent on every provider API call.
const UserAgent = "triggerhub/1.0"

// Config carries the deployment settings providers need.
type Config struct {
	// PublicURL is the externally reachable base of the webhook endpoints.
	PublicURL string

	// Credentials holds the OAuth application credentials by provider id.
	Credentials map[string]credentials.ClientCredentials

	SlackSigningSecret string
	HubSpotAppID       string

	// BaseURLs overrides catalog API base URLs by provider id.
	BaseURLs map[string]string

	ClientOptions []providerapi.Option
}

func (c Config) secret(provider string) string {
	return c.Credentials[provider].ClientSecret
}

func (c Config) baseURL(provider integrations.Provider) string {
	if url, ok := c.BaseURLs[provider.ID]; ok {
		return url
	}

	return provider.BaseURL
}

// Register adds every catalog provider with its actions, trigger lifecycle
// and webhook adapter to reg, and returns the poll sources for the Poller.
func Register(
	reg *registry.Registry,
	cfg Config,
	tokens *credentials.Manager,
	resources persistence.TriggerResourceRepository,
	logger *slog.Logger,
) []lifecycle.PollSource {
	clients := make(map[string]*providerapi.Client)
	options := append([]providerapi.Option{providerapi.WithHeader("User-Agent", UserAgent)}, cfg.ClientOptions...)

	for _, provider := range integrations.Catalog() {
		reg.RegisterProvider(provider)

		if creds, ok := cfg.Credentials[provider.ID]; ok && provider.TokenURL != "" {
			tokens.Configure(provider.ID, credentials.OAuthConfig(provider, creds))
		}

		if url := cfg.baseURL(provider); url != "" {
			clients[provider.ID] = providerapi.New(provider.ID, url, options...)
		}
	}

	subscribe := func(provider string, api lifecycle.SubscriptionAPI) protocol.TriggerLifecycle {
		return lifecycle.NewSubscriptionLifecycle(provider, api, tokens, resources, cfg.PublicURL, logger)
	}

	// Core.
	reg.RegisterAction(httprequest.NewAction())
	reg.RegisterAction(actionlog.NewAction())
	reg.RegisterAction(transform.NewAction())

	// Slack.
	reg.RegisterAction(slack.NewSendMessage(clients[slack.Provider]))
	reg.RegisterLifecycle(subscribe(slack.Provider, slack.NewSubscriptionAPI(clients[slack.Provider])))
	reg.RegisterWebhookAdapter(slack.NewAdapter(cfg.SlackSigningSecret))

	// HubSpot.
	reg.RegisterAction(hubspot.NewCreateContact(clients[hubspot.Provider]))
	reg.RegisterAction(hubspot.NewCreateTicket(clients[hubspot.Provider]))
	reg.RegisterLifecycle(subscribe(hubspot.Provider, hubspot.NewSubscriptionAPI(clients[hubspot.Provider], cfg.HubSpotAppID)))
	reg.RegisterWebhookAdapter(hubspot.NewAdapter(cfg.secret(hubspot.Provider)))

	// Airtable.
	reg.RegisterAction(airtable.NewCreateRecord(clients[airtable.Provider]))
	reg.RegisterLifecycle(subscribe(airtable.Provider, airtable.NewSubscriptionAPI(clients[airtable.Provider])))
	reg.RegisterWebhookAdapter(airtable.NewAdapter())

	// Shopify talks to one admin API per shop.
	shops := shopify.AdminClients(options...)
	reg.RegisterAction(shopify.NewCreateOrderNote(shops))
	reg.RegisterLifecycle(subscribe(shopify.Provider, shopify.NewSubscriptionAPI(shops)))
	reg.RegisterWebhookAdapter(shopify.NewAdapter(cfg.secret(shopify.Provider)))

	// Gmail has no push delivery.
	mailbox := gmail.NewPollSource(clients[gmail.Provider])
	reg.RegisterAction(gmail.NewSendEmail(clients[gmail.Provider]))
	reg.RegisterLifecycle(lifecycle.NewPollingLifecycle(mailbox, tokens, resources, logger))

	// Generic webhook.
	reg.RegisterLifecycle(lifecycle.NewPassiveLifecycle(webhook.Provider, resources, cfg.PublicURL, logger))
	reg.RegisterWebhookAdapter(webhook.NewAdapter())

	return []lifecycle.PollSource{mailbox}
}
