// Package integrations holds the static catalog of supported providers.
package integrations

import "slices"

// LifecycleKind tells how a provider's triggers are registered.
type LifecycleKind string

const (
	LifecycleWebhook LifecycleKind = "webhook" // remote subscription pushing to us
	LifecyclePolling LifecycleKind = "polling" // we poll the provider
	LifecyclePassive LifecycleKind = "passive" // user wires the URL by hand
)

// Provider describes one third-party integration.
type Provider struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Lifecycle    LifecycleKind `json:"lifecycle"`
	BaseURL      string        `json:"base_url,omitempty"`
	AuthURL      string        `json:"auth_url,omitempty"`
	TokenURL     string        `json:"token_url,omitempty"`
	Scopes       []string      `json:"scopes,omitempty"`
	TriggerTypes []string      `json:"trigger_types"`
	ActionTypes  []string      `json:"action_types"`
	RequiresAuth bool          `json:"requires_auth"`
}

const (
	Slack    = "slack"
	Gmail    = "gmail"
	HubSpot  = "hubspot"
	Airtable = "airtable"
	Shopify  = "shopify"
	Webhook  = "webhook"
	Core     = "core"
	AI       = "ai"
)

// Catalog returns the built-in provider definitions.
func Catalog() []Provider {
	return []Provider{
		{
			ID:           Slack,
			Name:         "Slack",
			Lifecycle:    LifecycleWebhook,
			BaseURL:      "https://slack.com/api",
			AuthURL:      "https://slack.com/oauth/v2/authorize",
			TokenURL:     "https://slack.com/api/oauth.v2.access",
			Scopes:       []string{"chat:write", "channels:read", "channels:history"},
			TriggerTypes: []string{"slack:new_message", "slack:reaction_added"},
			ActionTypes:  []string{"slack:send_message"},
			RequiresAuth: true,
		},
		{
			ID:           Gmail,
			Name:         "Gmail",
			Lifecycle:    LifecyclePolling,
			BaseURL:      "https://gmail.googleapis.com",
			AuthURL:      "https://accounts.google.com/o/oauth2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			Scopes:       []string{"https://www.googleapis.com/auth/gmail.modify"},
			TriggerTypes: []string{"gmail:new_email"},
			ActionTypes:  []string{"gmail:send_email"},
			RequiresAuth: true,
		},
		{
			ID:        HubSpot,
			Name:      "HubSpot",
			Lifecycle: LifecycleWebhook,
			BaseURL:   "https://api.hubapi.com",
			AuthURL:   "https://app.hubspot.com/oauth/authorize",
			TokenURL:  "https://api.hubapi.com/oauth/v1/token",
			Scopes:    []string{"crm.objects.contacts.write", "tickets", "forms"},
			TriggerTypes: []string{
				"hubspot:ticket_created", "hubspot:ticket_updated",
				"hubspot:note_created", "hubspot:call_created",
				"hubspot:task_created", "hubspot:meeting_created",
				"hubspot:form_submission", "hubspot:contact_created",
			},
			ActionTypes:  []string{"hubspot:create_contact", "hubspot:create_ticket"},
			RequiresAuth: true,
		},
		{
			ID:           Airtable,
			Name:         "Airtable",
			Lifecycle:    LifecycleWebhook,
			BaseURL:      "https://api.airtable.com/v0",
			AuthURL:      "https://airtable.com/oauth2/v1/authorize",
			TokenURL:     "https://airtable.com/oauth2/v1/token",
			Scopes:       []string{"data.records:read", "data.records:write", "webhook:manage"},
			TriggerTypes: []string{"airtable:record_changed"},
			ActionTypes:  []string{"airtable:create_record"},
			RequiresAuth: true,
		},
		{
			ID:           Shopify,
			Name:         "Shopify",
			Lifecycle:    LifecycleWebhook,
			Scopes:       []string{"read_orders", "write_orders", "read_customers"},
			TriggerTypes: []string{"shopify:new_order", "shopify:new_customer"},
			ActionTypes:  []string{"shopify:create_order_note"},
			RequiresAuth: true,
		},
		{
			ID:           Webhook,
			Name:         "Webhook",
			Lifecycle:    LifecyclePassive,
			TriggerTypes: []string{"webhook:received"},
		},
		{
			ID:          Core,
			Name:        "Core",
			ActionTypes: []string{"core:http_request", "core:log", "core:transform"},
		},
		{
			ID:          AI,
			Name:        "AI",
			ActionTypes: []string{"ai:agent"},
		},
	}
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Provider, bool) {
	idx := slices.IndexFunc(Catalog(), func(p Provider) bool { return p.ID == id })
	if idx < 0 {
		return Provider{}, false
	}

	return Catalog()[idx], true
}
