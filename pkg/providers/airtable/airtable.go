// Package airtable integrates Airtable base webhooks and record creation.
package airtable

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"golang.org/x/oauth2"
)

const (
	Provider      = "airtable"
	RecordChanged = "airtable:record_changed"
	macHeader     = "X-Airtable-Content-Mac"
	configMAC     = "mac_secret"
)

// SubscriptionAPI manages base webhooks.
type SubscriptionAPI struct {
	client *providerapi.Client
}

func NewSubscriptionAPI(client *providerapi.Client) *SubscriptionAPI {
	return &SubscriptionAPI{client: client}
}

type webhookResponse struct {
	ID              string `json:"id"`
	MacSecretBase64 string `json:"macSecretBase64"`
	ExpirationTime  string `json:"expirationTime"`
}

type webhookList struct {
	Webhooks []struct {
		ID                 string `json:"id"`
		IsHookEnabled      bool   `json:"isHookEnabled"`
		AreNotificationsOn bool   `json:"areNotificationsEnabled"`
		NotificationURL    string `json:"notificationUrl"`
	} `json:"webhooks"`
}

func (s *SubscriptionAPI) Subscribe(ctx context.Context, token *oauth2.Token, req lifecycle.SubscribeRequest) (*lifecycle.Subscription, error) {
	baseID, err := payload.RequireString(req.NodeID, req.Config, "baseId")
	if err != nil {
		return nil, err
	}

	filters := map[string]any{"dataTypes": []string{"tableData"}}
	if table := payload.String(req.Config, "tableId"); table != "" {
		filters["recordChangeScope"] = table
	}

	var created webhookResponse

	err = s.client.Do(ctx, providerapi.Request{
		Method: http.MethodPost,
		Path:   "/bases/" + url.PathEscape(baseID) + "/webhooks",
		Token:  token,
		Body: map[string]any{
			"notificationUrl": req.CallbackURL,
			"specification":   map[string]any{"options": map[string]any{"filters": filters}},
		},
	}, &created)
	if err != nil {
		return nil, err
	}

	return &lifecycle.Subscription{
		ExternalID: created.ID,
		Config: map[string]any{
			"baseId":          baseID,
			configMAC:         created.MacSecretBase64,
			"expiration_time": created.ExpirationTime,
		},
	}, nil
}

func (s *SubscriptionAPI) Unsubscribe(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) error {
	return s.client.Do(ctx, providerapi.Request{
		Method: http.MethodDelete,
		Path:   "/bases/" + url.PathEscape(payload.String(resource.Config, "baseId")) + "/webhooks/" + resource.ExternalID,
		Token:  token,
	}, nil)
}

func (s *SubscriptionAPI) Check(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) error {
	var list webhookList

	err := s.client.Do(ctx, providerapi.Request{
		Path:  "/bases/" + url.PathEscape(payload.String(resource.Config, "baseId")) + "/webhooks",
		Token: token,
	}, &list)
	if err != nil {
		return err
	}

	for _, hook := range list.Webhooks {
		if hook.ID != resource.ExternalID {
			continue
		}

		if !hook.IsHookEnabled || !hook.AreNotificationsOn {
			return fmt.Errorf("webhook %s is disabled", hook.ID)
		}

		return nil
	}

	return fmt.Errorf("webhook %s not found", resource.ExternalID)
}

// Adapter handles Airtable change notifications. Notifications only announce
// that a base changed; the payloads are fetched by downstream nodes.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) Challenge(*protocol.InboundRequest) (any, bool) { return nil, false }

func (a *Adapter) RoutingKey(req *protocol.InboundRequest) string {
	return req.Query["token"]
}

// Verify checks X-Airtable-Content-MAC with the webhook MAC secret.
func (a *Adapter) Verify(req *protocol.InboundRequest, resource *models.TriggerResource) bool {
	secret, err := base64.StdEncoding.DecodeString(payload.String(resource.Config, configMAC))
	if err != nil || len(secret) == 0 {
		return true
	}

	signature, ok := strings.CutPrefix(req.Header(macHeader), "hmac-sha256=")
	if !ok {
		return false
	}

	return payload.EqualHex(signature, payload.Sign(secret, req.Body))
}

type notification struct {
	Base struct {
		ID string `json:"id"`
	} `json:"base"`
	Webhook struct {
		ID string `json:"id"`
	} `json:"webhook"`
	Timestamp string `json:"timestamp"`
}

func (a *Adapter) Normalize(triggerType string, req *protocol.InboundRequest) ([]map[string]any, error) {
	if triggerType != RecordChanged {
		return nil, nil
	}

	var n notification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, fmt.Errorf("invalid airtable payload: %w", err)
	}

	if n.Webhook.ID == "" {
		return nil, nil
	}

	return []map[string]any{{
		"baseId":    n.Base.ID,
		"webhookId": n.Webhook.ID,
		"timestamp": n.Timestamp,
	}}, nil
}

func (a *Adapter) ShouldSkip(string, map[string]any, map[string]any) *string {
	return nil
}

// CreateRecord adds a row to a table.
type CreateRecord struct {
	client *providerapi.Client
}

func NewCreateRecord(client *providerapi.Client) *CreateRecord {
	return &CreateRecord{client: client}
}

func (a *CreateRecord) Type() string { return "airtable:create_record" }

func (a *CreateRecord) SideEffecting() bool { return true }

type recordResponse struct {
	ID          string         `json:"id"`
	Fields      map[string]any `json:"fields"`
	CreatedTime string         `json:"createdTime"`
}

func (a *CreateRecord) Execute(ctx context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	baseID, err := payload.RequireString(actx.NodeID, config, "baseId")
	if err != nil {
		return models.Failed(err.Error())
	}

	table, err := payload.RequireString(actx.NodeID, config, "tableName")
	if err != nil {
		return models.Failed(err.Error())
	}

	fields := payload.Object(config, "fields")
	if len(fields) == 0 {
		return models.Failed(errs.NewConfigurationError(actx.NodeID, "fields", "at least one field is required").Error())
	}

	token, err := actx.Tokens.Token(ctx, actx.UserID, Provider)
	if err != nil {
		return models.Failed(err.Error())
	}

	var created recordResponse

	err = a.client.Do(ctx, providerapi.Request{
		Method: http.MethodPost,
		Path:   "/" + url.PathEscape(baseID) + "/" + url.PathEscape(table),
		Token:  token,
		Body:   map[string]any{"fields": fields, "typecast": true},
	}, &created)
	if err != nil {
		return models.Failed(err.Error())
	}

	return models.Succeeded(map[string]any{
		"recordId":    created.ID,
		"fields":      created.Fields,
		"createdTime": created.CreatedTime,
	}, fmt.Sprintf("record %s created", created.ID))
}
