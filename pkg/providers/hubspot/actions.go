package hubspot

import (
	"context"
	"fmt"
	"maps"
	"net/http"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/providerapi"
)

type objectResponse struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	CreatedAt  string         `json:"createdAt"`
}

// CreateContact creates a CRM contact.
type CreateContact struct {
	client *providerapi.Client
}

func NewCreateContact(client *providerapi.Client) *CreateContact {
	return &CreateContact{client: client}
}

func (a *CreateContact) Type() string { return "hubspot:create_contact" }

func (a *CreateContact) SideEffecting() bool { return true }

func (a *CreateContact) Execute(ctx context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	email, err := payload.RequireString(actx.NodeID, config, "email")
	if err != nil {
		return models.Failed(err.Error())
	}

	properties := map[string]any{"email": email}
	for _, key := range []string{"firstname", "lastname", "phone", "company", "lifecyclestage"} {
		if value := payload.String(config, key); value != "" {
			properties[key] = value
		}
	}

	maps.Copy(properties, payload.Object(config, "properties"))

	created, err := createObject(ctx, a.client, actx, "contacts", properties)
	if err != nil {
		return models.Failed(err.Error())
	}

	return models.Succeeded(map[string]any{
		"contactId":  created.ID,
		"properties": created.Properties,
		"createdAt":  created.CreatedAt,
	}, fmt.Sprintf("contact %s created", created.ID))
}

// CreateTicket opens a support ticket, optionally linked to a contact.
type CreateTicket struct {
	client *providerapi.Client
}

func NewCreateTicket(client *providerapi.Client) *CreateTicket {
	return &CreateTicket{client: client}
}

func (a *CreateTicket) Type() string { return "hubspot:create_ticket" }

func (a *CreateTicket) SideEffecting() bool { return true }

func (a *CreateTicket) Execute(ctx context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	subject, err := payload.RequireString(actx.NodeID, config, "subject")
	if err != nil {
		return models.Failed(err.Error())
	}

	properties := map[string]any{
		"subject":           subject,
		"hs_pipeline":       "0",
		"hs_pipeline_stage": "1",
	}

	for _, key := range []string{"content", "hs_pipeline", "hs_pipeline_stage", "hs_ticket_priority", "hs_ticket_category", "hubspot_owner_id"} {
		if value := payload.String(config, key); value != "" {
			properties[key] = value
		}
	}

	maps.Copy(properties, payload.Object(config, "properties"))

	created, err := createObject(ctx, a.client, actx, "tickets", properties)
	if err != nil {
		return models.Failed(err.Error())
	}

	output := map[string]any{
		"ticketId":   created.ID,
		"properties": created.Properties,
		"createdAt":  created.CreatedAt,
	}

	if contactID := payload.String(config, "associatedContactId"); contactID != "" {
		token, err := actx.Tokens.Token(ctx, actx.UserID, Provider)
		if err == nil {
			err = a.client.Do(ctx, providerapi.Request{
				Method: http.MethodPut,
				Path:   "/crm/v4/objects/tickets/" + created.ID + "/associations/default/contacts/" + contactID,
				Token:  token,
			}, nil)
		}

		if err != nil {
			result := models.Failed(fmt.Sprintf("ticket %s created but contact association failed: %v", created.ID, err))
			result.Output = output

			return result
		}

		output["associatedContactId"] = contactID
	}

	return models.Succeeded(output, fmt.Sprintf("ticket %s created", created.ID))
}

func createObject(ctx context.Context, client *providerapi.Client, actx protocol.ActionContext, object string, properties map[string]any) (*objectResponse, error) {
	token, err := actx.Tokens.Token(ctx, actx.UserID, Provider)
	if err != nil {
		return nil, err
	}

	var created objectResponse

	err = client.Do(ctx, providerapi.Request{
		Method: http.MethodPost,
		Path:   "/crm/v3/objects/" + object,
		Token:  token,
		Body:   map[string]any{"properties": properties},
	}, &created)
	if err != nil {
		return nil, err
	}

	return &created, nil
}
