package shopify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"golang.org/x/oauth2"
)

func providerRequest(method, path string, token *oauth2.Token, body map[string]any) providerapi.Request {
	req := providerapi.Request{Method: method, Path: path, Token: token}
	if body != nil {
		req.Body = body
	}

	return req
}

type orderEnvelope struct {
	Order struct {
		ID   any    `json:"id"`
		Note string `json:"note"`
	} `json:"order"`
}

// CreateOrderNote sets, or appends to, the note of an order.
type CreateOrderNote struct {
	clients ClientFactory
}

func NewCreateOrderNote(clients ClientFactory) *CreateOrderNote {
	return &CreateOrderNote{clients: clients}
}

func (a *CreateOrderNote) Type() string { return "shopify:create_order_note" }

func (a *CreateOrderNote) SideEffecting() bool { return true }

func (a *CreateOrderNote) Execute(ctx context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	values := make(map[string]string, 3)

	for _, key := range []string{"shop", "orderId", "note"} {
		value, err := payload.RequireString(actx.NodeID, config, key)
		if err != nil {
			return models.Failed(err.Error())
		}

		values[key] = value
	}

	token, err := actx.Tokens.Token(ctx, actx.UserID, Provider)
	if err != nil {
		return models.Failed(err.Error())
	}

	client := a.clients(values["shop"])
	path := "/orders/" + values["orderId"] + ".json"
	note := values["note"]

	if appendNote, _ := config["append"].(bool); appendNote {
		var current orderEnvelope
		if err := client.Do(ctx, providerRequest(http.MethodGet, path, token, nil), &current); err != nil {
			return models.Failed(err.Error())
		}

		if existing := strings.TrimSpace(current.Order.Note); existing != "" {
			note = existing + "\n" + note
		}
	}

	var updated orderEnvelope

	err = client.Do(ctx, providerRequest(http.MethodPut, path, token, map[string]any{
		"order": map[string]any{"id": values["orderId"], "note": note},
	}), &updated)
	if err != nil {
		return models.Failed(err.Error())
	}

	return models.Succeeded(map[string]any{
		"orderId": idString(updated.Order.ID),
		"note":    updated.Order.Note,
	}, fmt.Sprintf("note saved on order %s", values["orderId"]))
}
