package shopify

import (
	"encoding/json"
	"fmt"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/protocol"
)

const (
	hmacHeader  = "X-Shopify-Hmac-Sha256"
	topicHeader = "X-Shopify-Topic"
)

// Adapter handles Shopify webhook deliveries.
type Adapter struct {
	clientSecret string
}

// NewAdapter builds the adapter. Shopify signs deliveries with the app
// client secret; without one the resource routing secret is used.
func NewAdapter(clientSecret string) *Adapter {
	return &Adapter{clientSecret: clientSecret}
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) Challenge(*protocol.InboundRequest) (any, bool) { return nil, false }

func (a *Adapter) RoutingKey(req *protocol.InboundRequest) string {
	return req.Query["token"]
}

// Verify requires a valid base64 HMAC of the raw body.
func (a *Adapter) Verify(req *protocol.InboundRequest, resource *models.TriggerResource) bool {
	key := a.clientSecret
	if key == "" {
		key = resource.Secret()
	}

	return payload.EqualBase64(req.Header(hmacHeader), payload.Sign([]byte(key), req.Body))
}

func (a *Adapter) Normalize(triggerType string, req *protocol.InboundRequest) ([]map[string]any, error) {
	if topic := req.Header(topicHeader); topic != "" && topic != topics[triggerType] {
		return nil, nil
	}

	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, fmt.Errorf("invalid shopify payload: %w", err)
	}

	switch triggerType {
	case NewOrder:
		return []map[string]any{normalizeOrder(body)}, nil
	case NewCustomer:
		return []map[string]any{normalizeCustomer(body)}, nil
	}

	return nil, nil
}

func normalizeOrder(order map[string]any) map[string]any {
	customer, _ := order["customer"].(map[string]any)
	rawItems, _ := order["line_items"].([]any)

	items := make([]map[string]any, 0, len(rawItems))

	for _, raw := range rawItems {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		items = append(items, map[string]any{
			"title":    item["title"],
			"quantity": item["quantity"],
			"price":    item["price"],
			"sku":      item["sku"],
		})
	}

	return map[string]any{
		"orderId":           idString(order["id"]),
		"orderNumber":       order["name"],
		"email":             order["email"],
		"totalPrice":        order["total_price"],
		"currency":          order["currency"],
		"financialStatus":   order["financial_status"],
		"fulfillmentStatus": order["fulfillment_status"],
		"customerId":        idString(customer["id"]),
		"customerEmail":     customer["email"],
		"lineItems":         items,
		"createdAt":         order["created_at"],
	}
}

func normalizeCustomer(customer map[string]any) map[string]any {
	return map[string]any{
		"customerId": idString(customer["id"]),
		"email":      customer["email"],
		"firstName":  customer["first_name"],
		"lastName":   customer["last_name"],
		"phone":      customer["phone"],
		"createdAt":  customer["created_at"],
	}
}

func idString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

var filters = []payload.Filter{
	{ConfigKey: "financialStatus", Field: "financialStatus", Label: "financial status"},
	{ConfigKey: "currency", Field: "currency", Label: "currency"},
}

func (a *Adapter) ShouldSkip(_ string, config, data map[string]any) *string {
	return payload.Check(filters, config, data)
}
