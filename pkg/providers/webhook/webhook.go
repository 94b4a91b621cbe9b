// Package webhook implements the generic inbound webhook trigger.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

const (
	Provider        = "webhook"
	Received        = "webhook:received"
	SignatureHeader = "X-Webhook-Signature"
	configSchema    = "json_schema"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) Challenge(*protocol.InboundRequest) (any, bool) { return nil, false }

func (a *Adapter) RoutingKey(req *protocol.InboundRequest) string {
	return req.Query["token"]
}

// Verify accepts unsigned calls. A present signature must be the hex
// HMAC-SHA256 of the body, optionally prefixed with "sha256=".
func (a *Adapter) Verify(req *protocol.InboundRequest, resource *models.TriggerResource) bool {
	signature := req.Header(SignatureHeader)
	if signature == "" {
		return true
	}

	secret := resource.Secret()
	if secret == "" {
		return false
	}

	signature = strings.TrimPrefix(signature, "sha256=")

	return payload.EqualHex(signature, payload.Sign([]byte(secret), req.Body))
}

func (a *Adapter) Normalize(triggerType string, req *protocol.InboundRequest) ([]map[string]any, error) {
	if triggerType != Received {
		return nil, nil
	}

	var body any

	if len(strings.TrimSpace(string(req.Body))) > 0 {
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	headers := make(map[string]any, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}

	query := make(map[string]any, len(req.Query))
	for k, v := range req.Query {
		query[k] = v
	}

	return []map[string]any{{
		"webhook": map[string]any{
			"method":       req.Method,
			"url":          req.URL,
			"headers":      headers,
			"query_params": query,
			"timestamp":    req.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
		"body": body,
	}}, nil
}

// ShouldSkip honours an optional "method" restriction on the node.
func (a *Adapter) ShouldSkip(_ string, config, data map[string]any) *string {
	want := payload.String(config, "method")
	if want == "" {
		return nil
	}

	meta, _ := data["webhook"].(map[string]any)
	if got, _ := meta["method"].(string); strings.EqualFold(got, want) {
		return nil
	}

	reason := "method filter mismatch"

	return &reason
}

// ValidatePayload checks the body against the node's json_schema, if any.
func (a *Adapter) ValidatePayload(config, data map[string]any) error {
	schema := payload.Object(config, configSchema)
	if len(schema) == 0 {
		return nil
	}

	return ValidateSchema(schema, data["body"])
}

func ValidateSchema(schema map[string]any, body any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(body))
	if err != nil {
		return fmt.Errorf("invalid json schema: %w", err)
	}

	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(reasons, "; "))
	}

	return nil
}
