// Package httprequest provides the generic HTTP request action.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/go-resty/resty/v2"
)

const (
	Type                  = "core:http_request"
	defaultTimeoutSeconds = 30
	maxAttempts           = 5
)

// Action performs an HTTP request to an arbitrary URL.
type Action struct {
	client *resty.Client
}

func NewAction() *Action {
	return &Action{client: resty.New()}
}

func (a *Action) Type() string { return Type }

func (a *Action) SideEffecting() bool { return true }

// Request is the parsed node configuration.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Query   map[string]string
	Body    any
	Timeout time.Duration
	Retry   RetryConfig
}

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// ParseRequest reads the action configuration. A url is required, or the
// host/path/protocol triple.
func ParseRequest(nodeID string, config map[string]any) (*Request, error) {
	target, _ := config["url"].(string)
	if target == "" {
		host, _ := config["host"].(string)
		if host == "" {
			return nil, errs.NewConfigurationError(nodeID, "url", "url or host is required")
		}

		protocol, _ := config["protocol"].(string)
		if protocol == "" {
			protocol = "https"
		}

		path, _ := config["path"].(string)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		target = fmt.Sprintf("%s://%s%s", protocol, host, path)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	req := &Request{
		URL:     target,
		Method:  strings.ToUpper(method),
		Headers: stringMap(config["headers"]),
		Query:   stringMap(config["query"]),
		Body:    config["body"],
		Timeout: defaultTimeoutSeconds * time.Second,
		Retry:   RetryConfig{Attempts: 1},
	}

	if seconds, ok := number(config["timeout_seconds"]); ok && seconds > 0 {
		req.Timeout = time.Duration(seconds * float64(time.Second))
	}

	if retry, ok := config["retry"].(map[string]any); ok {
		req.Retry = parseRetryConfig(retry)
	}

	return req, nil
}

func parseRetryConfig(retryMap map[string]any) RetryConfig {
	retry := RetryConfig{Attempts: 1}

	if attempts, ok := number(retryMap["attempts"]); ok && attempts >= 1 {
		retry.Attempts = min(int(attempts), maxAttempts)
	}

	// delay is in milliseconds
	if delay, ok := number(retryMap["delay"]); ok && delay > 0 {
		retry.Delay = time.Duration(delay) * time.Millisecond
	}

	return retry
}

// Execute performs the HTTP request. Responses with a status of 400 or more
// are reported as failures, carrying the response as output.
func (a *Action) Execute(ctx context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	req, err := ParseRequest(actx.NodeID, config)
	if err != nil {
		return models.Failed(err.Error())
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, req.Timeout*time.Duration(req.Retry.Attempts))
	defer cancel()

	var (
		resp    *resty.Response
		lastErr error
	)

	for attempt := 1; attempt <= req.Retry.Attempts; attempt++ {
		if attempt > 1 {
			actx.Logger.InfoContext(ctx, "HTTP request retry", "attempt", attempt, "of", req.Retry.Attempts)

			select {
			case <-time.After(req.Retry.Delay):
			case <-timeoutCtx.Done():
				return models.Failed(fmt.Sprintf("http request cancelled: %v", timeoutCtx.Err()))
			}
		}

		resp, lastErr = a.newRequest(timeoutCtx, req).Execute(req.Method, req.URL)
		if lastErr != nil {
			continue
		}

		if resp.StatusCode() < http.StatusInternalServerError {
			break
		}
	}

	if lastErr != nil {
		return models.Failed(fmt.Sprintf("http request failed: %v", lastErr))
	}

	output := responseOutput(resp)

	actx.Logger.InfoContext(ctx, "HTTP request completed",
		"method", req.Method, "status", resp.StatusCode(), "body_length", len(resp.Body()))

	if resp.IsError() {
		result := models.Failed(fmt.Sprintf("%s %s returned status %d", req.Method, req.URL, resp.StatusCode()))
		result.Output = output

		return result
	}

	return models.Succeeded(output, fmt.Sprintf("%s %s returned status %d", req.Method, req.URL, resp.StatusCode()))
}

func (a *Action) newRequest(ctx context.Context, req *Request) *resty.Request {
	r := a.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetQueryParams(req.Query)

	if req.Body != nil {
		r.SetBody(req.Body)
	}

	return r
}

func responseOutput(resp *resty.Response) map[string]any {
	var body any
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		body = string(resp.Body())
	}

	headers := make(map[string]any, len(resp.Header()))
	for key := range resp.Header() {
		headers[key] = resp.Header().Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode(),
		"body":        body,
		"headers":     headers,
	}
}

func stringMap(raw any) map[string]string {
	values, ok := raw.(map[string]any)
	if !ok {
		return map[string]string{}
	}

	out := make(map[string]string, len(values))
	for key, value := range values {
		if value == nil {
			continue
		}

		out[key] = fmt.Sprint(value)
	}

	return out
}

func number(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	}

	return 0, false
}
