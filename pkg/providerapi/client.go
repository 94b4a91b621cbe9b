// Package providerapi is the REST client shared by provider lifecycle and
// action handlers.
package providerapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Client talks to one provider API.
type Client struct {
	provider    string
	http        *resty.Client
	tokenHeader string
}

type Option func(*Client)

// WithRetries overrides the retry policy. A count of 0 disables retries.
func WithRetries(count int, wait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.http.SetRetryCount(count).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(maxWait)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(timeout) }
}

// WithTokenHeader sends the access token in a custom header instead of
// "Authorization: Bearer".
func WithTokenHeader(header string) Option {
	return func(c *Client) { c.tokenHeader = header }
}

func WithHeader(key, value string) Option {
	return func(c *Client) { c.http.SetHeader(key, value) }
}

func New(provider, baseURL string, opts ...Option) *Client {
	client := &Client{
		provider: provider,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetRetryCount(3).
			SetRetryWaitTime(100 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second),
	}

	client.http.AddRetryCondition(retryCondition)

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Provider returns the provider id errors are attributed to.
func (c *Client) Provider() string {
	return c.provider
}

// Request describes one API call.
type Request struct {
	Method  string
	Path    string
	Token   *oauth2.Token
	Query   map[string]string
	Headers map[string]string
	Body    any
}

// Do executes the request and decodes a successful JSON body into out.
// Failures are returned as *errs.ExternalAPIError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	r := c.http.R().SetContext(ctx)

	if req.Token != nil {
		if c.tokenHeader != "" {
			r.SetHeader(c.tokenHeader, req.Token.AccessToken)
		} else {
			r.SetAuthToken(req.Token.AccessToken)
		}
	}

	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}

	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}

	if req.Body != nil {
		r.SetBody(req.Body)
	}

	if out != nil {
		r.SetResult(out)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := r.Execute(method, req.Path)
	if err != nil {
		kind := errs.KindUnavailable
		if errors.Is(err, context.Canceled) {
			kind = errs.KindRejected
		}

		return &errs.ExternalAPIError{
			Provider: c.provider,
			Kind:     kind,
			Message:  fmt.Sprintf("%s %s failed", method, req.Path),
			Err:      err,
		}
	}

	if resp.IsError() {
		return &errs.ExternalAPIError{
			Provider: c.provider,
			Status:   resp.StatusCode(),
			Kind:     errs.KindForStatus(resp.StatusCode()),
			Message:  errorMessage(resp.Body(), resp.Status()),
		}
	}

	return nil
}

// errorMessage pulls the provider's error text from common body shapes.
func errorMessage(body []byte, fallback string) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"message", "error.message", "error_description", "error", "errors.0.message"} {
			if result := gjson.GetBytes(body, path); result.Exists() && result.Type == gjson.String {
				return result.String()
			}
		}
	}

	if len(body) > 0 && len(body) < 256 {
		return string(body)
	}

	return fallback
}

// retryCondition determines if a request should be retried.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
