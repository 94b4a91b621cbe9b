// Package slack integrates the Slack Events API and Web API.
package slack

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"golang.org/x/oauth2"
)

const Provider = "slack"

const (
	NewMessage    = "slack:new_message"
	ReactionAdded = "slack:reaction_added"
)

// apiResponse is the envelope of every Web API method. Slack reports
// failures with HTTP 200 and ok=false.
type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	TeamID  string `json:"team_id"`
	Team    string `json:"team"`
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// call invokes a Web API method.
func call(ctx context.Context, client *providerapi.Client, token *oauth2.Token, method string, body map[string]any) (*apiResponse, error) {
	var out apiResponse

	req := providerapi.Request{Method: http.MethodPost, Path: "/" + method, Token: token}
	if body != nil {
		req.Body = body
	}

	if err := client.Do(ctx, req, &out); err != nil {
		return nil, err
	}

	if !out.OK {
		kind := errs.KindRejected

		switch out.Error {
		case "invalid_auth", "token_expired", "token_revoked", "not_authed", "account_inactive":
			kind = errs.KindAuthExpired
		case "ratelimited":
			kind = errs.KindRateLimited
		}

		return nil, &errs.ExternalAPIError{
			Provider: Provider,
			Status:   http.StatusOK,
			Kind:     kind,
			Message:  fmt.Sprintf("%s: %s", method, out.Error),
		}
	}

	return &out, nil
}
