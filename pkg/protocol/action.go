// Package protocol defines the contracts between the engine, the webhook
// router and provider implementations.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/triggerhub/pkg/models"
	"golang.org/x/oauth2"
)

// TokenAccessor hands out a valid provider token for a user, refreshing it
// when needed.
type TokenAccessor interface {
	Token(ctx context.Context, userID, provider string) (*oauth2.Token, error)
}

// ActionContext carries the per-node execution context into a handler.
type ActionContext struct {
	UserID      string
	WorkflowID  string
	ExecutionID string
	NodeID      string
	Tokens      TokenAccessor
	Logger      *slog.Logger
}

// ActionHandler performs a single provider operation. Execute never returns
// an error: failures are reported through ActionResult.
type ActionHandler interface {
	Type() string
	// SideEffecting handlers are simulated in test mode.
	SideEffecting() bool
	Execute(ctx context.Context, config map[string]any, actx ActionContext) models.ActionResult
}
