// Package log provides the log action, which writes a message to the
// execution log.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/protocol"
)

const Type = "core:log"

type Action struct{}

func NewAction() *Action {
	return &Action{}
}

func (*Action) Type() string { return Type }

func (*Action) SideEffecting() bool { return false }

func (*Action) Execute(ctx context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	message, ok := config["message"]
	if !ok || message == nil {
		return models.Failed(errs.NewConfigurationError(actx.NodeID, "message", "is required").Error())
	}

	text, isString := message.(string)
	if !isString {
		text = fmt.Sprint(message)
	}

	level := parseLevel(config["level"])

	actx.Logger.Log(ctx, level, text,
		"action_type", Type,
		"workflow_id", actx.WorkflowID,
		"execution_id", actx.ExecutionID,
		"node_id", actx.NodeID,
		"data", config["data"],
	)

	return models.Succeeded(map[string]any{
		"message":   text,
		"level":     strings.ToLower(level.String()),
		"logged_at": time.Now().UTC().Format(time.RFC3339),
	}, "logged")
}

func parseLevel(raw any) slog.Level {
	level, _ := raw.(string)

	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
