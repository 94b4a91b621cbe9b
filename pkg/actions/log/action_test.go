package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_Execute(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	actx := protocol.ActionContext{
		WorkflowID: "wf1",
		NodeID:     "log1",
		Logger:     slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}

	result := NewAction().Execute(context.Background(), map[string]any{
		"message": "ticket 42 received",
		"level":   "warn",
	}, actx)

	require.True(t, result.Success)
	assert.Equal(t, "ticket 42 received", result.Output["message"])
	assert.Equal(t, "warn", result.Output["level"])
	assert.Contains(t, buf.String(), "ticket 42 received")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestAction_MissingMessage(t *testing.T) {
	t.Parallel()

	result := NewAction().Execute(context.Background(), map[string]any{}, protocol.ActionContext{NodeID: "log1"})

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "message")
}
