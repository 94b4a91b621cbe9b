package slack

import (
	"context"
	"fmt"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/providerapi"
)

// SendMessage posts a message with chat.postMessage.
type SendMessage struct {
	client *providerapi.Client
}

func NewSendMessage(client *providerapi.Client) *SendMessage {
	return &SendMessage{client: client}
}

func (a *SendMessage) Type() string { return "slack:send_message" }

func (a *SendMessage) SideEffecting() bool { return true }

func (a *SendMessage) Execute(ctx context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	channel, err := payload.RequireString(actx.NodeID, config, "channel")
	if err != nil {
		return models.Failed(err.Error())
	}

	text, err := payload.RequireString(actx.NodeID, config, "text")
	if err != nil {
		return models.Failed(err.Error())
	}

	body := map[string]any{"channel": channel, "text": text}

	if thread := payload.String(config, "threadTs"); thread != "" {
		body["thread_ts"] = thread
	}

	if blocks, ok := config["blocks"].([]any); ok && len(blocks) > 0 {
		body["blocks"] = blocks
	}

	token, err := actx.Tokens.Token(ctx, actx.UserID, Provider)
	if err != nil {
		return models.Failed(err.Error())
	}

	sent, err := call(ctx, a.client, token, "chat.postMessage", body)
	if err != nil {
		return models.Failed(err.Error())
	}

	return models.Succeeded(map[string]any{
		"messageId": sent.TS,
		"channel":   sent.Channel,
		"ts":        sent.TS,
	}, fmt.Sprintf("message sent to %s", sent.Channel))
}
