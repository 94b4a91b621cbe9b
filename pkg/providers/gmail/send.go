package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/providerapi"
)

// SendEmail sends a message from the connected mailbox.
type SendEmail struct {
	client *providerapi.Client
}

func NewSendEmail(client *providerapi.Client) *SendEmail {
	return &SendEmail{client: client}
}

func (a *SendEmail) Type() string { return "gmail:send_email" }

func (a *SendEmail) SideEffecting() bool { return true }

type Email struct {
	To      string
	Cc      string
	Bcc     string
	Subject string
	Body    string
	HTML    bool
}

// Raw renders the message as RFC 2822 text.
func (e Email) Raw() string {
	var b strings.Builder

	writeHeader := func(name, value string) {
		if value != "" {
			b.WriteString(name + ": " + value + "\r\n")
		}
	}

	contentType := "text/plain"
	if e.HTML {
		contentType = "text/html"
	}

	writeHeader("To", e.To)
	writeHeader("Cc", e.Cc)
	writeHeader("Bcc", e.Bcc)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", e.Subject))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", contentType+"; charset=\"UTF-8\"")
	b.WriteString("\r\n")
	b.WriteString(e.Body)

	return b.String()
}

type sentMessage struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
}

func (a *SendEmail) Execute(ctx context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	to, err := payload.RequireString(actx.NodeID, config, "to")
	if err != nil {
		return models.Failed(err.Error())
	}

	html, _ := config["html"].(bool)
	email := Email{
		To:      to,
		Cc:      payload.String(config, "cc"),
		Bcc:     payload.String(config, "bcc"),
		Subject: payload.String(config, "subject"),
		Body:    payload.String(config, "body"),
		HTML:    html,
	}

	token, err := actx.Tokens.Token(ctx, actx.UserID, Provider)
	if err != nil {
		return models.Failed(err.Error())
	}

	var sent sentMessage

	err = a.client.Do(ctx, providerapi.Request{
		Method: http.MethodPost,
		Path:   "/gmail/v1/users/me/messages/send",
		Token:  token,
		Body:   map[string]any{"raw": base64.URLEncoding.EncodeToString([]byte(email.Raw()))},
	}, &sent)
	if err != nil {
		return models.Failed(err.Error())
	}

	return models.Succeeded(map[string]any{
		"messageId": sent.ID,
		"threadId":  sent.ThreadID,
		"labelIds":  sent.LabelIDs,
	}, fmt.Sprintf("email sent to %s", to))
}
