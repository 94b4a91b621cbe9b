// Package gmail polls mailboxes for new messages and sends email.
package gmail

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"golang.org/x/oauth2"
)

const (
	Provider = "gmail"
	NewEmail = "gmail:new_email"

	defaultLabel = "INBOX"
	maxPages     = 5
)

// PollSource reads the mailbox history since the stored history id.
type PollSource struct {
	client *providerapi.Client
}

func NewPollSource(client *providerapi.Client) *PollSource {
	return &PollSource{client: client}
}

func (s *PollSource) Provider() string { return Provider }

type profile struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

func (s *PollSource) Cursor(ctx context.Context, token *oauth2.Token, _ map[string]any) (string, error) {
	var p profile

	if err := s.client.Do(ctx, providerapi.Request{Path: "/gmail/v1/users/me/profile", Token: token}, &p); err != nil {
		return "", err
	}

	return p.HistoryID, nil
}

type historyPage struct {
	History []struct {
		MessagesAdded []struct {
			Message messageRef `json:"message"`
		} `json:"messagesAdded"`
	} `json:"history"`
	HistoryID     string `json:"historyId"`
	NextPageToken string `json:"nextPageToken"`
}

type messageRef struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
}

type message struct {
	messageRef

	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (m *message) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}

	return ""
}

func (s *PollSource) Poll(ctx context.Context, token *oauth2.Token, resource *models.TriggerResource) ([]map[string]any, string, error) {
	start := payload.String(resource.Config, lifecycle.ConfigCursor)
	if start == "" {
		cursor, err := s.Cursor(ctx, token, resource.Config)
		return nil, cursor, err
	}

	label := payload.String(resource.Config, "labelId")
	if label == "" {
		label = defaultLabel
	}

	refs, cursor, err := s.history(ctx, token, start, label)

	if notFound(err) {
		// The history id expired; start over from the current mailbox state.
		cursor, err = s.Cursor(ctx, token, resource.Config)
		return nil, cursor, err
	}

	if err != nil {
		return nil, "", err
	}

	items := make([]map[string]any, 0, len(refs))

	for _, ref := range refs {
		var msg message

		err := s.client.Do(ctx, providerapi.Request{
			Path:  "/gmail/v1/users/me/messages/" + ref.ID,
			Token: token,
			Query: map[string]string{"format": "metadata"},
		}, &msg)
		if notFound(err) {
			continue
		}

		if err != nil {
			return nil, "", err
		}

		data := emailData(&msg)
		if matchesFilters(resource.Config, data) {
			items = append(items, data)
		}
	}

	return items, cursor, nil
}

func (s *PollSource) history(ctx context.Context, token *oauth2.Token, start, label string) ([]messageRef, string, error) {
	var refs []messageRef

	seen := map[string]bool{}
	cursor := start
	pageToken := ""

	for range maxPages {
		query := map[string]string{
			"startHistoryId": start,
			"historyTypes":   "messageAdded",
			"labelId":        label,
		}
		if pageToken != "" {
			query["pageToken"] = pageToken
		}

		var page historyPage
		if err := s.client.Do(ctx, providerapi.Request{Path: "/gmail/v1/users/me/history", Token: token, Query: query}, &page); err != nil {
			return nil, "", err
		}

		if page.HistoryID != "" {
			cursor = page.HistoryID
		}

		for _, h := range page.History {
			for _, added := range h.MessagesAdded {
				if seen[added.Message.ID] {
					continue
				}

				seen[added.Message.ID] = true
				refs = append(refs, added.Message)
			}
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return refs, cursor, nil
}

func notFound(err error) bool {
	var apiErr *errs.ExternalAPIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func emailData(msg *message) map[string]any {
	data := map[string]any{
		"messageId": msg.ID,
		"threadId":  msg.ThreadID,
		"from":      msg.header("From"),
		"to":        msg.header("To"),
		"subject":   msg.header("Subject"),
		"snippet":   msg.Snippet,
		"date":      msg.header("Date"),
		"labelIds":  msg.LabelIDs,
	}

	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil {
		data["internalDate"] = ms
	}

	return data
}

// matchesFilters applies the optional case-insensitive from/subject
// substring filters of a trigger node.
func matchesFilters(config, data map[string]any) bool {
	for _, key := range []string{"from", "subject"} {
		want := strings.ToLower(payload.String(config, key))
		if want == "" {
			continue
		}

		got, _ := data[key].(string)
		if !strings.Contains(strings.ToLower(got), want) {
			return false
		}
	}

	return true
}
