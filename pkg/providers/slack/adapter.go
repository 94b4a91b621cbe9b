package slack

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/protocol"
)

const (
	signatureHeader = "X-Slack-Signature"
	timestampHeader = "X-Slack-Request-Timestamp"
	maxSignatureAge = 5 * time.Minute
)

type envelope struct {
	Type      string         `json:"type"`
	Challenge string         `json:"challenge"`
	TeamID    string         `json:"team_id"`
	EventID   string         `json:"event_id"`
	Event     map[string]any `json:"event"`
}

// Adapter handles Events API deliveries. Slack posts every event of the app
// to one request URL, so deliveries are matched to resources by team.
type Adapter struct {
	signingSecret string
	now           func() time.Time
}

func NewAdapter(signingSecret string) *Adapter {
	return &Adapter{signingSecret: signingSecret, now: time.Now}
}

func (a *Adapter) Provider() string { return Provider }

// Challenge answers the url_verification handshake.
func (a *Adapter) Challenge(req *protocol.InboundRequest) (any, bool) {
	var env envelope
	if err := json.Unmarshal(req.Body, &env); err != nil || env.Type != "url_verification" {
		return nil, false
	}

	return map[string]any{"challenge": env.Challenge}, true
}

// RoutingKey is empty: Slack deliveries carry no per-resource token.
func (a *Adapter) RoutingKey(*protocol.InboundRequest) string { return "" }

// Verify checks the v0 request signature with the app signing secret.
func (a *Adapter) Verify(req *protocol.InboundRequest, _ *models.TriggerResource) bool {
	if a.signingSecret == "" {
		return true
	}

	timestamp := req.Header(timestampHeader)

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || a.now().Sub(time.Unix(seconds, 0)) > maxSignatureAge {
		return false
	}

	signature, ok := strings.CutPrefix(req.Header(signatureHeader), "v0=")
	if !ok {
		return false
	}

	base := "v0:" + timestamp + ":" + string(req.Body)

	return payload.EqualHex(signature, payload.Sign([]byte(a.signingSecret), []byte(base)))
}

func (a *Adapter) Normalize(triggerType string, req *protocol.InboundRequest) ([]map[string]any, error) {
	var env envelope
	if err := json.Unmarshal(req.Body, &env); err != nil {
		return nil, fmt.Errorf("invalid slack payload: %w", err)
	}

	if env.Type != "event_callback" || env.Event == nil {
		return nil, nil
	}

	event := env.Event
	eventType, _ := event["type"].(string)

	switch {
	case triggerType == NewMessage && eventType == "message":
		// Edits, joins and bot posts arrive as message subtypes.
		if subtype, _ := event["subtype"].(string); subtype != "" {
			return nil, nil
		}

		if _, isBot := event["bot_id"]; isBot {
			return nil, nil
		}

		return []map[string]any{{
			"messageId": event["ts"],
			"channel":   event["channel"],
			"user":      event["user"],
			"text":      event["text"],
			"timestamp": event["ts"],
			"threadTs":  event["thread_ts"],
			"teamId":    env.TeamID,
			"eventId":   env.EventID,
		}}, nil
	case triggerType == ReactionAdded && eventType == "reaction_added":
		item, _ := event["item"].(map[string]any)

		return []map[string]any{{
			"reaction":  event["reaction"],
			"user":      event["user"],
			"itemUser":  event["item_user"],
			"channel":   item["channel"],
			"messageTs": item["ts"],
			"teamId":    env.TeamID,
			"eventId":   env.EventID,
		}}, nil
	}

	return nil, nil
}

var filters = []payload.Filter{
	{ConfigKey: "channel", Field: "channel", Label: "channel"},
	{ConfigKey: "user", Field: "user", Label: "user"},
	{ConfigKey: "reaction", Field: "reaction", Label: "reaction"},
}

func (a *Adapter) ShouldSkip(_ string, config, data map[string]any) *string {
	if reason := payload.Check(filters, config, data); reason != nil {
		return reason
	}

	if contains := payload.String(config, "textContains"); contains != "" {
		text, _ := data["text"].(string)
		if !strings.Contains(strings.ToLower(text), strings.ToLower(contains)) {
			reason := "text filter mismatch"

			return &reason
		}
	}

	return nil
}

// Match routes deliveries to resources of the same workspace.
func (a *Adapter) Match(_ *protocol.InboundRequest, data map[string]any, resource *models.TriggerResource) bool {
	team := payload.String(resource.Config, "team_id")

	return team == "" || team == fmt.Sprint(data["teamId"])
}
