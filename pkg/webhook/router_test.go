package webhook

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/payload"
	"github.com/dukex/triggerhub/pkg/persistence/file"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/providers/slack"
	"github.com/dukex/triggerhub/pkg/providers/webhook"
	"github.com/dukex/triggerhub/pkg/registry"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingSecret = "slack-signing"

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []protocol.TriggerEvent
	fail   map[string]bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event protocol.TriggerEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fail[event.WorkflowID] {
		return errors.New("bus unavailable")
	}

	d.events = append(d.events, event)

	return nil
}

func (d *recordingDispatcher) Events() []protocol.TriggerEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]protocol.TriggerEvent(nil), d.events...)
}

func setupRouter(t *testing.T) (*Router, *recordingDispatcher) {
	t.Helper()

	ctx := context.Background()
	logger := createTestLogger()
	store := file.NewPersistence(t.TempDir())
	resources := store.TriggerResourceRepository()

	seed := []*models.TriggerResource{
		{
			WorkflowID: "wf-slack", NodeID: "t1", Provider: slack.Provider, TriggerType: slack.NewMessage,
			UserID: "u1", Status: models.TriggerResourceActive,
			Config: map[string]any{"secret": "a", "team_id": "T1", "channel": "C1"},
		},
		{
			WorkflowID: "wf-other-team", NodeID: "t1", Provider: slack.Provider, TriggerType: slack.NewMessage,
			UserID: "u2", Status: models.TriggerResourceActive,
			Config: map[string]any{"secret": "b", "team_id": "T2"},
		},
		{
			WorkflowID: "wf-generic", NodeID: "n1", Provider: webhook.Provider, TriggerType: webhook.Received,
			UserID: "u3", Status: models.TriggerResourceActive,
			Config: map[string]any{
				"secret": "s3cret",
				"json_schema": map[string]any{
					"type":     "object",
					"required": []any{"email"},
				},
			},
		},
		{
			WorkflowID: "wf-generic", NodeID: "n2", Provider: webhook.Provider, TriggerType: webhook.Received,
			UserID: "u3", Status: models.TriggerResourceInactive,
			Config: map[string]any{"secret": "off"},
		},
	}

	for _, resource := range seed {
		require.NoError(t, resources.Upsert(ctx, resource))
	}

	reg := registry.NewRegistry(logger)
	reg.RegisterWebhookAdapter(slack.NewAdapter(signingSecret))
	reg.RegisterWebhookAdapter(webhook.NewAdapter())

	dispatcher := &recordingDispatcher{}

	return NewRouter(reg, resources, dispatcher, logger), dispatcher
}

func slackRequest(body string, forge bool) *protocol.InboundRequest {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	secret := signingSecret

	if forge {
		secret = "wrong"
	}

	signature := hex.EncodeToString(payload.Sign([]byte(secret), []byte("v0:"+timestamp+":"+body)))

	return &protocol.InboundRequest{
		Provider: slack.Provider,
		Method:   http.MethodPost,
		Body:     []byte(body),
		Headers: map[string]string{
			"X-Slack-Signature":         "v0=" + signature,
			"X-Slack-Request-Timestamp": timestamp,
		},
	}
}

func slackMessage(team, channel string) string {
	return `{"type":"event_callback","team_id":"` + team + `","event_id":"Ev1","event":{"type":"message","channel":"` +
		channel + `","user":"U1","text":"hello","ts":"1700000000.000100"}}`
}

func TestRouter_HandleProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		req        *protocol.InboundRequest
		wantStatus int
		wantBody   map[string]any
		wantEvents []string
	}{
		{
			name:       "challenge",
			req:        slackRequest(`{"type":"url_verification","challenge":"abc"}`, false),
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"challenge": "abc"},
		},
		{
			name:       "matched by team",
			req:        slackRequest(slackMessage("T1", "C1"), false),
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"received": true, "dispatched": 1},
			wantEvents: []string{"wf-slack"},
		},
		{
			name:       "filtered by channel",
			req:        slackRequest(slackMessage("T1", "C9"), false),
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"received": true, "ignored": "channel filter mismatch"},
		},
		{
			name:       "unknown team",
			req:        slackRequest(slackMessage("T404", "C1"), false),
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"received": true, "ignored": "no matching event"},
		},
		{
			name:       "forged signature",
			req:        slackRequest(slackMessage("T1", "C1"), true),
			wantStatus: http.StatusUnauthorized,
			wantBody:   map[string]any{"error": "invalid signature"},
		},
		{
			name:       "unknown provider",
			req:        &protocol.InboundRequest{Provider: "myspace"},
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"error": "unknown provider myspace"},
		},
		{
			name: "unknown routing token",
			req: &protocol.InboundRequest{
				Provider: webhook.Provider,
				Query:    map[string]string{"token": "nope"},
				Body:     []byte(`{}`),
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"received": true, "ignored": "no matching trigger"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router, dispatcher := setupRouter(t)

			outcome := router.HandleProvider(context.Background(), tt.req)
			assert.Equal(t, tt.wantStatus, outcome.Status)
			assert.Equal(t, tt.wantBody, outcome.Body)

			var workflows []string
			for _, event := range dispatcher.Events() {
				workflows = append(workflows, event.WorkflowID)
			}

			assert.Equal(t, tt.wantEvents, workflows)
		})
	}
}

func TestRouter_DispatchedEventCarriesResource(t *testing.T) {
	t.Parallel()

	router, dispatcher := setupRouter(t)

	outcome := router.HandleProvider(context.Background(), slackRequest(slackMessage("T1", "C1"), false))
	require.Equal(t, http.StatusOK, outcome.Status)

	events := dispatcher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "t1", events[0].NodeID)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, slack.NewMessage, events[0].TriggerType)
	assert.Equal(t, "hello", events[0].Data["text"])
	assert.False(t, events[0].ReceivedAt.IsZero())
}

func TestRouter_PartialDispatchFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fail       map[string]bool
		wantStatus int
		wantBody   map[string]any
		wantEvents int
	}{
		{
			name:       "one target fails",
			fail:       map[string]bool{"wf-slack": true},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"received": true, "dispatched": 1, "failed": 1},
			wantEvents: 1,
		},
		{
			name:       "every target fails",
			fail:       map[string]bool{"wf-slack": true, "wf-slack-copy": true},
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"error": "failed to dispatch event"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router, dispatcher := setupRouter(t)
			require.NoError(t, router.resources.Upsert(context.Background(), &models.TriggerResource{
				WorkflowID: "wf-slack-copy", NodeID: "t1", Provider: slack.Provider, TriggerType: slack.NewMessage,
				UserID: "u4", Status: models.TriggerResourceActive,
				Config: map[string]any{"secret": "c", "team_id": "T1"},
			}))

			dispatcher.fail = tt.fail

			outcome := router.HandleProvider(context.Background(), slackRequest(slackMessage("T1", "C1"), false))
			assert.Equal(t, tt.wantStatus, outcome.Status)
			assert.Equal(t, tt.wantBody, outcome.Body)
			assert.Len(t, dispatcher.Events(), tt.wantEvents)
		})
	}
}

func TestRouter_HandleWorkflow(t *testing.T) {
	t.Parallel()

	sign := func(body string) string {
		return hex.EncodeToString(payload.Sign([]byte("s3cret"), []byte(body)))
	}

	tests := []struct {
		name       string
		workflowID string
		nodeID     string
		body       string
		signature  string
		wantStatus int
		wantEvents int
	}{
		{"unsigned", "wf-generic", "n1", `{"email":"a@b.c"}`, "", http.StatusOK, 1},
		{"signed", "wf-generic", "", `{"email":"a@b.c"}`, sign(`{"email":"a@b.c"}`), http.StatusOK, 1},
		{"forged", "wf-generic", "n1", `{"email":"a@b.c"}`, sign("other"), http.StatusUnauthorized, 0},
		{"malformed json", "wf-generic", "n1", `{"email":`, "", http.StatusBadRequest, 0},
		{"schema violation", "wf-generic", "n1", `{"name":"x"}`, "", http.StatusBadRequest, 0},
		{"inactive node", "wf-generic", "n2", `{"email":"a@b.c"}`, "", http.StatusOK, 0},
		{"unknown workflow", "wf-missing", "", `{}`, "", http.StatusOK, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router, dispatcher := setupRouter(t)

			req := &protocol.InboundRequest{
				Method:  http.MethodPost,
				Body:    []byte(tt.body),
				Headers: map[string]string{},
			}
			if tt.signature != "" {
				req.Headers[webhook.SignatureHeader] = tt.signature
			}

			outcome := router.HandleWorkflow(context.Background(), tt.workflowID, tt.nodeID, req)
			assert.Equal(t, tt.wantStatus, outcome.Status, outcome.Body)
			assert.Len(t, dispatcher.Events(), tt.wantEvents)
		})
	}
}

func TestHandlers_CanonicalizesHeaders(t *testing.T) {
	t.Parallel()

	router, dispatcher := setupRouter(t)

	app := fiber.New()
	NewHandlers(router, "https://hooks.example.com/").Register(app)

	body := `{"email":"a@b.c"}`
	req := httptest.NewRequest(http.MethodPost, "/workflow-webhooks/wf-generic?node=n1", strings.NewReader(body))
	req.Header["x-webhook-signature"] = []string{hex.EncodeToString(payload.Sign([]byte("s3cret"), []byte(body)))}
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(1), decoded["dispatched"])

	events := dispatcher.Events()
	require.Len(t, events, 1)

	meta := events[0].Data["webhook"].(map[string]any)
	assert.Equal(t, "https://hooks.example.com/workflow-webhooks/wf-generic?node=n1", meta["url"])
	assert.Equal(t, map[string]any{"email": "a@b.c"}, events[0].Data["body"])
}
