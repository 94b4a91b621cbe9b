package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/mocks"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testClient(url string) *providerapi.Client {
	return providerapi.New(Provider, url, providerapi.WithRetries(0, time.Millisecond, time.Millisecond))
}

func TestSubscriptionAPI_Subscribe(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /account-info/v3/details", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"portalId":42}`))
	})
	mux.HandleFunc("POST /webhooks/v3/app-1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ticket.creation", body["eventType"])
		assert.Equal(t, "https://cb", body["targetUrl"])

		_, _ = w.Write([]byte(`{"id":9,"active":true}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	api := NewSubscriptionAPI(testClient(server.URL), "app-1")

	sub, err := api.Subscribe(context.Background(), &oauth2.Token{AccessToken: "t"}, lifecycle.SubscribeRequest{
		NodeID:      "n1",
		TriggerType: TicketCreated,
		CallbackURL: "https://cb",
	})
	require.NoError(t, err)
	assert.Equal(t, "9", sub.ExternalID)
	assert.Equal(t, "42", sub.Config["portal_id"])

	_, err = api.Subscribe(context.Background(), &oauth2.Token{}, lifecycle.SubscribeRequest{TriggerType: "hubspot:unknown"})
	assert.True(t, errs.IsConfiguration(err))
}

func TestCreateContact(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/objects/contacts", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body struct {
			Properties map[string]any `json:"properties"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ada@example.com", body.Properties["email"])
		assert.Equal(t, "Ada", body.Properties["firstname"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"501","properties":{"email":"ada@example.com"}}`))
	}))
	defer server.Close()

	tokens := &mocks.MockTokenAccessor{}
	tokens.On("Token", mock.Anything, "u1", Provider).Return(&oauth2.Token{AccessToken: "tok"}, nil)

	actx := protocol.ActionContext{UserID: "u1", NodeID: "c1", Tokens: tokens}
	action := NewCreateContact(testClient(server.URL))

	result := action.Execute(context.Background(), map[string]any{"email": "ada@example.com", "firstname": "Ada"}, actx)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, "501", result.Output["contactId"])

	missing := action.Execute(context.Background(), map[string]any{}, actx)
	assert.False(t, missing.Success)
	assert.Contains(t, missing.Message, "email")
}

func TestCreateTicket_APIErrorIsResult(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Property values were not valid"}`))
	}))
	defer server.Close()

	tokens := &mocks.MockTokenAccessor{}
	tokens.On("Token", mock.Anything, "u1", Provider).Return(&oauth2.Token{AccessToken: "tok"}, nil)

	result := NewCreateTicket(testClient(server.URL)).Execute(context.Background(),
		map[string]any{"subject": "Help"},
		protocol.ActionContext{UserID: "u1", NodeID: "t1", Tokens: tokens})

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "Property values were not valid")
}
