package services

import (
	"testing"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhookService(t *testing.T) *Webhook {
	t.Helper()

	return NewWebhook(file.NewPersistence(t.TempDir()), createTestLogger())
}

func auditSubscription() *models.WebhookSubscription {
	return &models.WebhookSubscription{
		Name:       "audit",
		EventTypes: []string{"execution.finished"},
		TargetURL:  "https://hooks.example.com/audit",
		IsActive:   true,
	}
}

func TestWebhook_CreateAndList(t *testing.T) {
	t.Parallel()

	service := newWebhookService(t)

	input := auditSubscription()
	input.ID = "client-chosen"
	input.Owner = "intruder"

	created, err := service.Create(t.Context(), "u1", input)
	require.NoError(t, err)
	assert.NotEqual(t, "client-chosen", created.ID)
	assert.Equal(t, "u1", created.Owner)

	_, err = service.Create(t.Context(), "u2", auditSubscription())
	require.NoError(t, err)

	listed, err := service.List(t.Context(), "u1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	_, err = service.List(t.Context(), "")
	assert.ErrorIs(t, err, ErrEmptyOwnerID)
}

func TestWebhook_CreateRejectsInvalidSubscriptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*models.WebhookSubscription)
	}{
		{name: "missing name", mutate: func(s *models.WebhookSubscription) { s.Name = "" }},
		{name: "no event types", mutate: func(s *models.WebhookSubscription) { s.EventTypes = nil }},
		{name: "unknown event type", mutate: func(s *models.WebhookSubscription) { s.EventTypes = []string{"workflow.created"} }},
		{name: "bad url", mutate: func(s *models.WebhookSubscription) { s.TargetURL = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			subscription := auditSubscription()
			tt.mutate(subscription)

			_, err := newWebhookService(t).Create(t.Context(), "u1", subscription)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestWebhook_UpdateAppliesSetFields(t *testing.T) {
	t.Parallel()

	service := newWebhookService(t)
	created, err := service.Create(t.Context(), "u1", auditSubscription())
	require.NoError(t, err)

	inactive := false
	secret := "rotated"

	updated, err := service.Update(t.Context(), "u1", created.ID, WebhookUpdate{
		EventTypes: []string{models.AllEvents},
		SecretKey:  &secret,
		IsActive:   &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "audit", updated.Name)
	assert.Equal(t, []string{models.AllEvents}, updated.EventTypes)
	assert.Equal(t, "rotated", updated.SecretKey)
	assert.False(t, updated.IsActive)

	badURL := "ftp://nowhere"
	_, err = service.Update(t.Context(), "u1", created.ID, WebhookUpdate{TargetURL: &badURL})
	assert.True(t, IsValidationError(err))

	_, err = service.Update(t.Context(), "u2", created.ID, WebhookUpdate{IsActive: &inactive})
	assert.True(t, persistence.IsWebhookSubscriptionNotFound(err))
}

func TestWebhook_DeleteChecksOwner(t *testing.T) {
	t.Parallel()

	service := newWebhookService(t)
	created, err := service.Create(t.Context(), "u1", auditSubscription())
	require.NoError(t, err)

	err = service.Delete(t.Context(), "u2", created.ID)
	assert.True(t, persistence.IsWebhookSubscriptionNotFound(err))

	require.NoError(t, service.Delete(t.Context(), "u1", created.ID))

	_, err = service.Fetch(t.Context(), "u1", created.ID)
	assert.True(t, persistence.IsWebhookSubscriptionNotFound(err))
}
