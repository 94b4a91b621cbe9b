package credentials

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))

		time.Sleep(50 * time.Millisecond)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(server.Close)

	return server
}

func TestManager_ValidTokenIsReturnedAsIs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	require.NoError(t, store.IntegrationRepository().SaveIntegration(ctx, &models.Integration{
		UserID:      "u1",
		Provider:    "slack",
		AccessToken: "xoxb",
		Status:      models.IntegrationConnected,
	}))

	manager := NewManager(store.IntegrationRepository(), createTestLogger())

	token, err := manager.Token(ctx, "u1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "xoxb", token.AccessToken)
}

func TestManager_MissingIntegration(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	manager := NewManager(store.IntegrationRepository(), createTestLogger())

	_, err := manager.Token(context.Background(), "u1", "hubspot")
	require.Error(t, err)
	assert.True(t, errs.IsIntegrationMissing(err))
}

func TestManager_DisconnectedIntegrationIsMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	require.NoError(t, store.IntegrationRepository().SaveIntegration(ctx, &models.Integration{
		UserID:      "u1",
		Provider:    "hubspot",
		AccessToken: "old",
		Status:      models.IntegrationDisconnected,
	}))

	manager := NewManager(store.IntegrationRepository(), createTestLogger())

	_, err := manager.Token(ctx, "u1", "hubspot")
	assert.True(t, errs.IsIntegrationMissing(err))
}

func TestManager_ConcurrentRefreshHitsTokenEndpointOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	var calls atomic.Int32

	server := tokenServer(t, &calls)

	require.NoError(t, store.IntegrationRepository().SaveIntegration(ctx, &models.Integration{
		UserID:       "u1",
		Provider:     "hubspot",
		AccessToken:  "stale",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(-time.Hour),
		Status:       models.IntegrationConnected,
	}))

	manager := NewManager(store.IntegrationRepository(), createTestLogger())
	manager.Configure("hubspot", &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: server.URL, AuthStyle: oauth2.AuthStyleInParams},
	})

	var wg sync.WaitGroup

	tokens := make([]string, 8)

	for i := range tokens {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			token, err := manager.Token(ctx, "u1", "hubspot")
			if assert.NoError(t, err) {
				tokens[i] = token.AccessToken
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for _, token := range tokens {
		assert.Equal(t, "fresh", token)
	}

	stored, err := store.IntegrationRepository().GetIntegration(ctx, "u1", "hubspot")
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.AccessToken)
	assert.Equal(t, "r1", stored.RefreshToken)
}

func TestManager_UnrefreshableTokenMarksExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	require.NoError(t, store.IntegrationRepository().SaveIntegration(ctx, &models.Integration{
		UserID:      "u1",
		Provider:    "airtable",
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
		Status:      models.IntegrationConnected,
	}))

	manager := NewManager(store.IntegrationRepository(), createTestLogger())

	_, err := manager.Token(ctx, "u1", "airtable")
	require.Error(t, err)

	apiErr, ok := errs.AsExternalAPI(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindAuthExpired, apiErr.Kind)

	stored, err := store.IntegrationRepository().GetIntegration(ctx, "u1", "airtable")
	require.NoError(t, err)
	assert.Equal(t, models.IntegrationExpired, stored.Status)
}
