package providers

import (
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/triggerhub/pkg/credentials"
	"github.com/dukex/triggerhub/pkg/integrations"
	"github.com/dukex/triggerhub/pkg/persistence/file"
	"github.com/dukex/triggerhub/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegister_CoversCatalog(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	logger := createTestLogger()
	reg := registry.NewRegistry(logger)

	sources := Register(reg, Config{
		PublicURL: "https://hooks.example.com",
		Credentials: map[string]credentials.ClientCredentials{
			integrations.Slack: {ClientID: "id", ClientSecret: "secret"},
		},
	}, credentials.NewManager(store.IntegrationRepository(), logger), store.TriggerResourceRepository(), logger)

	require.NoError(t, reg.HealthCheck())
	require.Len(t, sources, 1)
	assert.Equal(t, integrations.Gmail, sources[0].Provider())

	for _, provider := range integrations.Catalog() {
		for _, actionType := range provider.ActionTypes {
			if provider.ID == integrations.AI {
				continue
			}

			_, ok := reg.Action(actionType)
			assert.True(t, ok, actionType)
		}
	}

	for _, provider := range []string{"slack", "hubspot", "airtable", "shopify", "webhook"} {
		_, ok := reg.WebhookAdapter(provider)
		assert.True(t, ok, provider)
	}
}
