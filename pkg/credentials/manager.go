// Package credentials hands out provider access tokens for users and keeps
// them fresh.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/integrations"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ClientCredentials are the OAuth application credentials for one provider.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OAuthConfig builds the oauth2 configuration for a catalog provider.
func OAuthConfig(provider integrations.Provider, creds ClientCredentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Scopes:       provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  provider.AuthURL,
			TokenURL: provider.TokenURL,
		},
	}
}

// Manager implements protocol.TokenAccessor on top of the integration
// repository. Refreshes for one integration are collapsed into a single
// token endpoint call.
type Manager struct {
	repo   persistence.IntegrationRepository
	logger *slog.Logger

	mu      sync.RWMutex
	configs map[string]*oauth2.Config

	group singleflight.Group
}

func NewManager(repo persistence.IntegrationRepository, logger *slog.Logger) *Manager {
	return &Manager{
		repo:    repo,
		logger:  logger.With("module", "credentials"),
		configs: make(map[string]*oauth2.Config),
	}
}

// Configure sets the oauth2 configuration used to refresh tokens of provider.
func (m *Manager) Configure(provider string, config *oauth2.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[provider] = config
}

func (m *Manager) config(provider string) (*oauth2.Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	config, ok := m.configs[provider]

	return config, ok
}

// Token returns a valid access token for the user's provider integration.
func (m *Manager) Token(ctx context.Context, userID, provider string) (*oauth2.Token, error) {
	integration, err := m.load(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	token := integration.Token()
	if token.Valid() {
		return token, nil
	}

	key := integration.ID
	if key == "" {
		key = userID + "/" + provider
	}

	result, err, shared := m.group.Do(key, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), userID, provider)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		m.logger.DebugContext(ctx, "Shared token refresh", "user_id", userID, "provider", provider)
	}

	refreshed, _ := result.(*oauth2.Token)

	return refreshed, nil
}

func (m *Manager) load(ctx context.Context, userID, provider string) (*models.Integration, error) {
	integration, err := m.repo.GetIntegration(ctx, userID, provider)
	if persistence.IsIntegrationNotFound(err) {
		return nil, errs.NewIntegrationMissing(userID, provider)
	}

	if err != nil {
		return nil, errs.NewDatabaseError("load integration", err)
	}

	if integration.Status == models.IntegrationDisconnected {
		return nil, errs.NewIntegrationMissing(userID, provider)
	}

	return integration, nil
}

func (m *Manager) refresh(ctx context.Context, userID, provider string) (*oauth2.Token, error) {
	// Another caller may have refreshed between our read and the flight.
	integration, err := m.load(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	current := integration.Token()
	if current.Valid() {
		return current, nil
	}

	config, ok := m.config(provider)
	if !ok || current.RefreshToken == "" {
		return nil, m.expire(ctx, integration, "token expired and cannot be refreshed", nil)
	}

	token, err := config.TokenSource(ctx, current).Token()
	if err != nil {
		return nil, m.expire(ctx, integration, "token refresh failed", err)
	}

	integration.SetToken(token)

	if err := m.repo.SaveIntegration(ctx, integration); err != nil {
		return nil, errs.NewDatabaseError("save refreshed token", err)
	}

	m.logger.InfoContext(ctx, "Refreshed provider token", "user_id", userID, "provider", provider)

	return token, nil
}

func (m *Manager) expire(ctx context.Context, integration *models.Integration, message string, cause error) error {
	integration.Status = models.IntegrationExpired

	if err := m.repo.SaveIntegration(ctx, integration); err != nil {
		m.logger.ErrorContext(ctx, "Failed to mark integration expired", "integration_id", integration.ID, "error", err)
	}

	return &errs.ExternalAPIError{
		Provider: integration.Provider,
		Kind:     errs.KindAuthExpired,
		Message:  fmt.Sprintf("%s for user %s", message, integration.UserID),
		Err:      cause,
	}
}
