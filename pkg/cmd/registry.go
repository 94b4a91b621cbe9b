package cmd

import (
	"log/slog"
	"strings"

	"github.com/dukex/triggerhub/pkg/credentials"
	"github.com/dukex/triggerhub/pkg/integrations"
	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/providers"
	"github.com/dukex/triggerhub/pkg/registry"
)

// Providers is the wired provider set shared by the API and the worker.
type Providers struct {
	Registry    *registry.Registry
	Tokens      *credentials.Manager
	PollSources []lifecycle.PollSource
}

// NewRegistry builds the registry with every built-in provider.
func NewRegistry(log *slog.Logger, p persistence.Persistence, cfg providers.Config) *Providers {
	reg := registry.NewRegistry(log)
	tokens := credentials.NewManager(p.IntegrationRepository(), log)

	sources := providers.Register(reg, cfg, tokens, p.TriggerResourceRepository(), log)

	if err := reg.HealthCheck(); err != nil {
		log.Warn("Registry is incomplete", "error", err)
	}

	return &Providers{Registry: reg, Tokens: tokens, PollSources: sources}
}

// CredentialsFromEnv reads <PROVIDER>_CLIENT_ID, <PROVIDER>_CLIENT_SECRET and
// <PROVIDER>_REDIRECT_URL for every provider that needs OAuth.
func CredentialsFromEnv(lookup func(string) string) map[string]credentials.ClientCredentials {
	creds := make(map[string]credentials.ClientCredentials)

	for _, provider := range integrations.Catalog() {
		if !provider.RequiresAuth {
			continue
		}

		prefix := strings.ToUpper(provider.ID) + "_"

		id := lookup(prefix + "CLIENT_ID")
		if id == "" {
			continue
		}

		creds[provider.ID] = credentials.ClientCredentials{
			ClientID:     id,
			ClientSecret: lookup(prefix + "CLIENT_SECRET"),
			RedirectURL:  lookup(prefix + "REDIRECT_URL"),
		}
	}

	return creds
}
