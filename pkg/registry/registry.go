// Package registry resolves node types to action handlers and providers to
// trigger lifecycle handlers.
package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/triggerhub/pkg/integrations"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/protocol"
)

// Registry is built once at startup and shared by the engine, the webhook
// router and the services.
type Registry struct {
	logger     *slog.Logger
	mu         sync.RWMutex
	actions    map[string]protocol.ActionHandler
	lifecycles map[string]protocol.TriggerLifecycle
	adapters   map[string]protocol.WebhookAdapter
	providers  map[string]integrations.Provider
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:     log.With("module", "registry"),
		actions:    make(map[string]protocol.ActionHandler),
		lifecycles: make(map[string]protocol.TriggerLifecycle),
		adapters:   make(map[string]protocol.WebhookAdapter),
		providers:  make(map[string]integrations.Provider),
	}
}

func (r *Registry) RegisterProvider(provider integrations.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[provider.ID] = provider
}

func (r *Registry) RegisterAction(handler protocol.ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[handler.Type()]; exists {
		r.logger.Warn("Replacing action handler", "type", handler.Type())
	}

	r.actions[handler.Type()] = handler
}

func (r *Registry) RegisterLifecycle(lifecycle protocol.TriggerLifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lifecycles[lifecycle.Provider()] = lifecycle
}

func (r *Registry) RegisterWebhookAdapter(adapter protocol.WebhookAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[adapter.Provider()] = adapter
}

func (r *Registry) Action(nodeType string) (protocol.ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.actions[nodeType]

	return handler, ok
}

func (r *Registry) Lifecycle(provider string) (protocol.TriggerLifecycle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lifecycle, ok := r.lifecycles[provider]

	return lifecycle, ok
}

// LifecycleFor resolves the lifecycle handler of a trigger node.
func (r *Registry) LifecycleFor(node *models.WorkflowNode) (protocol.TriggerLifecycle, error) {
	lifecycle, ok := r.Lifecycle(node.Provider())
	if !ok {
		return nil, fmt.Errorf("no trigger lifecycle registered for provider %q", node.Provider())
	}

	return lifecycle, nil
}

func (r *Registry) WebhookAdapter(provider string) (protocol.WebhookAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[provider]

	return adapter, ok
}

func (r *Registry) Provider(id string) (integrations.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[id]

	return provider, ok
}

// Providers lists registered providers sorted by id.
func (r *Registry) Providers() []integrations.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]integrations.Provider, 0, len(r.providers))
	for _, provider := range r.providers {
		providers = append(providers, provider)
	}

	slices.SortFunc(providers, func(a, b integrations.Provider) int {
		return strings.Compare(a.ID, b.ID)
	})

	return providers
}

// ActionTypes lists registered action types sorted.
func (r *Registry) ActionTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.actions))
	for actionType := range r.actions {
		types = append(types, actionType)
	}

	slices.Sort(types)

	return types
}

// HealthCheck reports catalog action types that have no handler and
// webhook providers without a lifecycle.
func (r *Registry) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string

	for _, provider := range r.providers {
		for _, actionType := range provider.ActionTypes {
			if actionType == models.NodeTypeAIAgent {
				continue
			}

			if _, ok := r.actions[actionType]; !ok {
				missing = append(missing, "action "+actionType)
			}
		}

		if len(provider.TriggerTypes) > 0 {
			if _, ok := r.lifecycles[provider.ID]; !ok {
				missing = append(missing, "lifecycle "+provider.ID)
			}
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)

		return fmt.Errorf("registry incomplete: %v", missing)
	}

	return nil
}
