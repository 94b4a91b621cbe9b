package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/robfig/cron/v3"
)

// Poller periodically asks polling sources for new items and dispatches
// them as trigger events.
type Poller struct {
	resources  persistence.TriggerResourceRepository
	tokens     protocol.TokenAccessor
	dispatcher protocol.Dispatcher
	sources    map[string]PollSource
	logger     *slog.Logger
	cron       *cron.Cron
	now        func() time.Time
}

func NewPoller(
	resources persistence.TriggerResourceRepository,
	tokens protocol.TokenAccessor,
	dispatcher protocol.Dispatcher,
	logger *slog.Logger,
	sources ...PollSource,
) *Poller {
	bySource := make(map[string]PollSource, len(sources))
	for _, source := range sources {
		bySource[source.Provider()] = source
	}

	return &Poller{
		resources:  resources,
		tokens:     tokens,
		dispatcher: dispatcher,
		sources:    bySource,
		logger:     logger.With("module", "poller"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start runs PollOnce on the cron schedule (e.g. "@every 1m").
func (p *Poller) Start(ctx context.Context, schedule string) error {
	p.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := p.cron.AddFunc(schedule, func() { p.PollOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid poll schedule %q: %w", schedule, err)
	}

	p.cron.Start()
	p.logger.InfoContext(ctx, "Poller started", "schedule", schedule, "sources", len(p.sources))

	return nil
}

func (p *Poller) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// PollOnce polls every due resource and returns the number of dispatched
// events.
func (p *Poller) PollOnce(ctx context.Context) int {
	dispatched := 0

	for provider, source := range p.sources {
		resources, err := p.resources.ListActive(ctx, provider)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to list polling resources", "provider", provider, "error", err)

			continue
		}

		for _, resource := range resources {
			if !p.due(resource) {
				continue
			}

			dispatched += p.poll(ctx, source, resource)
		}
	}

	return dispatched
}

func (p *Poller) due(resource *models.TriggerResource) bool {
	raw, _ := resource.Config[ConfigLastPolledAt].(string)
	if raw == "" {
		return true
	}

	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}

	interval, err := pollInterval(resource.Config)
	if err != nil {
		interval = DefaultPollInterval
	}

	return !p.now().Before(last.Add(interval))
}

func (p *Poller) poll(ctx context.Context, source PollSource, resource *models.TriggerResource) int {
	logger := p.logger.With("workflow_id", resource.WorkflowID, "node_id", resource.NodeID, "provider", resource.Provider)

	token, err := p.tokens.Token(ctx, resource.UserID, resource.Provider)
	if err != nil {
		logger.WarnContext(ctx, "Skipping poll, no usable token", "error", err)

		return 0
	}

	items, cursor, err := source.Poll(ctx, token, resource)
	if err != nil {
		logger.ErrorContext(ctx, "Poll failed", "error", err)

		return 0
	}

	now := p.now()
	dispatched := 0
	done := dispatchedKeys(resource.Config)

	for _, item := range items {
		key := itemKey(item)
		if done[key] {
			continue
		}

		err := p.dispatcher.Dispatch(ctx, protocol.TriggerEvent{
			WorkflowID:  resource.WorkflowID,
			NodeID:      resource.NodeID,
			UserID:      resource.UserID,
			Provider:    resource.Provider,
			TriggerType: resource.TriggerType,
			Data:        item,
			ReceivedAt:  now,
		})
		if err != nil {
			logger.ErrorContext(ctx, "Failed to dispatch polled item", "error", err, "dispatched", dispatched)
			p.remember(ctx, resource, done)

			return dispatched
		}

		done[key] = true
		dispatched++
	}

	// Deactivation may have happened while polling.
	latest, err := p.resources.Get(ctx, resource.WorkflowID, resource.NodeID, resource.Provider)
	if err != nil || !latest.IsActive() {
		return dispatched
	}

	latest.Config = mergeConfig(latest.Config, nil)
	latest.Config[ConfigCursor] = cursor
	latest.Config[ConfigLastPolledAt] = now.Format(time.RFC3339)
	delete(latest.Config, ConfigDispatched)

	if err := p.resources.Upsert(ctx, latest); err != nil {
		logger.ErrorContext(ctx, "Failed to store poll cursor", "error", err)
	}

	if len(items) > 0 {
		logger.InfoContext(ctx, "Dispatched polled items", "count", dispatched)
	}

	return dispatched
}

// remember stores the items already dispatched from a batch whose cursor was
// not advanced, so the retry only dispatches the rest.
func (p *Poller) remember(ctx context.Context, resource *models.TriggerResource, done map[string]bool) {
	latest, err := p.resources.Get(ctx, resource.WorkflowID, resource.NodeID, resource.Provider)
	if err != nil || !latest.IsActive() {
		return
	}

	keys := make([]string, 0, len(done))
	for key := range done {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	latest.Config = mergeConfig(latest.Config, nil)
	latest.Config[ConfigDispatched] = keys

	if err := p.resources.Upsert(ctx, latest); err != nil {
		p.logger.ErrorContext(ctx, "Failed to store dispatched items", "error", err,
			"workflow_id", resource.WorkflowID, "node_id", resource.NodeID)
	}
}

func dispatchedKeys(config map[string]any) map[string]bool {
	done := map[string]bool{}

	switch keys := config[ConfigDispatched].(type) {
	case []string:
		for _, key := range keys {
			done[key] = true
		}
	case []any:
		for _, key := range keys {
			if s, ok := key.(string); ok {
				done[s] = true
			}
		}
	}

	return done
}

// itemKey identifies a polled item across retries of the same batch.
func itemKey(item map[string]any) string {
	for _, field := range []string{"id", "messageId"} {
		if id, ok := item[field].(string); ok && id != "" {
			return id
		}
	}

	raw, _ := json.Marshal(item)
	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:])
}
