package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/robfig/cron/v3"
)

// LifecycleLookup resolves the lifecycle handler of a provider.
type LifecycleLookup interface {
	Lifecycle(provider string) (protocol.TriggerLifecycle, bool)
}

// HealthReport is the outcome of one (workflow, provider) check.
type HealthReport struct {
	WorkflowID string
	Provider   string
	Status     protocol.HealthStatus
}

// HealthSweep checks every workflow with active trigger resources and stores
// the result on the resources.
type HealthSweep struct {
	lifecycles LifecycleLookup
	resources  persistence.TriggerResourceRepository
	logger     *slog.Logger
	cron       *cron.Cron
	now        func() time.Time
}

func NewHealthSweep(lifecycles LifecycleLookup, resources persistence.TriggerResourceRepository, logger *slog.Logger) *HealthSweep {
	return &HealthSweep{
		lifecycles: lifecycles,
		resources:  resources,
		logger:     logger.With("module", "health_sweep"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *HealthSweep) Start(ctx context.Context, schedule string) error {
	h.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := h.cron.AddFunc(schedule, func() { h.Run(ctx) }); err != nil {
		return fmt.Errorf("invalid health schedule %q: %w", schedule, err)
	}

	h.cron.Start()

	return nil
}

func (h *HealthSweep) Stop() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
}

type sweepKey struct {
	workflowID string
	provider   string
}

// Run performs one sweep.
func (h *HealthSweep) Run(ctx context.Context) []HealthReport {
	resources, err := h.resources.ListActive(ctx, "")
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list trigger resources", "error", err)

		return nil
	}

	groups := make(map[sweepKey][]*models.TriggerResource)
	order := make([]sweepKey, 0)

	for _, resource := range resources {
		key := sweepKey{workflowID: resource.WorkflowID, provider: resource.Provider}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}

		groups[key] = append(groups[key], resource)
	}

	reports := make([]HealthReport, 0, len(order))

	for _, key := range order {
		lifecycle, ok := h.lifecycles.Lifecycle(key.provider)
		if !ok {
			continue
		}

		group := groups[key]
		status := lifecycle.CheckHealth(ctx, key.workflowID, group[0].UserID)
		checkedAt := h.now()

		for _, resource := range group {
			h.record(ctx, resource, status, checkedAt)
		}

		if !status.Healthy {
			h.logger.WarnContext(ctx, "Trigger unhealthy",
				"workflow_id", key.workflowID, "provider", key.provider, "details", status.Details)
		}

		reports = append(reports, HealthReport{WorkflowID: key.workflowID, Provider: key.provider, Status: status})
	}

	return reports
}

// record stores the check result unless the resource left the active state
// meanwhile.
func (h *HealthSweep) record(ctx context.Context, resource *models.TriggerResource, status protocol.HealthStatus, checkedAt time.Time) {
	latest, err := h.resources.Get(ctx, resource.WorkflowID, resource.NodeID, resource.Provider)
	if err != nil || !latest.IsActive() {
		return
	}

	latest.Healthy = status.Healthy
	latest.HealthDetails = status.Details
	latest.LastHealthCheck = &checkedAt

	if err := h.resources.Upsert(ctx, latest); err != nil {
		h.logger.ErrorContext(ctx, "Failed to store health result", "resource_id", latest.ID, "error", err)
	}
}
