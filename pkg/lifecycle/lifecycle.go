// Package lifecycle registers, deregisters and health-checks the external
// resources that back trigger nodes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/google/uuid"
)

// Keys written into TriggerResource.Config by the lifecycles.
const (
	ConfigSecret       = "secret"
	ConfigCallbackURL  = "callback_url"
	ConfigWebhookURL   = "webhook_url"
	ConfigInstructions = "instructions"
	ConfigCursor       = "cursor"
	ConfigInterval     = "interval"
	ConfigLastPolledAt = "last_polled_at"
	ConfigDispatched   = "dispatched"
)

// base holds what every lifecycle family shares: the resource store and the
// status machine.
type base struct {
	provider  string
	resources persistence.TriggerResourceRepository
	logger    *slog.Logger
}

func (b *base) Provider() string {
	return b.provider
}

// current returns the stored resource or nil when none exists.
func (b *base) current(ctx context.Context, workflowID, nodeID string) (*models.TriggerResource, error) {
	resource, err := b.resources.Get(ctx, workflowID, nodeID, b.provider)
	if persistence.IsTriggerResourceNotFound(err) {
		return nil, nil
	}

	if err != nil {
		return nil, errs.NewDatabaseError("load trigger resource", err)
	}

	return resource, nil
}

func (b *base) save(ctx context.Context, resource *models.TriggerResource, trigger string) error {
	next, err := transition(ctx, resource.Status, trigger)
	if err != nil {
		return err
	}

	resource.Status = next

	if err := b.resources.Upsert(ctx, resource); err != nil {
		return errs.NewDatabaseError("save trigger resource", err)
	}

	return nil
}

// refreshActive re-enters the active state for an existing registration,
// taking the node's latest filter configuration.
func (b *base) refreshActive(ctx context.Context, resource *models.TriggerResource, userConfig map[string]any) (*models.TriggerResource, error) {
	resource.Config = mergeConfig(resource.Config, userConfig)

	if err := b.save(ctx, resource, triggerActivate); err != nil {
		return nil, err
	}

	b.logger.DebugContext(ctx, "Trigger resource already active",
		"workflow_id", resource.WorkflowID, "node_id", resource.NodeID)

	return resource, nil
}

// remove marks the resource deleted and drops the row.
func (b *base) remove(ctx context.Context, resource *models.TriggerResource) error {
	if err := b.save(ctx, resource, triggerDelete); err != nil {
		return err
	}

	if err := b.resources.Delete(ctx, resource.WorkflowID, resource.NodeID, b.provider); err != nil {
		return errs.NewDatabaseError("delete trigger resource", err)
	}

	b.logger.InfoContext(ctx, "Trigger resource deleted",
		"workflow_id", resource.WorkflowID, "node_id", resource.NodeID)

	return nil
}

// mergeConfig overlays user settings on stored config. Keys owned by the
// lifecycle are never overwritten by user input.
func mergeConfig(stored, user map[string]any) map[string]any {
	merged := make(map[string]any, len(stored)+len(user))
	maps.Copy(merged, stored)

	for key, value := range user {
		if isReservedKey(key) {
			continue
		}

		merged[key] = value
	}

	return merged
}

func isReservedKey(key string) bool {
	switch key {
	case ConfigSecret, ConfigCallbackURL, ConfigWebhookURL, ConfigInstructions, ConfigCursor, ConfigLastPolledAt, ConfigDispatched:
		return true
	}

	return false
}

// NewSecret returns a random routing secret.
func NewSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

var errNoResources = errors.New("no active trigger resources")

func describe(resource *models.TriggerResource, err error) string {
	return fmt.Sprintf("node %s: %v", resource.NodeID, err)
}
