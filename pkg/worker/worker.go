// Package worker consumes dispatched trigger events and runs the matching
// executions. It also drives the polling loop and the trigger health sweep,
// and forwards execution events to outbound webhook subscriptions.
package worker

import (
	"context"
	"log/slog"

	"github.com/dukex/triggerhub/pkg/eventbus"
	"github.com/dukex/triggerhub/pkg/events"
	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/outbound"
	"github.com/dukex/triggerhub/pkg/protocol"
)

// TriggerHandler runs the execution for one trigger event.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, event protocol.TriggerEvent) (*models.Execution, error)
}

type Worker struct {
	id        string
	bus       eventbus.EventSubscriber
	handler   TriggerHandler
	logger    *slog.Logger
	poller    *lifecycle.Poller
	pollCron  string
	health    *lifecycle.HealthSweep
	sweepCron string
	deliverer *outbound.Deliverer
}

type Option func(*Worker)

// WithPoller runs the poller on the given cron schedule.
func WithPoller(poller *lifecycle.Poller, schedule string) Option {
	return func(w *Worker) {
		w.poller = poller
		w.pollCron = schedule
	}
}

// WithHealthSweep runs the health sweep on the given cron schedule.
func WithHealthSweep(sweep *lifecycle.HealthSweep, schedule string) Option {
	return func(w *Worker) {
		w.health = sweep
		w.sweepCron = schedule
	}
}

// WithDeliverer forwards execution events to users' webhook subscriptions.
func WithDeliverer(deliverer *outbound.Deliverer) Option {
	return func(w *Worker) { w.deliverer = deliverer }
}

func New(id string, bus eventbus.EventSubscriber, handler TriggerHandler, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		id:      id,
		bus:     bus,
		handler: handler,
		logger:  logger.With("module", "worker", "worker_id", id),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start registers the handlers and begins consuming. It returns once the
// subscription and schedules are running.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	if err := w.bus.Handle(events.TriggerReceivedEvent, w.handleTriggerReceived); err != nil {
		return err
	}

	if w.deliverer != nil {
		if err := w.deliverer.Register(w.bus); err != nil {
			return err
		}
	}

	if err := w.bus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.poller != nil {
		if err := w.poller.Start(ctx, w.pollCron); err != nil {
			return err
		}
	}

	if w.health != nil {
		if err := w.health.Start(ctx, w.sweepCron); err != nil {
			w.Stop()

			return err
		}
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Stop halts the schedules. In-flight executions finish on their own.
func (w *Worker) Stop() {
	if w.poller != nil {
		w.poller.Stop()
	}

	if w.health != nil {
		w.health.Stop()
	}
}

// handleTriggerReceived returns an error only for infrastructure failures so
// the event is redelivered. Node failures live on the execution.
func (w *Worker) handleTriggerReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.TriggerReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived")

		return nil
	}

	trigger := received.Trigger
	logger := w.logger.With(
		"workflow_id", trigger.WorkflowID,
		"node_id", trigger.NodeID,
		"event_id", received.ID,
	)
	logger.InfoContext(ctx, "Processing trigger event", "provider", trigger.Provider, "trigger_type", trigger.TriggerType)

	execution, err := w.handler.HandleTrigger(ctx, trigger)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to execute workflow", "error", err)

		return err
	}

	if execution != nil {
		logger.InfoContext(ctx, "Execution finished", "execution_id", execution.ID, "status", execution.Status)
	}

	return nil
}
