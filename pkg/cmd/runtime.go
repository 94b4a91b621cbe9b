package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/triggerhub/pkg/engine"
	"github.com/dukex/triggerhub/pkg/eventbus"
	"github.com/dukex/triggerhub/pkg/lifecycle"
	"github.com/dukex/triggerhub/pkg/otelhelper"
	"github.com/dukex/triggerhub/pkg/outbound"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/providerapi"
	"github.com/dukex/triggerhub/pkg/providers"
	"github.com/dukex/triggerhub/pkg/services"
	"github.com/dukex/triggerhub/pkg/worker"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns the OTLP tracer when enabled and a no-op tracer
// otherwise. The shutdown function is always safe to call.
//
// nolint:ireturn
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}

type EngineConfig struct {
	CriticalPath string
	Parallelism  int
}

// NewEngine wires the execution engine to the bus notifier.
func NewEngine(
	wired *Providers,
	p persistence.Persistence,
	bus eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
	cfg EngineConfig,
) (*engine.Engine, error) {
	policy := engine.CriticalPathPolicy(cfg.CriticalPath)
	if policy != engine.CriticalTerminalNodes && policy != engine.CriticalAllNodes {
		return nil, fmt.Errorf("unknown critical path policy %q", cfg.CriticalPath)
	}

	return engine.New(wired.Registry, p.ExecutionRepository(), wired.Tokens, logger,
		engine.WithNotifier(eventbus.NewNotifier(bus)),
		engine.WithTracer(tracer),
		engine.WithCriticalPathPolicy(policy),
		engine.WithParallelism(cfg.Parallelism),
	), nil
}

type WorkerConfig struct {
	ID             string
	PollSchedule   string
	HealthSchedule string
}

// NewWorker wires the trigger consumer with the poller, the health sweep and
// outbound webhook delivery.
func NewWorker(
	wired *Providers,
	p persistence.Persistence,
	bus eventbus.EventBus,
	executions *services.Execution,
	logger *slog.Logger,
	cfg WorkerConfig,
) *worker.Worker {
	resources := p.TriggerResourceRepository()

	var opts []worker.Option

	if cfg.PollSchedule != "" {
		poller := lifecycle.NewPoller(resources, wired.Tokens, eventbus.NewDispatcher(bus), logger, wired.PollSources...)
		opts = append(opts, worker.WithPoller(poller, cfg.PollSchedule))
	}

	if cfg.HealthSchedule != "" {
		sweep := lifecycle.NewHealthSweep(wired.Registry, resources, logger)
		opts = append(opts, worker.WithHealthSweep(sweep, cfg.HealthSchedule))
	}

	deliverer := outbound.NewDeliverer(p, logger, providerapi.WithHeader("User-Agent", providers.UserAgent))
	opts = append(opts, worker.WithDeliverer(deliverer))

	return worker.New(cfg.ID, bus, executions, logger, opts...)
}
