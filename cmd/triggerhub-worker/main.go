package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/triggerhub/pkg/cmd"
	"github.com/dukex/triggerhub/pkg/log"
	"github.com/dukex/triggerhub/pkg/services"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	flags := append([]cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
	}, cmd.CommonFlags()...)
	flags = append(flags, cmd.WorkerFlags()...)

	command := &cli.Command{
		Name:                  "triggerhub-worker",
		EnableShellCompletion: true,
		Usage:                 "Run workflows for dispatched trigger events",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("triggerhub-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing triggerhub worker")

			busType := command.String("event-bus")
			if busType == "gochannel" {
				logger.WarnContext(ctx, "The gochannel bus is process local; this worker only sees its own poll events")
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "triggerhub-worker")
			if err != nil {
				return err
			}

			defer func() { _ = shutdownTracer(context.Background()) }()

			eventBus, err := cmd.NewEventBus(busType, command.StringSlice("kafka-brokers"), "triggerhub-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			wired := cmd.NewRegistry(logger, persistence, cmd.ProvidersConfig(command))

			eng, err := cmd.NewEngine(wired, persistence, eventBus, tracer, logger, cmd.EngineConfigFrom(command))
			if err != nil {
				return err
			}

			executions := services.NewExecution(persistence, eng, logger)

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			worker := cmd.NewWorker(wired, persistence, eventBus, executions, logger, cmd.WorkerConfig{
				ID:             workerID,
				PollSchedule:   command.String("poll-schedule"),
				HealthSchedule: command.String("health-schedule"),
			})

			if err := worker.Start(runCtx); err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)

				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigChan
			logger.InfoContext(ctx, "Received shutdown signal", "signal", sig)

			worker.Stop()
			cancel()

			logger.InfoContext(ctx, "triggerhub worker stopped")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}
