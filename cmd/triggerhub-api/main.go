package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/triggerhub/pkg/cmd"
	"github.com/dukex/triggerhub/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func main() {
	logger := log.WithModule("api")

	flags := append([]cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "embedded-worker",
			Usage:   "Consume trigger events in this process (always on for the gochannel bus)",
			Sources: cli.EnvVars("EMBEDDED_WORKER"),
		},
	}, cmd.CommonFlags()...)
	flags = append(flags, cmd.WorkerFlags()...)

	command := &cli.Command{
		Name:                  "triggerhub-api",
		Usage:                 "Build workflows and receive provider webhooks",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger.InfoContext(ctx, "Initializing triggerhub API")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "triggerhub-api")
			if err != nil {
				return err
			}

			defer func() { _ = shutdownTracer(context.Background()) }()

			busType := command.String("event-bus")

			eventBus, err := cmd.NewEventBus(busType, command.StringSlice("kafka-brokers"), "triggerhub-api", logger)
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

			api := NewAPI(logger, persistence, wired, eventBus, eng, tracer, command.String("public-url"))

			if busType == "gochannel" || command.Bool("embedded-worker") {
				w := cmd.NewWorker(wired, persistence, eventBus, api.Executions(), logger, cmd.WorkerConfig{
					ID:             "embedded",
					PollSchedule:   command.String("poll-schedule"),
					HealthSchedule: command.String("health-schedule"),
				})
				if err := w.Start(ctx); err != nil {
					return err
				}

				defer w.Stop()
			}

			serveErr := make(chan error, 1)

			go func() {
				serveErr <- api.Start(int(command.Int("port")))
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigChan:
				logger.InfoContext(ctx, "Received shutdown signal", "signal", sig)
			case err := <-serveErr:
				if err != nil {
					logger.ErrorContext(ctx, "API server stopped", "error", err)

					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := api.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			logger.InfoContext(ctx, "triggerhub API stopped")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("triggerhub-api failed", "error", err)
		os.Exit(1)
	}
}
