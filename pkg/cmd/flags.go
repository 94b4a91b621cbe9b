package cmd

import (
	"os"

	"github.com/dukex/triggerhub/pkg/providers"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are shared by the API and the worker.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file://<dir> or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Optional redis URL for execution progress",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka broker addresses",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:     "public-url",
			Usage:    "Externally reachable base URL of the webhook endpoints",
			Required: true,
			Sources:  cli.EnvVars("PUBLIC_URL"),
		},
		&cli.StringFlag{
			Name:    "slack-signing-secret",
			Usage:   "Slack app signing secret",
			Sources: cli.EnvVars("SLACK_SIGNING_SECRET"),
		},
		&cli.StringFlag{
			Name:    "hubspot-app-id",
			Usage:   "HubSpot public app id",
			Sources: cli.EnvVars("HUBSPOT_APP_ID"),
		},
		&cli.StringFlag{
			Name:    "critical-path",
			Usage:   "Nodes whose failure fails an execution (terminal, all)",
			Value:   "terminal",
			Sources: cli.EnvVars("CRITICAL_PATH"),
		},
		&cli.IntFlag{
			Name:    "parallelism",
			Usage:   "Maximum nodes of one wave running at once",
			Value:   4,
			Sources: cli.EnvVars("EXECUTION_PARALLELISM"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// WorkerFlags configure the trigger consumer schedules.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "poll-schedule",
			Usage:   "Cron schedule of the polling loop",
			Value:   "@every 1m",
			Sources: cli.EnvVars("POLL_SCHEDULE"),
		},
		&cli.StringFlag{
			Name:    "health-schedule",
			Usage:   "Cron schedule of the trigger health sweep",
			Value:   "@every 15m",
			Sources: cli.EnvVars("HEALTH_SCHEDULE"),
		},
	}
}

// ProvidersConfig reads the provider settings from the parsed command.
func ProvidersConfig(command *cli.Command) providers.Config {
	return providers.Config{
		PublicURL:          command.String("public-url"),
		Credentials:        CredentialsFromEnv(os.Getenv),
		SlackSigningSecret: command.String("slack-signing-secret"),
		HubSpotAppID:       command.String("hubspot-app-id"),
	}
}

func EngineConfigFrom(command *cli.Command) EngineConfig {
	return EngineConfig{
		CriticalPath: command.String("critical-path"),
		Parallelism:  int(command.Int("parallelism")),
	}
}
