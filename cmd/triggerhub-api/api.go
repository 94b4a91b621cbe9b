// Package main provides the triggerhub API server: the workflow builder
// endpoints and the inbound webhook endpoints.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/triggerhub/pkg/cmd"
	"github.com/dukex/triggerhub/pkg/engine"
	"github.com/dukex/triggerhub/pkg/eventbus"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/services"
	"github.com/dukex/triggerhub/pkg/web"
	"github.com/dukex/triggerhub/pkg/webhook"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	providers   *cmd.Providers
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	publicURL   string
	validate    *validator.Validate

	workflows  *services.Workflow
	executions *services.Execution
	webhooks   *services.Webhook
	app        *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	providers *cmd.Providers,
	eventBus eventbus.EventBus,
	eng *engine.Engine,
	tracer trace.Tracer,
	publicURL string,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		providers:   providers,
		eventBus:    eventBus,
		tracer:      tracer,
		publicURL:   publicURL,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		workflows:   services.NewWorkflow(persistence, providers.Registry, logger),
		executions:  services.NewExecution(persistence, eng, logger),
		webhooks:    services.NewWebhook(persistence, logger),
	}
}

// Executions is shared with an embedded worker so manual and triggered
// runs go through the same engine.
func (a *API) Executions() *services.Execution {
	return a.executions
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	handlers := web.NewAPIHandlers(a.workflows, a.executions, a.webhooks, a.validate, a.providers.Registry, a.logger)

	router := webhook.NewRouter(
		a.providers.Registry,
		a.persistence.TriggerResourceRepository(),
		eventbus.NewDispatcher(a.eventBus),
		a.logger,
		webhook.WithTracer(a.tracer),
	)

	// Webhook bodies are kept after the handler returns for signature checks
	// and dispatch.
	app := fiber.New(fiber.Config{Immutable: true})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("triggerhub API")
	})

	handlers.Register(app)
	webhook.NewHandlers(router, a.publicURL).Register(app)

	a.app = app

	return app
}

// Start blocks serving on port until Shutdown is called.
func (a *API) Start(port int) error {
	return a.App().Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests and waits for background manual runs.
func (a *API) Shutdown(ctx context.Context) error {
	err := a.App().ShutdownWithContext(ctx)

	a.executions.Wait()

	return err
}
