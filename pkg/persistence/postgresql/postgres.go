// Package postgresql provides PostgreSQL persistence implementation for
// workflows, trigger resources, executions and integrations.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	workflowRepo   *WorkflowRepository
	resourceRepo   *TriggerResourceRepository
	executionRepo  *ExecutionRepository
	integrationRep *IntegrationRepository
	webhookRepo    *WebhookSubscriptionRepository
}

const (
	maxOpenConns    = 20
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

// NewPersistence opens the pool, migrates the schema and returns the
// repositories. The API and the worker may call it concurrently.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := sqlbase.NewMigrator(logger, db, migrations()).Up(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger = logger.With("module", "postgres")

	return &Persistence{
		db:             db,
		logger:         logger,
		workflowRepo:   NewWorkflowRepository(db, logger),
		resourceRepo:   NewTriggerResourceRepository(db, logger),
		executionRepo:  NewExecutionRepository(db, logger),
		integrationRep: NewIntegrationRepository(db, logger),
		webhookRepo:    NewWebhookSubscriptionRepository(db, logger),
	}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) TriggerResourceRepository() persistence.TriggerResourceRepository {
	return p.resourceRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) IntegrationRepository() persistence.IntegrationRepository {
	return p.integrationRep
}

func (p *Persistence) WebhookSubscriptionRepository() persistence.WebhookSubscriptionRepository {
	return p.webhookRepo
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db == nil {
		return nil
	}

	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
