// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/persistence/file"
	"github.com/dukex/triggerhub/pkg/persistence/postgresql"
	"github.com/dukex/triggerhub/pkg/persistence/redisprogress"
)

var ErrUnsupportedDatabase = errors.New("unsupported database url")

// NewPersistence opens the store named by databaseURL: file://<dir> or
// postgres://. A non-empty redisURL moves execution progress to redis.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL, redisURL string) (persistence.Persistence, error) {
	base, err := openDatabase(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	if redisURL == "" {
		return base, nil
	}

	store, err := redisprogress.NewStoreFromURL(ctx, redisURL, logger)
	if err != nil {
		_ = base.Close(ctx)

		return nil, err
	}

	return &progressPersistence{
		Persistence: base,
		executions:  persistence.WithProgressStore(base.ExecutionRepository(), store),
		store:       store,
	}, nil
}

func openDatabase(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, databaseURL)
	}

	switch scheme {
	case "file":
		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		db, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return db, nil
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedDatabase, scheme)
	}
}

type progressPersistence struct {
	persistence.Persistence

	executions persistence.ExecutionRepository
	store      *redisprogress.Store
}

func (p *progressPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func (p *progressPersistence) Close(ctx context.Context) error {
	return errors.Join(p.store.Close(), p.Persistence.Close(ctx))
}
