// Package redisprogress keeps execution progress in Redis so API replicas can
// serve polling without hitting the primary database.
package redisprogress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const (
	fieldWorkflowID  = "workflow_id"
	fieldStatus      = "status"
	fieldFinalStatus = "final_status"
	fieldCurrentNode = "current_node_id"
	fieldPercentage  = "percentage"
	fieldUpdatedAt   = "updated_at"

	defaultTTL = 24 * time.Hour
)

// Store implements persistence.ProgressStore on Redis. Terminal node states
// and the terminal execution status are written with set-if-absent commands,
// which keeps them monotonic across concurrent writers.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func NewStore(client redis.UniversalClient, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: logger.With("module", "redis_progress"),
		prefix: "triggerhub:progress:",
		ttl:    defaultTTL,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewStoreFromURL connects to redis://host:port/db.
func NewStoreFromURL(ctx context.Context, redisURL string, logger *slog.Logger, opts ...Option) (*Store, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewStore(client, logger, opts...), nil
}

func (s *Store) keys(executionID string) (hash, nodes, order string) {
	base := s.prefix + executionID

	return base, base + ":nodes", base + ":order"
}

func (s *Store) SaveProgress(ctx context.Context, progress *models.ExecutionProgress) error {
	hashKey, nodesKey, orderKey := s.keys(progress.ExecutionID)

	updatedAt := progress.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if progress.WorkflowID != "" {
			pipe.HSetNX(ctx, hashKey, fieldWorkflowID, progress.WorkflowID)
		}

		if progress.Status != "" {
			pipe.HSet(ctx, hashKey, fieldStatus, string(progress.Status))

			if progress.Status.Terminal() {
				pipe.HSetNX(ctx, hashKey, fieldFinalStatus, string(progress.Status))
			}
		}

		if progress.CurrentNodeID != "" {
			pipe.HSet(ctx, hashKey, fieldCurrentNode, progress.CurrentNodeID)
		}

		pipe.HSet(ctx, hashKey,
			fieldPercentage, progress.Percentage,
			fieldUpdatedAt, updatedAt.Format(time.RFC3339Nano),
		)

		seq := float64(updatedAt.UnixNano())

		record := func(ids []string, status models.NodeStatus) {
			for _, id := range ids {
				pipe.HSetNX(ctx, nodesKey, id, string(status))
				pipe.ZAddNX(ctx, orderKey, redis.Z{Score: seq, Member: id})
				seq++
			}
		}

		record(progress.CompletedNodes, models.NodeStatusSuccess)
		record(progress.FailedNodes, models.NodeStatusError)
		record(progress.SkippedNodes, models.NodeStatusSkipped)

		pipe.Expire(ctx, hashKey, s.ttl)
		pipe.Expire(ctx, nodesKey, s.ttl)
		pipe.Expire(ctx, orderKey, s.ttl)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save progress for %s: %w", progress.ExecutionID, err)
	}

	return nil
}

func (s *Store) GetProgress(ctx context.Context, executionID string) (*models.ExecutionProgress, error) {
	hashKey, nodesKey, orderKey := s.keys(executionID)

	fields, err := s.client.HGetAll(ctx, hashKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load progress for %s: %w", executionID, err)
	}

	if len(fields) == 0 {
		return nil, persistence.NewNotFoundError("GetProgress", executionID, persistence.ErrExecutionNotFound)
	}

	progress := &models.ExecutionProgress{
		ExecutionID:    executionID,
		WorkflowID:     fields[fieldWorkflowID],
		Status:         models.ExecutionStatus(fields[fieldStatus]),
		CurrentNodeID:  fields[fieldCurrentNode],
		CompletedNodes: []string{},
		FailedNodes:    []string{},
		SkippedNodes:   []string{},
	}

	if final := fields[fieldFinalStatus]; final != "" {
		progress.Status = models.ExecutionStatus(final)
	}

	if pct, err := strconv.Atoi(fields[fieldPercentage]); err == nil {
		progress.Percentage = pct
	}

	if ts, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt]); err == nil {
		progress.UpdatedAt = ts
	}

	order, err := s.client.ZRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load node order for %s: %w", executionID, err)
	}

	statuses, err := s.client.HGetAll(ctx, nodesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load node states for %s: %w", executionID, err)
	}

	for _, id := range order {
		switch models.NodeStatus(statuses[id]) {
		case models.NodeStatusSuccess:
			progress.CompletedNodes = append(progress.CompletedNodes, id)
		case models.NodeStatusError:
			progress.FailedNodes = append(progress.FailedNodes, id)
		case models.NodeStatusSkipped:
			progress.SkippedNodes = append(progress.SkippedNodes, id)
		default:
			s.logger.WarnContext(ctx, "Unknown node state in progress", "execution_id", executionID, "node_id", id)
		}
	}

	return progress, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
