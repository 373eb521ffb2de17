package matchqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/uptrace/bun"
)

const (
	// QueueName is the River queue all match jobs run on.
	QueueName = "match"
	// MaxAttempts bounds retries of a failing job handler.
	MaxAttempts = 3

	serviceName = "river"
)

// pendingStates are the River job states that have not run yet.
var pendingStates = []string{"available", "scheduled", "retryable"}

// uniqueStates make a key unique only while its job is outstanding, so a
// match can be rescheduled once an earlier job finished or was cancelled.
var uniqueStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// Metrics is the subset of match metrics the queue records.
type Metrics interface {
	RecordOperationAttempt(ctx context.Context, operation, service string)
	RecordOperationSuccess(ctx context.Context, operation, service string)
	RecordOperationFailure(ctx context.Context, operation, service string)
	RecordOperationDuration(ctx context.Context, operation, service string, duration time.Duration)
	RecordJobOutcome(ctx context.Context, kind, outcome string)
}

// Handler receives due jobs. The match orchestrator implements it.
type Handler interface {
	OnStart(ctx context.Context, matchID uuid.UUID) error
	OnReminder(ctx context.Context, matchID uuid.UUID) error
	OnRevealPasscode(ctx context.Context, matchID, gameID uuid.UUID) error
	OnDeleteChannel(ctx context.Context, matchID uuid.UUID, channelRef string) error
}

// QueueService is the delayed job contract the match module depends on.
type QueueService interface {
	// Enqueue schedules job to run after delay. Enqueueing a key that is
	// already pending is a no-op.
	Enqueue(ctx context.Context, job matchdomain.Job, delay time.Duration) error
	// Cancel removes every pending job with the key.
	Cancel(ctx context.Context, key string) error
	// GetJob returns the pending job with the key, or nil if there is none.
	GetJob(ctx context.Context, key string) (*matchdomain.JobInfo, error)
	// ListDelayed returns every pending match job.
	ListDelayed(ctx context.Context) ([]matchdomain.JobInfo, error)
	HealthCheck(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var _ QueueService = (*Service)(nil)

// ErrNoHandler is returned by workers that run before SetHandler.
var ErrNoHandler = errors.New("matchqueue: no handler registered")

// Service handles job scheduling for the match module using River.
type Service struct {
	client  *river.Client[pgx.Tx]
	pool    *pgxpool.Pool
	db      *bun.DB
	logger  *slog.Logger
	metrics Metrics
	handler Handler
}

// Options tunes the River client.
type Options struct {
	Workers int
}

// NewService creates the River client and registers one worker per job type.
// River needs pgx, so it gets its own pool next to the bun connection.
func NewService(ctx context.Context, bunDB *bun.DB, logger *slog.Logger, dsn string, metrics Metrics, opts Options) (*Service, error) {
	logger = logger.With(attr.String("component", "river_queue"))

	start := time.Now()
	metrics.RecordOperationAttempt(ctx, "initialize_service", serviceName)

	pool, err := openPool(ctx, dsn)
	if err != nil {
		logger.Error("Failed to open pgx pool for River", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", serviceName)
		return nil, err
	}

	if opts.Workers <= 0 {
		opts.Workers = 25
	}

	s := &Service{
		pool:    pool,
		db:      bunDB,
		logger:  logger,
		metrics: metrics,
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &startWorker{service: s})
	river.AddWorker(workers, &reminderWorker{service: s})
	river.AddWorker(workers, &revealWorker{service: s})
	river.AddWorker(workers, &deleteChannelWorker{service: s})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueName: {MaxWorkers: opts.Workers},
		},
		Workers:     workers,
		MaxAttempts: MaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		pool.Close()
		logger.Error("Failed to create River client", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", serviceName)
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	s.client = client

	metrics.RecordOperationSuccess(ctx, "initialize_service", serviceName)
	metrics.RecordOperationDuration(ctx, "initialize_service", serviceName, time.Since(start))

	logger.Info("Match queue service initialized")
	return s, nil
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate brings the River schema up to date.
func Migrate(ctx context.Context, dsn string, logger *slog.Logger) error {
	pool, err := openPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), &rivermigrate.Config{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{})
	if err != nil {
		return fmt.Errorf("failed to run River migrations: %w", err)
	}
	for _, v := range res.Versions {
		logger.Info("Applied River migration", attr.Int("version", v.Version))
	}
	return nil
}

// SetHandler wires the receiver of due jobs. Call it before Start.
func (s *Service) SetHandler(h Handler) {
	s.handler = h
}

// Start starts the River workers.
func (s *Service) Start(ctx context.Context) error {
	return s.observe(ctx, "start_service", func() error {
		if s.handler == nil {
			return ErrNoHandler
		}
		if err := s.client.Start(ctx); err != nil {
			return fmt.Errorf("failed to start River client: %w", err)
		}
		s.logger.InfoContext(ctx, "Match queue service started")
		return nil
	})
}

// Stop waits for running jobs and closes the pgx pool.
func (s *Service) Stop(ctx context.Context) error {
	return s.observe(ctx, "stop_service", func() error {
		defer s.pool.Close()
		if err := s.client.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop River client: %w", err)
		}
		s.logger.InfoContext(ctx, "Match queue service stopped")
		return nil
	})
}

func (s *Service) Enqueue(ctx context.Context, job matchdomain.Job, delay time.Duration) error {
	return s.observe(ctx, "enqueue", func() error {
		opts := &river.InsertOpts{
			Queue:       QueueName,
			MaxAttempts: MaxAttempts,
			UniqueOpts: river.UniqueOpts{
				ByArgs:  true,
				ByState: uniqueStates,
			},
		}
		if delay > 0 {
			opts.ScheduledAt = time.Now().Add(delay)
		}

		res, err := s.client.Insert(ctx, job, opts)
		if err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", job.Key(), err)
		}

		s.logger.InfoContext(ctx, "Job enqueued",
			attr.JobKey(job.Key()),
			attr.Duration("delay", delay),
			attr.Int64("job_id", res.Job.ID),
			attr.Bool("duplicate", res.UniqueSkippedAsDuplicate),
		)
		return nil
	})
}

// riverJobRow is the part of river_job the match module reads.
type riverJobRow struct {
	ID          int64          `bun:"id"`
	Kind        string         `bun:"kind"`
	State       string         `bun:"state"`
	Args        map[string]any `bun:"args,type:jsonb"`
	ScheduledAt time.Time      `bun:"scheduled_at"`
	Attempt     int16          `bun:"attempt"`
	MaxAttempts int16          `bun:"max_attempts"`
}

func (r riverJobRow) info() matchdomain.JobInfo {
	info := matchdomain.JobInfo{
		ID:          r.ID,
		Type:        matchdomain.JobType(r.Kind),
		State:       r.State,
		ScheduledAt: r.ScheduledAt,
		Attempt:     int(r.Attempt),
		MaxAttempts: int(r.MaxAttempts),
	}
	if key, ok := r.Args["job_key"].(string); ok {
		info.Key = key
	}
	if raw, ok := r.Args["match_id"].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			info.MatchID = id
		}
	}
	return info
}

func (s *Service) pendingJobs(ctx context.Context, key string) ([]riverJobRow, error) {
	var rows []riverJobRow
	q := s.db.NewSelect().
		Table("river_job").
		Column("id", "kind", "state", "args", "scheduled_at", "attempt", "max_attempts").
		Where("kind IN (?)", bun.In(matchdomain.JobTypes)).
		Where("state IN (?)", bun.In(pendingStates)).
		Order("scheduled_at ASC", "id ASC")
	if key != "" {
		q = q.Where("args->>'job_key' = ?", key)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to query river jobs: %w", err)
	}
	return rows, nil
}

func (s *Service) Cancel(ctx context.Context, key string) error {
	return s.observe(ctx, "cancel", func() error {
		rows, err := s.pendingJobs(ctx, key)
		if err != nil {
			return err
		}

		cancelled := 0
		for _, row := range rows {
			if _, err := s.client.JobCancel(ctx, row.ID); err != nil {
				s.logger.WarnContext(ctx, "Failed to cancel job",
					attr.Int64("job_id", row.ID),
					attr.JobKey(key),
					attr.Error(err))
				continue
			}
			cancelled++
		}
		if cancelled < len(rows) {
			return fmt.Errorf("cancelled %d of %d jobs for %s", cancelled, len(rows), key)
		}

		s.logger.InfoContext(ctx, "Jobs cancelled", attr.JobKey(key), attr.Int("count", cancelled))
		return nil
	})
}

func (s *Service) GetJob(ctx context.Context, key string) (*matchdomain.JobInfo, error) {
	var found *matchdomain.JobInfo
	err := s.observe(ctx, "get_job", func() error {
		rows, err := s.pendingJobs(ctx, key)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			info := rows[0].info()
			found = &info
		}
		return nil
	})
	return found, err
}

func (s *Service) ListDelayed(ctx context.Context) ([]matchdomain.JobInfo, error) {
	var infos []matchdomain.JobInfo
	err := s.observe(ctx, "list_delayed", func() error {
		rows, err := s.pendingJobs(ctx, "")
		if err != nil {
			return err
		}
		infos = make([]matchdomain.JobInfo, 0, len(rows))
		for _, row := range rows {
			infos = append(infos, row.info())
		}
		return nil
	})
	return infos, err
}

// HealthCheck verifies the River tables are reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.observe(ctx, "health_check", func() error {
		if s.client == nil {
			return errors.New("river client is nil")
		}
		count, err := s.db.NewSelect().Table("river_job").Count(ctx)
		if err != nil {
			return fmt.Errorf("queue service health check failed: %w", err)
		}
		s.logger.DebugContext(ctx, "Queue service health check passed", attr.Int("total_jobs", count))
		return nil
	})
}

func (s *Service) observe(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, operation, serviceName)
	defer func() {
		s.metrics.RecordOperationDuration(ctx, operation, serviceName, time.Since(start))
	}()

	if err := fn(); err != nil {
		s.logger.ErrorContext(ctx, "Queue operation failed",
			attr.String("operation", operation),
			attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, operation, serviceName)
		return err
	}
	s.metrics.RecordOperationSuccess(ctx, operation, serviceName)
	return nil
}
