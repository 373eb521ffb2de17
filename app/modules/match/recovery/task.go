package matchrecovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/go-co-op/gocron/v2"
)

const (
	DefaultRecoveryInterval = 30 * time.Second
	DefaultDeadlineInterval = time.Minute
)

// DeadlineSweeper completes matches whose deadline has passed.
type DeadlineSweeper interface {
	OnDeadline(ctx context.Context, now time.Time) (int, error)
}

// TaskConfig sets how often each background pass runs.
type TaskConfig struct {
	RecoveryInterval time.Duration
	DeadlineInterval time.Duration
}

// Task owns the scheduler that drives reconciliation and the deadline sweep.
type Task struct {
	recovery *Service
	sweeper  DeadlineSweeper
	logger   *slog.Logger
	cfg      TaskConfig

	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

func NewTask(recovery *Service, sweeper DeadlineSweeper, logger *slog.Logger, cfg TaskConfig) *Task {
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = DefaultRecoveryInterval
	}
	if cfg.DeadlineInterval <= 0 {
		cfg.DeadlineInterval = DefaultDeadlineInterval
	}
	return &Task{recovery: recovery, sweeper: sweeper, logger: logger, cfg: cfg}
}

// Start reconciles once immediately and then schedules both passes. Jobs are
// singleton so a slow pass is never overlapped by the next tick.
func (t *Task) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)

	_, err = s.NewJob(
		gocron.DurationJob(t.cfg.RecoveryInterval),
		gocron.NewTask(t.reconcile, ctx),
		gocron.WithName("match-recovery"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("schedule recovery: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(t.cfg.DeadlineInterval),
		gocron.NewTask(t.sweep, ctx),
		gocron.WithName("match-deadline-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("schedule deadline sweep: %w", err)
	}

	t.scheduler = s
	t.cancel = cancel
	s.Start()

	t.logger.InfoContext(ctx, "Background tasks started",
		attr.Duration("recovery_interval", t.cfg.RecoveryInterval),
		attr.Duration("deadline_interval", t.cfg.DeadlineInterval),
	)
	return nil
}

// Stop waits for running passes to finish.
func (t *Task) Stop() error {
	if t.scheduler == nil {
		return nil
	}
	t.cancel()
	return t.scheduler.Shutdown()
}

func (t *Task) reconcile(ctx context.Context) {
	if _, err := t.recovery.Reconcile(ctx); err != nil {
		t.logger.ErrorContext(ctx, "Reconciliation failed", attr.Error(err))
	}
}

func (t *Task) sweep(ctx context.Context) {
	n, err := t.sweeper.OnDeadline(ctx, t.recovery.clock.Now())
	if err != nil {
		t.logger.ErrorContext(ctx, "Deadline sweep failed", attr.Error(err))
	}
	if n > 0 {
		t.logger.InfoContext(ctx, "Deadline sweep completed matches", attr.Int("completed", n))
	}
}
