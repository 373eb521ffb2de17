package matchrecovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MatchReader is the slice of the match repository recovery needs.
type MatchReader interface {
	GetMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*matchdb.Match, error)
	FindOverdueWaitingMatches(ctx context.Context, db bun.IDB, now time.Time) ([]matchdb.Match, error)
}

// JobStore is the slice of the job queue recovery needs.
type JobStore interface {
	Enqueue(ctx context.Context, job matchdomain.Job, delay time.Duration) error
	Cancel(ctx context.Context, key string) error
	GetJob(ctx context.Context, key string) (*matchdomain.JobInfo, error)
	ListDelayed(ctx context.Context) ([]matchdomain.JobInfo, error)
}

type Metrics interface {
	RecordRecovery(ctx context.Context, pruned, requeued int)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Pruned   []string
	Requeued []uuid.UUID
}

// Service reconciles the job queue against persisted match state. It runs
// at process start and periodically, catching jobs lost between a state
// change and its enqueue as well as jobs left behind by a crash.
type Service struct {
	repo    MatchReader
	queue   JobStore
	logger  *slog.Logger
	metrics Metrics
	clock   matchdomain.Clock
}

func NewService(repo MatchReader, queue JobStore, logger *slog.Logger, metrics Metrics, clock matchdomain.Clock) *Service {
	if clock == nil {
		clock = matchdomain.RealClock{}
	}
	return &Service{repo: repo, queue: queue, logger: logger, metrics: metrics, clock: clock}
}

// Reconcile prunes ghost jobs and then requeues overdue starts. Both halves
// run even if the other fails.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	var report Report

	pruned, pruneErr := s.PruneGhostJobs(ctx)
	report.Pruned = pruned

	requeued, requeueErr := s.RequeueOverdue(ctx)
	report.Requeued = requeued

	s.metrics.RecordRecovery(ctx, len(pruned), len(requeued))
	if len(pruned) > 0 || len(requeued) > 0 {
		s.logger.InfoContext(ctx, "Job queue reconciled",
			attr.Int("pruned", len(pruned)),
			attr.Int("requeued", len(requeued)),
		)
	}
	return report, errors.Join(pruneErr, requeueErr)
}

// PruneGhostJobs cancels pending jobs whose match is gone, and start or
// reminder jobs whose match already left WAITING.
func (s *Service) PruneGhostJobs(ctx context.Context) ([]string, error) {
	jobs, err := s.queue.ListDelayed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list delayed jobs: %w", err)
	}

	statuses := make(map[uuid.UUID]*matchdomain.Status, len(jobs))
	var pruned []string
	var errs []error
	for _, job := range jobs {
		status, seen := statuses[job.MatchID]
		if !seen {
			m, err := s.repo.GetMatch(ctx, nil, job.MatchID)
			switch {
			case errors.Is(err, matchdb.ErrNotFound):
				status = nil
			case err != nil:
				errs = append(errs, fmt.Errorf("load match %s: %w", job.MatchID, err))
				continue
			default:
				status = &m.Status
			}
			statuses[job.MatchID] = status
		}

		ghost := status == nil || (*status != matchdomain.StatusWaiting && job.Type.PrunableWhenNotWaiting())
		if !ghost {
			continue
		}
		if err := s.queue.Cancel(ctx, job.Key); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", job.Key, err))
			continue
		}
		s.logger.InfoContext(ctx, "Pruned ghost job", attr.JobKey(job.Key), attr.MatchID(job.MatchID))
		pruned = append(pruned, job.Key)
	}
	return pruned, errors.Join(errs...)
}

// RequeueOverdue enqueues an immediate start for every WAITING match whose
// start has passed and that has no pending start job.
func (s *Service) RequeueOverdue(ctx context.Context) ([]uuid.UUID, error) {
	overdue, err := s.repo.FindOverdueWaitingMatches(ctx, nil, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("find overdue matches: %w", err)
	}

	var requeued []uuid.UUID
	var errs []error
	for _, m := range overdue {
		job := matchdomain.NewStartMatchJob(m.ID)
		existing, err := s.queue.GetJob(ctx, job.Key())
		if err != nil {
			errs = append(errs, fmt.Errorf("look up %s: %w", job.Key(), err))
			continue
		}
		if existing != nil {
			continue
		}
		if err := s.queue.Enqueue(ctx, job, 0); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", job.Key(), err))
			continue
		}
		s.logger.WarnContext(ctx, "Requeued overdue match start",
			attr.MatchID(m.ID),
			attr.Time("scheduled_start", m.ScheduledStart),
		)
		requeued = append(requeued, m.ID)
	}
	return requeued, errors.Join(errs...)
}
