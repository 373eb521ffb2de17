package matchqueue

import (
	"context"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/riverqueue/river"
)

// dispatch runs a due job against the handler and records its outcome.
// Errors go back to River, which retries up to MaxAttempts.
func (s *Service) dispatch(ctx context.Context, job matchdomain.Job, attempt int, run func(Handler) error) error {
	logger := s.logger.With(
		attr.JobKey(job.Key()),
		attr.MatchID(job.Match()),
		attr.Int("attempt", attempt),
	)

	if s.handler == nil {
		s.metrics.RecordJobOutcome(ctx, job.Kind(), "no_handler")
		return ErrNoHandler
	}

	start := time.Now()
	if err := run(s.handler); err != nil {
		logger.ErrorContext(ctx, "Job handler failed", attr.Error(err))
		s.metrics.RecordJobOutcome(ctx, job.Kind(), "error")
		return err
	}

	logger.InfoContext(ctx, "Job handled", attr.Duration("took", time.Since(start)))
	s.metrics.RecordJobOutcome(ctx, job.Kind(), "ok")
	return nil
}

type startWorker struct {
	river.WorkerDefaults[matchdomain.StartMatchJob]
	service *Service
}

func (w *startWorker) Work(ctx context.Context, job *river.Job[matchdomain.StartMatchJob]) error {
	return w.service.dispatch(ctx, job.Args, job.Attempt, func(h Handler) error {
		return h.OnStart(ctx, job.Args.MatchID)
	})
}

type reminderWorker struct {
	river.WorkerDefaults[matchdomain.ReminderMatchJob]
	service *Service
}

func (w *reminderWorker) Work(ctx context.Context, job *river.Job[matchdomain.ReminderMatchJob]) error {
	return w.service.dispatch(ctx, job.Args, job.Attempt, func(h Handler) error {
		return h.OnReminder(ctx, job.Args.MatchID)
	})
}

type revealWorker struct {
	river.WorkerDefaults[matchdomain.RevealPasscodeJob]
	service *Service
}

func (w *revealWorker) Work(ctx context.Context, job *river.Job[matchdomain.RevealPasscodeJob]) error {
	return w.service.dispatch(ctx, job.Args, job.Attempt, func(h Handler) error {
		return h.OnRevealPasscode(ctx, job.Args.MatchID, job.Args.GameID)
	})
}

type deleteChannelWorker struct {
	river.WorkerDefaults[matchdomain.DeleteChannelJob]
	service *Service
}

func (w *deleteChannelWorker) Work(ctx context.Context, job *river.Job[matchdomain.DeleteChannelJob]) error {
	return w.service.dispatch(ctx, job.Args, job.Attempt, func(h Handler) error {
		return h.OnDeleteChannel(ctx, job.Args.MatchID, job.Args.ChannelRef)
	})
}
