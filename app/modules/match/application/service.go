package matchservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	matchmetrics "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/metrics"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/notifications"
	matchqueue "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/queue"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "MatchOrchestrator"

// Config holds the scheduling constants of the match lifecycle.
type Config struct {
	PasscodeRevealDelay time.Duration
	ChannelCleanupDelay time.Duration
	ReminderLead        time.Duration
	ReminderMinLead     time.Duration
	DefaultTimezone     *time.Location
}

func DefaultConfig() Config {
	return Config{
		PasscodeRevealDelay: 2 * time.Minute,
		ChannelCleanupDelay: 24 * time.Hour,
		ReminderLead:        5 * time.Minute,
		ReminderMinLead:     time.Hour,
		DefaultTimezone:     time.UTC,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PasscodeRevealDelay <= 0 {
		c.PasscodeRevealDelay = d.PasscodeRevealDelay
	}
	if c.ChannelCleanupDelay <= 0 {
		c.ChannelCleanupDelay = d.ChannelCleanupDelay
	}
	if c.ReminderLead <= 0 {
		c.ReminderLead = d.ReminderLead
	}
	if c.ReminderMinLead <= 0 {
		c.ReminderMinLead = d.ReminderMinLead
	}
	if c.DefaultTimezone == nil {
		c.DefaultTimezone = d.DefaultTimezone
	}
	return c
}

// Orchestrator owns the match and game state machine.
type Orchestrator struct {
	repo    matchdb.Repository
	queue   JobQueue
	sink    notifications.Sink
	bus     liveupdates.Bus
	logger  *slog.Logger
	metrics matchmetrics.Metrics
	tracer  trace.Tracer
	db      *bun.DB
	clock   matchdomain.Clock
	cfg     Config

	rngMu sync.Mutex
	rng   *rand.Rand
}

var (
	_ Service            = (*Orchestrator)(nil)
	_ matchqueue.Handler = (*Orchestrator)(nil)
)

type Option func(*Orchestrator)

func WithClock(c matchdomain.Clock) Option { return func(o *Orchestrator) { o.clock = c } }

// WithRand fixes the randomness used for passcodes and team assignment.
func WithRand(r *rand.Rand) Option { return func(o *Orchestrator) { o.rng = r } }

// NewOrchestrator wires the match lifecycle. db may be nil, in which case
// repository calls run without a transaction.
func NewOrchestrator(
	repo matchdb.Repository,
	queue JobQueue,
	sink notifications.Sink,
	bus liveupdates.Bus,
	logger *slog.Logger,
	metrics matchmetrics.Metrics,
	tracer trace.Tracer,
	db *bun.DB,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		repo:    repo,
		queue:   queue,
		sink:    sink,
		bus:     bus,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		db:      db,
		clock:   matchdomain.RealClock{},
		cfg:     cfg.withDefaults(),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// withTelemetry wraps an operation with a span, metrics, logging and panic
// recovery. Domain errors are returned unwrapped and logged at WARN;
// infrastructure errors are wrapped with the operation name.
func withTelemetry[T any](
	s *Orchestrator,
	ctx context.Context,
	operationName string,
	matchID uuid.UUID,
	op func(ctx context.Context) (T, error),
) (result T, err error) {
	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
		attribute.String("match_id", matchID.String()),
	))
	defer span.End()

	s.metrics.RecordOperationAttempt(ctx, operationName, serviceName)

	startTime := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration(ctx, operationName, serviceName, time.Since(startTime))
	}()

	s.logger.InfoContext(ctx, operationName+" triggered",
		attr.String("operation", operationName),
		attr.MatchID(matchID),
		attr.ExtractCorrelationID(ctx),
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", operationName, r)
			s.logger.ErrorContext(ctx, "Critical panic recovered",
				attr.MatchID(matchID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(err),
			)
			s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			var zero T
			result = zero
		}
	}()

	result, err = op(ctx)
	if err != nil {
		s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
		if IsDomainError(err) {
			s.logger.WarnContext(ctx, "Operation rejected",
				attr.String("operation", operationName),
				attr.MatchID(matchID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(err),
			)
			return result, err
		}
		wrappedErr := fmt.Errorf("%s: %w", operationName, err)
		s.logger.ErrorContext(ctx, "Operation failed with error",
			attr.String("operation", operationName),
			attr.MatchID(matchID),
			attr.ExtractCorrelationID(ctx),
			attr.Error(wrappedErr),
		)
		span.RecordError(wrappedErr)
		span.SetStatus(codes.Error, wrappedErr.Error())
		return result, wrappedErr
	}

	s.logger.InfoContext(ctx, operationName+" completed successfully",
		attr.String("operation", operationName),
		attr.MatchID(matchID),
		attr.ExtractCorrelationID(ctx),
	)
	s.metrics.RecordOperationSuccess(ctx, operationName, serviceName)
	return result, nil
}

// runInTx runs fn inside one transaction.
func runInTx[T any](
	s *Orchestrator,
	ctx context.Context,
	fn func(ctx context.Context, db bun.IDB) (T, error),
) (T, error) {
	if s.db == nil {
		return fn(ctx, nil)
	}

	var result T
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var txErr error
		result, txErr = fn(ctx, tx)
		return txErr
	})
	return result, err
}

// errSkip aborts a transaction whose work turned out to be a no-op because
// another caller got there first.
var errSkip = errors.New("skip")

type none struct{}

func (s *Orchestrator) loadMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*matchdb.Match, error) {
	m, err := s.repo.GetMatch(ctx, db, matchID)
	if errors.Is(err, matchdb.ErrNotFound) {
		return nil, notFound("match", matchID)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// lockMatch is loadMatch holding the row lock for the rest of db's
// transaction.
func (s *Orchestrator) lockMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*matchdb.Match, error) {
	m, err := s.repo.GetMatchForUpdate(ctx, db, matchID)
	if errors.Is(err, matchdb.ErrNotFound) {
		return nil, notFound("match", matchID)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// lockGame is loadGame with the game row locked for the rest of db's
// transaction.
func (s *Orchestrator) lockGame(ctx context.Context, db bun.IDB, gameID uuid.UUID) (*matchdb.Game, *matchdb.Match, error) {
	g, err := s.repo.GetGameForUpdate(ctx, db, gameID)
	if errors.Is(err, matchdb.ErrNotFound) {
		return nil, nil, notFound("game", gameID)
	}
	if err != nil {
		return nil, nil, err
	}
	m, err := s.loadMatch(ctx, db, g.MatchID)
	if err != nil {
		return nil, nil, err
	}
	return g, m, nil
}

func (s *Orchestrator) loadGame(ctx context.Context, db bun.IDB, gameID uuid.UUID) (*matchdb.Game, *matchdb.Match, error) {
	g, err := s.repo.GetGame(ctx, db, gameID)
	if errors.Is(err, matchdb.ErrNotFound) {
		return nil, nil, notFound("game", gameID)
	}
	if err != nil {
		return nil, nil, err
	}
	m, err := s.loadMatch(ctx, db, g.MatchID)
	if err != nil {
		return nil, nil, err
	}
	return g, m, nil
}

func (s *Orchestrator) passcode() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return matchdomain.GeneratePasscode(s.rng)
}

func (s *Orchestrator) assignTeams(players []matchdomain.TeamCandidate) (matchdomain.TeamAssignment, error) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return matchdomain.AssignTeams(players, s.rng)
}

func (s *Orchestrator) roster(ctx context.Context, db bun.IDB, matchID uuid.UUID) ([]string, error) {
	participants, err := s.repo.ListParticipants(ctx, db, matchID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(participants))
	for i, p := range participants {
		out[i] = p.UserID
	}
	return out, nil
}

func summary(m *matchdb.Match, players []string) notifications.MatchSummary {
	return notifications.MatchSummary{
		MatchID:        m.ID,
		SeasonID:       m.SeasonID,
		MatchNumber:    m.MatchNumber,
		Title:          m.Title,
		Category:       m.Category,
		ScheduledStart: m.ScheduledStart,
		ChannelRef:     m.ChannelRef,
		Players:        players,
		Reason:         m.CancelReason,
	}
}

// enqueue schedules a job. A failed enqueue is logged rather than returned:
// the state change it follows is already committed and reconciliation
// requeues overdue starts.
func (s *Orchestrator) enqueue(ctx context.Context, job matchdomain.Job, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	if err := s.queue.Enqueue(ctx, job, delay); err != nil {
		s.logger.ErrorContext(ctx, "Failed to enqueue job",
			attr.JobKey(job.Key()),
			attr.MatchID(job.Match()),
			attr.Error(err),
		)
	}
}

func (s *Orchestrator) cancelJob(ctx context.Context, key string) {
	if err := s.queue.Cancel(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "Failed to cancel job", attr.JobKey(key), attr.Error(err))
	}
}

// cancelPendingJobs removes every job that would act on a match that is
// going away. Handlers re-check status, so a job that slips through is harmless.
func (s *Orchestrator) cancelPendingJobs(ctx context.Context, matchID uuid.UUID, gameID *uuid.UUID) {
	s.cancelJob(ctx, matchdomain.JobKey(matchdomain.JobStartMatch, matchID))
	s.cancelJob(ctx, matchdomain.JobKey(matchdomain.JobReminderMatch, matchID))
	if gameID != nil {
		s.cancelJob(ctx, matchdomain.JobKey(matchdomain.JobRevealPasscode, *gameID))
	}
}

// reassignMatchNumbers renumbers the season's waiting matches. It must run
// inside a transaction; the advisory lock serializes concurrent renumbering.
func (s *Orchestrator) reassignMatchNumbers(ctx context.Context, db bun.IDB, seasonID string) error {
	if err := s.repo.AcquireSeasonLock(ctx, db, seasonID); err != nil {
		return fmt.Errorf("lock season %s: %w", seasonID, err)
	}
	candidates, err := s.repo.ListNumberingCandidates(ctx, db, seasonID)
	if err != nil {
		return err
	}

	plan := matchdomain.PlanRenumbering(candidates)
	if len(plan.Flexible) == 0 {
		return nil
	}
	if err := s.repo.ClearMatchNumbers(ctx, db, plan.Flexible); err != nil {
		return err
	}
	for _, a := range plan.Assignments {
		if err := s.repo.SetMatchNumber(ctx, db, a.MatchID, a.Number); err != nil {
			return fmt.Errorf("number match %s: %w", a.MatchID, err)
		}
	}

	s.logger.DebugContext(ctx, "Match numbers reassigned",
		attr.SeasonID(seasonID),
		attr.Int("waiting", len(plan.Assignments)),
		attr.Int("max_locked", plan.MaxLocked),
	)
	return nil
}
