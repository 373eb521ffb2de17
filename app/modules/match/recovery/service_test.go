package matchrecovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	matchqueue "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/queue"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
)

var now = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type recordedRecovery struct{ pruned, requeued int }

type fakeMetrics struct{ calls []recordedRecovery }

func (f *fakeMetrics) RecordRecovery(_ context.Context, pruned, requeued int) {
	f.calls = append(f.calls, recordedRecovery{pruned, requeued})
}

type fixture struct {
	repo    *matchdb.FakeRepository
	queue   *matchqueue.FakeQueue
	metrics *fakeMetrics
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    matchdb.NewFakeRepository(),
		queue:   matchqueue.NewFakeQueue(),
		metrics: &fakeMetrics{},
	}
	f.queue.Now = func() time.Time { return now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.repo, f.queue, logger, f.metrics, matchdomain.FixedClock(now))
	return f
}

func (f *fixture) seed(status matchdomain.Status, start time.Time) *matchdb.Match {
	m := &matchdb.Match{
		ID:             uuid.New(),
		SeasonID:       "season-1",
		Title:          gofakeit.HipsterWord() + " cup",
		Category:       matchdomain.CategoryClassic,
		Status:         status,
		ScheduledStart: start,
		Deadline:       start.Add(time.Hour),
		MinPlayers:     2,
		MaxPlayers:     12,
		CreatedBy:      gofakeit.Username(),
	}
	f.repo.Matches[m.ID] = m
	return m
}

func (f *fixture) schedule(t *testing.T, job matchdomain.Job, delay time.Duration) {
	t.Helper()
	require.NoError(t, f.queue.Enqueue(context.Background(), job, delay))
}

func TestReconcile_PrunesGhostJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	waiting := f.seed(matchdomain.StatusWaiting, now.Add(time.Hour))
	started := f.seed(matchdomain.StatusInProgress, now.Add(-10*time.Minute))
	finalized := f.seed(matchdomain.StatusFinalized, now.Add(-3*time.Hour))
	deleted := uuid.New()

	f.schedule(t, matchdomain.NewStartMatchJob(waiting.ID), time.Hour)
	f.schedule(t, matchdomain.NewReminderMatchJob(waiting.ID), 55*time.Minute)
	f.schedule(t, matchdomain.NewReminderMatchJob(started.ID), time.Minute)
	reveal := matchdomain.NewRevealPasscodeJob(started.ID, uuid.New())
	f.schedule(t, reveal, 2*time.Minute)
	f.schedule(t, matchdomain.NewDeleteChannelJob(finalized.ID, "channel-1"), 20*time.Hour)
	f.schedule(t, matchdomain.NewStartMatchJob(deleted), time.Hour)
	f.schedule(t, matchdomain.NewDeleteChannelJob(deleted, "channel-2"), time.Hour)

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)

	wantPruned := []string{
		matchdomain.JobKey(matchdomain.JobReminderMatch, started.ID),
		matchdomain.JobKey(matchdomain.JobStartMatch, deleted),
		matchdomain.JobKey(matchdomain.JobDeleteChannel, deleted),
	}
	if diff := cmp.Diff(wantPruned, report.Pruned, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("pruned mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, report.Requeued)

	assert.ElementsMatch(t, []string{
		matchdomain.JobKey(matchdomain.JobStartMatch, waiting.ID),
		matchdomain.JobKey(matchdomain.JobReminderMatch, waiting.ID),
		reveal.Key(),
		matchdomain.JobKey(matchdomain.JobDeleteChannel, finalized.ID),
	}, f.queue.Keys(), "reveal and cleanup jobs survive once the match has moved on")
	assert.Equal(t, []recordedRecovery{{pruned: 3, requeued: 0}}, f.metrics.calls)
}

func TestReconcile_RequeuesOverdueStarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	overdue := f.seed(matchdomain.StatusWaiting, now.Add(-5*time.Minute))
	onTime := f.seed(matchdomain.StatusWaiting, now)
	scheduled := f.seed(matchdomain.StatusWaiting, now.Add(-time.Minute))
	future := f.seed(matchdomain.StatusWaiting, now.Add(time.Hour))
	f.seed(matchdomain.StatusCancelled, now.Add(-time.Hour))

	f.schedule(t, matchdomain.NewStartMatchJob(scheduled.ID), 0)

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{overdue.ID, onTime.ID}, report.Requeued)
	for _, id := range []uuid.UUID{overdue.ID, onTime.ID} {
		job, ok := f.queue.Pending["start-match-"+id.String()]
		require.True(t, ok, id)
		assert.Zero(t, job.Delay)
		assert.Equal(t, id, job.Job.Match())
	}
	_, ok := f.queue.Pending[matchdomain.JobKey(matchdomain.JobStartMatch, future.ID)]
	assert.False(t, ok)

	second, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Requeued, "a second pass finds the jobs already queued")
	assert.Empty(t, second.Pruned)
	assert.Len(t, f.queue.Enqueued, 3)
}

func TestReconcile_Errors(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(f *fixture)
		wantErr      string
		wantRequeued int
	}{
		{
			name:         "listing fails but overdue starts are still requeued",
			setup:        func(f *fixture) { f.queue.Errors["ListDelayed"] = errors.New("queue down") },
			wantErr:      "list delayed jobs: queue down",
			wantRequeued: 1,
		},
		{
			name:    "overdue lookup fails",
			setup:   func(f *fixture) { f.repo.Errors["FindOverdueWaitingMatches"] = errors.New("db down") },
			wantErr: "find overdue matches: db down",
		},
		{
			name:    "enqueue fails",
			setup:   func(f *fixture) { f.queue.Errors["Enqueue"] = errors.New("queue full") },
			wantErr: "queue full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(matchdomain.StatusWaiting, now.Add(-time.Minute))
			tt.setup(f)

			report, err := f.svc.Reconcile(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Len(t, report.Requeued, tt.wantRequeued)
			require.Len(t, f.metrics.calls, 1)
		})
	}
}

type fakeSweeper struct{ calls chan time.Time }

func (f *fakeSweeper) OnDeadline(_ context.Context, at time.Time) (int, error) {
	f.calls <- at
	return 0, nil
}

func TestTask_ReconcilesOnStart(t *testing.T) {
	f := newFixture(t)
	overdue := f.seed(matchdomain.StatusWaiting, now.Add(-time.Minute))
	sweeper := &fakeSweeper{calls: make(chan time.Time, 10)}

	task := NewTask(f.svc, sweeper, slog.New(slog.NewTextHandler(io.Discard, nil)), TaskConfig{
		RecoveryInterval: time.Hour,
		DeadlineInterval: time.Hour,
	})
	require.NoError(t, task.Start(context.Background()))
	t.Cleanup(func() { _ = task.Stop() })

	key := matchdomain.JobKey(matchdomain.JobStartMatch, overdue.ID)
	assert.Eventually(t, func() bool {
		job, err := f.queue.GetJob(context.Background(), key)
		return err == nil && job != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), TaskConfig{})
	assert.Equal(t, DefaultRecoveryInterval, task.cfg.RecoveryInterval)
	assert.Equal(t, DefaultDeadlineInterval, task.cfg.DeadlineInterval)
	assert.NoError(t, task.Stop(), "stopping an unstarted task is a no-op")
}
