package matchqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
)

// FakeJob is a job held by FakeQueue.
type FakeJob struct {
	ID          int64
	Job         matchdomain.Job
	Delay       time.Duration
	ScheduledAt time.Time
}

// FakeQueue is an in-memory QueueService. Like the River service it treats a
// pending key as unique, so enqueueing it twice keeps the first job.
type FakeQueue struct {
	mu     sync.Mutex
	nextID int64

	Now     func() time.Time
	Pending map[string]FakeJob
	// Enqueued records every accepted Enqueue call in order, duplicates excluded.
	Enqueued  []FakeJob
	Cancelled []string
	Errors    map[string]error
}

var _ QueueService = (*FakeQueue)(nil)

func NewFakeQueue() *FakeQueue {
	return &FakeQueue{
		Now:     time.Now,
		Pending: map[string]FakeJob{},
		Errors:  map[string]error{},
	}
}

func (q *FakeQueue) Enqueue(ctx context.Context, job matchdomain.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.Errors["Enqueue"]; err != nil {
		return err
	}
	if _, ok := q.Pending[job.Key()]; ok {
		return nil
	}
	q.nextID++
	fj := FakeJob{ID: q.nextID, Job: job, Delay: delay, ScheduledAt: q.Now().Add(delay)}
	q.Pending[job.Key()] = fj
	q.Enqueued = append(q.Enqueued, fj)
	return nil
}

func (q *FakeQueue) Cancel(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.Errors["Cancel"]; err != nil {
		return err
	}
	if _, ok := q.Pending[key]; ok {
		delete(q.Pending, key)
		q.Cancelled = append(q.Cancelled, key)
	}
	return nil
}

func (q *FakeQueue) GetJob(ctx context.Context, key string) (*matchdomain.JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.Errors["GetJob"]; err != nil {
		return nil, err
	}
	fj, ok := q.Pending[key]
	if !ok {
		return nil, nil
	}
	info := fj.info()
	return &info, nil
}

func (q *FakeQueue) ListDelayed(ctx context.Context) ([]matchdomain.JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.Errors["ListDelayed"]; err != nil {
		return nil, err
	}
	infos := make([]matchdomain.JobInfo, 0, len(q.Pending))
	for _, fj := range q.Pending {
		infos = append(infos, fj.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Keys returns the pending job keys, sorted.
func (q *FakeQueue) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, 0, len(q.Pending))
	for k := range q.Pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (q *FakeQueue) HealthCheck(ctx context.Context) error { return nil }
func (q *FakeQueue) Start(ctx context.Context) error       { return nil }
func (q *FakeQueue) Stop(ctx context.Context) error        { return nil }

func (fj FakeJob) info() matchdomain.JobInfo {
	state := "available"
	if fj.Delay > 0 {
		state = "scheduled"
	}
	return matchdomain.JobInfo{
		ID:          fj.ID,
		Key:         fj.Job.Key(),
		Type:        fj.Job.Type(),
		MatchID:     fj.Job.Match(),
		State:       state,
		ScheduledAt: fj.ScheduledAt,
		MaxAttempts: MaxAttempts,
	}
}
