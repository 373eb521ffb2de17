package matchservice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	matchmetrics "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/metrics"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/notifications"
	matchqueue "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/queue"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

var testNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

const testSeason = "season-1"

type harness struct {
	repo  *matchdb.FakeRepository
	queue *matchqueue.FakeQueue
	sink  *notifications.FakeSink
	bus   *liveupdates.FakeBus
	now   time.Time
	clock *matchdomain.FakeClock
	svc   *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:  matchdb.NewFakeRepository(),
		queue: matchqueue.NewFakeQueue(),
		sink:  notifications.NewFakeSink(),
		bus:   &liveupdates.FakeBus{},
		now:   testNow,
	}
	h.clock = &matchdomain.FakeClock{NowFn: func() time.Time { return h.now }}
	h.queue.Now = h.clock.Now
	h.svc = h.orchestrator(h.repo)
	return h
}

// orchestrator builds an Orchestrator over repo sharing the harness's other
// fakes, for tests that wrap the repository.
func (h *harness) orchestrator(repo matchdb.Repository) *Orchestrator {
	return NewOrchestrator(
		repo,
		h.queue,
		h.sink,
		h.bus,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		matchmetrics.NoOp{},
		noop.NewTracerProvider().Tracer("test"),
		nil,
		DefaultConfig(),
		WithClock(h.clock),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	)
}

type matchOpt func(*matchdb.Match)

func withStatus(s matchdomain.Status) matchOpt { return func(m *matchdb.Match) { m.Status = s } }

func withCategory(c matchdomain.Category) matchOpt {
	return func(m *matchdb.Match) { m.Category = c }
}

func withStart(t time.Time) matchOpt {
	return func(m *matchdb.Match) {
		m.ScheduledStart = t
		m.Deadline = t.Add(time.Hour)
	}
}

func withNumber(n int) matchOpt { return func(m *matchdb.Match) { m.MatchNumber = &n } }

func withChannel(ref string) matchOpt { return func(m *matchdb.Match) { m.ChannelRef = ref } }

func withMinPlayers(n int) matchOpt { return func(m *matchdb.Match) { m.MinPlayers = n } }

func withMaxPlayers(n int) matchOpt { return func(m *matchdb.Match) { m.MaxPlayers = n } }

// seedMatch stores a match directly, bypassing CreateMatch.
func (h *harness) seedMatch(t *testing.T, opts ...matchOpt) *matchdb.Match {
	t.Helper()
	m := &matchdb.Match{
		ID:             uuid.New(),
		SeasonID:       testSeason,
		Title:          "Friday Cup",
		Category:       matchdomain.CategoryClassic,
		Status:         matchdomain.StatusWaiting,
		ScheduledStart: h.now.Add(2 * time.Hour),
		Deadline:       h.now.Add(3 * time.Hour),
		MinPlayers:     2,
		MaxPlayers:     12,
		Tracks:         []string{"t1", "t2", "t3", "t4"},
		CreatedBy:      "mod",
	}
	for _, opt := range opts {
		opt(m)
	}
	require.NoError(t, h.repo.CreateMatch(context.Background(), nil, m))
	return m
}

// join adds n players user-01..user-n, one second apart. Rosters of seeded
// matches that already left WAITING are filled in as if they joined earlier.
func (h *harness) join(t *testing.T, matchID uuid.UUID, n int) []string {
	t.Helper()
	m := h.repo.Matches[matchID]
	require.NotNil(t, m)
	status := m.Status
	m.Status = matchdomain.StatusWaiting
	defer func() { m.Status = status }()

	users := make([]string, n)
	for i := range n {
		users[i] = fmt.Sprintf("user-%02d", i+1)
		require.NoError(t, h.repo.AddParticipant(context.Background(), nil, matchID, users[i], h.now.Add(time.Duration(i)*time.Second)))
	}
	return users
}

// startedGame seeds an IN_PROGRESS match with a published game and one
// UNSUBMITTED row per player.
func (h *harness) startedGame(t *testing.T, players int, opts ...matchOpt) (*matchdb.Match, *matchdb.Game) {
	t.Helper()
	opts = append([]matchOpt{withStatus(matchdomain.StatusInProgress), withNumber(1), withChannel("channel-9")}, opts...)
	m := h.seedMatch(t, opts...)
	users := h.join(t, m.ID, players)

	published := h.now
	g := &matchdb.Game{
		ID:                  uuid.New(),
		MatchID:             m.ID,
		Passcode:            "1234",
		PasscodeVersion:     1,
		PasscodePublishedAt: &published,
		Tracks:              m.Tracks,
	}
	require.NoError(t, h.repo.CreateGame(context.Background(), nil, g))
	rows := make([]matchdb.GameParticipant, len(users))
	for i, u := range users {
		rows[i] = matchdb.GameParticipant{GameID: g.ID, UserID: u, Status: matchdomain.ScoreUnsubmitted}
	}
	require.NoError(t, h.repo.BulkCreateGameParticipants(context.Background(), nil, rows))
	return m, g
}

// setScore overwrites a participant row's score fields.
func (h *harness) setScore(gameID uuid.UUID, userID string, status matchdomain.ScoreStatus, total int, races ...matchdomain.RaceResult) {
	row := h.repo.GameRows[gameID][userID]
	row.Status = status
	row.TotalScore = total
	row.Races = races
}

func (h *harness) match(t *testing.T, id uuid.UUID) *matchdb.Match {
	t.Helper()
	m, err := h.repo.GetMatch(context.Background(), nil, id)
	require.NoError(t, err)
	return m
}

func race(n, pos, pts int) matchdomain.RaceResult {
	return matchdomain.RaceResult{Race: n, Position: pos, Points: pts}
}
