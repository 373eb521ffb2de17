package matchservice

import (
	"context"
	"testing"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// hookedRepo runs a callback once, right before the wrapped call, standing in
// for another writer that commits between two steps of an operation.
type hookedRepo struct {
	*matchdb.FakeRepository

	beforeAddParticipant   func()
	beforeListParticipants func()
	beforeUpsertScore      func()
}

func fire(hook *func()) {
	if f := *hook; f != nil {
		*hook = nil
		f()
	}
}

func (r *hookedRepo) AddParticipant(ctx context.Context, db bun.IDB, matchID uuid.UUID, userID string, joinedAt time.Time) error {
	fire(&r.beforeAddParticipant)
	return r.FakeRepository.AddParticipant(ctx, db, matchID, userID, joinedAt)
}

func (r *hookedRepo) ListParticipants(ctx context.Context, db bun.IDB, matchID uuid.UUID) ([]matchdb.MatchParticipant, error) {
	fire(&r.beforeListParticipants)
	return r.FakeRepository.ListParticipants(ctx, db, matchID)
}

func (r *hookedRepo) UpsertGameParticipant(ctx context.Context, db bun.IDB, participant *matchdb.GameParticipant) error {
	fire(&r.beforeUpsertScore)
	return r.FakeRepository.UpsertGameParticipant(ctx, db, participant)
}

// assertRosterMatchesGame checks the match counter, roster and game rows agree.
func assertRosterMatchesGame(t *testing.T, h *harness, matchID uuid.UUID, want int) *matchdb.Game {
	t.Helper()
	ctx := context.Background()

	m := h.match(t, matchID)
	assert.Equal(t, matchdomain.StatusInProgress, m.Status)
	assert.Equal(t, want, m.CurrentPlayers)

	roster, err := h.repo.ListParticipants(ctx, nil, matchID)
	require.NoError(t, err)
	assert.Len(t, roster, want)

	game, err := h.repo.GetCurrentGame(ctx, nil, matchID)
	require.NoError(t, err)
	rows := h.repo.GameRows[game.ID]
	assert.Len(t, rows, want)
	for _, p := range roster {
		assert.Contains(t, rows, p.UserID, "every rostered player has a game row")
	}
	return game
}

func TestJoinMatch_StartCommitsFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.seedMatch(t, withNumber(1), withStart(testNow))
	h.join(t, m.ID, 4)

	repo := &hookedRepo{FakeRepository: h.repo}
	svc := h.orchestrator(repo)
	repo.beforeAddParticipant = func() {
		require.NoError(t, svc.OnStart(ctx, m.ID))
	}

	err := svc.JoinMatch(ctx, m.ID, "late")
	require.ErrorIs(t, err, ErrPrecondition)

	game := assertRosterMatchesGame(t, h, m.ID, 4)
	assert.NotContains(t, h.repo.GameRows[game.ID], "late")
}

func TestLeaveMatch_AfterStartFlipsStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.seedMatch(t, withNumber(1), withStart(testNow))
	h.join(t, m.ID, 4)

	repo := &hookedRepo{FakeRepository: h.repo}
	svc := h.orchestrator(repo)
	var leaveErr error
	repo.beforeListParticipants = func() {
		leaveErr = svc.LeaveMatch(ctx, m.ID, "user-01")
	}

	require.NoError(t, svc.OnStart(ctx, m.ID))
	require.ErrorIs(t, leaveErr, ErrPrecondition, "the roster is frozen once the start claimed the match")

	game := assertRosterMatchesGame(t, h, m.ID, 4)
	assert.Contains(t, h.repo.GameRows[game.ID], "user-01")
}

func TestOnStart_InvalidTeamRosterCancelsInsideStart(t *testing.T) {
	h := newHarness(t)
	m := h.seedMatch(t, withCategory(matchdomain.CategoryTeamClassic), withChannel("channel-3"), withStart(testNow))
	h.join(t, m.ID, 3)

	require.NoError(t, h.svc.OnStart(context.Background(), m.ID))

	got := h.match(t, m.ID)
	assert.Equal(t, matchdomain.StatusCancelled, got.Status)
	assert.Equal(t, matchdomain.CancelReasonInvalidPlayerCount, got.CancelReason)
	assert.Contains(t, h.sink.Methods(), "PostCancellation")
	_, ok := h.queue.Pending[matchdomain.JobKey(matchdomain.JobDeleteChannel, m.ID)]
	assert.True(t, ok, "channel cleanup is scheduled")
}

func TestSubmitScore_KeepsConcurrentVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, g := h.startedGame(t, 4)
	h.setScore(g.ID, "user-01", matchdomain.ScorePending, 25, race(1, 1, 15), race(2, 2, 10))

	repo := &hookedRepo{FakeRepository: h.repo}
	svc := h.orchestrator(repo)
	repo.beforeUpsertScore = func() {
		require.NoError(t, h.repo.VerifyGameParticipant(ctx, nil, g.ID, "user-01", "mod", h.now))
	}

	err := svc.SubmitScore(ctx, SubmitScoreInput{GameID: g.ID, UserID: "user-01", Races: []matchdomain.RaceResult{race(1, 4, 3)}})
	require.ErrorIs(t, err, ErrConflict)

	row := h.repo.GameRows[g.ID]["user-01"]
	assert.Equal(t, matchdomain.ScoreVerified, row.Status)
	assert.Equal(t, 25, row.TotalScore)
	assert.Equal(t, "mod", row.VerifiedBy)
}
