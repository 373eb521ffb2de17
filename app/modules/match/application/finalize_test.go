package matchservice

import (
	"context"
	"math"
	"testing"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	ratingdomain "github.com/Black-And-White-Club/race-league/app/modules/rating/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completedGame seeds a COMPLETED match whose players are all VERIFIED with
// the given totals, user-01 first.
func (h *harness) completedGame(t *testing.T, totals []int, opts ...matchOpt) (*matchdb.Match, *matchdb.Game) {
	t.Helper()
	opts = append([]matchOpt{withStatus(matchdomain.StatusCompleted)}, opts...)
	m, g := h.startedGame(t, len(totals), opts...)
	for i, total := range totals {
		h.setScore(g.ID, userName(i), matchdomain.ScoreVerified, total, race(1, i+1, total))
	}
	return m, g
}

func userName(i int) string {
	return []string{"user-01", "user-02", "user-03", "user-04", "user-05", "user-06", "user-07", "user-08"}[i]
}

func TestFinalizeMatch_ProvisionalFieldOfFive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, g := h.completedGame(t, []int{50, 40, 30, 20, 10})

	res, err := h.svc.FinalizeMatch(ctx, m.ID, "mod")
	require.NoError(t, err)

	assert.Equal(t, ratingdomain.ModeIndividual, res.Mode)
	require.Len(t, res.Results, 5)
	sum := 0.0
	for _, r := range res.Results {
		assert.Equal(t, ratingdomain.ComparisonAll, r.ComparisonMode, r.UserID)
		assert.LessOrEqual(t, math.Abs(r.Delta), ratingdomain.MaxDelta)
		sum += r.Delta
	}
	assert.InDelta(t, 0, sum, 0.01)

	assert.Equal(t, matchdomain.StatusFinalized, h.match(t, m.ID).Status)

	winner := h.repo.Stats[testSeason+"/user-01"]
	require.NotNil(t, winner)
	assert.Equal(t, 1, winner.TotalMatches)
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, 1, winner.Podiums)
	assert.Equal(t, 50, winner.TotalScore)
	assert.Greater(t, winner.InternalRating, ratingdomain.InitialRating)
	last := h.repo.Stats[testSeason+"/user-05"]
	assert.Less(t, last.InternalRating, ratingdomain.InitialRating)
	assert.Zero(t, last.Podiums)

	require.Len(t, h.repo.History, 5)
	for _, row := range h.repo.History {
		assert.True(t, row.FirstGame)
		assert.Equal(t, ratingdomain.InitialRating, row.InternalBefore)
		assert.Equal(t, g.ID, row.GameID)
	}
	assert.NotNil(t, h.repo.GameRows[g.ID]["user-01"].RatingChange)

	assert.Contains(t, h.sink.Methods(), "AnnounceResults")
	cleanup, ok := h.queue.Pending[matchdomain.JobKey(matchdomain.JobDeleteChannel, m.ID)]
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, cleanup.Delay)

	_, err = h.svc.FinalizeMatch(ctx, m.ID, "mod")
	assert.ErrorIs(t, err, ErrPrecondition, "finalizing twice is rejected")
}

func TestFinalizeMatch_Integrity(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness, g uuid.UUID)
	}{
		{
			name:  "pending score",
			setup: func(h *harness, g uuid.UUID) { h.repo.GameRows[g]["user-02"].Status = matchdomain.ScorePending },
		},
		{
			name: "one verified score",
			setup: func(h *harness, g uuid.UUID) {
				h.repo.GameRows[g]["user-02"].Status = matchdomain.ScoreRejected
				h.repo.GameRows[g]["user-03"].Status = matchdomain.ScoreUnsubmitted
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			m, g := h.completedGame(t, []int{30, 20, 10})
			tt.setup(h, g.ID)

			_, err := h.svc.FinalizeMatch(context.Background(), m.ID, "mod")
			require.ErrorIs(t, err, ErrIntegrity)
			assert.Equal(t, matchdomain.StatusCompleted, h.match(t, m.ID).Status)
			assert.Empty(t, h.repo.Stats)
			assert.Empty(t, h.repo.History)
		})
	}
}

func TestFinalizeMatch_RequiresCompleted(t *testing.T) {
	h := newHarness(t)
	m, _ := h.completedGame(t, []int{30, 20}, withStatus(matchdomain.StatusInProgress))

	_, err := h.svc.FinalizeMatch(context.Background(), m.ID, "mod")
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestFinalizeMatch_TeamGame(t *testing.T) {
	h := newHarness(t)
	m, g := h.completedGame(t, []int{40, 10, 30, 35}, withCategory(matchdomain.CategoryTeamGP))
	shape := "2x2"
	h.repo.Games[g.ID].TeamConfig = &shape
	for user, team := range map[string]int{"user-01": 0, "user-02": 0, "user-03": 1, "user-04": 1} {
		h.repo.GameRows[g.ID][user].TeamIndex = intPtr(team)
	}

	res, err := h.svc.FinalizeMatch(context.Background(), m.ID, "mod")
	require.NoError(t, err)

	assert.Equal(t, ratingdomain.ModeTeam, res.Mode)
	assert.Equal(t, []matchdomain.TeamScore{{Team: 1, Score: 65, Rank: 1}, {Team: 0, Score: 50, Rank: 2}}, res.TeamScores)
	positions := map[string]int{}
	for _, r := range res.Results {
		positions[r.UserID] = r.Position
	}
	assert.Equal(t, map[string]int{"user-01": 2, "user-02": 2, "user-03": 1, "user-04": 1}, positions)
	assert.Equal(t, res.TeamScores, h.repo.Games[g.ID].TeamScores)
}

func TestRecalculateMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, g := h.completedGame(t, []int{50, 40, 30})
	_, err := h.svc.FinalizeMatch(ctx, m.ID, "mod")
	require.NoError(t, err)
	firstWinner := h.repo.Stats[testSeason+"/user-01"].InternalRating

	// moderator corrects the scores so user-03 actually won
	h.repo.GameRows[g.ID]["user-01"].TotalScore = 30
	h.repo.GameRows[g.ID]["user-03"].TotalScore = 50

	res, err := h.svc.RecalculateMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	assert.Len(t, h.repo.History, 3, "old snapshots are replaced")
	assert.Equal(t, 1, h.repo.Stats[testSeason+"/user-03"].TotalMatches)
	assert.Equal(t, 1, h.repo.Stats[testSeason+"/user-03"].Wins)
	assert.Zero(t, h.repo.Stats[testSeason+"/user-01"].Wins)
	assert.Less(t, h.repo.Stats[testSeason+"/user-01"].InternalRating, firstWinner)
	for _, row := range h.repo.History {
		assert.True(t, row.FirstGame, "rows recreated after a first game keep the flag")
	}
}

func TestRecalculateMatch_Guards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _ := h.completedGame(t, []int{50, 40})

	_, err := h.svc.RecalculateMatch(ctx, m.ID)
	assert.ErrorIs(t, err, ErrPrecondition, "only finalized matches")

	_, err = h.svc.FinalizeMatch(ctx, m.ID, "mod")
	require.NoError(t, err)

	later := []matchdb.RatingHistory{{UserID: "user-02", SeasonID: testSeason, MatchID: uuid.New(), GameID: uuid.New(), Position: 1}}
	require.NoError(t, h.repo.InsertRatingHistory(ctx, nil, later))

	_, err = h.svc.RecalculateMatch(ctx, m.ID)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Len(t, h.repo.History, 3, "nothing was rolled back")
}

func TestOnDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ready, readyGame := h.startedGame(t, 2, withStart(testNow.Add(-2*time.Hour)))
	h.setScore(readyGame.ID, "user-01", matchdomain.ScoreVerified, 30, race(1, 1, 30))
	h.setScore(readyGame.ID, "user-02", matchdomain.ScoreVerified, 20, race(1, 2, 20))

	pending, pendingGame := h.startedGame(t, 2, withStart(testNow.Add(-2*time.Hour)))
	h.setScore(pendingGame.ID, "user-01", matchdomain.ScorePending, 30, race(1, 1, 30))

	running, _ := h.startedGame(t, 2, withStart(testNow))

	n, err := h.svc.OnDeadline(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, matchdomain.StatusCompleted, h.match(t, ready.ID).Status)
	assert.Equal(t, matchdomain.StatusCompleted, h.match(t, pending.ID).Status)
	assert.Equal(t, matchdomain.StatusInProgress, h.match(t, running.ID).Status)

	assert.NotNil(t, h.repo.GameRows[readyGame.ID]["user-01"].RatingChange, "finalizable games get a preview")
	assert.Nil(t, h.repo.GameRows[pendingGame.ID]["user-01"].RatingChange)
	assert.Empty(t, h.repo.Stats, "previews never touch season stats")
	assert.Equal(t, []liveupdates.Event{liveupdates.MatchCompleted, liveupdates.MatchCompleted}, h.bus.Names())

	n, err = h.svc.OnDeadline(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, n)
}
