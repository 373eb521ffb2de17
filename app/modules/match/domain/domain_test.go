package matchdomain

import (
	"math/rand/v2"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusWaiting, StatusInProgress, true},
		{StatusWaiting, StatusCancelled, true},
		{StatusWaiting, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusWaiting, false},
		{StatusCompleted, StatusFinalized, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusFinalized, StatusCompleted, false},
		{StatusCancelled, StatusWaiting, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StatusFinalized.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusCompleted.IsTerminal())
}

func TestCategory(t *testing.T) {
	assert.True(t, CategoryTeamClassic.RequiresTeams())
	assert.True(t, CategoryTeamClassic.IsClassicFamily())
	assert.False(t, CategoryGP.IsClassicFamily())
	assert.False(t, CategoryClassic.RequiresTeams())
	assert.False(t, Category("RELAY").IsValid())
}

func TestGeneratePasscode(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	format := regexp.MustCompile(`^\d{4}$`)
	for i := 0; i < 500; i++ {
		assert.Regexp(t, format, GeneratePasscode(rng))
	}
}

func TestRequiredVotes(t *testing.T) {
	tests := map[int]int{1: 1, 2: 1, 3: 1, 4: 2, 9: 3, 10: 4, 24: 8}
	for n, want := range tests {
		assert.Equal(t, want, RequiredVotes(n), "participants=%d", n)
	}
}

func TestCheckPositionConflicts(t *testing.T) {
	tests := []struct {
		name     string
		claims   []PositionClaim
		wantRace int
	}{
		{
			name: "distinct positions",
			claims: []PositionClaim{
				{UserID: "a", Race: 1, Position: 1},
				{UserID: "b", Race: 1, Position: 2},
				{UserID: "c", Race: 1, Position: 3},
			},
		},
		{
			name: "tie followed by the next free position",
			claims: []PositionClaim{
				{UserID: "a", Race: 1, Position: 2},
				{UserID: "b", Race: 1, Position: 2},
				{UserID: "c", Race: 1, Position: 4},
			},
		},
		{
			name: "tie blocks the following position",
			claims: []PositionClaim{
				{UserID: "a", Race: 1, Position: 1},
				{UserID: "b", Race: 2, Position: 2},
				{UserID: "c", Race: 2, Position: 2},
				{UserID: "d", Race: 2, Position: 3},
			},
			wantRace: 2,
		},
		{
			name: "lowest conflicting race is named",
			claims: []PositionClaim{
				{UserID: "a", Race: 5, Position: 1},
				{UserID: "b", Race: 5, Position: 1},
				{UserID: "c", Race: 5, Position: 2},
				{UserID: "a", Race: 3, Position: 7},
				{UserID: "b", Race: 3, Position: 7},
				{UserID: "c", Race: 3, Position: 7},
				{UserID: "d", Race: 3, Position: 9},
			},
			wantRace: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPositionConflicts(tt.claims)
			if tt.wantRace == 0 {
				assert.NoError(t, err)
				return
			}
			var conflict *PositionConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tt.wantRace, conflict.Race)
			assert.Contains(t, err.Error(), "race")
		})
	}
}

func TestPlanRenumbering(t *testing.T) {
	num := func(n int) *int { return &n }
	start := time.Date(2026, 4, 1, 19, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		uuid.MustParse("00000000-0000-0000-0000-000000000004"),
		uuid.MustParse("00000000-0000-0000-0000-000000000005"),
		uuid.MustParse("00000000-0000-0000-0000-000000000006"),
	}

	plan := PlanRenumbering([]NumberingCandidate{
		{ID: ids[0], Status: StatusFinalized, Number: num(1), ScheduledStart: start.Add(-48 * time.Hour)},
		{ID: ids[1], Status: StatusInProgress, Number: num(2), ScheduledStart: start.Add(-time.Hour)},
		{ID: ids[2], Status: StatusWaiting, Number: num(5), ScheduledStart: start.Add(2 * time.Hour)},
		{ID: ids[3], Status: StatusWaiting, Number: num(3), ScheduledStart: start},
		{ID: ids[4], Status: StatusWaiting, Number: nil, ScheduledStart: start},
		{ID: ids[5], Status: StatusCancelled, Number: nil, ScheduledStart: start},
	})

	assert.Equal(t, 2, plan.MaxLocked)
	want := []NumberAssignment{
		{MatchID: ids[3], Number: 3},
		{MatchID: ids[4], Number: 4},
		{MatchID: ids[2], Number: 5},
	}
	if diff := cmp.Diff(want, plan.Assignments); diff != "" {
		t.Errorf("assignments mismatch (-want +got):\n%s", diff)
	}
	assert.ElementsMatch(t, []uuid.UUID{ids[2], ids[3], ids[4]}, plan.Flexible)
}

func TestPlanRenumbering_NoLockedStartsAtOne(t *testing.T) {
	id := uuid.New()
	plan := PlanRenumbering([]NumberingCandidate{{ID: id, Status: StatusWaiting}})
	assert.Equal(t, []NumberAssignment{{MatchID: id, Number: 1}}, plan.Assignments)
}

func TestJobKeys(t *testing.T) {
	matchID := uuid.MustParse("6f1c1a9e-3c1b-4d4e-9a7f-1f2e3d4c5b6a")
	gameID := uuid.MustParse("0a0b0c0d-0000-4000-8000-000000000001")

	assert.Equal(t, "start-match-6f1c1a9e-3c1b-4d4e-9a7f-1f2e3d4c5b6a", NewStartMatchJob(matchID).Key())
	assert.Equal(t, "reminder-match-6f1c1a9e-3c1b-4d4e-9a7f-1f2e3d4c5b6a", NewReminderMatchJob(matchID).Key())
	assert.Equal(t, "reveal-passcode-0a0b0c0d-0000-4000-8000-000000000001", NewRevealPasscodeJob(matchID, gameID).Key())
	assert.Equal(t, matchID, NewRevealPasscodeJob(matchID, gameID).Match())
	assert.Equal(t, "delete-discord-channel", NewDeleteChannelJob(matchID, "chan").Kind())

	assert.True(t, JobStartMatch.PrunableWhenNotWaiting())
	assert.False(t, JobDeleteChannel.PrunableWhenNotWaiting())
}

func TestParseScheduledStart(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := ParseScheduledStart("2026-03-12T19:30:45Z", time.UTC, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 12, 19, 30, 0, 0, time.UTC), got)

	got, err = ParseScheduledStart("tomorrow at 8pm", time.UTC, now)
	require.NoError(t, err)
	assert.True(t, got.After(now))
	assert.Equal(t, 20, got.Hour())

	_, err = ParseScheduledStart("   ", time.UTC, now)
	assert.ErrorIs(t, err, ErrUnparseableTime)

	_, err = ParseScheduledStart("xyzzy", time.UTC, now)
	assert.ErrorIs(t, err, ErrUnparseableTime)
}
