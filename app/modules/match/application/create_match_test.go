package matchservice

import (
	"context"
	"errors"
	"testing"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() CreateMatchInput {
	return CreateMatchInput{
		SeasonID:       testSeason,
		Title:          "Friday Cup",
		Category:       matchdomain.CategoryClassic,
		ScheduledStart: testNow.Add(2 * time.Hour).Format(time.RFC3339),
		Duration:       time.Hour,
		MinPlayers:     2,
		MaxPlayers:     12,
		Tracks:         []string{"t1", "t2"},
		CreatedBy:      "mod",
	}
}

func TestCreateMatch_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(in *CreateMatchInput)
		wantCode string
	}{
		{name: "missing season", mutate: func(in *CreateMatchInput) { in.SeasonID = " " }, wantCode: "season_required"},
		{name: "missing title", mutate: func(in *CreateMatchInput) { in.Title = "" }, wantCode: "title_required"},
		{name: "unknown category", mutate: func(in *CreateMatchInput) { in.Category = "SPRINT" }, wantCode: "invalid_category"},
		{name: "min players below two", mutate: func(in *CreateMatchInput) { in.MinPlayers = 1 }, wantCode: "invalid_min_players"},
		{name: "max below min", mutate: func(in *CreateMatchInput) { in.MaxPlayers = 1 }, wantCode: "invalid_max_players"},
		{name: "max above ceiling", mutate: func(in *CreateMatchInput) { in.MaxPlayers = 100 }, wantCode: "invalid_max_players"},
		{
			name: "team match needs two full teams",
			mutate: func(in *CreateMatchInput) {
				in.Category = matchdomain.CategoryTeamGP
				in.MinPlayers = 3
			},
			wantCode: "invalid_min_players",
		},
		{name: "unknown timezone", mutate: func(in *CreateMatchInput) { in.Timezone = "Mars/Olympus" }, wantCode: "invalid_timezone"},
		{name: "unreadable start", mutate: func(in *CreateMatchInput) { in.ScheduledStart = "xyzzy" }, wantCode: "invalid_start"},
		{
			name:     "start in the past",
			mutate:   func(in *CreateMatchInput) { in.ScheduledStart = testNow.Add(-time.Minute).Format(time.RFC3339) },
			wantCode: "start_in_past",
		},
		{name: "deadline not after start", mutate: func(in *CreateMatchInput) { in.Duration = 0 }, wantCode: "invalid_deadline"},
		{name: "empty track", mutate: func(in *CreateMatchInput) { in.Tracks = []string{"t1", ""} }, wantCode: "invalid_track"},
		{name: "duplicate track", mutate: func(in *CreateMatchInput) { in.Tracks = []string{"t1", "t1"} }, wantCode: "duplicate_track"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			in := validInput()
			tt.mutate(&in)

			_, err := h.svc.CreateMatch(context.Background(), in)
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.wantCode, ve.Code)
			assert.Empty(t, h.repo.Matches, "nothing is written on validation failure")
			assert.Empty(t, h.queue.Enqueued)
		})
	}
}

func TestCreateMatch_SchedulesStartAndReminder(t *testing.T) {
	h := newHarness(t)

	m, err := h.svc.CreateMatch(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, matchdomain.StatusWaiting, m.Status)
	require.NotNil(t, m.MatchNumber)
	assert.Equal(t, 1, *m.MatchNumber)
	assert.Equal(t, "channel-1", m.ChannelRef)
	assert.Equal(t, "channel-1", h.match(t, m.ID).ChannelRef)

	start := h.queue.Pending[matchdomain.JobKey(matchdomain.JobStartMatch, m.ID)]
	assert.Equal(t, 2*time.Hour, start.Delay)
	reminder := h.queue.Pending[matchdomain.JobKey(matchdomain.JobReminderMatch, m.ID)]
	assert.Equal(t, 2*time.Hour-5*time.Minute, reminder.Delay)

	assert.Equal(t, []string{"CreateChannel", "AnnounceCreated"}, h.sink.Methods())
	assert.Equal(t, []liveupdates.Event{liveupdates.MatchUpdated}, h.bus.Names())
}

func TestCreateMatch_ShortLeadSkipsReminder(t *testing.T) {
	h := newHarness(t)
	in := validInput()
	in.ScheduledStart = testNow.Add(30 * time.Minute).Format(time.RFC3339)

	m, err := h.svc.CreateMatch(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []string{matchdomain.JobKey(matchdomain.JobStartMatch, m.ID)}, h.queue.Keys())
}

func TestCreateMatch_ChannelFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.sink.Fail["CreateChannel"] = true

	m, err := h.svc.CreateMatch(context.Background(), validInput())
	require.NoError(t, err)
	assert.Empty(t, m.ChannelRef)
	assert.Contains(t, h.sink.Methods(), "AnnounceCreated")
}

func TestCreateMatch_NumbersFollowScheduledStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	late := validInput()
	late.ScheduledStart = testNow.Add(5 * time.Hour).Format(time.RFC3339)
	lateMatch, err := h.svc.CreateMatch(ctx, late)
	require.NoError(t, err)

	early, err := h.svc.CreateMatch(ctx, validInput())
	require.NoError(t, err)

	assert.Equal(t, 1, *h.match(t, early.ID).MatchNumber)
	assert.Equal(t, 2, *h.match(t, lateMatch.ID).MatchNumber)
}
