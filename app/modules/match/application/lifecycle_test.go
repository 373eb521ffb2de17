package matchservice

import (
	"context"
	"testing"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/notifications"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinAndLeaveMatch(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness, t *testing.T) uuid.UUID
		act     func(h *harness, matchID uuid.UUID) error
		wantErr error
		verify  func(t *testing.T, h *harness, matchID uuid.UUID)
	}{
		{
			name:  "join waiting match",
			setup: func(h *harness, t *testing.T) uuid.UUID { return h.seedMatch(t).ID },
			act:   func(h *harness, id uuid.UUID) error { return h.svc.JoinMatch(context.Background(), id, "alice") },
			verify: func(t *testing.T, h *harness, id uuid.UUID) {
				assert.Equal(t, 1, h.match(t, id).CurrentPlayers)
				assert.Equal(t, []liveupdates.Event{liveupdates.MatchUpdated}, h.bus.Names())
			},
		},
		{
			name: "duplicate join",
			setup: func(h *harness, t *testing.T) uuid.UUID {
				m := h.seedMatch(t)
				require.NoError(t, h.svc.JoinMatch(context.Background(), m.ID, "alice"))
				return m.ID
			},
			act:     func(h *harness, id uuid.UUID) error { return h.svc.JoinMatch(context.Background(), id, "alice") },
			wantErr: ErrConflict,
			verify: func(t *testing.T, h *harness, id uuid.UUID) {
				assert.Equal(t, 1, h.match(t, id).CurrentPlayers)
			},
		},
		{
			name: "full match",
			setup: func(h *harness, t *testing.T) uuid.UUID {
				m := h.seedMatch(t, withMaxPlayers(2))
				h.join(t, m.ID, 2)
				return m.ID
			},
			act:     func(h *harness, id uuid.UUID) error { return h.svc.JoinMatch(context.Background(), id, "late") },
			wantErr: ErrPrecondition,
		},
		{
			name:    "join running match",
			setup:   func(h *harness, t *testing.T) uuid.UUID { return h.seedMatch(t, withStatus(matchdomain.StatusInProgress)).ID },
			act:     func(h *harness, id uuid.UUID) error { return h.svc.JoinMatch(context.Background(), id, "alice") },
			wantErr: ErrPrecondition,
		},
		{
			name:    "join unknown match",
			setup:   func(h *harness, t *testing.T) uuid.UUID { return uuid.New() },
			act:     func(h *harness, id uuid.UUID) error { return h.svc.JoinMatch(context.Background(), id, "alice") },
			wantErr: ErrNotFound,
		},
		{
			name:    "join without user",
			setup:   func(h *harness, t *testing.T) uuid.UUID { return h.seedMatch(t).ID },
			act:     func(h *harness, id uuid.UUID) error { return h.svc.JoinMatch(context.Background(), id, "") },
			wantErr: ErrValidation,
		},
		{
			name: "leave waiting match",
			setup: func(h *harness, t *testing.T) uuid.UUID {
				m := h.seedMatch(t)
				h.join(t, m.ID, 2)
				return m.ID
			},
			act: func(h *harness, id uuid.UUID) error { return h.svc.LeaveMatch(context.Background(), id, "user-01") },
			verify: func(t *testing.T, h *harness, id uuid.UUID) {
				assert.Equal(t, 1, h.match(t, id).CurrentPlayers)
			},
		},
		{
			name:    "leave when not signed up",
			setup:   func(h *harness, t *testing.T) uuid.UUID { return h.seedMatch(t).ID },
			act:     func(h *harness, id uuid.UUID) error { return h.svc.LeaveMatch(context.Background(), id, "ghost") },
			wantErr: ErrNotFound,
		},
		{
			name: "leave running match",
			setup: func(h *harness, t *testing.T) uuid.UUID {
				m := h.seedMatch(t, withStatus(matchdomain.StatusInProgress))
				h.join(t, m.ID, 2)
				return m.ID
			},
			act:     func(h *harness, id uuid.UUID) error { return h.svc.LeaveMatch(context.Background(), id, "user-01") },
			wantErr: ErrPrecondition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := tt.setup(h, t)

			err := tt.act(h, id)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.verify != nil {
				tt.verify(t, h, id)
			}
		})
	}
}

func TestOnStart_ClassicPublishesPasscode(t *testing.T) {
	h := newHarness(t)
	m := h.seedMatch(t, withNumber(1), withChannel("channel-9"), withStart(testNow))
	h.join(t, m.ID, 4)

	require.NoError(t, h.svc.OnStart(context.Background(), m.ID))

	got := h.match(t, m.ID)
	assert.Equal(t, matchdomain.StatusInProgress, got.Status)
	require.NotNil(t, got.ActualStart)
	assert.Equal(t, testNow, *got.ActualStart)
	require.NotNil(t, got.MatchNumber, "a started match keeps its number")

	game, err := h.repo.GetCurrentGame(context.Background(), nil, m.ID)
	require.NoError(t, err)
	assert.Len(t, game.Passcode, 4)
	assert.Equal(t, 1, game.PasscodeVersion)
	assert.NotNil(t, game.PasscodePublishedAt)
	assert.False(t, game.IsTeamGame())
	assert.Len(t, h.repo.GameRows[game.ID], 4)

	post, ok := h.sink.Last("PostPasscode")
	require.True(t, ok)
	assert.Equal(t, "channel-9", post.ChannelRef)
	assert.Equal(t, game.Passcode, post.Payload.(notifications.PasscodePost).Passcode)
	assert.Equal(t, []liveupdates.Event{liveupdates.PasscodeRevealed, liveupdates.MatchStarted}, h.bus.Names())
	assert.Empty(t, h.queue.Pending)
}

func TestOnStart_TwelvePlayerTeamClassic(t *testing.T) {
	h := newHarness(t)
	m := h.seedMatch(t, withCategory(matchdomain.CategoryTeamClassic), withMinPlayers(4), withStart(testNow))
	users := h.join(t, m.ID, 12)

	require.NoError(t, h.svc.OnStart(context.Background(), m.ID))

	game, err := h.repo.GetCurrentGame(context.Background(), nil, m.ID)
	require.NoError(t, err)
	require.True(t, game.IsTeamGame())
	shape, err := matchdomain.ParseTeamShape(*game.TeamConfig)
	require.NoError(t, err)
	assert.Contains(t, []matchdomain.TeamShape{{Size: 6, Count: 2}, {Size: 4, Count: 3}, {Size: 3, Count: 4}, {Size: 2, Count: 6}}, shape)
	assert.Len(t, game.TeamColors, shape.Count)
	assert.Nil(t, game.PasscodePublishedAt, "team passcodes are held back")

	perTeam := map[int]int{}
	for _, u := range users {
		row := h.repo.GameRows[game.ID][u]
		require.NotNil(t, row, u)
		assert.False(t, row.IsExcluded)
		require.NotNil(t, row.TeamIndex)
		perTeam[*row.TeamIndex]++
	}
	assert.Len(t, perTeam, shape.Count)
	for team, n := range perTeam {
		assert.Equal(t, shape.Size, n, "team %d", team)
	}

	reveal, ok := h.queue.Pending[matchdomain.JobKey(matchdomain.JobRevealPasscode, game.ID)]
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, reveal.Delay)
	assert.Equal(t, []liveupdates.Event{liveupdates.TeamAssigned, liveupdates.MatchStarted}, h.bus.Names())

	require.NoError(t, h.svc.OnRevealPasscode(context.Background(), m.ID, game.ID))
	game, err = h.repo.GetGame(context.Background(), nil, game.ID)
	require.NoError(t, err)
	assert.NotNil(t, game.PasscodePublishedAt)
	assert.Equal(t, liveupdates.PasscodeRevealed, h.bus.Names()[len(h.bus.Names())-1])

	// a second reveal is a no-op
	events := len(h.bus.Events)
	require.NoError(t, h.svc.OnRevealPasscode(context.Background(), m.ID, game.ID))
	assert.Len(t, h.bus.Events, events)
}

func TestOnStart_TeamRosterExcludesLatestJoiner(t *testing.T) {
	h := newHarness(t)
	m := h.seedMatch(t, withCategory(matchdomain.CategoryTeamGP), withMinPlayers(4), withStart(testNow))
	h.join(t, m.ID, 5)

	require.NoError(t, h.svc.OnStart(context.Background(), m.ID))

	game, err := h.repo.GetCurrentGame(context.Background(), nil, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "2x2", *game.TeamConfig)
	assert.True(t, h.repo.GameRows[game.ID]["user-05"].IsExcluded)
	assert.Nil(t, h.repo.GameRows[game.ID]["user-05"].TeamIndex)
}

func TestOnStart_Guards(t *testing.T) {
	tests := []struct {
		name       string
		opts       []matchOpt
		players    int
		wantStatus matchdomain.Status
		wantReason string
	}{
		{
			name:       "not enough players cancels",
			opts:       []matchOpt{withMinPlayers(4)},
			players:    3,
			wantStatus: matchdomain.StatusCancelled,
			wantReason: matchdomain.CancelReasonNotEnoughPlayers,
		},
		{
			name:       "team roster too small cancels",
			opts:       []matchOpt{withCategory(matchdomain.CategoryTeamClassic)},
			players:    3,
			wantStatus: matchdomain.StatusCancelled,
			wantReason: matchdomain.CancelReasonInvalidPlayerCount,
		},
		{
			name:       "redelivered start is a no-op",
			opts:       []matchOpt{withStatus(matchdomain.StatusInProgress)},
			players:    4,
			wantStatus: matchdomain.StatusInProgress,
		},
		{
			name:       "cancelled match is left alone",
			opts:       []matchOpt{withStatus(matchdomain.StatusCancelled)},
			players:    4,
			wantStatus: matchdomain.StatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			m := h.seedMatch(t, tt.opts...)
			h.join(t, m.ID, tt.players)

			require.NoError(t, h.svc.OnStart(context.Background(), m.ID))

			got := h.match(t, m.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, got.CancelReason)
				assert.Nil(t, got.MatchNumber)
				assert.Contains(t, h.sink.Methods(), "AnnounceCancelled")
			}
			_, err := h.repo.GetCurrentGame(context.Background(), nil, m.ID)
			assert.Error(t, err, "no game is created")
		})
	}
}

func TestOnStart_DeletedMatch(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.svc.OnStart(context.Background(), uuid.New()))
}

func TestCancelMatch_RenumbersRemainingWaitingMatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := range 3 {
		in := validInput()
		in.ScheduledStart = testNow.Add(time.Duration(i+2) * time.Hour).Format(time.RFC3339)
		m, err := h.svc.CreateMatch(ctx, in)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	require.NoError(t, h.svc.CancelMatch(ctx, ids[0], ""))

	cancelled := h.match(t, ids[0])
	assert.Equal(t, matchdomain.StatusCancelled, cancelled.Status)
	assert.Equal(t, matchdomain.CancelReasonModerator, cancelled.CancelReason)
	assert.Nil(t, cancelled.MatchNumber)
	assert.Equal(t, 1, *h.match(t, ids[1]).MatchNumber)
	assert.Equal(t, 2, *h.match(t, ids[2]).MatchNumber)

	assert.NotContains(t, h.queue.Keys(), matchdomain.JobKey(matchdomain.JobStartMatch, ids[0]))
	assert.NotContains(t, h.queue.Keys(), matchdomain.JobKey(matchdomain.JobReminderMatch, ids[0]))
	cleanup, ok := h.queue.Pending[matchdomain.JobKey(matchdomain.JobDeleteChannel, ids[0])]
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, cleanup.Delay)
	assert.Contains(t, h.sink.Methods(), "PostCancellation")

	err := h.svc.CancelMatch(ctx, ids[0], "")
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestCancelMatch_KeepsStartedNumbers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	started := h.seedMatch(t, withStatus(matchdomain.StatusInProgress), withNumber(1), withStart(testNow.Add(-time.Hour)))
	a := h.seedMatch(t, withNumber(2), withStart(testNow.Add(time.Hour)))
	b := h.seedMatch(t, withNumber(3), withStart(testNow.Add(2*time.Hour)))

	require.NoError(t, h.svc.CancelMatch(ctx, a.ID, "weather"))

	assert.Equal(t, 1, *h.match(t, started.ID).MatchNumber)
	assert.Equal(t, 2, *h.match(t, b.ID).MatchNumber)
	assert.Equal(t, "weather", h.match(t, a.ID).CancelReason)
}

func TestDeleteMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.seedMatch(t, withNumber(1), withChannel("channel-a"), withStart(testNow.Add(time.Hour)))
	b := h.seedMatch(t, withNumber(2), withStart(testNow.Add(2*time.Hour)))
	running := h.seedMatch(t, withStatus(matchdomain.StatusInProgress))

	require.NoError(t, h.svc.DeleteMatch(ctx, a.ID))
	_, err := h.repo.GetMatch(ctx, nil, a.ID)
	assert.Error(t, err)
	assert.Equal(t, 1, *h.match(t, b.ID).MatchNumber)

	call, ok := h.sink.Last("DeleteChannel")
	require.True(t, ok)
	assert.Equal(t, "channel-a", call.ChannelRef)

	assert.ErrorIs(t, h.svc.DeleteMatch(ctx, running.ID), ErrPrecondition)
	assert.ErrorIs(t, h.svc.DeleteMatch(ctx, uuid.New()), ErrNotFound)
}

func TestOnReminder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	waiting := h.seedMatch(t)
	h.join(t, waiting.ID, 2)
	started := h.seedMatch(t, withStatus(matchdomain.StatusInProgress))

	require.NoError(t, h.svc.OnReminder(ctx, waiting.ID))
	require.NoError(t, h.svc.OnReminder(ctx, started.ID))

	assert.Equal(t, []string{"AnnounceReminder"}, h.sink.Methods())
	call, _ := h.sink.Last("AnnounceReminder")
	assert.Equal(t, []string{"user-01", "user-02"}, call.Payload.(notifications.MatchSummary).Players)
}

func TestOnDeleteChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	done := h.seedMatch(t, withStatus(matchdomain.StatusFinalized), withChannel("channel-9"))
	waiting := h.seedMatch(t, withChannel("channel-w"))

	require.NoError(t, h.svc.OnDeleteChannel(ctx, waiting.ID, "channel-w"))
	assert.Empty(t, h.sink.Methods(), "live matches keep their channel")

	require.NoError(t, h.svc.OnDeleteChannel(ctx, done.ID, "channel-9"))
	assert.Equal(t, []string{"DeleteChannel"}, h.sink.Methods())
	assert.Empty(t, h.match(t, done.ID).ChannelRef)

	require.NoError(t, h.svc.OnDeleteChannel(ctx, uuid.New(), "channel-gone"))
	assert.Len(t, h.sink.Methods(), 2)
}
