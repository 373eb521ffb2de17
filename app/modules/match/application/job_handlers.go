package matchservice

import (
	"context"
	"errors"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/notifications"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	ratingdomain "github.com/Black-And-White-Club/race-league/app/modules/rating/domain"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type startOutcome struct {
	match      *matchdb.Match
	cancelled  string
	game       *matchdb.Game
	assignment *matchdomain.TeamAssignment
}

type teamAssignedEvent struct {
	GameID   uuid.UUID      `json:"game_id"`
	Shape    string         `json:"shape"`
	Teams    map[string]int `json:"teams"`
	Excluded []string       `json:"excluded,omitempty"`
	Colors   []int          `json:"colors"`
}

// OnStart runs at the scheduled start.
//
// Precondition: the match is WAITING. Anything else means the job was
// redelivered or raced a cancel, and the call is a no-op. The match row stays
// locked from the status check to the game rows so the roster cannot change
// underneath the draft.
func (s *Orchestrator) OnStart(ctx context.Context, matchID uuid.UUID) error {
	_, err := withTelemetry(s, ctx, "OnStart", matchID, func(ctx context.Context) (none, error) {
		now := s.clock.Now()
		out, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (startOutcome, error) {
			m, err := s.repo.GetMatchForUpdate(ctx, db, matchID)
			if errors.Is(err, matchdb.ErrNotFound) {
				s.logger.InfoContext(ctx, "Start job for a deleted match", attr.MatchID(matchID))
				return startOutcome{}, errSkip
			}
			if err != nil {
				return startOutcome{}, err
			}
			if m.Status != matchdomain.StatusWaiting {
				s.logger.InfoContext(ctx, "Match already left WAITING, skipping start",
					attr.MatchID(matchID), attr.String("status", m.Status.String()))
				return startOutcome{}, errSkip
			}
			if m.CurrentPlayers < m.MinPlayers {
				reason := matchdomain.CancelReasonNotEnoughPlayers
				return startOutcome{match: m, cancelled: reason}, s.markCancelled(ctx, db, m, matchdomain.StatusWaiting, reason)
			}

			err = s.repo.UpdateMatchStatus(ctx, db, m.ID, matchdomain.StatusWaiting, matchdomain.StatusInProgress, matchdb.StatusChange{ActualStart: &now})
			if errors.Is(err, matchdb.ErrNoRowsAffected) {
				return startOutcome{}, errSkip
			}
			if err != nil {
				return startOutcome{}, err
			}

			participants, err := s.repo.ListParticipants(ctx, db, matchID)
			if err != nil {
				return startOutcome{}, err
			}

			var assignment *matchdomain.TeamAssignment
			if m.Category.RequiresTeams() {
				a, err := s.teamsFor(ctx, db, m, participants)
				if errors.Is(err, matchdomain.ErrInvalidPlayerCount) || errors.Is(err, matchdomain.ErrNoValidConfiguration) {
					s.logger.WarnContext(ctx, "No team configuration fits the roster",
						attr.MatchID(matchID), attr.Int("players", len(participants)), attr.Error(err))
					reason := matchdomain.CancelReasonInvalidPlayerCount
					return startOutcome{match: m, cancelled: reason}, s.markCancelled(ctx, db, m, matchdomain.StatusInProgress, reason)
				}
				if err != nil {
					return startOutcome{}, err
				}
				assignment = &a
			}

			game := &matchdb.Game{
				ID:              uuid.New(),
				MatchID:         m.ID,
				Passcode:        s.passcode(),
				PasscodeVersion: 1,
				Tracks:          m.Tracks,
			}
			if assignment == nil {
				game.PasscodePublishedAt = &now
			} else {
				shape := assignment.Shape.String()
				game.TeamConfig = &shape
				game.TeamColors = assignment.Colors
			}
			if err := s.repo.CreateGame(ctx, db, game); err != nil {
				return startOutcome{}, err
			}
			if err := s.repo.BulkCreateGameParticipants(ctx, db, gameRows(game.ID, participants, assignment)); err != nil {
				return startOutcome{}, err
			}
			if err := s.reassignMatchNumbers(ctx, db, m.SeasonID); err != nil {
				return startOutcome{}, err
			}
			return startOutcome{match: m, game: game, assignment: assignment}, nil
		})
		// a lost status race means someone else already moved the match on
		if errors.Is(err, errSkip) || errors.Is(err, ErrPrecondition) {
			return none{}, nil
		}
		if err != nil {
			return none{}, err
		}

		m := out.match
		if out.cancelled != "" {
			s.announceCancellation(ctx, m, out.cancelled)
			return none{}, nil
		}
		m.Status = matchdomain.StatusInProgress
		m.ActualStart = &now
		s.cancelJob(ctx, matchdomain.JobKey(matchdomain.JobReminderMatch, matchID))

		game := out.game
		if out.assignment != nil {
			s.enqueue(ctx, matchdomain.NewRevealPasscodeJob(m.ID, game.ID), s.cfg.PasscodeRevealDelay)
			s.bus.Emit(ctx, liveupdates.TeamAssigned, m.ID, teamAssignedEvent{
				GameID:   game.ID,
				Shape:    out.assignment.Shape.String(),
				Teams:    out.assignment.Teams,
				Excluded: out.assignment.Excluded,
				Colors:   out.assignment.Colors,
			})
		} else {
			s.publishPasscode(ctx, m, game, nil)
		}
		s.bus.Emit(ctx, liveupdates.MatchStarted, m.ID, summary(m, nil))
		return none{}, nil
	})
	return err
}

func (s *Orchestrator) teamsFor(ctx context.Context, db bun.IDB, m *matchdb.Match, participants []matchdb.MatchParticipant) (matchdomain.TeamAssignment, error) {
	userIDs := make([]string, len(participants))
	for i, p := range participants {
		userIDs[i] = p.UserID
	}
	stats, err := s.repo.GetSeasonStats(ctx, db, m.SeasonID, userIDs)
	if err != nil {
		return matchdomain.TeamAssignment{}, err
	}
	ratings := make(map[string]float64, len(stats))
	for _, st := range stats {
		ratings[st.UserID] = st.InternalRating
	}

	candidates := make([]matchdomain.TeamCandidate, len(participants))
	for i, p := range participants {
		rating, ok := ratings[p.UserID]
		if !ok {
			rating = ratingdomain.InitialRating
		}
		candidates[i] = matchdomain.TeamCandidate{UserID: p.UserID, Rating: rating, JoinedAt: p.JoinedAt}
	}
	return s.assignTeams(candidates)
}

func gameRows(gameID uuid.UUID, participants []matchdb.MatchParticipant, a *matchdomain.TeamAssignment) []matchdb.GameParticipant {
	rows := make([]matchdb.GameParticipant, 0, len(participants))
	for _, p := range participants {
		row := matchdb.GameParticipant{GameID: gameID, UserID: p.UserID, Status: matchdomain.ScoreUnsubmitted}
		if a != nil {
			if team, ok := a.Teams[p.UserID]; ok {
				t := team
				row.TeamIndex = &t
			} else {
				row.IsExcluded = true
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// publishPasscode posts the passcode to the match channel and broadcasts it.
func (s *Orchestrator) publishPasscode(ctx context.Context, m *matchdb.Match, game *matchdb.Game, teams map[string]int) {
	post := notifications.PasscodePost{
		MatchID:  m.ID,
		GameID:   game.ID,
		Passcode: game.Passcode,
		Version:  game.PasscodeVersion,
		Teams:    teams,
		Colors:   game.TeamColors,
	}
	if m.ChannelRef != "" {
		s.sink.PostPasscode(ctx, m.ChannelRef, post)
	}
	s.bus.Emit(ctx, liveupdates.PasscodeRevealed, m.ID, post)
}

// OnReminder announces an upcoming match.
//
// Precondition: the match is WAITING.
func (s *Orchestrator) OnReminder(ctx context.Context, matchID uuid.UUID) error {
	_, err := withTelemetry(s, ctx, "OnReminder", matchID, func(ctx context.Context) (none, error) {
		m, err := s.repo.GetMatch(ctx, nil, matchID)
		if errors.Is(err, matchdb.ErrNotFound) {
			return none{}, nil
		}
		if err != nil {
			return none{}, err
		}
		if m.Status != matchdomain.StatusWaiting {
			return none{}, nil
		}

		players, err := s.roster(ctx, nil, matchID)
		if err != nil {
			return none{}, err
		}
		s.sink.AnnounceReminder(ctx, summary(m, players))
		return none{}, nil
	})
	return err
}

// OnRevealPasscode publishes a team game's held passcode.
//
// Precondition: the match is IN_PROGRESS and the passcode is unpublished.
func (s *Orchestrator) OnRevealPasscode(ctx context.Context, matchID, gameID uuid.UUID) error {
	_, err := withTelemetry(s, ctx, "OnRevealPasscode", matchID, func(ctx context.Context) (none, error) {
		game, m, err := s.loadGame(ctx, nil, gameID)
		if errors.Is(err, ErrNotFound) {
			return none{}, nil
		}
		if err != nil {
			return none{}, err
		}
		if m.Status != matchdomain.StatusInProgress || game.PasscodePublishedAt != nil {
			return none{}, nil
		}

		now := s.clock.Now()
		err = s.repo.PublishPasscode(ctx, nil, gameID, now)
		if errors.Is(err, matchdb.ErrNoRowsAffected) {
			return none{}, nil
		}
		if err != nil {
			return none{}, err
		}
		game.PasscodePublishedAt = &now

		rows, err := s.repo.ListGameParticipants(ctx, nil, gameID)
		if err != nil {
			return none{}, err
		}
		teams := make(map[string]int, len(rows))
		for _, r := range rows {
			if r.TeamIndex != nil {
				teams[r.UserID] = *r.TeamIndex
			}
		}
		s.publishPasscode(ctx, m, game, teams)
		return none{}, nil
	})
	return err
}

// OnDeleteChannel removes a finished match's chat channel.
//
// Precondition: the match is gone, FINALIZED or CANCELLED.
func (s *Orchestrator) OnDeleteChannel(ctx context.Context, matchID uuid.UUID, channelRef string) error {
	_, err := withTelemetry(s, ctx, "OnDeleteChannel", matchID, func(ctx context.Context) (none, error) {
		m, err := s.repo.GetMatch(ctx, nil, matchID)
		switch {
		case errors.Is(err, matchdb.ErrNotFound):
		case err != nil:
			return none{}, err
		case !m.Status.IsTerminal():
			return none{}, nil
		}

		if channelRef == "" {
			return none{}, nil
		}
		if !s.sink.DeleteChannel(ctx, channelRef) {
			return none{}, nil
		}
		if m != nil && m.ChannelRef == channelRef {
			if err := s.repo.SetChannelRef(ctx, nil, matchID, ""); err != nil {
				return none{}, err
			}
		}
		return none{}, nil
	})
	return err
}
