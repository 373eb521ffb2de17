package matchservice

import (
	"context"
	"errors"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type rosterUpdate struct {
	MatchID        uuid.UUID `json:"match_id"`
	UserID         string    `json:"user_id"`
	Joined         bool      `json:"joined"`
	CurrentPlayers int       `json:"current_players"`
}

// JoinMatch signs a player up for a waiting match.
func (s *Orchestrator) JoinMatch(ctx context.Context, matchID uuid.UUID, userID string) error {
	_, err := withTelemetry(s, ctx, "JoinMatch", matchID, func(ctx context.Context) (none, error) {
		if userID == "" {
			return none{}, validationf("user_required", "user id is required")
		}

		players, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (int, error) {
			m, err := s.lockMatch(ctx, db, matchID)
			if err != nil {
				return 0, err
			}
			if m.Status != matchdomain.StatusWaiting {
				return 0, preconditionf("not_waiting", "match is %s", m.Status)
			}

			err = s.repo.AddParticipant(ctx, db, matchID, userID, s.clock.Now())
			switch {
			case errors.Is(err, matchdb.ErrDuplicate):
				return 0, conflictf("already_joined", "%s already joined", userID)
			case errors.Is(err, matchdb.ErrNotWaiting):
				return 0, preconditionf("not_waiting", "match started before %s joined", userID)
			case errors.Is(err, matchdb.ErrMatchFull):
				return 0, preconditionf("match_full", "match is full (%d players)", m.MaxPlayers)
			case err != nil:
				return 0, err
			}
			return m.CurrentPlayers + 1, nil
		})
		if err != nil {
			return none{}, err
		}

		s.bus.Emit(ctx, liveupdates.MatchUpdated, matchID, rosterUpdate{MatchID: matchID, UserID: userID, Joined: true, CurrentPlayers: players})
		return none{}, nil
	})
	return err
}

// LeaveMatch removes a player from a waiting match.
func (s *Orchestrator) LeaveMatch(ctx context.Context, matchID uuid.UUID, userID string) error {
	_, err := withTelemetry(s, ctx, "LeaveMatch", matchID, func(ctx context.Context) (none, error) {
		players, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (int, error) {
			m, err := s.lockMatch(ctx, db, matchID)
			if err != nil {
				return 0, err
			}
			if m.Status != matchdomain.StatusWaiting {
				return 0, preconditionf("not_waiting", "cannot leave a match that is %s", m.Status)
			}

			err = s.repo.RemoveParticipant(ctx, db, matchID, userID)
			switch {
			case errors.Is(err, matchdb.ErrNotFound):
				return 0, &NotFoundError{Resource: "participant", ID: userID}
			case errors.Is(err, matchdb.ErrNotWaiting):
				return 0, preconditionf("not_waiting", "match started before %s left", userID)
			case err != nil:
				return 0, err
			}
			return m.CurrentPlayers - 1, nil
		})
		if err != nil {
			return none{}, err
		}

		s.bus.Emit(ctx, liveupdates.MatchUpdated, matchID, rosterUpdate{MatchID: matchID, UserID: userID, CurrentPlayers: players})
		return none{}, nil
	})
	return err
}
