package matchservice

import (
	"context"
	"errors"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/notifications"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type scoreUpdate struct {
	GameID uuid.UUID               `json:"game_id"`
	UserID string                  `json:"user_id"`
	Status matchdomain.ScoreStatus `json:"status"`
	Total  int                     `json:"total_score"`
}

// SubmitScore records a player's race results for moderation.
func (s *Orchestrator) SubmitScore(ctx context.Context, input SubmitScoreInput) error {
	_, err := withTelemetry(s, ctx, "SubmitScore", uuid.Nil, func(ctx context.Context) (none, error) {
		game, m, err := s.loadGame(ctx, nil, input.GameID)
		if err != nil {
			return none{}, err
		}
		if m.Status != matchdomain.StatusInProgress && m.Status != matchdomain.StatusCompleted {
			return none{}, preconditionf("not_running", "scores cannot be submitted while the match is %s", m.Status)
		}
		if err := validateRaces(input, len(game.Tracks), m.MaxPlayers); err != nil {
			return none{}, err
		}

		row, err := s.repo.GetGameParticipant(ctx, nil, input.GameID, input.UserID)
		if errors.Is(err, matchdb.ErrNotFound) {
			return none{}, &NotFoundError{Resource: "game participant", ID: input.UserID}
		}
		if err != nil {
			return none{}, err
		}
		if row.IsExcluded {
			return none{}, preconditionf("excluded", "%s was left out of this game", input.UserID)
		}
		if row.Status == matchdomain.ScoreVerified {
			return none{}, conflictf("already_verified", "score for %s is already verified", input.UserID)
		}

		total := 0
		for _, r := range input.Races {
			total += r.Points
		}
		now := s.clock.Now()
		row.Status = matchdomain.ScorePending
		row.Races = input.Races
		row.TotalScore = total
		row.EliminatedAtRace = input.EliminatedAtRace
		row.SubmittedAt = &now
		row.RejectedBy = ""
		row.RejectionReason = ""
		if input.ScreenshotURL != "" {
			row.ScreenshotURL = input.ScreenshotURL
			row.ScreenshotDeletedAt = nil
		}
		err = s.repo.UpsertGameParticipant(ctx, nil, row)
		if errors.Is(err, matchdb.ErrAlreadyVerified) {
			return none{}, conflictf("already_verified", "score for %s was verified concurrently", input.UserID)
		}
		if err != nil {
			return none{}, err
		}

		s.bus.Emit(ctx, liveupdates.MatchUpdated, m.ID, scoreUpdate{GameID: game.ID, UserID: input.UserID, Status: row.Status, Total: total})
		return none{}, nil
	})
	return err
}

func validateRaces(input SubmitScoreInput, tracks, maxPlayers int) error {
	if input.UserID == "" {
		return validationf("user_required", "user id is required")
	}
	if len(input.Races) == 0 {
		return validationf("races_required", "at least one race result is required")
	}
	seen := make(map[int]bool, len(input.Races))
	for _, r := range input.Races {
		if r.Race < 1 || (tracks > 0 && r.Race > tracks) {
			return validationf("invalid_race", "race %d does not exist in this game", r.Race)
		}
		if seen[r.Race] {
			return validationf("duplicate_race", "race %d is listed twice", r.Race)
		}
		seen[r.Race] = true
		if r.Position < 1 || r.Position > maxPlayers {
			return validationf("invalid_position", "position %d in race %d is out of range 1..%d", r.Position, r.Race, maxPlayers)
		}
		if r.Points < 0 {
			return validationf("invalid_points", "points in race %d must not be negative", r.Race)
		}
	}
	if e := input.EliminatedAtRace; e != nil && (*e < 1 || (tracks > 0 && *e > tracks)) {
		return validationf("invalid_elimination", "elimination race %d does not exist in this game", *e)
	}
	return nil
}

// VerifyScore moves a PENDING score to VERIFIED.
//
// Verification is blocked while any non-excluded participant has not
// submitted. In classic categories the claimed positions of all submitted
// scores must also be free of overlaps once ties are expanded.
func (s *Orchestrator) VerifyScore(ctx context.Context, gameID uuid.UUID, userID, moderatorID string) error {
	_, err := withTelemetry(s, ctx, "VerifyScore", uuid.Nil, func(ctx context.Context) (none, error) {
		matchID, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (uuid.UUID, error) {
			_, m, err := s.loadGame(ctx, db, gameID)
			if err != nil {
				return uuid.Nil, err
			}
			rows, err := s.repo.ListGameParticipants(ctx, db, gameID)
			if err != nil {
				return uuid.Nil, err
			}

			var target *matchdb.GameParticipant
			var claims []matchdomain.PositionClaim
			for i := range rows {
				r := &rows[i]
				if r.UserID == userID {
					target = r
				}
				if r.IsExcluded {
					continue
				}
				if r.Status == matchdomain.ScoreUnsubmitted {
					return uuid.Nil, preconditionf("unsubmitted_scores", "%s has not submitted a score", r.UserID)
				}
				if r.Status == matchdomain.ScorePending || r.Status == matchdomain.ScoreVerified {
					for _, race := range r.Races {
						claims = append(claims, matchdomain.PositionClaim{UserID: r.UserID, Race: race.Race, Position: race.Position})
					}
				}
			}
			if target == nil {
				return uuid.Nil, &NotFoundError{Resource: "game participant", ID: userID}
			}
			switch target.Status {
			case matchdomain.ScorePending:
			case matchdomain.ScoreVerified:
				return uuid.Nil, conflictf("already_verified", "score for %s is already verified", userID)
			default:
				return uuid.Nil, preconditionf("not_pending", "score for %s is %s", userID, target.Status)
			}

			if m.Category.IsClassicFamily() {
				var pc *matchdomain.PositionConflictError
				if err := matchdomain.CheckPositionConflicts(claims); errors.As(err, &pc) {
					return uuid.Nil, &ConflictError{
						Code:    "position_conflict",
						Message: pc.Error(),
						Race:    pc.Race,
					}
				}
			}

			err = s.repo.VerifyGameParticipant(ctx, db, gameID, userID, moderatorID, s.clock.Now())
			if errors.Is(err, matchdb.ErrNoRowsAffected) {
				return uuid.Nil, conflictf("already_verified", "score for %s changed concurrently", userID)
			}
			if err != nil {
				return uuid.Nil, err
			}
			return m.ID, nil
		})
		if err != nil {
			return none{}, err
		}

		s.bus.Emit(ctx, liveupdates.MatchUpdated, matchID, scoreUpdate{GameID: gameID, UserID: userID, Status: matchdomain.ScoreVerified})
		return none{}, nil
	})
	return err
}

// RejectScore moves a PENDING score to REJECTED and asks the player for a
// new screenshot.
func (s *Orchestrator) RejectScore(ctx context.Context, gameID uuid.UUID, userID, moderatorID, reason string) error {
	_, err := withTelemetry(s, ctx, "RejectScore", uuid.Nil, func(ctx context.Context) (none, error) {
		_, m, err := s.loadGame(ctx, nil, gameID)
		if err != nil {
			return none{}, err
		}
		row, err := s.repo.GetGameParticipant(ctx, nil, gameID, userID)
		if errors.Is(err, matchdb.ErrNotFound) {
			return none{}, &NotFoundError{Resource: "game participant", ID: userID}
		}
		if err != nil {
			return none{}, err
		}
		if row.Status != matchdomain.ScorePending {
			return none{}, preconditionf("not_pending", "only pending scores can be rejected, score for %s is %s", userID, row.Status)
		}

		err = s.repo.RejectGameParticipant(ctx, nil, gameID, userID, moderatorID, reason, s.clock.Now())
		if errors.Is(err, matchdb.ErrNoRowsAffected) {
			return none{}, preconditionf("not_pending", "score for %s changed concurrently", userID)
		}
		if err != nil {
			return none{}, err
		}

		if m.ChannelRef != "" {
			s.sink.PostScreenshotRequest(ctx, m.ChannelRef, notifications.ScreenshotRequest{
				MatchID: m.ID,
				GameID:  gameID,
				UserID:  userID,
				Reason:  reason,
			})
		}
		s.bus.Emit(ctx, liveupdates.MatchUpdated, m.ID, scoreUpdate{GameID: gameID, UserID: userID, Status: matchdomain.ScoreRejected})
		return none{}, nil
	})
	return err
}
