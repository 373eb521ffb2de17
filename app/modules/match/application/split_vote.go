package matchservice

import (
	"context"
	"errors"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type voteOutcome struct {
	result SplitVoteResult
	game   *matchdb.Game
	match  *matchdb.Match
	teams  map[string]int
}

// CastSplitVote records a player's vote to regenerate the lobby passcode.
// Once a third of the game's players have voted for the current version the
// passcode is replaced and the version bumped. Voters on the same game queue
// on the game row, so every vote is counted against all earlier ones and the
// voter who reaches the threshold is the one who rotates.
func (s *Orchestrator) CastSplitVote(ctx context.Context, gameID uuid.UUID, userID string) (SplitVoteResult, error) {
	return withTelemetry(s, ctx, "CastSplitVote", uuid.Nil, func(ctx context.Context) (SplitVoteResult, error) {
		out, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (voteOutcome, error) {
			game, m, err := s.lockGame(ctx, db, gameID)
			if err != nil {
				return voteOutcome{}, err
			}
			if m.Status != matchdomain.StatusInProgress {
				return voteOutcome{}, preconditionf("not_in_progress", "match is %s", m.Status)
			}
			if game.PasscodePublishedAt == nil {
				return voteOutcome{}, preconditionf("passcode_hidden", "the passcode has not been revealed yet")
			}

			rows, err := s.repo.ListGameParticipants(ctx, db, gameID)
			if err != nil {
				return voteOutcome{}, err
			}
			active := 0
			member := false
			teams := make(map[string]int)
			for _, r := range rows {
				if r.IsExcluded {
					continue
				}
				active++
				if r.UserID == userID {
					member = true
				}
				if r.TeamIndex != nil {
					teams[r.UserID] = *r.TeamIndex
				}
			}
			if !member {
				return voteOutcome{}, preconditionf("not_a_participant", "%s is not playing this game", userID)
			}
			required := matchdomain.RequiredVotes(active)

			err = s.repo.CreateSplitVote(ctx, db, &matchdb.SplitVote{
				GameID:          gameID,
				UserID:          userID,
				PasscodeVersion: game.PasscodeVersion,
				CreatedAt:       s.clock.Now(),
			})
			if errors.Is(err, matchdb.ErrDuplicate) {
				return voteOutcome{}, conflictf("already_voted", "%s already voted on passcode version %d", userID, game.PasscodeVersion)
			}
			if err != nil {
				return voteOutcome{}, err
			}

			votes, err := s.repo.CountSplitVotes(ctx, db, gameID, game.PasscodeVersion)
			if err != nil {
				return voteOutcome{}, err
			}
			if votes < required {
				return voteOutcome{result: SplitVoteResult{
					CurrentVotes:    votes,
					RequiredVotes:   required,
					PasscodeVersion: game.PasscodeVersion,
				}}, nil
			}

			now := s.clock.Now()
			code := s.passcode()
			err = s.repo.RotatePasscode(ctx, db, gameID, game.PasscodeVersion, code, now)
			if errors.Is(err, matchdb.ErrNoRowsAffected) {
				current, err := s.repo.GetGame(ctx, db, gameID)
				if err != nil {
					return voteOutcome{}, err
				}
				return voteOutcome{result: SplitVoteResult{
					RequiredVotes:   required,
					PasscodeVersion: current.PasscodeVersion,
				}}, nil
			}
			if err != nil {
				return voteOutcome{}, err
			}

			game.Passcode = code
			game.PasscodeVersion++
			game.PasscodePublishedAt = &now
			return voteOutcome{
				result: SplitVoteResult{
					Regenerated:     true,
					RequiredVotes:   required,
					PasscodeVersion: game.PasscodeVersion,
				},
				game:  game,
				match: m,
				teams: teams,
			}, nil
		})
		if err != nil {
			return SplitVoteResult{}, err
		}

		if out.result.Regenerated {
			s.metrics.RecordPasscodeRegenerated(ctx)
			s.logger.InfoContext(ctx, "Passcode regenerated by split vote",
				attr.MatchID(out.match.ID),
				attr.GameID(gameID),
				attr.Int("version", out.game.PasscodeVersion),
			)
			var teams map[string]int
			if len(out.teams) > 0 {
				teams = out.teams
			}
			s.publishPasscode(ctx, out.match, out.game, teams)
		}
		return out.result, nil
	})
}
