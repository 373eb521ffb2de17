package matchdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

func (r *Impl) CreateGame(ctx context.Context, db bun.IDB, game *Game) error {
	if db == nil {
		db = r.db
	}
	if _, err := db.NewInsert().Model(game).Exec(ctx); err != nil {
		return fmt.Errorf("matchdb.CreateGame: %w", err)
	}
	return nil
}

func (r *Impl) GetGame(ctx context.Context, db bun.IDB, gameID uuid.UUID) (*Game, error) {
	if db == nil {
		db = r.db
	}
	game := new(Game)
	err := db.NewSelect().Model(game).Where("g.id = ?", gameID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("matchdb.GetGame: %w", err)
	}
	return game, nil
}

func (r *Impl) GetGameForUpdate(ctx context.Context, db bun.IDB, gameID uuid.UUID) (*Game, error) {
	if db == nil {
		db = r.db
	}
	game := new(Game)
	err := db.NewSelect().Model(game).Where("g.id = ?", gameID).For("UPDATE").Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("matchdb.GetGameForUpdate: %w", err)
	}
	return game, nil
}

func (r *Impl) GetCurrentGame(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Game, error) {
	if db == nil {
		db = r.db
	}
	game := new(Game)
	err := db.NewSelect().
		Model(game).
		Where("g.match_id = ?", matchID).
		Order("g.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("matchdb.GetCurrentGame: %w", err)
	}
	return game, nil
}

func (r *Impl) PublishPasscode(ctx context.Context, db bun.IDB, gameID uuid.UUID, at time.Time) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewUpdate().
		Model((*Game)(nil)).
		Set("passcode_published_at = ?", at).
		Where("id = ?", gameID).
		Where("passcode_published_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.PublishPasscode: %w", err)
	}
	return requireRows(res, "matchdb.PublishPasscode")
}

func (r *Impl) RotatePasscode(ctx context.Context, db bun.IDB, gameID uuid.UUID, fromVersion int, passcode string, at time.Time) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewUpdate().
		Model((*Game)(nil)).
		Set("passcode = ?", passcode).
		Set("passcode_version = passcode_version + 1").
		Set("passcode_published_at = ?", at).
		Where("id = ?", gameID).
		Where("passcode_version = ?", fromVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.RotatePasscode: %w", err)
	}
	return requireRows(res, "matchdb.RotatePasscode")
}

func (r *Impl) SetTeamScores(ctx context.Context, db bun.IDB, gameID uuid.UUID, scores []matchdomain.TeamScore) error {
	if db == nil {
		db = r.db
	}
	_, err := db.NewUpdate().
		Model(&Game{ID: gameID, TeamScores: scores}).
		Column("team_scores").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.SetTeamScores: %w", err)
	}
	return nil
}

func (r *Impl) UpsertGameParticipant(ctx context.Context, db bun.IDB, participant *GameParticipant) error {
	if db == nil {
		db = r.db
	}
	participant.UpdatedAt = time.Now().UTC()
	res, err := db.NewInsert().
		Model(participant).
		On("CONFLICT (game_id, user_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("total_score = EXCLUDED.total_score").
		Set("races = EXCLUDED.races").
		Set("eliminated_at_race = EXCLUDED.eliminated_at_race").
		Set("screenshot_url = EXCLUDED.screenshot_url").
		Set("screenshot_deleted_at = EXCLUDED.screenshot_deleted_at").
		Set("submitted_at = EXCLUDED.submitted_at").
		Set("verified_by = EXCLUDED.verified_by").
		Set("verified_at = EXCLUDED.verified_at").
		Set("rejected_by = EXCLUDED.rejected_by").
		Set("rejection_reason = EXCLUDED.rejection_reason").
		Set("updated_at = EXCLUDED.updated_at").
		Where("gp.status <> ?", matchdomain.ScoreVerified).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.UpsertGameParticipant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyVerified
	}
	return nil
}

func (r *Impl) BulkCreateGameParticipants(ctx context.Context, db bun.IDB, participants []GameParticipant) error {
	if len(participants) == 0 {
		return nil
	}
	if db == nil {
		db = r.db
	}
	_, err := db.NewInsert().
		Model(&participants).
		On("CONFLICT (game_id, user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.BulkCreateGameParticipants: %w", err)
	}
	return nil
}

func (r *Impl) GetGameParticipant(ctx context.Context, db bun.IDB, gameID uuid.UUID, userID string) (*GameParticipant, error) {
	if db == nil {
		db = r.db
	}
	p := new(GameParticipant)
	err := db.NewSelect().
		Model(p).
		Where("gp.game_id = ?", gameID).
		Where("gp.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("matchdb.GetGameParticipant: %w", err)
	}
	return p, nil
}

func (r *Impl) ListGameParticipants(ctx context.Context, db bun.IDB, gameID uuid.UUID) ([]GameParticipant, error) {
	if db == nil {
		db = r.db
	}
	var participants []GameParticipant
	err := db.NewSelect().
		Model(&participants).
		Where("gp.game_id = ?", gameID).
		Order("gp.user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("matchdb.ListGameParticipants: %w", err)
	}
	return participants, nil
}

func (r *Impl) VerifyGameParticipant(ctx context.Context, db bun.IDB, gameID uuid.UUID, userID, moderatorID string, at time.Time) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewUpdate().
		Model((*GameParticipant)(nil)).
		Set("status = ?", matchdomain.ScoreVerified).
		Set("verified_by = ?", moderatorID).
		Set("verified_at = ?", at).
		Set("updated_at = ?", at).
		Where("game_id = ?", gameID).
		Where("user_id = ?", userID).
		Where("status = ?", matchdomain.ScorePending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.VerifyGameParticipant: %w", err)
	}
	return requireRows(res, "matchdb.VerifyGameParticipant")
}

func (r *Impl) RejectGameParticipant(ctx context.Context, db bun.IDB, gameID uuid.UUID, userID, moderatorID, reason string, at time.Time) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewUpdate().
		Model((*GameParticipant)(nil)).
		Set("status = ?", matchdomain.ScoreRejected).
		Set("verified_by = NULL").
		Set("verified_at = NULL").
		Set("rejected_by = ?", moderatorID).
		Set("rejection_reason = ?", reason).
		Set("screenshot_deleted_at = CASE WHEN screenshot_url IS NOT NULL THEN ?::timestamptz ELSE screenshot_deleted_at END", at).
		Set("updated_at = ?", at).
		Where("game_id = ?", gameID).
		Where("user_id = ?", userID).
		Where("status = ?", matchdomain.ScorePending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.RejectGameParticipant: %w", err)
	}
	return requireRows(res, "matchdb.RejectGameParticipant")
}

func (r *Impl) SetRatingChanges(ctx context.Context, db bun.IDB, gameID uuid.UUID, changes map[string]float64) error {
	if db == nil {
		db = r.db
	}
	for userID, delta := range changes {
		_, err := db.NewUpdate().
			Model((*GameParticipant)(nil)).
			Set("rating_change = ?", delta).
			Where("game_id = ?", gameID).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("matchdb.SetRatingChanges: %w", err)
		}
	}
	return nil
}

func (r *Impl) CreateSplitVote(ctx context.Context, db bun.IDB, vote *SplitVote) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewInsert().
		Model(vote).
		On("CONFLICT (game_id, user_id, passcode_version) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.CreateSplitVote: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *Impl) CountSplitVotes(ctx context.Context, db bun.IDB, gameID uuid.UUID, passcodeVersion int) (int, error) {
	if db == nil {
		db = r.db
	}
	n, err := db.NewSelect().
		Model((*SplitVote)(nil)).
		Where("sv.game_id = ?", gameID).
		Where("sv.passcode_version = ?", passcodeVersion).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("matchdb.CountSplitVotes: %w", err)
	}
	return n, nil
}
