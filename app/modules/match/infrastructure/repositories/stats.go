package matchdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

func (r *Impl) GetSeasonStats(ctx context.Context, db bun.IDB, seasonID string, userIDs []string) ([]UserSeasonStats, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	if db == nil {
		db = r.db
	}
	var stats []UserSeasonStats
	err := db.NewSelect().
		Model(&stats).
		Where("uss.season_id = ?", seasonID).
		Where("uss.user_id IN (?)", bun.In(userIDs)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("matchdb.GetSeasonStats: %w", err)
	}
	return stats, nil
}

func (r *Impl) UpsertSeasonStats(ctx context.Context, db bun.IDB, stats []UserSeasonStats) error {
	if len(stats) == 0 {
		return nil
	}
	if db == nil {
		db = r.db
	}
	now := time.Now().UTC()
	for i := range stats {
		stats[i].UpdatedAt = now
	}
	_, err := db.NewInsert().
		Model(&stats).
		On("CONFLICT (user_id, season_id) DO UPDATE").
		Set("internal_rating = EXCLUDED.internal_rating").
		Set("display_rating = EXCLUDED.display_rating").
		Set("season_high_rating = EXCLUDED.season_high_rating").
		Set("convergence_points = EXCLUDED.convergence_points").
		Set("total_matches = EXCLUDED.total_matches").
		Set("wins = EXCLUDED.wins").
		Set("podiums = EXCLUDED.podiums").
		Set("total_score = EXCLUDED.total_score").
		Set("last_match_at = EXCLUDED.last_match_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.UpsertSeasonStats: %w", err)
	}
	return nil
}

func (r *Impl) DeleteSeasonStats(ctx context.Context, db bun.IDB, seasonID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if db == nil {
		db = r.db
	}
	_, err := db.NewDelete().
		Model((*UserSeasonStats)(nil)).
		Where("season_id = ?", seasonID).
		Where("user_id IN (?)", bun.In(userIDs)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.DeleteSeasonStats: %w", err)
	}
	return nil
}

func (r *Impl) ListSeasonStandings(ctx context.Context, db bun.IDB, seasonID string) ([]UserSeasonStats, error) {
	if db == nil {
		db = r.db
	}
	var stats []UserSeasonStats
	err := db.NewSelect().
		Model(&stats).
		Where("uss.season_id = ?", seasonID).
		Order("uss.display_rating DESC", "uss.internal_rating DESC", "uss.user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("matchdb.ListSeasonStandings: %w", err)
	}
	return stats, nil
}

func (r *Impl) InsertRatingHistory(ctx context.Context, db bun.IDB, rows []RatingHistory) error {
	if len(rows) == 0 {
		return nil
	}
	if db == nil {
		db = r.db
	}
	if _, err := db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("matchdb.InsertRatingHistory: %w", err)
	}
	return nil
}

func (r *Impl) ListRatingHistoryForMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) ([]RatingHistory, error) {
	if db == nil {
		db = r.db
	}
	var rows []RatingHistory
	err := db.NewSelect().
		Model(&rows).
		Where("rh.match_id = ?", matchID).
		Order("rh.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("matchdb.ListRatingHistoryForMatch: %w", err)
	}
	return rows, nil
}

func (r *Impl) ListRatingHistoryForUser(ctx context.Context, db bun.IDB, userID, seasonID string) ([]RatingHistory, error) {
	if db == nil {
		db = r.db
	}
	var rows []RatingHistory
	err := db.NewSelect().
		Model(&rows).
		Where("rh.user_id = ?", userID).
		Where("rh.season_id = ?", seasonID).
		Order("rh.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("matchdb.ListRatingHistoryForUser: %w", err)
	}
	return rows, nil
}

func (r *Impl) DeleteRatingHistoryForMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	_, err := db.NewDelete().
		Model((*RatingHistory)(nil)).
		Where("match_id = ?", matchID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.DeleteRatingHistoryForMatch: %w", err)
	}
	return nil
}

func (r *Impl) HasLaterRatingHistory(ctx context.Context, db bun.IDB, seasonID string, userIDs []string, afterID int64) (bool, error) {
	if len(userIDs) == 0 {
		return false, nil
	}
	if db == nil {
		db = r.db
	}
	exists, err := db.NewSelect().
		Model((*RatingHistory)(nil)).
		Where("rh.season_id = ?", seasonID).
		Where("rh.user_id IN (?)", bun.In(userIDs)).
		Where("rh.id > ?", afterID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("matchdb.HasLaterRatingHistory: %w", err)
	}
	return exists, nil
}
