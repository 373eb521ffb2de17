package matchmigrations

import (
	"context"
	"fmt"

	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Creating match tables...")

		models := []any{
			(*matchdb.Match)(nil),
			(*matchdb.MatchParticipant)(nil),
			(*matchdb.Game)(nil),
			(*matchdb.GameParticipant)(nil),
			(*matchdb.SplitVote)(nil),
			(*matchdb.UserSeasonStats)(nil),
			(*matchdb.RatingHistory)(nil),
		}
		for _, model := range models {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table for %T: %w", model, err)
			}
		}

		statements := []string{
			// numbers are unique per season among matches that still hold one
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_season_number ON matches (season_id, match_number) WHERE match_number IS NOT NULL`,
			`CREATE INDEX IF NOT EXISTS idx_matches_status_start ON matches (status, scheduled_start)`,
			`CREATE INDEX IF NOT EXISTS idx_matches_status_deadline ON matches (status, deadline)`,
			`ALTER TABLE match_participants ADD CONSTRAINT fk_match_participants_match FOREIGN KEY (match_id) REFERENCES matches (id) ON DELETE CASCADE`,
			`ALTER TABLE games ADD CONSTRAINT fk_games_match FOREIGN KEY (match_id) REFERENCES matches (id) ON DELETE CASCADE`,
			`ALTER TABLE game_participants ADD CONSTRAINT fk_game_participants_game FOREIGN KEY (game_id) REFERENCES games (id) ON DELETE CASCADE`,
			`ALTER TABLE split_votes ADD CONSTRAINT fk_split_votes_game FOREIGN KEY (game_id) REFERENCES games (id) ON DELETE CASCADE`,
			`CREATE INDEX IF NOT EXISTS idx_games_match_created ON games (match_id, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_rating_history_match ON rating_history (match_id)`,
			`CREATE INDEX IF NOT EXISTS idx_rating_history_season_user ON rating_history (season_id, user_id, id)`,
			`CREATE INDEX IF NOT EXISTS idx_user_season_stats_standings ON user_season_stats (season_id, display_rating DESC)`,
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply %q: %w", stmt, err)
			}
		}

		fmt.Println("Match tables created successfully!")
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Dropping match tables...")

		models := []any{
			(*matchdb.RatingHistory)(nil),
			(*matchdb.UserSeasonStats)(nil),
			(*matchdb.SplitVote)(nil),
			(*matchdb.GameParticipant)(nil),
			(*matchdb.Game)(nil),
			(*matchdb.MatchParticipant)(nil),
			(*matchdb.Match)(nil),
		}
		for _, model := range models {
			if _, err := db.NewDropTable().Model(model).IfExists().Cascade().Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop table for %T: %w", model, err)
			}
		}

		fmt.Println("Match tables dropped successfully!")
		return nil
	})
}
