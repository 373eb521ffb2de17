package matchdb

import (
	"context"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Match is one scheduled session of a season.
type Match struct {
	bun.BaseModel `bun:"table:matches,alias:m"`

	ID             uuid.UUID            `bun:"id,pk,type:uuid"`
	SeasonID       string               `bun:"season_id,notnull"`
	Title          string               `bun:"title,notnull"`
	Category       matchdomain.Category `bun:"category,notnull"`
	Status         matchdomain.Status   `bun:"status,notnull"`
	MatchNumber    *int                 `bun:"match_number"`
	ScheduledStart time.Time            `bun:"scheduled_start,notnull"`
	Deadline       time.Time            `bun:"deadline,notnull"`
	ActualStart    *time.Time           `bun:"actual_start"`
	MinPlayers     int                  `bun:"min_players,notnull"`
	MaxPlayers     int                  `bun:"max_players,notnull"`
	CurrentPlayers int                  `bun:"current_players,notnull,default:0"`
	Tracks         []string             `bun:"tracks,array"`
	ChannelRef     string               `bun:"channel_ref,nullzero"`
	CancelReason   string               `bun:"cancel_reason,nullzero"`
	CreatedBy      string               `bun:"created_by,notnull"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

var _ bun.BeforeInsertHook = (*Match)(nil)

func (m *Match) BeforeInsert(ctx context.Context, _ *bun.InsertQuery) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// MatchParticipant is a roster entry, present only while the player is signed up.
type MatchParticipant struct {
	bun.BaseModel `bun:"table:match_participants,alias:mp"`

	MatchID  uuid.UUID `bun:"match_id,pk,type:uuid"`
	UserID   string    `bun:"user_id,pk"`
	JoinedAt time.Time `bun:"joined_at,notnull"`
}

// Game is the scoring unit of a match.
type Game struct {
	bun.BaseModel `bun:"table:games,alias:g"`

	ID                  uuid.UUID               `bun:"id,pk,type:uuid"`
	MatchID             uuid.UUID               `bun:"match_id,type:uuid,notnull"`
	Passcode            string                  `bun:"passcode,notnull"`
	PasscodeVersion     int                     `bun:"passcode_version,notnull,default:1"`
	PasscodePublishedAt *time.Time              `bun:"passcode_published_at"`
	TeamConfig          *string                 `bun:"team_config"`
	TeamColors          []int                   `bun:"team_colors,array"`
	TeamScores          []matchdomain.TeamScore `bun:"team_scores,type:jsonb"`
	Tracks              []string                `bun:"tracks,array"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

var _ bun.BeforeInsertHook = (*Game)(nil)

func (g *Game) BeforeInsert(ctx context.Context, _ *bun.InsertQuery) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// IsTeamGame reports whether players were split into teams.
func (g *Game) IsTeamGame() bool {
	return g.TeamConfig != nil
}

// GameParticipant is a player's line in a game.
type GameParticipant struct {
	bun.BaseModel `bun:"table:game_participants,alias:gp"`

	GameID           uuid.UUID                `bun:"game_id,pk,type:uuid"`
	UserID           string                   `bun:"user_id,pk"`
	Status           matchdomain.ScoreStatus  `bun:"status,notnull"`
	TotalScore       int                      `bun:"total_score,notnull,default:0"`
	Races            []matchdomain.RaceResult `bun:"races,type:jsonb"`
	EliminatedAtRace *int                     `bun:"eliminated_at_race"`
	TeamIndex        *int                     `bun:"team_index"`
	IsExcluded       bool                     `bun:"is_excluded,notnull,default:false"`
	RatingChange     *float64                 `bun:"rating_change"`

	ScreenshotURL       string     `bun:"screenshot_url,nullzero"`
	ScreenshotDeletedAt *time.Time `bun:"screenshot_deleted_at"`
	SubmittedAt         *time.Time `bun:"submitted_at"`
	VerifiedBy          string     `bun:"verified_by,nullzero"`
	VerifiedAt          *time.Time `bun:"verified_at"`
	RejectedBy          string     `bun:"rejected_by,nullzero"`
	RejectionReason     string     `bun:"rejection_reason,nullzero"`

	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// SplitVote is one player's request to regenerate the passcode. Votes for an
// older passcode version are ignored rather than deleted.
type SplitVote struct {
	bun.BaseModel `bun:"table:split_votes,alias:sv"`

	GameID          uuid.UUID `bun:"game_id,pk,type:uuid"`
	UserID          string    `bun:"user_id,pk"`
	PasscodeVersion int       `bun:"passcode_version,pk"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// UserSeasonStats is a player's rating state within one season.
type UserSeasonStats struct {
	bun.BaseModel `bun:"table:user_season_stats,alias:uss"`

	UserID            string     `bun:"user_id,pk"`
	SeasonID          string     `bun:"season_id,pk"`
	InternalRating    float64    `bun:"internal_rating,notnull"`
	DisplayRating     int        `bun:"display_rating,notnull,default:0"`
	SeasonHighRating  int        `bun:"season_high_rating,notnull,default:0"`
	ConvergencePoints float64    `bun:"convergence_points,notnull,default:0"`
	TotalMatches      int        `bun:"total_matches,notnull,default:0"`
	Wins              int        `bun:"wins,notnull,default:0"`
	Podiums           int        `bun:"podiums,notnull,default:0"`
	TotalScore        int        `bun:"total_score,notnull,default:0"`
	LastMatchAt       *time.Time `bun:"last_match_at"`

	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// RatingHistory is the append-only record of one player's rating change in
// one match. The Before fields restore the season stats on recalculation.
type RatingHistory struct {
	bun.BaseModel `bun:"table:rating_history,alias:rh"`

	ID             int64     `bun:"id,pk,autoincrement"`
	UserID         string    `bun:"user_id,notnull"`
	SeasonID       string    `bun:"season_id,notnull"`
	MatchID        uuid.UUID `bun:"match_id,type:uuid,notnull"`
	GameID         uuid.UUID `bun:"game_id,type:uuid,notnull"`
	Position       int       `bun:"position,notnull"`
	ComparisonMode string    `bun:"comparison_mode,notnull"`
	Delta          float64   `bun:"delta,notnull"`

	// FirstGame marks that the stats row was created by this match.
	FirstGame bool `bun:"first_game,notnull,default:false"`

	InternalBefore    float64    `bun:"internal_before,notnull"`
	DisplayBefore     int        `bun:"display_before,notnull"`
	SeasonHighBefore  int        `bun:"season_high_before,notnull"`
	ConvergenceBefore float64    `bun:"convergence_before,notnull"`
	MatchesBefore     int        `bun:"matches_before,notnull"`
	WinsBefore        int        `bun:"wins_before,notnull"`
	PodiumsBefore     int        `bun:"podiums_before,notnull"`
	TotalScoreBefore  int        `bun:"total_score_before,notnull"`
	LastMatchBefore   *time.Time `bun:"last_match_before"`

	InternalAfter    float64 `bun:"internal_after,notnull"`
	DisplayAfter     int     `bun:"display_after,notnull"`
	ConvergenceAfter float64 `bun:"convergence_after,notnull"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// StatusChange carries the side effects of a match status transition.
type StatusChange struct {
	ActualStart  *time.Time
	ClearNumber  bool
	CancelReason string
}
