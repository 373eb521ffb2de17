package matchservice

import (
	"context"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	ratingdomain "github.com/Black-And-White-Club/race-league/app/modules/rating/domain"
	"github.com/google/uuid"
)

// Service is the match lifecycle as seen by transports and background tasks.
type Service interface {
	CreateMatch(ctx context.Context, input CreateMatchInput) (*matchdb.Match, error)
	JoinMatch(ctx context.Context, matchID uuid.UUID, userID string) error
	LeaveMatch(ctx context.Context, matchID uuid.UUID, userID string) error
	CancelMatch(ctx context.Context, matchID uuid.UUID, reason string) error
	DeleteMatch(ctx context.Context, matchID uuid.UUID) error

	// Job callbacks. Each begins with a status guard so redelivery is a no-op.
	OnStart(ctx context.Context, matchID uuid.UUID) error
	OnReminder(ctx context.Context, matchID uuid.UUID) error
	OnRevealPasscode(ctx context.Context, matchID, gameID uuid.UUID) error
	OnDeleteChannel(ctx context.Context, matchID uuid.UUID, channelRef string) error
	OnDeadline(ctx context.Context, now time.Time) (int, error)

	SubmitScore(ctx context.Context, input SubmitScoreInput) error
	VerifyScore(ctx context.Context, gameID uuid.UUID, userID, moderatorID string) error
	RejectScore(ctx context.Context, gameID uuid.UUID, userID, moderatorID, reason string) error
	CastSplitVote(ctx context.Context, gameID uuid.UUID, userID string) (SplitVoteResult, error)

	FinalizeMatch(ctx context.Context, matchID uuid.UUID, moderatorID string) (*FinalizeResult, error)
	RecalculateMatch(ctx context.Context, matchID uuid.UUID) (*FinalizeResult, error)
}

// JobQueue is the part of the delayed job queue the orchestrator schedules on.
type JobQueue interface {
	Enqueue(ctx context.Context, job matchdomain.Job, delay time.Duration) error
	Cancel(ctx context.Context, key string) error
}

// CreateMatchInput describes a new match. ScheduledStart accepts RFC 3339 or
// natural language ("tomorrow at 8pm") read in Timezone.
type CreateMatchInput struct {
	SeasonID       string
	Title          string
	Category       matchdomain.Category
	ScheduledStart string
	Timezone       string
	Duration       time.Duration
	MinPlayers     int
	MaxPlayers     int
	Tracks         []string
	CreatedBy      string
}

// SubmitScoreInput is a player's result for one game.
type SubmitScoreInput struct {
	GameID           uuid.UUID
	UserID           string
	Races            []matchdomain.RaceResult
	EliminatedAtRace *int
	ScreenshotURL    string
}

// SplitVoteResult is the state of the split vote after a cast.
type SplitVoteResult struct {
	Regenerated     bool `json:"regenerated"`
	CurrentVotes    int  `json:"current_votes"`
	RequiredVotes   int  `json:"required_votes"`
	PasscodeVersion int  `json:"passcode_version"`
}

// FinalizeResult is the rating outcome of one game.
type FinalizeResult struct {
	MatchID    uuid.UUID
	GameID     uuid.UUID
	Mode       ratingdomain.Mode
	Results    []ratingdomain.Result
	TeamScores []matchdomain.TeamScore
}
