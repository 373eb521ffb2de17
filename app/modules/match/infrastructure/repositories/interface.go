package matchdb

import (
	"context"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Repository is the persistence contract of the match module. Every method
// takes the bun.IDB to run on so callers can compose calls inside one
// transaction; a nil db runs on the repository's own connection.
//
// Error semantics:
//   - ErrNotFound: requested record does not exist (Get* methods)
//   - ErrNoRowsAffected: a conditional UPDATE/DELETE matched no rows
//   - ErrDuplicate / ErrMatchFull / ErrNotWaiting: roster and vote constraints
//   - ErrAlreadyVerified: a score write hit a VERIFIED row
//   - other errors: infrastructure failures
type Repository interface {
	// Matches
	GetMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error)
	// GetMatchForUpdate is GetMatch plus a row lock held until db commits.
	GetMatchForUpdate(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error)
	CreateMatch(ctx context.Context, db bun.IDB, match *Match) error
	// UpdateMatchStatus moves a match from one status to another. It returns
	// ErrNoRowsAffected when the match is no longer in the from status.
	UpdateMatchStatus(ctx context.Context, db bun.IDB, matchID uuid.UUID, from, to matchdomain.Status, change StatusChange) error
	DeleteMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) error
	SetChannelRef(ctx context.Context, db bun.IDB, matchID uuid.UUID, channelRef string) error
	FindOverdueWaitingMatches(ctx context.Context, db bun.IDB, now time.Time) ([]Match, error)
	FindExpiredInProgressMatches(ctx context.Context, db bun.IDB, now time.Time) ([]Match, error)

	// Numbering. AcquireSeasonLock must be called inside a transaction.
	AcquireSeasonLock(ctx context.Context, db bun.IDB, seasonID string) error
	ListNumberingCandidates(ctx context.Context, db bun.IDB, seasonID string) ([]matchdomain.NumberingCandidate, error)
	ClearMatchNumbers(ctx context.Context, db bun.IDB, matchIDs []uuid.UUID) error
	SetMatchNumber(ctx context.Context, db bun.IDB, matchID uuid.UUID, number int) error

	// Roster. Both mutations only apply to WAITING matches (ErrNotWaiting) and
	// touch two tables, so callers run them inside a transaction.
	AddParticipant(ctx context.Context, db bun.IDB, matchID uuid.UUID, userID string, joinedAt time.Time) error
	RemoveParticipant(ctx context.Context, db bun.IDB, matchID uuid.UUID, userID string) error
	ListParticipants(ctx context.Context, db bun.IDB, matchID uuid.UUID) ([]MatchParticipant, error)

	// Games
	CreateGame(ctx context.Context, db bun.IDB, game *Game) error
	GetGame(ctx context.Context, db bun.IDB, gameID uuid.UUID) (*Game, error)
	// GetGameForUpdate is GetGame plus a row lock held until db commits.
	GetGameForUpdate(ctx context.Context, db bun.IDB, gameID uuid.UUID) (*Game, error)
	GetCurrentGame(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Game, error)
	// PublishPasscode returns ErrNoRowsAffected if it was already published.
	PublishPasscode(ctx context.Context, db bun.IDB, gameID uuid.UUID, at time.Time) error
	// RotatePasscode returns ErrNoRowsAffected if the version already moved on.
	RotatePasscode(ctx context.Context, db bun.IDB, gameID uuid.UUID, fromVersion int, passcode string, at time.Time) error
	SetTeamScores(ctx context.Context, db bun.IDB, gameID uuid.UUID, scores []matchdomain.TeamScore) error

	// Game participants. UpsertGameParticipant never overwrites a VERIFIED row
	// and returns ErrAlreadyVerified instead.
	UpsertGameParticipant(ctx context.Context, db bun.IDB, participant *GameParticipant) error
	BulkCreateGameParticipants(ctx context.Context, db bun.IDB, participants []GameParticipant) error
	GetGameParticipant(ctx context.Context, db bun.IDB, gameID uuid.UUID, userID string) (*GameParticipant, error)
	ListGameParticipants(ctx context.Context, db bun.IDB, gameID uuid.UUID) ([]GameParticipant, error)
	// VerifyGameParticipant and RejectGameParticipant only act on PENDING rows
	// and return ErrNoRowsAffected otherwise.
	VerifyGameParticipant(ctx context.Context, db bun.IDB, gameID uuid.UUID, userID, moderatorID string, at time.Time) error
	RejectGameParticipant(ctx context.Context, db bun.IDB, gameID uuid.UUID, userID, moderatorID, reason string, at time.Time) error
	SetRatingChanges(ctx context.Context, db bun.IDB, gameID uuid.UUID, changes map[string]float64) error

	// Split votes
	CreateSplitVote(ctx context.Context, db bun.IDB, vote *SplitVote) error
	CountSplitVotes(ctx context.Context, db bun.IDB, gameID uuid.UUID, passcodeVersion int) (int, error)

	// Season stats and rating history
	GetSeasonStats(ctx context.Context, db bun.IDB, seasonID string, userIDs []string) ([]UserSeasonStats, error)
	UpsertSeasonStats(ctx context.Context, db bun.IDB, stats []UserSeasonStats) error
	DeleteSeasonStats(ctx context.Context, db bun.IDB, seasonID string, userIDs []string) error
	ListSeasonStandings(ctx context.Context, db bun.IDB, seasonID string) ([]UserSeasonStats, error)
	InsertRatingHistory(ctx context.Context, db bun.IDB, rows []RatingHistory) error
	ListRatingHistoryForMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) ([]RatingHistory, error)
	ListRatingHistoryForUser(ctx context.Context, db bun.IDB, userID, seasonID string) ([]RatingHistory, error)
	DeleteRatingHistoryForMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) error
	// HasLaterRatingHistory reports whether any of the users has a snapshot in
	// the season newer than afterID.
	HasLaterRatingHistory(ctx context.Context, db bun.IDB, seasonID string, userIDs []string, afterID int64) (bool, error)
}
