// Package matchdomain holds the match lifecycle rules that need no I/O: the
// status state machine, team assignment, passcodes, score conflict checks,
// split-vote thresholds, match renumbering and the delayed job payloads.
package matchdomain

import "slices"

// Status is the lifecycle state of a match.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFinalized  Status = "FINALIZED"
	StatusCancelled  Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusWaiting:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusFinalized},
}

// CanTransition reports whether a match may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

func (s Status) IsValid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted, StatusFinalized, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Category is the event format of a match.
type Category string

const (
	CategoryClassic     Category = "CLASSIC"
	CategoryGP          Category = "GP"
	CategoryTeamClassic Category = "TEAM_CLASSIC"
	CategoryTeamGP      Category = "TEAM_GP"
)

// RequiresTeams reports whether players are split into teams at start.
func (c Category) RequiresTeams() bool {
	return c == CategoryTeamClassic || c == CategoryTeamGP
}

// IsClassicFamily reports whether per-race finishing positions are tracked,
// which is what the position conflict rule applies to.
func (c Category) IsClassicFamily() bool {
	return c == CategoryClassic || c == CategoryTeamClassic
}

func (c Category) IsValid() bool {
	switch c {
	case CategoryClassic, CategoryGP, CategoryTeamClassic, CategoryTeamGP:
		return true
	}
	return false
}

// ScoreStatus is the moderation state of a player's submitted score.
type ScoreStatus string

const (
	ScoreUnsubmitted ScoreStatus = "UNSUBMITTED"
	ScorePending     ScoreStatus = "PENDING"
	ScoreVerified    ScoreStatus = "VERIFIED"
	ScoreRejected    ScoreStatus = "REJECTED"
)

// Cancellation reasons recorded on a cancelled match.
const (
	CancelReasonNotEnoughPlayers   = "not_enough_players"
	CancelReasonInvalidPlayerCount = "invalid_player_count"
	CancelReasonModerator          = "moderator"
)
