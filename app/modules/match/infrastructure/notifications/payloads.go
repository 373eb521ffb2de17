package notifications

import (
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/google/uuid"
)

// MatchSummary describes a match for announcements and channel posts.
type MatchSummary struct {
	MatchID        uuid.UUID            `json:"match_id"`
	SeasonID       string               `json:"season_id"`
	MatchNumber    *int                 `json:"match_number,omitempty"`
	Title          string               `json:"title"`
	Category       matchdomain.Category `json:"category"`
	ScheduledStart time.Time            `json:"scheduled_start"`
	ChannelRef     string               `json:"channel_ref,omitempty"`
	Players        []string             `json:"players,omitempty"`
	Reason         string               `json:"reason,omitempty"`
}

// ResultLine is one participant's row in a results announcement.
type ResultLine struct {
	UserID        string  `json:"user_id"`
	Position      int     `json:"position"`
	Score         int     `json:"score"`
	Team          *int    `json:"team,omitempty"`
	Delta         float64 `json:"delta"`
	DisplayRating int     `json:"display_rating"`
}

// Results announces a finalized match.
type Results struct {
	Match      MatchSummary            `json:"match"`
	Lines      []ResultLine            `json:"lines"`
	TeamScores []matchdomain.TeamScore `json:"team_scores,omitempty"`
}

// PasscodePost carries a published passcode and, for team modes, the teams.
type PasscodePost struct {
	MatchID  uuid.UUID      `json:"match_id"`
	GameID   uuid.UUID      `json:"game_id"`
	Passcode string         `json:"passcode"`
	Version  int            `json:"version"`
	Teams    map[string]int `json:"teams,omitempty"`
	Colors   []int          `json:"colors,omitempty"`
}

// ScreenshotRequest asks a player for a replacement result screenshot.
type ScreenshotRequest struct {
	MatchID uuid.UUID `json:"match_id"`
	GameID  uuid.UUID `json:"game_id"`
	UserID  string    `json:"user_id"`
	Reason  string    `json:"reason,omitempty"`
}

// ChannelParams describes the chat channel to open for a match.
type ChannelParams struct {
	MatchID uuid.UUID `json:"match_id"`
	Name    string    `json:"name"`
	Members []string  `json:"members,omitempty"`
}
