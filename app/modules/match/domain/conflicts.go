package matchdomain

import (
	"cmp"
	"fmt"
	"slices"
)

// RaceResult is one player's finish in one race of a game.
type RaceResult struct {
	Race     int `json:"race"`
	Position int `json:"position"`
	Points   int `json:"points"`
}

// PositionClaim is a finishing position claimed by a player in a race.
type PositionClaim struct {
	UserID   string
	Race     int
	Position int
}

// PositionConflictError reports two claims that cannot both be true.
type PositionConflictError struct {
	Race     int
	Position int
}

func (e *PositionConflictError) Error() string {
	return fmt.Sprintf("race %d: position %d overlaps another claimed position", e.Race, e.Position)
}

// CheckPositionConflicts validates claimed positions race by race. A tie at P
// among k players occupies P…P+k-1, so no other claim may fall in that range.
// The first conflicting race in ascending order is reported.
func CheckPositionConflicts(claims []PositionClaim) error {
	byRace := make(map[int]map[int]int)
	for _, c := range claims {
		if byRace[c.Race] == nil {
			byRace[c.Race] = make(map[int]int)
		}
		byRace[c.Race][c.Position]++
	}

	races := make([]int, 0, len(byRace))
	for r := range byRace {
		races = append(races, r)
	}
	slices.Sort(races)

	for _, race := range races {
		type span struct{ start, end int }
		spans := make([]span, 0, len(byRace[race]))
		for pos, k := range byRace[race] {
			spans = append(spans, span{start: pos, end: pos + k - 1})
		}
		slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })
		for i := 1; i < len(spans); i++ {
			if spans[i].start <= spans[i-1].end {
				return &PositionConflictError{Race: race, Position: spans[i].start}
			}
		}
	}
	return nil
}
