package ratingdomain

import (
	"cmp"
	"slices"
)

// Standing is a player's final game line used to derive finishing positions.
type Standing struct {
	UserID string
	Score  int

	// EliminatedAtRace is the race a player dropped or disconnected in; nil
	// means the player finished every race.
	EliminatedAtRace *int
}

// AssignPositions ranks standings with standard competition ranking.
// Finishers come first by score descending. Eliminated players follow, grouped
// by the race they left in, later eliminations ranking higher; everyone in a
// group shares a position regardless of score.
func AssignPositions(standings []Standing) map[string]int {
	sorted := slices.Clone(standings)
	slices.SortStableFunc(sorted, func(a, b Standing) int {
		if c := compareStanding(a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	positions := make(map[string]int, len(sorted))
	for i, s := range sorted {
		if i > 0 && compareStanding(sorted[i-1], s) == 0 {
			positions[s.UserID] = positions[sorted[i-1].UserID]
			continue
		}
		positions[s.UserID] = i + 1
	}
	return positions
}

// compareStanding orders a before b when a finished better; 0 means tied.
func compareStanding(a, b Standing) int {
	aDNF, bDNF := a.EliminatedAtRace != nil, b.EliminatedAtRace != nil
	switch {
	case !aDNF && !bDNF:
		return cmp.Compare(b.Score, a.Score)
	case aDNF && bDNF:
		return cmp.Compare(*b.EliminatedAtRace, *a.EliminatedAtRace)
	case aDNF:
		return 1
	default:
		return -1
	}
}
