// Package ratingdomain implements the season rating algorithm. It is pure: no
// I/O, no clocks, no randomness.
//
// The pipeline for one game is
//
//	raw delta → position bonus → zero-sum → cap → podium floor
//
// Team mode skips both the bonus and the floor.
package ratingdomain

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	ErrTooFewParticipants = errors.New("rating requires at least two participants")
	ErrInvalidPosition    = errors.New("finishing position must be at least 1")
	ErrMissingTeam        = errors.New("team mode requires a team index for every participant")
)

const epsilon = 1e-9

var positionBonus = map[int]float64{1: 20, 2: 10, 3: 5}

var minimumGuarantee = map[int]float64{1: 10, 2: 5, 3: 2}

// Calculate computes new ratings for every participant of one game. The
// returned slice is in input order.
func Calculate(participants []Participant, mode Mode) ([]Result, error) {
	n := len(participants)
	if n < 2 {
		return nil, ErrTooFewParticipants
	}
	for _, p := range participants {
		if p.Position < 1 {
			return nil, fmt.Errorf("%w: %s has position %d", ErrInvalidPosition, p.UserID, p.Position)
		}
		if mode == ModeTeam && p.TeamIndex == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingTeam, p.UserID)
		}
	}

	byRating, ratingRank := rankByRating(participants)

	results := make([]Result, n)
	deltas := make([]float64, n)
	for i, p := range participants {
		opponents, compMode := comparisonSet(i, participants, byRating, ratingRank, mode)

		var expected, actual float64
		for _, j := range opponents {
			o := participants[j]
			expected += ExpectedScore(p.InternalRating, o.InternalRating)
			actual += outcome(p.Position, o.Position)
		}
		if len(opponents) > 0 {
			expected /= float64(len(opponents))
			actual /= float64(len(opponents))
		}

		raw := KFactor * KMultiplier * (actual - expected)
		deltas[i] = raw
		results[i] = Result{
			UserID:               p.UserID,
			Position:             p.Position,
			ComparisonMode:       compMode,
			Opponents:            len(opponents),
			ExpectedScore:        expected,
			ActualScore:          actual,
			RawDelta:             raw,
			OldInternalRating:    p.InternalRating,
			OldDisplayRating:     p.DisplayRating,
			OldConvergencePoints: p.ConvergencePoints,
		}
	}

	if mode == ModeIndividual {
		applyPositionBonus(participants, deltas)
	}
	enforceZeroSum(deltas)
	applyCap(deltas)
	if mode == ModeIndividual {
		applyPodiumFloor(participants, deltas)
	}

	for i, p := range participants {
		newInternal := p.InternalRating + deltas[i]
		newCP := p.ConvergencePoints + ConvergencePointsFor(p.Position)
		newDisplay := DisplayRating(newInternal, newCP)

		results[i].Delta = deltas[i]
		results[i].NewInternalRating = newInternal
		results[i].NewConvergencePoints = newCP
		results[i].NewDisplayRating = newDisplay
		results[i].NewSeasonHigh = max(p.SeasonHigh, newDisplay)
		results[i].NewGamesPlayed = p.GamesPlayed + 1
	}
	return results, nil
}

// ExpectedScore is the Elo expectation of a player rated mine against an
// opponent rated theirs.
func ExpectedScore(mine, theirs float64) float64 {
	return 1 / (1 + math.Pow(10, (theirs-mine)/EloDivisor))
}

func outcome(mine, theirs int) float64 {
	switch {
	case mine < theirs:
		return 1
	case mine == theirs:
		return 0.5
	default:
		return 0
	}
}

// rankByRating orders participant indexes by internal rating, highest first,
// with the user id as a stable tiebreak. The second slice maps a participant
// index to its rank in that order.
func rankByRating(participants []Participant) ([]int, []int) {
	order := make([]int, len(participants))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(participants[b].InternalRating, participants[a].InternalRating); c != 0 {
			return c
		}
		return cmp.Compare(participants[a].UserID, participants[b].UserID)
	})
	rank := make([]int, len(participants))
	for r, idx := range order {
		rank[idx] = r
	}
	return order, rank
}

// comparisonSet picks the opponents participant i is rated against.
func comparisonSet(i int, participants []Participant, byRating, ratingRank []int, mode Mode) ([]int, ComparisonMode) {
	p := participants[i]
	if mode == ModeTeam || p.GamesPlayed < ProvisionalGames {
		opponents := make([]int, 0, len(participants)-1)
		for j, o := range participants {
			if j == i {
				continue
			}
			if mode == ModeTeam && *o.TeamIndex == *p.TeamIndex {
				continue
			}
			opponents = append(opponents, j)
		}
		return opponents, ComparisonAll
	}

	lo, hi := proximityBounds(ratingRank[i], len(participants))
	opponents := make([]int, 0, hi-lo)
	for r := lo; r <= hi; r++ {
		if byRating[r] != i {
			opponents = append(opponents, byRating[r])
		}
	}
	return opponents, ComparisonProximity
}

// proximityBounds returns the inclusive rank window around rank r, shifted
// toward the populated side when r is near either end of the field.
func proximityBounds(r, n int) (int, int) {
	lo, hi := r-ProximityWindow, r+ProximityWindow
	if lo < 0 {
		hi -= lo
		lo = 0
	}
	if hi > n-1 {
		lo -= hi - (n - 1)
		hi = n - 1
	}
	if lo < 0 {
		lo = 0
	}
	return lo, hi
}

func applyPositionBonus(participants []Participant, deltas []float64) {
	for i, p := range participants {
		deltas[i] += positionBonus[p.Position]
	}
}

func enforceZeroSum(deltas []float64) {
	var sum float64
	for _, d := range deltas {
		sum += d
	}
	mean := sum / float64(len(deltas))
	for i := range deltas {
		deltas[i] -= mean
	}
}

// applyCap scales every delta by one factor so the largest magnitude is MaxDelta.
func applyCap(deltas []float64) {
	var peak float64
	for _, d := range deltas {
		peak = max(peak, math.Abs(d))
	}
	if peak <= MaxDelta {
		return
	}
	factor := MaxDelta / peak
	for i := range deltas {
		deltas[i] *= factor
	}
}

// applyPodiumFloor raises podium deltas to their guaranteed minimum and
// charges the raise evenly to non-podium participants, none of whom is pushed
// below -MaxDelta.
func applyPodiumFloor(participants []Participant, deltas []float64) {
	var deficit float64
	podium := make([]bool, len(participants))
	for i, p := range participants {
		floor, ok := minimumGuarantee[p.Position]
		if !ok {
			continue
		}
		podium[i] = true
		if deltas[i] < floor {
			deficit += floor - deltas[i]
			deltas[i] = floor
		}
	}

	for deficit > epsilon {
		donors := make([]int, 0, len(participants))
		for i := range participants {
			if !podium[i] && deltas[i] > -MaxDelta+epsilon {
				donors = append(donors, i)
			}
		}
		if len(donors) == 0 {
			return
		}
		share := deficit / float64(len(donors))
		for _, i := range donors {
			take := min(share, deltas[i]+MaxDelta)
			deltas[i] -= take
			deficit -= take
		}
	}
}
