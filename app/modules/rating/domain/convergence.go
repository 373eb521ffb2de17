package ratingdomain

import "math"

// ConvergencePointsFor returns the convergence points earned for finishing at
// position. 1st earns 1.0, each further rank 0.04 less down to 0.56 at 12th,
// then flat bands.
func ConvergencePointsFor(position int) float64 {
	switch {
	case position < 1:
		return 0
	case position <= 12:
		return 1.0 - 0.04*float64(position-1)
	case position <= 16:
		return 0.52
	case position <= 20:
		return 0.48
	default:
		return 0.35
	}
}

// ConvergenceMultiplier maps accumulated convergence points to the share of
// internal rating that is displayed.
func ConvergenceMultiplier(points float64) float64 {
	if points > ConvergenceThreshold {
		return 1.0
	}
	if points <= 0 {
		return 0
	}
	return math.Sin(math.Pi / (2 * ConvergenceThreshold) * points)
}

// DisplayRating is the user-visible rating for an internal rating after
// points of convergence. It never goes below zero.
//
// This is ceil(max(0, internal*multiplier)) except that values within epsilon
// (1e-9) above an integer round down to that integer: sin and the rating
// arithmetic leave noise like 2750.0000000000005, which a literal ceil would
// display as 2751.
func DisplayRating(internal, points float64) int {
	v := math.Max(0, internal*ConvergenceMultiplier(points))
	return int(math.Ceil(v - epsilon))
}
