package ratingdomain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvergencePointsFor(t *testing.T) {
	tests := []struct {
		position int
		want     float64
	}{
		{0, 0},
		{1, 1.0},
		{2, 0.96},
		{12, 0.56},
		{13, 0.52},
		{16, 0.52},
		{17, 0.48},
		{20, 0.48},
		{21, 0.35},
		{40, 0.35},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ConvergencePointsFor(tt.position), 1e-9, "position %d", tt.position)
	}
}

func TestDisplayRating(t *testing.T) {
	tests := []struct {
		name     string
		internal float64
		points   float64
		want     int
	}{
		{name: "no points", internal: 2750, points: 0, want: 0},
		{name: "half way", internal: 2750, points: 7.5, want: 1945},
		{name: "at threshold", internal: 2750, points: 15, want: 2750},
		{name: "converged", internal: 2810.4, points: 22, want: 2811},
		{name: "negative internal clamps", internal: -40, points: 20, want: 0},
		{name: "float noise above an integer rounds down", internal: 2750 + 5e-13, points: 20, want: 2750},
		{name: "beyond epsilon still rounds up", internal: 2750 + 1e-6, points: 20, want: 2751},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayRating(tt.internal, tt.points))
		})
	}
}

func TestConvergenceMultiplier_Monotonic(t *testing.T) {
	prev := ConvergenceMultiplier(0)
	for p := 0.5; p <= 20; p += 0.5 {
		cur := ConvergenceMultiplier(p)
		assert.GreaterOrEqual(t, cur, prev, "points %.1f", p)
		assert.LessOrEqual(t, cur, 1.0)
		prev = cur
	}
}
