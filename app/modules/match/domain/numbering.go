package matchdomain

import (
	"bytes"
	"slices"
	"time"

	"github.com/google/uuid"
)

// NumberingCandidate is a non-cancelled match considered for renumbering.
type NumberingCandidate struct {
	ID             uuid.UUID
	Status         Status
	Number         *int
	ScheduledStart time.Time
}

// NumberAssignment is the number a waiting match receives.
type NumberAssignment struct {
	MatchID uuid.UUID
	Number  int
}

// RenumberPlan is the outcome of PlanRenumbering. Flexible numbers must be
// cleared before the assignments are written to keep the per-season unique
// constraint satisfied mid-update.
type RenumberPlan struct {
	Flexible    []uuid.UUID
	Assignments []NumberAssignment
	MaxLocked   int
}

// PlanRenumbering freezes the numbers of started matches and numbers every
// waiting match contiguously after the highest frozen number, ordered by
// scheduled start and then id.
func PlanRenumbering(candidates []NumberingCandidate) RenumberPlan {
	var plan RenumberPlan
	var flexible []NumberingCandidate
	for _, c := range candidates {
		switch {
		case c.Status == StatusCancelled:
			continue
		case c.Status == StatusWaiting:
			flexible = append(flexible, c)
		case c.Number != nil:
			plan.MaxLocked = max(plan.MaxLocked, *c.Number)
		}
	}

	slices.SortFunc(flexible, func(a, b NumberingCandidate) int {
		if c := a.ScheduledStart.Compare(b.ScheduledStart); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})

	plan.Flexible = make([]uuid.UUID, 0, len(flexible))
	plan.Assignments = make([]NumberAssignment, 0, len(flexible))
	for i, c := range flexible {
		plan.Flexible = append(plan.Flexible, c.ID)
		plan.Assignments = append(plan.Assignments, NumberAssignment{
			MatchID: c.ID,
			Number:  plan.MaxLocked + 1 + i,
		})
	}
	return plan
}
