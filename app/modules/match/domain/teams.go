package matchdomain

import (
	"cmp"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ColorSlots is the number of distinct team colors the clients can render,
// which also bounds the number of teams.
const ColorSlots = 16

// MinTeamSize is the smallest allowed team.
const MinTeamSize = 2

var (
	ErrInvalidPlayerCount     = errors.New("not enough players to form teams")
	ErrNoValidConfiguration   = errors.New("no valid team configuration")
	ErrMalformedConfiguration = errors.New("malformed team configuration")
)

// TeamShape is one team configuration: Count teams of Size players.
type TeamShape struct {
	Size  int
	Count int
}

// String encodes the shape as "<size>x<count>", the form stored on the game.
func (s TeamShape) String() string {
	return fmt.Sprintf("%dx%d", s.Size, s.Count)
}

func (s TeamShape) Players() int { return s.Size * s.Count }

// ParseTeamShape decodes a shape written by TeamShape.String.
func ParseTeamShape(v string) (TeamShape, error) {
	sizeStr, countStr, ok := strings.Cut(v, "x")
	if !ok {
		return TeamShape{}, fmt.Errorf("%w: %q", ErrMalformedConfiguration, v)
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return TeamShape{}, fmt.Errorf("%w: %q", ErrMalformedConfiguration, v)
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return TeamShape{}, fmt.Errorf("%w: %q", ErrMalformedConfiguration, v)
	}
	return TeamShape{Size: size, Count: count}, nil
}

// ValidShapes lists every way n players split evenly into at least two teams
// of at least MinTeamSize, with no more than maxTeams teams. Shapes are
// ordered by increasing team count.
func ValidShapes(n, maxTeams int) []TeamShape {
	var shapes []TeamShape
	for count := 2; count <= maxTeams && count*MinTeamSize <= n; count++ {
		if n%count == 0 {
			shapes = append(shapes, TeamShape{Size: n / count, Count: count})
		}
	}
	return shapes
}

// ExclusionCount returns the fewest players that must sit out so the rest
// split into a valid shape, along with the shapes available after exclusion.
func ExclusionCount(n, maxTeams int) (int, []TeamShape, error) {
	if n < 2*MinTeamSize {
		return 0, nil, fmt.Errorf("%w: %d players", ErrInvalidPlayerCount, n)
	}
	for k := 0; n-k >= 2*MinTeamSize; k++ {
		if shapes := ValidShapes(n-k, maxTeams); len(shapes) > 0 {
			return k, shapes, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: %d players", ErrNoValidConfiguration, n)
}

// TeamCandidate is a roster member considered for team assignment.
type TeamCandidate struct {
	UserID   string
	Rating   float64
	JoinedAt time.Time
}

// TeamAssignment is the outcome of AssignTeams.
type TeamAssignment struct {
	Shape TeamShape

	// Teams maps a user to a team label in [0, Shape.Count).
	Teams map[string]int

	// Excluded are the late joiners left out to make the shape fit.
	Excluded []string

	// Colors holds one palette slot per team label, ascending.
	Colors []int
}

// Members returns the users on team label t, sorted by id.
func (a TeamAssignment) Members(t int) []string {
	var out []string
	for user, team := range a.Teams {
		if team == t {
			out = append(out, user)
		}
	}
	slices.Sort(out)
	return out
}

// AssignTeams splits players into balanced teams.
//
// The latest joiners are excluded until the remaining count has a valid shape;
// one shape is picked at random; players are snake-drafted by rating; team
// labels are shuffled so the top seed is not always team 0; colors are a random
// subset of the palette.
func AssignTeams(players []TeamCandidate, rng *rand.Rand) (TeamAssignment, error) {
	k, shapes, err := ExclusionCount(len(players), ColorSlots)
	if err != nil {
		return TeamAssignment{}, err
	}

	byJoin := slices.Clone(players)
	slices.SortStableFunc(byJoin, func(a, b TeamCandidate) int {
		if c := b.JoinedAt.Compare(a.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.UserID, a.UserID)
	})
	excluded := make([]string, 0, k)
	for _, p := range byJoin[:k] {
		excluded = append(excluded, p.UserID)
	}
	eligible := byJoin[k:]

	shape := shapes[rng.IntN(len(shapes))]

	slices.SortStableFunc(eligible, func(a, b TeamCandidate) int {
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	labels := make([]int, shape.Count)
	for i := range labels {
		labels[i] = i
	}
	rng.Shuffle(len(labels), func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })

	teams := make(map[string]int, len(eligible))
	for i, p := range eligible {
		teams[p.UserID] = labels[SnakeTeam(i, shape.Count)]
	}

	colors := rng.Perm(ColorSlots)[:shape.Count]
	slices.Sort(colors)

	return TeamAssignment{
		Shape:    shape,
		Teams:    teams,
		Excluded: excluded,
		Colors:   colors,
	}, nil
}

// SnakeTeam is the draft team for the pick at index i among t teams:
// 0,1,…,t-1,t-1,…,1,0,0,1,…
func SnakeTeam(i, t int) int {
	round, pos := i/t, i%t
	if round%2 == 0 {
		return pos
	}
	return t - 1 - pos
}

// TeamScore is one team's aggregate result.
type TeamScore struct {
	Team  int `json:"team"`
	Score int `json:"score"`
	Rank  int `json:"rank"`
}

// CalculateTeamScores sums member scores per team and ranks teams by score
// descending. Equal scores share a rank and the next distinct score resumes at
// the previous rank plus the size of the tie group.
func CalculateTeamScores(scores map[string]int, teams map[string]int) []TeamScore {
	totals := make(map[int]int)
	for user, team := range teams {
		totals[team] += scores[user]
	}

	out := make([]TeamScore, 0, len(totals))
	for team, score := range totals {
		out = append(out, TeamScore{Team: team, Score: score})
	}
	slices.SortFunc(out, func(a, b TeamScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Team, b.Team)
	})
	for i := range out {
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
			continue
		}
		out[i].Rank = i + 1
	}
	return out
}
