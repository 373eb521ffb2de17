package ratingdomain

const (
	// InitialRating is the internal rating assigned on a player's first game of a season.
	InitialRating = 2750.0

	// KFactor and KMultiplier scale the expectation gap into rating points.
	KFactor     = 50.0
	KMultiplier = 2.0

	// EloDivisor is the rating gap at which the expected score is 10:1.
	EloDivisor = 1000.0

	// MaxDelta caps the absolute rating change of a single game.
	MaxDelta = 200.0

	// ProvisionalGames is the games-played threshold below which a player is
	// compared against the whole field.
	ProvisionalGames = 5

	// ProximityWindow is the number of rating-adjacent opponents on each side
	// used once a player is established.
	ProximityWindow = 3

	// ConvergenceThreshold is the convergence points at which display rating
	// equals internal rating.
	ConvergenceThreshold = 15.0
)

// Mode selects between individual and team rating.
type Mode int

const (
	ModeIndividual Mode = iota
	ModeTeam
)

func (m Mode) String() string {
	if m == ModeTeam {
		return "team"
	}
	return "individual"
}

// Participant is one player's input to a rating calculation.
type Participant struct {
	UserID            string
	InternalRating    float64
	DisplayRating     int
	SeasonHigh        int
	ConvergencePoints float64
	GamesPlayed       int

	// Position is the 1-based finishing position; tied players share it.
	Position int

	// TeamIndex is set in team mode; teammates are never compared.
	TeamIndex *int
}

// Result is one player's output of a rating calculation.
type Result struct {
	UserID               string
	Position             int
	ComparisonMode       ComparisonMode
	Opponents            int
	ExpectedScore        float64
	ActualScore          float64
	RawDelta             float64
	Delta                float64
	OldInternalRating    float64
	NewInternalRating    float64
	OldDisplayRating     int
	NewDisplayRating     int
	NewSeasonHigh        int
	OldConvergencePoints float64
	NewConvergencePoints float64
	NewGamesPlayed       int
}

// ComparisonMode records which opponent set a participant was rated against.
type ComparisonMode string

const (
	ComparisonAll       ComparisonMode = "all"
	ComparisonProximity ComparisonMode = "proximity"
)
