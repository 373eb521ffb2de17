package matchdomain

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// GeneratePasscode returns a zero-padded 4-digit lobby passcode. Codes are
// independent per call; two live matches may share one.
func GeneratePasscode(rng *rand.Rand) string {
	return fmt.Sprintf("%04d", rng.IntN(10000))
}

// RequiredVotes is the number of split votes that forces a passcode
// regeneration for a game with participants players.
func RequiredVotes(participants int) int {
	if participants <= 0 {
		return 1
	}
	return int(math.Ceil(float64(participants) / 3))
}
