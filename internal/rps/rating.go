package rps

import (
	"math"
)

const KFactor = 32

// Expected - Elo expectation of self scoring against opponent.
func Expected(selfRating, opponentRating int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponentRating-selfRating)/400))
}

// UpdateRating - new rating of self after a finished match. Anything but a win, a drawn
// match included, scores 0. Halves round up, as the clients always did.
func UpdateRating(selfRating, opponentRating int, didWin bool) int {
	actual := 0.0
	if didWin {
		actual = 1
	}

	next := float64(selfRating) + KFactor*(actual-Expected(selfRating, opponentRating))

	return int(math.Floor(next + 0.5))
}
