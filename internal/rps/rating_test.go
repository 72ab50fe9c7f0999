package rps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateRating(t *testing.T) {
	t.Run("Equal ratings win", func(t *testing.T) {
		// Given: two players rated 1200
		// When: self wins
		rating := UpdateRating(1200, 1200, true)

		// Then: expected is 0.5 and self gains K/2
		assert.InDelta(t, 0.5, Expected(1200, 1200), 1e-9)
		assert.Equal(t, 1216, rating)
	})

	t.Run("Equal ratings loss", func(t *testing.T) {
		assert.Equal(t, 1184, UpdateRating(1200, 1200, false))
	})

	t.Run("Upset win pays more than expected win", func(t *testing.T) {
		// Given: the same self rating against a much stronger and a much weaker opponent
		upset := UpdateRating(1200, 1600, true) - 1200
		expected := UpdateRating(1200, 800, true) - 1200

		// Then: beating the stronger opponent yields the larger delta
		assert.Greater(t, upset, expected)
		assert.Positive(t, expected)
	})

	t.Run("Not winning scores zero", func(t *testing.T) {
		// Given: a drawn match between equals is not a win
		// Then: it costs the same as a loss
		assert.Equal(t, 1184, UpdateRating(1200, 1200, false))
		assert.Equal(t, 1376, UpdateRating(1400, 1200, false))
	})
}
