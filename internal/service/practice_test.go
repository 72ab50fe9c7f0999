package service

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
	"github.com/rocketscienceinc/rps-backend/testing/fakestore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newPracticeService(store *fakestore.Store) *PracticeService {
	return NewPracticeService(discardLogger(), store.Practice(), rand.New(rand.NewSource(42)), DefaultExploration) //nolint: gosec // deterministic tests
}

func TestPracticeService_Play(t *testing.T) {
	ctx := context.Background()

	t.Run("Plays a full game and records the result", func(t *testing.T) {
		// Given: a best-of-3 practice game
		store := fakestore.New()
		practice := newPracticeService(store)

		game, err := practice.Start("alice", 3)
		require.NoError(t, err)
		assert.Equal(t, 1, game.Round)

		// When: the human keeps playing rock until the game ends
		for !game.Finished {
			game, err = practice.Play(ctx, game.ID, entity.Rock)
			require.NoError(t, err)
			require.LessOrEqual(t, len(game.Results), 3)
		}

		// Then: the result follows the score and is stored
		assert.LessOrEqual(t, game.SelfScore+game.OpponentScore, len(game.Results))
		switch {
		case game.SelfScore > game.OpponentScore:
			assert.Equal(t, entity.OutcomeWin, game.Result)
		case game.SelfScore < game.OpponentScore:
			assert.Equal(t, entity.OutcomeLose, game.Result)
		default:
			assert.Equal(t, entity.OutcomeTie, game.Result)
		}

		require.NotNil(t, game.Stats)
		assert.Equal(t, 1, game.Stats.Wins+game.Stats.Losses+boolToInt(game.Result == entity.OutcomeTie))

		// And: further moves are rejected
		_, err = practice.Play(ctx, game.ID, entity.Paper)
		assert.ErrorIs(t, err, apperror.ErrGameFinished)
	})

	t.Run("Ends as soon as one side passes half the rounds", func(t *testing.T) {
		store := fakestore.New()
		practice := newPracticeService(store)

		game, err := practice.Start("bob", 9)
		require.NoError(t, err)

		for !game.Finished {
			game, err = practice.Play(ctx, game.ID, entity.Scissors)
			require.NoError(t, err)
		}

		// Then: either someone reached 5 wins or all 9 rounds were played
		assert.True(t, game.SelfScore == 5 || game.OpponentScore == 5 || len(game.Results) == 9)
		assert.LessOrEqual(t, game.SelfScore, 5)
		assert.LessOrEqual(t, game.OpponentScore, 5)
	})

	t.Run("Rejects invalid input", func(t *testing.T) {
		practice := newPracticeService(fakestore.New())

		_, err := practice.Start("carol", 4)
		assert.ErrorIs(t, err, apperror.ErrInvalidRounds)

		game, err := practice.Start("carol", 5)
		require.NoError(t, err)

		_, err = practice.Play(ctx, game.ID, entity.Move("lizard"))
		assert.ErrorIs(t, err, apperror.ErrInvalidMove)

		_, err = practice.Play(ctx, "unknown", entity.Rock)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("A new game replaces the previous one", func(t *testing.T) {
		practice := newPracticeService(fakestore.New())

		first, err := practice.Start("dave", 3)
		require.NoError(t, err)

		_, err = practice.Start("dave", 3)
		require.NoError(t, err)

		_, err = practice.Play(ctx, first.ID, entity.Rock)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("Store failure is reported after the game finished", func(t *testing.T) {
		store := fakestore.New()
		practice := newPracticeService(store)

		game, err := practice.Start("erin", 3)
		require.NoError(t, err)

		store.SetFailWrites(true)

		for err == nil && !game.Finished {
			game, err = practice.Play(ctx, game.ID, entity.Paper)
		}

		assert.ErrorIs(t, err, apperror.ErrStoreWrite)
		assert.True(t, game.Finished)
	})
}

func TestPracticeService_AutoMove(t *testing.T) {
	practice := newPracticeService(fakestore.New())

	seen := make(map[entity.Move]bool)
	for range 100 {
		move := practice.AutoMove()
		require.True(t, move.IsValid())
		seen[move] = true
	}

	// Then: the forced move is not always the same
	assert.Len(t, seen, len(entity.Moves))
}

func boolToInt(value bool) int {
	if value {
		return 1
	}

	return 0
}
