package usecase

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
	"github.com/rocketscienceinc/rps-backend/internal/service"
	"github.com/rocketscienceinc/rps-backend/testing/fakestore"
)

func newTestArena(t *testing.T) (*Arena, *fakestore.Store, *clockwork.FakeClock) {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := fakestore.New()
	clock := clockwork.NewFakeClock()

	ratings := service.NewRatingService(logger, store.Profiles())
	matchmaker := service.NewMatchmaker(logger, clock, service.DefaultMatchmakerConfig(), store.Queue(), store, store)
	practice := service.NewPracticeService(logger, store.Practice(), rand.New(rand.NewSource(1)), service.DefaultExploration) //nolint: gosec // deterministic tests

	times := service.DefaultMatchTimings()
	times.ResultHold = 0
	times.RoundTimeout = time.Hour

	stores := service.MatchStores{Rooms: store, Players: store, Notifier: store, Rating: ratings}
	factory := func(roomID, userID string) *service.Match {
		return service.NewMatch(logger, clock, stores, times, roomID, userID)
	}

	arena := NewArena(logger, matchmaker, ratings, practice, factory)
	t.Cleanup(arena.Close)

	return arena, store, clock
}

func TestArena_Matchmaking(t *testing.T) {
	ctx := context.Background()

	t.Run("Two queued players end up in one match", func(t *testing.T) {
		// Given: alice and bob queue for a best-of-3
		arena, store, clock := newTestArena(t)

		_, err := arena.JoinQueue(ctx, "alice", 3)
		require.NoError(t, err)
		assert.Equal(t, StateSearching, arena.Status("alice").State)

		_, err = arena.JoinQueue(ctx, "bob", 3)
		require.NoError(t, err)

		// When: the searches poll
		require.Eventually(t, func() bool {
			clock.Advance(500 * time.Millisecond)
			return arena.Status("alice").State == StateMatched && arena.Status("bob").State == StateMatched
		}, 5*time.Second, time.Millisecond)

		// Then: both play in the same room
		alice, bob := arena.Status("alice").Match, arena.Status("bob").Match
		assert.Equal(t, alice.RoomID, bob.RoomID)
		assert.Equal(t, 1, store.RoomCount())

		require.Eventually(t, func() bool {
			return store.Subscribers() == 2 &&
				arena.Status("alice").Match.Phase == service.PhasePlaying &&
				arena.Status("bob").Match.Phase == service.PhasePlaying
		}, time.Second, time.Millisecond)

		// When: both move
		_, err = arena.SubmitMove(ctx, "alice", entity.Rock)
		require.NoError(t, err)
		_, err = arena.SubmitMove(ctx, "bob", entity.Scissors)
		require.NoError(t, err)

		// Then: notifications carry both into round 2
		assert.Eventually(t, func() bool {
			return arena.Status("alice").Match.Session.Round == 2 && arena.Status("bob").Match.Session.Round == 2
		}, time.Second, time.Millisecond)
		assert.Equal(t, 1, arena.Status("alice").Match.Session.SelfScore)

		// When: alice leaves
		require.NoError(t, arena.LeaveMatch(ctx, "alice"))

		// Then: she is idle and bob's session closes
		assert.Equal(t, StateIdle, arena.Status("alice").State)
		assert.Eventually(t, func() bool {
			return arena.Status("bob").Match.Phase == service.PhaseClosed
		}, time.Second, time.Millisecond)
	})

	t.Run("Queueing twice is rejected", func(t *testing.T) {
		arena, _, _ := newTestArena(t)

		_, err := arena.JoinQueue(ctx, "alice", 5)
		require.NoError(t, err)

		_, err = arena.JoinQueue(ctx, "alice", 5)
		assert.ErrorIs(t, err, apperror.ErrAlreadyQueued)
	})

	t.Run("Leaving the queue stops the search", func(t *testing.T) {
		arena, store, _ := newTestArena(t)

		_, err := arena.JoinQueue(ctx, "alice", 5)
		require.NoError(t, err)

		require.NoError(t, arena.LeaveQueue(ctx, "alice"))
		require.NoError(t, arena.LeaveQueue(ctx, "alice"))

		assert.Equal(t, StateIdle, arena.Status("alice").State)

		_, err = store.Queue().GetByUserID(ctx, "alice")
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("Timed out search is reported", func(t *testing.T) {
		arena, _, clock := newTestArena(t)

		_, err := arena.JoinQueue(ctx, "alice", 5)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			clock.Advance(10 * time.Second)
			return arena.Status("alice").State == StateFailed
		}, 5*time.Second, time.Millisecond)

		assert.Contains(t, arena.Status("alice").Error, apperror.ErrMatchmakingTimeout.Error())

		// Then: the player may queue again
		_, err = arena.JoinQueue(ctx, "alice", 5)
		require.NoError(t, err)
	})

	t.Run("Match actions need a match", func(t *testing.T) {
		arena, _, _ := newTestArena(t)

		_, err := arena.SubmitMove(ctx, "alice", entity.Rock)
		assert.ErrorIs(t, err, apperror.ErrNotFound)

		_, err = arena.CastVote(ctx, "alice", true)
		assert.ErrorIs(t, err, apperror.ErrNotFound)

		assert.ErrorIs(t, arena.LeaveMatch(ctx, "alice"), apperror.ErrNotFound)
	})
}

func TestArena_Practice(t *testing.T) {
	ctx := context.Background()
	arena, _, _ := newTestArena(t)

	game, err := arena.StartPractice("alice", 3)
	require.NoError(t, err)

	// When: the round timer expired on the host
	game, err = arena.PlayPractice(ctx, game.ID, entity.NoMove)

	// Then: a forced move was played
	require.NoError(t, err)
	require.Len(t, game.Results, 1)
	assert.True(t, game.Results[0].SelfMove.IsValid())
}

func TestArena_Profiles(t *testing.T) {
	ctx := context.Background()
	arena, _, _ := newTestArena(t)

	profile, err := arena.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, entity.DefaultRating, profile.Rating)

	top, err := arena.Leaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}
