package service

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
	"github.com/rocketscienceinc/rps-backend/testing/fakestore"
)

const testRoomID = "room-1"

// duel is two clients of one room sharing a store.
type duel struct {
	store *fakestore.Store
	clock *clockwork.FakeClock
	alice *Match
	bob   *Match
}

func instantTimings() MatchTimings {
	times := DefaultMatchTimings()
	times.ResultHold = 0

	return times
}

func newDuel(t *testing.T, rounds int, times MatchTimings) *duel {
	t.Helper()

	ctx := context.Background()
	store := fakestore.New()
	clock := clockwork.NewFakeClock()

	require.NoError(t, store.Create(ctx, entity.NewRoom(testRoomID, rounds)))
	require.NoError(t, store.Insert(ctx,
		entity.NewRoomPlayer(testRoomID, "alice"),
		entity.NewRoomPlayer(testRoomID, "bob"),
	))

	stores := MatchStores{
		Rooms:    store,
		Players:  store,
		Notifier: store,
		Rating:   NewRatingService(discardLogger(), store.Profiles()),
	}

	d := &duel{
		store: store,
		clock: clock,
		alice: NewMatch(discardLogger(), clock, stores, times, testRoomID, "alice"),
		bob:   NewMatch(discardLogger(), clock, stores, times, testRoomID, "bob"),
	}

	require.NoError(t, d.alice.Start(ctx))
	require.NoError(t, d.bob.Start(ctx))

	return d
}

// playRound - both submit, then both observe the change.
func (that *duel) playRound(t *testing.T, aliceMove, bobMove entity.Move) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, that.alice.SubmitMove(ctx, aliceMove))
	require.NoError(t, that.bob.SubmitMove(ctx, bobMove))
	require.NoError(t, that.alice.Sync(ctx))
	require.NoError(t, that.bob.Sync(ctx))
}

func (that *duel) room(t *testing.T) *entity.Room {
	t.Helper()

	room, err := that.store.GetByID(context.Background(), testRoomID)
	require.NoError(t, err)

	return room
}

func resolvedCount(match *Match) int {
	match.mu.Lock()
	defer match.mu.Unlock()

	return len(match.resolved)
}

func TestMatch_Start(t *testing.T) {
	t.Run("Starts the room once both players are in", func(t *testing.T) {
		// When: both clients start
		d := newDuel(t, 5, instantTimings())

		// Then: the room plays round one and both wait for moves
		room := d.room(t)
		assert.True(t, room.IsPlaying())
		assert.Equal(t, 1, room.CurrentRound)

		for _, match := range []*Match{d.alice, d.bob} {
			view := match.Snapshot()
			assert.Equal(t, PhasePlaying, view.Phase)
			assert.Equal(t, 1, view.Session.Round)
			assert.Zero(t, view.Session.Epoch)
		}

		assert.Equal(t, "bob", d.alice.Snapshot().OpponentID)
	})

	t.Run("Fails for a player outside the room", func(t *testing.T) {
		d := newDuel(t, 3, instantTimings())

		stranger := NewMatch(discardLogger(), d.clock, MatchStores{Rooms: d.store, Players: d.store, Notifier: d.store}, instantTimings(), testRoomID, "mallory")

		assert.ErrorIs(t, stranger.Start(context.Background()), apperror.ErrNotFound)
	})
}

func TestMatch_BestOfFive(t *testing.T) {
	// Given: a best-of-5 room
	d := newDuel(t, 5, instantTimings())

	// When: round 1 is rock against scissors
	d.playRound(t, entity.Rock, entity.Scissors)

	// Then: alice leads 1-0 on round 2
	view := d.alice.Snapshot()
	assert.Equal(t, 2, view.Session.Round)
	assert.Equal(t, 1, view.Session.SelfScore)
	assert.Zero(t, view.Session.OpponentScore)
	assert.Equal(t, 1, d.bob.Snapshot().Session.OpponentScore)
	assert.Equal(t, 2, d.room(t).CurrentRound)

	// When: round 2 is a tie
	d.playRound(t, entity.Paper, entity.Paper)

	// Then: the score holds and the round still advances
	view = d.alice.Snapshot()
	assert.Equal(t, 3, view.Session.Round)
	assert.Equal(t, 1, view.Session.SelfScore)
	assert.Equal(t, entity.OutcomeTie, view.Session.Results[1].Outcome)

	// When: alice reaches two wins
	d.playRound(t, entity.Scissors, entity.Paper)

	// Then: two wins are not enough in a best-of-5
	assert.True(t, d.room(t).IsPlaying())
	assert.Equal(t, 4, d.room(t).CurrentRound)

	// When: alice wins again
	d.playRound(t, entity.Paper, entity.Rock)

	// Then: the room finishes at exactly three wins and voting opens
	room := d.room(t)
	assert.True(t, room.IsFinished())
	assert.Equal(t, 4, room.CurrentRound)

	aliceView, bobView := d.alice.Snapshot(), d.bob.Snapshot()
	assert.Equal(t, PhaseVoting, aliceView.Phase)
	assert.Equal(t, PhaseVoting, bobView.Phase)
	assert.True(t, aliceView.Session.Finished)
	assert.Equal(t, 3, aliceView.Session.SelfScore)
	assert.Equal(t, entity.OutcomeWin, aliceView.Session.Result)
	assert.Equal(t, entity.OutcomeLose, bobView.Session.Result)

	// And: each client rated only itself
	require.NotNil(t, aliceView.Rating)
	require.NotNil(t, bobView.Rating)
	assert.Equal(t, 1216, aliceView.Rating.Rating)
	assert.Equal(t, 1184, bobView.Rating.Rating)
}

func TestMatch_DrawnMatchRatesBothAsNotWinning(t *testing.T) {
	// Given: a best-of-3 room
	d := newDuel(t, 3, instantTimings())

	// When: every round is a tie
	for range 3 {
		d.playRound(t, entity.Rock, entity.Rock)
	}

	// Then: the match ends drawn once rounds run out
	aliceView, bobView := d.alice.Snapshot(), d.bob.Snapshot()
	assert.Equal(t, PhaseVoting, aliceView.Phase)
	assert.Equal(t, entity.OutcomeTie, aliceView.Session.Result)

	// And: neither side won, so both lose rating as for a loss
	require.NotNil(t, aliceView.Rating)
	require.NotNil(t, bobView.Rating)
	assert.Equal(t, 1184, aliceView.Rating.Rating)
	assert.Equal(t, 1184, bobView.Rating.Rating)
	assert.Zero(t, aliceView.Rating.Wins)
	assert.Zero(t, aliceView.Rating.Losses)
}

func TestMatch_ResolvesOncePerRound(t *testing.T) {
	ctx := context.Background()

	// Given: a result hold so the round stays resolved for a while
	d := newDuel(t, 5, DefaultMatchTimings())

	require.NoError(t, d.alice.SubmitMove(ctx, entity.Rock))
	require.NoError(t, d.bob.SubmitMove(ctx, entity.Paper))

	// When: many notifications arrive for the same round
	for range 5 {
		require.NoError(t, d.alice.Sync(ctx))
	}

	// Then: the round is resolved once and not advanced before the hold ends
	assert.Equal(t, PhaseResolved, d.alice.Snapshot().Phase)
	assert.Equal(t, 1, resolvedCount(d.alice))
	assert.Equal(t, 1, d.room(t).CurrentRound)

	// When: the hold passes
	d.clock.Advance(DefaultMatchTimings().ResultHold)

	// Then: alice moves on to round 2 exactly once
	assert.Eventually(t, func() bool {
		return d.alice.Snapshot().Session.Round == 2
	}, time.Second, time.Millisecond)

	for range 3 {
		require.NoError(t, d.alice.Sync(ctx))
	}

	assert.Equal(t, 2, d.room(t).CurrentRound)
	assert.Equal(t, 1, resolvedCount(d.alice))
}

func TestMatch_LaggingClient(t *testing.T) {
	ctx := context.Background()

	// Given: bob resolved round 1, advanced the room and already moved in round 2
	d := newDuel(t, 5, instantTimings())

	require.NoError(t, d.alice.SubmitMove(ctx, entity.Rock))
	require.NoError(t, d.bob.SubmitMove(ctx, entity.Scissors))
	require.NoError(t, d.bob.Sync(ctx))
	require.NoError(t, d.bob.SubmitMove(ctx, entity.Paper))
	assert.Equal(t, 2, d.room(t).CurrentRound)

	// When: alice finally observes the store
	require.NoError(t, d.alice.Sync(ctx))

	// Then: she still resolves round 1 from the recorded moves
	view := d.alice.Snapshot()
	assert.Equal(t, PhasePlaying, view.Phase)
	assert.Equal(t, 2, view.Session.Round)
	assert.Equal(t, 1, view.Session.SelfScore)

	// When: she answers bob's waiting round 2 move
	require.NoError(t, d.alice.SubmitMove(ctx, entity.Scissors))
	require.NoError(t, d.alice.Sync(ctx))

	// Then: round 2 resolves against bob's paper and the room advances once
	view = d.alice.Snapshot()
	assert.Equal(t, 2, view.Session.SelfScore)
	assert.Equal(t, 3, d.room(t).CurrentRound)
}

func TestMatch_SubmitMove(t *testing.T) {
	ctx := context.Background()

	t.Run("Guards", func(t *testing.T) {
		d := newDuel(t, 3, instantTimings())

		assert.ErrorIs(t, d.alice.SubmitMove(ctx, entity.Move("lizard")), apperror.ErrInvalidMove)

		require.NoError(t, d.alice.SubmitMove(ctx, entity.Rock))
		assert.ErrorIs(t, d.alice.SubmitMove(ctx, entity.Paper), apperror.ErrMoveAlreadySubmitted)
		assert.ErrorIs(t, d.alice.CastVote(ctx, true), apperror.ErrVoteClosed)
	})

	t.Run("Store failure reverts to playing", func(t *testing.T) {
		// Given: a store that rejects writes
		d := newDuel(t, 3, instantTimings())
		d.store.SetFailWrites(true)

		// When: alice submits
		err := d.alice.SubmitMove(ctx, entity.Rock)

		// Then: nothing is recorded and she may submit again
		assert.ErrorIs(t, err, apperror.ErrStoreWrite)

		view := d.alice.Snapshot()
		assert.Equal(t, PhasePlaying, view.Phase)
		assert.Equal(t, entity.NoMove, view.Session.SelfMove)

		d.store.SetFailWrites(false)
		require.NoError(t, d.alice.SubmitMove(ctx, entity.Rock))
		assert.Equal(t, PhaseBuffering, d.alice.Snapshot().Phase)
	})

	t.Run("Store failure while advancing is retried", func(t *testing.T) {
		d := newDuel(t, 3, instantTimings())

		require.NoError(t, d.alice.SubmitMove(ctx, entity.Rock))
		require.NoError(t, d.bob.SubmitMove(ctx, entity.Paper))

		// When: the advance write fails
		d.store.SetFailWrites(true)
		require.NoError(t, d.alice.Sync(ctx))

		// Then: alice keeps the resolved round
		assert.Equal(t, PhaseResolved, d.alice.Snapshot().Phase)
		assert.Equal(t, 1, d.room(t).CurrentRound)

		// When: the next notification arrives with the store back
		d.store.SetFailWrites(false)
		require.NoError(t, d.alice.Sync(ctx))

		// Then: the round advances
		assert.Equal(t, 2, d.room(t).CurrentRound)
		assert.Equal(t, PhasePlaying, d.alice.Snapshot().Phase)
	})
}

func TestMatch_Timers(t *testing.T) {
	t.Run("Round timeout plays an automatic move", func(t *testing.T) {
		// Given: nobody moves
		d := newDuel(t, 5, instantTimings())

		// When: time passes
		assert.Eventually(t, func() bool {
			d.clock.Advance(time.Second)
			return d.alice.Snapshot().Session.Round == 2
		}, 5*time.Second, time.Millisecond)

		// Then: round 1 was played with valid forced moves
		result := d.alice.Snapshot().Session.Results[0]
		assert.True(t, result.SelfMove.IsValid())
		assert.True(t, result.OpponentMove.IsValid())
	})

	t.Run("Buffer window resolves without notifications", func(t *testing.T) {
		ctx := context.Background()

		d := newDuel(t, 5, instantTimings())
		require.NoError(t, d.alice.SubmitMove(ctx, entity.Rock))
		require.NoError(t, d.bob.SubmitMove(ctx, entity.Scissors))

		// When: only polls happen
		d.alice.poll(ctx)

		// Then: alice waits for the buffer
		assert.Equal(t, PhaseBuffering, d.alice.Snapshot().Phase)

		// When: the buffer passes
		assert.Eventually(t, func() bool {
			d.clock.Advance(500 * time.Millisecond)
			return d.alice.Snapshot().Session.Round == 2
		}, 5*time.Second, time.Millisecond)

		assert.Equal(t, 1, d.alice.Snapshot().Session.SelfScore)
	})
}

// finishBestOfThree - alice wins two straight rounds.
func finishBestOfThree(t *testing.T) *duel {
	t.Helper()

	d := newDuel(t, 3, instantTimings())
	d.playRound(t, entity.Rock, entity.Scissors)
	d.playRound(t, entity.Rock, entity.Scissors)

	require.Equal(t, PhaseVoting, d.alice.Snapshot().Phase)
	require.Equal(t, PhaseVoting, d.bob.Snapshot().Phase)

	return d
}

func TestMatch_Rematch(t *testing.T) {
	ctx := context.Background()

	t.Run("Mutual accept resets the room", func(t *testing.T) {
		d := finishBestOfThree(t)

		// When: both accept
		require.NoError(t, d.alice.CastVote(ctx, true))
		assert.ErrorIs(t, d.alice.CastVote(ctx, true), apperror.ErrAlreadyVoted)
		require.NoError(t, d.bob.CastVote(ctx, true))
		require.NoError(t, d.alice.Sync(ctx))
		require.NoError(t, d.bob.Sync(ctx))

		// Then: a new game runs in the same room
		room := d.room(t)
		assert.Equal(t, 1, room.RematchCount)
		assert.Equal(t, 1, room.CurrentRound)
		assert.True(t, room.IsPlaying())

		for _, match := range []*Match{d.alice, d.bob} {
			view := match.Snapshot()
			assert.Equal(t, PhasePlaying, view.Phase)
			assert.Equal(t, 1, view.Session.Epoch)
			assert.Zero(t, view.Session.SelfScore)
			assert.Zero(t, view.Session.OpponentScore)
		}

		// And: the new game plays normally
		d.playRound(t, entity.Paper, entity.Scissors)
		assert.Equal(t, 1, d.bob.Snapshot().Session.SelfScore)
	})

	t.Run("Decline ends both sessions", func(t *testing.T) {
		d := finishBestOfThree(t)

		require.NoError(t, d.alice.CastVote(ctx, false))
		require.NoError(t, d.bob.Sync(ctx))

		for _, match := range []*Match{d.alice, d.bob} {
			assert.Equal(t, PhaseClosed, match.Snapshot().Phase)

			select {
			case <-match.Done():
			default:
				t.Fatal("match session should be done")
			}
		}

		assert.Equal(t, CloseDeclined, d.alice.Snapshot().ClosedReason)
		assert.Zero(t, d.store.RoomCount())
	})

	t.Run("Vote window expiry ends the session", func(t *testing.T) {
		d := finishBestOfThree(t)
		require.NoError(t, d.alice.CastVote(ctx, true))

		assert.Eventually(t, func() bool {
			d.clock.Advance(time.Second)
			return d.alice.Snapshot().Phase == PhaseClosed && d.bob.Snapshot().Phase == PhaseClosed
		}, 5*time.Second, time.Millisecond)

		assert.Zero(t, d.store.RoomCount())
	})
}

func TestMatch_Leave(t *testing.T) {
	ctx := context.Background()

	// Given: a match in progress
	d := newDuel(t, 5, instantTimings())

	// When: alice leaves
	require.NoError(t, d.alice.Leave(ctx))
	require.NoError(t, d.alice.Leave(ctx))

	// Then: she is closed and bob follows on his next sync
	assert.ErrorIs(t, d.alice.SubmitMove(ctx, entity.Rock), apperror.ErrMatchClosed)

	require.NoError(t, d.bob.Sync(ctx))
	view := d.bob.Snapshot()
	assert.Equal(t, PhaseClosed, view.Phase)
	assert.Equal(t, CloseOpponentLeft, view.ClosedReason)
	assert.Zero(t, d.store.RoomCount())
}

func TestMatch_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Given: both clients following store notifications
	d := newDuel(t, 5, instantTimings())

	errs := make(chan error, 2)
	for _, match := range []*Match{d.alice, d.bob} {
		go func() {
			errs <- match.Run(ctx)
		}()
	}

	require.Eventually(t, func() bool {
		return d.store.Subscribers() == 2
	}, time.Second, time.Millisecond)

	// When: both submit without syncing by hand
	require.NoError(t, d.alice.SubmitMove(ctx, entity.Rock))
	require.NoError(t, d.bob.SubmitMove(ctx, entity.Paper))

	// Then: notifications drive both into round 2
	assert.Eventually(t, func() bool {
		return d.alice.Snapshot().Session.Round == 2 && d.bob.Snapshot().Session.Round == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, d.bob.Snapshot().Session.SelfScore)

	// When: alice leaves
	require.NoError(t, d.alice.Leave(ctx))

	// Then: both loops stop
	for range 2 {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("match loop did not stop")
		}
	}

	// Then: their subscriptions end with them while ctx stays alive
	assert.Eventually(t, func() bool {
		return d.store.Subscribers() == 0
	}, time.Second, time.Millisecond)
}
