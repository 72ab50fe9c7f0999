package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
	"github.com/rocketscienceinc/rps-backend/internal/rps"
)

type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhasePlaying   Phase = "playing"
	PhaseBuffering Phase = "buffering"
	PhaseResolved  Phase = "resolved"
	PhaseFinished  Phase = "finished"
	PhaseVoting    Phase = "voting"
	PhaseClosed    Phase = "closed"
)

const (
	CloseLeft         = "left"
	CloseDeclined     = "rematch declined"
	CloseVoteExpired  = "rematch vote expired"
	CloseOpponentLeft = "opponent left"
	CloseRoomDeleted  = "room deleted"
)

const (
	timerStoreTimeout  = 5 * time.Second
	maxStepTransitions = 16
)

type MatchTimings struct {
	RoundTimeout time.Duration
	Buffer       time.Duration
	ResultHold   time.Duration
	VoteWindow   time.Duration
	Poll         time.Duration
}

func DefaultMatchTimings() MatchTimings {
	return MatchTimings{
		RoundTimeout: 15 * time.Second,
		Buffer:       3 * time.Second,
		ResultHold:   3 * time.Second,
		VoteWindow:   10 * time.Second,
		Poll:         2 * time.Second,
	}
}

type roomRepo interface {
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	Update(ctx context.Context, id string, cond entity.RoomCondition, patch entity.RoomPatch) (int64, error)
	DeleteByID(ctx context.Context, id string) (int64, error)
}

type roomPlayerRepo interface {
	ListByRoom(ctx context.Context, roomID string) ([]*entity.RoomPlayer, error)
	SetMove(ctx context.Context, roomID, userID string, key entity.RoundKey, move entity.Move) (int64, error)
	SetVote(ctx context.Context, roomID, userID string, epoch int, vote entity.Vote) (int64, error)
	ClearMoves(ctx context.Context, roomID string, beforeEpoch int) error
	Delete(ctx context.Context, roomID, userID string) (int64, error)
}

type changeSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) (<-chan entity.Change, error)
}

type ratingUpdater interface {
	Rating(ctx context.Context, userID string) (int, error)
	Apply(ctx context.Context, selfID string, opponentRating int, result entity.Outcome) (*entity.Profile, error)
}

type MatchStores struct {
	Rooms    roomRepo
	Players  roomPlayerRepo
	Notifier changeSubscriber
	Rating   ratingUpdater
}

// MatchView is what the host renders for the local player.
type MatchView struct {
	RoomID       string          `json:"room_id"`
	UserID       string          `json:"user_id"`
	OpponentID   string          `json:"opponent_id,omitempty"`
	Phase        Phase           `json:"phase"`
	Room         entity.Room     `json:"room"`
	Session      rps.Session     `json:"session"`
	SelfVote     entity.Vote     `json:"self_vote,omitempty"`
	OpponentVote entity.Vote     `json:"opponent_vote,omitempty"`
	Rating       *entity.Profile `json:"rating,omitempty"`
	ClosedReason string          `json:"closed_reason,omitempty"`
}

// Match drives one room from the point of view of one player. The opponent's client runs
// its own Match against the same rows; the two agree only through the store. All entry
// points serialize on mu.
type Match struct {
	logger *slog.Logger
	clock  clockwork.Clock
	rnd    *rand.Rand
	times  MatchTimings

	rooms    roomRepo
	players  roomPlayerRepo
	notifier changeSubscriber
	rating   ratingUpdater

	roomID string
	userID string

	mu       sync.Mutex
	observed rps.Snapshot
	seenSelf bool
	seenPeer bool

	phase   Phase
	key     entity.RoundKey
	pending entity.Move
	expired bool

	resolved map[entity.RoundKey]rps.RoundResult
	rated    map[int]*entity.Profile
	peerRate map[int]int
	vote     entity.Vote

	timer  clockwork.Timer
	reason string
	done   chan struct{}
}

func NewMatch(logger *slog.Logger, clock clockwork.Clock, stores MatchStores, times MatchTimings, roomID, userID string) *Match {
	return &Match{
		logger:   logger.With("component", "match", "room_id", roomID, "user_id", userID),
		clock:    clock,
		rnd:      rand.New(rand.NewSource(clock.Now().UnixNano())), //nolint: gosec // move shuffling
		times:    times,
		rooms:    stores.Rooms,
		players:  stores.Players,
		notifier: stores.Notifier,
		rating:   stores.Rating,
		roomID:   roomID,
		userID:   userID,
		phase:    PhaseWaiting,
		resolved: make(map[entity.RoundKey]rps.RoundResult),
		rated:    make(map[int]*entity.Profile),
		peerRate: make(map[int]int),
		done:     make(chan struct{}),
	}
}

// Start - reads the room and performs every transition that is already due.
func (that *Match) Start(ctx context.Context) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.refresh(ctx); err != nil {
		return err
	}

	if !that.seenSelf {
		return fmt.Errorf("player %s in room %s %w", that.userID, that.roomID, apperror.ErrNotFound)
	}

	that.epochFromRoom()

	if that.observed.Room.IsFinished() {
		that.vote = that.observed.Self.VoteAt(that.key.Epoch)
		that.phase = PhaseVoting
		that.armTimer(that.times.VoteWindow, that.key, that.onVoteExpired)
	}

	that.step(ctx, true)

	return nil
}

// Run - follows store notifications and polls until the match closes or ctx is done.
func (that *Match) Run(ctx context.Context) error {
	log := that.logger.With("method", "Run")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes, err := that.notifier.Subscribe(ctx,
		entity.Channel(entity.TableRooms, that.roomID),
		entity.Channel(entity.TableRoomPlayers, that.roomID),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to room changes: %w", err)
	}

	ticker := that.clock.NewTicker(that.times.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-that.done:
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}

			log.Debug("change received", "table", change.Table, "kind", change.Kind)

			if err = that.Sync(ctx); err != nil {
				log.Error("failed to sync on change", "error", err)
			}
		case <-ticker.Chan():
			that.poll(ctx)
		}
	}
}

// Sync - re-reads the room after a change notification and performs any due transition.
// Safe to call any number of times.
func (that *Match) Sync(ctx context.Context) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase == PhaseClosed {
		return nil
	}

	if err := that.refresh(ctx); err != nil {
		return err
	}

	that.step(ctx, true)

	return nil
}

// poll - periodic re-read. Unlike a notification it may not cut the buffer window short.
func (that *Match) poll(ctx context.Context) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase == PhaseClosed {
		return
	}

	if err := that.refresh(ctx); err != nil {
		that.logger.Error("failed to poll room", "error", err)
		return
	}

	that.step(ctx, false)
}

// SubmitMove - records the local move for the current round.
func (that *Match) SubmitMove(ctx context.Context, move entity.Move) error {
	if !move.IsValid() {
		return fmt.Errorf("%w: %q", apperror.ErrInvalidMove, move)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	switch that.phase {
	case PhaseClosed:
		return apperror.ErrMatchClosed
	case PhasePlaying:
	case PhaseBuffering:
		return apperror.ErrMoveAlreadySubmitted
	default:
		return fmt.Errorf("%w: %s", apperror.ErrNotPlaying, that.phase)
	}

	if that.pending != entity.NoMove || that.observed.Self.MoveAt(that.key) != entity.NoMove {
		return apperror.ErrMoveAlreadySubmitted
	}

	if err := that.submit(ctx, move); err != nil {
		return err
	}

	that.step(ctx, false)

	return nil
}

// CastVote - the local rematch vote. Each player votes once per finished game.
func (that *Match) CastVote(ctx context.Context, accept bool) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase == PhaseClosed {
		return apperror.ErrMatchClosed
	}

	if that.phase != PhaseVoting {
		return fmt.Errorf("%w: %s", apperror.ErrVoteClosed, that.phase)
	}

	if that.vote != entity.NoVote {
		return apperror.ErrAlreadyVoted
	}

	vote := entity.VoteDecline
	if accept {
		vote = entity.VoteAccept
	}

	affected, err := that.players.SetVote(ctx, that.roomID, that.userID, that.key.Epoch, vote)
	if err == nil && affected == 0 {
		err = errors.New("own player row is missing")
	}

	if err != nil {
		return apperror.StoreWrite(fmt.Errorf("failed to cast vote: %w", err))
	}

	that.vote = vote
	that.observed.Self.Votes[that.key.Epoch] = vote
	that.logger.Info("rematch vote cast", "epoch", that.key.Epoch, "vote", vote)

	that.step(ctx, false)

	return nil
}

// Leave - drops the local player from the room and closes the match. The room row goes
// with the last player. Leaving never waits for the opponent.
func (that *Match) Leave(ctx context.Context) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase == PhaseClosed {
		return nil
	}

	err := that.leave(ctx)
	that.close(CloseLeft)

	return err
}

// Snapshot - current view for the host.
func (that *Match) Snapshot() MatchView {
	that.mu.Lock()
	defer that.mu.Unlock()

	view := MatchView{
		RoomID:       that.roomID,
		UserID:       that.userID,
		Phase:        that.phase,
		Room:         that.observed.Room,
		Session:      that.session(),
		SelfVote:     that.vote,
		OpponentVote: that.observed.Opponent.VoteAt(that.key.Epoch),
		Rating:       that.rated[that.key.Epoch],
		ClosedReason: that.reason,
	}

	if that.observed.Opponent != nil {
		view.OpponentID = that.observed.Opponent.UserID
	}

	return view
}

// Done - closed once the match session ends.
func (that *Match) Done() <-chan struct{} {
	return that.done
}

func (that *Match) session() rps.Session {
	snap := that.observed
	snap.Room.RematchCount = that.key.Epoch

	return rps.Reconcile(snap, that.key.Round, that.pending)
}

func (that *Match) refresh(ctx context.Context) error {
	room, err := that.rooms.GetByID(ctx, that.roomID)
	if errors.Is(err, apperror.ErrNotFound) {
		that.close(CloseRoomDeleted)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read room: %w", err)
	}

	players, err := that.players.ListByRoom(ctx, that.roomID)
	if err != nil {
		return fmt.Errorf("failed to read room players: %w", err)
	}

	snap := rps.Snapshot{Room: *room}
	for _, player := range players {
		if player.UserID == that.userID {
			snap.Self = player
			that.seenSelf = true
		} else {
			snap.Opponent = player
		}
	}

	if snap.Self == nil {
		snap.Self = entity.NewRoomPlayer(that.roomID, that.userID)
		if that.observed.Self != nil {
			snap.Self.Moves = that.observed.Self.Moves
			snap.Self.Votes = that.observed.Self.Votes
		}
	}

	if snap.Opponent != nil {
		that.seenPeer = true
	}

	that.observed = snap

	return nil
}

// epochFromRoom - aligns the local round with the room, which may be joined mid-way.
func (that *Match) epochFromRoom() {
	room := that.observed.Room
	that.key = entity.RoundKey{Epoch: room.RematchCount, Round: room.CurrentRound}
}

// step - performs due transitions until the phase settles. notified reports whether the
// caller reacts to fresh store state, which may end the buffer window early.
func (that *Match) step(ctx context.Context, notified bool) {
	for range maxStepTransitions {
		phase, key := that.phase, that.key

		that.transition(ctx, notified)

		if that.phase == phase && that.key == key {
			return
		}
	}
}

func (that *Match) transition(ctx context.Context, notified bool) {
	if that.phase == PhaseClosed {
		return
	}

	if that.seenPeer && that.observed.Opponent == nil {
		that.leaveAndClose(ctx, CloseOpponentLeft)
		return
	}

	switch that.phase {
	case PhaseWaiting:
		that.stepWaiting(ctx)
	case PhasePlaying:
		that.stepPlaying()
	case PhaseBuffering:
		that.stepBuffering(notified)
	case PhaseResolved:
		that.stepResolved(ctx)
	case PhaseFinished:
		that.stepFinished(ctx)
	case PhaseVoting:
		that.stepVoting(ctx)
	}
}

func (that *Match) stepWaiting(ctx context.Context) {
	log := that.logger.With("method", "stepWaiting")

	room := that.observed.Room
	if room.RematchCount != that.key.Epoch {
		return
	}

	switch {
	case room.IsPlaying():
		that.enterPlaying(ctx, room.CurrentRound)
	case room.IsWaiting() && that.observed.Opponent != nil:
		epoch := that.key.Epoch
		_, err := that.rooms.Update(ctx, that.roomID,
			entity.RoomCondition{Status: entity.StatusWaiting, RematchCount: &epoch},
			entity.RoomPatch{Status: ptr(entity.StatusPlaying)},
		)
		if err != nil {
			log.Error("failed to start room", "error", err)
			return
		}

		if err = that.players.ClearMoves(ctx, that.roomID, epoch); err != nil {
			log.Warn("failed to clear previous moves", "error", err)
		}

		that.observed.Room.Status = entity.StatusPlaying
		that.enterPlaying(ctx, room.CurrentRound)
	}
}

func (that *Match) enterPlaying(ctx context.Context, round int) {
	that.key = entity.RoundKey{Epoch: that.key.Epoch, Round: round}
	that.pending = entity.NoMove
	that.expired = false
	that.phase = PhasePlaying

	if _, ok := that.peerRate[that.key.Epoch]; !ok && that.rating != nil && that.observed.Opponent != nil {
		if rating, err := that.rating.Rating(ctx, that.observed.Opponent.UserID); err == nil {
			that.peerRate[that.key.Epoch] = rating
		}
	}

	that.armRoundTimer()
}

func (that *Match) stepPlaying() {
	if that.observed.Self.MoveAt(that.key) == entity.NoMove {
		return
	}

	that.phase = PhaseBuffering
	that.armTimer(that.times.Buffer, that.key, that.onBufferElapsed)
}

func (that *Match) stepBuffering(notified bool) {
	if !notified && !that.expired {
		return
	}

	session := that.session()
	if !session.RoundResolved() {
		return
	}

	if _, ok := that.resolved[that.key]; ok {
		return
	}

	result := session.Results[len(session.Results)-1]
	that.resolved[that.key] = result

	that.logger.Info("round resolved",
		"epoch", that.key.Epoch,
		"round", that.key.Round,
		"self_move", result.SelfMove,
		"opponent_move", result.OpponentMove,
		"outcome", result.Outcome,
		"self_score", session.SelfScore,
		"opponent_score", session.OpponentScore,
	)

	that.phase = PhaseResolved
	that.expired = that.times.ResultHold <= 0
	if !that.expired {
		that.armTimer(that.times.ResultHold, that.key, that.onHoldElapsed)
	}
}

func (that *Match) stepResolved(ctx context.Context) {
	log := that.logger.With("method", "stepResolved")

	if !that.expired {
		return
	}

	session := that.session()
	epoch := that.key.Epoch

	if session.Finished {
		_, err := that.rooms.Update(ctx, that.roomID,
			entity.RoomCondition{Status: entity.StatusPlaying, RematchCount: &epoch},
			entity.RoomPatch{Status: ptr(entity.StatusFinished)},
		)
		if err != nil {
			log.Error("failed to finish room", "error", err)
			return
		}

		that.logger.Info("match finished", "epoch", epoch, "result", session.Result)
		that.phase = PhaseFinished

		return
	}

	next := that.key.Round + 1
	_, err := that.rooms.Update(ctx, that.roomID,
		entity.RoomCondition{Status: entity.StatusPlaying, CurrentRound: that.key.Round, RematchCount: &epoch},
		entity.RoomPatch{CurrentRound: &next},
	)
	if err != nil {
		log.Error("failed to advance round", "round", next, "error", err)
		return
	}

	that.enterPlaying(ctx, next)
}

func (that *Match) stepFinished(ctx context.Context) {
	log := that.logger.With("method", "stepFinished")

	epoch := that.key.Epoch
	if _, ok := that.rated[epoch]; !ok && that.rating != nil {
		opponentRating, ok := that.peerRate[epoch]
		if !ok {
			var err error
			if opponentRating, err = that.rating.Rating(ctx, that.opponentID()); err != nil {
				log.Error("failed to read opponent rating", "error", err)
				return
			}
		}

		profile, err := that.rating.Apply(ctx, that.userID, opponentRating, that.session().Result)
		if err != nil {
			log.Error("failed to apply rating", "error", err)
			return
		}

		that.rated[epoch] = profile
	}

	that.vote = that.observed.Self.VoteAt(epoch)
	that.phase = PhaseVoting
	that.armTimer(that.times.VoteWindow, that.key, that.onVoteExpired)
}

func (that *Match) stepVoting(ctx context.Context) {
	log := that.logger.With("method", "stepVoting")

	epoch := that.key.Epoch
	selfVote, opponentVote := that.vote, that.observed.Opponent.VoteAt(epoch)

	if selfVote == entity.VoteDecline || opponentVote == entity.VoteDecline {
		that.leaveAndClose(ctx, CloseDeclined)
		return
	}

	if selfVote != entity.VoteAccept || opponentVote != entity.VoteAccept {
		return
	}

	next := epoch + 1
	_, err := that.rooms.Update(ctx, that.roomID,
		entity.RoomCondition{Status: entity.StatusFinished, RematchCount: &epoch},
		entity.RoomPatch{CurrentRound: ptr(1), Status: ptr(entity.StatusWaiting), RematchCount: &next},
	)
	if err != nil {
		log.Error("failed to reset room for rematch", "error", err)
		return
	}

	that.logger.Info("rematch accepted", "epoch", next)

	if that.observed.Room.RematchCount == epoch {
		that.observed.Room.CurrentRound = 1
		that.observed.Room.Status = entity.StatusWaiting
		that.observed.Room.RematchCount = next
	}

	that.stopTimer()
	that.key = entity.RoundKey{Epoch: next, Round: 1}
	that.vote = entity.NoVote
	that.pending = entity.NoMove
	that.phase = PhaseWaiting
}

// submit - writes move to the own row. On failure the local state is rolled back.
func (that *Match) submit(ctx context.Context, move entity.Move) error {
	that.pending = move
	that.phase = PhaseBuffering

	affected, err := that.players.SetMove(ctx, that.roomID, that.userID, that.key, move)
	if err == nil && affected == 0 {
		err = errors.New("own player row is missing")
	}

	if err != nil {
		that.pending = entity.NoMove
		that.phase = PhasePlaying

		return apperror.StoreWrite(fmt.Errorf("failed to submit move: %w", err))
	}

	that.observed.Self.Moves[that.key] = move
	that.logger.Debug("move submitted", "epoch", that.key.Epoch, "round", that.key.Round)

	that.expired = false
	that.armTimer(that.times.Buffer, that.key, that.onBufferElapsed)

	return nil
}

func (that *Match) armRoundTimer() {
	auto := shuffledMoves(that.rnd)[0]
	that.armTimer(that.times.RoundTimeout, that.key, func(ctx context.Context) {
		that.onRoundTimeout(ctx, auto)
	})
}

func (that *Match) onRoundTimeout(ctx context.Context, auto entity.Move) {
	if that.phase != PhasePlaying {
		return
	}

	that.logger.Info("round timed out, playing automatic move", "round", that.key.Round)

	if err := that.submit(ctx, auto); err != nil {
		that.logger.Error("failed to submit automatic move", "error", err)
		that.armRoundTimer()

		return
	}

	that.step(ctx, false)
}

func (that *Match) onBufferElapsed(ctx context.Context) {
	if that.phase != PhaseBuffering {
		return
	}

	that.expired = true
	if err := that.refresh(ctx); err != nil {
		that.logger.Error("failed to read room after buffer", "error", err)
		return
	}

	that.step(ctx, false)
}

func (that *Match) onHoldElapsed(ctx context.Context) {
	if that.phase != PhaseResolved {
		return
	}

	that.expired = true
	that.step(ctx, false)
}

func (that *Match) onVoteExpired(ctx context.Context) {
	if that.phase != PhaseVoting {
		return
	}

	if err := that.refresh(ctx); err != nil {
		that.logger.Error("failed to read votes at expiry", "error", err)
	}

	that.step(ctx, true)

	if that.phase == PhaseVoting {
		that.leaveAndClose(ctx, CloseVoteExpired)
	}
}

// armTimer - replaces the pending timer. The callback runs under mu and only while the
// match is still on key.
func (that *Match) armTimer(after time.Duration, key entity.RoundKey, fire func(ctx context.Context)) {
	that.stopTimer()

	that.timer = that.clock.AfterFunc(after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timerStoreTimeout)
		defer cancel()

		that.mu.Lock()
		defer that.mu.Unlock()

		if that.phase == PhaseClosed || that.key != key {
			return
		}

		fire(ctx)
	})
}

func (that *Match) stopTimer() {
	if that.timer != nil {
		that.timer.Stop()
		that.timer = nil
	}
}

func (that *Match) opponentID() string {
	if that.observed.Opponent == nil {
		return ""
	}

	return that.observed.Opponent.UserID
}

// leave - deletes the own row, and the room once nobody is left in it.
func (that *Match) leave(ctx context.Context) error {
	if _, err := that.players.Delete(ctx, that.roomID, that.userID); err != nil {
		return apperror.StoreWrite(fmt.Errorf("failed to leave room: %w", err))
	}

	remaining, err := that.players.ListByRoom(ctx, that.roomID)
	if err != nil {
		return fmt.Errorf("failed to list remaining players: %w", err)
	}

	if len(remaining) > 0 {
		return nil
	}

	if _, err = that.rooms.DeleteByID(ctx, that.roomID); err != nil {
		return apperror.StoreWrite(fmt.Errorf("failed to delete room: %w", err))
	}

	return nil
}

func (that *Match) leaveAndClose(ctx context.Context, reason string) {
	if err := that.leave(ctx); err != nil {
		that.logger.Error("failed to leave room", "reason", reason, "error", err)
	}

	that.close(reason)
}

func (that *Match) close(reason string) {
	if that.phase == PhaseClosed {
		return
	}

	that.stopTimer()
	that.phase = PhaseClosed
	that.reason = reason
	close(that.done)

	that.logger.Info("match closed", "reason", reason)
}

func ptr[T any](value T) *T {
	return &value
}
