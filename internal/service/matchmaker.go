package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

const (
	MinTolerance         = 100
	TolerancePerSecond   = 10
	DefaultPollInterval  = 2 * time.Second
	DefaultSearchTimeout = 5 * time.Minute
	DefaultClaimTTL      = 10 * time.Second
)

type queueRepo interface {
	Insert(ctx context.Context, entry *entity.QueueEntry) error
	GetByUserID(ctx context.Context, userID string) (*entity.QueueEntry, error)
	List(ctx context.Context) ([]*entity.QueueEntry, error)
	Claim(ctx context.Context, userID, claimer string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID, claimer string) error
	Delete(ctx context.Context, userIDs ...string) (int64, error)
}

type matchRoomRepo interface {
	Create(ctx context.Context, room *entity.Room) error
	GetByID(ctx context.Context, id string) (*entity.Room, error)
}

type matchPlayerRepo interface {
	Insert(ctx context.Context, players ...*entity.RoomPlayer) error
	ListByRoom(ctx context.Context, roomID string) ([]*entity.RoomPlayer, error)
	FindRoomID(ctx context.Context, userID string) (string, error)
}

type MatchmakerConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	ClaimTTL     time.Duration
}

func DefaultMatchmakerConfig() MatchmakerConfig {
	return MatchmakerConfig{
		PollInterval: DefaultPollInterval,
		Timeout:      DefaultSearchTimeout,
		ClaimTTL:     DefaultClaimTTL,
	}
}

type Matchmaker struct {
	logger *slog.Logger
	clock  clockwork.Clock
	conf   MatchmakerConfig

	queue   queueRepo
	rooms   matchRoomRepo
	players matchPlayerRepo

	newRoomID func() string
}

func NewMatchmaker(logger *slog.Logger, clock clockwork.Clock, conf MatchmakerConfig, queue queueRepo, rooms matchRoomRepo, players matchPlayerRepo) *Matchmaker {
	return &Matchmaker{
		logger:    logger.With("component", "matchmaker"),
		clock:     clock,
		conf:      conf,
		queue:     queue,
		rooms:     rooms,
		players:   players,
		newRoomID: uuid.NewString,
	}
}

// Tolerance - accepted rating gap after waiting for elapsed. Never below MinTolerance and
// never shrinks as the wait grows.
func Tolerance(elapsed time.Duration) int {
	return max(MinTolerance, int(elapsed.Seconds())*TolerancePerSecond)
}

// Enqueue - puts userID into the matchmaking queue.
func (that *Matchmaker) Enqueue(ctx context.Context, userID string, rating, rounds int) (*entity.QueueEntry, error) {
	if err := entity.ValidateRounds(rounds); err != nil {
		return nil, err
	}

	entry := &entity.QueueEntry{
		UserID:   userID,
		Rating:   rating,
		Rounds:   rounds,
		JoinedAt: that.clock.Now(),
	}

	err := that.queue.Insert(ctx, entry)
	if errors.Is(err, apperror.ErrDuplicateKey) {
		return nil, fmt.Errorf("%w: %s", apperror.ErrAlreadyQueued, userID)
	}

	if err != nil {
		return nil, apperror.StoreWrite(fmt.Errorf("failed to enqueue: %w", err))
	}

	that.logger.Debug("player queued", "user_id", userID, "rating", rating, "rounds", rounds)

	return entry, nil
}

// LeaveQueue - removes the queue entry of userID. Leaving twice is not an error.
func (that *Matchmaker) LeaveQueue(ctx context.Context, userID string) error {
	if _, err := that.queue.Delete(ctx, userID); err != nil {
		return apperror.StoreWrite(fmt.Errorf("failed to leave queue: %w", err))
	}

	return nil
}

// Search - polls the queue until an opponent is found, the entry is matched by another
// searcher, the timeout passes or ctx is done. On timeout the entry is removed.
func (that *Matchmaker) Search(ctx context.Context, entry *entity.QueueEntry) (*entity.Room, error) {
	log := that.logger.With("method", "Search", "user_id", entry.UserID)

	deadline := entry.JoinedAt.Add(that.conf.Timeout)

	ticker := that.clock.NewTicker(that.conf.PollInterval)
	defer ticker.Stop()

	for {
		room, err := that.attempt(ctx, entry)
		if errors.Is(err, apperror.ErrNotQueued) {
			return nil, err
		}

		if err != nil {
			log.Error("matchmaking attempt failed", "error", err)
		}

		if room != nil {
			log.Info("match found", "room_id", room.ID)

			return room, nil
		}

		if !that.clock.Now().Before(deadline) {
			if err = that.LeaveQueue(ctx, entry.UserID); err != nil {
				log.Error("failed to remove timed out entry", "error", err)
			}

			return nil, apperror.ErrMatchmakingTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// attempt - one matchmaking pass. Returns a nil room when nothing was matched yet.
func (that *Matchmaker) attempt(ctx context.Context, entry *entity.QueueEntry) (*entity.Room, error) {
	now := that.clock.Now()

	own, err := that.queue.GetByUserID(ctx, entry.UserID)
	if errors.Is(err, apperror.ErrNotFound) {
		return that.placedRoom(ctx, entry.UserID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read own queue entry: %w", err)
	}

	if own.IsClaimed(now, that.conf.ClaimTTL) && own.ClaimedBy != entry.UserID {
		return nil, nil
	}

	entries, err := that.queue.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	tolerance := Tolerance(now.Sub(entry.JoinedAt))
	for _, candidate := range entries {
		if !that.compatible(entry, candidate, tolerance, now) {
			continue
		}

		room, err := that.pair(ctx, entry, candidate, now)
		if err != nil || room != nil {
			return room, err
		}
	}

	return nil, nil
}

func (that *Matchmaker) compatible(self, candidate *entity.QueueEntry, tolerance int, now time.Time) bool {
	if candidate.UserID == self.UserID || candidate.Rounds != self.Rounds {
		return false
	}

	if candidate.IsClaimed(now, that.conf.ClaimTTL) {
		return false
	}

	gap := candidate.Rating - self.Rating
	if gap < 0 {
		gap = -gap
	}

	return gap <= tolerance
}

// pair - claims both entries in a fixed order, then creates the room, its two players and removes both
// entries. A nil room without error means the candidate was taken meanwhile.
func (that *Matchmaker) pair(ctx context.Context, self, candidate *entity.QueueEntry, now time.Time) (*entity.Room, error) {
	log := that.logger.With("method", "pair", "user_id", self.UserID, "candidate", candidate.UserID)

	// claims are taken lowest user id first so two searchers racing for each other never
	// each hold one entry
	order := []string{self.UserID, candidate.UserID}
	if candidate.UserID < self.UserID {
		order[0], order[1] = order[1], order[0]
	}

	release := func() {
		for _, userID := range order {
			if err := that.queue.Release(ctx, userID, self.UserID); err != nil {
				log.Error("failed to release claim", "claimed", userID, "error", err)
			}
		}
	}

	for i, userID := range order {
		claimed, err := that.queue.Claim(ctx, userID, self.UserID, now, that.conf.ClaimTTL)
		if err != nil || !claimed {
			if i > 0 {
				release()
			}

			return nil, err
		}
	}

	room := entity.NewRoom(that.newRoomID(), self.Rounds)
	if err := that.rooms.Create(ctx, room); err != nil {
		release()

		return nil, apperror.StoreWrite(fmt.Errorf("failed to create room: %w", err))
	}

	if err := that.players.Insert(ctx,
		entity.NewRoomPlayer(room.ID, self.UserID),
		entity.NewRoomPlayer(room.ID, candidate.UserID),
	); err != nil {
		release()

		return nil, apperror.StoreWrite(fmt.Errorf("failed to add room players: %w", err))
	}

	if _, err := that.queue.Delete(ctx, self.UserID, candidate.UserID); err != nil {
		log.Error("failed to remove matched entries", "room_id", room.ID, "error", err)
	}

	return room, nil
}

// placedRoom - room another searcher put userID into after removing its entry.
func (that *Matchmaker) placedRoom(ctx context.Context, userID string) (*entity.Room, error) {
	roomID, err := that.players.FindRoomID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.ErrNotQueued
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find placed room: %w", err)
	}

	room, err := that.rooms.GetByID(ctx, roomID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.ErrNotQueued
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get placed room: %w", err)
	}

	if room.IsFinished() {
		return nil, apperror.ErrNotQueued
	}

	players, err := that.players.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list placed room players: %w", err)
	}

	for _, player := range players {
		if player.UserID == userID {
			return room, nil
		}
	}

	return nil, apperror.ErrNotQueued
}
