package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
	"github.com/rocketscienceinc/rps-backend/internal/service"
)

const (
	StateIdle      = "idle"
	StateSearching = "searching"
	StateMatched   = "matched"
	StateFailed    = "failed"
)

type matchmaker interface {
	Enqueue(ctx context.Context, userID string, rating, rounds int) (*entity.QueueEntry, error)
	Search(ctx context.Context, entry *entity.QueueEntry) (*entity.Room, error)
	LeaveQueue(ctx context.Context, userID string) error
}

type ratings interface {
	Profile(ctx context.Context, id string) (*entity.Profile, error)
	Leaderboard(ctx context.Context, limit int) ([]*entity.Profile, error)
}

type practice interface {
	Start(userID string, rounds int) (*service.PracticeGame, error)
	Play(ctx context.Context, gameID string, move entity.Move) (*service.PracticeGame, error)
	AutoMove() entity.Move
	Stats(ctx context.Context, userID string) (*entity.PracticeStats, error)
}

// MatchFactory - builds the local state machine of userID in roomID.
type MatchFactory func(roomID, userID string) *service.Match

// Status is what a user currently does.
type Status struct {
	State string             `json:"state"`
	Queue *entity.QueueEntry `json:"queue,omitempty"`
	Match *service.MatchView `json:"match,omitempty"`
	Error string             `json:"error,omitempty"`
}

type search struct {
	entry  *entity.QueueEntry
	cancel context.CancelFunc
	err    error
}

// Arena is the host facing facade: it runs matchmaking searches and match sessions of the
// local users in the background and exposes their state.
type Arena struct {
	logger     *slog.Logger
	matchmaker matchmaker
	ratings    ratings
	practice   practice
	newMatch   MatchFactory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	searches map[string]*search
	matches  map[string]*service.Match
}

func NewArena(logger *slog.Logger, matchmaker matchmaker, ratings ratings, practice practice, newMatch MatchFactory) *Arena {
	ctx, cancel := context.WithCancel(context.Background())

	return &Arena{
		logger:     logger.With("component", "arena"),
		matchmaker: matchmaker,
		ratings:    ratings,
		practice:   practice,
		newMatch:   newMatch,
		ctx:        ctx,
		cancel:     cancel,
		searches:   make(map[string]*search),
		matches:    make(map[string]*service.Match),
	}
}

// Close - stops every background search and match loop.
func (that *Arena) Close() {
	that.cancel()
	that.wg.Wait()
}

func (that *Arena) Profile(ctx context.Context, userID string) (*entity.Profile, error) {
	return that.ratings.Profile(ctx, userID)
}

func (that *Arena) Leaderboard(ctx context.Context, limit int) ([]*entity.Profile, error) {
	return that.ratings.Leaderboard(ctx, limit)
}

// JoinQueue - queues userID at their current rating and starts searching in the background.
func (that *Arena) JoinQueue(ctx context.Context, userID string, rounds int) (*entity.QueueEntry, error) {
	log := that.logger.With("method", "JoinQueue", "user_id", userID)

	that.mu.Lock()
	defer that.mu.Unlock()

	if current, ok := that.searches[userID]; ok && current.err == nil {
		return nil, fmt.Errorf("%w: %s", apperror.ErrAlreadyQueued, userID)
	}

	if match, ok := that.matches[userID]; ok && match.Snapshot().Phase != service.PhaseClosed {
		return nil, fmt.Errorf("%w: %s is in a match", apperror.ErrAlreadyQueued, userID)
	}

	profile, err := that.ratings.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	entry, err := that.matchmaker.Enqueue(ctx, userID, profile.Rating, rounds)
	if err != nil {
		return nil, err
	}

	delete(that.matches, userID)

	searchCtx, cancel := context.WithCancel(that.ctx)
	current := &search{entry: entry, cancel: cancel}
	that.searches[userID] = current

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()
		defer cancel()

		room, err := that.matchmaker.Search(searchCtx, entry)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("search ended without a match", "error", err)
			}

			that.failSearch(userID, current, err)

			return
		}

		that.openMatch(userID, current, room)
	}()

	log.Info("player joined the queue", "rating", profile.Rating, "rounds", rounds)

	return entry, nil
}

// LeaveQueue - stops the search of userID and removes the queue entry.
func (that *Arena) LeaveQueue(ctx context.Context, userID string) error {
	that.mu.Lock()
	if current, ok := that.searches[userID]; ok {
		current.cancel()
		delete(that.searches, userID)
	}
	that.mu.Unlock()

	return that.matchmaker.LeaveQueue(ctx, userID)
}

func (that *Arena) failSearch(userID string, current *search, err error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.searches[userID] == current {
		current.err = err
	}
}

func (that *Arena) openMatch(userID string, current *search, room *entity.Room) {
	log := that.logger.With("method", "openMatch", "user_id", userID, "room_id", room.ID)

	match := that.newMatch(room.ID, userID)
	if err := match.Start(that.ctx); err != nil {
		log.Error("failed to start match", "error", err)
		that.failSearch(userID, current, err)

		return
	}

	that.mu.Lock()
	if that.searches[userID] == current {
		delete(that.searches, userID)
	}
	that.matches[userID] = match
	that.mu.Unlock()

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		if err := match.Run(that.ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("match loop stopped", "error", err)
		}
	}()
}

// Status - current search or match of userID.
func (that *Arena) Status(userID string) Status {
	that.mu.Lock()
	defer that.mu.Unlock()

	if match, ok := that.matches[userID]; ok {
		view := match.Snapshot()

		return Status{State: StateMatched, Match: &view}
	}

	if current, ok := that.searches[userID]; ok {
		if current.err != nil {
			return Status{State: StateFailed, Queue: current.entry, Error: current.err.Error()}
		}

		return Status{State: StateSearching, Queue: current.entry}
	}

	return Status{State: StateIdle}
}

func (that *Arena) match(userID string) (*service.Match, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	match, ok := that.matches[userID]
	if !ok {
		return nil, fmt.Errorf("match of %s %w", userID, apperror.ErrNotFound)
	}

	return match, nil
}

func (that *Arena) SubmitMove(ctx context.Context, userID string, move entity.Move) (*service.MatchView, error) {
	match, err := that.match(userID)
	if err != nil {
		return nil, err
	}

	if err = match.SubmitMove(ctx, move); err != nil {
		return nil, err
	}

	view := match.Snapshot()

	return &view, nil
}

func (that *Arena) CastVote(ctx context.Context, userID string, accept bool) (*service.MatchView, error) {
	match, err := that.match(userID)
	if err != nil {
		return nil, err
	}

	if err = match.CastVote(ctx, accept); err != nil {
		return nil, err
	}

	view := match.Snapshot()

	return &view, nil
}

// LeaveMatch - leaves the room of userID and forgets the session.
func (that *Arena) LeaveMatch(ctx context.Context, userID string) error {
	match, err := that.match(userID)
	if err != nil {
		return err
	}

	err = match.Leave(ctx)

	that.mu.Lock()
	delete(that.matches, userID)
	that.mu.Unlock()

	return err
}

func (that *Arena) StartPractice(userID string, rounds int) (*service.PracticeGame, error) {
	return that.practice.Start(userID, rounds)
}

// PlayPractice - plays move in a practice game; an empty move stands for an expired round
// timer and is replaced by a forced move.
func (that *Arena) PlayPractice(ctx context.Context, gameID string, move entity.Move) (*service.PracticeGame, error) {
	if move == entity.NoMove {
		move = that.practice.AutoMove()
	}

	return that.practice.Play(ctx, gameID, move)
}

func (that *Arena) PracticeStats(ctx context.Context, userID string) (*entity.PracticeStats, error) {
	return that.practice.Stats(ctx, userID)
}
