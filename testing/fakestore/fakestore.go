// Package fakestore is an in-memory shared store with change notifications. Two service
// instances pointed at the same Store behave like two clients of one redis.
package fakestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

type subscriber struct {
	channels map[string]struct{}
	out      chan entity.Change
}

type Store struct {
	mu sync.Mutex

	rooms       map[string]entity.Room
	players     map[string]map[string]*entity.RoomPlayer
	userRooms   map[string]string
	queue       map[string]entity.QueueEntry
	profiles    map[string]entity.Profile
	practice    map[string]entity.PracticeStats
	subscribers []*subscriber

	// FailWrites makes every write return ErrStoreWrite while set.
	FailWrites bool
}

func New() *Store {
	return &Store{
		rooms:     make(map[string]entity.Room),
		players:   make(map[string]map[string]*entity.RoomPlayer),
		userRooms: make(map[string]string),
		queue:     make(map[string]entity.QueueEntry),
		profiles:  make(map[string]entity.Profile),
		practice:  make(map[string]entity.PracticeStats),
	}
}

func (that *Store) SetFailWrites(fail bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.FailWrites = fail
}

func (that *Store) checkWrite() error {
	if that.FailWrites {
		return fmt.Errorf("fakestore: %w", apperror.ErrStoreWrite)
	}

	return nil
}

// publish must be called with mu held.
func (that *Store) publish(change entity.Change) {
	channel := entity.Channel(change.Table, change.RoomID)
	for _, sub := range that.subscribers {
		if _, ok := sub.channels[channel]; !ok {
			continue
		}

		select {
		case sub.out <- change:
		default:
		}
	}
}

func (that *Store) Publish(_ context.Context, change entity.Change) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.publish(change)

	return nil
}

func (that *Store) Subscribe(ctx context.Context, channels ...string) (<-chan entity.Change, error) {
	sub := &subscriber{channels: make(map[string]struct{}), out: make(chan entity.Change, 64)}
	for _, channel := range channels {
		sub.channels[channel] = struct{}{}
	}

	that.mu.Lock()
	that.subscribers = append(that.subscribers, sub)
	that.mu.Unlock()

	go func() {
		<-ctx.Done()

		that.mu.Lock()
		defer that.mu.Unlock()

		for i, candidate := range that.subscribers {
			if candidate == sub {
				that.subscribers = append(that.subscribers[:i], that.subscribers[i+1:]...)
				break
			}
		}

		close(sub.out)
	}()

	return sub.out, nil
}

// Subscribers - number of live subscriptions.
func (that *Store) Subscribers() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.subscribers)
}

// Rooms

func (that *Store) Create(_ context.Context, room *entity.Room) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.checkWrite(); err != nil {
		return err
	}

	if _, ok := that.rooms[room.ID]; ok {
		return fmt.Errorf("%w: room %s", apperror.ErrDuplicateKey, room.ID)
	}

	that.rooms[room.ID] = *room
	that.publish(entity.Change{Table: entity.TableRooms, Kind: entity.ChangeInsert, RoomID: room.ID})

	return nil
}

func (that *Store) GetByID(_ context.Context, id string) (*entity.Room, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	room, ok := that.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %w", apperror.ErrNotFound)
	}

	return &room, nil
}

func (that *Store) Update(_ context.Context, id string, cond entity.RoomCondition, patch entity.RoomPatch) (int64, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.checkWrite(); err != nil {
		return 0, err
	}

	room, ok := that.rooms[id]
	if !ok || !cond.Matches(&room) {
		return 0, nil
	}

	patch.Apply(&room)
	that.rooms[id] = room
	that.publish(entity.Change{Table: entity.TableRooms, Kind: entity.ChangeUpdate, RoomID: id})

	return 1, nil
}

func (that *Store) DeleteByID(_ context.Context, id string) (int64, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.checkWrite(); err != nil {
		return 0, err
	}

	if _, ok := that.rooms[id]; !ok {
		return 0, nil
	}

	delete(that.rooms, id)
	that.publish(entity.Change{Table: entity.TableRooms, Kind: entity.ChangeDelete, RoomID: id})

	return 1, nil
}

// Room players

func (that *Store) Insert(_ context.Context, players ...*entity.RoomPlayer) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.checkWrite(); err != nil {
		return err
	}

	for _, player := range players {
		rows, ok := that.players[player.RoomID]
		if !ok {
			rows = make(map[string]*entity.RoomPlayer)
			that.players[player.RoomID] = rows
		}

		if _, ok = rows[player.UserID]; ok {
			return fmt.Errorf("%w: player %s", apperror.ErrDuplicateKey, player.UserID)
		}

		rows[player.UserID] = entity.NewRoomPlayer(player.RoomID, player.UserID)
		that.userRooms[player.UserID] = player.RoomID
		that.publish(entity.Change{Table: entity.TableRoomPlayers, Kind: entity.ChangeInsert, RoomID: player.RoomID, UserID: player.UserID})
	}

	return nil
}

func copyPlayer(player *entity.RoomPlayer) *entity.RoomPlayer {
	clone := entity.NewRoomPlayer(player.RoomID, player.UserID)
	for key, move := range player.Moves {
		clone.Moves[key] = move
	}

	for epoch, vote := range player.Votes {
		clone.Votes[epoch] = vote
	}

	return clone
}

func (that *Store) ListByRoom(_ context.Context, roomID string) ([]*entity.RoomPlayer, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	players := make([]*entity.RoomPlayer, 0, entity.PlayersPerRoom)
	for _, player := range that.players[roomID] {
		players = append(players, copyPlayer(player))
	}

	sort.Slice(players, func(i, j int) bool { return players[i].UserID < players[j].UserID })

	return players, nil
}

func (that *Store) SetMove(_ context.Context, roomID, userID string, key entity.RoundKey, move entity.Move) (int64, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.checkWrite(); err != nil {
		return 0, err
	}

	player, ok := that.players[roomID][userID]
	if !ok {
		return 0, nil
	}

	player.Moves[key] = move
	that.publish(entity.Change{Table: entity.TableRoomPlayers, Kind: entity.ChangeUpdate, RoomID: roomID, UserID: userID})

	return 1, nil
}

func (that *Store) SetVote(_ context.Context, roomID, userID string, epoch int, vote entity.Vote) (int64, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.checkWrite(); err != nil {
		return 0, err
	}

	player, ok := that.players[roomID][userID]
	if !ok {
		return 0, nil
	}

	player.Votes[epoch] = vote
	that.publish(entity.Change{Table: entity.TableRoomPlayers, Kind: entity.ChangeUpdate, RoomID: roomID, UserID: userID})

	return 1, nil
}

func (that *Store) ClearMoves(_ context.Context, roomID string, beforeEpoch int) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.checkWrite(); err != nil {
		return err
	}

	for _, player := range that.players[roomID] {
		for key := range player.Moves {
			if key.Epoch < beforeEpoch {
				delete(player.Moves, key)
			}
		}
	}

	return nil
}

func (that *Store) Delete(_ context.Context, roomID, userID string) (int64, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.checkWrite(); err != nil {
		return 0, err
	}

	if _, ok := that.players[roomID][userID]; !ok {
		return 0, nil
	}

	delete(that.players[roomID], userID)
	if that.userRooms[userID] == roomID {
		delete(that.userRooms, userID)
	}

	that.publish(entity.Change{Table: entity.TableRoomPlayers, Kind: entity.ChangeDelete, RoomID: roomID, UserID: userID})

	return 1, nil
}

func (that *Store) FindRoomID(_ context.Context, userID string) (string, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	roomID, ok := that.userRooms[userID]
	if !ok {
		return "", fmt.Errorf("room player %w", apperror.ErrNotFound)
	}

	return roomID, nil
}

// RoomCount - number of rooms currently stored.
func (that *Store) RoomCount() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.rooms)
}

// Queue

type Queue struct {
	store *Store
}

// Queue - the matchmaking_queue table. Its method names overlap the room tables.
func (that *Store) Queue() *Queue {
	return &Queue{store: that}
}

func (that *Queue) Insert(_ context.Context, entry *entity.QueueEntry) error {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	if err := that.store.checkWrite(); err != nil {
		return err
	}

	if _, ok := that.store.queue[entry.UserID]; ok {
		return fmt.Errorf("%w: queue entry %s", apperror.ErrDuplicateKey, entry.UserID)
	}

	that.store.queue[entry.UserID] = *entry

	return nil
}

func (that *Queue) GetByUserID(_ context.Context, userID string) (*entity.QueueEntry, error) {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	entry, ok := that.store.queue[userID]
	if !ok {
		return nil, fmt.Errorf("queue entry %w", apperror.ErrNotFound)
	}

	return &entry, nil
}

func (that *Queue) List(_ context.Context) ([]*entity.QueueEntry, error) {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	entries := make([]*entity.QueueEntry, 0, len(that.store.queue))
	for _, entry := range that.store.queue {
		entries = append(entries, &entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].JoinedAt.Before(entries[j].JoinedAt) })

	return entries, nil
}

func (that *Queue) Claim(_ context.Context, userID, claimer string, now time.Time, ttl time.Duration) (bool, error) {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	if err := that.store.checkWrite(); err != nil {
		return false, err
	}

	entry, ok := that.store.queue[userID]
	if !ok {
		return false, nil
	}

	if entry.IsClaimed(now, ttl) && entry.ClaimedBy != claimer {
		return false, nil
	}

	entry.ClaimedBy = claimer
	entry.ClaimedAt = now
	that.store.queue[userID] = entry

	return true, nil
}

func (that *Queue) Release(_ context.Context, userID, claimer string) error {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	entry, ok := that.store.queue[userID]
	if !ok || entry.ClaimedBy != claimer {
		return nil
	}

	entry.ClaimedBy = ""
	entry.ClaimedAt = time.Time{}
	that.store.queue[userID] = entry

	return nil
}

func (that *Queue) Delete(_ context.Context, userIDs ...string) (int64, error) {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	if err := that.store.checkWrite(); err != nil {
		return 0, err
	}

	var deleted int64
	for _, userID := range userIDs {
		if _, ok := that.store.queue[userID]; ok {
			delete(that.store.queue, userID)
			deleted++
		}
	}

	return deleted, nil
}

// Profiles

type Profiles struct {
	store *Store
}

func (that *Store) Profiles() *Profiles {
	return &Profiles{store: that}
}

func (that *Profiles) GetOrCreate(_ context.Context, id string) (*entity.Profile, error) {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	profile, ok := that.store.profiles[id]
	if !ok {
		profile = entity.Profile{ID: id, Rating: entity.DefaultRating}
		that.store.profiles[id] = profile
	}

	return &profile, nil
}

func (that *Profiles) GetByID(_ context.Context, id string) (*entity.Profile, error) {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	profile, ok := that.store.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %w", apperror.ErrNotFound)
	}

	return &profile, nil
}

func (that *Profiles) SaveResult(_ context.Context, id string, rating int, result entity.Outcome) error {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	if err := that.store.checkWrite(); err != nil {
		return err
	}

	profile := that.store.profiles[id]
	profile.ID = id
	profile.Rating = rating

	switch result {
	case entity.OutcomeWin:
		profile.Wins++
	case entity.OutcomeLose:
		profile.Losses++
	}

	that.store.profiles[id] = profile

	return nil
}

func (that *Profiles) Top(_ context.Context, limit int) ([]*entity.Profile, error) {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	profiles := make([]*entity.Profile, 0, len(that.store.profiles))
	for _, profile := range that.store.profiles {
		profiles = append(profiles, &profile)
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Rating == profiles[j].Rating {
			return profiles[i].ID < profiles[j].ID
		}

		return profiles[i].Rating > profiles[j].Rating
	})

	if len(profiles) > limit {
		profiles = profiles[:limit]
	}

	return profiles, nil
}

// Practice stats

type Practice struct {
	store *Store
}

func (that *Store) Practice() *Practice {
	return &Practice{store: that}
}

func (that *Practice) Get(_ context.Context, userID string) (*entity.PracticeStats, error) {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	stats := that.store.practice[userID]

	return &stats, nil
}

func (that *Practice) Record(_ context.Context, userID string, result entity.Outcome) (*entity.PracticeStats, error) {
	that.store.mu.Lock()
	defer that.store.mu.Unlock()

	if err := that.store.checkWrite(); err != nil {
		return nil, err
	}

	stats := that.store.practice[userID]

	switch result {
	case entity.OutcomeWin:
		stats.Wins++
		stats.Streak++
	case entity.OutcomeLose:
		stats.Losses++
		stats.Streak = 0
	default:
		stats.Streak = 0
	}

	that.store.practice[userID] = stats

	return &stats, nil
}
