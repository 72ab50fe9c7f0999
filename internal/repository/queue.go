package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

const queueIndexKey = "queue:joined"

var ErrQueueEntryNotFound = fmt.Errorf("queue entry %w", apperror.ErrNotFound)

// claimScript marks an entry as claimed by ARGV[1] unless another live claim holds it.
// ARGV: claimer, now (unix ms), ttl (ms).
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local owner = redis.call('HGET', KEYS[1], 'claimed_by')
local at = tonumber(redis.call('HGET', KEYS[1], 'claimed_at') or '0') or 0
if owner and owner ~= '' and owner ~= ARGV[1] and tonumber(ARGV[2]) - at < tonumber(ARGV[3]) then
	return 0
end
redis.call('HSET', KEYS[1], 'claimed_by', ARGV[1], 'claimed_at', ARGV[2])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'claimed_by') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'claimed_by', '', 'claimed_at', '0')
return 1
`)

type QueueRepository interface {
	Insert(ctx context.Context, entry *entity.QueueEntry) error
	GetByUserID(ctx context.Context, userID string) (*entity.QueueEntry, error)
	List(ctx context.Context) ([]*entity.QueueEntry, error)
	Claim(ctx context.Context, userID, claimer string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID, claimer string) error
	Delete(ctx context.Context, userIDs ...string) (int64, error)
}

type queueRow struct {
	UserID    string `redis:"user_id"`
	Rating    int    `redis:"rating"`
	Rounds    int    `redis:"rounds"`
	JoinedAt  int64  `redis:"joined_at"`
	ClaimedBy string `redis:"claimed_by"`
	ClaimedAt int64  `redis:"claimed_at"`
}

type dbQueue struct {
	client *redis.Client
}

func NewQueueRepository(client *redis.Client) QueueRepository {
	return &dbQueue{
		client: client,
	}
}

func queueKey(userID string) string {
	return "queue:" + userID
}

func (that *dbQueue) Insert(ctx context.Context, entry *entity.QueueEntry) error {
	key := queueKey(entry.UserID)

	created, err := that.client.HSetNX(ctx, key, "user_id", entry.UserID).Result()
	if err != nil {
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}

	if !created {
		return fmt.Errorf("%w: queue entry %s", apperror.ErrDuplicateKey, entry.UserID)
	}

	joinedAt := entry.JoinedAt.UnixMilli()
	_, err = that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"rating", entry.Rating,
			"rounds", entry.Rounds,
			"joined_at", joinedAt,
			"claimed_by", "",
			"claimed_at", 0,
		)
		pipe.ZAdd(ctx, queueIndexKey, redis.Z{Score: float64(joinedAt), Member: entry.UserID})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set queue entry fields: %w", err)
	}

	return nil
}

func (that *dbQueue) GetByUserID(ctx context.Context, userID string) (*entity.QueueEntry, error) {
	result := that.client.HGetAll(ctx, queueKey(userID))
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}

	if len(result.Val()) == 0 {
		return nil, ErrQueueEntryNotFound
	}

	return scanQueueEntry(result)
}

// List - all queue entries, earliest joined first.
func (that *dbQueue) List(ctx context.Context) ([]*entity.QueueEntry, error) {
	userIDs, err := that.client.ZRange(ctx, queueIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	pipe := that.client.Pipeline()
	rows := make([]*redis.MapStringStringCmd, 0, len(userIDs))
	for _, userID := range userIDs {
		rows = append(rows, pipe.HGetAll(ctx, queueKey(userID)))
	}

	if _, err = pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read queue entries: %w", err)
	}

	entries := make([]*entity.QueueEntry, 0, len(rows))
	for _, row := range rows {
		if len(row.Val()) == 0 {
			continue
		}

		entry, err := scanQueueEntry(row)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func scanQueueEntry(result *redis.MapStringStringCmd) (*entity.QueueEntry, error) {
	var row queueRow
	if err := result.Scan(&row); err != nil {
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}

	entry := &entity.QueueEntry{
		UserID:    row.UserID,
		Rating:    row.Rating,
		Rounds:    row.Rounds,
		JoinedAt:  time.UnixMilli(row.JoinedAt),
		ClaimedBy: row.ClaimedBy,
	}

	if row.ClaimedAt > 0 {
		entry.ClaimedAt = time.UnixMilli(row.ClaimedAt)
	}

	return entry, nil
}

func (that *dbQueue) Claim(ctx context.Context, userID, claimer string, now time.Time, ttl time.Duration) (bool, error) {
	claimed, err := claimScript.Run(ctx, that.client, []string{queueKey(userID)},
		claimer, now.UnixMilli(), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to claim queue entry: %w", err)
	}

	return claimed == 1, nil
}

func (that *dbQueue) Release(ctx context.Context, userID, claimer string) error {
	if err := releaseScript.Run(ctx, that.client, []string{queueKey(userID)}, claimer).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release queue entry: %w", err)
	}

	return nil
}

func (that *dbQueue) Delete(ctx context.Context, userIDs ...string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(userIDs))
	members := make([]any, 0, len(userIDs))
	for _, userID := range userIDs {
		keys = append(keys, queueKey(userID))
		members = append(members, userID)
	}

	deleted, err := that.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete queue entries: %w", err)
	}

	if err = that.client.ZRem(ctx, queueIndexKey, members...).Err(); err != nil {
		return 0, fmt.Errorf("failed to unindex queue entries: %w", err)
	}

	return deleted, nil
}
