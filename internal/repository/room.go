package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

var ErrRoomNotFound = fmt.Errorf("room %w", apperror.ErrNotFound)

// updateRoomScript applies a patch only when the guard holds. Returns affected rows (0 or 1).
// ARGV: status guard, round guard, rematch guard ('' means any), then field/value pairs.
var updateRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if ARGV[1] ~= '' and redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then return 0 end
if ARGV[2] ~= '' and redis.call('HGET', KEYS[1], 'current_round') ~= ARGV[2] then return 0 end
if ARGV[3] ~= '' and redis.call('HGET', KEYS[1], 'rematch_count') ~= ARGV[3] then return 0 end
if #ARGV > 3 then
	redis.call('HSET', KEYS[1], unpack(ARGV, 4))
end
return 1
`)

type RoomRepository interface {
	Create(ctx context.Context, room *entity.Room) error
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	Update(ctx context.Context, id string, cond entity.RoomCondition, patch entity.RoomPatch) (int64, error)
	DeleteByID(ctx context.Context, id string) (int64, error)
}

type roomRow struct {
	ID           string `redis:"id"`
	TotalRounds  int    `redis:"total_rounds"`
	CurrentRound int    `redis:"current_round"`
	Status       string `redis:"status"`
	RematchCount int    `redis:"rematch_count"`
}

type dbRoom struct {
	logger *slog.Logger
	client *redis.Client
}

func NewRoomRepository(logger *slog.Logger, client *redis.Client) RoomRepository {
	return &dbRoom{
		logger: logger.With("component", "room_repository"),
		client: client,
	}
}

func roomKey(id string) string {
	return "room:" + id
}

func (that *dbRoom) Create(ctx context.Context, room *entity.Room) error {
	key := roomKey(room.ID)

	created, err := that.client.HSetNX(ctx, key, "id", room.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	if !created {
		return fmt.Errorf("%w: room %s", apperror.ErrDuplicateKey, room.ID)
	}

	err = that.client.HSet(ctx, key,
		"total_rounds", room.TotalRounds,
		"current_round", room.CurrentRound,
		"status", room.Status,
		"rematch_count", room.RematchCount,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set room fields: %w", err)
	}

	announce(ctx, that.client, that.logger, entity.Change{Table: entity.TableRooms, Kind: entity.ChangeInsert, RoomID: room.ID})

	return nil
}

func (that *dbRoom) GetByID(ctx context.Context, id string) (*entity.Room, error) {
	result := that.client.HGetAll(ctx, roomKey(id))
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get room by id: %w", err)
	}

	if len(result.Val()) == 0 {
		return nil, ErrRoomNotFound
	}

	var row roomRow
	if err := result.Scan(&row); err != nil {
		return nil, fmt.Errorf("failed to scan room: %w", err)
	}

	return &entity.Room{
		ID:           row.ID,
		TotalRounds:  row.TotalRounds,
		CurrentRound: row.CurrentRound,
		Status:       row.Status,
		RematchCount: row.RematchCount,
	}, nil
}

func (that *dbRoom) Update(ctx context.Context, id string, cond entity.RoomCondition, patch entity.RoomPatch) (int64, error) {
	args := []any{cond.Status, "", ""}
	if cond.CurrentRound != 0 {
		args[1] = strconv.Itoa(cond.CurrentRound)
	}

	if cond.RematchCount != nil {
		args[2] = strconv.Itoa(*cond.RematchCount)
	}

	if patch.CurrentRound != nil {
		args = append(args, "current_round", *patch.CurrentRound)
	}

	if patch.Status != nil {
		args = append(args, "status", *patch.Status)
	}

	if patch.RematchCount != nil {
		args = append(args, "rematch_count", *patch.RematchCount)
	}

	affected, err := updateRoomScript.Run(ctx, that.client, []string{roomKey(id)}, args...).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to update room: %w", err)
	}

	if affected > 0 {
		announce(ctx, that.client, that.logger, entity.Change{Table: entity.TableRooms, Kind: entity.ChangeUpdate, RoomID: id})
	}

	return affected, nil
}

func (that *dbRoom) DeleteByID(ctx context.Context, id string) (int64, error) {
	deleted, err := that.client.Del(ctx, roomKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete room by ID: %w", err)
	}

	if deleted > 0 {
		announce(ctx, that.client, that.logger, entity.Change{Table: entity.TableRooms, Kind: entity.ChangeDelete, RoomID: id})
	}

	return deleted, nil
}
