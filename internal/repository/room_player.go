package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

const (
	movePrefix = "move:"
	votePrefix = "vote:"
)

var ErrRoomPlayerNotFound = fmt.Errorf("room player %w", apperror.ErrNotFound)

// setIfExistsScript writes one field of an existing hash. Returns affected rows.
var setIfExistsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

type RoomPlayerRepository interface {
	Insert(ctx context.Context, players ...*entity.RoomPlayer) error
	ListByRoom(ctx context.Context, roomID string) ([]*entity.RoomPlayer, error)
	SetMove(ctx context.Context, roomID, userID string, key entity.RoundKey, move entity.Move) (int64, error)
	SetVote(ctx context.Context, roomID, userID string, epoch int, vote entity.Vote) (int64, error)
	ClearMoves(ctx context.Context, roomID string, beforeEpoch int) error
	Delete(ctx context.Context, roomID, userID string) (int64, error)
	FindRoomID(ctx context.Context, userID string) (string, error)
}

type dbRoomPlayer struct {
	logger *slog.Logger
	client *redis.Client
}

func NewRoomPlayerRepository(logger *slog.Logger, client *redis.Client) RoomPlayerRepository {
	return &dbRoomPlayer{
		logger: logger.With("component", "room_player_repository"),
		client: client,
	}
}

func roomPlayerKey(roomID, userID string) string {
	return "room:" + roomID + ":player:" + userID
}

func roomMembersKey(roomID string) string {
	return "room:" + roomID + ":players"
}

func userRoomKey(userID string) string {
	return "user:" + userID + ":room"
}

func (that *dbRoomPlayer) Insert(ctx context.Context, players ...*entity.RoomPlayer) error {
	for _, player := range players {
		key := roomPlayerKey(player.RoomID, player.UserID)

		created, err := that.client.HSetNX(ctx, key, "user_id", player.UserID).Result()
		if err != nil {
			return fmt.Errorf("failed to insert room player: %w", err)
		}

		if !created {
			return fmt.Errorf("%w: player %s in room %s", apperror.ErrDuplicateKey, player.UserID, player.RoomID)
		}

		_, err = that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "room_id", player.RoomID)
			pipe.SAdd(ctx, roomMembersKey(player.RoomID), player.UserID)
			pipe.Set(ctx, userRoomKey(player.UserID), player.RoomID, 0)

			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to index room player: %w", err)
		}

		announce(ctx, that.client, that.logger, entity.Change{
			Table:  entity.TableRoomPlayers,
			Kind:   entity.ChangeInsert,
			RoomID: player.RoomID,
			UserID: player.UserID,
		})
	}

	return nil
}

func (that *dbRoomPlayer) ListByRoom(ctx context.Context, roomID string) ([]*entity.RoomPlayer, error) {
	members, err := that.client.SMembers(ctx, roomMembersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}

	sort.Strings(members)

	pipe := that.client.Pipeline()
	rows := make([]*redis.MapStringStringCmd, 0, len(members))
	for _, userID := range members {
		rows = append(rows, pipe.HGetAll(ctx, roomPlayerKey(roomID, userID)))
	}

	if _, err = pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read room players: %w", err)
	}

	players := make([]*entity.RoomPlayer, 0, len(members))
	for i, row := range rows {
		fields := row.Val()
		if len(fields) == 0 {
			continue
		}

		player, err := parseRoomPlayer(roomID, members[i], fields)
		if err != nil {
			return nil, err
		}

		players = append(players, player)
	}

	return players, nil
}

func parseRoomPlayer(roomID, userID string, fields map[string]string) (*entity.RoomPlayer, error) {
	player := entity.NewRoomPlayer(roomID, userID)

	for field, value := range fields {
		switch {
		case strings.HasPrefix(field, movePrefix):
			key, err := entity.ParseRoundKey(strings.TrimPrefix(field, movePrefix))
			if err != nil {
				return nil, fmt.Errorf("failed to parse move field: %w", err)
			}

			player.Moves[key] = entity.Move(value)
		case strings.HasPrefix(field, votePrefix):
			epoch, err := strconv.Atoi(strings.TrimPrefix(field, votePrefix))
			if err != nil {
				return nil, fmt.Errorf("failed to parse vote field %q: %w", field, err)
			}

			player.Votes[epoch] = entity.Vote(value)
		}
	}

	return player, nil
}

func (that *dbRoomPlayer) SetMove(ctx context.Context, roomID, userID string, key entity.RoundKey, move entity.Move) (int64, error) {
	return that.setField(ctx, roomID, userID, movePrefix+key.String(), string(move))
}

func (that *dbRoomPlayer) SetVote(ctx context.Context, roomID, userID string, epoch int, vote entity.Vote) (int64, error) {
	return that.setField(ctx, roomID, userID, votePrefix+strconv.Itoa(epoch), string(vote))
}

func (that *dbRoomPlayer) setField(ctx context.Context, roomID, userID, field, value string) (int64, error) {
	affected, err := setIfExistsScript.Run(ctx, that.client, []string{roomPlayerKey(roomID, userID)}, field, value).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to set %s: %w", field, err)
	}

	if affected > 0 {
		announce(ctx, that.client, that.logger, entity.Change{
			Table:  entity.TableRoomPlayers,
			Kind:   entity.ChangeUpdate,
			RoomID: roomID,
			UserID: userID,
		})
	}

	return affected, nil
}

// ClearMoves - drops moves recorded in games older than beforeEpoch. Votes are kept.
func (that *dbRoomPlayer) ClearMoves(ctx context.Context, roomID string, beforeEpoch int) error {
	members, err := that.client.SMembers(ctx, roomMembersKey(roomID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list room members: %w", err)
	}

	for _, userID := range members {
		key := roomPlayerKey(roomID, userID)

		fields, err := that.client.HKeys(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read move fields: %w", err)
		}

		stale := make([]string, 0, len(fields))
		for _, field := range fields {
			if !strings.HasPrefix(field, movePrefix) {
				continue
			}

			roundKey, err := entity.ParseRoundKey(strings.TrimPrefix(field, movePrefix))
			if err != nil || roundKey.Epoch < beforeEpoch {
				stale = append(stale, field)
			}
		}

		if len(stale) == 0 {
			continue
		}

		if err = that.client.HDel(ctx, key, stale...).Err(); err != nil {
			return fmt.Errorf("failed to clear moves: %w", err)
		}
	}

	return nil
}

func (that *dbRoomPlayer) Delete(ctx context.Context, roomID, userID string) (int64, error) {
	deleted, err := that.client.Del(ctx, roomPlayerKey(roomID, userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete room player: %w", err)
	}

	if err = that.client.SRem(ctx, roomMembersKey(roomID), userID).Err(); err != nil {
		return 0, fmt.Errorf("failed to unindex room player: %w", err)
	}

	current, err := that.client.Get(ctx, userRoomKey(userID)).Result()
	if err == nil && current == roomID {
		if err = that.client.Del(ctx, userRoomKey(userID)).Err(); err != nil {
			that.logger.Warn("failed to clear user room index", "user_id", userID, "room_id", roomID, "error", err)
		}
	}

	if deleted > 0 {
		announce(ctx, that.client, that.logger, entity.Change{
			Table:  entity.TableRoomPlayers,
			Kind:   entity.ChangeDelete,
			RoomID: roomID,
			UserID: userID,
		})
	}

	return deleted, nil
}

// FindRoomID - id of the room the user was most recently placed in.
func (that *dbRoomPlayer) FindRoomID(ctx context.Context, userID string) (string, error) {
	roomID, err := that.client.Get(ctx, userRoomKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRoomPlayerNotFound
	}

	if err != nil {
		return "", fmt.Errorf("failed to find room for user: %w", err)
	}

	return roomID, nil
}
