package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

const leaderboardKey = "leaderboard"

var ErrProfileNotFound = fmt.Errorf("profile %w", apperror.ErrNotFound)

type ProfileRepository interface {
	GetOrCreate(ctx context.Context, id string) (*entity.Profile, error)
	GetByID(ctx context.Context, id string) (*entity.Profile, error)
	SaveResult(ctx context.Context, id string, rating int, result entity.Outcome) error
	Top(ctx context.Context, limit int) ([]*entity.Profile, error)
}

type profileRow struct {
	ID     string `redis:"id"`
	Rating int    `redis:"rating"`
	Wins   int    `redis:"wins"`
	Losses int    `redis:"losses"`
}

type dbProfile struct {
	client *redis.Client
}

func NewProfileRepository(client *redis.Client) ProfileRepository {
	return &dbProfile{
		client: client,
	}
}

func profileKey(id string) string {
	return "profile:" + id
}

func (that *dbProfile) GetOrCreate(ctx context.Context, id string) (*entity.Profile, error) {
	key := profileKey(id)

	_, err := that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "id", id)
		pipe.HSetNX(ctx, key, "rating", entity.DefaultRating)
		pipe.HSetNX(ctx, key, "wins", 0)
		pipe.HSetNX(ctx, key, "losses", 0)
		pipe.ZAddNX(ctx, leaderboardKey, redis.Z{Score: entity.DefaultRating, Member: id})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	return that.GetByID(ctx, id)
}

func (that *dbProfile) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	result := that.client.HGetAll(ctx, profileKey(id))
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get profile by id: %w", err)
	}

	if len(result.Val()) == 0 {
		return nil, ErrProfileNotFound
	}

	var row profileRow
	if err := result.Scan(&row); err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	return &entity.Profile{ID: row.ID, Rating: row.Rating, Wins: row.Wins, Losses: row.Losses}, nil
}

// SaveResult - stores the new rating and counts the match outcome.
func (that *dbProfile) SaveResult(ctx context.Context, id string, rating int, result entity.Outcome) error {
	key := profileKey(id)

	_, err := that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "id", id, "rating", rating)

		switch result {
		case entity.OutcomeWin:
			pipe.HIncrBy(ctx, key, "wins", 1)
		case entity.OutcomeLose:
			pipe.HIncrBy(ctx, key, "losses", 1)
		}

		pipe.ZAdd(ctx, leaderboardKey, redis.Z{Score: float64(rating), Member: id})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save profile result: %w", err)
	}

	return nil
}

// Top - highest rated profiles first.
func (that *dbProfile) Top(ctx context.Context, limit int) ([]*entity.Profile, error) {
	ids, err := that.client.ZRevRange(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	profiles := make([]*entity.Profile, 0, len(ids))
	for _, id := range ids {
		profile, err := that.GetByID(ctx, id)
		if errors.Is(err, ErrProfileNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		profiles = append(profiles, profile)
	}

	return profiles, nil
}
