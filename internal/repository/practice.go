package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

type PracticeStatsRepository interface {
	Get(ctx context.Context, userID string) (*entity.PracticeStats, error)
	Record(ctx context.Context, userID string, result entity.Outcome) (*entity.PracticeStats, error)
}

type practiceRow struct {
	Wins   int `redis:"wins"`
	Losses int `redis:"losses"`
	Streak int `redis:"streak"`
}

type dbPractice struct {
	client *redis.Client
}

func NewPracticeStatsRepository(client *redis.Client) PracticeStatsRepository {
	return &dbPractice{
		client: client,
	}
}

func practiceKey(userID string) string {
	return "practice:" + userID
}

// Get - stats of the user, zero stats when nothing was recorded yet.
func (that *dbPractice) Get(ctx context.Context, userID string) (*entity.PracticeStats, error) {
	var row practiceRow
	if err := that.client.HGetAll(ctx, practiceKey(userID)).Scan(&row); err != nil {
		return nil, fmt.Errorf("failed to get practice stats: %w", err)
	}

	return &entity.PracticeStats{Wins: row.Wins, Losses: row.Losses, Streak: row.Streak}, nil
}

// Record - counts a finished practice game. Anything but a win resets the streak.
func (that *dbPractice) Record(ctx context.Context, userID string, result entity.Outcome) (*entity.PracticeStats, error) {
	key := practiceKey(userID)

	_, err := that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch result {
		case entity.OutcomeWin:
			pipe.HIncrBy(ctx, key, "wins", 1)
			pipe.HIncrBy(ctx, key, "streak", 1)
		case entity.OutcomeLose:
			pipe.HIncrBy(ctx, key, "losses", 1)
			pipe.HSet(ctx, key, "streak", 0)
		default:
			pipe.HSet(ctx, key, "streak", 0)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record practice result: %w", err)
	}

	return that.Get(ctx, userID)
}
