package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

type staleQueueRepo interface {
	List(ctx context.Context) ([]*entity.QueueEntry, error)
	Delete(ctx context.Context, userIDs ...string) (int64, error)
}

// QueueJanitor removes queue entries of clients that vanished without leaving the queue.
type QueueJanitor struct {
	logger *slog.Logger
	clock  clockwork.Clock
	queue  staleQueueRepo
	maxAge time.Duration
}

func NewQueueJanitor(logger *slog.Logger, clock clockwork.Clock, queue staleQueueRepo, maxAge time.Duration) *QueueJanitor {
	return &QueueJanitor{
		logger: logger.With("component", "queue_janitor"),
		clock:  clock,
		queue:  queue,
		maxAge: maxAge,
	}
}

// Sweep - deletes entries older than maxAge and returns how many were removed.
func (that *QueueJanitor) Sweep(ctx context.Context) (int64, error) {
	entries, err := that.queue.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list queue: %w", err)
	}

	cutoff := that.clock.Now().Add(-that.maxAge)

	stale := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.JoinedAt.Before(cutoff) {
			stale = append(stale, entry.UserID)
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	deleted, err := that.queue.Delete(ctx, stale...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale entries: %w", err)
	}

	that.logger.Info("stale queue entries removed", "count", deleted)

	return deleted, nil
}
