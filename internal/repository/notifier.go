package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

const changeBuffer = 32

type Notifier interface {
	Publish(ctx context.Context, change entity.Change) error
	Subscribe(ctx context.Context, channels ...string) (<-chan entity.Change, error)
}

type redisNotifier struct {
	client *redis.Client
}

func NewNotifier(client *redis.Client) Notifier {
	return &redisNotifier{
		client: client,
	}
}

func (that *redisNotifier) Publish(ctx context.Context, change entity.Change) error {
	return publish(ctx, that.client, change)
}

// Subscribe - streams changes published on channels until ctx is done.
func (that *redisNotifier) Subscribe(ctx context.Context, channels ...string) (<-chan entity.Change, error) {
	pubsub := that.client.Subscribe(ctx, channels...)

	// wait for the subscription confirmation so no change published after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}

	out := make(chan entity.Change, changeBuffer)

	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				var change entity.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}

				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// publish - announces a row change. Delivery is best effort: subscribers also re-read on timers.
func publish(ctx context.Context, client *redis.Client, change entity.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	if err = client.Publish(ctx, entity.Channel(change.Table, change.RoomID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}

	return nil
}

// announce - publishes change after a completed write. The write stands either way, so a
// failure is only logged.
func announce(ctx context.Context, client *redis.Client, logger *slog.Logger, change entity.Change) {
	if err := publish(ctx, client, change); err != nil {
		logger.Warn("failed to publish change",
			"table", change.Table, "kind", change.Kind, "room_id", change.RoomID, "error", err)
	}
}
