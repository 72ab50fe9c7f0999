package rest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	statusPollInterval = 500 * time.Millisecond
	keepAliveInterval  = 15 * time.Second
)

// Event is one server sent event pushed to a client.
type Event struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// StreamStatus - pushes the status of a user as server sent events whenever it changes.
func (that *Handlers) StreamStatus(c *fiber.Ctx) error {
	// the stream writer outlives the handler and its request buffers
	userID := utils.CopyString(c.Params("user"))
	log := that.logger.With("method", "StreamStatus", "user_id", userID)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(that.statusPoll)
		defer ticker.Stop()

		lastWrite := time.Now()

		var last []byte

		for {
			payload, err := json.Marshal(that.arena.Status(userID))
			if err != nil {
				log.Error("failed to marshal status", "error", err)

				return
			}

			switch {
			case !bytes.Equal(payload, last):
				if err = writeEvent(w, Event{Action: "status", Payload: payload}); err != nil {
					return
				}

				last = payload
				lastWrite = time.Now()
			case time.Since(lastWrite) >= that.keepAlive:
				if _, err = w.WriteString(":\n\n"); err != nil {
					return
				}

				if err = w.Flush(); err != nil {
					return
				}

				lastWrite = time.Now()
			}

			select {
			case <-ticker.C:
			case <-done:
				return
			}
		}
	})

	return nil
}

func writeEvent(w *bufio.Writer, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Action, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	if err = w.Flush(); err != nil {
		return fmt.Errorf("client disconnected: %w", err)
	}

	return nil
}
