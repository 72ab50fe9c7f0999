package rest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/rps-backend/internal/usecase"
)

func TestWriteEvent(t *testing.T) {
	// Given: a status payload
	payload, err := json.Marshal(usecase.Status{State: usecase.StateSearching})
	require.NoError(t, err)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	// When: it is written as an event
	require.NoError(t, writeEvent(w, Event{Action: "status", Payload: payload}))

	// Then: it is framed as a flushed server sent event
	assert.Equal(t,
		"event: status\ndata: {\"action\":\"status\",\"payload\":{\"state\":\"searching\"}}\n\n",
		buf.String(),
	)
}

type streamRead struct {
	states     []string
	keepAlives int
	err        error
}

// readStream - reads events until want states and one keep-alive were seen.
func readStream(body io.Reader, want int) streamRead {
	var read streamRead

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == ":":
			read.keepAlives++
		case strings.HasPrefix(line, "data: "):
			var event struct {
				Payload usecase.Status `json:"payload"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				read.err = err

				return read
			}

			read.states = append(read.states, event.Payload.State)
		}

		if len(read.states) >= want && read.keepAlives > 0 {
			return read
		}
	}

	read.err = scanner.Err()

	return read
}

func TestStreamStatus(t *testing.T) {
	// Given: a user whose status changes once and then settles
	arena := &mockArena{}
	arena.On("Status", "u1").Return(usecase.Status{State: usecase.StateSearching}).Once()
	arena.On("Status", "u1").Return(usecase.Status{State: usecase.StateMatched})

	server := New(slog.New(slog.NewJSONHandler(io.Discard, nil)), arena)
	server.handlers.statusPoll = 10 * time.Millisecond
	server.handlers.keepAlive = 50 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx, ln)
	}()

	// When: a client follows the stream
	resp, err := http.Get("http://" + ln.Addr().String() + "/matches/u1/events") //nolint: noctx // test client
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reads := make(chan streamRead, 1)
	go func() {
		reads <- readStream(resp.Body, 2)
	}()

	// Then: each change is pushed once, then keep-alives hold the connection open
	select {
	case read := <-reads:
		require.NoError(t, read.err)
		assert.Equal(t, []string{usecase.StateSearching, usecase.StateMatched}, read.states)
		assert.Positive(t, read.keepAlives)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not deliver the status changes")
	}

	require.NoError(t, resp.Body.Close())

	// When: the host shuts down
	cancel()

	select {
	case err = <-served:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNew_StreamsHaveNoWriteDeadline(t *testing.T) {
	server := New(slog.New(slog.NewJSONHandler(io.Discard, nil)), &mockArena{})

	assert.Zero(t, server.app.Config().WriteTimeout)
}
