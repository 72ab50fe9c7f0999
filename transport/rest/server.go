package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP surface of the arena.
type Server struct {
	logger   *slog.Logger
	app      *fiber.App
	handlers *Handlers
}

// New - builds the app. No write timeout: fasthttp applies it to the whole streamed response.
func New(logger *slog.Logger, arena arena) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		IdleTimeout:           30 * time.Second,
	})

	app.Use(recover.New())

	handlers := NewHandlers(logger, arena)
	handlers.Register(app)

	return &Server{
		logger:   logger.With("component", "rest"),
		app:      app,
		handlers: handlers,
	}
}

// Start - serves on port until ctx is done, then shuts the server down.
func (that *Server) Start(ctx context.Context, port string) error {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", port, err)
	}

	return that.Serve(ctx, ln)
}

// Serve - like Start on an already open listener.
func (that *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- that.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		return nil
	case <-ctx.Done():
		that.logger.Info("shutting down HTTP server")

		if err := that.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}

		return nil
	}
}
