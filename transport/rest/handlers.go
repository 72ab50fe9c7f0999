package rest

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
	"github.com/rocketscienceinc/rps-backend/internal/service"
	"github.com/rocketscienceinc/rps-backend/internal/usecase"
)

type arena interface {
	Profile(ctx context.Context, userID string) (*entity.Profile, error)
	Leaderboard(ctx context.Context, limit int) ([]*entity.Profile, error)

	JoinQueue(ctx context.Context, userID string, rounds int) (*entity.QueueEntry, error)
	LeaveQueue(ctx context.Context, userID string) error
	Status(userID string) usecase.Status

	SubmitMove(ctx context.Context, userID string, move entity.Move) (*service.MatchView, error)
	CastVote(ctx context.Context, userID string, accept bool) (*service.MatchView, error)
	LeaveMatch(ctx context.Context, userID string) error

	StartPractice(userID string, rounds int) (*service.PracticeGame, error)
	PlayPractice(ctx context.Context, gameID string, move entity.Move) (*service.PracticeGame, error)
	PracticeStats(ctx context.Context, userID string) (*entity.PracticeStats, error)
}

type queueRequest struct {
	UserID string `json:"user_id"`
	Rounds int    `json:"rounds"`
}

type moveRequest struct {
	Move string `json:"move"`
}

type voteRequest struct {
	Accept bool `json:"accept"`
}

type Handlers struct {
	logger *slog.Logger
	arena  arena

	statusPoll time.Duration
	keepAlive  time.Duration
}

func NewHandlers(logger *slog.Logger, arena arena) *Handlers {
	return &Handlers{
		logger:     logger.With("component", "rest_handlers"),
		arena:      arena,
		statusPoll: statusPollInterval,
		keepAlive:  keepAliveInterval,
	}
}

// Register - mounts every route on app.
func (that *Handlers) Register(app *fiber.App) {
	app.Get("/ping", that.Ping)

	app.Get("/profiles/:id", that.GetProfile)
	app.Get("/leaderboard", that.GetLeaderboard)

	app.Post("/queue", that.JoinQueue)
	app.Delete("/queue/:id", that.LeaveQueue)

	app.Get("/matches/:user", that.GetStatus)
	app.Get("/matches/:user/events", that.StreamStatus)
	app.Post("/matches/:user/move", that.SubmitMove)
	app.Post("/matches/:user/vote", that.CastVote)
	app.Delete("/matches/:user", that.LeaveMatch)

	app.Post("/practice", that.StartPractice)
	app.Post("/practice/:id/move", that.PlayPractice)
	app.Get("/practice/stats/:user", that.GetPracticeStats)
}

func (that *Handlers) Ping(c *fiber.Ctx) error {
	return c.SendString("pong")
}

func (that *Handlers) GetProfile(c *fiber.Ctx) error {
	profile, err := that.arena.Profile(c.UserContext(), c.Params("id"))
	if err != nil {
		return that.fail(c, err)
	}

	return c.JSON(profile)
}

func (that *Handlers) GetLeaderboard(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "0"))
	if err != nil || limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
	}

	top, err := that.arena.Leaderboard(c.UserContext(), limit)
	if err != nil {
		return that.fail(c, err)
	}

	return c.JSON(top)
}

func (that *Handlers) JoinQueue(c *fiber.Ctx) error {
	var req queueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}

	entry, err := that.arena.JoinQueue(c.UserContext(), req.UserID, req.Rounds)
	if err != nil {
		return that.fail(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(entry)
}

func (that *Handlers) LeaveQueue(c *fiber.Ctx) error {
	if err := that.arena.LeaveQueue(c.UserContext(), c.Params("id")); err != nil {
		return that.fail(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (that *Handlers) GetStatus(c *fiber.Ctx) error {
	return c.JSON(that.arena.Status(c.Params("user")))
}

func (that *Handlers) SubmitMove(c *fiber.Ctx) error {
	var req moveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	move, err := entity.ParseMove(req.Move)
	if err != nil {
		return that.fail(c, err)
	}

	view, err := that.arena.SubmitMove(c.UserContext(), c.Params("user"), move)
	if err != nil {
		return that.fail(c, err)
	}

	return c.JSON(view)
}

func (that *Handlers) CastVote(c *fiber.Ctx) error {
	var req voteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	view, err := that.arena.CastVote(c.UserContext(), c.Params("user"), req.Accept)
	if err != nil {
		return that.fail(c, err)
	}

	return c.JSON(view)
}

func (that *Handlers) LeaveMatch(c *fiber.Ctx) error {
	if err := that.arena.LeaveMatch(c.UserContext(), c.Params("user")); err != nil {
		return that.fail(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (that *Handlers) StartPractice(c *fiber.Ctx) error {
	var req queueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}

	game, err := that.arena.StartPractice(req.UserID, req.Rounds)
	if err != nil {
		return that.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(game)
}

// PlayPractice - an empty move plays a forced move for an expired round timer.
func (that *Handlers) PlayPractice(c *fiber.Ctx) error {
	var req moveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	move := entity.NoMove
	if req.Move != "" {
		parsed, err := entity.ParseMove(req.Move)
		if err != nil {
			return that.fail(c, err)
		}

		move = parsed
	}

	game, err := that.arena.PlayPractice(c.UserContext(), c.Params("id"), move)
	if err != nil {
		return that.fail(c, err)
	}

	return c.JSON(game)
}

func (that *Handlers) GetPracticeStats(c *fiber.Ctx) error {
	stats, err := that.arena.PracticeStats(c.UserContext(), c.Params("user"))
	if err != nil {
		return that.fail(c, err)
	}

	return c.JSON(stats)
}

func (that *Handlers) fail(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	if status >= fiber.StatusInternalServerError {
		that.logger.Error("request failed", "path", c.Path(), "error", err)
	}

	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperror.ErrInvalidMove),
		errors.Is(err, apperror.ErrInvalidRounds):
		return fiber.StatusBadRequest
	case errors.Is(err, apperror.ErrAlreadyQueued),
		errors.Is(err, apperror.ErrMoveAlreadySubmitted),
		errors.Is(err, apperror.ErrAlreadyVoted),
		errors.Is(err, apperror.ErrNotPlaying),
		errors.Is(err, apperror.ErrVoteClosed),
		errors.Is(err, apperror.ErrMatchClosed),
		errors.Is(err, apperror.ErrGameFinished):
		return fiber.StatusConflict
	case errors.Is(err, apperror.ErrStoreWrite):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
