package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/rocketscienceinc/rps-backend/internal/config"
	"github.com/rocketscienceinc/rps-backend/internal/repository"
	"github.com/rocketscienceinc/rps-backend/internal/repository/storage"
	"github.com/rocketscienceinc/rps-backend/internal/service"
	"github.com/rocketscienceinc/rps-backend/internal/usecase"
	"github.com/rocketscienceinc/rps-backend/transport/rest"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.NewRedisStorage(ctx, storage.RedisOptions{
		Addr:     redisAddrString,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	clock := clockwork.NewRealClock()

	roomRepo := repository.NewRoomRepository(logger, redisStorage.Connection)
	playerRepo := repository.NewRoomPlayerRepository(logger, redisStorage.Connection)
	queueRepo := repository.NewQueueRepository(redisStorage.Connection)
	profileRepo := repository.NewProfileRepository(redisStorage.Connection)
	practiceRepo := repository.NewPracticeStatsRepository(redisStorage.Connection)
	notifier := repository.NewNotifier(redisStorage.Connection)

	ratingService := service.NewRatingService(logger, profileRepo).WithLeaderboardSize(conf.Rating.LeaderboardSize)
	practiceService := service.NewPracticeService(
		logger,
		practiceRepo,
		rand.New(rand.NewSource(clock.Now().UnixNano())), //nolint: gosec // bot exploration
		conf.Practice.Exploration,
	)

	matchmaker := service.NewMatchmaker(logger, clock, service.MatchmakerConfig{
		PollInterval: conf.Matchmaking.PollInterval,
		Timeout:      conf.Matchmaking.Timeout,
		ClaimTTL:     conf.Matchmaking.ClaimTTL,
	}, queueRepo, roomRepo, playerRepo)

	stores := service.MatchStores{
		Rooms:    roomRepo,
		Players:  playerRepo,
		Notifier: notifier,
		Rating:   ratingService,
	}
	timings := service.MatchTimings{
		RoundTimeout: conf.Match.RoundTimeout,
		Buffer:       conf.Match.Buffer,
		ResultHold:   conf.Match.ResultHold,
		VoteWindow:   conf.Match.VoteWindow,
		Poll:         conf.Match.Poll,
	}
	newMatch := func(roomID, userID string) *service.Match {
		return service.NewMatch(logger, clock, stores, timings, roomID, userID)
	}

	arena := usecase.NewArena(logger, matchmaker, ratingService, practiceService, newMatch)
	defer arena.Close()

	janitor := service.NewQueueJanitor(logger, clock, queueRepo, conf.Matchmaking.Timeout)

	scheduler, err := startJanitor(ctx, log, clock, janitor, conf)
	if err != nil {
		return err
	}

	defer func() {
		if err = scheduler.Shutdown(); err != nil {
			log.Error("could not stop scheduler", "error", err)
		}
	}()

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		httpServer := rest.New(logger, arena)
		if httpErr := httpServer.Start(ctx, conf.HTTPPort); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}

// startJanitor - schedules the periodic sweep of abandoned queue entries.
func startJanitor(ctx context.Context, log *slog.Logger, clock clockwork.Clock, janitor *service.QueueJanitor, conf *config.Config) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(conf.Matchmaking.JanitorInterval),
		gocron.NewTask(func() {
			if _, sweepErr := janitor.Sweep(ctx); sweepErr != nil {
				log.Error("queue sweep failed", "error", sweepErr)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule queue janitor: %w", err)
	}

	scheduler.Start()

	return scheduler, nil
}
