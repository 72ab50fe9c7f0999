package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
	"github.com/rocketscienceinc/rps-backend/internal/rps"
)

type practiceStatsRepo interface {
	Get(ctx context.Context, userID string) (*entity.PracticeStats, error)
	Record(ctx context.Context, userID string, result entity.Outcome) (*entity.PracticeStats, error)
}

// PracticeGame is a best-of-N game against the adaptive bot. Self is the human.
type PracticeGame struct {
	ID            string                `json:"id"`
	UserID        string                `json:"user_id"`
	TotalRounds   int                   `json:"total_rounds"`
	Round         int                   `json:"round"`
	SelfScore     int                   `json:"self_score"`
	OpponentScore int                   `json:"opponent_score"`
	Results       []rps.RoundResult     `json:"results"`
	Finished      bool                  `json:"finished"`
	Result        entity.Outcome        `json:"result,omitempty"`
	Stats         *entity.PracticeStats `json:"stats,omitempty"`

	bot *AdaptiveBot
}

type PracticeService struct {
	logger *slog.Logger
	stats  practiceStatsRepo

	mu      sync.Mutex
	rnd     *rand.Rand
	epsilon float64
	games   map[string]*PracticeGame
	byUser  map[string]string
}

func NewPracticeService(logger *slog.Logger, stats practiceStatsRepo, rnd *rand.Rand, epsilon float64) *PracticeService {
	return &PracticeService{
		logger:  logger.With("component", "practice"),
		stats:   stats,
		rnd:     rnd,
		epsilon: epsilon,
		games:   make(map[string]*PracticeGame),
		byUser:  make(map[string]string),
	}
}

// Start - opens a practice game for userID, dropping any previous one.
func (that *PracticeService) Start(userID string, rounds int) (*PracticeGame, error) {
	if err := entity.ValidateRounds(rounds); err != nil {
		return nil, err
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	game := &PracticeGame{
		ID:          uuid.NewString(),
		UserID:      userID,
		TotalRounds: rounds,
		Round:       1,
		bot:         NewAdaptiveBot(rand.New(rand.NewSource(that.rnd.Int63())), that.epsilon), //nolint: gosec // game randomness
	}

	if previous, ok := that.byUser[userID]; ok {
		delete(that.games, previous)
	}

	that.games[game.ID] = game
	that.byUser[userID] = game.ID

	that.logger.Debug("practice game started", "game_id", game.ID, "user_id", userID, "rounds", rounds)

	return game.copy(), nil
}

// Play - plays one round. The bot commits to its move before learning the human's.
func (that *PracticeService) Play(ctx context.Context, gameID string, move entity.Move) (*PracticeGame, error) {
	log := that.logger.With("method", "Play")

	if !move.IsValid() {
		return nil, fmt.Errorf("%w: %q", apperror.ErrInvalidMove, move)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	game, ok := that.games[gameID]
	if !ok {
		return nil, fmt.Errorf("practice game %w", apperror.ErrNotFound)
	}

	if game.Finished {
		return nil, apperror.ErrGameFinished
	}

	botMove := game.bot.PredictCounter()
	game.bot.RecordMove(move)

	result := rps.RoundResult{
		Key:          entity.RoundKey{Round: game.Round},
		SelfMove:     move,
		OpponentMove: botMove,
		Outcome:      rps.Resolve(move, botMove),
	}
	game.Results = append(game.Results, result)

	switch result.Outcome {
	case entity.OutcomeWin:
		game.SelfScore++
	case entity.OutcomeLose:
		game.OpponentScore++
	}

	room := entity.Room{TotalRounds: game.TotalRounds}
	if !rps.IsDecided(&room, game.Round, game.SelfScore, game.OpponentScore) {
		game.Round++

		return game.copy(), nil
	}

	game.Finished = true
	game.Result = rps.MatchResult(game.SelfScore, game.OpponentScore)

	stats, err := that.stats.Record(ctx, game.UserID, game.Result)
	if err != nil {
		log.Error("failed to record practice result", "game_id", gameID, "error", err)

		return game.copy(), apperror.StoreWrite(err)
	}

	game.Stats = stats

	return game.copy(), nil
}

// AutoMove - move played for a human who let the round timer expire: the head of a fresh
// shuffle of all moves.
func (that *PracticeService) AutoMove() entity.Move {
	that.mu.Lock()
	defer that.mu.Unlock()

	return shuffledMoves(that.rnd)[0]
}

// Stats - practice record of userID.
func (that *PracticeService) Stats(ctx context.Context, userID string) (*entity.PracticeStats, error) {
	stats, err := that.stats.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get practice stats: %w", err)
	}

	return stats, nil
}

func shuffledMoves(rnd *rand.Rand) []entity.Move {
	moves := entity.Moves
	rnd.Shuffle(len(moves), func(i, j int) { moves[i], moves[j] = moves[j], moves[i] })

	return moves[:]
}

func (that *PracticeGame) copy() *PracticeGame {
	clone := *that
	clone.Results = append([]rps.RoundResult(nil), that.Results...)
	clone.bot = nil

	return &clone
}
