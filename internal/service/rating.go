package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
	"github.com/rocketscienceinc/rps-backend/internal/entity"
	"github.com/rocketscienceinc/rps-backend/internal/rps"
)

const DefaultLeaderboardSize = 10

type profileRepo interface {
	GetOrCreate(ctx context.Context, id string) (*entity.Profile, error)
	SaveResult(ctx context.Context, id string, rating int, result entity.Outcome) error
	Top(ctx context.Context, limit int) ([]*entity.Profile, error)
}

type RatingService struct {
	logger          *slog.Logger
	profiles        profileRepo
	leaderboardSize int
}

func NewRatingService(logger *slog.Logger, profiles profileRepo) *RatingService {
	return &RatingService{
		logger:          logger.With("component", "rating"),
		profiles:        profiles,
		leaderboardSize: DefaultLeaderboardSize,
	}
}

// WithLeaderboardSize - sets the leaderboard length used when no limit is requested.
func (that *RatingService) WithLeaderboardSize(size int) *RatingService {
	if size > 0 {
		that.leaderboardSize = size
	}

	return that
}

// Profile - profile of id, created at the default rating on first access.
func (that *RatingService) Profile(ctx context.Context, id string) (*entity.Profile, error) {
	profile, err := that.profiles.GetOrCreate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return profile, nil
}

func (that *RatingService) Rating(ctx context.Context, id string) (int, error) {
	profile, err := that.Profile(ctx, id)
	if err != nil {
		return 0, err
	}

	return profile.Rating, nil
}

// Apply - updates the rating of selfID after a finished match. Only the caller's own
// profile is written; the opponent's client updates theirs.
func (that *RatingService) Apply(ctx context.Context, selfID string, opponentRating int, result entity.Outcome) (*entity.Profile, error) {
	log := that.logger.With("method", "Apply")

	profile, err := that.Profile(ctx, selfID)
	if err != nil {
		return nil, err
	}

	rating := rps.UpdateRating(profile.Rating, opponentRating, result == entity.OutcomeWin)
	if err = that.profiles.SaveResult(ctx, selfID, rating, result); err != nil {
		return nil, apperror.StoreWrite(fmt.Errorf("failed to save rating: %w", err))
	}

	log.Info("rating updated", "user_id", selfID, "from", profile.Rating, "to", rating, "result", result)

	profile.Rating = rating
	switch result {
	case entity.OutcomeWin:
		profile.Wins++
	case entity.OutcomeLose:
		profile.Losses++
	}

	return profile, nil
}

// Leaderboard - top limit profiles by rating.
func (that *RatingService) Leaderboard(ctx context.Context, limit int) ([]*entity.Profile, error) {
	if limit <= 0 {
		limit = that.leaderboardSize
	}

	profiles, err := that.profiles.Top(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}

	return profiles, nil
}
