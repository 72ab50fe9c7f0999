package entity

import (
	"fmt"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
)

const (
	StatusWaiting  = "waiting"
	StatusPlaying  = "playing"
	StatusFinished = "finished"
)

const PlayersPerRoom = 2

// SupportedRounds lists the match lengths a player may queue for.
var SupportedRounds = []int{3, 5, 7, 9}

type Room struct {
	ID           string `json:"id"`
	TotalRounds  int    `json:"total_rounds"`
	CurrentRound int    `json:"current_round"`
	Status       string `json:"status"`
	RematchCount int    `json:"rematch_count"`
}

// RoomPatch - partial update of a room row, nil fields are left untouched.
type RoomPatch struct {
	CurrentRound *int
	Status       *string
	RematchCount *int
}

// RoomCondition - guard evaluated by the store before applying a RoomPatch.
// Zero values mean "any".
type RoomCondition struct {
	Status       string
	CurrentRound int
	RematchCount *int
}

func NewRoom(id string, totalRounds int) *Room {
	return &Room{
		ID:           id,
		TotalRounds:  totalRounds,
		CurrentRound: 1,
		Status:       StatusWaiting,
	}
}

func ValidateRounds(rounds int) error {
	for _, supported := range SupportedRounds {
		if rounds == supported {
			return nil
		}
	}

	return fmt.Errorf("%w: %d", apperror.ErrInvalidRounds, rounds)
}

// WinThreshold - wins needed to take the match, ceil(total/2).
func (that *Room) WinThreshold() int {
	return (that.TotalRounds + 1) / 2
}

func (that *Room) IsWaiting() bool {
	return that.Status == StatusWaiting
}

func (that *Room) IsPlaying() bool {
	return that.Status == StatusPlaying
}

func (that *Room) IsFinished() bool {
	return that.Status == StatusFinished
}

// CurrentKey - key of the round the room currently points at.
func (that *Room) CurrentKey() RoundKey {
	return RoundKey{Epoch: that.RematchCount, Round: that.CurrentRound}
}

// Matches - reports whether the room satisfies cond.
func (that RoomCondition) Matches(room *Room) bool {
	if that.Status != "" && room.Status != that.Status {
		return false
	}

	if that.CurrentRound != 0 && room.CurrentRound != that.CurrentRound {
		return false
	}

	if that.RematchCount != nil && room.RematchCount != *that.RematchCount {
		return false
	}

	return true
}

// Apply - writes the non-nil patch fields into room.
func (that RoomPatch) Apply(room *Room) {
	if that.CurrentRound != nil {
		room.CurrentRound = *that.CurrentRound
	}

	if that.Status != nil {
		room.Status = *that.Status
	}

	if that.RematchCount != nil {
		room.RematchCount = *that.RematchCount
	}
}
