package entity

import (
	"fmt"

	"github.com/rocketscienceinc/rps-backend/internal/apperror"
)

type Move string

const (
	NoMove   Move = ""
	Rock     Move = "rock"
	Paper    Move = "paper"
	Scissors Move = "scissors"
)

// Moves lists the playable moves in their canonical order.
var Moves = [3]Move{Rock, Paper, Scissors}

// beats maps each move to the move it defeats.
var beats = map[Move]Move{
	Rock:     Scissors,
	Paper:    Rock,
	Scissors: Paper,
}

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
	OutcomeTie  Outcome = "tie"
)

func ParseMove(raw string) (Move, error) {
	move := Move(raw)
	if !move.IsValid() {
		return NoMove, fmt.Errorf("%w: %q", apperror.ErrInvalidMove, raw)
	}

	return move, nil
}

func (that Move) IsValid() bool {
	_, ok := beats[that]
	return ok
}

// Beats - reports whether that defeats other.
func (that Move) Beats(other Move) bool {
	return that.IsValid() && beats[that] == other
}

// Counter - returns the move that defeats that.
func (that Move) Counter() Move {
	for winner, loser := range beats {
		if loser == that {
			return winner
		}
	}

	return NoMove
}
