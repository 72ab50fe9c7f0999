package rps

import (
	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

// Resolve - outcome of a round from the point of view of the player who played self.
func Resolve(self, opponent entity.Move) entity.Outcome {
	switch {
	case self == opponent:
		return entity.OutcomeTie
	case self.Beats(opponent):
		return entity.OutcomeWin
	default:
		return entity.OutcomeLose
	}
}

// IsDecided - reports whether the match is over after round was resolved with the given scores.
func IsDecided(room *entity.Room, round, selfScore, opponentScore int) bool {
	threshold := room.WinThreshold()
	if selfScore >= threshold || opponentScore >= threshold {
		return true
	}

	return round >= room.TotalRounds
}

// MatchResult - final outcome by raw score.
func MatchResult(selfScore, opponentScore int) entity.Outcome {
	switch {
	case selfScore > opponentScore:
		return entity.OutcomeWin
	case selfScore < opponentScore:
		return entity.OutcomeLose
	default:
		return entity.OutcomeTie
	}
}
