package service

import (
	"math/rand"
	"strings"

	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

const DefaultExploration = 0.15

// continuations counts what the human played after one move sequence. order keeps the
// first-seen order of the continuation moves.
type continuations struct {
	order  []entity.Move
	counts map[entity.Move]int
}

func (that *continuations) add(move entity.Move) {
	if _, ok := that.counts[move]; !ok {
		that.order = append(that.order, move)
	}

	that.counts[move]++
}

// best - most frequent continuation, earliest seen wins a tie.
func (that *continuations) best() entity.Move {
	best, bestCount := entity.NoMove, 0
	for _, move := range that.order {
		if that.counts[move] > bestCount {
			best, bestCount = move, that.counts[move]
		}
	}

	return best
}

// AdaptiveBot predicts the human's next move from 2-gram and 3-gram sequences of their
// history and plays the move that beats it. It is not safe for concurrent use.
type AdaptiveBot struct {
	rnd     *rand.Rand
	epsilon float64

	history  []entity.Move
	patterns map[string]*continuations
}

func NewAdaptiveBot(rnd *rand.Rand, epsilon float64) *AdaptiveBot {
	return &AdaptiveBot{
		rnd:      rnd,
		epsilon:  epsilon,
		patterns: make(map[string]*continuations),
	}
}

func sequenceKey(moves []entity.Move) string {
	parts := make([]string, len(moves))
	for i, move := range moves {
		parts[i] = string(move)
	}

	return strings.Join(parts, ",")
}

// RecordMove - ingests the human's latest move.
func (that *AdaptiveBot) RecordMove(move entity.Move) {
	if !move.IsValid() {
		return
	}

	that.history = append(that.history, move)

	last := len(that.history) - 1
	for _, size := range []int{2, 3} {
		if last < size {
			continue
		}

		key := sequenceKey(that.history[last-size : last])
		table, ok := that.patterns[key]
		if !ok {
			table = &continuations{counts: make(map[entity.Move]int)}
			that.patterns[key] = table
		}

		table.add(move)
	}
}

// predict - most likely next human move, false when no pattern matches.
func (that *AdaptiveBot) predict() (entity.Move, bool) {
	for _, size := range []int{3, 2} {
		if len(that.history) < size {
			continue
		}

		table, ok := that.patterns[sequenceKey(that.history[len(that.history)-size:])]
		if !ok {
			continue
		}

		if move := table.best(); move != entity.NoMove {
			return move, true
		}
	}

	return entity.NoMove, false
}

func (that *AdaptiveBot) randomMove() entity.Move {
	return entity.Moves[that.rnd.Intn(len(entity.Moves))]
}

// PredictCounter - the bot's next move.
func (that *AdaptiveBot) PredictCounter() entity.Move {
	if len(that.history) < 2 || that.rnd.Float64() < that.epsilon {
		return that.randomMove()
	}

	predicted, ok := that.predict()
	if !ok {
		return that.randomMove()
	}

	return predicted.Counter()
}

// History - copy of the moves recorded so far.
func (that *AdaptiveBot) History() []entity.Move {
	return append([]entity.Move(nil), that.history...)
}
