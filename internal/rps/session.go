package rps

import (
	"github.com/rocketscienceinc/rps-backend/internal/entity"
)

// Snapshot is the shared state a client has observed: the room and both player rows.
// Self or Opponent may be nil when the row is missing.
type Snapshot struct {
	Room     entity.Room
	Self     *entity.RoomPlayer
	Opponent *entity.RoomPlayer
}

type RoundResult struct {
	Key          entity.RoundKey `json:"key"`
	SelfMove     entity.Move     `json:"self_move"`
	OpponentMove entity.Move     `json:"opponent_move"`
	Outcome      entity.Outcome  `json:"outcome"`
}

// Session is the client-local view of a match. It is never stored; Reconcile rebuilds it
// from a Snapshot and the local pending move at any time.
type Session struct {
	Epoch         int            `json:"epoch"`
	Round         int            `json:"round"`
	TotalRounds   int            `json:"total_rounds"`
	SelfScore     int            `json:"self_score"`
	OpponentScore int            `json:"opponent_score"`
	Results       []RoundResult  `json:"results"`
	SelfMove      entity.Move    `json:"self_move,omitempty"`
	OpponentMove  entity.Move    `json:"opponent_move,omitempty"`
	Outcome       entity.Outcome `json:"outcome,omitempty"`
	Finished      bool           `json:"finished"`
	Result        entity.Outcome `json:"result,omitempty"`
}

// Reconcile - derives the session for round of the snapshot's current epoch. A zero round
// means the room's current round. Rounds are replayed from 1 so the scores depend only on the
// moves both rows recorded.
func Reconcile(snap Snapshot, round int, pending entity.Move) Session {
	room := snap.Room
	if round == 0 {
		round = room.CurrentRound
	}

	session := Session{
		Epoch:       room.RematchCount,
		Round:       round,
		TotalRounds: room.TotalRounds,
	}

	for r := 1; r <= round; r++ {
		key := entity.RoundKey{Epoch: room.RematchCount, Round: r}
		selfMove, opponentMove := snap.Self.MoveAt(key), snap.Opponent.MoveAt(key)

		if r == round {
			session.SelfMove = selfMove
			if session.SelfMove == entity.NoMove {
				session.SelfMove = pending
			}
		}

		if selfMove == entity.NoMove || opponentMove == entity.NoMove {
			break
		}

		result := RoundResult{
			Key:          key,
			SelfMove:     selfMove,
			OpponentMove: opponentMove,
			Outcome:      Resolve(selfMove, opponentMove),
		}
		session.Results = append(session.Results, result)

		switch result.Outcome {
		case entity.OutcomeWin:
			session.SelfScore++
		case entity.OutcomeLose:
			session.OpponentScore++
		}

		if r == round {
			session.OpponentMove = opponentMove
			session.Outcome = result.Outcome
		}

		if IsDecided(&room, r, session.SelfScore, session.OpponentScore) {
			session.Finished = true
			session.Result = MatchResult(session.SelfScore, session.OpponentScore)
			break
		}
	}

	return session
}

// RoundResolved - reports whether both moves for the session's round are known.
func (that Session) RoundResolved() bool {
	return that.Outcome != ""
}
