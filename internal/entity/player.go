package entity

import (
	"fmt"
	"strconv"
	"strings"
)

type Vote string

const (
	NoVote      Vote = ""
	VoteAccept  Vote = "accept"
	VoteDecline Vote = "decline"
)

// RoundKey identifies one round of one game inside a room. Epoch is the room's
// rematch count when the round was played.
type RoundKey struct {
	Epoch int
	Round int
}

func (that RoundKey) String() string {
	return fmt.Sprintf("%d:%d", that.Epoch, that.Round)
}

func ParseRoundKey(raw string) (RoundKey, error) {
	epochRaw, roundRaw, ok := strings.Cut(raw, ":")
	if !ok {
		return RoundKey{}, fmt.Errorf("malformed round key %q", raw)
	}

	epoch, err := strconv.Atoi(epochRaw)
	if err != nil {
		return RoundKey{}, fmt.Errorf("malformed round key epoch %q: %w", raw, err)
	}

	round, err := strconv.Atoi(roundRaw)
	if err != nil {
		return RoundKey{}, fmt.Errorf("malformed round key round %q: %w", raw, err)
	}

	return RoundKey{Epoch: epoch, Round: round}, nil
}

// RoomPlayer is one participant's row in a room. Each client writes only its own row.
type RoomPlayer struct {
	RoomID string            `json:"room_id"`
	UserID string            `json:"user_id"`
	Moves  map[RoundKey]Move `json:"-"`
	Votes  map[int]Vote      `json:"-"`
}

func NewRoomPlayer(roomID, userID string) *RoomPlayer {
	return &RoomPlayer{
		RoomID: roomID,
		UserID: userID,
		Moves:  make(map[RoundKey]Move),
		Votes:  make(map[int]Vote),
	}
}

// MoveAt - move submitted for key, NoMove when none.
func (that *RoomPlayer) MoveAt(key RoundKey) Move {
	if that == nil {
		return NoMove
	}

	return that.Moves[key]
}

// VoteAt - rematch vote cast after the game of the given epoch.
func (that *RoomPlayer) VoteAt(epoch int) Vote {
	if that == nil {
		return NoVote
	}

	return that.Votes[epoch]
}
