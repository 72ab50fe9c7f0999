package apperror

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStoreWrite marks any rejected write to the shared store.
	ErrStoreWrite = errors.New("store write failure")

	ErrAlreadyQueued      = errors.New("player already has an active queue entry")
	ErrNotQueued          = errors.New("player is not in the queue")
	ErrMatchmakingTimeout = errors.New("no opponent found before the matchmaking deadline")
	ErrInvalidRounds      = errors.New("round count must be one of the supported odd values")

	ErrInvalidMove          = errors.New("invalid move")
	ErrNotPlaying           = errors.New("match is not accepting moves")
	ErrMoveAlreadySubmitted = errors.New("move already submitted for this round")
	ErrMatchClosed          = errors.New("match session is closed")

	ErrVoteClosed   = errors.New("rematch voting is not open")
	ErrAlreadyVoted = errors.New("rematch vote already cast")

	ErrGameFinished = errors.New("game is already finished")
)

// StoreWrite - tags err as a shared store write failure while keeping its chain.
func StoreWrite(err error) error {
	if err == nil {
		return nil
	}

	return errors.Join(ErrStoreWrite, err)
}
