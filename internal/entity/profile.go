package entity

import "time"

const DefaultRating = 1200

type Profile struct {
	ID     string `json:"id"`
	Rating int    `json:"rating"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
}

type QueueEntry struct {
	UserID    string    `json:"user_id"`
	Rating    int       `json:"rating"`
	Rounds    int       `json:"rounds"`
	JoinedAt  time.Time `json:"joined_at"`
	ClaimedBy string    `json:"claimed_by,omitempty"`
	ClaimedAt time.Time `json:"claimed_at,omitempty"`
}

// IsClaimed - reports whether a claim on the entry is still live at now.
func (that *QueueEntry) IsClaimed(now time.Time, ttl time.Duration) bool {
	return that.ClaimedBy != "" && now.Sub(that.ClaimedAt) < ttl
}

type PracticeStats struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Streak int `json:"streak"`
}
