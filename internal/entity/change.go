package entity

const (
	TableProfiles    = "profiles"
	TableQueue       = "matchmaking_queue"
	TableRooms       = "rooms"
	TableRoomPlayers = "room_players"
)

const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// Change is a notification that a row changed. Consumers re-read the row instead of
// trusting the payload, so duplicate or reordered delivery is harmless.
type Change struct {
	Table  string `json:"table"`
	Kind   string `json:"kind"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id,omitempty"`
}

// Channel - pub/sub channel carrying changes of table rows that belong to roomID.
func Channel(table, roomID string) string {
	return table + ":" + roomID
}
