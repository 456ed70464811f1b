package todos

import (
	"time"
)

// Item is a single user-owned task. JSON names match the stored format.
type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary counts the items of the active collection.
type Summary struct {
	Total     int
	Completed int
	Pending   int
}

// StorageKey is the key-value key holding the collection of userID.
func StorageKey(userID string) string {
	return "todos_" + userID
}
