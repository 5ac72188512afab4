package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ConversationRecord is a serialized conversation memory. Data holds the JSON
// document; the other columns exist for indexing.
type ConversationRecord struct {
	ID        string
	UserID    string
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
