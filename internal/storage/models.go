package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QueryRecord is one persisted question/answer exchange. Records are
// immutable after insert: the only mutations the store supports are
// SaveQuery and ClearHistory.
type QueryRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`
	Method    string    `json:"method"` // "local" or "global"; stored verbatim
	Response  string    `json:"response"`
}
