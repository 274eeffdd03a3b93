// Package storage defines the persistence contract for chat messages.
//
// The interface keeps the pipeline and join-history paths separate from
// storage technology; durability is best-effort by design, so callers treat
// append failures as reportable rather than fatal.
package storage

import (
	"context"
	"time"
)

// MessageRecord stores one persisted chat message with its moderation verdict.
type MessageRecord struct {
	ID               string
	Room             string
	UserID           string
	Username         string
	Body             string
	ModerationStatus string
	ModerationReason string
	SentAt           time.Time
}

// MessageStore is an append-only collection of chat messages.
type MessageStore interface {
	// AppendMessage persists a record and returns its id. When the record
	// carries no id the store assigns one.
	AppendMessage(ctx context.Context, record MessageRecord) (string, error)

	// RecentMessages returns up to limit of the newest messages for a room,
	// ordered by ascending send time.
	RecentMessages(ctx context.Context, room string, limit int) ([]MessageRecord, error)
}
