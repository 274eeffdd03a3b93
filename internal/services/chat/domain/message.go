// Package domain models chat messages and the moderation verdicts attached
// to them.
//
// Records are intentionally value-first: the pipeline builds an immutable
// Message once per inbound send and every downstream consumer (store,
// broadcast fan-out) works from that value.
package domain

import (
	"errors"
	"strings"
	"time"
)

// ModerationStatus labels the outcome of a content-safety check.
type ModerationStatus string

const (
	// ModerationSafe marks content the classifier accepted.
	ModerationSafe ModerationStatus = "safe"
	// ModerationUnsafe marks content the classifier flagged.
	ModerationUnsafe ModerationStatus = "unsafe"
	// ModerationError marks content whose classification failed; the message
	// is still delivered with this label.
	ModerationError ModerationStatus = "error"
	// ModerationSkipped marks content sent while no classifier is configured.
	ModerationSkipped ModerationStatus = "skipped"
)

// ReasonNone is the verdict reason attached to safe content.
const ReasonNone = "N/A"

// Verdict is the labeled moderation outcome embedded into every message.
type Verdict struct {
	Status ModerationStatus
	Reason string
}

var (
	// ErrEmptyRoom indicates a room name is required.
	ErrEmptyRoom = errors.New("room is required")
	// ErrEmptyUserID indicates a user id is required.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrEmptyUsername indicates a display name is required.
	ErrEmptyUsername = errors.New("username is required")
	// ErrEmptyBody indicates message text is required.
	ErrEmptyBody = errors.New("message is required")
)

// Message is the write-once chat record built for each accepted send.
type Message struct {
	ID       string
	Room     string
	UserID   string
	Username string
	Body     string
	Verdict  Verdict
	SentAt   time.Time
}

// JoinInput captures client-provided fields for joining a room.
type JoinInput struct {
	Room     string
	UserID   string
	Username string
}

// LeaveInput captures client-provided fields for leaving a room.
type LeaveInput struct {
	Room   string
	UserID string
}

// SendInput captures client-provided fields for sending a message.
type SendInput struct {
	Room     string
	UserID   string
	Username string
	Body     string
}

// NormalizeJoinInput validates and canonicalizes join input.
func NormalizeJoinInput(input JoinInput) (JoinInput, error) {
	input.Room = strings.TrimSpace(input.Room)
	if input.Room == "" {
		return JoinInput{}, ErrEmptyRoom
	}
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		return JoinInput{}, ErrEmptyUserID
	}
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" {
		return JoinInput{}, ErrEmptyUsername
	}
	return input, nil
}

// NormalizeLeaveInput validates and canonicalizes leave input.
func NormalizeLeaveInput(input LeaveInput) (LeaveInput, error) {
	input.Room = strings.TrimSpace(input.Room)
	if input.Room == "" {
		return LeaveInput{}, ErrEmptyRoom
	}
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		return LeaveInput{}, ErrEmptyUserID
	}
	return input, nil
}

// NormalizeSendInput validates and canonicalizes send input.
func NormalizeSendInput(input SendInput) (SendInput, error) {
	input.Room = strings.TrimSpace(input.Room)
	if input.Room == "" {
		return SendInput{}, ErrEmptyRoom
	}
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		return SendInput{}, ErrEmptyUserID
	}
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" {
		return SendInput{}, ErrEmptyUsername
	}
	input.Body = strings.TrimSpace(input.Body)
	if input.Body == "" {
		return SendInput{}, ErrEmptyBody
	}
	return input, nil
}
