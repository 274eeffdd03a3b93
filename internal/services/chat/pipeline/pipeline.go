// Package pipeline drives a chat message from intake through moderation,
// persistence, and fan-out.
//
// Two consistency trade-offs are deliberate. Moderation runs before the
// message is visible anywhere, so a slow verdict delays only the sender's
// message and concurrent senders may interleave out of wall-clock order.
// Persistence is best-effort: a failed write is reported to the sender but
// the moderated message still reaches the room.
package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/gatechat/gatechat/internal/platform/id"
	"github.com/gatechat/gatechat/internal/platform/timeouts"
	"github.com/gatechat/gatechat/internal/services/chat/domain"
	"github.com/gatechat/gatechat/internal/services/chat/storage"
)

// ErrorSender delivers an error notice to the originating connection.
type ErrorSender interface {
	SendError(message string)
}

// Broadcaster fans a finished message out to every subscriber of a room.
type Broadcaster interface {
	BroadcastMessage(room string, msg domain.Message)
}

// Moderator produces a verdict for one piece of message text.
type Moderator interface {
	Moderate(ctx context.Context, text string) domain.Verdict
}

// Pipeline runs inbound messages through moderation, storage, and broadcast.
type Pipeline struct {
	gate  Moderator
	store storage.MessageStore
	rooms Broadcaster
}

// New builds a Pipeline. The store may be nil, in which case messages are
// relayed without persistence.
func New(gate Moderator, store storage.MessageStore, rooms Broadcaster) *Pipeline {
	return &Pipeline{gate: gate, store: store, rooms: rooms}
}

// Handle processes one inbound message end to end.
func (p *Pipeline) Handle(ctx context.Context, input domain.SendInput, sender ErrorSender) {
	normalized, err := domain.NormalizeSendInput(input)
	if err != nil {
		sender.SendError("Room, userId, username, and message are required.")
		return
	}

	verdict := p.gate.Moderate(ctx, normalized.Body)

	messageID, err := id.NewID()
	if err != nil {
		log.Printf("generate message id: %v", err)
	}

	msg := domain.Message{
		ID:       messageID,
		Room:     normalized.Room,
		UserID:   normalized.UserID,
		Username: normalized.Username,
		Body:     normalized.Body,
		Verdict:  verdict,
		SentAt:   time.Now().UTC(),
	}

	if p.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, timeouts.Storage)
		storedID, err := p.store.AppendMessage(storeCtx, storage.MessageRecord{
			ID:               msg.ID,
			Room:             msg.Room,
			UserID:           msg.UserID,
			Username:         msg.Username,
			Body:             msg.Body,
			ModerationStatus: string(msg.Verdict.Status),
			ModerationReason: msg.Verdict.Reason,
			SentAt:           msg.SentAt,
		})
		cancel()
		if err != nil {
			log.Printf("append message in room %q: %v", msg.Room, err)
			sender.SendError("Failed to save message: " + err.Error())
		} else {
			msg.ID = storedID
		}
	}

	p.rooms.BroadcastMessage(msg.Room, msg)
	log.Printf("broadcast message from %q in room %q (status %s)", msg.Username, msg.Room, msg.Verdict.Status)
}
