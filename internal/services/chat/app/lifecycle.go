package server

import (
	"context"
	"errors"
	"log"

	"github.com/gatechat/gatechat/internal/platform/timeouts"
	"github.com/gatechat/gatechat/internal/services/chat/domain"
	"github.com/gatechat/gatechat/internal/services/chat/presence"
)

// historyLimit caps how many stored messages a joining client receives.
const historyLimit = 20

func (s *Server) handleJoin(ctx context.Context, session wsSession, payload joinPayload) {
	input, err := domain.NormalizeJoinInput(domain.JoinInput{
		Room:     payload.Room,
		UserID:   payload.UserID,
		Username: payload.Username,
	})
	if err != nil {
		session.peer.SendError("Room, userId, and username are required to join.")
		return
	}

	if err := s.presence.AddMember(session.connID, input.Room, input.UserID, input.Username); err != nil {
		if errors.Is(err, presence.ErrAlreadyJoined) {
			session.peer.SendError("Connection has already joined a room.")
			return
		}
		session.peer.SendError("Failed to join room.")
		return
	}

	s.hub.subscribe(input.Room, session.peer)
	log.Printf("%s joined room %q", input.Username, input.Room)

	s.hub.broadcast(input.Room, eventUserJoined, presencePayload{
		UserID:   input.UserID,
		Username: input.Username,
		Room:     input.Room,
	}, session.peer)

	s.sendHistory(ctx, session, input.Room)
}

// sendHistory delivers the recent room history to the joining peer only.
// A history failure does not undo the join.
func (s *Server) sendHistory(ctx context.Context, session wsSession, room string) {
	if s.store == nil {
		session.peer.SendError("Message store not available, cannot load history.")
		return
	}

	loadCtx, cancel := context.WithTimeout(ctx, timeouts.Storage)
	records, err := s.store.RecentMessages(loadCtx, room, historyLimit)
	cancel()
	if err != nil {
		log.Printf("load history for room %q: %v", room, err)
		session.peer.SendError("Failed to load chat history: " + err.Error())
		return
	}

	messages := make([]messagePayload, 0, len(records))
	for _, record := range records {
		status := record.ModerationStatus
		if status == "" {
			status = domain.ReasonNone
		}
		reason := record.ModerationReason
		if reason == "" {
			reason = domain.ReasonNone
		}
		messages = append(messages, messagePayload{
			UserID:           record.UserID,
			Username:         record.Username,
			Message:          record.Body,
			Timestamp:        record.SentAt.Format(timestampLayout),
			ModerationStatus: status,
			ModerationReason: reason,
		})
	}

	session.peer.sendEvent(eventChatHistory, historyPayload{Room: room, Messages: messages})
}

func (s *Server) handleLeave(session wsSession, payload leavePayload) {
	input, err := domain.NormalizeLeaveInput(domain.LeaveInput{
		Room:   payload.Room,
		UserID: payload.UserID,
	})
	if err != nil {
		session.peer.SendError("Room and userId are required to leave.")
		return
	}

	s.hub.unsubscribe(input.Room, session.peer)

	username, ok := s.presence.RemoveMember(session.connID, input.Room, input.UserID)
	if !ok {
		log.Printf("leave for unknown member %q in room %q", input.UserID, input.Room)
		return
	}

	log.Printf("%s left room %q", username, input.Room)
	s.hub.broadcast(input.Room, eventUserLeft, presencePayload{
		UserID:   input.UserID,
		Username: username,
		Room:     input.Room,
	}, session.peer)
}

// handleDisconnect cleans up after a connection drops without leaving.
func (s *Server) handleDisconnect(session wsSession) {
	record, ok := s.presence.RemoveByConnection(session.connID)
	if !ok {
		return
	}

	s.hub.unsubscribe(record.Room, session.peer)
	log.Printf("%s disconnected from room %q", record.Username, record.Room)
	s.hub.broadcast(record.Room, eventUserLeft, presencePayload{
		UserID:   record.UserID,
		Username: record.Username,
		Room:     record.Room,
	}, session.peer)
}
