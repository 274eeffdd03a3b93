package server

import (
	"encoding/json"
	"log"
	"time"
)

// Inbound frame types accepted from clients.
const (
	eventJoinRoom    = "join_room"
	eventLeaveRoom   = "leave_room"
	eventSendMessage = "send_message"
)

// Outbound frame types emitted to clients.
const (
	eventStatus         = "status"
	eventError          = "error"
	eventUserJoined     = "user_joined"
	eventUserLeft       = "user_left"
	eventChatHistory    = "chat_history"
	eventReceiveMessage = "receive_message"
)

const timestampLayout = time.RFC3339

// wsFrame is the envelope for every frame on the wire.
type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinPayload struct {
	Room     string `json:"room"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type leavePayload struct {
	Room   string `json:"room"`
	UserID string `json:"userId"`
}

type sendPayload struct {
	Room     string `json:"room"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type statusPayload struct {
	Message string `json:"message"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type presencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

type messagePayload struct {
	UserID           string `json:"userId"`
	Username         string `json:"username"`
	Message          string `json:"message"`
	Timestamp        string `json:"timestamp"`
	ModerationStatus string `json:"moderation_status"`
	ModerationReason string `json:"moderation_reason"`
}

type historyPayload struct {
	Room     string           `json:"room"`
	Messages []messagePayload `json:"messages"`
}

func mustJSON(value any) json.RawMessage {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("marshal %T payload: %v", value, err)
		return json.RawMessage("{}")
	}
	return raw
}
