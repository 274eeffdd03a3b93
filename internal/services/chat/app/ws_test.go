package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/gatechat/gatechat/internal/services/chat/domain"
	"github.com/gatechat/gatechat/internal/services/chat/storage"
)

type wsTestFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsTestMessagePayload struct {
	UserID           string `json:"userId"`
	Username         string `json:"username"`
	Message          string `json:"message"`
	Timestamp        string `json:"timestamp"`
	ModerationStatus string `json:"moderation_status"`
	ModerationReason string `json:"moderation_reason"`
}

type wsTestHistoryPayload struct {
	Room     string                 `json:"room"`
	Messages []wsTestMessagePayload `json:"messages"`
}

type wsTestPresencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

func decodePresencePayload(t *testing.T, payload json.RawMessage) wsTestPresencePayload {
	t.Helper()
	var got wsTestPresencePayload
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode presence payload: %v", err)
	}
	return got
}

type fakeGate struct {
	verdict domain.Verdict
}

func (f fakeGate) Moderate(_ context.Context, _ string) domain.Verdict {
	return f.verdict
}

type fakeMessageStore struct {
	mu         sync.Mutex
	history    []storage.MessageRecord
	historyErr error
	appendErr  error
	appended   []storage.MessageRecord
}

func (f *fakeMessageStore) AppendMessage(_ context.Context, record storage.MessageRecord) (string, error) {
	if f.appendErr != nil {
		return "", f.appendErr
	}
	f.mu.Lock()
	f.appended = append(f.appended, record)
	f.mu.Unlock()
	return record.ID, nil
}

func (f *fakeMessageStore) appendedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

func (f *fakeMessageStore) RecentMessages(_ context.Context, _ string, _ int) ([]storage.MessageRecord, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func safeGate() fakeGate {
	return fakeGate{verdict: domain.Verdict{Status: domain.ModerationSafe, Reason: domain.ReasonNone}}
}

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// dialWS opens a websocket connection and consumes the initial status frame.
func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	status := readFrame(t, conn)
	if status.Type != eventStatus {
		t.Fatalf("first frame type = %q, want %q", status.Type, eventStatus)
	}
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func joinRoom(t *testing.T, conn *websocket.Conn, room, userID, username string) {
	t.Helper()
	writeFrame(t, conn, map[string]any{
		"type": eventJoinRoom,
		"payload": map[string]any{
			"room":     room,
			"userId":   userID,
			"username": username,
		},
	})
	got := readFrame(t, conn)
	if got.Type != eventChatHistory {
		t.Fatalf("frame type = %q, want %q", got.Type, eventChatHistory)
	}
}

func decodeMessagePayload(t *testing.T, payload json.RawMessage) wsTestMessagePayload {
	t.Helper()
	var msg wsTestMessagePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode message payload: %v", err)
	}
	return msg
}

func TestWebSocketConnectSendsStatus(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	got := readFrame(t, conn)
	if got.Type != eventStatus {
		t.Fatalf("frame type = %q, want %q", got.Type, eventStatus)
	}
	if !strings.Contains(string(got.Payload), connectedStatusMessage) {
		t.Fatalf("status payload = %s, expected %q", string(got.Payload), connectedStatusMessage)
	}
}

func TestWebSocketJoinDeliversHistoryToJoinerOnly(t *testing.T) {
	store := &fakeMessageStore{history: []storage.MessageRecord{
		{
			Room:             "lobby",
			UserID:           "user-0",
			Username:         "carol",
			Body:             "earlier message",
			ModerationStatus: string(domain.ModerationSafe),
			ModerationReason: domain.ReasonNone,
			SentAt:           time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
		},
	}}
	srv := newTestServer(t, newHandler(safeGate(), store))
	conn := dialWS(t, srv)

	writeFrame(t, conn, map[string]any{
		"type": eventJoinRoom,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-1",
			"username": "alice",
		},
	})

	got := readFrame(t, conn)
	if got.Type != eventChatHistory {
		t.Fatalf("frame type = %q, want %q", got.Type, eventChatHistory)
	}
	var history wsTestHistoryPayload
	if err := json.Unmarshal(got.Payload, &history); err != nil {
		t.Fatalf("decode history payload: %v", err)
	}
	if history.Room != "lobby" {
		t.Fatalf("history room = %q, want lobby", history.Room)
	}
	if len(history.Messages) != 1 || history.Messages[0].Message != "earlier message" {
		t.Fatalf("history messages = %+v, expected the stored message", history.Messages)
	}
}

func TestWebSocketJoinNotifiesExistingMembers(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))

	connA := dialWS(t, srv)
	connB := dialWS(t, srv)

	joinRoom(t, connA, "lobby", "user-1", "alice")

	writeFrame(t, connB, map[string]any{
		"type": eventJoinRoom,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-2",
			"username": "bob",
		},
	})

	joined := readFrame(t, connA)
	if joined.Type != eventUserJoined {
		t.Fatalf("frame type = %q, want %q", joined.Type, eventUserJoined)
	}
	got := decodePresencePayload(t, joined.Payload)
	if got.UserID != "user-2" {
		t.Fatalf("user_joined userId = %q, want user-2", got.UserID)
	}
	if got.Username != "bob" {
		t.Fatalf("user_joined username = %q, want bob", got.Username)
	}
	if got.Room != "lobby" {
		t.Fatalf("user_joined room = %q, want lobby", got.Room)
	}
}

func TestWebSocketJoinMissingFieldsReturnsError(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))
	conn := dialWS(t, srv)

	writeFrame(t, conn, map[string]any{
		"type": eventJoinRoom,
		"payload": map[string]any{
			"room": "lobby",
		},
	})

	got := readFrame(t, conn)
	if got.Type != eventError {
		t.Fatalf("frame type = %q, want %q", got.Type, eventError)
	}
	if !strings.Contains(string(got.Payload), "Room, userId, and username are required to join.") {
		t.Fatalf("error payload = %s, expected join validation message", string(got.Payload))
	}
}

func TestWebSocketSecondJoinOnSameConnectionRejected(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))
	conn := dialWS(t, srv)

	joinRoom(t, conn, "lobby", "user-1", "alice")

	writeFrame(t, conn, map[string]any{
		"type": eventJoinRoom,
		"payload": map[string]any{
			"room":     "other",
			"userId":   "user-1",
			"username": "alice",
		},
	})

	got := readFrame(t, conn)
	if got.Type != eventError {
		t.Fatalf("frame type = %q, want %q", got.Type, eventError)
	}
	if !strings.Contains(string(got.Payload), "already joined") {
		t.Fatalf("error payload = %s, expected already joined message", string(got.Payload))
	}
}

func TestWebSocketSendBroadcastsToRoom(t *testing.T) {
	store := &fakeMessageStore{}
	srv := newTestServer(t, newHandler(safeGate(), store))

	connA := dialWS(t, srv)
	connB := dialWS(t, srv)

	joinRoom(t, connA, "lobby", "user-1", "alice")
	joinRoom(t, connB, "lobby", "user-2", "bob")
	// Consume the user_joined notice connA receives for bob.
	joined := readFrame(t, connA)
	if joined.Type != eventUserJoined {
		t.Fatalf("frame type = %q, want %q", joined.Type, eventUserJoined)
	}

	writeFrame(t, connA, map[string]any{
		"type": eventSendMessage,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-1",
			"username": "alice",
			"message":  "hello room",
		},
	})

	for _, conn := range []*websocket.Conn{connA, connB} {
		got := readFrame(t, conn)
		if got.Type != eventReceiveMessage {
			t.Fatalf("frame type = %q, want %q", got.Type, eventReceiveMessage)
		}
		msg := decodeMessagePayload(t, got.Payload)
		if msg.Message != "hello room" {
			t.Fatalf("message body = %q, want %q", msg.Message, "hello room")
		}
		if msg.ModerationStatus != string(domain.ModerationSafe) {
			t.Fatalf("moderation status = %q, want safe", msg.ModerationStatus)
		}
		if msg.ModerationReason != domain.ReasonNone {
			t.Fatalf("moderation reason = %q, want %q", msg.ModerationReason, domain.ReasonNone)
		}
		if msg.Timestamp == "" {
			t.Fatal("expected a timestamp on the broadcast message")
		}
	}

	if got := store.appendedCount(); got != 1 {
		t.Fatalf("appended records = %d, want 1", got)
	}
}

func TestWebSocketSendDoesNotCrossRooms(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))

	connA := dialWS(t, srv)
	connB := dialWS(t, srv)

	joinRoom(t, connA, "lobby", "user-1", "alice")
	joinRoom(t, connB, "den", "user-2", "bob")

	writeFrame(t, connA, map[string]any{
		"type": eventSendMessage,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-1",
			"username": "alice",
			"message":  "lobby only",
		},
	})

	got := readFrame(t, connA)
	if got.Type != eventReceiveMessage {
		t.Fatalf("frame type = %q, want %q", got.Type, eventReceiveMessage)
	}

	_ = connB.SetDeadline(time.Now().Add(300 * time.Millisecond))
	var stray wsTestFrame
	if err := json.NewDecoder(connB).Decode(&stray); err == nil {
		t.Fatalf("unexpected frame in other room: %+v", stray)
	}
}

func TestWebSocketSendFlaggedMessageStillDelivered(t *testing.T) {
	gate := fakeGate{verdict: domain.Verdict{
		Status: domain.ModerationUnsafe,
		Reason: "Content flagged by AI.",
	}}
	srv := newTestServer(t, newHandler(gate, &fakeMessageStore{}))
	conn := dialWS(t, srv)
	joinRoom(t, conn, "lobby", "user-1", "alice")

	writeFrame(t, conn, map[string]any{
		"type": eventSendMessage,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-1",
			"username": "alice",
			"message":  "questionable",
		},
	})

	got := readFrame(t, conn)
	if got.Type != eventReceiveMessage {
		t.Fatalf("frame type = %q, want %q", got.Type, eventReceiveMessage)
	}
	msg := decodeMessagePayload(t, got.Payload)
	if msg.ModerationStatus != string(domain.ModerationUnsafe) {
		t.Fatalf("moderation status = %q, want unsafe", msg.ModerationStatus)
	}
	if msg.ModerationReason != "Content flagged by AI." {
		t.Fatalf("moderation reason = %q", msg.ModerationReason)
	}
}

func TestWebSocketSendPersistenceFailureStillBroadcasts(t *testing.T) {
	store := &fakeMessageStore{appendErr: errors.New("disk full")}
	srv := newTestServer(t, newHandler(safeGate(), store))

	connA := dialWS(t, srv)
	connB := dialWS(t, srv)

	joinRoom(t, connA, "lobby", "user-1", "alice")
	joinRoom(t, connB, "lobby", "user-2", "bob")
	joined := readFrame(t, connA)
	if joined.Type != eventUserJoined {
		t.Fatalf("frame type = %q, want %q", joined.Type, eventUserJoined)
	}

	writeFrame(t, connA, map[string]any{
		"type": eventSendMessage,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-1",
			"username": "alice",
			"message":  "hello",
		},
	})

	errFrame := readFrame(t, connA)
	if errFrame.Type != eventError {
		t.Fatalf("sender frame type = %q, want %q", errFrame.Type, eventError)
	}
	if !strings.Contains(string(errFrame.Payload), "Failed to save message: disk full") {
		t.Fatalf("error payload = %s", string(errFrame.Payload))
	}

	got := readFrame(t, connA)
	if got.Type != eventReceiveMessage {
		t.Fatalf("sender frame type = %q, want %q", got.Type, eventReceiveMessage)
	}

	// The other member sees only the message, never the sender's error.
	other := readFrame(t, connB)
	if other.Type != eventReceiveMessage {
		t.Fatalf("receiver frame type = %q, want %q", other.Type, eventReceiveMessage)
	}
}

func TestWebSocketSendWithoutClassifierDeliversSkipped(t *testing.T) {
	gate := fakeGate{verdict: domain.Verdict{
		Status: domain.ModerationSkipped,
		Reason: "AI unavailable",
	}}
	srv := newTestServer(t, newHandler(gate, &fakeMessageStore{}))
	conn := dialWS(t, srv)
	joinRoom(t, conn, "lobby", "user-1", "alice")

	writeFrame(t, conn, map[string]any{
		"type": eventSendMessage,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-1",
			"username": "alice",
			"message":  "hello",
		},
	})

	got := readFrame(t, conn)
	if got.Type != eventReceiveMessage {
		t.Fatalf("frame type = %q, want %q", got.Type, eventReceiveMessage)
	}
	msg := decodeMessagePayload(t, got.Payload)
	if msg.ModerationStatus != string(domain.ModerationSkipped) {
		t.Fatalf("moderation status = %q, want skipped", msg.ModerationStatus)
	}
	if msg.ModerationReason != "AI unavailable" {
		t.Fatalf("moderation reason = %q", msg.ModerationReason)
	}
}

func TestWebSocketSendMissingFieldsReturnsError(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))
	conn := dialWS(t, srv)
	joinRoom(t, conn, "lobby", "user-1", "alice")

	writeFrame(t, conn, map[string]any{
		"type": eventSendMessage,
		"payload": map[string]any{
			"room":   "lobby",
			"userId": "user-1",
		},
	})

	got := readFrame(t, conn)
	if got.Type != eventError {
		t.Fatalf("frame type = %q, want %q", got.Type, eventError)
	}
	if !strings.Contains(string(got.Payload), "Room, userId, username, and message are required.") {
		t.Fatalf("error payload = %s, expected send validation message", string(got.Payload))
	}
}

func TestWebSocketLeaveNotifiesRemainingMembers(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))

	connA := dialWS(t, srv)
	connB := dialWS(t, srv)

	joinRoom(t, connA, "lobby", "user-1", "alice")
	joinRoom(t, connB, "lobby", "user-2", "bob")
	joined := readFrame(t, connA)
	if joined.Type != eventUserJoined {
		t.Fatalf("frame type = %q, want %q", joined.Type, eventUserJoined)
	}

	writeFrame(t, connB, map[string]any{
		"type": eventLeaveRoom,
		"payload": map[string]any{
			"room":   "lobby",
			"userId": "user-2",
		},
	})

	left := readFrame(t, connA)
	if left.Type != eventUserLeft {
		t.Fatalf("frame type = %q, want %q", left.Type, eventUserLeft)
	}
	got := decodePresencePayload(t, left.Payload)
	if got.UserID != "user-2" {
		t.Fatalf("user_left userId = %q, want user-2", got.UserID)
	}
	if got.Username != "bob" {
		t.Fatalf("user_left username = %q, want bob", got.Username)
	}
}

func TestWebSocketLeaveWithoutJoinIsSilent(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))
	conn := dialWS(t, srv)

	writeFrame(t, conn, map[string]any{
		"type": eventLeaveRoom,
		"payload": map[string]any{
			"room":   "lobby",
			"userId": "user-9",
		},
	})

	_ = conn.SetDeadline(time.Now().Add(300 * time.Millisecond))
	var stray wsTestFrame
	if err := json.NewDecoder(conn).Decode(&stray); err == nil {
		t.Fatalf("unexpected frame after phantom leave: %+v", stray)
	}
}

func TestWebSocketDisconnectNotifiesRemainingMembers(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))

	connA := dialWS(t, srv)
	connB := dialWS(t, srv)

	joinRoom(t, connA, "lobby", "user-1", "alice")
	joinRoom(t, connB, "lobby", "user-2", "bob")
	joined := readFrame(t, connA)
	if joined.Type != eventUserJoined {
		t.Fatalf("frame type = %q, want %q", joined.Type, eventUserJoined)
	}

	_ = connB.Close()

	left := readFrame(t, connA)
	if left.Type != eventUserLeft {
		t.Fatalf("frame type = %q, want %q", left.Type, eventUserLeft)
	}
	got := decodePresencePayload(t, left.Payload)
	if got.UserID != "user-2" {
		t.Fatalf("user_left userId = %q, want user-2", got.UserID)
	}
	if got.Username != "bob" {
		t.Fatalf("user_left username = %q, want bob", got.Username)
	}
}

func TestWebSocketHistoryFailureDoesNotUndoJoin(t *testing.T) {
	store := &fakeMessageStore{historyErr: errors.New("query timeout")}
	srv := newTestServer(t, newHandler(safeGate(), store))
	conn := dialWS(t, srv)

	writeFrame(t, conn, map[string]any{
		"type": eventJoinRoom,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-1",
			"username": "alice",
		},
	})

	got := readFrame(t, conn)
	if got.Type != eventError {
		t.Fatalf("frame type = %q, want %q", got.Type, eventError)
	}
	if !strings.Contains(string(got.Payload), "Failed to load chat history: query timeout") {
		t.Fatalf("error payload = %s", string(got.Payload))
	}

	// The join survived the history failure, so sends still broadcast.
	writeFrame(t, conn, map[string]any{
		"type": eventSendMessage,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-1",
			"username": "alice",
			"message":  "still here",
		},
	})
	msg := readFrame(t, conn)
	if msg.Type != eventReceiveMessage {
		t.Fatalf("frame type = %q, want %q", msg.Type, eventReceiveMessage)
	}
}

func TestWebSocketJoinWithoutStoreReportsHistoryUnavailable(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), nil))
	conn := dialWS(t, srv)

	writeFrame(t, conn, map[string]any{
		"type": eventJoinRoom,
		"payload": map[string]any{
			"room":     "lobby",
			"userId":   "user-1",
			"username": "alice",
		},
	})

	got := readFrame(t, conn)
	if got.Type != eventError {
		t.Fatalf("frame type = %q, want %q", got.Type, eventError)
	}
	if !strings.Contains(string(got.Payload), "Message store not available") {
		t.Fatalf("error payload = %s", string(got.Payload))
	}
}

func TestWebSocketUnknownTypeReturnsError(t *testing.T) {
	srv := newTestServer(t, newHandler(safeGate(), &fakeMessageStore{}))
	conn := dialWS(t, srv)

	writeFrame(t, conn, map[string]any{
		"type":    "ping",
		"payload": map[string]any{},
	})

	got := readFrame(t, conn)
	if got.Type != eventError {
		t.Fatalf("frame type = %q, want %q", got.Type, eventError)
	}
	if !strings.Contains(string(got.Payload), "Unsupported message type.") {
		t.Fatalf("error payload = %s", string(got.Payload))
	}
}
