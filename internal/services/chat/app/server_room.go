package server

import (
	"encoding/json"
	"io"
	"log"
	"sync"

	"github.com/gatechat/gatechat/internal/services/chat/domain"
)

// wsPeer serializes frame writes to one websocket connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(w io.Writer) *wsPeer {
	return &wsPeer{encoder: json.NewEncoder(w)}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *wsPeer) sendEvent(eventType string, payload any) {
	if err := p.writeFrame(wsFrame{Type: eventType, Payload: mustJSON(payload)}); err != nil {
		log.Printf("write %s frame: %v", eventType, err)
	}
}

// SendError delivers an error notice to this connection.
func (p *wsPeer) SendError(message string) {
	p.sendEvent(eventError, errorPayload{Message: message})
}

// wsSession ties a connection id to its peer writer.
type wsSession struct {
	connID string
	peer   *wsPeer
}

// roomHub tracks which peers subscribe to which rooms and fans events out.
type roomHub struct {
	mu    sync.Mutex
	rooms map[string]map[*wsPeer]struct{}
}

func newRoomHub() *roomHub {
	return &roomHub{rooms: make(map[string]map[*wsPeer]struct{})}
}

func (h *roomHub) subscribe(room string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.rooms[room]
	if !ok {
		peers = make(map[*wsPeer]struct{})
		h.rooms[room] = peers
	}
	peers[peer] = struct{}{}
}

func (h *roomHub) unsubscribe(room string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(peers, peer)
	if len(peers) == 0 {
		delete(h.rooms, room)
	}
}

// subscribers snapshots the current peers of a room so writes happen
// outside the hub lock.
func (h *roomHub) subscribers(room string, exclude *wsPeer) []*wsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.rooms[room]
	if len(peers) == 0 {
		return nil
	}
	out := make([]*wsPeer, 0, len(peers))
	for peer := range peers {
		if peer == exclude {
			continue
		}
		out = append(out, peer)
	}
	return out
}

func (h *roomHub) broadcast(room, eventType string, payload any, exclude *wsPeer) {
	raw := mustJSON(payload)
	for _, peer := range h.subscribers(room, exclude) {
		if err := peer.writeFrame(wsFrame{Type: eventType, Payload: raw}); err != nil {
			log.Printf("broadcast %s to room %q: %v", eventType, room, err)
		}
	}
}

// BroadcastMessage fans a finished chat message out to every subscriber of
// the room, sender included.
func (h *roomHub) BroadcastMessage(room string, msg domain.Message) {
	h.broadcast(room, eventReceiveMessage, messagePayload{
		UserID:           msg.UserID,
		Username:         msg.Username,
		Message:          msg.Body,
		Timestamp:        msg.SentAt.Format(timestampLayout),
		ModerationStatus: string(msg.Verdict.Status),
		ModerationReason: msg.Verdict.Reason,
	}, nil)
}
