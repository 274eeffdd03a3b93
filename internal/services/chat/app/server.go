// Package server hosts the chat HTTP/WebSocket process.
//
// The server owns the transport boundary only: room membership lives in the
// presence store, message processing in the pipeline, and persistence behind
// the message store interface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/gatechat/gatechat/internal/platform/timeouts"
	"github.com/gatechat/gatechat/internal/services/chat/domain"
	"github.com/gatechat/gatechat/internal/services/chat/moderation"
	"github.com/gatechat/gatechat/internal/services/chat/pipeline"
	"github.com/gatechat/gatechat/internal/services/chat/presence"
	"github.com/gatechat/gatechat/internal/services/chat/storage"
	"github.com/gatechat/gatechat/internal/services/chat/storage/sqlite"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxDecodeErrorsPerConn = 3

	connectedStatusMessage = "Connected to chat server"
)

// Config defines the inputs for the chat service process.
type Config struct {
	HTTPAddr          string
	StoragePath       string
	ModerationURL     string
	ModerationAPIKey  string
	ModerationModel   string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the chat HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	sqliteStore     *sqlite.Store

	store    storage.MessageStore
	pipeline *pipeline.Pipeline
	presence *presence.Store
	hub      *roomHub
}

// NewServer builds a configured chat server. Persistence and moderation are
// both optional: without a storage path messages are relayed but not stored,
// and without an API key every message carries a skipped verdict.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	var sqliteStore *sqlite.Store
	var store storage.MessageStore
	if strings.TrimSpace(config.StoragePath) != "" {
		opened, err := sqlite.Open(config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("open message store: %w", err)
		}
		sqliteStore = opened
		store = opened
	} else {
		log.Printf("no storage path configured, messages will not be persisted")
	}

	var classifier moderation.Classifier
	if strings.TrimSpace(config.ModerationAPIKey) != "" {
		classifier = moderation.NewHTTPClassifier(moderation.HTTPClassifierConfig{
			ResponsesURL: config.ModerationURL,
			APIKey:       config.ModerationAPIKey,
			Model:        config.ModerationModel,
		})
	} else {
		log.Printf("no moderation api key configured, messages will carry skipped verdicts")
	}

	srv := newCore(moderation.NewGate(classifier), store)
	srv.httpAddr = httpAddr
	srv.shutdownTimeout = config.ShutdownTimeout
	srv.sqliteStore = sqliteStore
	srv.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return srv, nil
}

// newCore wires the transport-independent parts of the server.
func newCore(gate pipeline.Moderator, store storage.MessageStore) *Server {
	srv := &Server{
		store:    store,
		presence: presence.NewStore(),
		hub:      newRoomHub(),
	}
	srv.pipeline = pipeline.New(gate, store, srv.hub)
	return srv
}

// newHandler creates chat routes around an explicit gate and store, used by
// tests to avoid real storage and remote moderation.
func newHandler(gate pipeline.Moderator, store storage.MessageStore) http.Handler {
	return newCore(gate, store).routes()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Chat relay backend is running.\n")
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"message": "Backend is healthy",
		})
	})

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(s.handleWSConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func (s *Server) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	session := wsSession{
		connID: uuid.NewString(),
		peer:   newWSPeer(conn),
	}
	defer s.handleDisconnect(session)

	session.peer.sendEvent(eventStatus, statusPayload{Message: connectedStatusMessage})
	log.Printf("connection %s established", session.connID)

	decoder := json.NewDecoder(conn)
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			session.peer.SendError("Invalid message frame.")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			session.peer.SendError("Message payload too large.")
			continue
		}

		switch frame.Type {
		case eventJoinRoom:
			var payload joinPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				session.peer.SendError("Room, userId, and username are required to join.")
				continue
			}
			s.handleJoin(ctx, session, payload)
		case eventLeaveRoom:
			var payload leavePayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				session.peer.SendError("Room and userId are required to leave.")
				continue
			}
			s.handleLeave(session, payload)
		case eventSendMessage:
			var payload sendPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				session.peer.SendError("Room, userId, username, and message are required.")
				continue
			}
			s.pipeline.Handle(ctx, domain.SendInput{
				Room:     payload.Room,
				UserID:   payload.UserID,
				Username: payload.Username,
				Body:     payload.Message,
			}, session.peer)
		default:
			session.peer.SendError("Unsupported message type.")
		}
	}
}

// Run creates and serves a chat server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init chat server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve chat: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("chat server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	log.Printf("chat server listening on %s", s.httpAddr)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.sqliteStore != nil {
		if err := s.sqliteStore.Close(); err != nil {
			log.Printf("close message store: %v", err)
		}
	}
}
