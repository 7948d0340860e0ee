package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/chatrelay/internal/chat"
	"github.com/cory-johannsen/chatrelay/internal/config"
)

// Server owns the HTTP listener: it upgrades /ws requests into relay
// connections and serves the static client. It implements server.Service.
type Server struct {
	cfg    config.ServerConfig
	hub    *Hub
	coord  *chat.Coordinator
	logger *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates a Server wired to the given hub and coordinator.
//
// Precondition: hub, coord, and logger must be non-nil.
func NewServer(cfg config.ServerConfig, hub *Hub, coord *chat.Coordinator, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		coord:  coord,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from this same origin; the relay
			// carries no credentials, so cross-origin reads reveal nothing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr(),
		Handler: s.routes(),
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	if s.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return mux
}

// handleWS upgrades the request and runs the connection until it drops.
// Flow:
//  1. Upgrade, assign an opaque connection ID
//  2. Register with the hub, start the write pump, ack the connection
//  3. Read pump dispatches inbound events in arrival order
//  4. On read failure: unregister and run coordinator disconnect cleanup
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	connID := uuid.NewString()
	c := newClient(connID, conn, s.cfg, s.logger)
	s.hub.register(c)
	go c.writePump()

	s.coord.Connect(connID)

	c.readPump(s.dispatch)

	s.hub.unregister(connID)
	s.coord.Disconnect(connID)
}

// dispatch routes one inbound frame to the matching coordinator workflow and
// converts a workflow failure into a private error event. Runs on the
// connection's read pump goroutine, so events stay in arrival order.
func (s *Server) dispatch(connID string, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		s.logger.Warn("malformed frame",
			zap.String("connection_id", connID),
			zap.Error(err),
		)
		s.hub.SendToConnection(connID, chat.EventError, chat.ErrorEvent{Message: "invalid payload"})
		return
	}

	switch env.Event {
	case chat.EventGetRooms:
		s.coord.ListRooms(connID)
	case chat.EventJoin:
		var req chat.JoinRequest
		if err := unmarshalData(env.Data, &req); err != nil {
			s.replyError(connID, env.Event, err)
			return
		}
		if err := s.coord.Join(connID, req); err != nil {
			s.replyError(connID, env.Event, err)
		}
	case chat.EventLeave:
		if err := s.coord.Leave(connID); err != nil {
			s.replyError(connID, env.Event, err)
		}
	case chat.EventSendMessage:
		var req chat.SendMessageRequest
		if err := unmarshalData(env.Data, &req); err != nil {
			s.replyError(connID, env.Event, err)
			return
		}
		if err := s.coord.SendMessage(connID, req); err != nil {
			s.replyError(connID, env.Event, err)
		}
	default:
		s.replyError(connID, env.Event, &chat.ValidationError{
			Field:  "event",
			Reason: fmt.Sprintf("unknown event %q", env.Event),
		})
	}
}

// unmarshalData decodes an event payload, mapping malformed JSON to a
// validation error so the client gets a readable message.
func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return &chat.ValidationError{Field: "data", Reason: "missing event payload"}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &chat.ValidationError{Field: "data", Reason: "invalid event payload"}
	}
	return nil
}

// replyError delivers a workflow failure privately to the originating
// connection. Unexpected (non-taxonomy) errors are logged at error level but
// still answered.
func (s *Server) replyError(connID, event string, err error) {
	if chat.IsRecoverable(err) {
		s.logger.Warn("workflow rejected",
			zap.String("connection_id", connID),
			zap.String("event", event),
			zap.Error(err),
		)
	} else {
		s.logger.Error("workflow failed",
			zap.String("connection_id", connID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
	s.hub.SendToConnection(connID, chat.EventError, chat.ErrorEvent{Message: err.Error()})
}

// Start begins serving HTTP. Blocks until Stop or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr()))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down and closes all live websocket
// connections.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	s.hub.closeAll()
}
