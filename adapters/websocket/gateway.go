// Package websocket is the bidirectional gateway transport: JSON frames
// over a WebSocket connection, with a CONNECT handshake carrying the
// bearer token and SUBSCRIBE destinations authorized per room.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"campusride/core"
	"campusride/realtime"

	gorillaws "github.com/gorilla/websocket"
)

// Frame commands. CONNECT must be the first client frame; the server
// answers CONNECTED or ERROR-and-close.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
)

// Client-originated publish destinations.
const (
	PubChat = "/pub/chat"
	PubMap  = "/pub/map"
)

// Frame is the gateway wire format.
type Frame struct {
	Command       string          `json:"command"`
	Destination   string          `json:"destination,omitempty"`
	Authorization string          `json:"authorization,omitempty"`
	Message       string          `json:"message,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
}

// Verifier extracts the principal from the CONNECT authorization header.
type Verifier interface {
	FromAuthHeader(header string) (core.Email, error)
}

// Inbound consumes client-originated traffic.
type Inbound interface {
	HandleChat(ctx context.Context, principal core.Email, msg core.ChatMessage) error
	HandleMap(ctx context.Context, principal core.Email, update core.MapUpdate) error
}

const writeTimeout = 5 * time.Second

// Handler upgrades to WebSocket and runs the gateway session loop.
func Handler(registry *realtime.TopicRegistry, verifier Verifier, inbound Inbound, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		session := &session{
			conn:     conn,
			registry: registry,
			verifier: verifier,
			inbound:  inbound,
			logger:   logger,
		}
		session.run(r.Context())
	})
}

type session struct {
	conn     *gorillaws.Conn
	registry *realtime.TopicRegistry
	verifier Verifier
	inbound  Inbound
	logger   *slog.Logger

	writeMu sync.Mutex
}

func (s *session) run(ctx context.Context) {
	principal, ok := s.handshake()
	if !ok {
		return
	}

	id := s.registry.Register(principal, func(destination string, payload []byte) error {
		return s.write(Frame{Command: CmdMessage, Destination: destination, Body: payload})
	})
	defer s.registry.Deregister(id)

	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Command {
		case CmdSubscribe:
			if err := s.registry.Subscribe(ctx, id, frame.Destination); err != nil {
				// subscription rejected; connection otherwise unaffected
				s.sendError(frame.Destination, err)
			}
		case CmdUnsubscribe:
			s.registry.Unsubscribe(id, frame.Destination)
		case CmdSend:
			s.handleSend(ctx, principal, frame)
		case CmdDisconnect:
			return
		default:
			s.sendError(frame.Destination, core.ErrBadDestination)
		}
	}
}

// handshake reads the CONNECT frame and authenticates the principal
// before any registry state is touched.
func (s *session) handshake() (core.Email, bool) {
	var frame Frame
	if err := s.conn.ReadJSON(&frame); err != nil {
		return "", false
	}
	if frame.Command != CmdConnect {
		_ = s.write(Frame{Command: CmdError, Message: "expected CONNECT"})
		return "", false
	}
	principal, err := s.verifier.FromAuthHeader(frame.Authorization)
	if err != nil {
		_ = s.write(Frame{Command: CmdError, Message: err.Error()})
		return "", false
	}
	if err := s.write(Frame{Command: CmdConnected}); err != nil {
		return "", false
	}
	return principal, true
}

func (s *session) handleSend(ctx context.Context, principal core.Email, frame Frame) {
	var err error
	switch frame.Destination {
	case PubChat:
		var msg core.ChatMessage
		if err = json.Unmarshal(frame.Body, &msg); err == nil {
			err = s.inbound.HandleChat(ctx, principal, msg)
		}
	case PubMap:
		var update core.MapUpdate
		if err = json.Unmarshal(frame.Body, &update); err == nil {
			err = s.inbound.HandleMap(ctx, principal, update)
		}
	default:
		err = core.ErrBadDestination
	}
	if err != nil {
		s.sendError(frame.Destination, err)
	}
}

func (s *session) sendError(destination string, err error) {
	if writeErr := s.write(Frame{Command: CmdError, Destination: destination, Message: err.Error()}); writeErr != nil {
		s.logger.Debug("gateway error frame not delivered", "error", writeErr)
	}
}

func (s *session) write(frame Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(frame)
}
