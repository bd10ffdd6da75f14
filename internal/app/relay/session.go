/*
Package relay contains the core logic for tracking connected users and relaying
private messages, typing signals, and presence transitions between their sessions.

This file defines the Session struct, the per-connection state machine. A session
wires a verified identity to a WebSocket connection, runs the read/write pumps,
dispatches inbound client events through the Registry for delivery, and performs
the idempotent teardown when the connection ends.
*/
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatrelay/internal/app/presence"
	"chatrelay/internal/app/user"
	"chatrelay/internal/pkg/errs"
	"chatrelay/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// maximum allowed size (in bytes) for private message content.
	MaxContentBytes = 5000

	// capacity of the per-session outbound queue. Events enqueued beyond this
	// are dropped rather than blocking the sender.
	sendQueueSize = 256

	// WsCloseCodeSessionReplaced is a custom WebSocket Close Code (4000-4999 range)
	// used to signal the client that the session was replaced by a new connection.
	WsCloseCodeSessionReplaced = 4001

	// budget for a single fire-and-forget presence write.
	presenceWriteTimeout = 5 * time.Second
)

// PresenceWriter persists a user's presence transitions. Writes are fire-and-forget
// from the relay's perspective; a failure is logged and never rolls back the
// in-memory state. Satisfied by *db.Store.
type PresenceWriter interface {
	SetStatus(ctx context.Context, userID string, status presence.Status, at time.Time) error
}

// wsConn is the subset of *websocket.Conn a session uses, extracted so tests can
// substitute a fake connection.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session represents one authenticated connection, from handshake success to teardown.
type Session struct {
	// id is a per-connection identifier used for logging and stale-session diagnostics.
	id string

	// the registry this session announces itself through.
	registry *Registry

	// persisted presence collaborator.
	presence PresenceWriter

	// underlying WebSocket connection.
	conn wsConn

	// identity resolved at handshake. Immutable for the session's lifetime.
	identity user.Identity

	// buffered channel of outbound frames waiting to be written.
	send chan []byte

	// closed exactly once when the session tears down; unblocks the write pump
	// and marks the session unreachable for new enqueues.
	done chan struct{}

	// closeOnce guards the teardown transition.
	closeOnce sync.Once

	// structured logger with session context.
	logger zerolog.Logger
}

// NewSession constructs a Session for a verified identity on an upgraded connection.
func NewSession(registry *Registry, presenceStore PresenceWriter, conn *websocket.Conn, ident user.Identity) *Session {
	sessionID := uuid.New().String()

	sessionLogger := logx.Logger().With().
		Str("session_id", sessionID).
		Str("user_id", ident.ID).
		Str("username", ident.Username).
		Logger()

	return &Session{
		id:       sessionID,
		registry: registry,
		presence: presenceStore,
		conn:     conn,
		identity: ident,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		logger:   sessionLogger,
	}
}

// Run drives the session through its lifetime: it registers the identity, emits
// the online transition, starts the write pump, and then blocks on the read pump
// until the connection ends. Teardown runs before Run returns.
func (s *Session) Run() {
	s.start()

	go s.writePump()
	s.readPump()
}

// start performs the Authenticated -> Active transition: the identity is registered
// (superseding and kicking any previous session for the same user id), presence is
// flipped to online, and the online announcement goes out to all other sessions.
func (s *Session) start() {
	if prev := s.registry.Register(s.identity.ID, s); prev != nil {
		prev.Kick(errs.NewError(errs.ErrSessionReplaced).Message)
	}

	s.writePresence(presence.StatusOnline)
	s.registry.Broadcast(newPresenceEvent(TypeUserOnline, s.identity), s.identity.ID)

	s.logger.Info().Int("online_users", s.registry.Len()).Msg("Session active.")
}

// readPump reads frames from the WebSocket connection, handles heartbeats (Pong),
// and dispatches inbound events. It triggers teardown when the connection ends.
func (s *Session) readPump() {
	defer s.teardown()

	s.conn.SetReadLimit(maxMessageSize)

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			break
		}

		s.dispatch(messageBytes)
	}
}

// dispatch routes one raw inbound frame to the handler for its event type.
// Each handler produces zero or one outbound sends; none of them ever surfaces
// an error back to the sender.
func (s *Session) dispatch(messageBytes []byte) {
	var event inboundEvent

	if err := json.Unmarshal(messageBytes, &event); err != nil {
		s.logger.Warn().Err(err).
			Bytes("message_bytes", messageBytes).
			Msg("Client sent invalid JSON")
		return
	}

	switch event.Type {
	case TypePrivateMessage:
		s.handlePrivateMessage(event.Payload)

	case TypeTypingStart:
		s.handleTyping(event.Payload, true)

	case TypeTypingStop:
		s.handleTyping(event.Payload, false)

	default:
		s.logger.Warn().Str("event_type", string(event.Type)).Msg("Client sent unsupported event type")
	}
}

// handlePrivateMessage forwards a private message to its addressed recipient.
// The delivery timestamp is assigned here, at relay time. An unreachable
// recipient means the message is silently dropped; there is no store-and-forward
// and no error to the sender.
func (s *Session) handlePrivateMessage(payloadBytes json.RawMessage) {
	var payload PrivateMessagePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid message:private payload")
		return
	}

	if payload.RecipientID == "" {
		s.logger.Warn().Msg("Private message without recipient id dropped")
		return
	}

	if len(payload.Content) > MaxContentBytes {
		s.logger.Warn().
			Int("content_bytes", len(payload.Content)).
			Msg("Private message content over limit dropped")
		return
	}

	recipient := s.registry.Lookup(payload.RecipientID)
	if recipient == nil {
		s.logger.Debug().
			Str("recipient_id", payload.RecipientID).
			Msg("Recipient not connected, message dropped")
		return
	}

	s.deliver(recipient, newMessageReceive(s.identity, payload.Content, time.Now()))
}

// handleTyping forwards a typing signal to its addressed recipient, carrying the
// sender identity and the typing flag. Same lookup-and-forward rule as messages.
func (s *Session) handleTyping(payloadBytes json.RawMessage, isTyping bool) {
	var payload TypingPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid typing payload")
		return
	}

	if payload.RecipientID == "" {
		return
	}

	recipient := s.registry.Lookup(payload.RecipientID)
	if recipient == nil {
		return
	}

	s.deliver(recipient, newTypingIndicator(s.identity, isTyping))
}

// deliver marshals the envelope and queues it on the recipient's session.
func (s *Session) deliver(recipient *Session, event Envelope) {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).
			Str("event_type", string(event.Type)).
			Msg("Error marshaling event for delivery")
		return
	}

	recipient.enqueue(messageBytes)
}

// enqueue places a frame on the session's bounded outbound queue without blocking.
// Frames for a closed session, or beyond the queue capacity, are dropped.
func (s *Session) enqueue(messageBytes []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.send <- messageBytes:
	default:
		s.logger.Warn().Int("queue_len", len(s.send)).Msg("Session send queue full, dropping event")
	}
}

// writePump writes queued frames to the WebSocket connection and keeps the
// heartbeat alive with periodic Ping messages.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Connection close error in writePump")
		}
	}()

	for {
		select {
		case messageBytes := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, messageBytes); err != nil {
				s.logger.Info().Err(err).Msg("Error writing message")
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
				return
			}

			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Info().Err(err).Msg("Error writing ping")
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
				s.logger.Debug().Err(err).Msg("Error writing close message")
			}
			return
		}
	}
}

// teardown performs the Active -> Closed transition exactly once, no matter how
// many paths report the connection as gone. The registry entry is removed only
// if this session still owns it; a superseded session skips the offline
// transition entirely because its user is still online through the newer
// connection.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		removed := s.registry.Unregister(s.identity.ID, s)

		if removed {
			s.writePresence(presence.StatusOffline)
			s.registry.Broadcast(newPresenceEvent(TypeUserOffline, s.identity), s.identity.ID)

			s.logger.Info().Int("online_users", s.registry.Len()).Msg("Session closed.")
		} else {
			s.logger.Info().Msg("Session closed without offline transition (entry superseded).")
		}

		close(s.done)

		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Connection close error during teardown")
		}
	})
}

// writePresence persists a presence transition in the background. Failure to
// persist is logged and does not affect the in-memory state.
func (s *Session) writePresence(status presence.Status) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
		defer cancel()

		if err := s.presence.SetStatus(ctx, s.identity.ID, status, time.Now()); err != nil {
			s.logger.Error().Err(err).
				Str("status", string(status)).
				Msg("Failed to persist presence transition")
		}
	}()
}

// Kick closes the session with the session-replaced close code. It is invoked by
// the session that superseded this one; both paths converge on the same teardown.
func (s *Session) Kick(reason string) {
	s.logger.Warn().
		Int("close_code", WsCloseCodeSessionReplaced).
		Str("reason", reason).
		Msg("Kicking superseded session.")

	s.closeWith(WsCloseCodeSessionReplaced, reason)
}

// Close shuts the session down server-side, e.g. during graceful shutdown.
func (s *Session) Close(reason string) {
	s.closeWith(websocket.CloseGoingAway, reason)
}

// closeWith sends a close frame with the given code and runs teardown. Kick and
// Shutdown run on other sessions' goroutines while this session's write pump may
// be mid-frame, so the close frame goes out through WriteControl, the one write
// entry point gorilla allows concurrently with WriteMessage.
func (s *Session) closeWith(code int, reason string) {
	closeMessage := websocket.FormatCloseMessage(code, reason)

	if err := s.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeWait)); err != nil {
		s.logger.Debug().Err(err).Int("close_code", code).Msg("Failed to send close message.")
	}

	s.teardown()
}
