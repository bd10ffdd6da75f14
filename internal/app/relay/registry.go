/*
Package relay contains the core logic for tracking connected users and relaying
private messages, typing signals, and presence transitions between their sessions.

This file defines the Registry, the single source of truth for which users are
currently reachable and through which session. It owns all concurrent access to
the user-to-session mapping.
*/
package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"chatrelay/internal/app/user"
	"chatrelay/internal/pkg/logx"
)

// Registry maps each currently connected user id to exactly one active session.
// All operations are safe to call concurrently from many sessions.
type Registry struct {
	// sessions maps a user id to its live session. At most one entry per user id
	// exists at any instant; a second login for the same id replaces the first.
	sessions map[string]*Session

	// mu protects access to the sessions map.
	mu sync.RWMutex

	// structured logger with Registry context.
	logger zerolog.Logger
}

// NewRegistry constructs and returns an empty Registry.
func NewRegistry() *Registry {
	registryLogger := logx.Logger().With().Str("component", "Registry").Logger()

	return &Registry{
		sessions: make(map[string]*Session),
		logger:   registryLogger,
	}
}

// Register inserts or overwrites the entry for userID and returns the previous
// session, if any, so the caller can close the superseded connection.
func (reg *Registry) Register(userID string, s *Session) *Session {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	prev := reg.sessions[userID]
	reg.sessions[userID] = s

	if prev != nil {
		reg.logger.Warn().
			Str("user_id", userID).
			Msg("User already connected. Entry replaced by new session.")
	}

	return prev
}

// Unregister removes the entry for userID only if it still points at s, and
// reports whether an entry was removed. The guard keeps a superseded session's
// delayed teardown from evicting the entry of the session that replaced it.
func (reg *Registry) Unregister(userID string, s *Session) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	current, ok := reg.sessions[userID]
	if !ok {
		reg.logger.Warn().
			Str("user_id", userID).
			Msg("Unregister for unknown/already removed user.")
		return false
	}

	if current != s {
		reg.logger.Info().
			Str("user_id", userID).
			Msg("Ignoring unregister for stale session.")
		return false
	}

	delete(reg.sessions, userID)
	return true
}

// Lookup returns the session currently registered for userID, or nil.
func (reg *Registry) Lookup(userID string) *Session {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return reg.sessions[userID]
}

// Broadcast delivers the event to every registered session except the one
// belonging to excludeUserID. Sessions whose outbound queue is full simply miss
// the event; delivery here is as best-effort as everywhere else in the relay.
func (reg *Registry) Broadcast(event Envelope, excludeUserID string) {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		reg.logger.Error().
			Str("event_type", string(event.Type)).
			Err(err).
			Msg("Error marshaling event for broadcast.")
		return
	}

	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for userID, s := range reg.sessions {
		if userID == excludeUserID {
			continue
		}
		s.enqueue(messageBytes)
	}
}

// Online returns a snapshot of the identities of all currently connected users.
func (reg *Registry) Online() []user.Identity {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	online := make([]user.Identity, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		online = append(online, s.identity)
	}

	return online
}

// Len returns the number of currently connected users.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.sessions)
}

// Shutdown force-closes every registered session. Each session runs its normal
// teardown, so presence flips to offline and offline announcements go out to
// whoever is still connected while the map drains.
func (reg *Registry) Shutdown() {
	reg.mu.RLock()
	snapshot := make([]*Session, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		snapshot = append(snapshot, s)
	}
	reg.mu.RUnlock()

	reg.logger.Info().Int("sessions", len(snapshot)).Msg("Shutting down all sessions.")

	for _, s := range snapshot {
		s.Close("Server shutting down.")
	}
}
