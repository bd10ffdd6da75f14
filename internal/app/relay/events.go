/*
Package relay contains the core logic for tracking connected users and relaying
private messages, typing signals, and presence transitions between their sessions.

This file defines the event envelope relayed over WebSocket connections: the type
constants for inbound client actions and outbound deliveries, the payload shapes,
and the builders that stamp outbound events with the relay's own clock.
*/
package relay

import (
	"encoding/json"
	"time"

	"chatrelay/internal/app/user"
)

// EventType identifies the kind of event carried by an Envelope.
type EventType string

// Inbound client actions. Each addresses a single recipient.
const (
	TypePrivateMessage EventType = "message:private"
	TypeTypingStart    EventType = "typing:start"
	TypeTypingStop     EventType = "typing:stop"
)

// Outbound deliveries.
const (
	TypeMessageReceive  EventType = "message:receive"
	TypeTypingIndicator EventType = "typing:indicator"
	TypeUserOnline      EventType = "user:online"
	TypeUserOffline     EventType = "user:offline"
)

// Envelope is the unit relayed between sessions.
type Envelope struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// inboundEvent is the raw shape read off the wire. The payload stays raw until
// the type switch picks the concrete shape.
type inboundEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PrivateMessagePayload is the client action addressing a message to one user.
type PrivateMessagePayload struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// TypingPayload is the client action addressing a typing signal to one user.
type TypingPayload struct {
	RecipientID string `json:"recipientId"`
}

// MessageReceivePayload is delivered to the recipient of a private message.
// The timestamp is assigned by the relay at relay time, not by the sender.
type MessageReceivePayload struct {
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// TypingIndicatorPayload is delivered to the recipient of a typing signal.
type TypingIndicatorPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// PresencePayload announces a presence transition to other connected users.
type PresencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// newMessageReceive builds the delivery envelope for a relayed private message.
func newMessageReceive(sender user.Identity, content string, at time.Time) Envelope {
	return Envelope{
		Type: TypeMessageReceive,
		Payload: MessageReceivePayload{
			SenderID:   sender.ID,
			SenderName: sender.Username,
			Content:    content,
			Timestamp:  at,
		},
	}
}

// newTypingIndicator builds the delivery envelope for a relayed typing signal.
func newTypingIndicator(sender user.Identity, isTyping bool) Envelope {
	return Envelope{
		Type: TypeTypingIndicator,
		Payload: TypingIndicatorPayload{
			UserID:   sender.ID,
			Username: sender.Username,
			IsTyping: isTyping,
		},
	}
}

// newPresenceEvent builds a user:online or user:offline announcement.
func newPresenceEvent(eventType EventType, ident user.Identity) Envelope {
	return Envelope{
		Type: eventType,
		Payload: PresencePayload{
			UserID:   ident.ID,
			Username: ident.Username,
		},
	}
}
