// Package hub keeps track of live websocket connections per user and fans out
// server events to them.
//
// This file defines the wire envelope shared by inbound frames and outbound
// events:
//
//	{"type": "message.new", "payload": {...}}
//
// Outbound event types:
//   - message.new:        a message was persisted in a conversation
//   - conversation.read:  a participant fetched history and advanced their read position
//   - error:              reply to the originating connection only
package hub

import (
	"encoding/json"
	"time"
)

// Event type names used on the wire.
const (
	TypeMessageNew       = "message.new"
	TypeConversationRead = "conversation.read"
	TypeError            = "error"
)

// Error codes carried by error events.
const (
	CodeBadRequest      = "bad_request"
	CodeForbidden       = "forbidden"
	CodeInternal        = "internal_error"
	CodeRateLimited     = "rate_limited"
	CodeUnsupportedType = "unsupported_type"
)

// Event is the envelope of every frame sent to a client.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Frame is an inbound envelope with its payload left undecoded until the
// type is known.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessagePayload is the payload of an outbound message.new event.
type MessagePayload struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReadPayload is the payload of a conversation.read event.
type ReadPayload struct {
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	LastReadAt     time.Time `json:"last_read_at"`
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessageEvent builds a message.new event.
func NewMessageEvent(p MessagePayload) Event {
	p.CreatedAt = p.CreatedAt.UTC()
	return Event{Type: TypeMessageNew, Payload: p}
}

// NewReadEvent builds a conversation.read event.
func NewReadEvent(conversationID, userID int64, at time.Time) Event {
	return Event{Type: TypeConversationRead, Payload: ReadPayload{
		ConversationID: conversationID,
		UserID:         userID,
		LastReadAt:     at.UTC(),
	}}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(code, message string) Event {
	return Event{Type: TypeError, Payload: ErrorPayload{Code: code, Message: message}}
}

// Encode serializes the event into a single text frame.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
