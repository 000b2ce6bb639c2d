// Package services defines the business logic for conversations, messages,
// and read state. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// Translation into user-facing messages, HTTP status codes or websocket error
// events is performed at the transport layer.
package services

import "errors"

// Message-related errors.
var (
	// ErrMalformed indicates an inbound frame or request body that could not
	// be decoded or failed validation.
	ErrMalformed = errors.New("malformed request")

	// ErrEmptyContent is returned when message content is empty after
	// normalization.
	ErrEmptyContent = errors.New("content is empty")

	// ErrTooLong is returned when message content exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("content too long")

	// ErrPersistence wraps any failure of the storage layer. Callers reply
	// with a generic internal error and never broadcast.
	ErrPersistence = errors.New("persistence failure")
)

// Conversation-related errors.
var (
	// ErrNotParticipant is returned when the acting user is not a participant
	// of the conversation.
	ErrNotParticipant = errors.New("not a participant of this conversation")

	// ErrConversationNotFound indicates that the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidParticipants is returned when a conversation would have fewer
	// than two distinct participants or carries an invalid user id.
	ErrInvalidParticipants = errors.New("a conversation needs at least two distinct participants")
)
