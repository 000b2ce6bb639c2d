// Package handlers exposes the REST and websocket endpoints of the chat API.
//
// Handlers are transport-thin: they validate input, call application
// services and translate results into HTTP responses (including conditional
// and idempotent responses). Every route sits behind middleware.Auth, so the
// caller is always an authenticated user id.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConversationService defines the conversation operations consumed by the
// HTTP handlers. Implementations must be safe for concurrent use.
type ConversationService interface {
	// List returns the caller's conversations with unread counters.
	List(ctx context.Context, userID int64) ([]domain.ConversationSummary, error)
	// Create creates (or, for direct conversations, returns) a conversation.
	Create(ctx context.Context, userID int64, participantIDs []int64, name *string) (*domain.ConversationSummary, bool, error)
}

// MessageService defines message sending and history retrieval.
type MessageService interface {
	// Send persists a message and broadcasts it to the participants.
	Send(ctx context.Context, senderID, conversationID int64, content string) (*domain.Message, error)
	// History returns a page of messages and advances the caller's read position.
	History(ctx context.Context, userID, conversationID int64, limit int, beforeID int64) ([]domain.MessageView, error)
	// ClampLimit reports the page size History applies to limit.
	ClampLimit(limit int) int
}

//
// Handler wiring
//

// DefaultIdempotencyTTL is used when New gets a non-positive TTL.
const DefaultIdempotencyTTL = 24 * time.Hour

// Handlers groups the REST endpoints for conversations and messages.
type Handlers struct {
	convSvc ConversationService
	msgSvc  MessageService
	idemTTL time.Duration
}

// New constructs Handlers bound to the given services. idemTTL is how long
// an Idempotency-Key keeps replaying its message.
func New(convSvc ConversationService, msgSvc MessageService, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = DefaultIdempotencyTTL
	}
	return &Handlers{convSvc: convSvc, msgSvc: msgSvc, idemTTL: idemTTL}
}

// currentUser returns the authenticated user id or answers 401.
func currentUser(c *gin.Context) (int64, bool) {
	uid, found := middleware.UserID(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return 0, false
	}
	return uid, true
}

// pathID parses a positive int64 path parameter or answers 400.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := utils.ParseID(c.Param(name))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
