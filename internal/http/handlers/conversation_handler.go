// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - GET  /conversations   (list with unread counters, ETag support)
//   - POST /conversations   (create a group, or create-or-return a direct conversation)
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

//
// DTOs
//

// CreateConversationRequest is the JSON payload for creating a conversation.
type CreateConversationRequest struct {
	// ParticipantIDs lists the other members; the caller is always added.
	ParticipantIDs []int64 `json:"participant_ids" binding:"required,min=1" example:"2,3"`
	// Name optionally names the conversation, which makes it a group.
	Name *string `json:"name,omitempty" example:"Weekend trip"`
}

// ListConversationsResponse wraps the caller's conversations.
type ListConversationsResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations
// @Description Returns the caller's conversations, newest first, with participant ids and unread counters.
// @Description Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"  example(W/\"convs:1:3:42:0\")
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	ctx := c.Request.Context()

	// ETag pre-check (best effort). Unread counters only change when a
	// message is added or the caller's read position moves, both of which
	// are part of the tag.
	var db *gorm.DB
	if svc, isConcrete := h.convSvc.(*services.ConversationService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxMsgID, maxReadAt, err := repo.ConversationsStats(ctx, db, uid)
		if err == nil {
			var readTS int64
			if maxReadAt != nil {
				readTS = maxReadAt.UnixMicro()
			}
			etag := fmt.Sprintf(`W/"convs:%d:%d:%d:%d"`, uid, count, maxMsgID, readTS)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.convSvc.List(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list conversations")
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: items})
}

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create a conversation
// @Description With exactly one other participant and no name, returns the existing direct conversation
// @Description (200) or creates it (201). Otherwise a group conversation is created (201).
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateConversationRequest  true  "Participants and optional name"
//
// @Success     200  {object} domain.ConversationSummary "Existing direct conversation"
// @Success     201  {object} domain.ConversationSummary "Created"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "participant_ids required")
		return
	}

	conv, created, err := h.convSvc.Create(c.Request.Context(), uid, req.ParticipantIDs, req.Name)
	switch {
	case errors.Is(err, services.ErrInvalidParticipants):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "could not create conversation")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, conv)
}
