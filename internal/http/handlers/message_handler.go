// Message HTTP handlers.
//
// This file exposes REST endpoints for conversation messages:
//   - POST /conversations/{id}/messages   (send; same path and broadcast as a websocket frame)
//   - GET  /conversations/{id}/messages   (history page; advances the caller's read position)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a still-valid record
// exists for (user, conversation, key), the handler returns the recorded
// message with `Idempotency-Replayed: true` and nothing is broadcast again.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/services"
	"github.com/tbourn/go-chat-realtime/internal/utils"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for sending a message.
type SendMessageRequest struct {
	// Content is the message text. It is normalized by the service.
	Content string `json:"content" binding:"required" example:"See you at 8?"`
}

// SendMessageResponse wraps the persisted message.
type SendMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// HistoryResponse is a page of messages, oldest first.
//
// NextBeforeID is the cursor for the previous (older) page. It is null when
// the page was not full, i.e. there is nothing older to fetch.
type HistoryResponse struct {
	Messages     []domain.MessageView `json:"messages"`
	NextBeforeID *int64               `json:"next_before_id"`
}

// maxContentRunes inspects the concrete MessageService for its configured
// limit so error messages can state it.
func maxContentRunes(msgSvc MessageService) int {
	if ms, isConcrete := msgSvc.(*services.MessageService); isConcrete && ms.MaxContentRunes > 0 {
		return ms.MaxContentRunes
	}
	return services.DefaultMaxContentRunes
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Persists a message from the caller and pushes message.new to every live connection
// @Description of every participant. Supports idempotency via the Idempotency-Key header.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    int     true   "Conversation ID"
// @Param       body             body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.SendMessageResponse  "Created (or replayed, with Idempotency-Replayed: true)"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	convID, found := pathID(c, "id")
	if !found {
		return
	}
	ctx := c.Request.Context()

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	svc, isConcrete := h.msgSvc.(*services.MessageService)
	canRecord := idemKey != "" && isConcrete && svc.DB != nil

	// Replay path.
	if canRecord {
		if rec, err := repo.GetIdempotency(ctx, svc.DB, uid, convID, idemKey, repo.Now()); err == nil {
			if prev, err := repo.GetMessage(ctx, svc.DB, rec.MessageID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, rec.Status, SendMessageResponse{Message: prev})
				return
			}
		}
	}

	m, err := h.msgSvc.Send(ctx, uid, convID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyContent):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		case errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxContentRunes(h.msgSvc)))
		case errors.Is(err, services.ErrNotParticipant):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant of this conversation")
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, "could not send message")
		}
		return
	}

	// Store path (best effort).
	if canRecord {
		if _, err := repo.CreateIdempotency(ctx, svc.DB, uid, convID, idemKey, m.ID, http.StatusCreated, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Msg("store idempotency record")
		}
	}

	ok(c, http.StatusCreated, SendMessageResponse{Message: m})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Fetch conversation history
// @Description Returns up to limit messages older than before_id, oldest first, each with a seen flag.
// @Description The caller's read position advances to now and the other participants receive
// @Description conversation.read. Non-participants get an empty list.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id         path   int  true   "Conversation ID"
// @Param       limit      query  int  false  "Page size"                     minimum(1) maximum(100) default(50)
// @Param       before_id  query  int  false  "Only messages with id < before_id"
//
// @Success     200  {object} handlers.HistoryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	convID, found := pathID(c, "id")
	if !found {
		return
	}

	limit := h.msgSvc.ClampLimit(utils.AtoiDefault(c.Query("limit"), 0))
	var beforeID int64
	if raw := c.Query("before_id"); raw != "" {
		v, err := utils.ParseID(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "before_id must be a positive integer")
			return
		}
		beforeID = v
	}

	items, err := h.msgSvc.History(c.Request.Context(), uid, convID, limit, beforeID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load messages")
		return
	}

	resp := HistoryResponse{Messages: items}
	if len(items) > 0 && len(items) == limit {
		oldest := items[0].ID
		resp.NextBeforeID = &oldest
	}
	ok(c, http.StatusOK, resp)
}
