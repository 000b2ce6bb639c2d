// Package dispatch turns inbound websocket frames into service calls.
//
// Every frame walks the same path:
//
//	Received → Parsed → Authorized → Persisted → Broadcast → Done
//	                 ↘ Rejected (error event to the originating connection only)
//
// Parsing and payload validation happen here; authorization, persistence and
// the broadcast are owned by services.MessageService.Send.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/hub"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

// DefaultTimeout bounds a single dispatch when New gets a non-positive value.
const DefaultTimeout = 10 * time.Second

// MessageSender is the part of services.MessageService the dispatcher needs.
type MessageSender interface {
	Send(ctx context.Context, senderID, conversationID int64, content string) (*domain.Message, error)
}

// SendPayload is the payload of an inbound message.new frame.
type SendPayload struct {
	ConversationID int64  `json:"conversation_id" validate:"required,gt=0"`
	Content        string `json:"content"         validate:"required"`
}

// Dispatcher routes frames by type.
type Dispatcher struct {
	messages MessageSender
	validate *validator.Validate
	timeout  time.Duration
	log      zerolog.Logger
}

// New builds a Dispatcher. timeout bounds the service call of each frame.
func New(messages MessageSender, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		messages: messages,
		validate: validator.New(),
		timeout:  timeout,
		log:      logger.With().Str("component", "dispatch").Logger(),
	}
}

// Handle processes one raw frame from c. Errors are answered on c alone.
//
// The connection closing mid-dispatch does not abort the work: the frame
// runs on a context detached from ctx's cancellation and bounded by the
// dispatcher's own timeout.
func (d *Dispatcher) Handle(ctx context.Context, c hub.Conn, raw []byte) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	log := d.log.With().Str("conn_id", c.ID()).Int64("user_id", c.UserID()).Logger()

	var frame hub.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		framesTotal.WithLabelValues("invalid", resultRejected).Inc()
		d.reply(c, log, hub.CodeBadRequest, "malformed frame")
		return
	}

	switch frame.Type {
	case hub.TypeMessageNew:
		d.handleSend(ctx, c, log, frame.Payload)
	default:
		framesTotal.WithLabelValues("unknown", resultRejected).Inc()
		d.reply(c, log, hub.CodeUnsupportedType, "unsupported event type "+truncate(frame.Type, 64))
	}
}

func (d *Dispatcher) handleSend(ctx context.Context, c hub.Conn, log zerolog.Logger, raw json.RawMessage) {
	var p SendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		framesTotal.WithLabelValues(hub.TypeMessageNew, resultRejected).Inc()
		d.reply(c, log, hub.CodeBadRequest, services.ErrMalformed.Error())
		return
	}
	if err := d.validate.Struct(p); err != nil {
		framesTotal.WithLabelValues(hub.TypeMessageNew, resultRejected).Inc()
		d.reply(c, log, hub.CodeBadRequest, "conversation_id and content are required")
		return
	}

	msg, err := d.messages.Send(ctx, c.UserID(), p.ConversationID, p.Content)
	if err != nil {
		framesTotal.WithLabelValues(hub.TypeMessageNew, resultRejected).Inc()
		code, text := classify(err)
		if code == hub.CodeInternal {
			log.Error().Err(err).Int64("conversation_id", p.ConversationID).Msg("send failed")
		} else {
			log.Debug().Err(err).Int64("conversation_id", p.ConversationID).Msg("send rejected")
		}
		d.reply(c, log, code, text)
		return
	}

	framesTotal.WithLabelValues(hub.TypeMessageNew, resultOK).Inc()
	log.Debug().
		Int64("conversation_id", msg.ConversationID).
		Int64("message_id", msg.ID).
		Msg("message dispatched")
}

// classify maps a service error to a wire code and a client-safe message.
func classify(err error) (code, message string) {
	switch {
	case errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrTooLong),
		errors.Is(err, services.ErrMalformed):
		return hub.CodeBadRequest, rootMessage(err)
	case errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrConversationNotFound):
		return hub.CodeForbidden, services.ErrNotParticipant.Error()
	default:
		return hub.CodeInternal, "internal error"
	}
}

func rootMessage(err error) string {
	for _, s := range []error{services.ErrEmptyContent, services.ErrTooLong, services.ErrMalformed} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

func (d *Dispatcher) reply(c hub.Conn, log zerolog.Logger, code, message string) {
	frame, err := hub.NewErrorEvent(code, message).Encode()
	if err != nil {
		return
	}
	if err := c.Send(frame); err != nil {
		log.Debug().Err(err).Str("code", code).Msg("error reply not delivered")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
