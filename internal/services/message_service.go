// Package services – MessageService
//
// This file implements MessageService, which owns the two flows of the
// real-time core:
//
//   - Send:    normalize → authorize → persist → broadcast message.new to
//     every participant (the sender's other devices included)
//   - History: fetch a page of messages with seen flags, advance the caller's
//     read position, and tell the other participants via conversation.read
//
// Broadcasts only ever happen after the corresponding write returned, and a
// failed write never produces an event.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include conversation/user identifiers and pagination parameters.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/hub"
	"github.com/tbourn/go-chat-realtime/internal/repo"
)

// Defaults applied when the corresponding MessageService field is zero.
const (
	DefaultMaxContentRunes = 4000
	DefaultHistoryLimit    = 50
	DefaultHistoryMaxLimit = 100
)

// MessageRepo defines the message persistence contract.
type MessageRepo interface {
	// CreateMessage persists a message; the store assigns id and timestamp.
	CreateMessage(ctx context.Context, db *gorm.DB, conversationID, senderID int64, content string) (*domain.Message, error)

	// ListMessages returns up to limit messages newest-first, restricted to
	// id < beforeID when beforeID > 0.
	ListMessages(ctx context.Context, db *gorm.DB, conversationID int64, limit int, beforeID int64) ([]domain.Message, error)

	// GetMessage fetches one message by id.
	GetMessage(ctx context.Context, db *gorm.DB, id int64) (*domain.Message, error)

	// CountUnread counts messages from others created after lastReadAt.
	CountUnread(ctx context.Context, db *gorm.DB, conversationID, userID int64, lastReadAt *time.Time) (int64, error)
}

// ReadRepo defines the read position contract.
type ReadRepo interface {
	// GetReadPositions returns user id → position (nil when never read).
	GetReadPositions(ctx context.Context, db *gorm.DB, conversationID int64) (map[int64]*time.Time, error)

	// SetReadPosition moves a position forward (never backward) and returns
	// the stored value.
	SetReadPosition(ctx context.Context, db *gorm.DB, conversationID, userID int64, at time.Time) (time.Time, error)
}

// Broadcaster fans an event out to every live connection of the given users.
type Broadcaster interface {
	Broadcast(userIDs []int64, ev hub.Event) int
}

// MessageService coordinates message persistence, read state and event
// fan-out.
type MessageService struct {
	DB            *gorm.DB
	Messages      MessageRepo
	Conversations ConversationRepo
	Reads         ReadRepo
	Hub           Broadcaster

	// Optional limits; zero selects the package defaults.
	MaxContentRunes int
	DefaultLimit    int
	MaxLimit        int

	// Now is the clock used for read positions (repo.Now when nil).
	Now func() time.Time
}

// Send validates content, checks that senderID participates in the
// conversation, persists the message and broadcasts message.new to all
// participants. Nothing is broadcast when any step fails.
func (s *MessageService) Send(ctx context.Context, senderID, conversationID int64, content string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.Int64("conversation.id", conversationID),
			attribute.Int64("user.id", senderID),
		),
	)
	defer span.End()

	content = NormalizeContent(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > s.maxContentRunes() {
		return nil, ErrTooLong
	}

	parts, err := s.participants(ctx, conversationID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if _, ok := findParticipant(parts, senderID); !ok {
		return nil, ErrNotParticipant
	}

	msg, err := s.Messages.CreateMessage(ctx, s.DB, conversationID, senderID, content)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("%w: create message: %v", ErrPersistence, err))
	}

	n := s.broadcast(participantIDs(parts), hub.NewMessageEvent(hub.MessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}))
	span.SetAttributes(
		attribute.Int64("message.id", msg.ID),
		attribute.Int("deliveries", n),
	)
	return msg, nil
}

// History returns up to limit messages of a conversation, oldest first, each
// with its seen flag, then advances userID's read position to now and emits
// conversation.read to the other participants.
//
// A caller who is not a participant (or an unknown conversation) gets an
// empty result; no state changes and no event is emitted.
func (s *MessageService) History(ctx context.Context, userID, conversationID int64, limit int, beforeID int64) ([]domain.MessageView, error) {
	limit = s.ClampLimit(limit)

	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.Int64("conversation.id", conversationID),
			attribute.Int64("user.id", userID),
			attribute.Int("limit", limit),
			attribute.Int64("before_id", beforeID),
		),
	)
	defer span.End()

	parts, err := s.participants(ctx, conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		return []domain.MessageView{}, nil
	}
	if err != nil {
		return nil, s.fail(span, err)
	}
	if _, ok := findParticipant(parts, userID); !ok {
		return []domain.MessageView{}, nil
	}

	msgs, err := s.Messages.ListMessages(ctx, s.DB, conversationID, limit, beforeID)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("%w: list messages: %v", ErrPersistence, err))
	}
	slices.Reverse(msgs)

	// Seen flags reflect positions as they were before this fetch.
	positions, err := s.Reads.GetReadPositions(ctx, s.DB, conversationID)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("%w: read positions: %v", ErrPersistence, err))
	}
	ids := participantIDs(parts)
	views := make([]domain.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, domain.MessageView{Message: m, Seen: ComputeSeen(m, ids, positions)})
	}

	stored, err := s.Reads.SetReadPosition(ctx, s.DB, conversationID, userID, s.now())
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("%w: set read position: %v", ErrPersistence, err))
	}

	if others := lo.Without(ids, userID); len(others) > 0 {
		s.broadcast(others, hub.NewReadEvent(conversationID, userID, stored))
	}
	span.SetAttributes(attribute.Int("messages", len(views)))
	return views, nil
}

func (s *MessageService) participants(ctx context.Context, conversationID int64) ([]domain.Participant, error) {
	parts, err := s.Conversations.GetParticipants(ctx, s.DB, conversationID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: participants: %v", ErrPersistence, err)
	}
	return parts, nil
}

func (s *MessageService) broadcast(userIDs []int64, ev hub.Event) int {
	if s.Hub == nil {
		return 0
	}
	return s.Hub.Broadcast(userIDs, ev)
}

func (s *MessageService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *MessageService) maxContentRunes() int {
	if s.MaxContentRunes > 0 {
		return s.MaxContentRunes
	}
	return DefaultMaxContentRunes
}

// ClampLimit returns the page size History uses for limit: the default for
// non-positive values, capped at the maximum.
func (s *MessageService) ClampLimit(limit int) int {
	def, hi := s.DefaultLimit, s.MaxLimit
	if hi <= 0 {
		hi = DefaultHistoryMaxLimit
	}
	if def <= 0 {
		def = DefaultHistoryLimit
	}
	if def > hi {
		def = hi
	}
	if limit <= 0 {
		return def
	}
	if limit > hi {
		return hi
	}
	return limit
}

func (s *MessageService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return repo.Now()
}

var (
	// blankLinesRE matches runs of three or more line breaks.
	blankLinesRE = regexp.MustCompile(`\n{3,}`)

	// whitespaceRE collapses consecutive whitespace to a single space.
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// NormalizeContent converts CRLF/CR to LF, collapses runs of blank lines to
// a single empty line, trims surrounding whitespace and applies Unicode NFC.
func NormalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blankLinesRE.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)
	return norm.NFC.String(s)
}
