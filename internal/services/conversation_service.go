// Package services – ConversationService
//
// This file implements ConversationService, which creates conversations and
// lists them per user together with their derived unread counters.
//
// Unread counters are never stored: every list call recomputes them from the
// message log and the caller's read position.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
)

// ConversationRepo defines the repository contract required by
// ConversationService and MessageService.
type ConversationRepo interface {
	// CreateConversation inserts a conversation with its participants.
	CreateConversation(ctx context.Context, db *gorm.DB, name *string, isGroup bool, userIDs []int64) (*domain.Conversation, error)

	// FindDirectConversation returns the direct conversation between exactly userIDs.
	FindDirectConversation(ctx context.Context, db *gorm.DB, userIDs []int64) (*domain.Conversation, error)

	// GetParticipants returns participants in join order (ErrNotFound for an unknown conversation).
	GetParticipants(ctx context.Context, db *gorm.DB, conversationID int64) ([]domain.Participant, error)

	// ListConversations returns the conversations userID participates in.
	ListConversations(ctx context.Context, db *gorm.DB, userID int64) ([]domain.Conversation, error)

	// ParticipantsByConversation batch-loads participants keyed by conversation.
	ParticipantsByConversation(ctx context.Context, db *gorm.DB, conversationIDs []int64) (map[int64][]domain.Participant, error)
}

// NameMaxLen caps stored conversation names by rune length.
const NameMaxLen = 255

// ConversationService provides conversation-level operations.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the conversation repository used by this service.
	Repo ConversationRepo
	// Messages provides the unread counter query.
	Messages MessageRepo
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, r ConversationRepo, m MessageRepo) *ConversationService {
	return &ConversationService{DB: db, Repo: r, Messages: m}
}

// List returns every conversation of userID with participant ids, the
// caller's read position and unread count.
func (s *ConversationService) List(ctx context.Context, userID int64) ([]domain.ConversationSummary, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)
	defer span.End()

	convs, err := s.Repo.ListConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list conversations: %v", ErrPersistence, err)
	}
	if len(convs) == 0 {
		return []domain.ConversationSummary{}, nil
	}

	ids := lo.Map(convs, func(c domain.Conversation, _ int) int64 { return c.ID })
	parts, err := s.Repo.ParticipantsByConversation(ctx, s.DB, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: participants: %v", ErrPersistence, err)
	}

	out := make([]domain.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		ps := parts[c.ID]
		me, _ := findParticipant(ps, userID)
		unread, err := s.Messages.CountUnread(ctx, s.DB, c.ID, userID, me.LastReadAt)
		if err != nil {
			return nil, fmt.Errorf("%w: unread count: %v", ErrPersistence, err)
		}
		out = append(out, domain.ConversationSummary{
			Conversation:   c,
			ParticipantIDs: participantIDs(ps),
			LastReadAt:     me.LastReadAt,
			UnreadCount:    unread,
		})
	}
	span.SetAttributes(attribute.Int("conversations", len(out)))
	return out, nil
}

// Create starts a conversation between userID and participantIDs.
//
// With exactly one other participant and no name, the existing direct
// conversation between the two is returned when there is one (created is
// false). Any other combination creates a group conversation.
func (s *ConversationService) Create(ctx context.Context, userID int64, participantIDs []int64, name *string) (conv *domain.ConversationSummary, created bool, err error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int("participants", len(participantIDs)),
		),
	)
	defer span.End()

	if userID <= 0 || lo.SomeBy(participantIDs, func(id int64) bool { return id <= 0 }) {
		return nil, false, ErrInvalidParticipants
	}
	members := lo.Uniq(append([]int64{userID}, participantIDs...))
	if len(members) < 2 {
		return nil, false, ErrInvalidParticipants
	}
	name = normalizeName(name)

	if len(members) == 2 && name == nil {
		c, err := s.Repo.FindDirectConversation(ctx, s.DB, members)
		switch {
		case err == nil:
			return s.summary(*c, members), false, nil
		case !errors.Is(err, repo.ErrNotFound):
			return nil, false, fmt.Errorf("%w: find direct: %v", ErrPersistence, err)
		}
	}

	isGroup := len(members) > 2 || name != nil
	c, err := s.Repo.CreateConversation(ctx, s.DB, name, isGroup, members)
	if err != nil {
		return nil, false, fmt.Errorf("%w: create conversation: %v", ErrPersistence, err)
	}
	span.SetAttributes(attribute.Int64("conversation.id", c.ID))
	return s.summary(*c, members), true, nil
}

func (s *ConversationService) summary(c domain.Conversation, members []int64) *domain.ConversationSummary {
	return &domain.ConversationSummary{Conversation: c, ParticipantIDs: members}
}

// normalizeName trims and collapses whitespace; blank names become nil.
func normalizeName(name *string) *string {
	if name == nil {
		return nil
	}
	n := whitespaceRE.ReplaceAllString(strings.TrimSpace(*name), " ")
	if n == "" {
		return nil
	}
	if utf8.RuneCountInString(n) > NameMaxLen {
		n = string([]rune(n)[:NameMaxLen])
	}
	return &n
}
