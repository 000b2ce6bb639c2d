// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for conversations
// and their participants.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
//
// Error semantics:
//   - When a conversation is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateConversation inserts a conversation and its participants in one
// transaction. userIDs must already be de-duplicated; their order is kept as
// the join order.
func CreateConversation(ctx context.Context, db *gorm.DB, name *string, isGroup bool, userIDs []int64) (*domain.Conversation, error) {
	now := Now()
	c := &domain.Conversation{
		Name:      name,
		IsGroup:   isGroup,
		CreatedAt: now,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		parts := make([]domain.Participant, 0, len(userIDs))
		for i, uid := range userIDs {
			parts = append(parts, domain.Participant{
				ConversationID: c.ID,
				UserID:         uid,
				// keep join order stable even within one clock tick
				JoinedAt: now.Add(time.Duration(i) * time.Microsecond),
			})
		}
		return tx.Omit("Conversation").Create(&parts).Error
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a conversation by id or returns ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id int64) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindDirectConversation returns the non-group conversation whose participant
// set is exactly userIDs, or ErrNotFound.
func FindDirectConversation(ctx context.Context, db *gorm.DB, userIDs []int64) (*domain.Conversation, error) {
	if len(userIDs) == 0 {
		return nil, ErrNotFound
	}
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Where("is_group = ?", false)
	for _, uid := range userIDs {
		q = q.Where("id IN (?)", db.Model(&domain.Participant{}).
			Select("conversation_id").
			Where("user_id = ?", uid))
	}
	q = q.Where("(?) = ?", db.Model(&domain.Participant{}).
		Select("COUNT(*)").
		Where("conversation_participants.conversation_id = conversations.id"), len(userIDs))

	var c domain.Conversation
	if err := q.Order("id ASC").First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetParticipants returns the participants of a conversation in join order.
// It returns ErrNotFound when the conversation does not exist.
func GetParticipants(ctx context.Context, db *gorm.DB, conversationID int64) ([]domain.Participant, error) {
	var out []domain.Participant
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC, user_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if _, err := GetConversation(ctx, db, conversationID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetParticipant returns the membership row of userID in a conversation, or
// ErrNotFound when the user is not a participant.
func GetParticipant(ctx context.Context, db *gorm.DB, conversationID, userID int64) (*domain.Participant, error) {
	var p domain.Participant
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListConversations returns every conversation userID participates in,
// most recently created first.
func ListConversations(ctx context.Context, db *gorm.DB, userID int64) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("conversations.created_at DESC, conversations.id DESC").
		Find(&out).Error
	return out, err
}

// ParticipantsByConversation loads the participants of several conversations
// at once, keyed by conversation id, each slice in join order.
func ParticipantsByConversation(ctx context.Context, db *gorm.DB, conversationIDs []int64) (map[int64][]domain.Participant, error) {
	out := make(map[int64][]domain.Participant, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []domain.Participant
	err := db.WithContext(ctx).
		Where("conversation_id IN ?", conversationIDs).
		Order("conversation_id ASC, joined_at ASC, user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ConversationID] = append(out[p.ConversationID], p)
	}
	return out, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
