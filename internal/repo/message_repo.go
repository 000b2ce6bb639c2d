// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// CreateMessage inserts a new message row. The database assigns the id;
// CreatedAt is the repository clock (UTC, microsecond precision).
func CreateMessage(ctx context.Context, db *gorm.DB, conversationID, senderID int64, content string) (*domain.Message, error) {
	m := &domain.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      Now(),
	}
	if err := db.WithContext(ctx).Omit("Conversation").Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns up to limit messages of a conversation, newest first.
// When beforeID > 0 only messages with id < beforeID are considered.
func ListMessages(ctx context.Context, db *gorm.DB, conversationID int64, limit int, beforeID int64) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("id DESC").Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID int64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// CountUnread counts the messages in a conversation that userID did not send
// and that were created after lastReadAt. A nil lastReadAt counts them all.
func CountUnread(ctx context.Context, db *gorm.DB, conversationID, userID int64, lastReadAt *time.Time) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, userID)
	if lastReadAt != nil {
		q = q.Where("created_at > ?", lastReadAt.UTC())
	}
	err := q.Count(&n).Error
	return n, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id int64) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
