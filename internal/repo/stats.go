// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// ConversationsStats returns aggregate metadata for a user's conversation
// list: how many conversations the user is in, the greatest message id across
// them, and the user's latest read position.
//
// Every change that alters the list a user sees moves at least one of these
// values: joining a conversation bumps count, a new message bumps
// maxMessageID, and reading sets a position later than any earlier one.
//
// When the user has no conversations the result is (0, 0, nil, nil).
func ConversationsStats(ctx context.Context, db *gorm.DB, userID int64) (count, maxMessageID int64, maxReadAt *time.Time, err error) {
	mine := db.WithContext(ctx).Model(&domain.Participant{}).Where("user_id = ?", userID)

	// Count
	if err = mine.Count(&count).Error; err != nil {
		return 0, 0, nil, err
	}
	if count == 0 {
		return 0, 0, nil, nil
	}

	var msg struct{ ID int64 }
	err = db.WithContext(ctx).Model(&domain.Message{}).
		Select("id").
		Where("conversation_id IN (?)", db.Model(&domain.Participant{}).
			Select("conversation_id").
			Where("user_id = ?", userID)).
		Order("id DESC").
		Limit(1).
		Scan(&msg).Error
	if err != nil {
		return 0, 0, nil, err
	}

	// Latest read position (avoid MAX() -> TEXT in SQLite)
	var rows []domain.Participant
	err = db.WithContext(ctx).
		Select("last_read_at").
		Where("user_id = ? AND last_read_at IS NOT NULL", userID).
		Order("last_read_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return 0, 0, nil, err
	}
	if len(rows) == 1 {
		maxReadAt = rows[0].LastReadAt
	}
	return count, msg.ID, maxReadAt, nil
}
