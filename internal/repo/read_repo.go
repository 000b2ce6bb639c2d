// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores per-participant read positions.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// GetReadPositions returns every participant's read position in a
// conversation keyed by user id. Users who never read map to nil.
func GetReadPositions(ctx context.Context, db *gorm.DB, conversationID int64) (map[int64]*time.Time, error) {
	var rows []domain.Participant
	err := db.WithContext(ctx).
		Select("user_id", "last_read_at").
		Where("conversation_id = ?", conversationID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*time.Time, len(rows))
	for _, p := range rows {
		out[p.UserID] = p.LastReadAt
	}
	return out, nil
}

// SetReadPosition moves userID's read position in a conversation forward to
// at and returns the stored value. The update is conditional, so a position
// never moves backward: if the stored value is already at or past at, it is
// left alone and returned unchanged. It returns ErrNotFound when userID is not
// a participant.
func SetReadPosition(ctx context.Context, db *gorm.DB, conversationID, userID int64, at time.Time) (time.Time, error) {
	at = at.UTC()
	err := db.WithContext(ctx).Model(&domain.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Where("last_read_at IS NULL OR last_read_at < ?", at).
		Update("last_read_at", at).Error
	if err != nil {
		return time.Time{}, err
	}

	p, err := GetParticipant(ctx, db, conversationID, userID)
	if err != nil {
		return time.Time{}, err
	}
	if p.LastReadAt == nil {
		return at, nil
	}
	return p.LastReadAt.UTC(), nil
}
