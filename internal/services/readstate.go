// Package services – read state
//
// Read state is derived, never stored per message: each participant has one
// read position (last_read_at) per conversation. From it we derive
//
//   - unread count: messages from others created after the position
//   - seen flag:    every other participant's position is at or after the
//     message's creation time
package services

import (
	"time"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// ComputeSeen reports whether every participant other than the sender has a
// read position at or after msg.CreatedAt. It is false as soon as one of
// them has never read the conversation, and false when the sender is the
// only participant.
func ComputeSeen(msg domain.Message, participants []int64, positions map[int64]*time.Time) bool {
	others := 0
	for _, uid := range participants {
		if uid == msg.SenderID {
			continue
		}
		others++
		at := positions[uid]
		if at == nil || at.Before(msg.CreatedAt) {
			return false
		}
	}
	return others > 0
}

// participantIDs returns the user ids of ps in order.
func participantIDs(ps []domain.Participant) []int64 {
	out := make([]int64, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.UserID)
	}
	return out
}

// findParticipant returns the membership row of userID in ps.
func findParticipant(ps []domain.Participant, userID int64) (domain.Participant, bool) {
	for _, p := range ps {
		if p.UserID == userID {
			return p, true
		}
	}
	return domain.Participant{}, false
}
