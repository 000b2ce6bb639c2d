// Package domain defines the persistence models for conversations,
// participants, and messages. These types are mapped with GORM and form the
// core data layer of the real-time chat service.
package domain

import "time"

// Conversation is a 1:1 (direct) or group conversation between users.
//
// Fields:
//   - ID: autoincrement primary key.
//   - Name: optional display name (direct conversations usually have none).
//   - IsGroup: true for group conversations.
//   - CreatedAt: creation timestamp.
type Conversation struct {
	ID        int64     `json:"id"         gorm:"primaryKey;autoIncrement"`
	Name      *string   `json:"name"       gorm:"type:varchar(255)"`
	IsGroup   bool      `json:"is_group"   gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Participant links a user to a conversation. The composite primary key gives
// set semantics: a user appears in a conversation at most once.
//
// LastReadAt is the user's read position in the conversation. It is nil until
// the user fetches the conversation history for the first time and never
// moves backward afterwards.
type Participant struct {
	ConversationID int64      `json:"conversation_id" gorm:"primaryKey;autoIncrement:false"`
	UserID         int64      `json:"user_id"         gorm:"primaryKey;autoIncrement:false;index:idx_participant_user"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Participant.
func (Participant) TableName() string { return "conversation_participants" }

// Message is a single immutable message inside a conversation. ID is assigned
// by the database and is the authoritative ordering key.
type Message struct {
	ID             int64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	ConversationID int64     `json:"conversation_id" gorm:"not null;index:idx_conv_msgs,priority:1"`
	SenderID       int64     `json:"sender_id"       gorm:"not null;index"`
	Content        string    `json:"content"         gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at"      gorm:"not null;index:idx_conv_msgs,priority:2"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ConversationSummary is a conversation as listed for one user, with the
// derived unread counter and the ids of all participants.
type ConversationSummary struct {
	Conversation
	ParticipantIDs []int64    `json:"participant_ids"`
	LastReadAt     *time.Time `json:"last_read_at"`
	UnreadCount    int64      `json:"unread_count"`
}

// MessageView is a message as returned by a history fetch, with the derived
// "seen" flag.
type MessageView struct {
	Message
	Seen bool `json:"seen"`
}
