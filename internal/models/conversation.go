package models

import "time"

// Conversation represents a private thread between exactly two users.
// The participant pair is stored canonically (User1ID < User2ID) so the
// unique index on it can arbitrate concurrent first contact.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	User1ID   string    `db:"user1_id" json:"user1_id"`
	User2ID   string    `db:"user2_id" json:"user2_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OtherParticipant returns the counterpart of userID in the conversation.
func (c Conversation) OtherParticipant(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// ConversationSummary is the per-user list projection of a conversation.
type ConversationSummary struct {
	ConversationID string    `db:"id" json:"conversation_id"`
	OtherUserID    string    `json:"other_user_id"`
	LastMessage    *string   `db:"last_message" json:"last_message"`
	UnreadCount    int       `db:"unread_count" json:"unread_count"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
