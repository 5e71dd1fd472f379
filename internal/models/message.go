package models

import "time"

// Message is one immutable unit of text in a conversation. IDs are
// server-assigned and creation-ordered within a conversation; the read
// flag is the only field that ever changes after insert.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	Read           bool      `db:"read" json:"read"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// MessageEvent is pushed through websockets to open conversation views.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}
