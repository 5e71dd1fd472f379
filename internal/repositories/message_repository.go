package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	Create(ctx context.Context, conversationID string, senderID string, content string) (models.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	Get(ctx context.Context, messageID int64) (models.Message, error)
	MarkRead(ctx context.Context, conversationID string, readerID string) (int64, error)
	UnreadCount(ctx context.Context, conversationID string, userID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, read, created_at`

// Create appends a message with a server-assigned id and timestamp.
func (r *MessageRepo) Create(ctx context.Context, conversationID string, senderID string, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3) RETURNING `+messageColumns, conversationID, senderID, content).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Read, &msg.CreatedAt)
	return msg, err
}

// ListByConversation returns the conversation history, oldest first.
// Ordering follows the server-assigned sequence, not wall clock.
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 ORDER BY id ASC`, conversationID)
	return msgs, err
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkRead flips the read flag on every unread message authored by the
// other participant. Idempotent; returns the number of rows flipped.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID string, readerID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE WHERE conversation_id=$1 AND sender_id <> $2 AND read = FALSE`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnreadCount derives the unread counter for a user in a conversation.
func (r *MessageRepo) UnreadCount(ctx context.Context, conversationID string, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1 AND sender_id <> $2 AND read = FALSE`, conversationID, userID)
	return count, err
}
