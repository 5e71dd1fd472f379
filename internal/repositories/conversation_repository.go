package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, userID string, otherID string) (models.Conversation, error)
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	Touch(ctx context.Context, conversationID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CanonicalPair orders two user ids by the fixed rule the unique index
// is built over.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

const conversationColumns = `id, user1_id, user2_id, created_at, updated_at`

// GetOrCreate returns the conversation between the pair, creating it on
// first contact. A create attempt that loses the race at the unique
// index is resolved by re-reading the winning row, never surfaced.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, userID string, otherID string) (models.Conversation, error) {
	user1, user2 := CanonicalPair(userID, otherID)

	var conv models.Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user1_id=$1 AND user2_id=$2`
	err := r.db.GetContext(ctx, &conv, query, user1, user2)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	insert := `INSERT INTO conversations (user1_id, user2_id) VALUES ($1, $2)
        ON CONFLICT (user1_id, user2_id) DO NOTHING
        RETURNING ` + conversationColumns
	err = r.db.GetContext(ctx, &conv, insert, user1, user2)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	// Lost the insert race; the winner's row exists now.
	err = r.db.GetContext(ctx, &conv, query, user1, user2)
	return conv, err
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND (user1_id=$2 OR user2_id=$2))`, conversationID, userID)
	return exists, err
}

// ListForUser returns the user's conversations, newest activity first,
// each with the latest message preview and the user's unread count.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.user1_id, c.user2_id, c.updated_at,
            last.content AS last_message,
            COALESCE(unread.count, 0) AS unread_count
        FROM conversations c
        LEFT JOIN LATERAL (
            SELECT content FROM messages WHERE conversation_id = c.id ORDER BY id DESC LIMIT 1
        ) last ON TRUE
        LEFT JOIN LATERAL (
            SELECT COUNT(*) AS count FROM messages
            WHERE conversation_id = c.id AND sender_id <> $1 AND read = FALSE
        ) unread ON TRUE
        WHERE c.user1_id=$1 OR c.user2_id=$1
        ORDER BY c.updated_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var row struct {
			ID          string    `db:"id"`
			User1ID     string    `db:"user1_id"`
			User2ID     string    `db:"user2_id"`
			UpdatedAt   time.Time `db:"updated_at"`
			LastMessage *string   `db:"last_message"`
			UnreadCount int       `db:"unread_count"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		otherID := row.User1ID
		if otherID == userID {
			otherID = row.User2ID
		}
		result = append(result, models.ConversationSummary{
			ConversationID: row.ID,
			OtherUserID:    otherID,
			LastMessage:    row.LastMessage,
			UnreadCount:    row.UnreadCount,
			UpdatedAt:      row.UpdatedAt,
		})
	}
	return result, rows.Err()
}

// Touch bumps the conversation's last-activity timestamp.
func (r *ConversationRepo) Touch(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id=$1`, conversationID)
	return err
}
