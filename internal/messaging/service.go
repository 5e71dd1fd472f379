// Package messaging is the direct-messaging subsystem API: conversation
// resolution, message writing, read-state tracking, live subscription
// and the per-user conversation list. The HTTP and websocket layers are
// thin consumers of this package.
package messaging

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"messaging-service/internal/hub"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/profile"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
)

var (
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	ErrEmptyMessage     = errors.New("message body is empty")
	ErrNotParticipant   = errors.New("sender is not a conversation participant")
)

// ConversationView is one entry of the per-user conversation list.
type ConversationView struct {
	ConversationID string          `json:"conversation_id"`
	Other          profile.Profile `json:"other_user"`
	DisplayLabel   string          `json:"display_label"`
	LastMessage    *string         `json:"last_message"`
	UnreadCount    int             `json:"unread_count"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Service composes the store, the live delivery hub, the profile
// directory and the event publisher.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	hub           *hub.Hub
	profiles      profile.Directory
	publisher     rabbitmq.Publisher
}

// NewService constructs the messaging service.
func NewService(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	liveHub *hub.Hub,
	profiles profile.Directory,
	publisher rabbitmq.Publisher,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		hub:           liveHub,
		profiles:      profiles,
		publisher:     publisher,
	}
}

// ResolveConversation returns the conversation between the caller and
// the other user, creating it on first contact. Idempotent and safe
// under concurrent first contact from both sides.
func (s *Service) ResolveConversation(ctx context.Context, selfID, otherID string) (models.Conversation, error) {
	if selfID == otherID {
		return models.Conversation{}, ErrSelfConversation
	}
	return s.conversations.GetOrCreate(ctx, selfID, otherID)
}

// SendMessage appends a message to a conversation and offers it to all
// current live subscribers. The hub publish happens strictly after the
// durable write.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, body string) (models.Message, error) {
	content := strings.TrimSpace(body)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.HasParticipant(senderID) {
		return models.Message{}, ErrNotParticipant
	}

	msg, err := s.messages.Create(ctx, conversationID, senderID, content)
	if err != nil {
		return models.Message{}, err
	}

	// Best effort: list recency self-corrects on the next send, and
	// message ordering never derives from the conversation row.
	if err := s.conversations.Touch(ctx, conversationID); err != nil {
		log.Printf("touch conversation %s failed: %v", conversationID, err)
	}

	s.hub.Publish(conversationID, msg)
	observability.IncMessagesSent()

	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, "messages.sent", models.MessageEvent{Type: "message", Message: &msg})
	}

	return msg, nil
}

// GetHistory returns the conversation's messages, oldest first.
func (s *Service) GetHistory(ctx context.Context, conversationID string) ([]models.Message, error) {
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conversationID)
}

// MarkConversationRead flips the read flag on every unread message the
// other participant sent. Idempotent.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, readerID string) error {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(readerID) {
		return ErrNotParticipant
	}
	_, err = s.messages.MarkRead(ctx, conversationID, readerID)
	return err
}

// UnreadCount derives the unread counter for a user in a conversation.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	return s.messages.UnreadCount(ctx, conversationID, userID)
}

// SubscribeToConversation registers a live subscription for messages
// written from this moment on. History is read separately.
func (s *Service) SubscribeToConversation(conversationID string) *hub.Subscription {
	return s.hub.Subscribe(conversationID)
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return s.conversations.IsParticipant(ctx, conversationID, userID)
}

// ListConversationsFor returns the caller's conversations, most
// recently active first, decorated with the counterpart's profile
// projection.
func (s *Service) ListConversationsFor(ctx context.Context, userID string) ([]ConversationView, error) {
	summaries, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	otherIDs := make([]string, 0, len(summaries))
	seen := map[string]struct{}{}
	for _, summary := range summaries {
		if _, ok := seen[summary.OtherUserID]; !ok {
			seen[summary.OtherUserID] = struct{}{}
			otherIDs = append(otherIDs, summary.OtherUserID)
		}
	}

	profiles, err := s.profiles.BulkProfiles(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationView, 0, len(summaries))
	for _, summary := range summaries {
		other, ok := profiles[summary.OtherUserID]
		if !ok {
			other = profile.Profile{UserID: summary.OtherUserID}
		}
		views = append(views, ConversationView{
			ConversationID: summary.ConversationID,
			Other:          other,
			DisplayLabel:   other.Label(),
			LastMessage:    summary.LastMessage,
			UnreadCount:    summary.UnreadCount,
			UpdatedAt:      summary.UpdatedAt,
		})
	}
	return views, nil
}
