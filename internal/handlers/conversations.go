package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/profile"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// MessagingHandler exposes the direct-messaging subsystem over HTTP.
type MessagingHandler struct {
	service *messaging.Service
	emitter *telemetry.AuditEmitter
}

// NewMessagingHandler builds a MessagingHandler.
func NewMessagingHandler(service *messaging.Service, emitter *telemetry.AuditEmitter) *MessagingHandler {
	return &MessagingHandler{service: service, emitter: emitter}
}

// ListConversations returns the caller's conversations, newest activity
// first, with the counterpart's profile projection and a preview.
func (h *MessagingHandler) ListConversations(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	views, err := h.service.ListConversationsFor(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, profile.ErrUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load profiles"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

// ResolveConversation creates or returns the conversation between the
// caller and the other user.
func (h *MessagingHandler) ResolveConversation(c *gin.Context) {
	var req struct {
		OtherUserID string `json:"other_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(middleware.UserIDKey)
	conv, err := h.service.ResolveConversation(c.Request.Context(), userID, req.OtherUserID)
	if err != nil {
		if errors.Is(err, messaging.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID})
}

// GetMessages returns the conversation history, oldest first, and marks
// the other participant's messages read, as the source view does on
// open/refresh.
func (h *MessagingHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString(middleware.UserIDKey)

	member, err := h.service.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	msgs, err := h.service.GetHistory(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "failed to load messages"})
		return
	}

	if err := h.service.MarkConversationRead(c.Request.Context(), conversationID, userID); err != nil {
		log.Printf("mark read failed for conversation %s: %v", conversationID, err)
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage appends a message and broadcasts it to live subscribers.
func (h *MessagingHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString(middleware.UserIDKey)

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.SendMessage(c.Request.Context(), conversationID, userID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, messaging.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message body is empty"})
		case errors.Is(err, messaging.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		case errors.Is(err, repositories.ErrConversationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		default:
			h.emitter.Emit(c.Request.Context(), "ERROR", "message store failure", requestIDFromContext(c), userIDFromContext(c))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		}
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// MarkRead lets an open view re-trigger read marking without refetching
// history.
func (h *MessagingHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString(middleware.UserIDKey)

	if err := h.service.MarkConversationRead(c.Request.Context(), conversationID, userID); err != nil {
		switch {
		case errors.Is(err, messaging.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		case errors.Is(err, repositories.ErrConversationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark conversation read"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
