package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/hub"
	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/profile"
	"messaging-service/internal/repositories"
)

type handlerFixture struct {
	convRepo *mocks.ConversationRepositoryMock
	msgRepo  *mocks.MessageRepositoryMock
	profiles *mocks.ProfileDirectoryMock
	router   *gin.Engine
}

func newHandlerFixture(t *testing.T, userID string) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		convRepo: new(mocks.ConversationRepositoryMock),
		msgRepo:  new(mocks.MessageRepositoryMock),
		profiles: new(mocks.ProfileDirectoryMock),
	}

	service := messaging.NewService(f.convRepo, f.msgRepo, hub.NewHub(), f.profiles, nil)
	handler := NewMessagingHandler(service, nil)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	router.GET("/conversations", handler.ListConversations)
	router.POST("/conversations/resolve", handler.ResolveConversation)
	router.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	router.POST("/conversations/:conversation_id/read", handler.MarkRead)

	f.router = router
	return f
}

func (f *handlerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestListConversationsReturnsDecoratedViews(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	preview := "tot morgen"
	f.convRepo.On("ListForUser", mock.Anything, "u1").Return([]models.ConversationSummary{
		{ConversationID: "c1", OtherUserID: "u2", LastMessage: &preview, UnreadCount: 1},
	}, nil).Once()
	f.profiles.On("BulkProfiles", mock.Anything, []string{"u2"}).Return(map[string]profile.Profile{
		"u2": {UserID: "u2", DisplayName: "KV Westkust", Role: "club"},
	}, nil).Once()

	rec := f.do(http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []struct {
			ConversationID string  `json:"conversation_id"`
			DisplayLabel   string  `json:"display_label"`
			LastMessage    *string `json:"last_message"`
			UnreadCount    int     `json:"unread_count"`
		} `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "c1", resp.Conversations[0].ConversationID)
	assert.Equal(t, "KV Westkust", resp.Conversations[0].DisplayLabel)
	assert.Equal(t, 1, resp.Conversations[0].UnreadCount)
	require.NotNil(t, resp.Conversations[0].LastMessage)
	assert.Equal(t, preview, *resp.Conversations[0].LastMessage)
}

func TestListConversationsMapsProfileOutageToBadGateway(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	f.convRepo.On("ListForUser", mock.Anything, "u1").Return([]models.ConversationSummary{
		{ConversationID: "c1", OtherUserID: "u2"},
	}, nil).Once()
	f.profiles.On("BulkProfiles", mock.Anything, []string{"u2"}).Return(nil, profile.ErrUnavailable).Once()

	rec := f.do(http.MethodGet, "/conversations", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListConversationsStoreErrorIsInternal(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	f.convRepo.On("ListForUser", mock.Anything, "u1").Return(nil, assert.AnError).Once()

	rec := f.do(http.MethodGet, "/conversations", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResolveConversationReturnsExistingID(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	f.convRepo.On("GetOrCreate", mock.Anything, "u1", "u2").
		Return(models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2"}, nil).Once()

	rec := f.do(http.MethodPost, "/conversations/resolve", gin.H{"other_user_id": "u2"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ConversationID)
}

func TestResolveConversationRejectsSelfChat(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	rec := f.do(http.MethodPost, "/conversations/resolve", gin.H{"other_user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveConversationRequiresOtherUserID(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	rec := f.do(http.MethodPost, "/conversations/resolve", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessagesReturnsHistoryAndMarksRead(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	conv := models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2"}
	f.convRepo.On("IsParticipant", mock.Anything, "c1", "u1").Return(true, nil).Once()
	f.convRepo.On("Get", mock.Anything, "c1").Return(conv, nil).Twice()
	f.msgRepo.On("ListByConversation", mock.Anything, "c1").Return([]models.Message{
		{ID: 1, ConversationID: "c1", SenderID: "u2", Content: "hallo"},
	}, nil).Once()
	f.msgRepo.On("MarkRead", mock.Anything, "c1", "u1").Return(int64(1), nil).Once()

	rec := f.do(http.MethodGet, "/conversations/c1/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hallo", resp.Messages[0].Content)

	f.msgRepo.AssertExpectations(t)
}

func TestGetMessagesForbiddenForNonParticipant(t *testing.T) {
	f := newHandlerFixture(t, "intruder")

	f.convRepo.On("IsParticipant", mock.Anything, "c1", "intruder").Return(false, nil).Once()

	rec := f.do(http.MethodGet, "/conversations/c1/messages", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	f.msgRepo.AssertNotCalled(t, "ListByConversation", mock.Anything, mock.Anything)
}

func TestGetMessagesUnknownConversationIsNotFound(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	f.convRepo.On("IsParticipant", mock.Anything, "missing", "u1").Return(true, nil).Once()
	f.convRepo.On("Get", mock.Anything, "missing").
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	rec := f.do(http.MethodGet, "/conversations/missing/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMessagesSucceedsWhenMarkReadFails(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	conv := models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2"}
	f.convRepo.On("IsParticipant", mock.Anything, "c1", "u1").Return(true, nil).Once()
	f.convRepo.On("Get", mock.Anything, "c1").Return(conv, nil).Twice()
	f.msgRepo.On("ListByConversation", mock.Anything, "c1").Return([]models.Message{}, nil).Once()
	f.msgRepo.On("MarkRead", mock.Anything, "c1", "u1").Return(int64(0), assert.AnError).Once()

	rec := f.do(http.MethodGet, "/conversations/c1/messages", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostMessageCreatesAndReturnsMessage(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	conv := models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2"}
	stored := models.Message{ID: 7, ConversationID: "c1", SenderID: "u1", Content: "dag"}
	f.convRepo.On("Get", mock.Anything, "c1").Return(conv, nil).Once()
	f.msgRepo.On("Create", mock.Anything, "c1", "u1", "dag").Return(stored, nil).Once()
	f.convRepo.On("Touch", mock.Anything, "c1").Return(nil).Once()

	rec := f.do(http.MethodPost, "/conversations/c1/messages", gin.H{"content": "dag"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, int64(7), msg.ID)
	assert.Equal(t, "dag", msg.Content)
}

func TestPostMessageRejectsWhitespaceBody(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	rec := f.do(http.MethodPost, "/conversations/c1/messages", gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.msgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageForbiddenForNonParticipant(t *testing.T) {
	f := newHandlerFixture(t, "intruder")

	conv := models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2"}
	f.convRepo.On("Get", mock.Anything, "c1").Return(conv, nil).Once()

	rec := f.do(http.MethodPost, "/conversations/c1/messages", gin.H{"content": "hoi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostMessageUnknownConversationIsNotFound(t *testing.T) {
	f := newHandlerFixture(t, "u1")

	f.convRepo.On("Get", mock.Anything, "missing").
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	rec := f.do(http.MethodPost, "/conversations/missing/messages", gin.H{"content": "hoi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkReadReturnsNoContent(t *testing.T) {
	f := newHandlerFixture(t, "u2")

	conv := models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2"}
	f.convRepo.On("Get", mock.Anything, "c1").Return(conv, nil).Once()
	f.msgRepo.On("MarkRead", mock.Anything, "c1", "u2").Return(int64(2), nil).Once()

	rec := f.do(http.MethodPost, "/conversations/c1/read", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMarkReadForbiddenForNonParticipant(t *testing.T) {
	f := newHandlerFixture(t, "intruder")

	conv := models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2"}
	f.convRepo.On("Get", mock.Anything, "c1").Return(conv, nil).Once()

	rec := f.do(http.MethodPost, "/conversations/c1/read", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
