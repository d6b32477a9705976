package handler

import (
	"errors"
	"net/http"
	"strconv"

	"Alumnet/internal/auth"
	"Alumnet/internal/model"
	"Alumnet/internal/repo"
	"Alumnet/internal/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler is the batch/REST equivalent of the realtime surface. It goes
// through the same ChatService, so authorization and dedup rules cannot
// diverge between the two paths.
type ChatHandler interface {
	ListConversations(c *gin.Context)
	CreateConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkMessageRead(c *gin.Context)
	UnreadCount(c *gin.Context)
}

type chatHandler struct {
	svc *service.ChatService
}

func NewChatHandler(svc *service.ChatService) ChatHandler {
	return &chatHandler{svc: svc}
}

type createConversationRequest struct {
	Kind     string   `json:"kind" binding:"required"`
	Members  []string `json:"members"`
	TopicRef string   `json:"topicRef"`
}

type sendMessageRequest struct {
	Text       string `json:"text"`
	Attachment string `json:"attachment"`
}

type markReadRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

func (h *chatHandler) ListConversations(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	page, pageSize := pagination(c, 20)

	conversations, total, err := h.svc.ListConversations(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": conversations,
		"total":         total,
		"page":          page,
	})
}

func (h *chatHandler) CreateConversation(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var (
		conv *model.Conversation
		err  error
	)
	switch req.Kind {
	case model.KindDirect:
		conv, err = h.svc.CreateDirectConversation(c.Request.Context(), userID, req.Members)
	case model.KindCity, model.KindCompany:
		conv, err = h.svc.JoinTopicRoom(c.Request.Context(), req.Kind, req.TopicRef, userID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown conversation kind"})
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *chatHandler) ListMessages(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	conversationID := c.Param("conversationId")
	page, pageSize := pagination(c, 50)

	messages, total, err := h.svc.ListMessages(c.Request.Context(), userID, conversationID, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"total":    total,
		"page":     page,
	})
}

func (h *chatHandler) SendMessage(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	conversationID := c.Param("conversationId")

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), userID, conversationID, req.Text, req.Attachment)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *chatHandler) MarkMessageRead(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	messageID := c.Param("messageId")

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	count, err := h.svc.MarkMessagesRead(c.Request.Context(), userID, req.ConversationID, []string{messageID}, "")
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": count})
}

func (h *chatHandler) UnreadCount(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	count, err := h.svc.TotalUnread(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unreadCount": count})
}

func pagination(c *gin.Context, defaultSize int64) (int64, int64) {
	page, err := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.ParseInt(c.DefaultQuery("limit", strconv.FormatInt(defaultSize, 10)), 10, 64)
	if err != nil || pageSize < 1 {
		pageSize = defaultSize
	}
	return page, pageSize
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized access to conversation"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, service.ErrValidation), errors.Is(err, repo.ErrEmptyMessage),
		errors.Is(err, repo.ErrInvalidMemberSet), errors.Is(err, repo.ErrInvalidTopicRef),
		errors.Is(err, repo.ErrInvalidConversationID), errors.Is(err, repo.ErrInvalidMessageID),
		errors.Is(err, service.ErrBadKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
