package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neurolancer/backend/internal/dto"
	"github.com/neurolancer/backend/internal/http/handlers/common"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/service"
	"github.com/neurolancer/backend/internal/storage"
)

// ConversationUseCase операции бесед.
type ConversationUseCase interface {
	Get(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error)
	CreateGroup(ctx context.Context, adminID uuid.UUID, in service.GroupInput) (*models.Conversation, error)
	Join(ctx context.Context, conversationID, userID uuid.UUID, password string) (*service.JoinResult, error)
	JoinByInvite(ctx context.Context, code string, userID uuid.UUID, password string) (*service.JoinResult, error)
	SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, in service.MessageInput) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID, userID uuid.UUID, before *time.Time, limit int) (*service.MessagePage, error)
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID) (int64, error)
	UploadAttachment(ctx context.Context, conversationID, userID uuid.UUID, name string, r io.Reader) (*storage.Attachment, error)
}

// ConversationHandler обслуживает беседы и сообщения.
type ConversationHandler struct {
	conversations ConversationUseCase
}

// NewConversationHandler создаёт хэндлер бесед.
func NewConversationHandler(conversations ConversationUseCase) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// CreateGroup POST /conversations
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	in := service.GroupInput{
		Name:           req.Name,
		GroupType:      req.GroupType,
		Password:       req.Password,
		MaxMembers:     req.MaxMembers,
		IsDiscoverable: req.IsDiscoverable,
	}
	if req.ProjectID != "" {
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			common.RespondBadRequest(c, "неверный project_id")
			return
		}
		in.ProjectID = &projectID
	}

	conv, err := h.conversations.CreateGroup(c.Request.Context(), userID, in)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// GetConversation GET /conversations/:conversationId
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userID, convID, ok := h.identify(c)
	if !ok {
		return
	}

	conv, err := h.conversations.Get(c.Request.Context(), convID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Join POST /conversations/:conversationId/join
func (h *ConversationHandler) Join(c *gin.Context) {
	userID, convID, ok := h.identify(c)
	if !ok {
		return
	}

	var req dto.JoinConversationRequest
	// тело необязательно: публичные группы входят без пароля
	_ = c.ShouldBindJSON(&req)

	result, err := h.conversations.Join(c.Request.Context(), convID, userID, req.Password)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// JoinByInvite POST /conversations/join/:code
func (h *ConversationHandler) JoinByInvite(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.JoinConversationRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.conversations.JoinByInvite(c.Request.Context(), c.Param("code"), userID, req.Password)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListMessages GET /conversations/:conversationId/messages?before=&limit=
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	userID, convID, ok := h.identify(c)
	if !ok {
		return
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			common.RespondBadRequest(c, "before должен быть в формате RFC3339")
			return
		}
		before = &t
	}

	page, err := h.conversations.ListMessages(c.Request.Context(), convID, userID, before, common.ParseIntQuery(c, "limit", 0))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// SendMessage POST /conversations/:conversationId/messages
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	userID, convID, ok := h.identify(c)
	if !ok {
		return
	}

	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	in := service.MessageInput{Content: req.Content}
	if req.HasAttachment() {
		in.Attachment = &storage.Attachment{
			URL:  req.AttachmentURL,
			Name: req.AttachmentName,
			Type: req.AttachmentType,
			Size: req.AttachmentSize,
		}
	}

	msg, err := h.conversations.SendMessage(c.Request.Context(), convID, userID, in)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead POST /conversations/:conversationId/read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	userID, convID, ok := h.identify(c)
	if !ok {
		return
	}

	n, err := h.conversations.MarkRead(c.Request.Context(), convID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

// UploadAttachment POST /conversations/:conversationId/attachments (multipart, поле file)
func (h *ConversationHandler) UploadAttachment(c *gin.Context) {
	userID, convID, ok := h.identify(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "файл обязателен")
		return
	}
	src, err := file.Open()
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать файл")
		return
	}
	defer src.Close()

	att, err := h.conversations.UploadAttachment(c.Request.Context(), convID, userID, file.Filename, src)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"attachment_url":  att.URL,
		"attachment_name": att.Name,
		"attachment_type": att.Type,
		"attachment_size": att.Size,
	})
}

func (h *ConversationHandler) identify(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	convID, err := common.ParseUUIDParam(c, "conversationId")
	if err != nil {
		common.RespondBadRequest(c, "неверный id беседы")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, convID, true
}
