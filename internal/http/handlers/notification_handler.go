package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neurolancer/backend/internal/dto"
	"github.com/neurolancer/backend/internal/http/handlers/common"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/service"
)

// NotificationUseCase операции уведомлений.
type NotificationUseCase interface {
	ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	ListPreferences(ctx context.Context, userID uuid.UUID) ([]service.PreferenceView, error)
	UpdatePreference(ctx context.Context, pref *models.NotificationPreference) error
}

// NotificationHandler обрабатывает запросы уведомлений.
type NotificationHandler struct {
	service NotificationUseCase
}

// NewNotificationHandler создаёт новый хэндлер.
func NewNotificationHandler(service NotificationUseCase) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// ListNotifications GET /notifications?unread=true
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	unreadOnly := c.Query("unread") == "true"

	notifications, err := h.service.ListNotifications(c.Request.Context(), userID, limit, offset, unreadOnly)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NotificationListResponse{
		Notifications: notifications,
		Pagination:    dto.Pagination{Limit: limit, Offset: offset},
	})
}

// CountUnread GET /notifications/unread-count
func (h *NotificationHandler) CountUnread(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	count, err := h.service.CountUnread(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkAsRead POST /notifications/:id/read
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный ID уведомления")
		return
	}

	if err := h.service.MarkAsRead(c.Request.Context(), id, userID); err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondSuccess(c, http.StatusOK, "уведомление прочитано", nil)
}

// MarkAllAsRead POST /notifications/read-all
func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	n, err := h.service.MarkAllAsRead(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": n})
}

// ListPreferences GET /notifications/preferences
func (h *NotificationHandler) ListPreferences(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	prefs, err := h.service.ListPreferences(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

// UpdatePreference PUT /notifications/preferences
func (h *NotificationHandler) UpdatePreference(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.UpdatePreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	pref := &models.NotificationPreference{
		UserID:         userID,
		Category:       req.Category,
		DeliveryMethod: req.DeliveryMethod,
		IsEnabled:      *req.IsEnabled,
		Frequency:      req.Frequency,
	}
	if err := h.service.UpdatePreference(c.Request.Context(), pref); err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, pref)
}
