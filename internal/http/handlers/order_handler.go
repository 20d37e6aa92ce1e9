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

// OrderUseCase операции заказа, нужные хэндлеру.
type OrderUseCase interface {
	GetOrder(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*models.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, orderID, actorID uuid.UUID, status string) (*service.OrderTransitionResult, error)
}

// ManualPayment ручное проведение оплаты администратором.
type ManualPayment interface {
	MarkPaidManually(ctx context.Context, orderID, adminID uuid.UUID) (*service.SettlementResult, error)
}

// OrderHandler обслуживает эндпоинты заказов.
type OrderHandler struct {
	orders   OrderUseCase
	payments ManualPayment
}

// NewOrderHandler создаёт хэндлер заказов.
func NewOrderHandler(orders OrderUseCase, payments ManualPayment) *OrderHandler {
	return &OrderHandler{orders: orders, payments: payments}
}

// ListMyOrders GET /orders/my
func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	orders, err := h.orders.ListOrders(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders":     orders,
		"pagination": dto.Pagination{Limit: limit, Offset: offset},
	})
}

// GetOrder GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный id заказа")
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID, userID, common.IsAdmin(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// UpdateStatus POST /orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный id заказа")
		return
	}

	var req dto.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "status обязателен")
		return
	}

	result, err := h.orders.UpdateStatus(c.Request.Context(), orderID, userID, req.Status)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// MarkPaid POST /orders/:id/mark-paid, только для администратора.
func (h *OrderHandler) MarkPaid(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	if !common.IsAdmin(c) {
		common.RespondForbidden(c, "")
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный id заказа")
		return
	}

	result, err := h.payments.MarkPaidManually(c.Request.Context(), orderID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
