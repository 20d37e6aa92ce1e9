package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neurolancer/backend/internal/dto"
	"github.com/neurolancer/backend/internal/http/handlers/common"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/service"
)

// SignatureHeader заголовок с HMAC-SHA512 тела webhook.
const SignatureHeader = "X-Paystack-Signature"

const maxWebhookBody = 1 << 20

var errFreelancerRequired = errors.New("для оплаты вакансии нужен freelancer_id исполнителя")

// PaymentUseCase операции платежей, нужные хэндлеру.
type PaymentUseCase interface {
	Initialize(ctx context.Context, payerID uuid.UUID, target service.PaymentTarget) (*service.InitializePaymentResult, error)
	Verify(ctx context.Context, reference string) (*service.SettlementResult, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (*service.WebhookResult, error)
	Balance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}

type PaymentHandler struct {
	payments PaymentUseCase
}

func NewPaymentHandler(payments PaymentUseCase) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Initialize POST /payments/initialize
func (h *PaymentHandler) Initialize(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.InitializePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	target, err := paymentTarget(req)
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	result, err := h.payments.Initialize(c.Request.Context(), userID, target)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func paymentTarget(req dto.InitializePaymentRequest) (service.PaymentTarget, error) {
	id, err := uuid.Parse(req.TargetID)
	if err != nil {
		return nil, common.ErrInvalidUUID
	}

	switch req.TargetType {
	case "order":
		return service.GigOrderTarget{OrderID: id}, nil
	case "course":
		return service.CourseTarget{CourseID: id}, nil
	default:
		freelancerID, err := uuid.Parse(req.FreelancerID)
		if err != nil {
			return nil, errFreelancerRequired
		}
		return service.JobTarget{JobID: id, FreelancerID: freelancerID, Hours: req.Hours, Rate: req.Rate}, nil
	}
}

// Verify GET /payments/verify/:reference
func (h *PaymentHandler) Verify(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	reference := c.Param("reference")
	if reference == "" {
		common.RespondBadRequest(c, "reference обязателен")
		return
	}

	result, err := h.payments.Verify(c.Request.Context(), reference)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Webhook POST /payments/webhook. Подпись проверяется по сырому телу.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	result, err := h.payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetBalance GET /payments/balance
func (h *PaymentHandler) GetBalance(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	balance, err := h.payments.Balance(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewBalanceResponse(balance))
}

// ListTransactions GET /payments/transactions
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	transactions, err := h.payments.Transactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.TransactionListResponse{
		Transactions: transactions,
		Pagination:   dto.Pagination{Limit: limit, Offset: offset},
	})
}
