package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neurolancer/backend/internal/dto"
	"github.com/neurolancer/backend/internal/gateway"
	"github.com/neurolancer/backend/internal/http/handlers/common"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/service"
)

// WithdrawalUseCase операции вывода средств.
type WithdrawalUseCase interface {
	ListBanks(ctx context.Context) ([]gateway.Bank, error)
	ResolveAccount(ctx context.Context, method, accountNumber, bankCode string) (*gateway.ResolvedAccount, error)
	Create(ctx context.Context, userID uuid.UUID, in service.WithdrawalInput) (*models.Withdrawal, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.Withdrawal, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error)
}

type WithdrawalHandler struct {
	svc WithdrawalUseCase
}

func NewWithdrawalHandler(s WithdrawalUseCase) *WithdrawalHandler {
	return &WithdrawalHandler{svc: s}
}

// ListBanks GET /withdrawals/banks
func (h *WithdrawalHandler) ListBanks(c *gin.Context) {
	banks, err := h.svc.ListBanks(c.Request.Context())
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"banks": banks})
}

// ResolveAccount GET /withdrawals/resolve?method=&account_number=&bank_code=
func (h *WithdrawalHandler) ResolveAccount(c *gin.Context) {
	account := c.Query("account_number")
	if account == "" {
		common.RespondBadRequest(c, "account_number обязателен")
		return
	}
	method := c.DefaultQuery("method", models.WithdrawalMethodBank)

	resolved, err := h.svc.ResolveAccount(c.Request.Context(), method, account, c.Query("bank_code"))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

// CreateWithdrawal POST /withdrawals
func (h *WithdrawalHandler) CreateWithdrawal(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	w, err := h.svc.Create(c.Request.Context(), userID, service.WithdrawalInput{
		AmountKES:     req.Amount,
		Method:        req.Method,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// ListWithdrawals GET /withdrawals
func (h *WithdrawalHandler) ListWithdrawals(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	withdrawals, err := h.svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.WithdrawalListResponse{
		Withdrawals: withdrawals,
		Pagination:  dto.Pagination{Limit: limit, Offset: offset},
	})
}

// GetWithdrawal GET /withdrawals/:id
func (h *WithdrawalHandler) GetWithdrawal(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный id заявки")
		return
	}

	w, err := h.svc.Get(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}
