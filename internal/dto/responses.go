package dto

import (
	"github.com/shopspring/decimal"

	"github.com/neurolancer/backend/internal/models"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Pagination represents pagination metadata
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// BalanceResponse баланс пользователя в USD.
type BalanceResponse struct {
	EscrowBalance    decimal.Decimal `json:"escrow_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	CompletedGigs    int             `json:"completed_gigs"`
	Currency         string          `json:"currency"`
}

// NewBalanceResponse собирает ответ из строки баланса.
func NewBalanceResponse(b *models.UserBalance) BalanceResponse {
	return BalanceResponse{
		EscrowBalance:    b.EscrowBalance,
		AvailableBalance: b.AvailableBalance,
		TotalEarnings:    b.TotalEarnings,
		CompletedGigs:    b.CompletedGigs,
		Currency:         "USD",
	}
}

// TransactionListResponse страница журнала транзакций.
type TransactionListResponse struct {
	Transactions []models.Transaction `json:"transactions"`
	Pagination   Pagination           `json:"pagination"`
}

// WithdrawalListResponse страница заявок на вывод.
type WithdrawalListResponse struct {
	Withdrawals []models.Withdrawal `json:"withdrawals"`
	Pagination  Pagination          `json:"pagination"`
}

// NotificationListResponse страница уведомлений.
type NotificationListResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Pagination    Pagination            `json:"pagination"`
}
