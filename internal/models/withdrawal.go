package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Withdrawal заявка на вывод средств через перевод шлюза.
type Withdrawal struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	UserID        uuid.UUID       `db:"user_id" json:"user_id"`
	AmountKES     decimal.Decimal `db:"amount_kes" json:"amount_kes"`
	AmountUSD     decimal.Decimal `db:"amount_usd" json:"amount_usd"`
	Method        string          `db:"method" json:"method"`
	AccountNumber string          `db:"account_number" json:"account_number"`
	AccountName   string          `db:"account_name" json:"account_name"`
	BankCode      string          `db:"bank_code" json:"bank_code"`
	RecipientCode string          `db:"recipient_code" json:"-"`
	TransferCode  string          `db:"transfer_code" json:"transfer_code"`
	Reference     string          `db:"reference" json:"reference"`
	Status        string          `db:"status" json:"status"`
	FailureReason *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}
