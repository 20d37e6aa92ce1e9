package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserBalance хранит балансы пользователя в USD.
type UserBalance struct {
	UserID           uuid.UUID       `db:"user_id" json:"user_id"`
	EscrowBalance    decimal.Decimal `db:"escrow_balance" json:"escrow_balance"`
	AvailableBalance decimal.Decimal `db:"available_balance" json:"available_balance"`
	TotalEarnings    decimal.Decimal `db:"total_earnings" json:"total_earnings"`
	CompletedGigs    int             `db:"completed_gigs" json:"completed_gigs"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction запись журнала. Amount в KES со знаком (минус = списание),
// USDAmount заполнен для проводок, затрагивающих USD-балансы.
// UserID пуст для проводок платформы.
type Transaction struct {
	ID          uuid.UUID           `db:"id" json:"id"`
	UserID      *uuid.UUID          `db:"user_id" json:"user_id,omitempty"`
	Kind        string              `db:"kind" json:"kind"`
	Leg         string              `db:"leg" json:"leg"`
	Amount      decimal.Decimal     `db:"amount" json:"amount"`
	USDAmount   decimal.NullDecimal `db:"usd_amount" json:"usd_amount"`
	Description string              `db:"description" json:"description"`
	Reference   string              `db:"reference" json:"reference"`
	Status      string              `db:"status" json:"status"`
	OrderID     *uuid.UUID          `db:"order_id" json:"order_id,omitempty"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
	CompletedAt *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
}
