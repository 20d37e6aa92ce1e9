package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order описывает оплачиваемую работу между клиентом и исполнителем.
type Order struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	ClientID         uuid.UUID       `db:"client_id" json:"client_id"`
	FreelancerID     uuid.UUID       `db:"freelancer_id" json:"freelancer_id"`
	GigID            *uuid.UUID      `db:"gig_id" json:"gig_id,omitempty"`
	ProjectID        *uuid.UUID      `db:"project_id" json:"project_id,omitempty"`
	TaskID           *uuid.UUID      `db:"task_id" json:"task_id,omitempty"`
	Title            string          `db:"title" json:"title"`
	Price            decimal.Decimal `db:"price" json:"price"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentReference *string         `db:"payment_reference" json:"payment_reference,omitempty"`
	PaymentStatus    string          `db:"payment_status" json:"payment_status"`
	IsPaid           bool            `db:"is_paid" json:"is_paid"`
	EscrowReleased   bool            `db:"escrow_released" json:"escrow_released"`
	Status           string          `db:"status" json:"status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	AcceptedAt       *time.Time      `db:"accepted_at" json:"accepted_at,omitempty"`
	DeliveredAt      *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt      *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// IsParticipant проверяет, что пользователь сторона заказа.
func (o *Order) IsParticipant(userID uuid.UUID) bool {
	return o.ClientID == userID || o.FreelancerID == userID
}
