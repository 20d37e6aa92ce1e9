package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReferralCode персональный код пользователя и накопленные итоги.
type ReferralCode struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         uuid.UUID       `db:"user_id" json:"user_id"`
	Code           string          `db:"code" json:"code"`
	TotalReferrals int             `db:"total_referrals" json:"total_referrals"`
	TotalEarnings  decimal.Decimal `db:"total_earnings" json:"total_earnings"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Referral связь пригласившего и приглашённого.
type Referral struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	ReferrerID        uuid.UUID       `db:"referrer_id" json:"referrer_id"`
	ReferredID        uuid.UUID       `db:"referred_id" json:"referred_id"`
	CodeID            uuid.UUID       `db:"code_id" json:"code_id"`
	Status            string          `db:"status" json:"status"`
	SignupBonusPaid   bool            `db:"signup_bonus_paid" json:"signup_bonus_paid"`
	SignupBonusAmount decimal.Decimal `db:"signup_bonus_amount" json:"signup_bonus_amount"`
	SignedUpAt        time.Time       `db:"signed_up_at" json:"signed_up_at"`
	VerifiedAt        *time.Time      `db:"verified_at" json:"verified_at,omitempty"`
	FirstPurchaseAt   *time.Time      `db:"first_purchase_at" json:"first_purchase_at,omitempty"`
}

// ReferralEarning начисление пригласившему. Amount в USD, SourceAmount в KES.
type ReferralEarning struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	ReferralID     uuid.UUID           `db:"referral_id" json:"referral_id"`
	ReferrerID     uuid.UUID           `db:"referrer_id" json:"referrer_id"`
	EarningType    string              `db:"earning_type" json:"earning_type"`
	Amount         decimal.Decimal     `db:"amount" json:"amount"`
	Status         string              `db:"status" json:"status"`
	SourceAmount   decimal.NullDecimal `db:"source_amount" json:"source_amount"`
	PercentageRate decimal.NullDecimal `db:"percentage_rate" json:"percentage_rate"`
	SourceRef      *string             `db:"source_ref" json:"source_ref,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
}
