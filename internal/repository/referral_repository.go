package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/repository/common"
)

var (
	ErrReferralCodeNotFound = errors.New("referral code not found")
	ErrReferralNotFound     = errors.New("referral not found")
	ErrReferralExists       = errors.New("referral already exists")
	ErrDuplicateEarning     = errors.New("referral earning already awarded")
)

// ReferralRepository хранит коды, связи и начисления реферальной программы.
type ReferralRepository struct {
	db *sqlx.DB
}

// NewReferralRepository создаёт репозиторий рефералов.
func NewReferralRepository(db *sqlx.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// EnsureCode возвращает код пользователя, создавая его с переданным значением при отсутствии.
func (r *ReferralRepository) EnsureCode(ctx context.Context, userID uuid.UUID, code string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	query := `
		INSERT INTO referral_codes (user_id, code) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING *
	`
	if err := common.Q(ctx, r.db).GetContext(ctx, &rc, query, userID, code); err != nil {
		return nil, fmt.Errorf("referral repository: ensure code %w", err)
	}
	return &rc, nil
}

// GetCodeByCode находит код по значению.
func (r *ReferralRepository) GetCodeByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	return common.GetByField[models.ReferralCode](ctx, common.Q(ctx, r.db), "referral_codes", "code", code, ErrReferralCodeNotFound)
}

// CreateReferral связывает приглашённого с пригласившим.
func (r *ReferralRepository) CreateReferral(ctx context.Context, ref *models.Referral) error {
	query := `
		INSERT INTO referrals (referrer_id, referred_id, code_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, signed_up_at
	`
	if err := common.Q(ctx, r.db).QueryRowxContext(ctx, query,
		ref.ReferrerID, ref.ReferredID, ref.CodeID, ref.Status,
	).Scan(&ref.ID, &ref.SignedUpAt); err != nil {
		if common.IsUniqueViolation(err) {
			return ErrReferralExists
		}
		return fmt.Errorf("referral repository: create referral %w", err)
	}
	return nil
}

// GetByReferredForUpdate блокирует связь приглашённого пользователя.
func (r *ReferralRepository) GetByReferredForUpdate(ctx context.Context, referredID uuid.UUID) (*models.Referral, error) {
	var ref models.Referral
	err := common.Q(ctx, r.db).GetContext(ctx, &ref, `SELECT * FROM referrals WHERE referred_id = $1 FOR UPDATE`, referredID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("referral repository: get by referred %w", err)
	}
	return &ref, nil
}

// UpdateReferral сохраняет статус и отметки связи.
func (r *ReferralRepository) UpdateReferral(ctx context.Context, ref *models.Referral) error {
	if _, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE referrals SET
			status = $2,
			signup_bonus_paid = $3,
			signup_bonus_amount = $4,
			verified_at = $5,
			first_purchase_at = $6
		WHERE id = $1
	`, ref.ID, ref.Status, ref.SignupBonusPaid, ref.SignupBonusAmount, ref.VerifiedAt, ref.FirstPurchaseAt); err != nil {
		return fmt.Errorf("referral repository: update referral %w", err)
	}
	return nil
}

// CreateEarning сохраняет начисление. Повтор (тот же бонус или источник) даёт ErrDuplicateEarning
// без ошибки Postgres, транзакция остаётся рабочей.
func (r *ReferralRepository) CreateEarning(ctx context.Context, earning *models.ReferralEarning) error {
	query := `
		INSERT INTO referral_earnings (referral_id, referrer_id, earning_type, amount, status, source_amount, percentage_rate, source_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at
	`
	if err := common.Q(ctx, r.db).QueryRowxContext(ctx, query,
		earning.ReferralID, earning.ReferrerID, earning.EarningType, earning.Amount, earning.Status,
		earning.SourceAmount, earning.PercentageRate, earning.SourceRef,
	).Scan(&earning.ID, &earning.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDuplicateEarning
		}
		return fmt.Errorf("referral repository: create earning %w", err)
	}
	return nil
}

// AddCodeTotals увеличивает итоги кода.
func (r *ReferralRepository) AddCodeTotals(ctx context.Context, codeID uuid.UUID, referrals int, earnings decimal.Decimal) error {
	if _, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE referral_codes
		SET total_referrals = total_referrals + $2, total_earnings = total_earnings + $3, updated_at = NOW()
		WHERE id = $1
	`, codeID, referrals, earnings); err != nil {
		return fmt.Errorf("referral repository: add code totals %w", err)
	}
	return nil
}

// ListEarnings возвращает начисления пригласившего.
func (r *ReferralRepository) ListEarnings(ctx context.Context, referrerID uuid.UUID, limit, offset int) ([]models.ReferralEarning, error) {
	var earnings []models.ReferralEarning
	if err := common.Q(ctx, r.db).SelectContext(ctx, &earnings, `
		SELECT * FROM referral_earnings WHERE referrer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, referrerID, limit, offset); err != nil {
		return nil, fmt.Errorf("referral repository: list earnings %w", err)
	}
	return earnings, nil
}
