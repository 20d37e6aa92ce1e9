package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/repository/common"
)

var ErrWithdrawalNotFound = errors.New("withdrawal not found")

type WithdrawalRepository struct {
	db *sqlx.DB
}

func NewWithdrawalRepository(db *sqlx.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// Create сохраняет заявку на вывод до запуска перевода.
func (r *WithdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	query := `
		INSERT INTO withdrawals (id, user_id, amount_kes, amount_usd, method, account_number, account_name,
			bank_code, recipient_code, transfer_code, reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	if err := common.Q(ctx, r.db).QueryRowxContext(ctx, query,
		w.ID, w.UserID, w.AmountKES, w.AmountUSD, w.Method, w.AccountNumber, w.AccountName,
		w.BankCode, w.RecipientCode, w.TransferCode, w.Reference, w.Status,
	).Scan(&w.CreatedAt, &w.UpdatedAt); err != nil {
		if common.IsUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("withdrawal repository: create %w", err)
	}
	return nil
}

// GetByReferenceForUpdate блокирует заявку по ссылке перевода.
func (r *WithdrawalRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := common.Q(ctx, r.db).GetContext(ctx, &w, `SELECT * FROM withdrawals WHERE reference = $1 FOR UPDATE`, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("withdrawal repository: get by reference %w", err)
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	return common.GetByID[models.Withdrawal](ctx, common.Q(ctx, r.db), "withdrawals", id, ErrWithdrawalNotFound)
}

func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error) {
	var withdrawals []models.Withdrawal
	err := common.Q(ctx, r.db).SelectContext(ctx, &withdrawals, `
		SELECT * FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("withdrawal repository: list by user %w", err)
	}
	return withdrawals, nil
}

// UpdateStatus фиксирует итог перевода.
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, failureReason *string) error {
	_, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE withdrawals
		SET status = $2,
			failure_reason = $3,
			updated_at = NOW(),
			completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $1
	`, id, status, failureReason)
	if err != nil {
		return fmt.Errorf("withdrawal repository: update status %w", err)
	}
	return nil
}

// MarkProcessing отмечает запущенный перевод. Заявку, уже закрытую webhook, не трогает.
func (r *WithdrawalRepository) MarkProcessing(ctx context.Context, id uuid.UUID, transferCode string) (bool, error) {
	res, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE withdrawals
		SET status = 'processing', transfer_code = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, transferCode)
	if err != nil {
		return false, fmt.Errorf("withdrawal repository: mark processing %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("withdrawal repository: mark processing rows %w", err)
	}
	return affected > 0, nil
}
