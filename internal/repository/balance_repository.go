package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/repository/common"
)

// ErrInsufficientFunds возвращается, когда изменение увело бы баланс в минус.
var ErrInsufficientFunds = errors.New("insufficient funds")

// BalanceDelta изменения балансов пользователя в USD.
type BalanceDelta struct {
	Escrow    decimal.Decimal
	Available decimal.Decimal
	Earnings  decimal.Decimal
}

// BalanceRepository хранит USD-балансы пользователей.
type BalanceRepository struct {
	db *sqlx.DB
}

// NewBalanceRepository создаёт репозиторий балансов.
func NewBalanceRepository(db *sqlx.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Get возвращает баланс, создавая пустую запись при первом обращении.
func (r *BalanceRepository) Get(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	var balance models.UserBalance
	query := `
		INSERT INTO user_balances (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING *
	`
	if err := common.Q(ctx, r.db).GetContext(ctx, &balance, query, userID); err != nil {
		return nil, fmt.Errorf("balance repository: get %w", err)
	}
	return &balance, nil
}

// GetForUpdate возвращает баланс под блокировкой строки.
func (r *BalanceRepository) GetForUpdate(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	if _, err := common.Q(ctx, r.db).ExecContext(ctx,
		`INSERT INTO user_balances (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("balance repository: ensure %w", err)
	}

	var balance models.UserBalance
	if err := common.Q(ctx, r.db).GetContext(ctx, &balance,
		`SELECT * FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return nil, fmt.Errorf("balance repository: get for update %w", err)
	}
	return &balance, nil
}

// Apply атомарно применяет изменения. Отрицательный итог отклоняется с ErrInsufficientFunds.
func (r *BalanceRepository) Apply(ctx context.Context, userID uuid.UUID, delta BalanceDelta) (*models.UserBalance, error) {
	var balance models.UserBalance
	query := `
		INSERT INTO user_balances (user_id, escrow_balance, available_balance, total_earnings)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			escrow_balance = user_balances.escrow_balance + EXCLUDED.escrow_balance,
			available_balance = user_balances.available_balance + EXCLUDED.available_balance,
			total_earnings = user_balances.total_earnings + EXCLUDED.total_earnings,
			updated_at = NOW()
		RETURNING *
	`
	if err := common.Q(ctx, r.db).GetContext(ctx, &balance, query,
		userID, delta.Escrow, delta.Available, delta.Earnings); err != nil {
		if common.IsCheckViolation(err) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("balance repository: apply %w", err)
	}
	return &balance, nil
}

// SetCompletedGigs сохраняет пересчитанное число завершённых заказов.
func (r *BalanceRepository) SetCompletedGigs(ctx context.Context, userID uuid.UUID, count int) error {
	if _, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE user_balances SET completed_gigs = $2, updated_at = NOW() WHERE user_id = $1
	`, userID, count); err != nil {
		return fmt.Errorf("balance repository: set completed gigs %w", err)
	}
	return nil
}
