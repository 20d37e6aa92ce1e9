package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/repository"
)

// TxRunner выполняет fn в одной транзакции БД.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// LedgerRepository журнал транзакций.
type LedgerRepository interface {
	Append(ctx context.Context, entry *models.Transaction) error
	LockReference(ctx context.Context, reference string) error
	HasCompletedSettlement(ctx context.Context, reference string) (bool, error)
	ListByReference(ctx context.Context, reference string) ([]models.Transaction, error)
	TransitionStatus(ctx context.Context, reference, leg, from, to string) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}

// BalanceRepository USD-балансы пользователей.
type BalanceRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	GetForUpdate(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	Apply(ctx context.Context, userID uuid.UUID, delta repository.BalanceDelta) (*models.UserBalance, error)
	SetCompletedGigs(ctx context.Context, userID uuid.UUID, count int) error
}

func userRef(id uuid.UUID) *uuid.UUID {
	return &id
}

func usd(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
