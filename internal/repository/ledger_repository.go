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

// ErrDuplicateReference возвращается при повторной проводке той же ноги по ссылке.
var ErrDuplicateReference = errors.New("ledger entry already exists for reference")

// ErrLedgerEntryNotFound возвращается, когда проводка в ожидаемом статусе не найдена.
var ErrLedgerEntryNotFound = errors.New("ledger entry not found")

// LedgerRepository журнал транзакций. Записи только добавляются; меняется лишь статус pending-проводок.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository создаёт репозиторий журнала.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append добавляет проводку. Повтор (reference, leg) возвращает ErrDuplicateReference,
// не прерывая текущую транзакцию.
func (r *LedgerRepository) Append(ctx context.Context, entry *models.Transaction) error {
	query := `
		INSERT INTO transactions (user_id, kind, leg, amount, usd_amount, description, reference, status, order_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CASE WHEN $8 = 'completed' THEN NOW() END)
		ON CONFLICT (reference, leg) DO NOTHING
		RETURNING id, created_at, completed_at
	`

	if err := common.Q(ctx, r.db).QueryRowxContext(
		ctx,
		query,
		entry.UserID,
		entry.Kind,
		entry.Leg,
		entry.Amount,
		entry.USDAmount,
		entry.Description,
		entry.Reference,
		entry.Status,
		entry.OrderID,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.CompletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("ledger repository: append %w", err)
	}

	return nil
}

// LockReference берёт транзакционную advisory-блокировку на ссылку платежа.
// Блокировка снимается при завершении транзакции.
func (r *LedgerRepository) LockReference(ctx context.Context, reference string) error {
	if _, ok := common.TxFromContext(ctx); !ok {
		return errors.New("ledger repository: lock reference requires transaction")
	}
	if _, err := common.Q(ctx, r.db).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, reference); err != nil {
		return fmt.Errorf("ledger repository: lock reference %w", err)
	}
	return nil
}

// HasCompletedSettlement проверяет, что по ссылке уже есть завершённая проводка оплаты.
func (r *LedgerRepository) HasCompletedSettlement(ctx context.Context, reference string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE reference = $1 AND kind = 'payment' AND status = 'completed'
		)
	`
	if err := common.Q(ctx, r.db).GetContext(ctx, &exists, query, reference); err != nil {
		return false, fmt.Errorf("ledger repository: has completed settlement %w", err)
	}
	return exists, nil
}

// ListByReference возвращает все проводки по ссылке, включая ноги.
func (r *LedgerRepository) ListByReference(ctx context.Context, reference string) ([]models.Transaction, error) {
	var entries []models.Transaction
	if err := common.Q(ctx, r.db).SelectContext(ctx, &entries,
		`SELECT * FROM transactions WHERE reference = $1 ORDER BY created_at, leg`, reference); err != nil {
		return nil, fmt.Errorf("ledger repository: list by reference %w", err)
	}
	return entries, nil
}

// TransitionStatus переводит проводку (reference, leg) из статуса from в to.
// Возвращает ErrLedgerEntryNotFound, если проводка уже не в статусе from.
func (r *LedgerRepository) TransitionStatus(ctx context.Context, reference, leg, from, to string) error {
	res, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE transactions
		SET status = $4, completed_at = CASE WHEN $4 = 'completed' THEN NOW() ELSE completed_at END
		WHERE reference = $1 AND leg = $2 AND status = $3
	`, reference, leg, from, to)
	if err != nil {
		return fmt.Errorf("ledger repository: transition status %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger repository: transition status rows %w", err)
	}
	if affected == 0 {
		return ErrLedgerEntryNotFound
	}
	return nil
}

// ListByUser возвращает историю проводок пользователя.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	var entries []models.Transaction
	query := `
		SELECT * FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := common.Q(ctx, r.db).SelectContext(ctx, &entries, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("ledger repository: list by user %w", err)
	}
	return entries, nil
}
