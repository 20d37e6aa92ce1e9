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
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderAlreadyPaid = errors.New("order already paid")
	ErrReferenceInUse   = errors.New("payment reference already in use")
)

// OrderRepository хранит заказы.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository создаёт репозиторий заказов.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create сохраняет новый заказ.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (client_id, freelancer_id, gig_id, project_id, task_id, title, price, total_amount, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	if err := common.Q(ctx, r.db).QueryRowxContext(
		ctx,
		query,
		order.ClientID,
		order.FreelancerID,
		order.GigID,
		order.ProjectID,
		order.TaskID,
		order.Title,
		order.Price,
		order.TotalAmount,
		order.Status,
		order.PaymentStatus,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return fmt.Errorf("order repository: create %w", err)
	}

	return nil
}

// GetByID возвращает заказ без блокировки.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return common.GetByID[models.Order](ctx, common.Q(ctx, r.db), "orders", id, ErrOrderNotFound)
}

// GetByIDForUpdate блокирует строку заказа до конца транзакции.
func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.getLocked(ctx, `SELECT * FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *OrderRepository) getLocked(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var order models.Order
	if err := common.Q(ctx, r.db).GetContext(ctx, &order, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("order repository: get for update %w", err)
	}
	return &order, nil
}

// Update сохраняет статус, отметки времени, платёжные флаги и оплаченный reference заказа.
func (r *OrderRepository) Update(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders SET
			status = $2,
			is_paid = $3,
			payment_status = $4,
			escrow_released = $5,
			accepted_at = $6,
			delivered_at = $7,
			completed_at = $8,
			cancelled_at = $9,
			payment_reference = $10,
			total_amount = $11,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	if err := common.Q(ctx, r.db).QueryRowxContext(
		ctx,
		query,
		order.ID,
		order.Status,
		order.IsPaid,
		order.PaymentStatus,
		order.EscrowReleased,
		order.AcceptedAt,
		order.DeliveredAt,
		order.CompletedAt,
		order.CancelledAt,
		order.PaymentReference,
		order.TotalAmount,
	).Scan(&order.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("order repository: update %w", err)
	}

	return nil
}

// SetPaymentReference закрепляет ссылку платежа и итоговую сумму за неоплаченным заказом.
// После оплаты ссылка неизменна.
func (r *OrderRepository) SetPaymentReference(ctx context.Context, id uuid.UUID, reference string, total decimal.Decimal) error {
	res, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE orders
		SET payment_reference = $2, total_amount = $3, payment_status = 'pending', updated_at = NOW()
		WHERE id = $1 AND is_paid = FALSE
	`, id, reference, total)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return ErrReferenceInUse
		}
		return fmt.Errorf("order repository: set payment reference %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("order repository: set payment reference rows %w", err)
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrOrderAlreadyPaid
	}

	return nil
}

// CountCompletedByFreelancer считает завершённые заказы исполнителя.
func (r *OrderRepository) CountCompletedByFreelancer(ctx context.Context, freelancerID uuid.UUID) (int, error) {
	var count int
	if err := common.Q(ctx, r.db).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM orders WHERE freelancer_id = $1 AND status = 'completed'`, freelancerID); err != nil {
		return 0, fmt.Errorf("order repository: count completed %w", err)
	}
	return count, nil
}

// HasAcceptedOrderInProject проверяет, что у исполнителя есть принятый заказ на задачу проекта.
func (r *OrderRepository) HasAcceptedOrderInProject(ctx context.Context, projectID, freelancerID uuid.UUID) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM orders o
			JOIN tasks t ON t.id = o.task_id
			WHERE t.project_id = $1
			  AND o.freelancer_id = $2
			  AND o.status NOT IN ('pending', 'cancelled')
		)
	`
	if err := common.Q(ctx, r.db).GetContext(ctx, &exists, query, projectID, freelancerID); err != nil {
		return false, fmt.Errorf("order repository: accepted in project %w", err)
	}
	return exists, nil
}

// ListByUser возвращает заказы, где пользователь клиент или исполнитель.
func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	query := `
		SELECT * FROM orders
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := common.Q(ctx, r.db).SelectContext(ctx, &orders, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("order repository: list by user %w", err)
	}
	return orders, nil
}
