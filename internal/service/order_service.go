package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/domain/valueobject"
	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/pkg/apperror"
	"github.com/neurolancer/backend/internal/repository"
)

// OrderRepository описывает хранилище заказов.
type OrderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Update(ctx context.Context, order *models.Order) error
	SetPaymentReference(ctx context.Context, id uuid.UUID, reference string, total decimal.Decimal) error
	CountCompletedByFreelancer(ctx context.Context, freelancerID uuid.UUID) (int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error)
}

// ProjectRepository проекты и задачи, к которым привязан заказ.
type ProjectRepository interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	AssignTask(ctx context.Context, taskID, freelancerID uuid.UUID, at time.Time) error
}

// ConversationMembership добавляет участников в беседы.
type ConversationMembership interface {
	AddParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// OrderTransitionResult итог смены статуса.
type OrderTransitionResult struct {
	Order          *models.Order   `json:"order"`
	Changed        bool            `json:"changed"`
	EscrowReleased bool            `json:"escrow_released_now"`
	ReleasedUSD    decimal.Decimal `json:"released_usd"`
}

// OrderService машина состояний заказа и выпуск эскроу.
type OrderService struct {
	tx            TxRunner
	orders        OrderRepository
	ledger        LedgerRepository
	balances      BalanceRepository
	projects      ProjectRepository
	conversations ConversationMembership
	notifier      Notifier
	realtime      RealtimePublisher
	fees          valueobject.FeeSchedule
	now           func() time.Time
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(
	tx TxRunner,
	orders OrderRepository,
	ledger LedgerRepository,
	balances BalanceRepository,
	projects ProjectRepository,
	conversations ConversationMembership,
	notifier Notifier,
	realtime RealtimePublisher,
	fees valueobject.FeeSchedule,
) *OrderService {
	return &OrderService{
		tx:            tx,
		orders:        orders,
		ledger:        ledger,
		balances:      balances,
		projects:      projects,
		conversations: conversations,
		notifier:      notifier,
		realtime:      realtime,
		fees:          fees,
		now:           time.Now,
	}
}

// resolveActor определяет роль пользователя в заказе.
func resolveActor(order *models.Order, userID uuid.UUID) (valueobject.Actor, error) {
	switch userID {
	case order.ClientID:
		return valueobject.ActorClient, nil
	case order.FreelancerID:
		return valueobject.ActorFreelancer, nil
	}
	return "", apperror.New(apperror.ErrCodeForbidden, "вы не участник этого заказа")
}

// GetOrder возвращает заказ участнику.
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err)
	}
	if !isAdmin && !order.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя.
func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.orders.ListByUser(ctx, userID, limit, offset)
}

// UpdateStatus применяет переход по таблице статусов от имени участника.
// Недопустимый переход отклоняется с INVALID_TRANSITION до любых изменений.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, actorID uuid.UUID, status string) (*OrderTransitionResult, error) {
	target, err := valueobject.NewOrderStatus(status)
	if err != nil {
		return nil, err
	}

	var (
		result     *OrderTransitionResult
		joinedConv *uuid.UUID
	)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetByIDForUpdate(ctx, orderID)
		if err != nil {
			return mapOrderErr(err)
		}

		actor, err := resolveActor(order, actorID)
		if err != nil {
			return err
		}

		current := valueobject.OrderStatus(order.Status)
		if current == valueobject.OrderStatusCompleted && target == valueobject.OrderStatusCompleted {
			result = &OrderTransitionResult{Order: order}
			return nil
		}
		if !current.CanTransitionTo(target, actor) {
			return apperror.InvalidTransition(string(current), string(target))
		}

		now := s.now()
		order.Status = string(target)
		result = &OrderTransitionResult{Order: order, Changed: true}

		switch target {
		case valueobject.OrderStatusAccepted:
			order.AcceptedAt = &now
			if joinedConv, err = s.attachToProject(ctx, order, now); err != nil {
				return err
			}
		case valueobject.OrderStatusDelivered:
			order.DeliveredAt = &now
		case valueobject.OrderStatusCompleted:
			order.CompletedAt = &now
			if order.IsPaid && !order.EscrowReleased {
				amount, err := s.releaseEscrow(ctx, order, now)
				if err != nil {
					return err
				}
				result.EscrowReleased = true
				result.ReleasedUSD = amount
			}
		case valueobject.OrderStatusCancelled:
			order.CancelledAt = &now
			if order.IsPaid {
				if err := s.recordRefund(ctx, order); err != nil {
					return err
				}
			}
		}

		if err := s.orders.Update(ctx, order); err != nil {
			return mapOrderErr(err)
		}

		if target == valueobject.OrderStatusCompleted {
			return s.recountCompletedGigs(ctx, order.FreelancerID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		logger.Log.WithFields(logrus.Fields{
			"order_id": orderID,
			"status":   result.Order.Status,
			"actor_id": actorID,
			"released": result.EscrowReleased,
		}).Info("статус заказа изменён")

		notifyAll(ctx, s.notifier, orderTransitionNotices(result.Order, target, result.ReleasedUSD, result.EscrowReleased))
		if joinedConv != nil && s.realtime != nil {
			payload := map[string]any{"conversation": map[string]any{"id": *joinedConv, "joined_user_id": result.Order.FreelancerID}}
			s.realtime.PublishToConversation(ctx, *joinedConv, "conversation_update", payload)
			s.realtime.PublishToUser(ctx, result.Order.FreelancerID, "conversation_update", payload)
		}
	}

	return result, nil
}

// attachToProject назначает задачу исполнителю и добавляет его в чат проекта.
// Возвращает беседу, в которую он добавлен впервые.
func (s *OrderService) attachToProject(ctx context.Context, order *models.Order, now time.Time) (*uuid.UUID, error) {
	if order.TaskID != nil {
		if err := s.projects.AssignTask(ctx, *order.TaskID, order.FreelancerID, now); err != nil {
			return nil, err
		}
	}
	if order.ProjectID == nil {
		return nil, nil
	}

	project, err := s.projects.GetProject(ctx, *order.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if project.ConversationID == nil {
		return nil, nil
	}

	added, err := s.conversations.AddParticipant(ctx, *project.ConversationID, order.FreelancerID)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, nil
	}
	return project.ConversationID, nil
}

// releaseEscrow переводит заработок исполнителя из эскроу в доступный баланс.
// Если эскроу не пополнялся (ручные сценарии), сумма зачисляется сразу в доступный.
func (s *OrderService) releaseEscrow(ctx context.Context, order *models.Order, now time.Time) (decimal.Decimal, error) {
	payout := s.fees.Payout(order.Price)
	amount := payout.EarningsUSD

	balance, err := s.balances.GetForUpdate(ctx, order.FreelancerID)
	if err != nil {
		return decimal.Zero, err
	}

	delta := repository.BalanceDelta{Available: amount, Earnings: amount}
	if balance.EscrowBalance.GreaterThanOrEqual(amount) {
		delta.Escrow = amount.Neg()
	} else {
		logger.Log.WithFields(logrus.Fields{
			"order_id": order.ID,
			"escrow":   balance.EscrowBalance.String(),
			"amount":   amount.String(),
		}).Warn("эскроу меньше суммы выпуска, зачисляем напрямую в доступный баланс")
	}

	if _, err := s.balances.Apply(ctx, order.FreelancerID, delta); err != nil {
		return decimal.Zero, err
	}

	if err := s.ledger.Append(ctx, &models.Transaction{
		UserID:      userRef(order.FreelancerID),
		Kind:        models.TransactionKindPayment,
		Leg:         models.LegEscrowRelease,
		Amount:      payout.EarningsKES,
		USDAmount:   usd(amount),
		Description: fmt.Sprintf("Выпуск эскроу по заказу %s", order.ID),
		Reference:   fmt.Sprintf("escrow_release_%s_%d", order.ID, now.Unix()),
		Status:      models.TransactionStatusCompleted,
		OrderID:     &order.ID,
	}); err != nil {
		return decimal.Zero, err
	}

	order.EscrowReleased = true
	return amount, nil
}

// recordRefund фиксирует возврат клиенту оплаченного заказа и снимает заработок исполнителя с эскроу.
// Сам возврат денег выполняет внешний процесс.
func (s *OrderService) recordRefund(ctx context.Context, order *models.Order) error {
	err := s.ledger.Append(ctx, &models.Transaction{
		UserID:      userRef(order.ClientID),
		Kind:        models.TransactionKindRefund,
		Leg:         models.LegRefund,
		Amount:      order.TotalAmount,
		Description: fmt.Sprintf("Возврат по отменённому заказу %s", order.ID),
		Reference:   "refund_" + order.ID.String(),
		Status:      models.TransactionStatusPending,
		OrderID:     &order.ID,
	})
	if errors.Is(err, repository.ErrDuplicateReference) {
		return nil
	}
	if err != nil {
		return err
	}
	if order.EscrowReleased {
		return nil
	}

	amount := s.fees.Payout(order.Price).EarningsUSD
	balance, err := s.balances.GetForUpdate(ctx, order.FreelancerID)
	if err != nil {
		return err
	}
	if balance.EscrowBalance.LessThan(amount) {
		logger.Log.WithFields(logrus.Fields{
			"order_id": order.ID,
			"escrow":   balance.EscrowBalance.String(),
			"amount":   amount.String(),
		}).Warn("эскроу меньше заработка по отменённому заказу, списываем остаток")
		amount = balance.EscrowBalance
	}
	if amount.IsZero() {
		return nil
	}
	_, err = s.balances.Apply(ctx, order.FreelancerID, repository.BalanceDelta{Escrow: amount.Neg()})
	return err
}

func (s *OrderService) recountCompletedGigs(ctx context.Context, freelancerID uuid.UUID) error {
	count, err := s.orders.CountCompletedByFreelancer(ctx, freelancerID)
	if err != nil {
		return err
	}
	if _, err := s.balances.GetForUpdate(ctx, freelancerID); err != nil {
		return err
	}
	return s.balances.SetCompletedGigs(ctx, freelancerID, count)
}

func mapOrderErr(err error) error {
	if errors.Is(err, repository.ErrOrderNotFound) {
		return apperror.ErrOrderNotFound
	}
	return err
}
