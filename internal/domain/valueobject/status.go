package valueobject

import "github.com/neurolancer/backend/internal/pkg/apperror"

type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusAccepted          OrderStatus = "accepted"
	OrderStatusInProgress        OrderStatus = "in_progress"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusRevisionRequested OrderStatus = "revision_requested"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusDisputed          OrderStatus = "disputed"
)

// Actor определяет, кто инициирует переход.
type Actor string

const (
	ActorClient     Actor = "client"
	ActorFreelancer Actor = "freelancer"
	// ActorSystem используется при подтверждении оплаты шлюзом.
	ActorSystem Actor = "system"
)

// orderTransitions: текущий статус -> новый статус -> кто может перевести.
var orderTransitions = map[OrderStatus]map[OrderStatus][]Actor{
	OrderStatusPending: {
		OrderStatusAccepted:   {ActorFreelancer},
		OrderStatusCancelled:  {ActorFreelancer},
		OrderStatusInProgress: {ActorSystem},
	},
	OrderStatusAccepted: {
		OrderStatusInProgress: {ActorFreelancer, ActorSystem},
		OrderStatusCancelled:  {ActorFreelancer, ActorClient},
	},
	OrderStatusInProgress: {
		OrderStatusDelivered: {ActorFreelancer},
		OrderStatusCancelled: {ActorClient},
	},
	OrderStatusDelivered: {
		OrderStatusInProgress:        {ActorFreelancer},
		OrderStatusRevisionRequested: {ActorClient},
		OrderStatusCompleted:         {ActorClient},
	},
	OrderStatusRevisionRequested: {
		OrderStatusInProgress: {ActorFreelancer},
	},
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAccepted, OrderStatusInProgress, OrderStatusDelivered,
		OrderStatusRevisionRequested, OrderStatusCompleted, OrderStatusCancelled, OrderStatusDisputed:
		return true
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusDisputed
}

// CanTransitionTo проверяет переход по таблице с учётом роли.
func (s OrderStatus) CanTransitionTo(newStatus OrderStatus, actor Actor) bool {
	allowed, ok := orderTransitions[s][newStatus]
	if !ok {
		return false
	}

	for _, a := range allowed {
		if a == actor {
			return true
		}
	}
	return false
}

// AwaitsPayment сообщает, что заказ ещё можно оплатить.
func (s OrderStatus) AwaitsPayment() bool {
	return s == OrderStatusPending || s == OrderStatusAccepted
}

func NewOrderStatus(status string) (OrderStatus, error) {
	s := OrderStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус заказа")
	}
	return s, nil
}
