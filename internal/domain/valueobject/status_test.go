package valueobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []OrderStatus{
	OrderStatusPending, OrderStatusAccepted, OrderStatusInProgress, OrderStatusDelivered,
	OrderStatusRevisionRequested, OrderStatusCompleted, OrderStatusCancelled, OrderStatusDisputed,
}

func TestOrderStatus_TransitionTable(t *testing.T) {
	type key struct {
		from, to OrderStatus
		actor    Actor
	}
	allowed := map[key]bool{
		{OrderStatusPending, OrderStatusAccepted, ActorFreelancer}:             true,
		{OrderStatusPending, OrderStatusCancelled, ActorFreelancer}:            true,
		{OrderStatusAccepted, OrderStatusInProgress, ActorFreelancer}:          true,
		{OrderStatusAccepted, OrderStatusCancelled, ActorFreelancer}:           true,
		{OrderStatusAccepted, OrderStatusCancelled, ActorClient}:               true,
		{OrderStatusInProgress, OrderStatusDelivered, ActorFreelancer}:         true,
		{OrderStatusInProgress, OrderStatusCancelled, ActorClient}:             true,
		{OrderStatusDelivered, OrderStatusInProgress, ActorFreelancer}:         true,
		{OrderStatusDelivered, OrderStatusRevisionRequested, ActorClient}:      true,
		{OrderStatusDelivered, OrderStatusCompleted, ActorClient}:              true,
		{OrderStatusRevisionRequested, OrderStatusInProgress, ActorFreelancer}: true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			for _, actor := range []Actor{ActorClient, ActorFreelancer} {
				want := allowed[key{from, to, actor}]
				assert.Equal(t, want, from.CanTransitionTo(to, actor), "%s -> %s by %s", from, to, actor)
			}
		}
	}
}

func TestOrderStatus_SystemSettlementTransitions(t *testing.T) {
	assert.True(t, OrderStatusPending.CanTransitionTo(OrderStatusInProgress, ActorSystem))
	assert.True(t, OrderStatusAccepted.CanTransitionTo(OrderStatusInProgress, ActorSystem))
	assert.False(t, OrderStatusDelivered.CanTransitionTo(OrderStatusCompleted, ActorSystem))
}

func TestOrderStatus_Terminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusDisputed} {
		assert.True(t, s.IsTerminal())
		for _, to := range allStatuses {
			assert.False(t, s.CanTransitionTo(to, ActorClient))
			assert.False(t, s.CanTransitionTo(to, ActorFreelancer))
		}
	}
}

func TestNewOrderStatus(t *testing.T) {
	s, err := NewOrderStatus("delivered")
	assert.NoError(t, err)
	assert.Equal(t, OrderStatusDelivered, s)

	_, err = NewOrderStatus("published")
	assert.Error(t, err)
}
