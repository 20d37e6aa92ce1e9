package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/neurolancer/backend/internal/domain/valueobject"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/repository"
)

// fakeTx выполняет fn без транзакции и считает вызовы.
type fakeTx struct {
	calls int
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

// fakeLedger хранит проводки в памяти с тем же ограничением уникальности (reference, leg).
type fakeLedger struct {
	mu      sync.Mutex
	entries []models.Transaction
	locked  []string
}

func (l *fakeLedger) Append(_ context.Context, entry *models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Reference == entry.Reference && e.Leg == entry.Leg {
			return repository.ErrDuplicateReference
		}
	}
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *fakeLedger) LockReference(_ context.Context, reference string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = append(l.locked, reference)
	return nil
}

func (l *fakeLedger) HasCompletedSettlement(_ context.Context, reference string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Reference == reference && e.Kind == models.TransactionKindPayment && e.Status == models.TransactionStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) ListByReference(_ context.Context, reference string) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Transaction
	for _, e := range l.entries {
		if e.Reference == reference {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *fakeLedger) TransitionStatus(_ context.Context, reference, leg, from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.Reference == reference && e.Leg == leg && e.Status == from {
			l.entries[i].Status = to
			return nil
		}
	}
	return repository.ErrLedgerEntryNotFound
}

func (l *fakeLedger) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Transaction
	for _, e := range l.entries {
		if e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *fakeLedger) byLeg(leg string) []models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Transaction
	for _, e := range l.entries {
		if e.Leg == leg {
			out = append(out, e)
		}
	}
	return out
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// fakeBalances повторяет CHECK (balance >= 0) таблицы user_balances.
type fakeBalances struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*models.UserBalance
}

func newFakeBalances() *fakeBalances {
	return &fakeBalances{balances: make(map[uuid.UUID]*models.UserBalance)}
}

func (b *fakeBalances) ensure(userID uuid.UUID) *models.UserBalance {
	bal, ok := b.balances[userID]
	if !ok {
		bal = &models.UserBalance{UserID: userID}
		b.balances[userID] = bal
	}
	return bal
}

func (b *fakeBalances) Get(_ context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *b.ensure(userID)
	return &cp, nil
}

func (b *fakeBalances) GetForUpdate(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	return b.Get(ctx, userID)
}

func (b *fakeBalances) Apply(_ context.Context, userID uuid.UUID, delta repository.BalanceDelta) (*models.UserBalance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.ensure(userID)
	escrow := bal.EscrowBalance.Add(delta.Escrow)
	available := bal.AvailableBalance.Add(delta.Available)
	earnings := bal.TotalEarnings.Add(delta.Earnings)
	if escrow.IsNegative() || available.IsNegative() || earnings.IsNegative() {
		return nil, repository.ErrInsufficientFunds
	}
	bal.EscrowBalance, bal.AvailableBalance, bal.TotalEarnings = escrow, available, earnings
	cp := *bal
	return &cp, nil
}

func (b *fakeBalances) SetCompletedGigs(_ context.Context, userID uuid.UUID, count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensure(userID).CompletedGigs = count
	return nil
}

func (b *fakeBalances) set(userID uuid.UUID, escrow, available string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.ensure(userID)
	bal.EscrowBalance = decimal.RequireFromString(escrow)
	bal.AvailableBalance = decimal.RequireFromString(available)
}

func (b *fakeBalances) snapshot(userID uuid.UUID) models.UserBalance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.ensure(userID)
}

// fakeOrders хранилище заказов в памяти.
type fakeOrders struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
}

func newFakeOrders(orders ...*models.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[uuid.UUID]*models.Order)}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeOrders) Update(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[order.ID]; !ok {
		return repository.ErrOrderNotFound
	}
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrders) SetPaymentReference(_ context.Context, id uuid.UUID, reference string, total decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if o.IsPaid {
		return repository.ErrOrderAlreadyPaid
	}
	o.PaymentReference = &reference
	o.TotalAmount = total
	o.PaymentStatus = models.PaymentStatusPending
	return nil
}

func (f *fakeOrders) CountCompletedByFreelancer(_ context.Context, freelancerID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.orders {
		if o.FreelancerID == freelancerID && o.Status == string(valueobject.OrderStatusCompleted) {
			n++
		}
	}
	return n, nil
}

func (f *fakeOrders) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.IsParticipant(userID) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrders) get(id uuid.UUID) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

// recordingNotifier запоминает уведомления.
type recordingNotifier struct {
	mu    sync.Mutex
	sent  []NotificationInput
	fails error
}

func (n *recordingNotifier) Notify(_ context.Context, in NotificationInput) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails != nil {
		return nil, n.fails
	}
	n.sent = append(n.sent, in)
	return &models.Notification{ID: uuid.New(), UserID: in.UserID, Title: in.Title, Kind: in.Kind}, nil
}

func (n *recordingNotifier) forUser(userID uuid.UUID) []NotificationInput {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []NotificationInput
	for _, in := range n.sent {
		if in.UserID == userID {
			out = append(out, in)
		}
	}
	return out
}

// mockRealtime проверяет публикации в группы.
type mockRealtime struct {
	mock.Mock
}

func (m *mockRealtime) PublishToUser(ctx context.Context, userID uuid.UUID, eventType string, payload any) {
	m.Called(ctx, userID, eventType, payload)
}

func (m *mockRealtime) PublishToConversation(ctx context.Context, conversationID uuid.UUID, eventType string, payload any) {
	m.Called(ctx, conversationID, eventType, payload)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
