package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/neurolancer/backend/internal/domain/valueobject"
	"github.com/neurolancer/backend/internal/gateway"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/pkg/apperror"
	"github.com/neurolancer/backend/internal/repository"
)

const testGatewaySecret = "sk_test_secret"

type fakePaymentGateway struct {
	initialized []gateway.InitializeRequest
	charges     map[string]*gateway.Charge
	verifyErr   error
}

func (g *fakePaymentGateway) InitializeTransaction(_ context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	g.initialized = append(g.initialized, req)
	return &gateway.InitializeResult{
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *fakePaymentGateway) VerifyTransaction(_ context.Context, reference string) (*gateway.Charge, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	charge, ok := g.charges[reference]
	if !ok {
		return nil, apperror.New(apperror.ErrCodeGatewayRejected, "Transaction reference not found")
	}
	return charge, nil
}

func (g *fakePaymentGateway) ParseWebhook(body []byte, signature string) (*gateway.WebhookEvent, error) {
	if err := gateway.VerifySignature(body, signature, testGatewaySecret); err != nil {
		return nil, err
	}
	var event gateway.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// approve помечает последний инициализированный платёж успешным.
func (g *fakePaymentGateway) approve(amount int64) string {
	req := g.initialized[len(g.initialized)-1]
	if g.charges == nil {
		g.charges = make(map[string]*gateway.Charge)
	}
	g.charges[req.Reference] = &gateway.Charge{
		Reference: req.Reference,
		Status:    gateway.ChargeStatusSuccess,
		Amount:    amount,
		Currency:  "KES",
		Metadata:  req.Metadata,
	}
	return req.Reference
}

type fakeUsers struct {
	users map[uuid.UUID]*models.User
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) add(u *models.User) {
	if f.users == nil {
		f.users = make(map[uuid.UUID]*models.User)
	}
	f.users[u.ID] = u
}

type fakeCatalog struct {
	jobs        map[uuid.UUID]*models.Job
	courses     map[uuid.UUID]*models.Course
	enrollments map[uuid.UUID][]uuid.UUID
}

func (f *fakeCatalog) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeCatalog) GetCourse(_ context.Context, id uuid.UUID) (*models.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, repository.ErrCourseNotFound
	}
	return c, nil
}

func (f *fakeCatalog) EnsureEnrollment(_ context.Context, courseID, studentID uuid.UUID, _ string) (bool, error) {
	if f.enrollments == nil {
		f.enrollments = make(map[uuid.UUID][]uuid.UUID)
	}
	for _, s := range f.enrollments[courseID] {
		if s == studentID {
			return false, nil
		}
	}
	f.enrollments[courseID] = append(f.enrollments[courseID], studentID)
	return true, nil
}

type mockReferralHook struct {
	mock.Mock
}

func (m *mockReferralHook) OnSettlement(ctx context.Context, clientID uuid.UUID, base decimal.Decimal, sourceRef string) error {
	return m.Called(ctx, clientID, base, sourceRef).Error(0)
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, event string, transfer gateway.TransferEvent) error {
	return m.Called(ctx, event, transfer).Error(0)
}

type paymentFixture struct {
	svc      *PaymentService
	tx       *fakeTx
	orders   *fakeOrders
	catalog  *fakeCatalog
	ledger   *fakeLedger
	balances *fakeBalances
	gateway  *fakePaymentGateway
	notifier *recordingNotifier
	client   *models.User
	order    *models.Order
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	client := &models.User{ID: uuid.New(), Email: "client@example.com", Role: models.RoleClient}
	freelancer := &models.User{ID: uuid.New(), Email: "freelancer@example.com", Role: models.RoleFreelancer}
	users := &fakeUsers{}
	users.add(client)
	users.add(freelancer)

	order := &models.Order{
		ID:            uuid.New(),
		ClientID:      client.ID,
		FreelancerID:  freelancer.ID,
		Title:         "Лендинг",
		Price:         dec("1000"),
		TotalAmount:   dec("1000"),
		Status:        string(valueobject.OrderStatusPending),
		PaymentStatus: models.PaymentStatusUnpaid,
	}

	f := &paymentFixture{
		tx:       &fakeTx{},
		orders:   newFakeOrders(order),
		catalog:  &fakeCatalog{jobs: map[uuid.UUID]*models.Job{}, courses: map[uuid.UUID]*models.Course{}},
		ledger:   &fakeLedger{},
		balances: newFakeBalances(),
		gateway:  &fakePaymentGateway{},
		notifier: &recordingNotifier{},
		client:   client,
		order:    order,
	}
	f.svc = NewPaymentService(f.tx, f.orders, f.catalog, f.ledger, f.balances, users, f.gateway,
		f.notifier, valueobject.DefaultFeeSchedule(), "https://neurolancer.example/payment/callback")
	f.svc.now = func() time.Time { return time.Date(2026, 10, 18, 12, 30, 45, 0, time.UTC) }
	return f
}

func (f *paymentFixture) initializeOrder(t *testing.T) *InitializePaymentResult {
	t.Helper()
	res, err := f.svc.Initialize(context.Background(), f.client.ID, GigOrderTarget{OrderID: f.order.ID})
	require.NoError(t, err)
	return res
}

func signedWebhook(t *testing.T, event string, data any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(gateway.WebhookEvent{Event: event, Data: raw})
	require.NoError(t, err)
	return body, gateway.Sign(body, testGatewaySecret)
}

func TestPaymentService_InitializeOrder(t *testing.T) {
	f := newPaymentFixture(t)

	res := f.initializeOrder(t)

	assert.Equal(t, "neurolancer_gig_"+f.order.ID.String()+"_20261018123045", res.Reference)
	assert.True(t, dec("25").Equal(res.Breakdown.ClientFee))
	assert.True(t, dec("50").Equal(res.Breakdown.ProcessingFee))
	assert.True(t, dec("1075").Equal(res.Breakdown.Total))
	assert.Contains(t, res.AuthorizationURL, res.Reference)

	require.Len(t, f.gateway.initialized, 1)
	req := f.gateway.initialized[0]
	assert.Equal(t, int64(107500), req.Amount)
	assert.Equal(t, "client@example.com", req.Email)
	assert.Equal(t, "KES", req.Currency)
	assert.Equal(t, gateway.DefaultChannels, req.Channels)
	assert.Equal(t, "https://neurolancer.example/payment/callback", req.CallbackURL)

	var meta paymentMetadata
	require.NoError(t, json.Unmarshal(req.Metadata, &meta))
	assert.Equal(t, PaymentTypeGig, meta.PaymentType)
	assert.Equal(t, f.order.ClientID, meta.ClientID)
	assert.Equal(t, f.order.FreelancerID, meta.FreelancerID)
	require.NotNil(t, meta.OrderID)
	assert.Equal(t, f.order.ID, *meta.OrderID)

	stored := f.orders.get(f.order.ID)
	require.NotNil(t, stored.PaymentReference)
	assert.Equal(t, res.Reference, *stored.PaymentReference)
	assert.True(t, dec("1075").Equal(stored.TotalAmount))
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
}

func TestPaymentService_InitializeRejectsForeignOrPaidOrder(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initialize(ctx, f.order.FreelancerID, GigOrderTarget{OrderID: f.order.ID})
	assert.True(t, apperror.IsForbidden(err))

	f.order.IsPaid = true
	_, err = f.svc.Initialize(ctx, f.client.ID, GigOrderTarget{OrderID: f.order.ID})
	assert.Equal(t, apperror.ErrCodeConflict, apperror.CodeOf(err))
	assert.Empty(t, f.gateway.initialized)
}

func TestPaymentService_GigSettlement(t *testing.T) {
	f := newPaymentFixture(t)
	f.initializeOrder(t)
	ref := f.gateway.approve(107500)

	res, err := f.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.False(t, res.AlreadySettled)
	assert.True(t, dec("7.3150").Equal(res.EarningsUSD))

	stored := f.orders.get(f.order.ID)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, string(valueobject.OrderStatusInProgress), stored.Status)

	assert.True(t, dec("7.3150").Equal(f.balances.snapshot(f.order.FreelancerID).EscrowBalance))
	assert.True(t, f.balances.snapshot(f.order.FreelancerID).AvailableBalance.IsZero())

	rows, _ := f.ledger.ListByReference(context.Background(), ref)
	require.Len(t, rows, 3)
	feeRows, _ := f.ledger.ListByReference(context.Background(), ref+"_fees")
	require.Len(t, feeRows, 1)
	assert.True(t, dec("125").Equal(feeRows[0].Amount))

	userSum, platform := decimal.Zero, decimal.Zero
	for _, row := range rows {
		if row.UserID != nil {
			userSum = userSum.Add(row.Amount)
		} else {
			platform = platform.Add(row.Amount)
		}
	}
	assert.True(t, dec("-125").Equal(userSum), "user sum %s", userSum)
	assert.True(t, dec("125").Equal(platform))

	assert.Len(t, f.notifier.forUser(f.order.ClientID), 1)
	assert.Len(t, f.notifier.forUser(f.order.FreelancerID), 1)
}

func TestPaymentService_DuplicateWebhookIsNoop(t *testing.T) {
	f := newPaymentFixture(t)
	f.initializeOrder(t)
	ref := f.gateway.approve(107500)
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, ref)
	require.NoError(t, err)
	entries := f.ledger.count()
	escrow := f.balances.snapshot(f.order.FreelancerID).EscrowBalance
	notices := len(f.notifier.sent)

	body, sig := signedWebhook(t, gateway.EventChargeSuccess, gateway.ChargeEvent{Reference: ref, Status: "success", Amount: 107500})
	for i := 0; i < 3; i++ {
		res, err := f.svc.HandleWebhook(ctx, body, sig)
		require.NoError(t, err)
		assert.True(t, res.Handled)
		require.NotNil(t, res.Settlement)
		assert.Equal(t, "success", res.Settlement.Status)
		assert.True(t, res.Settlement.AlreadySettled)
	}

	for i := 0; i < 3; i++ {
		res, err := f.svc.Verify(ctx, ref)
		require.NoError(t, err)
		assert.True(t, res.AlreadySettled)
	}

	assert.Equal(t, entries, f.ledger.count())
	assert.True(t, escrow.Equal(f.balances.snapshot(f.order.FreelancerID).EscrowBalance))
	assert.Equal(t, notices, len(f.notifier.sent))
}

func TestPaymentService_WebhookBeforeVerifySettlesOnce(t *testing.T) {
	f := newPaymentFixture(t)
	f.initializeOrder(t)
	ref := f.gateway.approve(107500)
	ctx := context.Background()

	body, sig := signedWebhook(t, gateway.EventChargeSuccess, gateway.ChargeEvent{Reference: ref})
	res, err := f.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.False(t, res.Settlement.AlreadySettled)

	again, err := f.svc.Verify(ctx, ref)
	require.NoError(t, err)
	assert.True(t, again.AlreadySettled)
	assert.Equal(t, 4, f.ledger.count())
}

func TestPaymentService_SupersededReferenceStillSettles(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	first := f.initializeOrder(t)
	firstRef := f.gateway.approve(107500)
	require.Equal(t, first.Reference, firstRef)

	// клиент открыл оплату заново, но заплатил по первой ссылке
	f.svc.now = func() time.Time { return time.Date(2026, 10, 18, 12, 35, 0, 0, time.UTC) }
	second := f.initializeOrder(t)
	require.NotEqual(t, first.Reference, second.Reference)
	require.Equal(t, second.Reference, *f.orders.get(f.order.ID).PaymentReference)

	body, sig := signedWebhook(t, gateway.EventChargeSuccess, gateway.ChargeEvent{Reference: firstRef})
	res, err := f.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.False(t, res.Settlement.AlreadySettled)

	stored := f.orders.get(f.order.ID)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, string(valueobject.OrderStatusInProgress), stored.Status)
	require.NotNil(t, stored.PaymentReference)
	assert.Equal(t, firstRef, *stored.PaymentReference)
	assert.True(t, dec("7.3150").Equal(f.balances.snapshot(f.order.FreelancerID).EscrowBalance))

	rows, _ := f.ledger.ListByReference(ctx, firstRef)
	assert.Len(t, rows, 3)

	again, err := f.svc.Verify(ctx, firstRef)
	require.NoError(t, err)
	assert.True(t, again.AlreadySettled)
}

func TestPaymentService_SecondPaymentOfPaidOrderRejected(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	f.initializeOrder(t)
	firstRef := f.gateway.approve(107500)
	f.svc.now = func() time.Time { return time.Date(2026, 10, 18, 12, 35, 0, 0, time.UTC) }
	f.initializeOrder(t)
	secondRef := f.gateway.approve(107500)

	_, err := f.svc.Verify(ctx, secondRef)
	require.NoError(t, err)
	entries := f.ledger.count()

	_, err = f.svc.Verify(ctx, firstRef)
	assert.Equal(t, apperror.ErrCodeConflict, apperror.CodeOf(err))
	assert.Equal(t, entries, f.ledger.count())
	assert.Equal(t, secondRef, *f.orders.get(f.order.ID).PaymentReference)
	assert.True(t, dec("7.3150").Equal(f.balances.snapshot(f.order.FreelancerID).EscrowBalance))
}

func TestPaymentService_WebhookForUnknownOrderIsRetried(t *testing.T) {
	f := newPaymentFixture(t)
	missing := uuid.New()
	meta, err := json.Marshal(paymentMetadata{
		PaymentType:  PaymentTypeGig,
		ClientID:     f.client.ID,
		FreelancerID: f.order.FreelancerID,
		OrderID:      &missing,
	})
	require.NoError(t, err)
	f.gateway.charges = map[string]*gateway.Charge{
		"ref_gone": {Reference: "ref_gone", Status: "success", Amount: 107500, Metadata: meta},
	}

	body, sig := signedWebhook(t, gateway.EventChargeSuccess, gateway.ChargeEvent{Reference: "ref_gone"})
	_, err = f.svc.HandleWebhook(context.Background(), body, sig)
	assert.True(t, apperror.IsNotFound(err))
	assert.Zero(t, f.ledger.count())
}

func TestPaymentService_AmountMismatchRejected(t *testing.T) {
	f := newPaymentFixture(t)
	f.initializeOrder(t)
	ref := f.gateway.approve(100000)

	_, err := f.svc.Verify(context.Background(), ref)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeGatewayRejected, apperror.CodeOf(err))
	assert.Zero(t, f.ledger.count())
	assert.True(t, f.balances.snapshot(f.order.FreelancerID).EscrowBalance.IsZero())
	assert.Empty(t, f.notifier.sent)
}

func TestPaymentService_NonSuccessChargeRejected(t *testing.T) {
	f := newPaymentFixture(t)
	f.initializeOrder(t)
	ref := f.gateway.approve(107500)
	f.gateway.charges[ref].Status = "abandoned"

	_, err := f.svc.Verify(context.Background(), ref)
	assert.Equal(t, apperror.ErrCodeGatewayRejected, apperror.CodeOf(err))
	assert.False(t, f.orders.get(f.order.ID).IsPaid)
	assert.Zero(t, f.ledger.count())
}

func TestPaymentService_MissingMetadata(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.charges = map[string]*gateway.Charge{
		"ref_no_meta": {Reference: "ref_no_meta", Status: "success", Amount: 107500},
		"ref_no_ids":  {Reference: "ref_no_ids", Status: "success", Amount: 107500, Metadata: json.RawMessage(`{"payment_type":"gig"}`)},
	}

	_, err := f.svc.Verify(context.Background(), "ref_no_meta")
	assert.True(t, apperror.IsValidation(err))

	body, sig := signedWebhook(t, gateway.EventChargeSuccess, gateway.ChargeEvent{Reference: "ref_no_ids"})
	_, err = f.svc.HandleWebhook(context.Background(), body, sig)
	assert.True(t, apperror.IsValidation(err))
	assert.Zero(t, f.ledger.count())
}

func TestPaymentService_TransientVerifyDoesNotMutate(t *testing.T) {
	f := newPaymentFixture(t)
	f.initializeOrder(t)
	f.gateway.verifyErr = apperror.New(apperror.ErrCodeGatewayTransient, "timeout")

	_, err := f.svc.Verify(context.Background(), "any")
	assert.True(t, apperror.IsGatewayTransient(err))
	assert.Zero(t, f.tx.calls)
}

func TestPaymentService_WebhookSignature(t *testing.T) {
	f := newPaymentFixture(t)

	body, _ := signedWebhook(t, gateway.EventChargeSuccess, gateway.ChargeEvent{Reference: "x"})
	_, err := f.svc.HandleWebhook(context.Background(), body, "deadbeef")
	assert.True(t, apperror.IsSignatureInvalid(err))
}

func TestPaymentService_WebhookUnknownEventAcknowledged(t *testing.T) {
	f := newPaymentFixture(t)

	body, sig := signedWebhook(t, "subscription.create", map[string]string{"code": "SUB_1"})
	res, err := f.svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.False(t, res.Handled)
}

func TestPaymentService_WebhookTransferDelegates(t *testing.T) {
	f := newPaymentFixture(t)
	rec := new(mockReconciler)
	f.svc.SetTransferReconciler(rec)

	te := gateway.TransferEvent{Reference: "withdrawal_1", TransferCode: "TRF_1", Status: "failed", Reason: "account closed"}
	rec.On("Reconcile", mock.Anything, gateway.EventTransferFailed, te).Return(nil).Once()

	body, sig := signedWebhook(t, gateway.EventTransferFailed, te)
	res, err := f.svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.Handled)
	rec.AssertExpectations(t)
}

func TestPaymentService_WebhookTransferUnknownReferenceIsRetried(t *testing.T) {
	f := newPaymentFixture(t)
	rec := new(mockReconciler)
	f.svc.SetTransferReconciler(rec)

	te := gateway.TransferEvent{Reference: "withdrawal_not_committed_yet"}
	rec.On("Reconcile", mock.Anything, gateway.EventTransferFailed, te).Return(apperror.ErrWithdrawalNotFound).Once()

	body, sig := signedWebhook(t, gateway.EventTransferFailed, te)
	_, err := f.svc.HandleWebhook(context.Background(), body, sig)
	assert.True(t, apperror.IsNotFound(err))
	rec.AssertExpectations(t)
}

func TestPaymentService_ReferralHookCalledOnce(t *testing.T) {
	f := newPaymentFixture(t)
	hook := new(mockReferralHook)
	f.svc.SetReferralHook(hook)
	f.initializeOrder(t)
	ref := f.gateway.approve(107500)

	hook.On("OnSettlement", mock.Anything, f.client.ID, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec("1000"))
	}), ref).Return(nil).Once()

	_, err := f.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	_, err = f.svc.Verify(context.Background(), ref)
	require.NoError(t, err)

	hook.AssertExpectations(t)
}

func TestPaymentService_HourlyJobSettlement(t *testing.T) {
	f := newPaymentFixture(t)
	freelancerID := uuid.New()
	job := &models.Job{
		ID:         uuid.New(),
		ClientID:   f.client.ID,
		Title:      "Парсер",
		IsHourly:   true,
		HourlyRate: decimal.NullDecimal{Decimal: dec("150"), Valid: true},
	}
	f.catalog.jobs[job.ID] = job

	res, err := f.svc.Initialize(context.Background(), f.client.ID, JobTarget{
		JobID:        job.ID,
		FreelancerID: freelancerID,
		Hours:        decimal.NullDecimal{Decimal: dec("10"), Valid: true},
	})
	require.NoError(t, err)
	assert.True(t, dec("1500").Equal(res.Breakdown.Base))
	assert.True(t, dec("1587.5").Equal(res.Breakdown.Total))
	assert.True(t, strings.HasPrefix(res.Reference, "neurolancer_job_"+job.ID.String()+"_"))

	ref := f.gateway.approve(158750)
	settled, err := f.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Nil(t, settled.OrderID)

	// 1500 - 75 = 1425 KES * 0.0077
	assert.True(t, dec("10.9725").Equal(f.balances.snapshot(freelancerID).EscrowBalance))
}

func TestPaymentService_HourlyJobRequiresHours(t *testing.T) {
	f := newPaymentFixture(t)
	job := &models.Job{ID: uuid.New(), ClientID: f.client.ID, IsHourly: true, HourlyRate: decimal.NullDecimal{Decimal: dec("150"), Valid: true}}
	f.catalog.jobs[job.ID] = job

	_, err := f.svc.Initialize(context.Background(), f.client.ID, JobTarget{JobID: job.ID, FreelancerID: uuid.New()})
	assert.True(t, apperror.IsValidation(err))
}

func TestPaymentService_CourseSettlementEnrolls(t *testing.T) {
	f := newPaymentFixture(t)
	instructorID := uuid.New()
	course := &models.Course{ID: uuid.New(), InstructorID: instructorID, Title: "Go с нуля", Price: dec("2000")}
	f.catalog.courses[course.ID] = course

	_, err := f.svc.Initialize(context.Background(), f.client.ID, CourseTarget{CourseID: course.ID})
	require.NoError(t, err)
	ref := f.gateway.approve(210000)

	_, err = f.svc.Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{f.client.ID}, f.catalog.enrollments[course.ID])
	// 2000 - 100 = 1900 KES * 0.0077
	assert.True(t, dec("14.63").Equal(f.balances.snapshot(instructorID).EscrowBalance))
}

func TestPaymentService_MarkPaidManually(t *testing.T) {
	f := newPaymentFixture(t)
	adminID := uuid.New()

	res, err := f.svc.MarkPaidManually(context.Background(), f.order.ID, adminID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Reference, "manual_order_"+f.order.ID.String()+"_"))
	assert.Empty(t, f.gateway.initialized)

	stored := f.orders.get(f.order.ID)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, string(valueobject.OrderStatusInProgress), stored.Status)
	assert.True(t, dec("7.3150").Equal(f.balances.snapshot(f.order.FreelancerID).EscrowBalance))

	_, err = f.svc.MarkPaidManually(context.Background(), f.order.ID, adminID)
	assert.Equal(t, apperror.ErrCodeConflict, apperror.CodeOf(err))
}

func TestPaymentService_SettlementThenReleaseKeepsBalancesNonNegative(t *testing.T) {
	f := newPaymentFixture(t)
	f.initializeOrder(t)
	ref := f.gateway.approve(107500)
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, ref)
	require.NoError(t, err)

	orders := NewOrderService(f.tx, f.orders, f.ledger, f.balances, &fakeProjects{}, &fakeMembership{},
		f.notifier, nil, valueobject.DefaultFeeSchedule())
	_, err = orders.UpdateStatus(ctx, f.order.ID, f.order.FreelancerID, "delivered")
	require.NoError(t, err)
	res, err := orders.UpdateStatus(ctx, f.order.ID, f.order.ClientID, "completed")
	require.NoError(t, err)
	assert.True(t, res.EscrowReleased)

	bal := f.balances.snapshot(f.order.FreelancerID)
	assert.True(t, bal.EscrowBalance.IsZero())
	assert.True(t, dec("7.3150").Equal(bal.AvailableBalance))
	assert.False(t, bal.EscrowBalance.IsNegative())
	assert.Equal(t, 1, bal.CompletedGigs)
}
