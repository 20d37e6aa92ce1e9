package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurolancer/backend/internal/config"
	"github.com/neurolancer/backend/internal/domain/valueobject"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/pkg/apperror"
	"github.com/neurolancer/backend/internal/repository"
)

var _ ReferralHook = (*ReferralService)(nil)

// fakeReferrals повторяет уникальные индексы referral_earnings.
type fakeReferrals struct {
	mu        sync.Mutex
	codes     map[uuid.UUID]*models.ReferralCode
	referrals map[uuid.UUID]*models.Referral
	earnings  []models.ReferralEarning
}

func newFakeReferrals() *fakeReferrals {
	return &fakeReferrals{
		codes:     make(map[uuid.UUID]*models.ReferralCode),
		referrals: make(map[uuid.UUID]*models.Referral),
	}
}

func (f *fakeReferrals) EnsureCode(_ context.Context, userID uuid.UUID, code string) (*models.ReferralCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	c := &models.ReferralCode{ID: uuid.New(), UserID: userID, Code: code}
	f.codes[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeReferrals) GetCodeByCode(_ context.Context, code string) (*models.ReferralCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrReferralCodeNotFound
}

func (f *fakeReferrals) CreateReferral(_ context.Context, ref *models.Referral) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.referrals[ref.ReferredID]; ok {
		return repository.ErrReferralExists
	}
	ref.ID = uuid.New()
	ref.SignedUpAt = time.Now()
	cp := *ref
	f.referrals[ref.ReferredID] = &cp
	return nil
}

func (f *fakeReferrals) GetByReferredForUpdate(_ context.Context, referredID uuid.UUID) (*models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[referredID]
	if !ok {
		return nil, repository.ErrReferralNotFound
	}
	cp := *ref
	return &cp, nil
}

func (f *fakeReferrals) UpdateReferral(_ context.Context, ref *models.Referral) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ref
	f.referrals[ref.ReferredID] = &cp
	return nil
}

func (f *fakeReferrals) CreateEarning(_ context.Context, earning *models.ReferralEarning) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.earnings {
		if e.ReferralID != earning.ReferralID {
			continue
		}
		if earning.EarningType == models.EarningTypeSignupBonus && e.EarningType == models.EarningTypeSignupBonus {
			return repository.ErrDuplicateEarning
		}
		if earning.SourceRef != nil && e.SourceRef != nil && *e.SourceRef == *earning.SourceRef && e.EarningType == earning.EarningType {
			return repository.ErrDuplicateEarning
		}
	}
	earning.ID = uuid.New()
	earning.CreatedAt = time.Now()
	f.earnings = append(f.earnings, *earning)
	return nil
}

func (f *fakeReferrals) AddCodeTotals(_ context.Context, codeID uuid.UUID, referrals int, earnings decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.codes[codeID]
	if !ok {
		return repository.ErrReferralCodeNotFound
	}
	c.TotalReferrals += referrals
	c.TotalEarnings = c.TotalEarnings.Add(earnings)
	return nil
}

func (f *fakeReferrals) ListEarnings(_ context.Context, referrerID uuid.UUID, limit, offset int) ([]models.ReferralEarning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReferralEarning
	for _, e := range f.earnings {
		if e.ReferrerID == referrerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeReferrals) ofType(kind string) []models.ReferralEarning {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReferralEarning
	for _, e := range f.earnings {
		if e.EarningType == kind {
			out = append(out, e)
		}
	}
	return out
}

type referralFixture struct {
	svc      *ReferralService
	repo     *fakeReferrals
	ledger   *fakeLedger
	balances *fakeBalances
	notifier *recordingNotifier
	users    *fakeUsers
	referrer *models.User
	referred *models.User
	now      time.Time
}

func defaultReferralSettings() config.ReferralSettings {
	return config.ReferralSettings{
		SignupBonusEnabled:        true,
		SignupBonusUSD:            dec("5.00"),
		RequireEmailVerification:  true,
		MinAccountAge:             24 * time.Hour,
		RequireFirstPurchase:      true,
		EarningsPercentageEnabled: true,
		EarningsPercentage:        dec("5"),
		EarningsDuration:          365 * 24 * time.Hour,
	}
}

func newReferralFixture(t *testing.T, settings config.ReferralSettings) *referralFixture {
	t.Helper()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	f := &referralFixture{
		repo:     newFakeReferrals(),
		ledger:   &fakeLedger{},
		balances: newFakeBalances(),
		notifier: &recordingNotifier{},
		users:    &fakeUsers{},
		referrer: &models.User{ID: uuid.New(), Email: "referrer@example.com", IsEmailVerified: true, CreatedAt: now.AddDate(0, -6, 0)},
		referred: &models.User{ID: uuid.New(), Email: "referred@example.com", IsEmailVerified: true, CreatedAt: now.Add(-72 * time.Hour)},
		now:      now,
	}
	f.users.add(f.referrer)
	f.users.add(f.referred)

	f.svc = NewReferralService(&fakeTx{}, f.repo, f.users, f.balances, f.ledger, f.notifier, settings, valueobject.DefaultFeeSchedule())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *referralFixture) link(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	overview, err := f.svc.Me(ctx, f.referrer.ID, 0, 0)
	require.NoError(t, err)
	_, err = f.svc.ApplyCode(ctx, f.referred.ID, overview.Code.Code)
	require.NoError(t, err)
}

func TestReferralService_SingleSignupBonus(t *testing.T) {
	f := newReferralFixture(t, defaultReferralSettings())
	f.link(t)
	ctx := context.Background()

	require.NoError(t, f.svc.OnSettlement(ctx, f.referred.ID, dec("1000"), "ref_one"))
	require.NoError(t, f.svc.OnSettlement(ctx, f.referred.ID, dec("2000"), "ref_two"))
	require.NoError(t, f.svc.OnSettlement(ctx, f.referred.ID, dec("2000"), "ref_two"))

	assert.Len(t, f.repo.ofType(models.EarningTypeSignupBonus), 1)
	assert.Len(t, f.repo.ofType(models.EarningTypeEarningsPercentage), 2)

	// 5.00 бонус + 5% от 1000 KES (0.385) + 5% от 2000 KES (0.77).
	bal := f.balances.snapshot(f.referrer.ID)
	assert.True(t, dec("6.155").Equal(bal.AvailableBalance), bal.AvailableBalance.String())
	assert.True(t, bal.EscrowBalance.IsZero())

	ref, err := f.repo.GetByReferredForUpdate(ctx, f.referred.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusVerified, ref.Status)
	assert.True(t, ref.SignupBonusPaid)
	assert.True(t, dec("5.00").Equal(ref.SignupBonusAmount))
	require.NotNil(t, ref.FirstPurchaseAt)

	assert.Len(t, f.ledger.byLeg(models.LegReferralBonus), 3)
	assert.Len(t, f.notifier.forUser(f.referrer.ID), 3)

	overview, err := f.svc.Me(ctx, f.referrer.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, overview.Code.TotalReferrals)
	assert.True(t, dec("6.155").Equal(overview.Code.TotalEarnings))
	assert.Len(t, overview.Earnings, 3)
}

func TestReferralService_UnverifiedEmailBlocksBonuses(t *testing.T) {
	f := newReferralFixture(t, defaultReferralSettings())
	f.referred.IsEmailVerified = false
	f.link(t)
	ctx := context.Background()

	require.NoError(t, f.svc.OnSettlement(ctx, f.referred.ID, dec("1000"), "ref_one"))

	assert.Empty(t, f.repo.ofType(models.EarningTypeSignupBonus))
	assert.Empty(t, f.repo.ofType(models.EarningTypeEarningsPercentage))
	assert.True(t, f.balances.snapshot(f.referrer.ID).AvailableBalance.IsZero())

	ref, err := f.repo.GetByReferredForUpdate(ctx, f.referred.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusPending, ref.Status)
	assert.NotNil(t, ref.FirstPurchaseAt)

	// После подтверждения почты следующая оплата проводит верификацию.
	f.referred.IsEmailVerified = true
	require.NoError(t, f.svc.OnSettlement(ctx, f.referred.ID, dec("1000"), "ref_two"))
	assert.Len(t, f.repo.ofType(models.EarningTypeSignupBonus), 1)
	assert.Len(t, f.repo.ofType(models.EarningTypeEarningsPercentage), 1)
}

func TestReferralService_YoungAccountWaits(t *testing.T) {
	f := newReferralFixture(t, defaultReferralSettings())
	f.referred.CreatedAt = f.now.Add(-2 * time.Hour)
	f.link(t)

	require.NoError(t, f.svc.OnSettlement(context.Background(), f.referred.ID, dec("1000"), "ref_one"))
	assert.Empty(t, f.repo.ofType(models.EarningTypeSignupBonus))
}

func TestReferralService_PercentageExpires(t *testing.T) {
	settings := defaultReferralSettings()
	settings.EarningsDuration = 30 * 24 * time.Hour
	f := newReferralFixture(t, settings)
	f.link(t)
	ctx := context.Background()

	require.NoError(t, f.svc.OnSettlement(ctx, f.referred.ID, dec("1000"), "ref_one"))
	f.now = f.now.AddDate(0, 0, 31)
	require.NoError(t, f.svc.OnSettlement(ctx, f.referred.ID, dec("1000"), "ref_two"))

	assert.Len(t, f.repo.ofType(models.EarningTypeEarningsPercentage), 1)
}

func TestReferralService_SignupBonusDisabled(t *testing.T) {
	settings := defaultReferralSettings()
	settings.SignupBonusEnabled = false
	f := newReferralFixture(t, settings)
	f.link(t)

	require.NoError(t, f.svc.OnSettlement(context.Background(), f.referred.ID, dec("1000"), "ref_one"))
	assert.Empty(t, f.repo.ofType(models.EarningTypeSignupBonus))
	assert.True(t, dec("0.385").Equal(f.balances.snapshot(f.referrer.ID).AvailableBalance))
}

func TestReferralService_NoReferralIsNoop(t *testing.T) {
	f := newReferralFixture(t, defaultReferralSettings())

	require.NoError(t, f.svc.OnSettlement(context.Background(), f.referred.ID, dec("1000"), "ref_one"))
	assert.Zero(t, f.ledger.count())
	assert.Empty(t, f.notifier.sent)
}

func TestReferralService_ApplyCode(t *testing.T) {
	f := newReferralFixture(t, defaultReferralSettings())
	ctx := context.Background()

	overview, err := f.svc.Me(ctx, f.referrer.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, overview.Code.Code, ReferralCodeLength)

	_, err = f.svc.ApplyCode(ctx, f.referrer.ID, overview.Code.Code)
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.ApplyCode(ctx, f.referred.ID, "NOPE1234")
	assert.True(t, apperror.IsNotFound(err))

	ref, err := f.svc.ApplyCode(ctx, f.referred.ID, " "+overview.Code.Code+" ")
	require.NoError(t, err)
	assert.Equal(t, f.referrer.ID, ref.ReferrerID)
	assert.Equal(t, models.ReferralStatusPending, ref.Status)

	_, err = f.svc.ApplyCode(ctx, f.referred.ID, overview.Code.Code)
	assert.Equal(t, apperror.ErrCodeConflict, apperror.CodeOf(err))
}
