package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/config"
	"github.com/neurolancer/backend/internal/domain/valueobject"
	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/pkg/apperror"
	"github.com/neurolancer/backend/internal/repository"
)

// ReferralCodeLength длина персонального реферального кода.
const ReferralCodeLength = 8

// ReferralRepository хранилище реферальной программы.
type ReferralRepository interface {
	EnsureCode(ctx context.Context, userID uuid.UUID, code string) (*models.ReferralCode, error)
	GetCodeByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	CreateReferral(ctx context.Context, ref *models.Referral) error
	GetByReferredForUpdate(ctx context.Context, referredID uuid.UUID) (*models.Referral, error)
	UpdateReferral(ctx context.Context, ref *models.Referral) error
	CreateEarning(ctx context.Context, earning *models.ReferralEarning) error
	AddCodeTotals(ctx context.Context, codeID uuid.UUID, referrals int, earnings decimal.Decimal) error
	ListEarnings(ctx context.Context, referrerID uuid.UUID, limit, offset int) ([]models.ReferralEarning, error)
}

// ReferralOverview код пользователя и его последние начисления.
type ReferralOverview struct {
	Code     *models.ReferralCode     `json:"code"`
	Earnings []models.ReferralEarning `json:"earnings"`
}

// ReferralService начисляет бонусы пригласившим по оплатам приглашённых.
type ReferralService struct {
	tx       TxRunner
	repo     ReferralRepository
	users    UserReader
	balances BalanceRepository
	ledger   LedgerRepository
	notifier Notifier
	settings config.ReferralSettings
	fees     valueobject.FeeSchedule
	now      func() time.Time
}

// NewReferralService создаёт реферальный сервис.
func NewReferralService(
	tx TxRunner,
	repo ReferralRepository,
	users UserReader,
	balances BalanceRepository,
	ledger LedgerRepository,
	notifier Notifier,
	settings config.ReferralSettings,
	fees valueobject.FeeSchedule,
) *ReferralService {
	return &ReferralService{
		tx:       tx,
		repo:     repo,
		users:    users,
		balances: balances,
		ledger:   ledger,
		notifier: notifier,
		settings: settings,
		fees:     fees,
		now:      time.Now,
	}
}

// OnSettlement обрабатывает успешную оплату клиента: отмечает первую покупку,
// подтверждает реферала и начисляет бонусы. Повторный вызов с тем же sourceRef ничего не начисляет.
func (s *ReferralService) OnSettlement(ctx context.Context, clientID uuid.UUID, baseKES decimal.Decimal, sourceRef string) error {
	var awarded []*models.ReferralEarning

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ref, err := s.repo.GetByReferredForUpdate(ctx, clientID)
		if err != nil {
			if errors.Is(err, repository.ErrReferralNotFound) {
				return nil
			}
			return err
		}
		if ref.Status == models.ReferralStatusCancelled {
			return nil
		}

		now := s.now()
		if s.settings.RequireFirstPurchase && ref.FirstPurchaseAt == nil {
			ref.FirstPurchaseAt = &now
		}

		if ref.Status == models.ReferralStatusPending {
			ok, err := s.passesGates(ctx, ref, now)
			if err != nil {
				return err
			}
			if ok {
				ref.Status = models.ReferralStatusVerified
				ref.VerifiedAt = &now
				if s.settings.SignupBonusEnabled && !ref.SignupBonusPaid && s.settings.SignupBonusUSD.IsPositive() {
					earning, err := s.award(ctx, ref, &models.ReferralEarning{
						EarningType: models.EarningTypeSignupBonus,
						Amount:      s.settings.SignupBonusUSD,
					})
					if err != nil {
						return err
					}
					ref.SignupBonusPaid = true
					if earning != nil {
						ref.SignupBonusAmount = earning.Amount
						awarded = append(awarded, earning)
					}
				}
			}
		}

		if err := s.repo.UpdateReferral(ctx, ref); err != nil {
			return err
		}

		if earning, err := s.awardPercentage(ctx, ref, baseKES, sourceRef, now); err != nil {
			return err
		} else if earning != nil {
			awarded = append(awarded, earning)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range awarded {
		logger.Log.WithFields(logrus.Fields{
			"referrer_id":  e.ReferrerID,
			"referral_id":  e.ReferralID,
			"earning_type": e.EarningType,
			"amount_usd":   e.Amount.String(),
		}).Info("реферальное начисление")
	}
	notices := make([]NotificationInput, 0, len(awarded))
	for _, e := range awarded {
		notices = append(notices, referralEarningNotice(e))
	}
	notifyAll(ctx, s.notifier, notices)
	return nil
}

func (s *ReferralService) passesGates(ctx context.Context, ref *models.Referral, now time.Time) (bool, error) {
	if s.settings.RequireFirstPurchase && ref.FirstPurchaseAt == nil {
		return false, nil
	}
	if !s.settings.RequireEmailVerification && s.settings.MinAccountAge <= 0 {
		return true, nil
	}
	user, err := s.users.GetByID(ctx, ref.ReferredID)
	if err != nil {
		return false, err
	}
	if s.settings.RequireEmailVerification && !user.IsEmailVerified {
		return false, nil
	}
	if s.settings.MinAccountAge > 0 && now.Sub(user.CreatedAt) < s.settings.MinAccountAge {
		return false, nil
	}
	return true, nil
}

func (s *ReferralService) awardPercentage(ctx context.Context, ref *models.Referral, baseKES decimal.Decimal, sourceRef string, now time.Time) (*models.ReferralEarning, error) {
	if !s.settings.EarningsPercentageEnabled || ref.VerifiedAt == nil {
		return nil, nil
	}
	if s.settings.EarningsDuration > 0 && now.After(ref.VerifiedAt.Add(s.settings.EarningsDuration)) {
		return nil, nil
	}
	rate := s.settings.EarningsPercentage
	amount := s.fees.ToUSD(baseKES.Mul(rate).Div(decimal.NewFromInt(100)))
	if !amount.IsPositive() {
		return nil, nil
	}
	return s.award(ctx, ref, &models.ReferralEarning{
		EarningType:    models.EarningTypeEarningsPercentage,
		Amount:         amount,
		SourceAmount:   decimal.NullDecimal{Decimal: baseKES, Valid: true},
		PercentageRate: decimal.NullDecimal{Decimal: rate, Valid: true},
		SourceRef:      &sourceRef,
	})
}

// award сохраняет начисление и зачисляет его на доступный баланс пригласившего.
// Уже выданное начисление возвращает nil без ошибки.
func (s *ReferralService) award(ctx context.Context, ref *models.Referral, earning *models.ReferralEarning) (*models.ReferralEarning, error) {
	earning.ReferralID = ref.ID
	earning.ReferrerID = ref.ReferrerID
	earning.Status = models.EarningStatusApproved

	if err := s.repo.CreateEarning(ctx, earning); err != nil {
		if errors.Is(err, repository.ErrDuplicateEarning) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := s.balances.GetForUpdate(ctx, ref.ReferrerID); err != nil {
		return nil, err
	}
	if _, err := s.balances.Apply(ctx, ref.ReferrerID, repository.BalanceDelta{Available: earning.Amount}); err != nil {
		return nil, err
	}
	if err := s.ledger.Append(ctx, &models.Transaction{
		UserID:      userRef(ref.ReferrerID),
		Kind:        models.TransactionKindBonus,
		Leg:         models.LegReferralBonus,
		Amount:      s.fees.ToKES(earning.Amount),
		USDAmount:   usd(earning.Amount),
		Description: referralDescription(earning),
		Reference:   "referral_" + earning.ID.String(),
		Status:      models.TransactionStatusCompleted,
	}); err != nil {
		return nil, err
	}
	if err := s.repo.AddCodeTotals(ctx, ref.CodeID, 0, earning.Amount); err != nil {
		return nil, err
	}
	return earning, nil
}

func referralDescription(e *models.ReferralEarning) string {
	if e.EarningType == models.EarningTypeSignupBonus {
		return "Бонус за приглашённого пользователя"
	}
	return fmt.Sprintf("Реферальный процент %s%% с оплаты %s KES", e.PercentageRate.Decimal.String(), e.SourceAmount.Decimal.StringFixed(2))
}

// ApplyCode привязывает пользователя к пригласившему. Один раз на пользователя, свой код нельзя.
func (s *ReferralService) ApplyCode(ctx context.Context, userID uuid.UUID, code string) (*models.Referral, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "укажите реферальный код")
	}

	rc, err := s.repo.GetCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrReferralCodeNotFound) {
			return nil, apperror.New(apperror.ErrCodeNotFound, "реферальный код не найден")
		}
		return nil, err
	}
	if rc.UserID == userID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя применить собственный код")
	}

	ref := &models.Referral{
		ReferrerID: rc.UserID,
		ReferredID: userID,
		CodeID:     rc.ID,
		Status:     models.ReferralStatusPending,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateReferral(ctx, ref); err != nil {
			if errors.Is(err, repository.ErrReferralExists) {
				return apperror.New(apperror.ErrCodeConflict, "реферальный код уже применён")
			}
			return err
		}
		return s.repo.AddCodeTotals(ctx, rc.ID, 1, decimal.Zero)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"referrer_id": ref.ReferrerID,
		"referred_id": userID,
	}).Info("реферальный код применён")

	return ref, nil
}

// Me возвращает код пользователя, создавая его при первом обращении.
func (s *ReferralService) Me(ctx context.Context, userID uuid.UUID, limit, offset int) (*ReferralOverview, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	code, err := randomCode(ReferralCodeLength)
	if err != nil {
		return nil, err
	}
	rc, err := s.repo.EnsureCode(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	earnings, err := s.repo.ListEarnings(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &ReferralOverview{Code: rc, Earnings: earnings}, nil
}
