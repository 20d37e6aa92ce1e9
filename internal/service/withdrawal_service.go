package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/domain/valueobject"
	"github.com/neurolancer/backend/internal/gateway"
	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/pkg/apperror"
	"github.com/neurolancer/backend/internal/repository"
	"github.com/neurolancer/backend/internal/validation"
)

// WithdrawalGateway часть шлюза, нужная для выплат.
type WithdrawalGateway interface {
	ListBanks(ctx context.Context) ([]gateway.Bank, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*gateway.ResolvedAccount, error)
	CreateRecipient(ctx context.Context, req gateway.RecipientRequest) (*gateway.Recipient, error)
	InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.Transfer, error)
}

// WithdrawalRepository хранилище заявок на вывод.
type WithdrawalRepository interface {
	Create(ctx context.Context, w *models.Withdrawal) error
	GetByReferenceForUpdate(ctx context.Context, reference string) (*models.Withdrawal, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, failureReason *string) error
	MarkProcessing(ctx context.Context, id uuid.UUID, transferCode string) (bool, error)
}

// WithdrawalInput параметры заявки на вывод.
type WithdrawalInput struct {
	AmountKES     decimal.Decimal
	Method        string
	AccountNumber string
	BankCode      string
}

// WithdrawalService выводит доступный баланс через переводы шлюза.
type WithdrawalService struct {
	tx          TxRunner
	withdrawals WithdrawalRepository
	ledger      LedgerRepository
	balances    BalanceRepository
	gateway     WithdrawalGateway
	cache       *CacheService
	notifier    Notifier
	fees        valueobject.FeeSchedule
}

// NewWithdrawalService создаёт сервис выводов.
func NewWithdrawalService(
	tx TxRunner,
	withdrawals WithdrawalRepository,
	ledger LedgerRepository,
	balances BalanceRepository,
	gw WithdrawalGateway,
	cache *CacheService,
	notifier Notifier,
	fees valueobject.FeeSchedule,
) *WithdrawalService {
	return &WithdrawalService{
		tx:          tx,
		withdrawals: withdrawals,
		ledger:      ledger,
		balances:    balances,
		gateway:     gw,
		cache:       cache,
		notifier:    notifier,
		fees:        fees,
	}
}

// ListBanks возвращает справочник банков, кэшированный на сутки.
func (s *WithdrawalService) ListBanks(ctx context.Context) ([]gateway.Bank, error) {
	if s.cache == nil {
		return s.gateway.ListBanks(ctx)
	}
	value, err := s.cache.GetOrSet(ctx, BanksCacheKey("kenya"), BanksCacheTTL, func(ctx context.Context) (interface{}, error) {
		return s.gateway.ListBanks(ctx)
	})
	if err != nil {
		return nil, err
	}
	return value.([]gateway.Bank), nil
}

// ResolveAccount возвращает имя владельца счёта.
func (s *WithdrawalService) ResolveAccount(ctx context.Context, method, accountNumber, bankCode string) (*gateway.ResolvedAccount, error) {
	acc, err := validation.NormalizePayoutAccount(validation.PayoutAccount{Method: method, AccountNumber: accountNumber, BankCode: bankCode})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	return s.gateway.ResolveAccount(ctx, acc.AccountNumber, acc.BankCode)
}

// Create проверяет баланс и реквизиты, фиксирует списание с заявкой и только потом запускает
// перевод: webhook шлюза всегда находит заявку. Отказ шлюза возвращает средства; при
// неизвестном исходе (таймаут) заявка остаётся в processing до webhook.
func (s *WithdrawalService) Create(ctx context.Context, userID uuid.UUID, in WithdrawalInput) (*models.Withdrawal, error) {
	if err := valueobject.ValidateKESAmount(in.AmountKES); err != nil {
		return nil, err
	}
	acc, err := validation.NormalizePayoutAccount(validation.PayoutAccount{
		Method:        in.Method,
		AccountNumber: in.AccountNumber,
		BankCode:      in.BankCode,
	})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	amountUSD := s.fees.ToUSD(in.AmountKES)
	if !amountUSD.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма вывода слишком мала")
	}

	balance, err := s.balances.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.AvailableBalance.LessThan(amountUSD) {
		return nil, apperror.ErrInsufficientFunds
	}

	resolved, err := s.gateway.ResolveAccount(ctx, acc.AccountNumber, acc.BankCode)
	if err != nil {
		return nil, err
	}

	recipientType := gateway.RecipientNUBAN
	if acc.Method == models.WithdrawalMethodMpesa {
		recipientType = gateway.RecipientMobileMoney
	}
	recipient, err := s.gateway.CreateRecipient(ctx, gateway.RecipientRequest{
		Type:          recipientType,
		Name:          resolved.AccountName,
		AccountNumber: acc.AccountNumber,
		BankCode:      acc.BankCode,
		Currency:      string(valueobject.CurrencyKES),
	})
	if err != nil {
		return nil, err
	}

	withdrawal := &models.Withdrawal{
		ID:            uuid.New(),
		UserID:        userID,
		AmountKES:     in.AmountKES,
		AmountUSD:     amountUSD,
		Method:        acc.Method,
		AccountNumber: acc.AccountNumber,
		AccountName:   resolved.AccountName,
		BankCode:      acc.BankCode,
		RecipientCode: recipient.RecipientCode,
		Status:        models.WithdrawalStatusPending,
	}
	withdrawal.Reference = "withdrawal_" + withdrawal.ID.String()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.balances.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if locked.AvailableBalance.LessThan(amountUSD) {
			return apperror.ErrInsufficientFunds
		}
		if _, err := s.balances.Apply(ctx, userID, repository.BalanceDelta{Available: amountUSD.Neg()}); err != nil {
			if errors.Is(err, repository.ErrInsufficientFunds) {
				return apperror.ErrInsufficientFunds
			}
			return err
		}
		if err := s.withdrawals.Create(ctx, withdrawal); err != nil {
			return err
		}
		return s.ledger.Append(ctx, &models.Transaction{
			UserID:      userRef(userID),
			Kind:        models.TransactionKindWithdrawal,
			Leg:         models.LegWithdrawal,
			Amount:      in.AmountKES.Neg(),
			USDAmount:   usd(amountUSD.Neg()),
			Description: fmt.Sprintf("Вывод на %s %s", acc.Method, maskAccount(acc.AccountNumber)),
			Reference:   withdrawal.Reference,
			Status:      models.TransactionStatusPending,
		})
	})
	if err != nil {
		return nil, err
	}

	log := logger.Log.WithFields(logrus.Fields{
		"user_id":    userID,
		"reference":  withdrawal.Reference,
		"amount_kes": in.AmountKES.String(),
		"amount_usd": amountUSD.String(),
	})

	transferCode := ""
	transfer, err := s.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
		Source:    "balance",
		Amount:    valueobject.ToMinorUnits(in.AmountKES),
		Recipient: recipient.RecipientCode,
		Reason:    "Neurolancer: вывод средств",
		Currency:  string(valueobject.CurrencyKES),
		Reference: withdrawal.Reference,
	})
	switch {
	case err == nil:
		transferCode = transfer.TransferCode
		if transfer.Reference != "" && transfer.Reference != withdrawal.Reference {
			log.WithField("gateway_reference", transfer.Reference).Warn("шлюз вернул другой reference перевода")
		}
	case apperror.IsGatewayTransient(err):
		log.WithError(err).Warn("исход запуска перевода неизвестен, ждём webhook")
	default:
		log.WithError(err).Warn("перевод отклонён, средства возвращены")
		if _, _, ferr := s.applyOutcome(ctx, withdrawal.Reference, models.WithdrawalStatusFailed, err.Error()); ferr != nil {
			log.WithError(ferr).Error("не удалось вернуть средства после отказа шлюза")
			return nil, ferr
		}
		return nil, err
	}

	if _, err := s.withdrawals.MarkProcessing(ctx, withdrawal.ID, transferCode); err != nil {
		return nil, err
	}
	stored, err := s.withdrawals.GetByID(ctx, withdrawal.ID)
	if err != nil {
		return nil, err
	}

	// webhook мог завершить заявку раньше, чем вернулся ответ шлюза
	if stored.Status == models.WithdrawalStatusProcessing {
		log.Info("вывод средств запущен")
		notifyAll(ctx, s.notifier, []NotificationInput{withdrawalNotice(stored, models.WithdrawalStatusProcessing)})
	}
	return stored, nil
}

// Reconcile применяет событие transfer.* к заявке. Повтор события ничего не меняет;
// неизвестный reference возвращает NotFound, чтобы шлюз повторил доставку.
func (s *WithdrawalService) Reconcile(ctx context.Context, event string, transfer gateway.TransferEvent) error {
	var target string
	switch event {
	case gateway.EventTransferSuccess:
		target = models.WithdrawalStatusCompleted
	case gateway.EventTransferFailed, gateway.EventTransferReversed:
		target = models.WithdrawalStatusFailed
	default:
		return apperror.New(apperror.ErrCodeValidation, "неизвестное событие перевода: "+event)
	}

	reason := transfer.Reason
	if reason == "" {
		reason = event
	}
	_, applied, err := s.applyOutcome(ctx, transfer.Reference, target, reason)
	if err != nil {
		return err
	}
	if !applied {
		logger.Log.WithFields(logrus.Fields{"reference": transfer.Reference, "event": event}).Info("событие перевода уже учтено")
	}
	return nil
}

// applyOutcome переводит незавершённую заявку в completed или failed; failed возвращает
// USD на доступный баланс. Завершённые заявки не меняются.
func (s *WithdrawalService) applyOutcome(ctx context.Context, reference, target, reason string) (*models.Withdrawal, bool, error) {
	var w *models.Withdrawal
	applied := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		w, err = s.withdrawals.GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			if errors.Is(err, repository.ErrWithdrawalNotFound) {
				return apperror.ErrWithdrawalNotFound
			}
			return err
		}
		if w.Status != models.WithdrawalStatusPending && w.Status != models.WithdrawalStatusProcessing {
			return nil
		}

		var failure *string
		if target == models.WithdrawalStatusFailed {
			failure = &reason
			if _, err := s.balances.GetForUpdate(ctx, w.UserID); err != nil {
				return err
			}
			if _, err := s.balances.Apply(ctx, w.UserID, repository.BalanceDelta{Available: w.AmountUSD}); err != nil {
				return err
			}
		}

		if err := s.withdrawals.UpdateStatus(ctx, w.ID, target, failure); err != nil {
			return err
		}
		if err := s.ledger.TransitionStatus(ctx, w.Reference, models.LegWithdrawal, models.TransactionStatusPending, target); err != nil {
			return err
		}
		w.Status = target
		w.FailureReason = failure
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if applied {
		logger.Log.WithFields(logrus.Fields{"reference": reference, "status": target}).Info("вывод средств сверен")
		notifyAll(ctx, s.notifier, []NotificationInput{withdrawalNotice(w, target)})
	}
	return w, applied, nil
}

// Get возвращает заявку владельцу.
func (s *WithdrawalService) Get(ctx context.Context, id, userID uuid.UUID) (*models.Withdrawal, error) {
	w, err := s.withdrawals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrWithdrawalNotFound) {
			return nil, apperror.ErrWithdrawalNotFound
		}
		return nil, err
	}
	if w.UserID != userID {
		return nil, apperror.ErrWithdrawalNotFound
	}
	return w, nil
}

// List возвращает заявки пользователя.
func (s *WithdrawalService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.withdrawals.ListByUser(ctx, userID, limit, offset)
}

func maskAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	return "•••" + account[len(account)-4:]
}
