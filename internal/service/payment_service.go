package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/domain/valueobject"
	"github.com/neurolancer/backend/internal/gateway"
	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/pkg/apperror"
	"github.com/neurolancer/backend/internal/repository"
)

// Типы оплаты в метаданных платежа.
const (
	PaymentTypeGig    = "gig"
	PaymentTypeJob    = "job"
	PaymentTypeCourse = "course"
)

// PaymentGateway часть шлюза, нужная для приёма платежей.
type PaymentGateway interface {
	InitializeTransaction(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*gateway.Charge, error)
	ParseWebhook(body []byte, signature string) (*gateway.WebhookEvent, error)
}

// CatalogRepository вакансии и курсы, которые можно оплатить.
type CatalogRepository interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
	EnsureEnrollment(ctx context.Context, courseID, studentID uuid.UUID, reference string) (bool, error)
}

// ReferralHook получает сведения о первой успешной оплате клиента.
type ReferralHook interface {
	OnSettlement(ctx context.Context, clientID uuid.UUID, base decimal.Decimal, sourceRef string) error
}

// TransferReconciler сверяет заявки на вывод по событиям transfer.*.
type TransferReconciler interface {
	Reconcile(ctx context.Context, event string, transfer gateway.TransferEvent) error
}

// PaymentTarget объект оплаты: GigOrderTarget, JobTarget или CourseTarget.
type PaymentTarget interface {
	paymentType() string
	targetID() uuid.UUID
}

// GigOrderTarget оплата заказа услуги.
type GigOrderTarget struct {
	OrderID uuid.UUID
}

// JobTarget оплата вакансии выбранному исполнителю; для почасовой нужны часы.
type JobTarget struct {
	JobID        uuid.UUID
	FreelancerID uuid.UUID
	Hours        decimal.NullDecimal
	Rate         decimal.NullDecimal
}

// CourseTarget оплата курса.
type CourseTarget struct {
	CourseID uuid.UUID
}

func (GigOrderTarget) paymentType() string   { return PaymentTypeGig }
func (t GigOrderTarget) targetID() uuid.UUID { return t.OrderID }
func (JobTarget) paymentType() string        { return PaymentTypeJob }
func (t JobTarget) targetID() uuid.UUID      { return t.JobID }
func (CourseTarget) paymentType() string     { return PaymentTypeCourse }
func (t CourseTarget) targetID() uuid.UUID   { return t.CourseID }

// paymentMetadata метаданные, которые шлюз возвращает вместе с платежом.
type paymentMetadata struct {
	PaymentType   string          `json:"payment_type"`
	ClientID      uuid.UUID       `json:"client_id"`
	FreelancerID  uuid.UUID       `json:"freelancer_id"`
	OrderID       *uuid.UUID      `json:"order_id,omitempty"`
	JobID         *uuid.UUID      `json:"job_id,omitempty"`
	CourseID      *uuid.UUID      `json:"course_id,omitempty"`
	Base          decimal.Decimal `json:"base"`
	ClientFee     decimal.Decimal `json:"client_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	Total         decimal.Decimal `json:"total"`
}

// target восстанавливает объект оплаты из метаданных.
func (m *paymentMetadata) target() (PaymentTarget, error) {
	if m.ClientID == uuid.Nil || m.FreelancerID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "в метаданных платежа нет client_id или freelancer_id")
	}
	switch m.PaymentType {
	case PaymentTypeGig:
		if m.OrderID != nil {
			return GigOrderTarget{OrderID: *m.OrderID}, nil
		}
	case PaymentTypeJob:
		if m.JobID != nil {
			return JobTarget{JobID: *m.JobID, FreelancerID: m.FreelancerID}, nil
		}
	case PaymentTypeCourse:
		if m.CourseID != nil {
			return CourseTarget{CourseID: *m.CourseID}, nil
		}
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("неизвестный тип оплаты: %q", m.PaymentType))
	}
	return nil, apperror.New(apperror.ErrCodeValidation, "в метаданных платежа нет идентификатора объекта оплаты")
}

// InitializePaymentResult ссылка на оплату и расчёт суммы.
type InitializePaymentResult struct {
	AuthorizationURL string                      `json:"authorization_url"`
	AccessCode       string                      `json:"access_code"`
	Reference        string                      `json:"reference"`
	Breakdown        valueobject.ChargeBreakdown `json:"breakdown"`
}

// SettlementResult итог проведения платежа.
type SettlementResult struct {
	Reference      string          `json:"reference"`
	Status         string          `json:"status"`
	PaymentType    string          `json:"payment_type,omitempty"`
	AlreadySettled bool            `json:"already_settled"`
	OrderID        *uuid.UUID      `json:"order_id,omitempty"`
	Total          decimal.Decimal `json:"total"`
	EarningsUSD    decimal.Decimal `json:"earnings_usd"`
}

// WebhookResult ответ на событие шлюза.
type WebhookResult struct {
	Event      string            `json:"event"`
	Handled    bool              `json:"handled"`
	Settlement *SettlementResult `json:"settlement,omitempty"`
}

// settlementParty стороны и суммы одной оплаты.
type settlementParty struct {
	payer   uuid.UUID
	payee   uuid.UUID
	orderID *uuid.UUID
	subject string
	related string
	charge  valueobject.ChargeBreakdown
	payout  valueobject.PayoutBreakdown
}

// PaymentService инициализирует платежи и идемпотентно проводит их по reference.
type PaymentService struct {
	tx          TxRunner
	orders      OrderRepository
	catalog     CatalogRepository
	ledger      LedgerRepository
	balances    BalanceRepository
	users       UserReader
	gateway     PaymentGateway
	notifier    Notifier
	referrals   ReferralHook
	transfers   TransferReconciler
	fees        valueobject.FeeSchedule
	callbackURL string
	now         func() time.Time
}

// NewPaymentService создаёт сервис платежей.
func NewPaymentService(
	tx TxRunner,
	orders OrderRepository,
	catalog CatalogRepository,
	ledger LedgerRepository,
	balances BalanceRepository,
	users UserReader,
	gw PaymentGateway,
	notifier Notifier,
	fees valueobject.FeeSchedule,
	callbackURL string,
) *PaymentService {
	return &PaymentService{
		tx:          tx,
		orders:      orders,
		catalog:     catalog,
		ledger:      ledger,
		balances:    balances,
		users:       users,
		gateway:     gw,
		notifier:    notifier,
		fees:        fees,
		callbackURL: callbackURL,
		now:         time.Now,
	}
}

// SetReferralHook подключает реферальную программу.
func (s *PaymentService) SetReferralHook(h ReferralHook) {
	s.referrals = h
}

// SetTransferReconciler подключает сверку выводов по webhook.
func (s *PaymentService) SetTransferReconciler(r TransferReconciler) {
	s.transfers = r
}

// newReference формирует {prefix}_{id}_{yyyymmddHHMMSS}.
func (s *PaymentService) newReference(prefix string, id uuid.UUID) string {
	return fmt.Sprintf("%s_%s_%s", prefix, id, s.now().UTC().Format("20060102150405"))
}

// Initialize считает сумму к оплате, сохраняет reference и создаёт платёж в шлюзе.
func (s *PaymentService) Initialize(ctx context.Context, payerID uuid.UUID, target PaymentTarget) (*InitializePaymentResult, error) {
	payer, err := s.users.GetByID(ctx, payerID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, err
	}

	meta := paymentMetadata{PaymentType: target.paymentType(), ClientID: payerID}
	reference := s.newReference("neurolancer_"+target.paymentType(), target.targetID())

	switch t := target.(type) {
	case GigOrderTarget:
		order, err := s.orders.GetByID(ctx, t.OrderID)
		if err != nil {
			return nil, mapOrderErr(err)
		}
		if order.ClientID != payerID {
			return nil, apperror.New(apperror.ErrCodeForbidden, "оплатить заказ может только его клиент")
		}
		if order.IsPaid {
			return nil, apperror.New(apperror.ErrCodeConflict, "заказ уже оплачен")
		}
		if !valueobject.OrderStatus(order.Status).AwaitsPayment() {
			return nil, apperror.InvalidTransition(order.Status, string(valueobject.OrderStatusInProgress))
		}
		meta.FreelancerID = order.FreelancerID
		meta.OrderID = &order.ID
		meta.Base = order.Price
	case JobTarget:
		job, err := s.catalog.GetJob(ctx, t.JobID)
		if err != nil {
			return nil, mapCatalogErr(err)
		}
		if job.ClientID != payerID {
			return nil, apperror.New(apperror.ErrCodeForbidden, "оплатить вакансию может только её автор")
		}
		if t.FreelancerID == uuid.Nil || t.FreelancerID == payerID {
			return nil, apperror.New(apperror.ErrCodeValidation, "укажите исполнителя вакансии")
		}
		base, err := jobBase(job, t)
		if err != nil {
			return nil, err
		}
		meta.FreelancerID = t.FreelancerID
		meta.JobID = &job.ID
		meta.Base = base
	case CourseTarget:
		course, err := s.catalog.GetCourse(ctx, t.CourseID)
		if err != nil {
			return nil, mapCatalogErr(err)
		}
		if course.InstructorID == payerID {
			return nil, apperror.New(apperror.ErrCodeValidation, "нельзя оплатить собственный курс")
		}
		meta.FreelancerID = course.InstructorID
		meta.CourseID = &course.ID
		meta.Base = course.Price
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный объект оплаты")
	}

	if err := valueobject.ValidateKESAmount(meta.Base); err != nil {
		return nil, err
	}
	charge := s.fees.Charge(meta.Base)
	meta.ClientFee, meta.ProcessingFee, meta.Total = charge.ClientFee, charge.ProcessingFee, charge.Total

	if meta.OrderID != nil {
		if err := s.orders.SetPaymentReference(ctx, *meta.OrderID, reference, charge.Total); err != nil {
			switch {
			case errors.Is(err, repository.ErrOrderAlreadyPaid):
				return nil, apperror.New(apperror.ErrCodeConflict, "заказ уже оплачен")
			case errors.Is(err, repository.ErrReferenceInUse):
				return nil, apperror.New(apperror.ErrCodeConflict, "платёж уже создаётся, повторите через секунду")
			}
			return nil, mapOrderErr(err)
		}
	}

	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать метаданные платежа")
	}

	res, err := s.gateway.InitializeTransaction(ctx, gateway.InitializeRequest{
		Email:       payer.Email,
		Amount:      valueobject.ToMinorUnits(charge.Total),
		Reference:   reference,
		Currency:    string(valueobject.CurrencyKES),
		Channels:    gateway.DefaultChannels,
		Metadata:    rawMeta,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"reference":    reference,
		"payment_type": meta.PaymentType,
		"payer_id":     payerID,
		"total":        charge.Total.String(),
	}).Info("платёж инициализирован")

	return &InitializePaymentResult{
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		Reference:        reference,
		Breakdown:        charge,
	}, nil
}

func jobBase(job *models.Job, t JobTarget) (decimal.Decimal, error) {
	if !job.IsHourly {
		return job.Budget, nil
	}
	if !t.Hours.Valid {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, "для почасовой вакансии укажите количество часов")
	}
	rate := job.HourlyRate
	if t.Rate.Valid {
		rate = t.Rate
	}
	if !rate.Valid {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, "у вакансии не задана почасовая ставка")
	}
	return valueobject.HourlyBase(t.Hours.Decimal, rate.Decimal)
}

// Verify синхронно запрашивает платёж у шлюза и проводит его.
func (s *PaymentService) Verify(ctx context.Context, reference string) (*SettlementResult, error) {
	charge, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, charge)
}

// HandleWebhook обрабатывает событие шлюза. Ошибка (и повтор доставки шлюзом) возвращается
// при неверной подписи, битых метаданных, неизвестном объекте оплаты или выводе и временных
// сбоях; отказ по бизнес-правилам подтверждается.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	event, err := s.gateway.ParseWebhook(body, signature)
	if err != nil {
		return nil, err
	}

	log := logger.Log.WithField("event", event.Event)
	result := &WebhookResult{Event: event.Event}

	switch event.Event {
	case gateway.EventChargeSuccess:
		var data gateway.ChargeEvent
		if err := json.Unmarshal(event.Data, &data); err != nil || data.Reference == "" {
			return nil, apperror.New(apperror.ErrCodeValidation, "в событии charge.success нет reference")
		}
		settlement, err := s.Verify(ctx, data.Reference)
		if err != nil {
			if webhookShouldRetry(err) || apperror.IsValidation(err) {
				return nil, err
			}
			log.WithField("reference", data.Reference).WithError(err).Warn("платёж из webhook не проведён")
			return result, nil
		}
		result.Handled = true
		result.Settlement = settlement

	case gateway.EventTransferSuccess, gateway.EventTransferFailed, gateway.EventTransferReversed:
		var data gateway.TransferEvent
		if err := json.Unmarshal(event.Data, &data); err != nil || data.Reference == "" {
			return nil, apperror.New(apperror.ErrCodeValidation, "в событии перевода нет reference")
		}
		if s.transfers == nil {
			log.Warn("сверка выводов не подключена")
			return result, nil
		}
		if err := s.transfers.Reconcile(ctx, event.Event, data); err != nil {
			if webhookShouldRetry(err) {
				return nil, err
			}
			log.WithField("reference", data.Reference).WithError(err).Warn("событие перевода не применено")
			return result, nil
		}
		result.Handled = true

	default:
		log.Debug("событие шлюза пропущено")
	}

	return result, nil
}

// webhookShouldRetry отличает ошибки, после которых шлюз должен повторить доставку.
// NotFound сюда входит: вывод мог ещё не зафиксироваться локально.
func webhookShouldRetry(err error) bool {
	switch apperror.CodeOf(err) {
	case apperror.ErrCodeGatewayTransient, apperror.ErrCodeInternal, apperror.ErrCodeNotFound:
		return true
	}
	return false
}

// MarkPaidManually проводит заказ без шлюза. Доступно только администратору.
func (s *PaymentService) MarkPaidManually(ctx context.Context, orderID, adminID uuid.UUID) (*SettlementResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err)
	}
	if order.IsPaid {
		return nil, apperror.New(apperror.ErrCodeConflict, "заказ уже оплачен")
	}
	if !valueobject.OrderStatus(order.Status).AwaitsPayment() {
		return nil, apperror.InvalidTransition(order.Status, string(valueobject.OrderStatusInProgress))
	}

	charge := s.fees.Charge(order.Price)
	reference := s.newReference("manual_order", order.ID)
	if err := s.orders.SetPaymentReference(ctx, order.ID, reference, charge.Total); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyPaid) {
			return nil, apperror.New(apperror.ErrCodeConflict, "заказ уже оплачен")
		}
		return nil, mapOrderErr(err)
	}

	meta, err := json.Marshal(paymentMetadata{
		PaymentType:   PaymentTypeGig,
		ClientID:      order.ClientID,
		FreelancerID:  order.FreelancerID,
		OrderID:       &order.ID,
		Base:          charge.Base,
		ClientFee:     charge.ClientFee,
		ProcessingFee: charge.ProcessingFee,
		Total:         charge.Total,
	})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать метаданные платежа")
	}

	logger.Log.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"admin_id":  adminID,
		"reference": reference,
	}).Warn("заказ отмечен оплаченным вручную")

	return s.settle(ctx, &gateway.Charge{
		Reference: reference,
		Status:    gateway.ChargeStatusSuccess,
		Amount:    valueobject.ToMinorUnits(charge.Total),
		Currency:  string(valueobject.CurrencyKES),
		Metadata:  meta,
	})
}

// settle проводит подтверждённый платёж ровно один раз для reference.
func (s *PaymentService) settle(ctx context.Context, charge *gateway.Charge) (*SettlementResult, error) {
	log := logger.Log.WithField("reference", charge.Reference)

	if !charge.Succeeded() {
		return nil, apperror.New(apperror.ErrCodeGatewayRejected, fmt.Sprintf("шлюз сообщает статус платежа %q", charge.Status))
	}

	var meta paymentMetadata
	if len(charge.Metadata) == 0 || json.Unmarshal(charge.Metadata, &meta) != nil {
		log.Warn("у платежа нет читаемых метаданных")
		return nil, apperror.New(apperror.ErrCodeValidation, "у платежа нет метаданных")
	}
	target, err := meta.target()
	if err != nil {
		log.WithError(err).Warn("метаданные платежа неполные")
		return nil, err
	}

	result := &SettlementResult{Reference: charge.Reference, Status: gateway.ChargeStatusSuccess, PaymentType: meta.PaymentType}
	var party *settlementParty

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ledger.LockReference(ctx, charge.Reference); err != nil {
			return err
		}
		done, err := s.ledger.HasCompletedSettlement(ctx, charge.Reference)
		if err != nil {
			return err
		}
		if done {
			result.AlreadySettled = true
			return nil
		}

		switch t := target.(type) {
		case GigOrderTarget:
			party, err = s.settleOrder(ctx, charge, t)
		case JobTarget:
			party, err = s.settleJob(ctx, charge, &meta, t)
		case CourseTarget:
			party, err = s.settleCourse(ctx, charge, &meta, t)
		default:
			err = apperror.New(apperror.ErrCodeValidation, "неизвестный объект оплаты")
		}
		if err != nil {
			return err
		}

		if err := requireAmount(charge, party.charge.Total); err != nil {
			return err
		}
		if _, err := s.balances.Apply(ctx, party.payee, repository.BalanceDelta{Escrow: party.payout.EarningsUSD}); err != nil {
			return err
		}
		return s.appendSettlementRows(ctx, charge.Reference, party)
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadySettled {
		log.Info("платёж уже проведён, повтор пропущен")
		return result, nil
	}

	result.OrderID = party.orderID
	result.Total = party.charge.Total
	result.EarningsUSD = party.payout.EarningsUSD

	log.WithFields(logrus.Fields{
		"payment_type": meta.PaymentType,
		"payer_id":     party.payer,
		"payee_id":     party.payee,
		"escrow_usd":   party.payout.EarningsUSD.String(),
	}).Info("платёж проведён")

	notifyAll(ctx, s.notifier, settlementNotices(party.payer, party.payee, party.subject, party.charge.Total, party.payout.EarningsUSD, party.related))

	if s.referrals != nil {
		if err := s.referrals.OnSettlement(ctx, party.payer, party.charge.Base, charge.Reference); err != nil {
			log.WithError(err).Warn("реферальное начисление не выполнено")
		}
	}

	return result, nil
}

func requireAmount(charge *gateway.Charge, total decimal.Decimal) error {
	if charge.Amount != valueobject.ToMinorUnits(total) {
		return apperror.New(apperror.ErrCodeGatewayRejected,
			fmt.Sprintf("сумма платежа %s KES не совпадает с ожидаемой %s KES", valueobject.FromMinorUnits(charge.Amount), total.StringFixed(2)))
	}
	return nil
}

// settleOrder находит заказ по order_id из метаданных. Оплаченный reference закрепляется
// за заказом, даже если клиент позже открывал новую ссылку на оплату.
func (s *PaymentService) settleOrder(ctx context.Context, charge *gateway.Charge, t GigOrderTarget) (*settlementParty, error) {
	order, err := s.orders.GetByIDForUpdate(ctx, t.OrderID)
	if err != nil {
		return nil, mapOrderErr(err)
	}
	if order.IsPaid {
		logger.Log.WithFields(logrus.Fields{
			"order_id":  order.ID,
			"reference": charge.Reference,
		}).Error("заказ оплачен повторно, нужен возврат второго платежа")
		return nil, apperror.New(apperror.ErrCodeConflict, "заказ уже оплачен другим платежом")
	}

	charged := s.fees.Charge(order.Price)
	if err := requireAmount(charge, charged.Total); err != nil {
		return nil, err
	}

	current := valueobject.OrderStatus(order.Status)
	if current.CanTransitionTo(valueobject.OrderStatusInProgress, valueobject.ActorSystem) {
		order.Status = string(valueobject.OrderStatusInProgress)
	}
	order.IsPaid = true
	order.PaymentStatus = models.PaymentStatusPaid
	order.PaymentReference = &charge.Reference
	order.TotalAmount = charged.Total
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	return &settlementParty{
		payer:   order.ClientID,
		payee:   order.FreelancerID,
		orderID: &order.ID,
		subject: "заказ " + orderTitle(order),
		related: order.ID.String(),
		charge:  charged,
		payout:  s.fees.Payout(order.Price),
	}, nil
}

func (s *PaymentService) settleJob(ctx context.Context, charge *gateway.Charge, meta *paymentMetadata, t JobTarget) (*settlementParty, error) {
	job, err := s.catalog.GetJob(ctx, t.JobID)
	if err != nil {
		return nil, mapCatalogErr(err)
	}
	if job.ClientID != meta.ClientID {
		return nil, apperror.New(apperror.ErrCodeValidation, "плательщик не автор вакансии")
	}

	return &settlementParty{
		payer:   meta.ClientID,
		payee:   t.FreelancerID,
		subject: "вакансию «" + job.Title + "»",
		related: charge.Reference,
		charge:  s.fees.Charge(meta.Base),
		payout:  s.fees.Payout(meta.Base),
	}, nil
}

func (s *PaymentService) settleCourse(ctx context.Context, charge *gateway.Charge, meta *paymentMetadata, t CourseTarget) (*settlementParty, error) {
	course, err := s.catalog.GetCourse(ctx, t.CourseID)
	if err != nil {
		return nil, mapCatalogErr(err)
	}
	if _, err := s.catalog.EnsureEnrollment(ctx, course.ID, meta.ClientID, charge.Reference); err != nil {
		return nil, err
	}

	return &settlementParty{
		payer:   meta.ClientID,
		payee:   course.InstructorID,
		subject: "курс «" + course.Title + "»",
		related: course.ID.String(),
		charge:  s.fees.Charge(course.Price),
		payout:  s.fees.Payout(course.Price),
	}, nil
}

// appendSettlementRows пишет проводки клиента, исполнителя, комиссии и сводную строку {ref}_fees.
func (s *PaymentService) appendSettlementRows(ctx context.Context, reference string, p *settlementParty) error {
	fees := s.fees.PlatformFees(p.charge, p.payout)
	breakdown := fmt.Sprintf("Комиссии: клиент %s, обработка %s, исполнитель %s",
		p.charge.ClientFee.StringFixed(2), p.charge.ProcessingFee.StringFixed(2), p.payout.FreelancerFee.StringFixed(2))
	rows := []*models.Transaction{
		{
			UserID:      userRef(p.payer),
			Kind:        models.TransactionKindPayment,
			Leg:         models.LegClientDebit,
			Amount:      p.charge.Total.Neg(),
			Description: "Оплата: " + p.subject,
			Reference:   reference,
			Status:      models.TransactionStatusCompleted,
			OrderID:     p.orderID,
		},
		{
			UserID:      userRef(p.payee),
			Kind:        models.TransactionKindPayment,
			Leg:         models.LegFreelancerCredit,
			Amount:      p.payout.EarningsKES,
			USDAmount:   usd(p.payout.EarningsUSD),
			Description: "Средства в эскроу: " + p.subject,
			Reference:   reference,
			Status:      models.TransactionStatusCompleted,
			OrderID:     p.orderID,
		},
		{
			Kind:        models.TransactionKindFee,
			Leg:         models.LegPlatformFee,
			Amount:      fees,
			Description: "Комиссия платформы: " + p.subject,
			Reference:   reference,
			Status:      models.TransactionStatusCompleted,
			OrderID:     p.orderID,
		},
		{
			Kind:        models.TransactionKindFee,
			Leg:         models.LegFees,
			Amount:      fees,
			Description: breakdown,
			Reference:   reference + "_fees",
			Status:      models.TransactionStatusCompleted,
			OrderID:     p.orderID,
		},
	}
	for _, row := range rows {
		if err := s.ledger.Append(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// Balance возвращает балансы пользователя.
func (s *PaymentService) Balance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	return s.balances.Get(ctx, userID)
}

// Transactions возвращает журнал пользователя.
func (s *PaymentService) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.ListByUser(ctx, userID, limit, offset)
}

func mapCatalogErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrJobNotFound):
		return apperror.New(apperror.ErrCodeNotFound, "вакансия не найдена")
	case errors.Is(err, repository.ErrCourseNotFound):
		return apperror.New(apperror.ErrCodeNotFound, "курс не найден")
	case errors.Is(err, repository.ErrProjectNotFound):
		return apperror.New(apperror.ErrCodeNotFound, "проект не найден")
	}
	return err
}
