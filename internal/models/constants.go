package models

// Типы записей журнала транзакций.
const (
	TransactionKindPayment    = "payment"
	TransactionKindWithdrawal = "withdrawal"
	TransactionKindRefund     = "refund"
	TransactionKindFee        = "fee"
	TransactionKindBonus      = "bonus"
)

// Статусы транзакций.
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
)

// Ноги проводок: пара (reference, leg) уникальна.
const (
	LegClientDebit      = "client_debit"
	LegFreelancerCredit = "freelancer_credit"
	LegPlatformFee      = "platform_fee"
	LegFees             = "fees"
	LegEscrowRelease    = "escrow_release"
	LegWithdrawal       = "withdrawal"
	LegRefund           = "refund"
	LegReferralBonus    = "referral_bonus"
)

// Статусы оплаты заказа.
const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// Статусы и способы вывода средств.
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"

	WithdrawalMethodBank  = "bank"
	WithdrawalMethodMpesa = "mpesa"
)

// Типы бесед.
const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"

	GroupTypePublic  = "public"
	GroupTypePrivate = "private"
	GroupTypeProject = "project"
)

// Категории уведомлений.
const (
	NotificationKindOrder        = "order"
	NotificationKindMessage      = "message"
	NotificationKindJob          = "job"
	NotificationKindProposal     = "proposal"
	NotificationKindPayment      = "payment"
	NotificationKindSystem       = "system"
	NotificationKindReview       = "review"
	NotificationKindHelp         = "help"
	NotificationKindGroupInvite  = "group_invite"
	NotificationKindVerification = "verification"
)

// ValidNotificationKinds список допустимых категорий.
var ValidNotificationKinds = map[string]struct{}{
	NotificationKindOrder:        {},
	NotificationKindMessage:      {},
	NotificationKindJob:          {},
	NotificationKindProposal:     {},
	NotificationKindPayment:      {},
	NotificationKindSystem:       {},
	NotificationKindReview:       {},
	NotificationKindHelp:         {},
	NotificationKindGroupInvite:  {},
	NotificationKindVerification: {},
}

// Способы доставки и частота уведомлений.
const (
	DeliveryInApp = "in_app"
	DeliveryEmail = "email"

	FrequencyInstant  = "instant"
	FrequencyDaily    = "daily"
	FrequencyWeekly   = "weekly"
	FrequencyDisabled = "disabled"
)

// ValidFrequencies список допустимых частот.
var ValidFrequencies = map[string]struct{}{
	FrequencyInstant:  {},
	FrequencyDaily:    {},
	FrequencyWeekly:   {},
	FrequencyDisabled: {},
}

// Статусы рефералов и начислений.
const (
	ReferralStatusPending   = "pending"
	ReferralStatusVerified  = "verified"
	ReferralStatusCompleted = "completed"
	ReferralStatusCancelled = "cancelled"

	EarningTypeSignupBonus        = "signup_bonus"
	EarningTypeEarningsPercentage = "earnings_percentage"
	EarningTypeBonus              = "bonus"

	EarningStatusApproved = "approved"
)

// Роли пользователей.
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)
