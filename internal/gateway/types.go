package gateway

import (
	"encoding/json"
	"time"
)

// События webhook, которые обрабатывает платформа.
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// Типы получателей перевода.
const (
	RecipientNUBAN       = "nuban"
	RecipientMobileMoney = "mobile_money"
)

// ChargeStatusSuccess статус успешного платежа.
const ChargeStatusSuccess = "success"

// DefaultChannels каналы оплаты, предлагаемые плательщику.
var DefaultChannels = []string{"card", "mobile_money", "bank"}

// InitializeRequest параметры создания платежа. Amount в центах KES.
type InitializeRequest struct {
	Email       string          `json:"email"`
	Amount      int64           `json:"amount"`
	Reference   string          `json:"reference"`
	Currency    string          `json:"currency"`
	Channels    []string        `json:"channels"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
}

// InitializeResult ссылка на страницу оплаты.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Charge каноническая запись платежа на стороне шлюза.
type Charge struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Metadata  json.RawMessage `json:"metadata"`
	PaidAt    *time.Time      `json:"paid_at"`
}

// Succeeded сообщает, что шлюз подтвердил оплату.
func (c *Charge) Succeeded() bool {
	return c.Status == ChargeStatusSuccess
}

// Bank банк или оператор мобильных денег.
type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Type string `json:"type"`
}

// ResolvedAccount владелец счёта по данным шлюза.
type ResolvedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// RecipientRequest параметры получателя перевода.
type RecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

// Recipient созданный получатель.
type Recipient struct {
	RecipientCode string `json:"recipient_code"`
}

// TransferRequest перевод с баланса платформы. Amount в центах KES.
type TransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
	Currency  string `json:"currency"`
	Reference string `json:"reference,omitempty"`
}

// Transfer результат запуска перевода.
type Transfer struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// WebhookEvent конверт webhook; Data разбирается по типу события.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// TransferEvent данные событий transfer.*.
type TransferEvent struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
}

// ChargeEvent данные события charge.success.
type ChargeEvent struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}
