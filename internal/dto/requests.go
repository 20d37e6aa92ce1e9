package dto

import (
	"github.com/shopspring/decimal"
)

// InitializePaymentRequest запрос ссылки на оплату.
type InitializePaymentRequest struct {
	TargetType   string              `json:"target_type" binding:"required,oneof=order job course"`
	TargetID     string              `json:"target_id" binding:"required,uuid"`
	FreelancerID string              `json:"freelancer_id" binding:"omitempty,uuid"`
	Hours        decimal.NullDecimal `json:"hours"`
	Rate         decimal.NullDecimal `json:"rate"`
}

// UpdateOrderStatusRequest смена статуса заказа.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// CreateWithdrawalRequest заявка на вывод в KES.
type CreateWithdrawalRequest struct {
	Amount        decimal.Decimal `json:"amount" binding:"required,kes_amount"`
	Method        string          `json:"method" binding:"required,withdraw_method"`
	AccountNumber string          `json:"account_number" binding:"required"`
	BankCode      string          `json:"bank_code"`
}

// CreateGroupRequest создание групповой беседы.
type CreateGroupRequest struct {
	Name           string `json:"name" binding:"required"`
	GroupType      string `json:"group_type" binding:"required,oneof=public private project"`
	Password       string `json:"password"`
	MaxMembers     int    `json:"max_members" binding:"gte=0"`
	IsDiscoverable bool   `json:"is_discoverable"`
	ProjectID      string `json:"project_id" binding:"omitempty,uuid"`
}

// JoinConversationRequest вступление в группу.
type JoinConversationRequest struct {
	Password string `json:"password"`
}

// SendMessageRequest сообщение с необязательным вложением, загруженным заранее.
type SendMessageRequest struct {
	Content        string `json:"content"`
	AttachmentURL  string `json:"attachment_url"`
	AttachmentName string `json:"attachment_name"`
	AttachmentType string `json:"attachment_type"`
	AttachmentSize int64  `json:"attachment_size"`
}

// HasAttachment сообщает, пришло ли вложение.
func (r *SendMessageRequest) HasAttachment() bool {
	return r.AttachmentURL != ""
}

// ApplyReferralRequest привязка к рефереру по коду.
type ApplyReferralRequest struct {
	Code string `json:"code" binding:"required"`
}

// UpdatePreferenceRequest настройка доставки уведомлений.
type UpdatePreferenceRequest struct {
	Category       string `json:"category" binding:"required"`
	DeliveryMethod string `json:"delivery_method" binding:"required,oneof=in_app email"`
	IsEnabled      *bool  `json:"is_enabled" binding:"required"`
	Frequency      string `json:"frequency" binding:"required"`
}
