package service

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neurolancer/backend/internal/domain/valueobject"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/queue"
)

func orderURL(orderID uuid.UUID) string {
	return "/orders/" + orderID.String()
}

func orderTitle(order *models.Order) string {
	if order.Title != "" {
		return "«" + order.Title + "»"
	}
	return "#" + order.ID.String()[:8]
}

func orderNotice(userID uuid.UUID, order *models.Order, title, message string) NotificationInput {
	return NotificationInput{
		UserID:          userID,
		Title:           title,
		Message:         message,
		Kind:            models.NotificationKindOrder,
		ActionURL:       orderURL(order.ID),
		RelatedObjectID: order.ID.String(),
	}
}

// orderTransitionNotices уведомления, сопровождающие смену статуса заказа.
func orderTransitionNotices(order *models.Order, to valueobject.OrderStatus, releasedUSD decimal.Decimal, released bool) []NotificationInput {
	name := orderTitle(order)

	switch to {
	case valueobject.OrderStatusAccepted:
		return []NotificationInput{orderNotice(order.ClientID, order, "Заказ принят",
			fmt.Sprintf("Исполнитель принял заказ %s.", name))}
	case valueobject.OrderStatusInProgress:
		return []NotificationInput{orderNotice(order.ClientID, order, "Работа над заказом началась",
			fmt.Sprintf("Исполнитель приступил к заказу %s.", name))}
	case valueobject.OrderStatusDelivered:
		return []NotificationInput{orderNotice(order.ClientID, order, "Работа сдана",
			fmt.Sprintf("Исполнитель сдал работу по заказу %s. Проверьте результат.", name))}
	case valueobject.OrderStatusRevisionRequested:
		return []NotificationInput{orderNotice(order.FreelancerID, order, "Запрошена доработка",
			fmt.Sprintf("Клиент запросил доработку по заказу %s.", name))}
	case valueobject.OrderStatusCompleted:
		notices := []NotificationInput{orderNotice(order.ClientID, order, "Заказ завершён",
			fmt.Sprintf("Заказ %s завершён. Спасибо, что пользуетесь Neurolancer.", name))}
		if released {
			notices = append(notices, NotificationInput{
				UserID:          order.FreelancerID,
				Title:           "Оплата зачислена",
				Message:         fmt.Sprintf("За заказ %s на доступный баланс зачислено $%s.", name, releasedUSD.StringFixed(2)),
				Kind:            models.NotificationKindPayment,
				ActionURL:       "/wallet",
				RelatedObjectID: order.ID.String(),
			})
		}
		return notices
	case valueobject.OrderStatusCancelled:
		return []NotificationInput{
			orderNotice(order.ClientID, order, "Заказ отменён", fmt.Sprintf("Заказ %s отменён.", name)),
			orderNotice(order.FreelancerID, order, "Заказ отменён", fmt.Sprintf("Заказ %s отменён.", name)),
		}
	}
	return nil
}

// settlementNotices уведомления после подтверждённой оплаты.
func settlementNotices(payerID, payeeID uuid.UUID, subject string, total, earningsUSD decimal.Decimal, relatedID string) []NotificationInput {
	return []NotificationInput{
		{
			UserID:          payerID,
			Title:           "Оплата прошла",
			Message:         fmt.Sprintf("Платёж %s KES за %s подтверждён.", total.StringFixed(2), subject),
			Kind:            models.NotificationKindPayment,
			ActionURL:       "/payments",
			RelatedObjectID: relatedID,
		},
		{
			UserID:          payeeID,
			Title:           "Средства зарезервированы",
			Message:         fmt.Sprintf("Клиент оплатил %s. $%s ожидают завершения работы.", subject, earningsUSD.StringFixed(2)),
			Kind:            models.NotificationKindPayment,
			ActionURL:       "/wallet",
			RelatedObjectID: relatedID,
		},
	}
}

func withdrawalNotice(w *models.Withdrawal, status string) NotificationInput {
	in := NotificationInput{
		UserID:          w.UserID,
		Kind:            models.NotificationKindPayment,
		ActionURL:       "/wallet/withdrawals",
		RelatedObjectID: w.ID.String(),
	}
	switch status {
	case models.WithdrawalStatusCompleted:
		in.Title = "Вывод средств выполнен"
		in.Message = fmt.Sprintf("Перевод %s KES отправлен.", w.AmountKES.StringFixed(2))
	case models.WithdrawalStatusFailed:
		in.Title = "Вывод средств не выполнен"
		in.Message = fmt.Sprintf("Перевод %s KES не прошёл, $%s возвращены на баланс.", w.AmountKES.StringFixed(2), w.AmountUSD.StringFixed(2))
	default:
		in.Title = "Вывод средств запущен"
		in.Message = fmt.Sprintf("Перевод %s KES обрабатывается.", w.AmountKES.StringFixed(2))
	}
	return in
}

func referralEarningNotice(e *models.ReferralEarning) NotificationInput {
	title := "Реферальное вознаграждение"
	if e.EarningType == models.EarningTypeSignupBonus {
		title = "Бонус за приглашение"
	}
	return NotificationInput{
		UserID:          e.ReferrerID,
		Title:           title,
		Message:         fmt.Sprintf("На доступный баланс зачислено $%s.", e.Amount.StringFixed(2)),
		Kind:            models.NotificationKindPayment,
		ActionURL:       "/referrals",
		RelatedObjectID: e.ID.String(),
	}
}

func newMessageNotice(recipientID uuid.UUID, msg *models.Message) NotificationInput {
	preview := msg.Content
	if r := []rune(preview); len(r) > 80 {
		preview = string(r[:80]) + "…"
	}
	if preview == "" && msg.AttachmentName != nil {
		preview = "Вложение: " + *msg.AttachmentName
	}
	return NotificationInput{
		UserID:          recipientID,
		Title:           "Новое сообщение",
		Message:         preview,
		Kind:            models.NotificationKindMessage,
		ActionURL:       "/messages/" + msg.ConversationID.String(),
		RelatedObjectID: msg.ConversationID.String(),
	}
}

func digestSubject(frequency string, n int) string {
	period := "день"
	if frequency == models.FrequencyWeekly {
		period = "неделю"
	}
	return fmt.Sprintf("Neurolancer: %d уведомлений за %s", n, period)
}

func digestBody(items []queue.DigestEntry) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("• ")
		b.WriteString(item.Title)
		if item.Message != "" {
			b.WriteString(": ")
			b.WriteString(item.Message)
		}
		b.WriteString("\n")
	}
	return b.String()
}
