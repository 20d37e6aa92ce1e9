package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/pkg/apperror"
	"github.com/neurolancer/backend/internal/queue"
	"github.com/neurolancer/backend/internal/repository"
)

// NotificationRepository описывает взаимодействие сервиса с хранилищем уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ExistsUnread(ctx context.Context, userID uuid.UUID, relatedObjectID, kind, title string) (bool, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkReadByRelated(ctx context.Context, userID uuid.UUID, kind, relatedObjectID string) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	GetPreference(ctx context.Context, userID uuid.UUID, category, method string) (*models.NotificationPreference, error)
	ListPreferences(ctx context.Context, userID uuid.UUID) ([]models.NotificationPreference, error)
	UpsertPreference(ctx context.Context, pref *models.NotificationPreference) error
}

// EmailSink очередь писем и сводок.
type EmailSink interface {
	Enqueue(ctx context.Context, email queue.Email) error
	AddToDigest(ctx context.Context, frequency string, entry queue.DigestEntry) error
	DrainDigest(ctx context.Context, frequency string) ([]queue.DigestEntry, error)
}

// UserReader возвращает пользователя по идентификатору.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// RealtimePublisher доставляет события в WebSocket-группы.
type RealtimePublisher interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, eventType string, payload any)
	PublishToConversation(ctx context.Context, conversationID uuid.UUID, eventType string, payload any)
}

// Notifier единая точка создания уведомлений для остальных сервисов.
type Notifier interface {
	Notify(ctx context.Context, in NotificationInput) (*models.Notification, error)
}

// NotificationInput параметры уведомления.
type NotificationInput struct {
	UserID          uuid.UUID
	Title           string
	Message         string
	Kind            string
	ActionURL       string
	RelatedObjectID string
}

// emailDefaultKinds категории, для которых письмо отправляется без явной настройки.
var emailDefaultKinds = map[string]bool{
	models.NotificationKindPayment:      true,
	models.NotificationKindVerification: true,
	models.NotificationKindSystem:       true,
}

// NotificationService содержит бизнес-логику работы с уведомлениями.
type NotificationService struct {
	repo     NotificationRepository
	users    UserReader
	email    EmailSink
	realtime RealtimePublisher
	now      func() time.Time
}

// NewNotificationService создаёт новый сервис уведомлений. realtime может быть nil.
func NewNotificationService(repo NotificationRepository, users UserReader, email EmailSink, realtime RealtimePublisher) *NotificationService {
	return &NotificationService{
		repo:     repo,
		users:    users,
		email:    email,
		realtime: realtime,
		now:      time.Now,
	}
}

// Notify создаёт in-app уведомление и решает, отправлять ли письмо.
// Возвращает nil без ошибки, если уведомление подавлено дедупликацией или настройками.
func (s *NotificationService) Notify(ctx context.Context, in NotificationInput) (*models.Notification, error) {
	if _, ok := models.ValidNotificationKinds[in.Kind]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("неизвестная категория уведомления: %s", in.Kind))
	}
	if in.UserID == uuid.Nil || strings.TrimSpace(in.Title) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "получатель и заголовок обязательны")
	}

	if in.RelatedObjectID != "" {
		dup, err := s.repo.ExistsUnread(ctx, in.UserID, in.RelatedObjectID, in.Kind, in.Title)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, nil
		}
	}

	var created *models.Notification
	inApp, err := s.preference(ctx, in.UserID, in.Kind, models.DeliveryInApp)
	if err != nil {
		return nil, err
	}
	if inApp == nil || (inApp.IsEnabled && inApp.Frequency != models.FrequencyDisabled) {
		created = &models.Notification{
			UserID:  in.UserID,
			Title:   in.Title,
			Message: in.Message,
			Kind:    in.Kind,
		}
		if in.ActionURL != "" {
			created.ActionURL = &in.ActionURL
		}
		if in.RelatedObjectID != "" {
			created.RelatedObjectID = &in.RelatedObjectID
		}
		if err := s.repo.Create(ctx, created); err != nil {
			return nil, err
		}
		if s.realtime != nil {
			s.realtime.PublishToUser(ctx, in.UserID, "notification", map[string]any{"notification": created})
		}
	}

	s.deliverEmail(ctx, in)

	return created, nil
}

// NotifyAll отправляет набор уведомлений, ошибки только логируются.
// Используется после коммита денежных операций.
func (s *NotificationService) NotifyAll(ctx context.Context, inputs ...NotificationInput) {
	notifyAll(ctx, s, inputs)
}

func notifyAll(ctx context.Context, n Notifier, inputs []NotificationInput) {
	if n == nil {
		return
	}
	for _, in := range inputs {
		if _, err := n.Notify(ctx, in); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"user_id": in.UserID,
				"kind":    in.Kind,
				"title":   in.Title,
			}).WithError(err).Warn("не удалось создать уведомление")
		}
	}
}

func (s *NotificationService) preference(ctx context.Context, userID uuid.UUID, kind, method string) (*models.NotificationPreference, error) {
	pref, err := s.repo.GetPreference(ctx, userID, kind, method)
	if errors.Is(err, repository.ErrPreferenceNotFound) {
		return nil, nil
	}
	return pref, err
}

// emailFrequency возвращает частоту писем или FrequencyDisabled.
func (s *NotificationService) emailFrequency(ctx context.Context, userID uuid.UUID, kind string) (string, error) {
	pref, err := s.preference(ctx, userID, kind, models.DeliveryEmail)
	if err != nil {
		return models.FrequencyDisabled, err
	}
	if pref == nil {
		if emailDefaultKinds[kind] {
			return models.FrequencyInstant, nil
		}
		return models.FrequencyDisabled, nil
	}
	if !pref.IsEnabled {
		return models.FrequencyDisabled, nil
	}
	return pref.Frequency, nil
}

func (s *NotificationService) deliverEmail(ctx context.Context, in NotificationInput) {
	if s.email == nil {
		return
	}
	log := logger.Log.WithFields(logrus.Fields{"user_id": in.UserID, "kind": in.Kind})

	freq, err := s.emailFrequency(ctx, in.UserID, in.Kind)
	if err != nil {
		log.WithError(err).Warn("не удалось прочитать настройки email")
		return
	}

	switch freq {
	case models.FrequencyInstant:
		user, err := s.users.GetByID(ctx, in.UserID)
		if err != nil {
			log.WithError(err).Warn("email не отправлен: пользователь не найден")
			return
		}
		if err := s.email.Enqueue(ctx, queue.Email{
			UserID:    in.UserID,
			To:        user.Email,
			Subject:   in.Title,
			Body:      in.Message,
			Category:  in.Kind,
			CreatedAt: s.now(),
		}); err != nil {
			log.WithError(err).Warn("email не поставлен в очередь")
		}
	case models.FrequencyDaily, models.FrequencyWeekly:
		if err := s.email.AddToDigest(ctx, freq, queue.DigestEntry{
			UserID:    in.UserID,
			Kind:      in.Kind,
			Title:     in.Title,
			Message:   in.Message,
			CreatedAt: s.now(),
		}); err != nil {
			log.WithError(err).Warn("уведомление не добавлено в сводку")
		}
	}
}

// SendDigest забирает сводку и ставит по одному письму на пользователя. Возвращает число писем.
func (s *NotificationService) SendDigest(ctx context.Context, frequency string) (int, error) {
	if frequency != models.FrequencyDaily && frequency != models.FrequencyWeekly {
		return 0, apperror.New(apperror.ErrCodeValidation, "сводка бывает только daily или weekly")
	}

	entries, err := s.email.DrainDigest(ctx, frequency)
	if err != nil {
		return 0, err
	}

	byUser := make(map[uuid.UUID][]queue.DigestEntry)
	order := make([]uuid.UUID, 0)
	for _, e := range entries {
		if _, seen := byUser[e.UserID]; !seen {
			order = append(order, e.UserID)
		}
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}

	sent := 0
	for _, userID := range order {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			logger.Log.WithField("user_id", userID).WithError(err).Warn("сводка пропущена: пользователь не найден")
			continue
		}
		items := byUser[userID]
		sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })

		if err := s.email.Enqueue(ctx, queue.Email{
			UserID:    userID,
			To:        user.Email,
			Subject:   digestSubject(frequency, len(items)),
			Body:      digestBody(items),
			Category:  "digest_" + frequency,
			CreatedAt: s.now(),
		}); err != nil {
			return sent, err
		}
		sent++
	}

	return sent, nil
}

// ListNotifications возвращает список уведомлений пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление как прочитанное.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	if err := s.repo.MarkAsRead(ctx, userID, id); err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "уведомление не найдено")
		}
		return err
	}
	return nil
}

// MarkAllAsRead отмечает все уведомления пользователя как прочитанные.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllAsRead(ctx, userID)
}

// MarkConversationRead гасит уведомления о сообщениях беседы.
func (s *NotificationService) MarkConversationRead(ctx context.Context, userID, conversationID uuid.UUID) error {
	return s.repo.MarkReadByRelated(ctx, userID, models.NotificationKindMessage, conversationID.String())
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// PreferenceView действующая настройка категории с учётом значений по умолчанию.
type PreferenceView struct {
	Category       string `json:"category"`
	DeliveryMethod string `json:"delivery_method"`
	IsEnabled      bool   `json:"is_enabled"`
	Frequency      string `json:"frequency"`
	IsDefault      bool   `json:"is_default"`
}

// ListPreferences возвращает настройки по всем категориям и способам доставки.
func (s *NotificationService) ListPreferences(ctx context.Context, userID uuid.UUID) ([]PreferenceView, error) {
	stored, err := s.repo.ListPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	explicit := make(map[string]models.NotificationPreference, len(stored))
	for _, p := range stored {
		explicit[p.Category+"/"+p.DeliveryMethod] = p
	}

	kinds := make([]string, 0, len(models.ValidNotificationKinds))
	for k := range models.ValidNotificationKinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	views := make([]PreferenceView, 0, len(kinds)*2)
	for _, kind := range kinds {
		for _, method := range []string{models.DeliveryInApp, models.DeliveryEmail} {
			if p, ok := explicit[kind+"/"+method]; ok {
				views = append(views, PreferenceView{Category: kind, DeliveryMethod: method, IsEnabled: p.IsEnabled, Frequency: p.Frequency})
				continue
			}
			enabled := method == models.DeliveryInApp || emailDefaultKinds[kind]
			freq := models.FrequencyInstant
			if !enabled {
				freq = models.FrequencyDisabled
			}
			views = append(views, PreferenceView{Category: kind, DeliveryMethod: method, IsEnabled: enabled, Frequency: freq, IsDefault: true})
		}
	}
	return views, nil
}

// UpdatePreference сохраняет настройку категории.
func (s *NotificationService) UpdatePreference(ctx context.Context, pref *models.NotificationPreference) error {
	if _, ok := models.ValidNotificationKinds[pref.Category]; !ok {
		return apperror.New(apperror.ErrCodeValidation, "неизвестная категория уведомления")
	}
	if pref.DeliveryMethod != models.DeliveryInApp && pref.DeliveryMethod != models.DeliveryEmail {
		return apperror.New(apperror.ErrCodeValidation, "способ доставки: in_app или email")
	}
	if _, ok := models.ValidFrequencies[pref.Frequency]; !ok {
		return apperror.New(apperror.ErrCodeValidation, "частота: instant, daily, weekly или disabled")
	}
	return s.repo.UpsertPreference(ctx, pref)
}
