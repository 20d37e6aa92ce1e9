package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/repository/common"
)

// ErrNotificationNotFound возвращается, когда уведомление не найдено.
var ErrNotificationNotFound = errors.New("notification not found")

// ErrPreferenceNotFound возвращается, когда настройка доставки не задана.
var ErrPreferenceNotFound = errors.New("notification preference not found")

// NotificationRepository отвечает за работу с уведомлениями.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository создаёт экземпляр репозитория.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create создаёт новое уведомление.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, title, message, kind, is_read, action_url, related_object_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	if err := common.Q(ctx, r.db).QueryRowxContext(
		ctx,
		query,
		notification.UserID,
		notification.Title,
		notification.Message,
		notification.Kind,
		notification.IsRead,
		notification.ActionURL,
		notification.RelatedObjectID,
	).Scan(&notification.ID, &notification.CreatedAt); err != nil {
		return fmt.Errorf("notification repository: create %w", err)
	}

	return nil
}

// ExistsUnread проверяет, есть ли уже непрочитанное уведомление о том же событии.
func (r *NotificationRepository) ExistsUnread(ctx context.Context, userID uuid.UUID, relatedObjectID, kind, title string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE user_id = $1 AND related_object_id = $2 AND kind = $3 AND title = $4 AND is_read = FALSE
		)
	`
	if err := common.Q(ctx, r.db).GetContext(ctx, &exists, query, userID, relatedObjectID, kind, title); err != nil {
		return false, fmt.Errorf("notification repository: exists unread %w", err)
	}
	return exists, nil
}

// GetByID возвращает уведомление по идентификатору.
func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	var notification models.Notification
	if err := common.Q(ctx, r.db).GetContext(ctx, &notification, `SELECT * FROM notifications WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("notification repository: get by id %w", err)
	}

	return &notification, nil
}

// List возвращает список уведомлений пользователя с пагинацией.
func (r *NotificationRepository) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	query := `
		SELECT * FROM notifications
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	argIndex := 2

	if unreadOnly {
		query += " AND is_read = FALSE"
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
	}

	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}

	var notifications []models.Notification
	if err := common.Q(ctx, r.db).SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, fmt.Errorf("notification repository: list %w", err)
	}

	return notifications, nil
}

// MarkAsRead отмечает уведомление пользователя как прочитанное.
func (r *NotificationRepository) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	result, err := common.Q(ctx, r.db).ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("notification repository: mark as read %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("notification repository: mark as read rows affected %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// MarkAllAsRead отмечает все уведомления пользователя как прочитанные.
func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := common.Q(ctx, r.db).ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("notification repository: mark all as read %w", err)
	}
	return result.RowsAffected()
}

// MarkReadByRelated отмечает прочитанными уведомления категории, связанные с объектом.
func (r *NotificationRepository) MarkReadByRelated(ctx context.Context, userID uuid.UUID, kind, relatedObjectID string) error {
	_, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND kind = $2 AND related_object_id = $3 AND is_read = FALSE
	`, userID, kind, relatedObjectID)
	if err != nil {
		return fmt.Errorf("notification repository: mark read by related %w", err)
	}
	return nil
}

// CountUnread возвращает количество непрочитанных уведомлений пользователя.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	if err := common.Q(ctx, r.db).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`, userID); err != nil {
		return 0, fmt.Errorf("notification repository: count unread %w", err)
	}

	return count, nil
}

// GetPreference возвращает настройку доставки категории.
func (r *NotificationRepository) GetPreference(ctx context.Context, userID uuid.UUID, category, method string) (*models.NotificationPreference, error) {
	var pref models.NotificationPreference
	err := common.Q(ctx, r.db).GetContext(ctx, &pref, `
		SELECT * FROM notification_preferences
		WHERE user_id = $1 AND category = $2 AND delivery_method = $3
	`, userID, category, method)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("notification repository: get preference %w", err)
	}
	return &pref, nil
}

// ListPreferences возвращает все явно заданные настройки пользователя.
func (r *NotificationRepository) ListPreferences(ctx context.Context, userID uuid.UUID) ([]models.NotificationPreference, error) {
	var prefs []models.NotificationPreference
	if err := common.Q(ctx, r.db).SelectContext(ctx, &prefs, `
		SELECT * FROM notification_preferences WHERE user_id = $1 ORDER BY category, delivery_method
	`, userID); err != nil {
		return nil, fmt.Errorf("notification repository: list preferences %w", err)
	}
	return prefs, nil
}

// UpsertPreference создаёт или обновляет настройку доставки.
func (r *NotificationRepository) UpsertPreference(ctx context.Context, pref *models.NotificationPreference) error {
	query := `
		INSERT INTO notification_preferences (user_id, category, delivery_method, is_enabled, frequency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, category, delivery_method) DO UPDATE SET
			is_enabled = EXCLUDED.is_enabled,
			frequency = EXCLUDED.frequency,
			updated_at = NOW()
		RETURNING id, updated_at
	`
	if err := common.Q(ctx, r.db).QueryRowxContext(ctx, query,
		pref.UserID, pref.Category, pref.DeliveryMethod, pref.IsEnabled, pref.Frequency,
	).Scan(&pref.ID, &pref.UpdatedAt); err != nil {
		return fmt.Errorf("notification repository: upsert preference %w", err)
	}
	return nil
}
