package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification описывает событие, отправленное пользователю.
type Notification struct {
	ID              uuid.UUID `db:"id" json:"id"`
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	Title           string    `db:"title" json:"title"`
	Message         string    `db:"message" json:"message"`
	Kind            string    `db:"kind" json:"kind"`
	IsRead          bool      `db:"is_read" json:"is_read"`
	ActionURL       *string   `db:"action_url" json:"action_url,omitempty"`
	RelatedObjectID *string   `db:"related_object_id" json:"related_object_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// NotificationPreference настройка доставки для (пользователь, категория, способ).
type NotificationPreference struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	Category       string    `db:"category" json:"category"`
	DeliveryMethod string    `db:"delivery_method" json:"delivery_method"`
	IsEnabled      bool      `db:"is_enabled" json:"is_enabled"`
	Frequency      string    `db:"frequency" json:"frequency"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
