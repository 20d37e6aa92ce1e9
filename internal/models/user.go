package models

import (
	"time"

	"github.com/google/uuid"
)

// User описывает пользователя платформы в объёме, нужном ядру.
type User struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Email           string    `db:"email" json:"email"`
	Username        string    `db:"username" json:"username"`
	Role            string    `db:"role" json:"role"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	IsEmailVerified bool      `db:"is_email_verified" json:"is_email_verified"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
