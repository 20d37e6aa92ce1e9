package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation личная или групповая беседа.
type Conversation struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	Type           string      `db:"type" json:"type"`
	Name           *string     `db:"name" json:"name,omitempty"`
	AdminID        *uuid.UUID  `db:"admin_id" json:"admin_id,omitempty"`
	GroupType      *string     `db:"group_type" json:"group_type,omitempty"`
	PasswordHash   *string     `db:"password_hash" json:"-"`
	InviteCode     *string     `db:"invite_code" json:"invite_code,omitempty"`
	MaxMembers     int         `db:"max_members" json:"max_members"`
	IsDiscoverable bool        `db:"is_discoverable" json:"is_discoverable"`
	ProjectID      *uuid.UUID  `db:"project_id" json:"project_id,omitempty"`
	LastMessageAt  *time.Time  `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
	Participants   []uuid.UUID `db:"-" json:"participants,omitempty"`
}

// IsGroup сообщает, что беседа групповая.
func (c *Conversation) IsGroup() bool {
	return c.Type == ConversationTypeGroup
}

// HasGroupType проверяет тип группы.
func (c *Conversation) HasGroupType(groupType string) bool {
	return c.GroupType != nil && *c.GroupType == groupType
}

// Message сообщение в беседе; CreatedAt назначает сервер.
type Message struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConversationID uuid.UUID `db:"conversation_id" json:"conversation_id"`
	SenderID       uuid.UUID `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	AttachmentURL  *string   `db:"attachment_url" json:"attachment_url,omitempty"`
	AttachmentName *string   `db:"attachment_name" json:"attachment_name,omitempty"`
	AttachmentType *string   `db:"attachment_type" json:"attachment_type,omitempty"`
	AttachmentSize *int64    `db:"attachment_size" json:"attachment_size,omitempty"`
	IsRead         bool      `db:"is_read" json:"is_read"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
