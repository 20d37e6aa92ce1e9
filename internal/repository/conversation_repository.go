package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/repository/common"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository хранит беседы, участников и сообщения.
type ConversationRepository struct {
	db *sqlx.DB
	tx *common.TxRunner
}

// NewConversationRepository создаёт репозиторий бесед.
func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db, tx: common.NewTxRunner(db)}
}

// GetByID возвращает беседу вместе со списком участников.
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv, err := common.GetByID[models.Conversation](ctx, common.Q(ctx, r.db), "conversations", id, ErrConversationNotFound)
	if err != nil {
		return nil, err
	}
	return r.withParticipants(ctx, conv)
}

// ErrInviteCodeTaken код приглашения уже занят другой группой.
var ErrInviteCodeTaken = errors.New("invite code already taken")

// Create сохраняет беседу и её первых участников.
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation, participants []uuid.UUID) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO conversations (type, name, admin_id, group_type, password_hash, invite_code,
				max_members, is_discoverable, project_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at, updated_at
		`
		if err := common.Q(ctx, r.db).QueryRowxContext(ctx, query,
			conv.Type, conv.Name, conv.AdminID, conv.GroupType, conv.PasswordHash, conv.InviteCode,
			conv.MaxMembers, conv.IsDiscoverable, conv.ProjectID,
		).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			if common.IsUniqueViolation(err) {
				return ErrInviteCodeTaken
			}
			return fmt.Errorf("conversation repository: create %w", err)
		}

		for _, userID := range participants {
			if _, err := r.AddParticipant(ctx, conv.ID, userID); err != nil {
				return err
			}
		}
		conv.Participants = participants
		return nil
	})
}

// GetByIDForUpdate блокирует строку беседы до конца транзакции.
func (r *ConversationRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := common.Q(ctx, r.db).GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation repository: get for update %w", err)
	}
	return r.withParticipants(ctx, &conv)
}

// GetByInviteCode возвращает групповую беседу по коду приглашения.
func (r *ConversationRepository) GetByInviteCode(ctx context.Context, code string) (*models.Conversation, error) {
	conv, err := common.GetByField[models.Conversation](ctx, common.Q(ctx, r.db), "conversations", "invite_code", code, ErrConversationNotFound)
	if err != nil {
		return nil, err
	}
	return r.withParticipants(ctx, conv)
}

func (r *ConversationRepository) withParticipants(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	participants, err := r.ListParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Participants = participants
	return conv, nil
}

// ListParticipants возвращает участников беседы.
func (r *ConversationRepository) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := common.Q(ctx, r.db).SelectContext(ctx, &ids, `
		SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY joined_at
	`, conversationID); err != nil {
		return nil, fmt.Errorf("conversation repository: list participants %w", err)
	}
	return ids, nil
}

// IsParticipant проверяет членство пользователя в беседе.
func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var exists bool
	if err := common.Q(ctx, r.db).GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)
	`, conversationID, userID); err != nil {
		return false, fmt.Errorf("conversation repository: is participant %w", err)
	}
	return exists, nil
}

// AddParticipant добавляет пользователя в беседу. Возвращает false, если он уже участник.
func (r *ConversationRepository) AddParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	res, err := common.Q(ctx, r.db).ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("conversation repository: add participant %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conversation repository: add participant rows %w", err)
	}
	if affected > 0 {
		if _, err := common.Q(ctx, r.db).ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID); err != nil {
			return false, fmt.Errorf("conversation repository: touch conversation %w", err)
		}
	}
	return affected > 0, nil
}

// CreateMessage сохраняет сообщение и назначает ему created_at.
// Строка беседы блокируется, поэтому время строго растёт внутри беседы.
func (r *ConversationRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		var last sql.NullTime
		err := common.Q(ctx, r.db).GetContext(ctx, &last, `
			SELECT last_message_at FROM conversations WHERE id = $1 FOR UPDATE
		`, msg.ConversationID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConversationNotFound
			}
			return fmt.Errorf("conversation repository: lock conversation %w", err)
		}

		var prev *time.Time
		if last.Valid {
			prev = &last.Time
		}
		msg.CreatedAt = nextMessageTime(time.Now(), prev)
		if msg.ID == uuid.Nil {
			msg.ID = uuid.New()
		}

		if _, err := common.Q(ctx, r.db).ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content, attachment_url, attachment_name,
				attachment_type, attachment_size, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.AttachmentURL, msg.AttachmentName,
			msg.AttachmentType, msg.AttachmentSize, msg.CreatedAt); err != nil {
			return fmt.Errorf("conversation repository: insert message %w", err)
		}

		if _, err := common.Q(ctx, r.db).ExecContext(ctx, `
			UPDATE conversations SET last_message_at = $2, updated_at = NOW() WHERE id = $1
		`, msg.ConversationID, msg.CreatedAt); err != nil {
			return fmt.Errorf("conversation repository: touch conversation %w", err)
		}
		return nil
	})
}

// nextMessageTime возвращает now с точностью до микросекунды (точность Postgres),
// но не раньше предыдущего сообщения + 1мкс.
func nextMessageTime(now time.Time, prev *time.Time) time.Time {
	t := now.UTC().Truncate(time.Microsecond)
	if prev != nil {
		floor := prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
		if t.Before(floor) {
			t = floor
		}
	}
	return t
}

// ListMessages возвращает сообщения беседы по возрастанию created_at.
// Если before задан, возвращаются сообщения строго раньше него.
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID, before *time.Time, limit int) ([]models.Message, error) {
	query := `
		SELECT * FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
			ORDER BY created_at DESC
			LIMIT $3
		) page
		ORDER BY created_at ASC
	`
	var messages []models.Message
	if err := common.Q(ctx, r.db).SelectContext(ctx, &messages, query, conversationID, before, limit); err != nil {
		return nil, fmt.Errorf("conversation repository: list messages %w", err)
	}
	return messages, nil
}

// MarkMessagesRead отмечает прочитанными сообщения других участников.
func (r *ConversationRepository) MarkMessagesRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	res, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("conversation repository: mark messages read %w", err)
	}
	return res.RowsAffected()
}

// CountUnread считает непрочитанные сообщения других участников.
func (r *ConversationRepository) CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	var count int
	if err := common.Q(ctx, r.db).GetContext(ctx, &count, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, conversationID, userID); err != nil {
		return 0, fmt.Errorf("conversation repository: count unread %w", err)
	}
	return count, nil
}
