package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/pkg/apperror"
	"github.com/neurolancer/backend/internal/repository"
	"github.com/neurolancer/backend/internal/storage"
	"github.com/neurolancer/backend/internal/validation"
)

// ConversationRepository беседы, участники и сообщения.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation, participants []uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetByInviteCode(ctx context.Context, code string) (*models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	AddParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, before *time.Time, limit int) ([]models.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error)
	CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
}

// ProjectAccess правила доступа к проектным группам.
type ProjectAccess interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	HasAcceptedOrderInProject(ctx context.Context, projectID, freelancerID uuid.UUID) (bool, error)
}

// ConversationReadMarker гасит уведомления о сообщениях прочитанной беседы.
type ConversationReadMarker interface {
	MarkConversationRead(ctx context.Context, userID, conversationID uuid.UUID) error
}

// AttachmentStore сохраняет вложения сообщений.
type AttachmentStore interface {
	Save(ctx context.Context, conversationID uuid.UUID, originalName string, r io.Reader) (*storage.Attachment, error)
}

// MessageInput текст и необязательное вложение нового сообщения.
type MessageInput struct {
	Content    string
	Attachment *storage.Attachment
}

// MessagePage страница сообщений и число непрочитанных.
type MessagePage struct {
	Messages    []models.Message `json:"messages"`
	UnreadCount int              `json:"unread_count"`
}

// GroupInput параметры новой группы.
type GroupInput struct {
	Name           string
	GroupType      string
	Password       string
	MaxMembers     int
	IsDiscoverable bool
	ProjectID      *uuid.UUID
}

// JoinResult итог вступления в группу.
type JoinResult struct {
	Conversation *models.Conversation `json:"conversation"`
	Joined       bool                 `json:"joined"`
}

// ConversationService сообщения, вступление в группы и отметки о прочтении.
type ConversationService struct {
	tx          TxRunner
	repo        ConversationRepository
	projects    ProjectAccess
	notifier    Notifier
	reads       ConversationReadMarker
	realtime    RealtimePublisher
	attachments AttachmentStore
}

// NewConversationService создаёт сервис бесед. realtime и attachments могут быть nil.
func NewConversationService(
	tx TxRunner,
	repo ConversationRepository,
	projects ProjectAccess,
	notifier Notifier,
	reads ConversationReadMarker,
	realtime RealtimePublisher,
	attachments AttachmentStore,
) *ConversationService {
	return &ConversationService{
		tx:          tx,
		repo:        repo,
		projects:    projects,
		notifier:    notifier,
		reads:       reads,
		realtime:    realtime,
		attachments: attachments,
	}
}

// CanAccess сообщает, состоит ли пользователь в беседе.
func (s *ConversationService) CanAccess(ctx context.Context, userID, conversationID uuid.UUID) (bool, error) {
	return s.repo.IsParticipant(ctx, conversationID, userID)
}

func (s *ConversationService) requireParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.repo.GetByID(ctx, conversationID); errors.Is(err, repository.ErrConversationNotFound) {
			return apperror.ErrConversationNotFound
		}
		return apperror.ErrNotParticipant
	}
	return nil
}

// Get возвращает беседу участнику.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, apperror.ErrConversationNotFound
		}
		return nil, err
	}
	for _, p := range conv.Participants {
		if p == userID {
			return conv, nil
		}
	}
	return nil, apperror.ErrNotParticipant
}

// Join добавляет пользователя в группу по идентификатору.
func (s *ConversationService) Join(ctx context.Context, conversationID, userID uuid.UUID, password string) (*JoinResult, error) {
	return s.join(ctx, userID, password, func(ctx context.Context) (*models.Conversation, error) {
		return s.repo.GetByIDForUpdate(ctx, conversationID)
	})
}

// JoinByInvite добавляет пользователя в группу по коду приглашения.
func (s *ConversationService) JoinByInvite(ctx context.Context, code string, userID uuid.UUID, password string) (*JoinResult, error) {
	code = strings.TrimSpace(code)
	if err := validation.ValidateInviteCode(code); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	return s.join(ctx, userID, password, func(ctx context.Context) (*models.Conversation, error) {
		conv, err := s.repo.GetByInviteCode(ctx, code)
		if err != nil {
			return nil, err
		}
		return s.repo.GetByIDForUpdate(ctx, conv.ID)
	})
}

func (s *ConversationService) join(
	ctx context.Context,
	userID uuid.UUID,
	password string,
	load func(ctx context.Context) (*models.Conversation, error),
) (*JoinResult, error) {
	result := &JoinResult{}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		conv, err := load(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrConversationNotFound) {
				return apperror.ErrConversationNotFound
			}
			return err
		}
		result.Conversation = conv

		for _, p := range conv.Participants {
			if p == userID {
				return nil
			}
		}
		if !conv.IsGroup() {
			return apperror.ErrForbidden
		}
		if err := s.checkJoinRules(ctx, conv, userID, password); err != nil {
			return err
		}
		if conv.MaxMembers > 0 && len(conv.Participants) >= conv.MaxMembers {
			return apperror.New(apperror.ErrCodeConflict, "в группе нет свободных мест")
		}

		added, err := s.repo.AddParticipant(ctx, conv.ID, userID)
		if err != nil {
			return err
		}
		if added {
			conv.Participants = append(conv.Participants, userID)
			result.Joined = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Joined {
		logger.Log.WithFields(logrus.Fields{
			"conversation_id": result.Conversation.ID,
			"user_id":         userID,
		}).Info("пользователь вступил в группу")

		if s.realtime != nil {
			payload := map[string]any{"conversation": result.Conversation}
			s.realtime.PublishToConversation(ctx, result.Conversation.ID, "conversation_update", payload)
			s.realtime.PublishToUser(ctx, userID, "conversation_update", payload)
		}
	}
	return result, nil
}

func (s *ConversationService) checkJoinRules(ctx context.Context, conv *models.Conversation, userID uuid.UUID, password string) error {
	switch {
	case conv.HasGroupType(models.GroupTypePrivate):
		if conv.PasswordHash == nil {
			return apperror.New(apperror.ErrCodeForbidden, "группа закрыта")
		}
		if bcrypt.CompareHashAndPassword([]byte(*conv.PasswordHash), []byte(password)) != nil {
			return apperror.New(apperror.ErrCodeForbidden, "неверный пароль группы")
		}
		return nil

	case conv.HasGroupType(models.GroupTypeProject):
		if conv.ProjectID == nil || s.projects == nil {
			return apperror.ErrForbidden
		}
		project, err := s.projects.GetProject(ctx, *conv.ProjectID)
		if err != nil {
			if errors.Is(err, repository.ErrProjectNotFound) {
				return apperror.ErrForbidden
			}
			return err
		}
		if project.ClientID == userID {
			return nil
		}
		ok, err := s.projects.HasAcceptedOrderInProject(ctx, project.ID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.New(apperror.ErrCodeForbidden, "группа проекта доступна заказчику и исполнителям с принятым заказом")
		}
		return nil

	default:
		return nil
	}
}

// SendMessage сохраняет сообщение и рассылает его участникам.
func (s *ConversationService) SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, in MessageInput) (*models.Message, error) {
	if err := validation.ValidateMessage(in.Content, in.Attachment != nil); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	conv, err := s.Get(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        strings.TrimSpace(in.Content),
	}
	if a := in.Attachment; a != nil {
		msg.AttachmentURL = &a.URL
		msg.AttachmentName = &a.Name
		msg.AttachmentType = &a.Type
		msg.AttachmentSize = &a.Size
	}

	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, apperror.ErrConversationNotFound
		}
		return nil, err
	}

	payload := map[string]any{"message": msg, "conversation_id": conversationID}
	if s.realtime != nil {
		s.realtime.PublishToConversation(ctx, conversationID, "new_message", payload)
	}

	notices := make([]NotificationInput, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p == senderID {
			continue
		}
		if s.realtime != nil {
			s.realtime.PublishToUser(ctx, p, "new_message", payload)
		}
		notices = append(notices, newMessageNotice(p, msg))
	}
	notifyAll(ctx, s.notifier, notices)

	return msg, nil
}

// ListMessages возвращает страницу сообщений по возрастанию времени.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, userID uuid.UUID, before *time.Time, limit int) (*MessagePage, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	messages, err := s.repo.ListMessages(ctx, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.CountUnread(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return &MessagePage{Messages: messages, UnreadCount: unread}, nil
}

// MarkRead отмечает прочитанными чужие сообщения и гасит уведомления беседы.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}

	n, err := s.repo.MarkMessagesRead(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}

	if s.reads != nil {
		if err := s.reads.MarkConversationRead(ctx, userID, conversationID); err != nil {
			logger.Log.WithError(err).WithField("conversation_id", conversationID).Warn("не удалось отметить уведомления беседы")
		}
	}
	if n > 0 && s.realtime != nil {
		s.realtime.PublishToConversation(ctx, conversationID, "messages_read", map[string]any{
			"conversation_id": conversationID,
			"user_id":         userID,
		})
	}
	return n, nil
}

// UploadAttachment сохраняет вложение для последующего сообщения.
func (s *ConversationService) UploadAttachment(ctx context.Context, conversationID, userID uuid.UUID, name string, r io.Reader) (*storage.Attachment, error) {
	if s.attachments == nil {
		return nil, apperror.New(apperror.ErrCodeInternal, "хранилище вложений не настроено")
	}
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	att, err := s.attachments.Save(ctx, conversationID, name, r)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrFileTooLarge):
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "файл превышает допустимый размер")
		case errors.Is(err, storage.ErrUnsupportedType):
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "неподдерживаемый тип файла")
		case errors.Is(err, storage.ErrEmptyFile):
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "файл пуст")
		}
		return nil, err
	}
	return att, nil
}

// CreateGroup создаёт группу с кодом приглашения; создатель становится администратором.
func (s *ConversationService) CreateGroup(ctx context.Context, adminID uuid.UUID, in GroupInput) (*models.Conversation, error) {
	name := strings.TrimSpace(in.Name)
	if err := validation.ValidateLength("название группы", name, 1, validation.MaxGroupNameLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if in.MaxMembers < 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "max_members не может быть отрицательным")
	}

	groupType := in.GroupType
	conv := &models.Conversation{
		Type:           models.ConversationTypeGroup,
		Name:           &name,
		AdminID:        &adminID,
		GroupType:      &groupType,
		MaxMembers:     in.MaxMembers,
		IsDiscoverable: in.IsDiscoverable,
	}

	switch groupType {
	case models.GroupTypePublic:
	case models.GroupTypePrivate:
		hash, err := HashGroupPassword(in.Password)
		if err != nil {
			return nil, err
		}
		conv.PasswordHash = &hash
	case models.GroupTypeProject:
		if in.ProjectID == nil || s.projects == nil {
			return nil, apperror.New(apperror.ErrCodeValidation, "для группы проекта нужен project_id")
		}
		project, err := s.projects.GetProject(ctx, *in.ProjectID)
		if err != nil {
			if errors.Is(err, repository.ErrProjectNotFound) {
				return nil, apperror.New(apperror.ErrCodeNotFound, "проект не найден")
			}
			return nil, err
		}
		if project.ClientID != adminID {
			return nil, apperror.ErrForbidden
		}
		conv.ProjectID = &project.ID
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный тип группы: "+groupType)
	}

	for attempt := 0; ; attempt++ {
		code, err := randomCode(validation.InviteCodeLength)
		if err != nil {
			return nil, err
		}
		conv.InviteCode = &code

		err = s.repo.Create(ctx, conv, []uuid.UUID{adminID})
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrInviteCodeTaken) || attempt >= 2 {
			return nil, err
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"admin_id":        adminID,
		"group_type":      groupType,
	}).Info("группа создана")

	return conv, nil
}

// HashGroupPassword готовит пароль закрытой группы к хранению.
func HashGroupPassword(password string) (string, error) {
	if err := validation.ValidateGroupPassword(password); err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
