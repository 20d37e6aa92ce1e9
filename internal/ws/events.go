package ws

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Кадры клиента.
const (
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypePauseUpdates      = "pause_updates"
	TypeResumeUpdates     = "resume_updates"
	TypePing              = "ping"
)

// События сервера.
const (
	EventConnected          = "connection_established"
	EventNewMessage         = "new_message"
	EventNewMessageMeta     = "new_message_meta"
	EventConversationUpdate = "conversation_update"
	EventMessagesRead       = "messages_read"
	EventNotification       = "notification"
	EventUserStatus         = "user_status"
	EventJoined             = "joined_conversation"
	EventLeft               = "left_conversation"
	EventUpdatesPaused      = "updates_paused"
	EventUpdatesResumed     = "updates_resumed"
	EventPong               = "pong"
	EventError              = "error"
)

// CloseUnauthenticated код закрытия соединения без действующего токена.
const CloseUnauthenticated = 4001

// inboundFrame кадр клиента: {"type": "...", "data": {"conversation_id": "..."}}.
type inboundFrame struct {
	Type string `json:"type"`
	Data struct {
		ConversationID string `json:"conversation_id"`
	} `json:"data"`
}

func (f inboundFrame) conversationID() (uuid.UUID, error) {
	if f.Data.ConversationID == "" {
		return uuid.Nil, fmt.Errorf("conversation_id обязателен")
	}
	id, err := uuid.Parse(f.Data.ConversationID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("некорректный conversation_id")
	}
	return id, nil
}

// outboundFrame кадр сервера, тот же конверт type/data.
type outboundFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encodeFrame(eventType string, data any) ([]byte, error) {
	raw, err := json.Marshal(outboundFrame{Type: eventType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("ws: не удалось сериализовать %s: %w", eventType, err)
	}
	return raw, nil
}

func mustFrame(eventType string, data any) []byte {
	raw, err := encodeFrame(eventType, data)
	if err != nil {
		raw, _ = json.Marshal(outboundFrame{Type: EventError, Data: map[string]string{"message": "internal error"}})
	}
	return raw
}

func errorFrame(message string) []byte {
	return mustFrame(EventError, map[string]string{"message": message})
}

func conversationFrame(eventType string, conversationID uuid.UUID) []byte {
	return mustFrame(eventType, map[string]uuid.UUID{"conversation_id": conversationID})
}

// delivery готовый к отправке кадр. meta уходит вместо full, если беседа на паузе у сессии.
type delivery struct {
	conversationID uuid.UUID
	full           []byte
	meta           []byte
	control        *control
}

// Event событие шины между экземплярами сервера.
type Event struct {
	Target         string          `json:"target"`
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	ConversationID uuid.UUID       `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// Получатели события.
const (
	TargetUser         = "user"
	TargetConversation = "conversation"
)

// toDelivery собирает кадры события. Для new_message добавляется облегчённый new_message_meta.
func (e Event) toDelivery() (delivery, error) {
	full, err := encodeFrame(e.Type, e.Data)
	if err != nil {
		return delivery{}, err
	}
	d := delivery{conversationID: e.ConversationID, full: full}
	if e.Type == EventNewMessage && e.ConversationID != uuid.Nil {
		d.meta = conversationFrame(EventNewMessageMeta, e.ConversationID)
	}
	return d, nil
}
