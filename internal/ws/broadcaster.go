package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/logger"
)

// BusChannel канал Redis, через который экземпляры сервера обмениваются событиями.
const BusChannel = "neurolancer:ws"

// Broadcaster публикует события в группы. С Redis события идут через шину
// и доставляются каждым экземпляром своим сессиям; без Redis доставка локальная.
type Broadcaster struct {
	hub *Hub
	rdb redis.UniversalClient
}

// NewBroadcaster создаёт публикатор. rdb может быть nil.
func NewBroadcaster(hub *Hub, rdb redis.UniversalClient) *Broadcaster {
	return &Broadcaster{hub: hub, rdb: rdb}
}

// PublishToUser отправляет событие во все сессии пользователя.
func (b *Broadcaster) PublishToUser(ctx context.Context, userID uuid.UUID, eventType string, payload any) {
	b.publish(ctx, TargetUser, userID, eventType, payload)
}

// PublishToConversation отправляет событие участникам беседы, подключившимся к ней.
func (b *Broadcaster) PublishToConversation(ctx context.Context, conversationID uuid.UUID, eventType string, payload any) {
	b.publish(ctx, TargetConversation, conversationID, eventType, payload)
}

func (b *Broadcaster) publish(ctx context.Context, target string, id uuid.UUID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.WithError(err).WithField("type", eventType).Error("ws: не удалось сериализовать событие")
		return
	}

	e := Event{Target: target, ID: id, Type: eventType, Data: data}
	if target == TargetConversation {
		e.ConversationID = id
	} else {
		e.ConversationID = conversationOf(data)
	}

	if b.rdb != nil {
		raw, err := json.Marshal(e)
		if err == nil {
			err = b.rdb.Publish(ctx, BusChannel, raw).Err()
		}
		if err == nil {
			return
		}
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"type":   eventType,
			"target": target,
		}).Warn("ws: шина недоступна, доставка только локальным сессиям")
	}

	b.hub.Dispatch(e)
}

// Run читает шину и передаёт события хабу. Без Redis сразу возвращается.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.rdb == nil {
		return
	}

	sub := b.rdb.Subscribe(ctx, BusChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleBusMessage(msg.Payload)
		}
	}
}

func (b *Broadcaster) handleBusMessage(payload string) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		logger.Log.WithError(err).Warn("ws: некорректное событие шины")
		return
	}
	if e.Target != TargetUser && e.Target != TargetConversation {
		logger.Log.WithField("target", e.Target).Warn("ws: неизвестный получатель события")
		return
	}
	b.hub.Dispatch(e)
}

// conversationOf достаёт conversation_id из данных события, адресованного пользователю.
func conversationOf(data []byte) uuid.UUID {
	var envelope struct {
		ConversationID uuid.UUID `json:"conversation_id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return uuid.Nil
	}
	return envelope.ConversationID
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}
