package ws

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/goroutine"
	"github.com/neurolancer/backend/internal/logger"
)

// ConversationAccess проверяет членство пользователя в беседе.
type ConversationAccess interface {
	CanAccess(ctx context.Context, userID, conversationID uuid.UUID) (bool, error)
}

// Hub держит группы сессий: личные (user:{id}) и бесед.
type Hub struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]map[*Session]struct{}
	conversations map[uuid.UUID]map[*Session]struct{}
	register      chan *Session
	unregister    chan *Session
	broadcast     chan Event
	access        ConversationAccess
	ctx           context.Context
}

// NewHub создаёт хаб; он живёт до отмены ctx.
func NewHub(ctx context.Context) *Hub {
	return &Hub{
		users:         make(map[uuid.UUID]map[*Session]struct{}),
		conversations: make(map[uuid.UUID]map[*Session]struct{}),
		register:      make(chan *Session),
		unregister:    make(chan *Session),
		broadcast:     make(chan Event, 256),
		ctx:           ctx,
	}
}

// SetAccess подключает проверку членства в беседах. Вызывается до приёма соединений.
func (h *Hub) SetAccess(access ConversationAccess) {
	h.access = access
}

// Run запускает главный цикл хаба.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return
		case s := <-h.register:
			h.addSession(s)
		case s := <-h.unregister:
			h.removeSession(s)
		case e := <-h.broadcast:
			h.deliver(e)
		}
	}
}

// Register добавляет сессию в личную группу пользователя.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
	}
}

// Unregister удаляет сессию из всех групп.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// Dispatch ставит событие в очередь доставки локальным сессиям.
func (h *Hub) Dispatch(e Event) {
	select {
	case h.broadcast <- e:
	case <-h.ctx.Done():
	}
}

// Online сообщает, есть ли у пользователя живые сессии на этом экземпляре.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

func (h *Hub) addSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.removed {
		return
	}
	if _, ok := h.users[s.userID]; !ok {
		h.users[s.userID] = make(map[*Session]struct{})
	}
	h.users[s.userID][s] = struct{}{}
}

func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	s.removed = true
	sessions, ok := h.users[s.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := sessions[s]; !member {
		h.mu.Unlock()
		return
	}
	delete(sessions, s)
	lastSession := len(sessions) == 0
	if lastSession {
		delete(h.users, s.userID)
	}

	joined := make([]uuid.UUID, 0, len(s.joined))
	for convID := range s.joined {
		joined = append(joined, convID)
		h.leaveLocked(s, convID)
	}
	h.mu.Unlock()

	if lastSession {
		for _, convID := range joined {
			h.deliver(presenceEvent(s.userID, convID, "offline"))
		}
	}
}

// join добавляет сессию в группу беседы после проверки членства.
func (h *Hub) join(ctx context.Context, s *Session, conversationID uuid.UUID) (bool, error) {
	if h.access == nil {
		return false, nil
	}
	ok, err := h.access.CanAccess(ctx, s.userID, conversationID)
	if err != nil || !ok {
		return false, err
	}

	h.mu.Lock()
	// сессия могла закрыться, пока шла проверка доступа
	if s.removed {
		h.mu.Unlock()
		return false, nil
	}
	if _, exists := h.conversations[conversationID]; !exists {
		h.conversations[conversationID] = make(map[*Session]struct{})
	}
	h.conversations[conversationID][s] = struct{}{}
	s.joined[conversationID] = struct{}{}
	h.mu.Unlock()

	h.Dispatch(presenceEvent(s.userID, conversationID, "online"))
	return true, nil
}

func (h *Hub) leave(s *Session, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, conversationID)
}

func (h *Hub) leaveLocked(s *Session, conversationID uuid.UUID) {
	if sessions, ok := h.conversations[conversationID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.conversations, conversationID)
		}
	}
	delete(s.joined, conversationID)
}

func (h *Hub) deliver(e Event) {
	d, err := e.toDelivery()
	if err != nil {
		logger.Log.WithError(err).WithField("type", e.Type).Error("ws: событие не доставлено")
		return
	}

	h.mu.RLock()
	var group map[*Session]struct{}
	switch e.Target {
	case TargetUser:
		group = h.users[e.ID]
	case TargetConversation:
		group = h.conversations[e.ID]
	}
	var slow []*Session
	for s := range group {
		if !s.enqueue(d) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		logger.Log.WithFields(logrus.Fields{"user_id": s.userID, "type": e.Type}).Warn("ws: буфер сессии переполнен, соединение закрыто")
		goroutine.SafeGo(s.Close)
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*Session
	for _, sessions := range h.users {
		for s := range sessions {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range all {
		s.shutdown()
	}
}

func presenceEvent(userID, conversationID uuid.UUID, status string) Event {
	data := mustJSON(map[string]any{
		"user_id":         userID,
		"conversation_id": conversationID,
		"status":          status,
	})
	return Event{Target: TargetConversation, ID: conversationID, Type: EventUserStatus, Data: data}
}
