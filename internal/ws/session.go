package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/goroutine"
	"github.com/neurolancer/backend/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 64
)

type controlKind int

const (
	controlPause controlKind = iota
	controlResume
	controlForget
)

// control меняет набор приостановленных бесед. Идёт через ту же очередь, что и события,
// поэтому применяется строго до событий, поставленных после него.
type control struct {
	kind           controlKind
	conversationID uuid.UUID
}

// pauseSet приостановленные беседы; принадлежит горутине записи.
type pauseSet map[uuid.UUID]struct{}

// render применяет управляющую команду или выбирает кадр события. nil означает, что писать нечего.
func (p pauseSet) render(d delivery) []byte {
	if c := d.control; c != nil {
		switch c.kind {
		case controlPause:
			p[c.conversationID] = struct{}{}
			return conversationFrame(EventUpdatesPaused, c.conversationID)
		case controlResume:
			delete(p, c.conversationID)
			return conversationFrame(EventUpdatesResumed, c.conversationID)
		default:
			delete(p, c.conversationID)
			return nil
		}
	}
	if d.meta != nil {
		if _, ok := p[d.conversationID]; ok {
			return d.meta
		}
	}
	return d.full
}

// Session одно WebSocket-подключение пользователя.
type Session struct {
	conn   *websocket.Conn
	hub    *Hub
	userID uuid.UUID
	send   chan delivery
	done   chan struct{}
	once   sync.Once

	// joined и removed меняются только под hub.mu.
	joined  map[uuid.UUID]struct{}
	removed bool
}

// NewSession создаёт сессию для аутентифицированного пользователя.
func NewSession(conn *websocket.Conn, hub *Hub, userID uuid.UUID) *Session {
	return &Session{
		conn:   conn,
		hub:    hub,
		userID: userID,
		send:   make(chan delivery, sendBufferSize),
		done:   make(chan struct{}),
		joined: make(map[uuid.UUID]struct{}),
	}
}

// Run регистрирует сессию и обслуживает её до разрыва соединения.
func (s *Session) Run(ctx context.Context) {
	s.hub.Register(s)
	s.reply(mustFrame(EventConnected, map[string]uuid.UUID{"user_id": s.userID}))
	goroutine.SafeGo(s.writePump)
	s.readPump(ctx)
}

// Close снимает сессию с хаба и закрывает соединение.
func (s *Session) Close() {
	s.hub.Unregister(s)
	s.shutdown()
}

func (s *Session) shutdown() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// enqueue не блокирует хаб: false означает переполненный буфер.
func (s *Session) enqueue(d delivery) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- d:
		return true
	default:
		return false
	}
}

func (s *Session) reply(frame []byte) {
	s.enqueue(delivery{full: frame})
}

func (s *Session) readPump(ctx context.Context) {
	defer s.Close()
	defer goroutine.DefaultRecoveryHandler.Recover("ws readPump")

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Log.WithError(err).WithField("user_id", s.userID).Debug("ws: соединение разорвано")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.reply(errorFrame("некорректный формат сообщения"))
			continue
		}
		s.handle(ctx, frame)
	}
}

func (s *Session) handle(ctx context.Context, frame inboundFrame) {
	if frame.Type == TypePing {
		s.reply(mustFrame(EventPong, map[string]int64{"ts": time.Now().Unix()}))
		return
	}

	switch frame.Type {
	case TypeJoinConversation, TypeLeaveConversation, TypePauseUpdates, TypeResumeUpdates:
	default:
		s.reply(errorFrame("неизвестный тип сообщения: " + frame.Type))
		return
	}

	convID, err := frame.conversationID()
	if err != nil {
		s.reply(errorFrame(err.Error()))
		return
	}

	switch frame.Type {
	case TypeJoinConversation:
		ok, err := s.hub.join(ctx, s, convID)
		if err != nil {
			logger.Log.WithError(err).WithFields(logrus.Fields{
				"user_id":         s.userID,
				"conversation_id": convID,
			}).Error("ws: ошибка проверки доступа к беседе")
			s.reply(errorFrame("не удалось присоединиться к беседе"))
			return
		}
		if !ok {
			s.reply(errorFrame("нет доступа к беседе"))
			return
		}
		s.reply(conversationFrame(EventJoined, convID))
	case TypeLeaveConversation:
		s.hub.leave(s, convID)
		s.sendControl(control{kind: controlForget, conversationID: convID})
		s.reply(conversationFrame(EventLeft, convID))
	case TypePauseUpdates:
		s.sendControl(control{kind: controlPause, conversationID: convID})
	case TypeResumeUpdates:
		s.sendControl(control{kind: controlResume, conversationID: convID})
	}
}

// sendControl ждёт место в очереди: команду нельзя потерять, а очередь разбирает горутина записи.
func (s *Session) sendControl(c control) {
	select {
	case s.send <- delivery{control: &c}:
	case <-s.done:
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	defer goroutine.DefaultRecoveryHandler.Recover("ws writePump")

	paused := make(pauseSet)

	for {
		select {
		case <-s.done:
			return
		case d := <-s.send:
			frame := paused.render(d)
			if frame == nil {
				continue
			}
			if !s.write(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !s.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (s *Session) write(messageType int, payload []byte) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(messageType, payload); err != nil {
		logger.Log.WithError(err).WithField("user_id", s.userID).Debug("ws: ошибка записи")
		return false
	}
	return true
}
