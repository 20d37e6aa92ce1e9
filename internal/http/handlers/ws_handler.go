package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/ws"
)

// AccessTokenParser проверяет access токен.
type AccessTokenParser interface {
	ParseAccess(token string) (uuid.UUID, string, error)
}

// WSHandler отвечает за установку WebSocket соединений.
type WSHandler struct {
	hub      *ws.Hub
	tokens   AccessTokenParser
	ctx      context.Context
	upgrader websocket.Upgrader
}

// NewWSHandler создаёт новый хэндлер. Сессии живут не дольше ctx.
func NewWSHandler(ctx context.Context, hub *ws.Hub, tokens AccessTokenParser, allowedOrigins []string) *WSHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &WSHandler{
		hub:    hub,
		tokens: tokens,
		ctx:    ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Handle обслуживает GET /api/ws?token=...
// Без действующего токена соединение принимается и сразу закрывается кодом 4001.
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		logger.Log.WithError(err).Debug("ws: upgrade не удался")
		return
	}

	userID, _, err := h.tokens.ParseAccess(c.Query("token"))
	if err != nil || userID == uuid.Nil {
		closeUnauthenticated(conn)
		return
	}

	ws.NewSession(conn, h.hub, userID).Run(h.ctx)
}

func closeUnauthenticated(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(ws.CloseUnauthenticated, "unauthenticated")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
