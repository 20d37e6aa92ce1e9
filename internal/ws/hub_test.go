package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccess struct {
	mu      sync.Mutex
	members map[uuid.UUID]map[uuid.UUID]bool
}

func (f *fakeAccess) allow(userID, conversationID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[conversationID] == nil {
		f.members[conversationID] = make(map[uuid.UUID]bool)
	}
	f.members[conversationID][userID] = true
}

func (f *fakeAccess) CanAccess(_ context.Context, userID, conversationID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[conversationID][userID], nil
}

type hubFixture struct {
	hub    *Hub
	bus    *Broadcaster
	access *fakeAccess
	srv    *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	access := &fakeAccess{members: make(map[uuid.UUID]map[uuid.UUID]bool)}
	hub := NewHub(ctx)
	hub.SetAccess(access)
	go hub.Run()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user"))
		if err != nil {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewSession(conn, hub, userID).Run(ctx)
	}))

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &hubFixture{hub: hub, bus: NewBroadcaster(hub, nil), access: access, srv: srv}
}

func (f *hubFixture) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?user=" + userID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	expect(t, conn, EventConnected)

	// pong гарантирует, что сессия уже зарегистрирована в хабе
	send(t, conn, TypePing, "")
	expect(t, conn, EventPong)
	return conn
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, frameType, conversationID string) {
	t.Helper()
	msg := map[string]any{"type": frameType, "data": map[string]string{"conversation_id": conversationID}}
	require.NoError(t, conn.WriteJSON(msg))
}

// next читает следующий кадр, пропуская события присутствия.
func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type != EventUserStatus {
			return f
		}
	}
}

func expect(t *testing.T, conn *websocket.Conn, eventType string) frame {
	t.Helper()
	f := next(t, conn)
	require.Equal(t, eventType, f.Type, "data: %s", string(f.Data))
	return f
}

func TestHub_PausedConversationReceivesMetaOnly(t *testing.T) {
	f := newHubFixture(t)
	user, convID := uuid.New(), uuid.New()
	f.access.allow(user, convID)
	conn := f.dial(t, user)

	send(t, conn, TypeJoinConversation, convID.String())
	expect(t, conn, EventJoined)

	send(t, conn, TypePauseUpdates, convID.String())
	expect(t, conn, EventUpdatesPaused)

	f.bus.PublishToConversation(context.Background(), convID, EventNewMessage, map[string]any{
		"conversation_id": convID,
		"message":         map[string]string{"content": "секрет"},
	})
	meta := expect(t, conn, EventNewMessageMeta)
	assert.JSONEq(t, `{"conversation_id":"`+convID.String()+`"}`, string(meta.Data))

	send(t, conn, TypeResumeUpdates, convID.String())
	expect(t, conn, EventUpdatesResumed)

	f.bus.PublishToConversation(context.Background(), convID, EventNewMessage, map[string]any{
		"conversation_id": convID,
		"message":         map[string]string{"content": "привет"},
	})
	full := expect(t, conn, EventNewMessage)
	assert.Contains(t, string(full.Data), "привет")
}

func TestHub_PauseDoesNotAffectOtherEvents(t *testing.T) {
	f := newHubFixture(t)
	user, convID := uuid.New(), uuid.New()
	f.access.allow(user, convID)
	conn := f.dial(t, user)

	send(t, conn, TypeJoinConversation, convID.String())
	expect(t, conn, EventJoined)
	send(t, conn, TypePauseUpdates, convID.String())
	expect(t, conn, EventUpdatesPaused)

	f.bus.PublishToConversation(context.Background(), convID, EventMessagesRead, map[string]any{
		"conversation_id": convID,
		"user_id":         uuid.New(),
	})
	expect(t, conn, EventMessagesRead)
}

func TestHub_JoinRequiresMembership(t *testing.T) {
	f := newHubFixture(t)
	user, convID := uuid.New(), uuid.New()
	conn := f.dial(t, user)

	send(t, conn, TypeJoinConversation, convID.String())
	expect(t, conn, EventError)

	// событие беседы до неё не доходит
	f.bus.PublishToConversation(context.Background(), convID, EventNewMessage, map[string]any{"conversation_id": convID})
	send(t, conn, TypePing, "")
	expect(t, conn, EventPong)
}

func TestHub_InvalidFrames(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, uuid.New())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	expect(t, conn, EventError)

	send(t, conn, "dance", "")
	expect(t, conn, EventError)

	send(t, conn, TypeJoinConversation, "nope")
	expect(t, conn, EventError)
}

func TestHub_UserTargetedNotification(t *testing.T) {
	f := newHubFixture(t)
	user := uuid.New()
	first := f.dial(t, user)
	second := f.dial(t, user)

	f.bus.PublishToUser(context.Background(), user, EventNotification, map[string]any{"notification": map[string]string{"title": "Оплата получена"}})

	for _, conn := range []*websocket.Conn{first, second} {
		got := expect(t, conn, EventNotification)
		assert.Contains(t, string(got.Data), "Оплата получена")
	}
}

func TestHub_LeaveStopsConversationEvents(t *testing.T) {
	f := newHubFixture(t)
	user, convID := uuid.New(), uuid.New()
	f.access.allow(user, convID)
	conn := f.dial(t, user)

	send(t, conn, TypeJoinConversation, convID.String())
	expect(t, conn, EventJoined)
	send(t, conn, TypeLeaveConversation, convID.String())
	expect(t, conn, EventLeft)

	f.bus.PublishToConversation(context.Background(), convID, EventConversationUpdate, map[string]any{"conversation_id": convID})
	send(t, conn, TypePing, "")
	expect(t, conn, EventPong)
}

func TestBroadcaster_BusMessageDispatch(t *testing.T) {
	f := newHubFixture(t)
	user := uuid.New()
	conn := f.dial(t, user)

	raw, err := json.Marshal(Event{Target: TargetUser, ID: user, Type: EventNotification, Data: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)
	f.bus.handleBusMessage(string(raw))
	got := expect(t, conn, EventNotification)
	assert.JSONEq(t, `{"x":1}`, string(got.Data))

	// мусор из шины игнорируется
	f.bus.handleBusMessage("{")
	f.bus.handleBusMessage(`{"target":"nobody"}`)
	send(t, conn, TypePing, "")
	expect(t, conn, EventPong)
}

func TestConversationOf(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id, conversationOf([]byte(`{"conversation_id":"`+id.String()+`","message":{}}`)))
	assert.Equal(t, uuid.Nil, conversationOf([]byte(`{"notification":{}}`)))
	assert.Equal(t, uuid.Nil, conversationOf([]byte(`[]`)))
}

func TestSession_PauseAppliesBeforeLaterEvents(t *testing.T) {
	hub := NewHub(context.Background())
	s := NewSession(nil, hub, uuid.New())
	convID := uuid.New()

	s.sendControl(control{kind: controlPause, conversationID: convID})
	require.True(t, s.enqueue(delivery{conversationID: convID, full: []byte("full"), meta: []byte("meta")}))
	s.sendControl(control{kind: controlForget, conversationID: convID})
	require.True(t, s.enqueue(delivery{conversationID: convID, full: []byte("full"), meta: []byte("meta")}))

	paused := make(pauseSet)
	var written []string
	for len(s.send) > 0 {
		if out := paused.render(<-s.send); out != nil {
			written = append(written, string(out))
		}
	}

	require.Len(t, written, 3)
	var confirm frame
	require.NoError(t, json.Unmarshal([]byte(written[0]), &confirm))
	assert.Equal(t, EventUpdatesPaused, confirm.Type)
	assert.Equal(t, "meta", written[1])
	assert.Equal(t, "full", written[2])
}

func TestHub_JoinAfterRemovalIsIgnored(t *testing.T) {
	hub := NewHub(context.Background())
	access := &fakeAccess{members: make(map[uuid.UUID]map[uuid.UUID]bool)}
	hub.SetAccess(access)

	user, convID := uuid.New(), uuid.New()
	access.allow(user, convID)
	s := NewSession(nil, hub, user)

	hub.addSession(s)
	hub.removeSession(s)

	ok, err := hub.join(context.Background(), s, convID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, hub.conversations)
	assert.Empty(t, s.joined)

	hub.addSession(s)
	assert.False(t, hub.Online(user))
}
