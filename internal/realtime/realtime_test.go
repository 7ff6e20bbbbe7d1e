package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, hub *Hub, lookup RoomLookup) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.GET("/ws", ServeWs(hub, zap.NewNop(), lookup))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServeWsDeliversRoomEvents(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	srv := newTestServer(t, hub, nil)
	roomID := uuid.NewString()
	conn := dial(t, srv, "room_id="+roomID+"&tag=Panda%231234")

	require.Eventually(t, func() bool { return hub.AudienceCount(roomID) == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishToRoom(roomID, "question-upvoted", map[string]interface{}{"id": "q1", "upvote_count": 2})
	hub.PublishToRoom(uuid.NewString(), "question-upvoted", map[string]interface{}{"id": "other"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "question-upvoted", msg.Event)
	assert.JSONEq(t, `{"id":"q1","upvote_count":2}`, string(msg.Data))

	_ = conn.Close()
	require.Eventually(t, func() bool { return hub.AudienceCount(roomID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeWsJoinBroadcastsAudience(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	srv := newTestServer(t, hub, nil)
	roomID := uuid.NewString()
	conn := dial(t, srv, "room_id="+roomID)

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "join"}))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "audience_count", msg.Event)
	assert.JSONEq(t, `{"count":1}`, string(msg.Data))
}

func TestServeWsRejectsBadRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	srv := newTestServer(t, hub, func(ctx context.Context, roomID string) (string, error) {
		return "", errors.New("no such room")
	})

	for query, want := range map[string]int{
		"":                            http.StatusBadRequest,
		"room_id=abc":                 http.StatusBadRequest,
		"room_id=" + uuid.NewString(): http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + "/ws?" + query)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, query)
	}
}

func TestRedisPubSubRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ps := NewRedisPubSub(rdb, nil)

	type received struct {
		event string
		data  []byte
		scope Scope
	}
	got := make(chan received, 1)
	cancel, err := ps.SubscribeRoom("r1", func(event string, payload []byte, scope Scope) {
		got <- received{event, payload, scope}
	})
	require.NoError(t, err)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"id": "q1"})
	require.NoError(t, ps.PublishRoomEvent("r1", "question-created", body, Scope{OwnerTag: "Owl#1"}))

	select {
	case r := <-got:
		assert.Equal(t, "question-created", r.event)
		assert.JSONEq(t, `{"id":"q1"}`, string(r.data))
		assert.Equal(t, "Owl#1", r.scope.OwnerTag)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestHubFansOutThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ps := NewRedisPubSub(rdb, nil)

	// Two hubs share Redis, as two server instances would.
	a := NewHub(nil, ps, ps)
	b := NewHub(nil, ps, ps)
	srvB := newTestServer(t, b, nil)
	roomID := uuid.NewString()
	conn := dial(t, srvB, "room_id="+roomID)
	require.Eventually(t, func() bool { return b.AudienceCount(roomID) == 1 }, time.Second, 10*time.Millisecond)

	a.PublishToRoom(roomID, "room-closed", map[string]string{"room_id": roomID})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "room-closed", msg.Event)
}

func TestHubReportsAudienceChanges(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	var mu sync.Mutex
	var counts []int
	hub.SetAudienceChangeHandler(func(roomID string, count int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "room-1", roomID)
		counts = append(counts, count)
	})

	a := &Client{ID: "a", RoomID: "room-1", send: make(chan WSMessage, 1)}
	b := &Client{ID: "b", RoomID: "room-1", send: make(chan WSMessage, 1)}
	hub.Register(a)
	hub.Register(b)
	hub.Unregister(a)
	hub.Unregister(b)
	hub.Unregister(b)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 1, 0}, counts)
}

func readEvent(t *testing.T, conn *websocket.Conn) (WSMessage, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg WSMessage
	err := conn.ReadJSON(&msg)
	return msg, err
}

func TestPublishToOwnerReachesOwnerAndModerators(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ps := NewRedisPubSub(rdb, nil)

	hub := NewHub(nil, ps, ps)
	owner := uuid.NewString()
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if c.Query("as") == "owner" {
			c.Set(middleware.ContextUserID, owner)
		}
	}, ServeWs(hub, zap.NewNop(), func(ctx context.Context, roomID string) (string, error) {
		return owner, nil
	}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	roomID := uuid.NewString()
	author := dial(t, srv, "room_id="+roomID+"&tag=Owl%231")
	other := dial(t, srv, "room_id="+roomID+"&tag=Fox%232")
	lecturer := dial(t, srv, "room_id="+roomID+"&as=owner")
	require.Eventually(t, func() bool { return hub.AudienceCount(roomID) == 3 }, time.Second, 10*time.Millisecond)

	hub.PublishToOwner(roomID, "Owl#1", "question-created", map[string]string{"id": "q1", "text": "private"})

	for name, conn := range map[string]*websocket.Conn{"author": author, "lecturer": lecturer} {
		msg, err := readEvent(t, conn)
		require.NoError(t, err, name)
		assert.Equal(t, "question-created", msg.Event, name)
	}
	_, err := readEvent(t, other)
	assert.Error(t, err, "other students must not receive the question")

	hub.PublishToRoom(roomID, "question-rejected", map[string]string{"id": "q1"})
	msg, err := readEvent(t, author)
	require.NoError(t, err)
	assert.Equal(t, "question-rejected", msg.Event)
}

type flakySubscriber struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakySubscriber) SubscribeRoom(roomID string, handler func(event string, payload []byte, scope Scope)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("redis down")
	}
	return func() {}, nil
}

type nopPublisher struct{}

func (nopPublisher) PublishRoomEvent(roomID string, event string, payload []byte, scope Scope) error {
	return nil
}

func TestHubRetriesSubscriptionAndServesLocalClients(t *testing.T) {
	sub := &flakySubscriber{fails: 1}
	hub := NewHub(nil, nopPublisher{}, sub)

	a := &Client{ID: "a", RoomID: "room-1", send: make(chan WSMessage, 1)}
	hub.Register(a)
	hub.PublishToRoom("room-1", "room-closed", map[string]string{"room_id": "room-1"})
	select {
	case msg := <-a.send:
		assert.Equal(t, "room-closed", msg.Event)
	default:
		t.Fatal("local client missed the event while unsubscribed")
	}

	b := &Client{ID: "b", RoomID: "room-1", send: make(chan WSMessage, 1)}
	hub.Register(b)
	assert.Equal(t, 2, sub.calls)
	assert.True(t, hub.subscribed("room-1"))

	hub.PublishToRoom("room-1", "room-closed", map[string]string{"room_id": "room-1"})
	assert.Empty(t, a.send, "subscribed rooms are served through redis")
}
