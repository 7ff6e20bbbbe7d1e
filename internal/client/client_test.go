package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/feed"
	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/internal/realtime"
)

type captured struct {
	method, path, query, auth string
	body                      map[string]interface{}
}

func apiServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method, got.path, got.query = r.Method, r.URL.Path, r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestFetchAll(t *testing.T) {
	srv, got := apiServer(t, http.StatusOK, `{"success":true,"data":{"questions":[{"id":"q1","text":"why is the sky blue?","status":"answered","owner_tag":"Owl#1","upvote_count":3}]}}`)
	c := New(srv.URL+"/", "", nil)

	list, err := c.FetchAll(context.Background(), "r1", feed.FetchQuery{ViewerTag: "Owl#1", IncludeRejected: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusAnswered, list[0].Status)
	assert.Equal(t, 3, list[0].UpvoteCount)
	assert.Equal(t, "/rooms/r1/questions", got.path)
	assert.Equal(t, "include_rejected=true&tag=Owl%231", got.query)
	assert.Empty(t, got.auth)
}

func TestUpvoteSendsTagAndReturnsCount(t *testing.T) {
	srv, got := apiServer(t, http.StatusOK, `{"success":true,"data":{"id":"q1","upvote_count":8}}`)
	c := New(srv.URL, "", nil)

	n, err := c.Upvote(context.Background(), "q1", "Fox#0042")
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/questions/q1/upvote", got.path)
	assert.Equal(t, "Fox#0042", got.body["owner_tag"])
}

func TestModerationCallsCarryToken(t *testing.T) {
	cases := []struct {
		name   string
		call   func(c *Client) error
		method string
		path   string
	}{
		{"answer", func(c *Client) error { a := "see slides"; return c.MarkAnswered(context.Background(), "q1", &a) }, http.MethodPatch, "/questions/q1/answer"},
		{"reject", func(c *Client) error { return c.SoftDelete(context.Background(), "q1") }, http.MethodDelete, "/questions/q1"},
		{"restore", func(c *Client) error { return c.Restore(context.Background(), "q1") }, http.MethodPatch, "/questions/q1/restore"},
		{"purge", func(c *Client) error { return c.PermanentDelete(context.Background(), "q1") }, http.MethodDelete, "/questions/q1/permanent"},
		{"report", func(c *Client) error { return c.Report(context.Background(), "q1", "Owl#1", "spam") }, http.MethodPost, "/questions/q1/report"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, got := apiServer(t, http.StatusOK, `{"success":true,"data":{}}`)
			c := New(srv.URL, "tok", nil)
			require.NoError(t, tc.call(c))
			assert.Equal(t, tc.method, got.method)
			assert.Equal(t, tc.path, got.path)
			assert.Equal(t, "Bearer tok", got.auth)
		})
	}
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	srv, _ := apiServer(t, http.StatusBadRequest, `{"success":false,"error":"question must be at least 10 characters"}`)
	c := New(srv.URL, "", nil)

	_, err := c.Create(context.Background(), "r1", "short", "Owl#1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "question must be at least 10 characters", apiErr.Message)
}

func TestAPIErrorWithoutEnvelope(t *testing.T) {
	srv, _ := apiServer(t, http.StatusBadGateway, `<html>bad gateway</html>`)
	_, err := New(srv.URL, "", nil).JoinRoom(context.Background(), "ABC123")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func hubServer(t *testing.T) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := realtime.NewHub(zap.NewNop(), nil, nil)
	r := gin.New()
	r.GET("/ws", realtime.ServeWs(hub, zap.NewNop(), nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestEventsDispatchesDecodedEvents(t *testing.T) {
	srv, hub := hubServer(t)
	roomID := uuid.NewString()

	var mu sync.Mutex
	var upvotes []int
	closed := make(chan struct{})
	h := feed.Handlers{
		OnUpvoted: func(id string, n int) {
			mu.Lock()
			upvotes = append(upvotes, n)
			mu.Unlock()
		},
		OnRoomClosed: func() { close(closed) },
	}

	ev := NewEvents(srv.URL, "Owl#1", nil)
	unsubscribe, err := ev.Subscribe(context.Background(), roomID, h)
	require.NoError(t, err)
	defer unsubscribe()
	require.Eventually(t, func() bool { return hub.AudienceCount(roomID) == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishToRoom(roomID, "question-upvoted", map[string]interface{}{"id": "q1"}) // malformed: no count
	hub.PublishToRoom(roomID, "something-else", map[string]string{"id": "q1"})
	e := feed.UpvotedEvent("q1", 5)
	hub.PublishToRoom(roomID, string(e.Kind), e.Payload())
	e = feed.RoomClosedEvent(roomID)
	hub.PublishToRoom(roomID, string(e.Kind), e.Payload())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("room-closed not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{5}, upvotes)
}

func TestEventsUnsubscribeIsIdempotent(t *testing.T) {
	srv, hub := hubServer(t)
	roomID := uuid.NewString()

	unsubscribe, err := NewEvents(srv.URL, "", nil).Subscribe(context.Background(), roomID, feed.Handlers{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.AudienceCount(roomID) == 1 }, time.Second, 10*time.Millisecond)

	unsubscribe()
	unsubscribe()
	assert.Eventually(t, func() bool { return hub.AudienceCount(roomID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestEventsRejectedRoom(t *testing.T) {
	srv, _ := hubServer(t)
	_, err := NewEvents(srv.URL, "", nil).Subscribe(context.Background(), "not-a-uuid", feed.Handlers{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestEventsReconnects(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var join wsMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		if conns.Add(1) == 1 {
			return // drop the first connection right after join
		}
		_ = conn.WriteJSON(map[string]interface{}{"event": "question-restored", "data": map[string]string{"id": "q9"}})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	restored := make(chan string, 1)
	var reconnected atomic.Bool
	ev := NewEvents(srv.URL, "", nil)
	ev.OnReconnect(func() { reconnected.Store(true) })
	unsubscribe, err := ev.Subscribe(context.Background(), "r1", feed.Handlers{
		OnRestored: func(id string) { restored <- id },
	})
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case id := <-restored:
		assert.Equal(t, "q9", id)
	case <-time.After(5 * time.Second):
		t.Fatal("no event after reconnect")
	}
	assert.True(t, reconnected.Load())
	assert.Equal(t, int32(2), conns.Load())
}

func TestStreamURL(t *testing.T) {
	u, err := NewEvents("https://qbox.example.edu/api/", "Owl#7", nil).streamURL("r1")
	require.NoError(t, err)
	assert.Equal(t, "wss://qbox.example.edu/api/ws?room_id=r1&tag=Owl%237", u)
}

func TestEventsSendsLecturerToken(t *testing.T) {
	auth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	ev := NewEvents(srv.URL, "", nil)
	ev.SetToken("lecturer-token")
	unsubscribe, err := ev.Subscribe(context.Background(), uuid.NewString(), feed.Handlers{})
	require.NoError(t, err)
	defer unsubscribe()
	assert.Equal(t, "Bearer lecturer-token", <-auth)
}
