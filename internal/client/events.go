package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/feed"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 10 * time.Second
)

type wsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Events subscribes to a room's push events over the server WebSocket. It implements feed.EventChannel.
type Events struct {
	baseURL     string
	tag         string
	token       string
	dialer      *websocket.Dialer
	onReconnect func()
	logger      *zap.Logger
}

var _ feed.EventChannel = (*Events)(nil)

// NewEvents creates a WebSocket event channel for the server at baseURL (http or https).
// In a private room the server only forwards question content owned by tag.
func NewEvents(baseURL, tag string, logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{
		baseURL: strings.TrimRight(baseURL, "/"),
		tag:     tag,
		dialer:  &websocket.Dialer{HandshakeTimeout: DefaultTimeout},
		logger:  logger,
	}
}

// SetToken sends a lecturer bearer token on every dial, so the room owner
// receives every question of a private room.
func (e *Events) SetToken(token string) {
	e.token = token
}

// OnReconnect registers fn to run after the connection drops and is re-established.
// Events sent while disconnected are lost, so callers typically refresh.
func (e *Events) OnReconnect(fn func()) {
	e.onReconnect = fn
}

// Subscribe dials the room's event stream and dispatches every decoded event to h.
// Unknown events are ignored and malformed ones are dropped with a log line.
func (e *Events) Subscribe(ctx context.Context, roomID string, h feed.Handlers) (func(), error) {
	u, err := e.streamURL(roomID)
	if err != nil {
		return nil, err
	}
	conn, err := e.dial(ctx, u)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &stream{events: e, url: u, roomID: roomID, handlers: h, conn: conn, done: make(chan struct{})}
	go s.run(runCtx)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			s.close()
			<-s.done
		})
	}, nil
}

func (e *Events) streamURL(roomID string) (string, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("room_id", roomID)
	if e.tag != "" {
		q.Set("tag", e.tag)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *Events) dial(ctx context.Context, u string) (*websocket.Conn, error) {
	var header http.Header
	if e.token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + e.token}}
	}
	conn, resp, err := e.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "event stream refused"}
		}
		return nil, fmt.Errorf("dial events: %w", err)
	}
	if err := conn.WriteJSON(wsMessage{Event: "join"}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join room: %w", err)
	}
	return conn, nil
}

type stream struct {
	events   *Events
	url      string
	roomID   string
	handlers feed.Handlers

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

func (s *stream) run(ctx context.Context) {
	defer close(s.done)
	log := s.events.logger.With(zap.String("room_id", s.roomID))
	for {
		err := s.read()
		if ctx.Err() != nil {
			return
		}
		log.Warn("event stream disconnected", zap.Error(err))
		if !s.reconnect(ctx) {
			return
		}
		log.Info("event stream reconnected")
		if fn := s.events.onReconnect; fn != nil {
			fn()
		}
	}
}

// read consumes frames until the connection fails.
func (s *stream) read() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.events.logger.Warn("dropping undecodable frame", zap.String("room_id", s.roomID), zap.Error(err))
			continue
		}
		ev, err := feed.ParseEvent(msg.Event, msg.Data)
		switch {
		case errors.Is(err, feed.ErrUnknownEvent):
			s.events.logger.Debug("ignoring event", zap.String("event", msg.Event))
			continue
		case err != nil:
			s.events.logger.Warn("dropping malformed event", zap.String("room_id", s.roomID), zap.String("event", msg.Event), zap.Error(err))
			continue
		}
		s.handlers.Dispatch(ev)
	}
}

func (s *stream) reconnect(ctx context.Context) bool {
	backoff := minBackoff
	for {
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		conn, err := s.events.dial(ctx, s.url)
		if err == nil {
			s.mu.Lock()
			if ctx.Err() != nil {
				s.mu.Unlock()
				conn.Close()
				return false
			}
			s.conn = conn
			s.mu.Unlock()
			return true
		}
		s.events.logger.Debug("reconnect failed", zap.String("room_id", s.roomID), zap.Duration("backoff", backoff), zap.Error(err))
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.conn.Close()
	}
}
