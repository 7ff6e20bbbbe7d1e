package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains room_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// roomID -> map[clientID]*Client
	rooms      map[string]map[string]*Client
	subs       map[string]func() // cancel Redis subscription per room
	mu         sync.RWMutex
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
	onAudience AudienceChangeHandler
}

// AudienceChangeHandler is called with a room's local connection count after it changes.
type AudienceChangeHandler func(roomID string, count int)

// Scope limits which clients of a room receive an event. The zero value reaches everyone.
type Scope struct {
	// OwnerTag restricts delivery to clients that joined with this tag and to moderators.
	OwnerTag string `json:"owner_tag,omitempty"`
}

func (s Scope) allows(c *Client) bool {
	return s.OwnerTag == "" || c.Moderator || c.Tag == s.OwnerTag
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishRoomEvent(roomID string, event string, payload []byte, scope Scope) error
}

// RedisSubscriber subscribes to room channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeRoom(roomID string, handler func(event string, payload []byte, scope Scope)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. Either Redis side may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetAudienceChangeHandler sets the callback for audience count changes (e.g. peak audience).
func (h *Hub) SetAudienceChangeHandler(fn AudienceChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAudience = fn
}

// Register adds a client to a room. Starts the Redis subscription for this room if
// it is not running yet, so a failed subscribe is retried by the next join.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.RoomID] == nil {
		h.rooms[c.RoomID] = make(map[string]*Client)
	}
	h.subscribeLocked(c.RoomID)
	h.rooms[c.RoomID][c.ID] = c
	count := len(h.rooms[c.RoomID])
	onAudience := h.onAudience
	h.mu.Unlock()
	if onAudience != nil {
		onAudience(c.RoomID, count)
	}
	h.logger.Debug("client joined room", zap.String("client_id", c.ID), zap.String("room_id", c.RoomID))
}

func (h *Hub) subscribeLocked(roomID string) {
	if h.redisSub == nil {
		return
	}
	if _, ok := h.subs[roomID]; ok {
		return
	}
	cancel, err := h.redisSub.SubscribeRoom(roomID, func(event string, payload []byte, scope Scope) {
		h.broadcast(roomID, event, payload, scope)
	})
	if err != nil {
		h.logger.Warn("redis room subscription failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	h.subs[roomID] = cancel
}

// Unregister removes a client from a room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	removed := false
	if m, ok := h.rooms[c.RoomID]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
			removed = true
		}
		count = len(m)
		if count == 0 {
			delete(h.rooms, c.RoomID)
			if cancel, ok := h.subs[c.RoomID]; ok {
				cancel()
				delete(h.subs, c.RoomID)
			}
		}
	}
	onAudience := h.onAudience
	h.mu.Unlock()
	if onAudience != nil && removed {
		onAudience(c.RoomID, count)
	}
	h.logger.Debug("client left room", zap.String("client_id", c.ID), zap.String("room_id", c.RoomID))
}

// BroadcastToRoom sends a message to all clients in a room (local only).
func (h *Hub) BroadcastToRoom(roomID string, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal room event", zap.String("event", event), zap.Error(err))
			return
		}
	}
	h.broadcast(roomID, event, data, Scope{})
}

func (h *Hub) broadcast(roomID string, event string, data []byte, scope Scope) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[roomID] {
		if !scope.allows(c) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishToRoom publishes to Redis only (no local broadcast), so the Redis subscriber
// callback performs the broadcast once for all instances including this one. Without
// Redis, or while this instance holds no subscription for the room, local clients
// are served directly.
func (h *Hub) PublishToRoom(roomID string, event string, payload interface{}) {
	h.publish(roomID, event, payload, Scope{})
}

// PublishToOwner publishes an event that only the clients joined with ownerTag
// and the room's moderators receive.
func (h *Hub) PublishToOwner(roomID, ownerTag string, event string, payload interface{}) {
	h.publish(roomID, event, payload, Scope{OwnerTag: ownerTag})
}

func (h *Hub) publish(roomID string, event string, payload interface{}, scope Scope) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal room event", zap.String("event", event), zap.Error(err))
		return
	}
	if h.redis != nil {
		err := h.redis.PublishRoomEvent(roomID, event, data, scope)
		if err != nil {
			h.logger.Error("publish room event", zap.String("room_id", roomID), zap.String("event", event), zap.Error(err))
		}
		if err == nil && h.subscribed(roomID) {
			return
		}
	}
	h.broadcast(roomID, event, data, scope)
}

// subscribed reports whether Redis delivers this room's events back to this instance.
func (h *Hub) subscribed(roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.redisSub == nil {
		return false
	}
	_, ok := h.subs[roomID]
	return ok
}

// AudienceCount returns the number of connected clients in a room.
func (h *Hub) AudienceCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
