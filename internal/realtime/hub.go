// Package realtime pushes bundle progress to WebSocket subscribers. Clients
// subscribe to one bundle; the hub fans progress snapshots out locally and
// relays them through Redis pub/sub so any instance's subscribers see updates
// regardless of which instance advanced the bundle.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// RedisPublisher publishes bundle events for cross-instance broadcast.
type RedisPublisher interface {
	PublishBundleEvent(bundleID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to a bundle's channel and invokes handler for
// incoming events.
type RedisSubscriber interface {
	SubscribeBundle(bundleID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains bundle_id -> set of connections and broadcasts messages.
type Hub struct {
	bundles  map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per bundle
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// NewHub creates a WebSocket hub. redisPub and redisSub may be nil for
// single-instance deployments.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		bundles:  make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a bundle room, starting the Redis subscription
// when it is the room's first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.bundles[c.BundleID] == nil {
		h.bundles[c.BundleID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeBundle(c.BundleID, func(event string, payload []byte) {
				h.BroadcastToBundle(c.BundleID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.BundleID] = cancel
			}
		}
	}
	h.bundles[c.BundleID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client subscribed to bundle",
		zap.String("client_id", c.ID), zap.String("bundle_id", c.BundleID.String()))
}

// Unregister removes a client, cancelling the Redis subscription when the
// last client leaves the room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.bundles[c.BundleID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.bundles, c.BundleID)
			if cancel, ok := h.subs[c.BundleID]; ok {
				cancel()
				delete(h.subs, c.BundleID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client unsubscribed from bundle",
		zap.String("client_id", c.ID), zap.String("bundle_id", c.BundleID.String()))
}

// BroadcastToBundle sends a message to all local clients subscribed to a bundle.
func (h *Hub) BroadcastToBundle(bundleID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.bundles[bundleID]
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastToBundleAndPublish sends to local clients and publishes to Redis
// for other instances.
func (h *Hub) BroadcastToBundleAndPublish(bundleID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.BroadcastToBundle(bundleID, event, json.RawMessage(data))
	if h.redis != nil {
		_ = h.redis.PublishBundleEvent(bundleID, event, data)
	}
}

// SubscriberCount returns the number of connected clients for a bundle.
func (h *Hub) SubscriberCount(bundleID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bundles[bundleID])
}
