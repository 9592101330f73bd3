// Package realtime pushes claim and session changes to a principal's connected clients.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/internal/claims"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	EventClaimsChanged  = "claims_changed"
	EventSessionRevoked = "session_revoked"
)

// Hub maintains uid -> set of connections.
// With Redis configured, events are published only and delivered by the subscription so every
// instance (this one included) forwards them exactly once.
type Hub struct {
	// uid -> map[clientID]*Client
	principals map[string]map[string]*Client
	subs       map[string]func() // cancel Redis subscription per uid
	pending    map[string]bool   // uids whose subscription is being set up
	mu         sync.RWMutex
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance delivery).
type RedisPublisher interface {
	PublishPrincipalEvent(uid string, event string, payload []byte) error
}

// RedisSubscriber subscribes to principal channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribePrincipal(uid string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		principals: make(map[string]map[string]*Client),
		subs:       make(map[string]func()),
		pending:    make(map[string]bool),
		logger:     logger,
		redis:      redisPub,
		redisSub:   redisSub,
	}
}

// Register adds a client. Starts the Redis subscription for its uid on the first connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.principals[c.UID] == nil {
		h.principals[c.UID] = make(map[string]*Client)
	}
	h.principals[c.UID][c.ID] = c
	subscribe := h.redisSub != nil && h.subs[c.UID] == nil && !h.pending[c.UID]
	if subscribe {
		h.pending[c.UID] = true
	}
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("uid", c.UID))
	if subscribe {
		h.subscribe(c.UID)
	}
}

// subscribe runs the Redis round trip without the hub lock, then installs the subscription
// unless the uid's last client left meanwhile.
func (h *Hub) subscribe(uid string) {
	cancel, err := h.redisSub.SubscribePrincipal(uid, func(event string, payload []byte) {
		h.deliver(uid, event, json.RawMessage(payload))
	})
	if err != nil {
		h.mu.Lock()
		delete(h.pending, uid)
		h.mu.Unlock()
		h.logger.Warn("principal subscription failed", zap.String("uid", uid), zap.Error(err))
		return
	}
	h.mu.Lock()
	delete(h.pending, uid)
	_, live := h.principals[uid]
	if live {
		h.subs[uid] = cancel
	}
	h.mu.Unlock()
	if !live {
		cancel()
	}
}

// Unregister removes a client. Cancels the Redis subscription when the uid's last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.principals[c.UID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.principals, c.UID)
			if cancel, ok := h.subs[c.UID]; ok {
				cancel()
				delete(h.subs, c.UID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("uid", c.UID))
}

// Connections returns the number of local connections for uid.
func (h *Hub) Connections(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.principals[uid])
}

// Publish sends an event to every connection of uid across instances.
func (h *Hub) Publish(uid, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("event not encoded", zap.String("event", event), zap.Error(err))
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishPrincipalEvent(uid, event, data); err != nil {
			h.logger.Warn("event not published", zap.String("uid", uid), zap.String("event", event), zap.Error(err))
		}
		return
	}
	h.deliver(uid, event, data)
}

// ClaimsChanged notifies uid's clients to refresh their token.
func (h *Hub) ClaimsChanged(uid string, set claims.Set) {
	h.Publish(uid, EventClaimsChanged, set)
}

// SessionRevoked notifies uid's clients that their sessions are no longer honoured.
func (h *Hub) SessionRevoked(uid string) {
	h.Publish(uid, EventSessionRevoked, map[string]string{"uid": uid})
}

// deliver sends to local clients only.
func (h *Hub) deliver(uid, event string, data []byte) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.principals[uid] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}
