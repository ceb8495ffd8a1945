package signal

import (
	"sync"

	"parley/internal/core/domain"
	"parley/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// connection is one live websocket with its outbound queue. A single writer
// goroutine drains the queue, so events enqueued in order are written in
// order. The queue never blocks the relay: a full queue drops the connection
// (slow-consumer policy).
type connection struct {
	id   domain.ConnID
	ws   *websocket.Conn
	send chan domain.Event

	closeOnce sync.Once
	done      chan struct{}
}

func (c *connection) enqueue(evt domain.Event) bool {
	select {
	case c.send <- evt:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Hub owns the connection registry and routes events to the connections
// bound to an identity. It is the transport-side implementation of
// ports.Sender.
type Hub struct {
	mu     sync.RWMutex
	conns  map[domain.ConnID]*connection
	byUser map[domain.UserID]map[domain.ConnID]*connection

	logger *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		conns:  make(map[domain.ConnID]*connection),
		byUser: make(map[domain.UserID]map[domain.ConnID]*connection),
		logger: logger,
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(id domain.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok {
		return
	}
	delete(h.conns, id)
	for _, conns := range h.byUser {
		delete(conns, id)
	}
	for user, conns := range h.byUser {
		if len(conns) == 0 {
			delete(h.byUser, user)
		}
	}
	c.close()
}

// bindUser indexes a connection under its identified user.
func (h *Hub) bindUser(id domain.ConnID, user domain.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok {
		return
	}
	conns, ok := h.byUser[user]
	if !ok {
		conns = make(map[domain.ConnID]*connection)
		h.byUser[user] = conns
	}
	conns[id] = c
}

// SendToUser enqueues the event on every connection bound to the identity.
func (h *Hub) SendToUser(user domain.UserID, evt domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.sendToUserLocked(user, evt)
}

func (h *Hub) sendToUserLocked(user domain.UserID, evt domain.Event) {
	for _, c := range h.byUser[user] {
		if !c.enqueue(evt) {
			h.logger.Warnw("send queue full, dropping connection",
				"conn_id", c.id, "identity", user, "event", evt.Type)
			c.close()
		}
	}
}

// SendToUsers fans one event out to several identities, preserving the
// caller's enqueue order per receiving connection.
func (h *Hub) SendToUsers(users []domain.UserID, evt domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, user := range users {
		h.sendToUserLocked(user, evt)
	}
}

// SendToConn targets one connection, identified or not. Used for error
// delivery, which is never room-wide.
func (h *Hub) SendToConn(id domain.ConnID, evt domain.Event) {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()

	if !ok {
		return
	}
	if !c.enqueue(evt) {
		c.close()
	}
}

// Broadcast delivers an event to every live connection.
func (h *Hub) Broadcast(evt domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if !c.enqueue(evt) {
			c.close()
		}
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

var _ ports.Sender = (*Hub)(nil)
