// Package hub implements the SubscriptionHub: the channel fanout primitive
// connecting Registry mutations to live WebSocket connections.
package hub

import (
	"sync"
)

// Conn is the subset of a live connection the hub needs: a non-blocking
// send and a liveness check. wsserver.Connection satisfies this.
type Conn interface {
	// TrySend enqueues message for delivery, returning false if the
	// connection is closed or its outbound queue is full. A false return
	// means the hub should drop this connection's membership.
	TrySend(message []byte) bool
}

// Hub owns the channel -> members mapping, the independent vault-observer
// set, and the set of every live connection (for global broadcasts like
// auction.started that reach clients with no subscriptions yet). All
// mutation happens through handler goroutines; broadcasts snapshot
// membership before sending to avoid iterator invalidation (spec §4.5, §9).
type Hub struct {
	mu         sync.Mutex
	channels   map[string]map[Conn]struct{}
	observers  map[Conn]struct{}
	registered map[Conn]struct{}
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{
		channels:   make(map[string]map[Conn]struct{}),
		observers:  make(map[Conn]struct{}),
		registered: make(map[Conn]struct{}),
	}
}

// Register marks conn as live, making it reachable by BroadcastAll even
// before it subscribes to any channel. Called once on connection accept.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registered[conn] = struct{}{}
}

// Unregister removes conn from the live set. Called once on teardown,
// alongside UnsubscribeAll.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.registered, conn)
}

// Subscribe adds conn to channel's membership. Idempotent.
func (h *Hub) Subscribe(channel string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[Conn]struct{})
		h.channels[channel] = members
	}
	members[conn] = struct{}{}
}

// Unsubscribe removes conn from channel's membership. Idempotent.
func (h *Hub) Unsubscribe(channel string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

// UnsubscribeAll removes conn from every channel and the observer set,
// returning the number of memberships removed. Called once per connection
// teardown, alongside Unregister.
func (h *Hub) UnsubscribeAll(conn Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for channel, members := range h.channels {
		if _, ok := members[conn]; ok {
			delete(members, conn)
			removed++
			if len(members) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	if _, ok := h.observers[conn]; ok {
		delete(h.observers, conn)
		removed++
	}
	return removed
}

// Observe adds conn to the global vault-observer set.
func (h *Hub) Observe(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers[conn] = struct{}{}
}

// Unobserve removes conn from the observer set.
func (h *Hub) Unobserve(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.observers, conn)
}

// Broadcast sends payload (pre-encoded once by the caller) to each member
// of channel, dropping membership for any connection whose TrySend fails,
// and returns the number of recipients that accepted the message.
func (h *Hub) Broadcast(channel string, payload []byte) int {
	return h.broadcastTo(h.snapshotChannel(channel), payload)
}

// BroadcastToObservers sends payload to the independent observer set.
func (h *Hub) BroadcastToObservers(payload []byte) int {
	return h.broadcastTo(h.snapshotObservers(), payload)
}

// BroadcastAll sends payload to every registered connection, for events
// like auction.started that every connected client should see regardless
// of subscription.
func (h *Hub) BroadcastAll(payload []byte) int {
	return h.broadcastTo(h.snapshotRegistered(), payload)
}

func (h *Hub) snapshotChannel(channel string) []Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (h *Hub) snapshotObservers() []Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Conn, 0, len(h.observers))
	for c := range h.observers {
		out = append(out, c)
	}
	return out
}

func (h *Hub) snapshotRegistered() []Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Conn, 0, len(h.registered))
	for c := range h.registered {
		out = append(out, c)
	}
	return out
}

// broadcastTo sends payload to every connection in snapshot, removing any
// connection whose TrySend fails from all memberships (deferred removal,
// spec §9: snapshot the member set, mutate a deferred removal list).
func (h *Hub) broadcastTo(snapshot []Conn, payload []byte) int {
	delivered := 0
	var dead []Conn
	for _, c := range snapshot {
		if c.TrySend(payload) {
			delivered++
		} else {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		h.UnsubscribeAll(c)
		h.Unregister(c)
	}
	return delivered
}
