// Package wsserver implements the ConnectionSupervisor, MessageRouter, and
// per-connection lifecycle for the relayer's single WebSocket endpoint.
package wsserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const sendQueueSize = 64

// Connection wraps one accepted WebSocket with the per-connection state
// ConnectionSupervisor and SigVerifier both depend on: remoteAddr, the
// fixed (domain, uri) pair for the life of the socket, and a bounded
// outbound queue that enforces backpressure by dropping, never blocking.
type Connection struct {
	conn       *websocket.Conn
	remoteAddr string
	domain     string
	uri        string

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	mu         sync.Mutex
	subscribed map[string]struct{}
}

// NewConnection wraps an already-upgraded *websocket.Conn and starts its
// write pump. Callers must call Close when the connection is torn down
// (supervisor does this once its read loop returns).
func NewConnection(conn *websocket.Conn, remoteAddr, domain, uri string) *Connection {
	c := &Connection{
		conn:       conn,
		remoteAddr: remoteAddr,
		domain:     domain,
		uri:        uri,
		send:       make(chan []byte, sendQueueSize),
		closed:     make(chan struct{}),
		subscribed: make(map[string]struct{}),
	}
	go c.writePump()
	return c
}

// RemoteAddr returns the accepted connection's peer address.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Domain returns the Host-derived domain fixed for the life of the socket.
func (c *Connection) Domain() string { return c.domain }

// URI returns the scheme-qualified URI fixed for the life of the socket.
func (c *Connection) URI() string { return c.uri }

// TrySend enqueues message for delivery without blocking. Returns false if
// the connection is closed or its outbound queue is full (slow consumer);
// the hub treats false as "drop this membership" (spec §5 backpressure).
func (c *Connection) TrySend(message []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// MarkSubscribed/MarkUnsubscribed record channel membership on the
// connection side; nothing reads this record back, and the hub is the
// source of truth for fanout.
func (c *Connection) MarkSubscribed(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[channel] = struct{}{}
}

func (c *Connection) MarkUnsubscribed(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribed, channel)
}

// Close shuts the connection down with the given WebSocket close code and
// reason, exactly once. Safe to call concurrently and multiple times.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(2 * time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()
	})
}

// writePump drains send into the underlying socket until the connection
// closes. This is the only goroutine allowed to call conn.WriteMessage,
// per gorilla/websocket's single-writer requirement.
func (c *Connection) writePump() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write_failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}
