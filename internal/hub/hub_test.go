package hub

import "testing"

type fakeConn struct {
	alive bool
	sent  [][]byte
}

func (c *fakeConn) TrySend(message []byte) bool {
	if !c.alive {
		return false
	}
	c.sent = append(c.sent, message)
	return true
}

func TestSubscribeBroadcastDelivers(t *testing.T) {
	h := New()
	a := &fakeConn{alive: true}
	b := &fakeConn{alive: true}

	h.Subscribe("auction:1", a)
	h.Subscribe("auction:2", b)

	n := h.Broadcast("auction:1", []byte("hello"))
	if n != 1 {
		t.Fatalf("expected 1 recipient, got %d", n)
	}
	if len(a.sent) != 1 || len(b.sent) != 0 {
		t.Fatalf("message delivered to wrong connections: a=%d b=%d", len(a.sent), len(b.sent))
	}
}

func TestSubscribeUnsubscribeNetsZero(t *testing.T) {
	h := New()
	c := &fakeConn{alive: true}

	h.Subscribe("auction:1", c)
	h.Subscribe("auction:1", c)
	h.Unsubscribe("auction:1", c)

	if n := h.Broadcast("auction:1", []byte("x")); n != 0 {
		t.Fatalf("expected no members left, got %d recipients", n)
	}
}

func TestBroadcastDropsDeadConnections(t *testing.T) {
	h := New()
	dead := &fakeConn{alive: false}
	alive := &fakeConn{alive: true}

	h.Subscribe("auction:1", dead)
	h.Subscribe("auction:1", alive)

	n := h.Broadcast("auction:1", []byte("x"))
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	// Second broadcast must not still carry the dead connection.
	n2 := h.Broadcast("auction:1", []byte("y"))
	if n2 != 1 {
		t.Fatalf("expected dead connection to be dropped, got %d recipients", n2)
	}
}

func TestUnsubscribeAllClearsEverything(t *testing.T) {
	h := New()
	c := &fakeConn{alive: true}
	h.Register(c)
	h.Subscribe("auction:1", c)
	h.Subscribe("auction:2", c)
	h.Observe(c)

	removed := h.UnsubscribeAll(c)
	if removed != 3 {
		t.Fatalf("expected 3 memberships removed, got %d", removed)
	}
	if h.Broadcast("auction:1", []byte("x")) != 0 {
		t.Fatal("connection should no longer receive channel broadcasts")
	}
	if h.BroadcastToObservers([]byte("x")) != 0 {
		t.Fatal("connection should no longer receive observer broadcasts")
	}
}

func TestBroadcastAllReachesUnsubscribedConnections(t *testing.T) {
	h := New()
	c := &fakeConn{alive: true}
	h.Register(c)

	n := h.BroadcastAll([]byte("auction.started"))
	if n != 1 {
		t.Fatalf("expected registered-but-unsubscribed connection to receive broadcast, got %d", n)
	}
}
