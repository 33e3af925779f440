package wsserver

import (
	"testing"
	"time"
)

func TestFixedWindowLimiterAllowsExactlyMax(t *testing.T) {
	l := newFixedWindowLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if l.Allow() {
		t.Fatal("the M+1th call should be rejected")
	}
}

func TestFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	l := newFixedWindowLimiter(1, 5*time.Millisecond)

	if !l.Allow() {
		t.Fatal("first call should be allowed")
	}
	if l.Allow() {
		t.Fatal("second call within the window should be rejected")
	}
	time.Sleep(10 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("call after window elapses should be allowed again")
	}
}
