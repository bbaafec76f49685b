package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_SweepDropsStaleVisitors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewGlobalRateLimiter(ctx, 10, 5)
	rl.getVisitor("10.0.0.1")
	rl.getVisitor("10.0.0.2")

	rl.mu.Lock()
	rl.visitors["10.0.0.1"].lastSeen = time.Now().Add(-2 * visitorTTL)
	rl.mu.Unlock()

	rl.sweep(time.Now())

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["10.0.0.1"]; ok {
		t.Error("stale visitor should be swept")
	}
	if _, ok := rl.visitors["10.0.0.2"]; !ok {
		t.Error("fresh visitor should be kept")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	if got := clientIP(r); got != "192.0.2.7" {
		t.Errorf("clientIP = %q", got)
	}
	r.RemoteAddr = "[::1]"
	if got := clientIP(r); got != "::1" {
		t.Errorf("clientIP = %q", got)
	}
}
