package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/papertrade/trading-engine/internal/identity"
)

func TestAllow_WithinBudget(t *testing.T) {
	l := NewLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		if err := l.Allow("user1"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	if err := l.Allow("user1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 4 should be rejected, got %v", err)
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(time.Minute, 1)

	if err := l.Allow("user1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("user2"); err != nil {
		t.Fatalf("user2 should have its own budget: %v", err)
	}
	if err := l.Allow("user1"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("user1 should be over budget")
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(time.Minute, 2)
	l.now = func() time.Time { return clock }

	l.Allow("user1")
	clock = clock.Add(30 * time.Second)
	l.Allow("user1")

	if err := l.Allow("user1"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("third request inside the window should be rejected")
	}

	// 31s later the first request falls out of the trailing window.
	clock = clock.Add(31 * time.Second)
	if err := l.Allow("user1"); err != nil {
		t.Fatalf("request after window slid should be admitted: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	l := NewLimiter(time.Minute, 1)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req = req.WithContext(identity.WithUserID(req.Context(), "user1"))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("first request: status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", rr.Code)
	}
}

func TestMiddleware_FallsBackToRemoteAddr(t *testing.T) {
	l := NewLimiter(time.Minute, 1)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.RemoteAddr = "10.0.0.1:4567"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("first request: status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same addr: status %d, want 429", rr.Code)
	}
}
