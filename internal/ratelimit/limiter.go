// Package ratelimit implements per-identity sliding-window admission control
// for the order-mutating routes. The execution pipeline stays correct without
// it; this only bounds request volume per user.
package ratelimit

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/papertrade/trading-engine/internal/identity"
)

// ErrRateLimited is returned when an identity exceeds its request budget for
// the current window.
var ErrRateLimited = errors.New("ratelimit: too many requests")

// Limiter admits at most Max requests per identity within the trailing
// Window.
type Limiter struct {
	Window time.Duration
	Max    int

	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

// NewLimiter creates a sliding-window limiter.
func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{
		Window:  window,
		Max:     max,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it is admitted.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.Window)

	recent := l.history[key][:0]
	for _, t := range l.history[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.Max {
		l.history[key] = recent
		return ErrRateLimited
	}
	l.history[key] = append(recent, now)
	return nil
}

// Middleware applies the limiter per authenticated user, falling back to the
// remote address for unauthenticated requests.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := identity.UserIDFrom(r.Context())
		if err != nil {
			key = r.RemoteAddr
		}
		if err := l.Allow(key); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests, please try again later"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
