package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hourglasshq/hourglass/internal/api/helpers"
	"github.com/hourglasshq/hourglass/internal/apperr"
)

// KeyedLimiter holds one token bucket per key (remote IP or username).
type KeyedLimiter struct {
	keys    sync.Map
	rps     rate.Limit
	burst   int
	enabled bool
}

// NewKeyedLimiter creates a limiter with the given refill rate and burst.
// A disabled limiter admits everything; the toggle exists for load tests.
func NewKeyedLimiter(perMinute, burst int, enabled bool) *KeyedLimiter {
	l := &KeyedLimiter{
		rps:     rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		enabled: enabled,
	}
	if enabled {
		go l.cleanupLoop()
	}
	return l
}

// Allow consumes one token from the key's bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	if !l.enabled {
		return true
	}
	limiter, ok := l.keys.Load(key)
	if !ok {
		limiter, _ = l.keys.LoadOrStore(key, rate.NewLimiter(l.rps, l.burst))
	}
	return limiter.(*rate.Limiter).Allow()
}

func (l *KeyedLimiter) cleanupLoop() {
	// Periodic full wipe keeps the map bounded. Buckets refill to full
	// burst on recreation, which is acceptable slack for login endpoints.
	for {
		time.Sleep(10 * time.Minute)
		l.keys.Range(func(key, value interface{}) bool {
			l.keys.Delete(key)
			return true
		})
	}
}

// ByIP enforces the limit per remote address. Applied to the pre-auth
// routes (login, refresh), where the username cannot be trusted yet.
func (l *KeyedLimiter) ByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := helpers.GetRealIP(r).String()
		if !l.Allow("ip:" + ip) {
			slog.Warn("rate_limit_exceeded", "key", ip, "path", r.URL.Path)
			helpers.RespondKind(w, apperr.RateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ByUser enforces the limit per authenticated username. Applied to
// change-password, which runs behind the request gate.
func (l *KeyedLimiter) ByUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := GetPrincipal(r.Context())
		if err != nil {
			helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
			return
		}
		if !l.Allow("user:" + p.Username) {
			slog.Warn("rate_limit_exceeded", "key", p.Username, "path", r.URL.Path)
			helpers.RespondKind(w, apperr.RateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
