package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/korjavin/productinsight/internal/auth"
)

const (
	idleTTL       = 3 * time.Minute
	sweepInterval = time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	r        rate.Limit
	b        int
}

func newLimiterStore(r float64, b int) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*clientLimiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

func (s *limiterStore) get(client string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.limiters[client]; ok {
		v.lastSeen = now
		return v.limiter
	}
	l := rate.NewLimiter(s.r, s.b)
	s.limiters[client] = &clientLimiter{limiter: l, lastSeen: now}
	return l
}

// sweep drops limiters idle for longer than ttl.
func (s *limiterStore) sweep(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client, v := range s.limiters {
		if now.Sub(v.lastSeen) > ttl {
			delete(s.limiters, client)
		}
	}
}

func (s *limiterStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

func (s *limiterStore) run(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.sweep(now, idleTTL)
		}
	}
}

// RateLimit gives every client a token bucket of rps requests per second
// with the given burst. Clients are identified by API key when one is sent,
// otherwise by IP. The idle-client sweeper stops when ctx is done.
func RateLimit(ctx context.Context, rps float64, burst int) func(http.Handler) http.Handler {
	store := newLimiterStore(rps, burst)
	go store.run(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lim := store.get(clientKey(r), time.Now())
			if !lim.Allow() {
				retry := time.Second
				if rps > 0 {
					retry = time.Duration(float64(time.Second) / rps)
				}
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retry.Seconds()+0.5))))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if key := auth.KeyFrom(r); key != "" {
		return "key:" + key
	}
	return "ip:" + realIP(r)
}

// realIP extracts the client IP from common proxy headers or RemoteAddr.
func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
