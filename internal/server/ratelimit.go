package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimiter bounds how many requests a single source IP may make per
// window. The payment processor retries rejected deliveries with backoff, so
// shedding a burst here loses no events.
type RateLimiter struct {
	mu         sync.Mutex
	deliveries map[string][]time.Time
	limit      int
	window     time.Duration
	nextSweep  time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window per IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 120
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		deliveries: make(map[string][]time.Time),
		limit:      limit,
		window:     window,
		nextSweep:  time.Now().Add(window),
	}
}

// Allow records a request from ip and reports whether it stays within the
// limit. Once per window the whole map is swept so IPs that went quiet do not
// accumulate forever.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)
	if now.After(rl.nextSweep) {
		rl.sweep(cutoff)
		rl.nextSweep = now.Add(rl.window)
	}

	recent := pruneBefore(rl.deliveries[ip], cutoff)
	if len(recent) >= rl.limit {
		rl.deliveries[ip] = recent
		return false
	}
	rl.deliveries[ip] = append(recent, now)
	return true
}

func (rl *RateLimiter) sweep(cutoff time.Time) {
	for ip, times := range rl.deliveries {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(rl.deliveries, ip)
		}
	}
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Middleware rejects over-limit requests with the same JSON error shape the
// wrapped endpoint uses.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			log.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("Rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the originating address, honoring the first hop recorded
// by a reverse proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
