package gateway

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/atlassonic/atlas/internal/config"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	maxTrackedIPs    = 10000

	limiterIdleTTL = 10 * time.Minute
	sweepInterval  = time.Minute
)

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

// authRateLimiter blocks an IP after too many failed authentications
// within authRateWindow.
type authRateLimiter struct {
	mu        sync.Mutex
	failures  map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time), now: time.Now}
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := clientIP(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.lastSweep = now
		for ip, times := range l.failures {
			if kept := recent(times, now); len(kept) == 0 {
				delete(l.failures, ip)
			} else {
				l.failures[ip] = kept
			}
		}
	}
	kept := recent(l.failures[host], now)
	if len(kept) == 0 {
		delete(l.failures, host)
		return true
	}
	l.failures[host] = kept
	return len(kept) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := clientIP(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.failures[host]; !ok && len(l.failures) >= maxTrackedIPs {
		l.evictOldestLocked()
	}
	l.failures[host] = append(l.failures[host], l.now())
}

func recent(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-authRateWindow)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (l *authRateLimiter) evictOldestLocked() {
	var oldestIP string
	var oldest time.Time
	for ip, times := range l.failures {
		if len(times) > 0 && (oldestIP == "" || times[0].Before(oldest)) {
			oldestIP, oldest = ip, times[0]
		}
	}
	if oldestIP != "" {
		delete(l.failures, oldestIP)
	}
}

// requestLimiter is a token bucket per client IP.
type requestLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	clients   map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRequestLimiter returns nil when rate limiting is disabled.
func newRequestLimiter(cfg config.RateLimitConfig) *requestLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	return &requestLimiter{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
		clients: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *requestLimiter) allow(remoteAddr string) bool {
	if l == nil {
		return true
	}
	host := clientIP(remoteAddr)
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.lastSweep = now
		for ip, e := range l.clients {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.clients, ip)
			}
		}
	}
	e, ok := l.clients[host]
	if !ok {
		if len(l.clients) >= maxTrackedIPs {
			l.mu.Unlock()
			return false
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[host] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}
