package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iliyamo/raffle-tickets/internal/config"
)

// memoryLimiter keeps one x/time/rate token bucket per key with the same
// capacity and refill rate as the Redis script.  Idle keys are dropped
// lazily during lookups.
type memoryLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newMemoryLimiter(cfg config.RateLimitConfig) *memoryLimiter {
	refill := cfg.RefillTokens
	if refill < 1 {
		refill = 1
	}
	perToken := cfg.RefillInterval / time.Duration(refill)
	return &memoryLimiter{
		entries:   make(map[string]*limiterEntry),
		limit:     rate.Every(perToken),
		burst:     cfg.Capacity,
		idleTTL:   cfg.TTL,
		lastSweep: time.Now(),
	}
}

func (m *memoryLimiter) decide(key string) decision {
	now := time.Now()
	lim := m.get(key, now)

	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return decision{retry: delay}
	}
	left := int64(lim.TokensAt(now))
	if left < 0 {
		left = 0
	}
	return decision{allowed: true, remaining: left}
}

func (m *memoryLimiter) get(key string, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) > m.idleTTL {
		cutoff := now.Add(-m.idleTTL)
		for k, e := range m.entries {
			if e.lastSeen.Before(cutoff) {
				delete(m.entries, k)
			}
		}
		m.lastSweep = now
	}

	if e, ok := m.entries[key]; ok {
		e.lastSeen = now
		return e.lim
	}
	lim := rate.NewLimiter(m.limit, m.burst)
	m.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}
