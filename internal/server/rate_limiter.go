// Package server accepts producer connections and runs one decoding session per connection.
package server

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// ConnRateLimiter tracks per-source-IP connection counts to keep a single
// producer host from flooding the listener. It uses a fixed window approach:
// counts are stored per window and reset when the window expires.
type ConnRateLimiter struct {
	mu           sync.Mutex
	current      map[netip.Addr]*atomic.Int64 // source IP → connections in current window
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int64

	rejected atomic.Int64 // total rejected connections
}

// RateLimiterConfig configures per-IP connection rate limiting.
type RateLimiterConfig struct {
	MaxPerWindow int           // Max connections per source IP per window (0 = disabled)
	Window       time.Duration // Window size (default 10s)
}

// NewConnRateLimiter creates a rate limiter. Returns nil if disabled (MaxPerWindow <= 0).
// A nil *ConnRateLimiter allows everything.
func NewConnRateLimiter(cfg RateLimiterConfig) *ConnRateLimiter {
	if cfg.MaxPerWindow <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &ConnRateLimiter{
		current:      make(map[netip.Addr]*atomic.Int64),
		windowStart:  time.Now(),
		windowSize:   cfg.Window,
		maxPerWindow: int64(cfg.MaxPerWindow),
	}
}

// Allow reports whether a new connection from ip is allowed at now.
func (l *ConnRateLimiter) Allow(ip netip.Addr, now time.Time) bool {
	if l == nil {
		return true
	}
	// IPv4-mapped IPv6 and plain IPv4 count as the same host
	ip = ip.Unmap()

	l.mu.Lock()
	if now.Sub(l.windowStart) >= l.windowSize {
		l.current = make(map[netip.Addr]*atomic.Int64)
		l.windowStart = now
	}
	counter, exists := l.current[ip]
	if !exists {
		counter = &atomic.Int64{}
		l.current[ip] = counter
	}
	l.mu.Unlock()

	if counter.Add(1) > l.maxPerWindow {
		l.rejected.Add(1)
		return false
	}
	return true
}

// Rejected returns the total number of rejected connections.
func (l *ConnRateLimiter) Rejected() int64 {
	if l == nil {
		return 0
	}
	return l.rejected.Load()
}
