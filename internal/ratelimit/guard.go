// Package ratelimit bounds how fast agents can hit the server: one guard
// instance holds fixed-window counters per identity and per network
// origin. The structure is explicitly bounded; it can never grow without
// limit across the process lifetime.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"silentsync"
	"silentsync/internal/check"
)

// ErrRateLimited is returned when a counter exceeds its threshold. The
// caller answers with a retry-later signal, never a crash.
var ErrRateLimited = errors.New("rate limited")

const (
	defaultWindow     = time.Minute
	defaultMaxEntries = 16384
)

// Limits are the per-window thresholds. Zero disables a given check.
type Limits struct {
	Window        time.Duration
	HeartbeatsPer int // per identity
	RegistersPer  int // per origin
	LogsPer       int // per identity
	MaxEntries    int // counter map bound
}

func (l Limits) withDefaults() Limits {
	if l.Window <= 0 {
		l.Window = defaultWindow
	}
	if l.MaxEntries <= 0 {
		l.MaxEntries = defaultMaxEntries
	}
	return l
}

type counter struct {
	windowStart time.Time
	count       int
}

// Guard is the abuse guard. A single mutex covers the counter map; all
// other server state is row-scoped in the datastore.
type Guard struct {
	mu       sync.Mutex
	counters map[string]*counter
	limits   Limits
	clock    silentsync.Clock
}

func NewGuard(limits Limits, clock silentsync.Clock) *Guard {
	check.Assert(clock != nil, "ratelimit.NewGuard: clock must not be nil")
	return &Guard{
		counters: make(map[string]*counter),
		limits:   limits.withDefaults(),
		clock:    clock,
	}
}

// AllowHeartbeat charges one heartbeat against the identity's window.
func (g *Guard) AllowHeartbeat(identity string) error {
	return g.allow("hb:"+identity, g.limits.HeartbeatsPer)
}

// AllowRegistration charges one new-machine creation against the origin's
// window. Called only when a heartbeat would mint a fresh record.
func (g *Guard) AllowRegistration(origin string) error {
	return g.allow("reg:"+origin, g.limits.RegistersPer)
}

// AllowLog charges one forwarded log line against the identity's window.
func (g *Guard) AllowLog(identity string) error {
	return g.allow("log:"+identity, g.limits.LogsPer)
}

func (g *Guard) allow(key string, limit int) error {
	if limit <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	c, ok := g.counters[key]
	if !ok {
		if len(g.counters) >= g.limits.MaxEntries {
			g.sweepLocked(now)
		}
		if len(g.counters) >= g.limits.MaxEntries {
			// Map still full of live windows: refuse new keys rather
			// than grow. Existing well-behaved agents are unaffected.
			return ErrRateLimited
		}
		c = &counter{windowStart: now}
		g.counters[key] = c
	}

	if now.Sub(c.windowStart) >= g.limits.Window {
		c.windowStart = now
		c.count = 0
	}
	if c.count >= limit {
		return ErrRateLimited
	}
	c.count++
	return nil
}

// sweepLocked drops counters whose window has expired.
func (g *Guard) sweepLocked(now time.Time) {
	for key, c := range g.counters {
		if now.Sub(c.windowStart) >= g.limits.Window {
			delete(g.counters, key)
		}
	}
}

// Len reports the current number of live counters.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.counters)
}
