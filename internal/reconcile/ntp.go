package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"silentsync"
)

const (
	defaultNTPPool      = "pool.ntp.org"
	defaultNTPInterval  = 5 * time.Minute
	defaultNTPThreshold = 2 * time.Second
)

// SkewStatus is the last clock-skew measurement. Schedule windows are
// wall-clock comparisons; a server clock off by more than the threshold
// makes them enforce the wrong interval, so the daemon surfaces this on
// its health endpoint and the engine logs when it bites.
type SkewStatus struct {
	Offset    time.Duration
	Healthy   bool
	Error     string
	CheckedAt time.Time
}

// Checked reports whether at least one measurement has completed.
func (s SkewStatus) Checked() bool { return !s.CheckedAt.IsZero() }

// SkewChecker periodically measures the local clock against an NTP pool.
type SkewChecker struct {
	mu        sync.RWMutex
	status    SkewStatus
	pool      string
	interval  time.Duration
	threshold time.Duration
	clock     silentsync.Clock
}

func NewSkewChecker(clock silentsync.Clock, pool string) *SkewChecker {
	if pool == "" {
		pool = defaultNTPPool
	}
	return &SkewChecker{
		pool:      pool,
		interval:  defaultNTPInterval,
		threshold: defaultNTPThreshold,
		clock:     clock,
	}
}

// Run blocks, re-measuring on a fixed interval until ctx is cancelled.
func (c *SkewChecker) Run(ctx context.Context) {
	c.check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check()
		}
	}
}

func (c *SkewChecker) check() {
	resp, err := ntp.Query(c.pool)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if err != nil {
		c.status = SkewStatus{Error: err.Error(), Healthy: false, CheckedAt: now}
		return
	}

	offset := resp.ClockOffset
	if offset < 0 {
		offset = -offset
	}
	c.status = SkewStatus{
		Offset:    resp.ClockOffset,
		Healthy:   offset <= c.threshold,
		CheckedAt: now,
	}
}

// Status returns the latest measurement.
func (c *SkewChecker) Status() SkewStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
