package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newGuard(limits Limits) (*Guard, *testClock) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewGuard(limits, clock), clock
}

func TestHeartbeatWindow(t *testing.T) {
	g, clock := newGuard(Limits{Window: time.Minute, HeartbeatsPer: 3})

	for i := range 3 {
		if err := g.AllowHeartbeat("hw-1"); err != nil {
			t.Fatalf("heartbeat %d rejected: %v", i, err)
		}
	}
	if err := g.AllowHeartbeat("hw-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th heartbeat: want ErrRateLimited, got %v", err)
	}

	// A different identity has its own counter.
	if err := g.AllowHeartbeat("hw-2"); err != nil {
		t.Fatalf("other identity rejected: %v", err)
	}

	// The fixed window rolls over.
	clock.Advance(time.Minute)
	if err := g.AllowHeartbeat("hw-1"); err != nil {
		t.Fatalf("heartbeat after window rollover rejected: %v", err)
	}
}

func TestDisabledLimit(t *testing.T) {
	g, _ := newGuard(Limits{Window: time.Minute})
	for range 100 {
		if err := g.AllowHeartbeat("hw-1"); err != nil {
			t.Fatalf("disabled limit rejected: %v", err)
		}
	}
}

func TestRegistrationPerOrigin(t *testing.T) {
	g, _ := newGuard(Limits{Window: time.Minute, RegistersPer: 2, HeartbeatsPer: 100})

	for i := range 2 {
		if err := g.AllowRegistration("10.0.0.5"); err != nil {
			t.Fatalf("registration %d rejected: %v", i, err)
		}
	}
	if err := g.AllowRegistration("10.0.0.5"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	// Registration pressure must not charge heartbeats.
	if err := g.AllowHeartbeat("10.0.0.5"); err != nil {
		t.Fatalf("heartbeat charged by registration counter: %v", err)
	}
}

func TestBoundedCounters(t *testing.T) {
	g, clock := newGuard(Limits{Window: time.Minute, HeartbeatsPer: 10, MaxEntries: 8})

	for i := range 8 {
		if err := g.AllowHeartbeat(fmt.Sprintf("hw-%d", i)); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}
	// Map full of live windows: new keys are refused, old keys still work.
	if err := g.AllowHeartbeat("hw-new"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("overflow key: want ErrRateLimited, got %v", err)
	}
	if err := g.AllowHeartbeat("hw-0"); err != nil {
		t.Fatalf("existing key rejected while map full: %v", err)
	}
	if g.Len() > 8 {
		t.Fatalf("counter map grew past bound: %d", g.Len())
	}

	// After the window passes, the sweep reclaims space for new keys.
	clock.Advance(time.Minute + time.Second)
	if err := g.AllowHeartbeat("hw-new"); err != nil {
		t.Fatalf("new key after sweep rejected: %v", err)
	}
	if g.Len() > 8 {
		t.Fatalf("sweep did not bound the map: %d", g.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	g, _ := newGuard(Limits{Window: time.Minute, HeartbeatsPer: 1000})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for range 100 {
				_ = g.AllowHeartbeat(fmt.Sprintf("hw-%d", id%2))
			}
		}(i)
	}
	wg.Wait()
}
