package geofence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakeZone struct {
	mu     sync.Mutex
	radius float64
	ticks  int
}

func (z *fakeZone) ShrinkSafeZone(step, floor float64) (float64, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.ticks++
	z.radius -= step
	if z.radius <= floor {
		z.radius = floor
		return z.radius, false
	}
	return z.radius, true
}

func (z *fakeZone) count() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.ticks
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func waitForTicker(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker not registered: %v", err)
	}
}

func tick(t *testing.T, clock *clockwork.FakeClock, zone *fakeZone, want int) {
	t.Helper()
	clock.Advance(DefaultConfig().Interval)
	eventually(t, func() bool { return zone.count() == want })
}

func TestClockShrinksEachTickUntilFloor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	zone := &fakeZone{radius: 115}
	c := NewClock(DefaultConfig(), clock, zone)

	c.Start()
	defer c.Stop()
	waitForTicker(t, clock)

	tick(t, clock, zone, 1)
	tick(t, clock, zone, 2)
	if !c.Running() {
		t.Fatal("clock stopped before floor")
	}
	tick(t, clock, zone, 3)

	eventually(t, func() bool { return !c.Running() })

	clock.Advance(10 * DefaultConfig().Interval)
	time.Sleep(20 * time.Millisecond)
	if n := zone.count(); n != 3 {
		t.Fatalf("ticks after floor = %d, want 3", n)
	}
}

func TestStopHaltsTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	zone := &fakeZone{radius: 10000}
	c := NewClock(DefaultConfig(), clock, zone)

	c.Start()
	waitForTicker(t, clock)
	tick(t, clock, zone, 1)

	c.Stop()
	c.Stop()
	if c.Running() {
		t.Fatal("Running() after Stop")
	}

	clock.Advance(5 * DefaultConfig().Interval)
	time.Sleep(20 * time.Millisecond)
	if n := zone.count(); n != 1 {
		t.Fatalf("ticks after Stop = %d, want 1", n)
	}
}

func TestRestartRunsSingleLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	zone := &fakeZone{radius: 10000}
	c := NewClock(DefaultConfig(), clock, zone)

	c.Start()
	waitForTicker(t, clock)
	c.Start()
	defer c.Stop()
	waitForTicker(t, clock)

	tick(t, clock, zone, 1)
	time.Sleep(20 * time.Millisecond)
	if n := zone.count(); n != 1 {
		t.Fatalf("ticks after restart = %d, want 1 (one loop)", n)
	}
}
