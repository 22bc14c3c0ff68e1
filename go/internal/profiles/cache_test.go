package profiles

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/models"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   [][]uuid.UUID
	known   map[uuid.UUID]string
	fail    bool
	release chan struct{}
}

func (f *fakeFetcher) FetchProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]uuid.UUID(nil), ids...))
	fail := f.fail
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("profile backend down")
	}

	var out []models.Profile
	for _, id := range ids {
		if name, ok := f.known[id]; ok {
			out = append(out, models.Profile{UserID: id, DisplayName: name})
		}
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
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

func TestRequestLoadsProfiles(t *testing.T) {
	id := uuid.New()
	f := &fakeFetcher{known: map[uuid.UUID]string{id: "Mei"}}
	c := NewCache(DefaultConfig(), clockwork.NewFakeClock(), f)
	defer c.Close()

	loaded := make(chan []models.Profile, 1)
	c.OnLoaded(func(ps []models.Profile) { loaded <- ps })

	c.Request([]uuid.UUID{id})
	select {
	case ps := <-loaded:
		if len(ps) != 1 || ps[0].DisplayName != "Mei" {
			t.Fatalf("loaded = %+v", ps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnLoaded not called")
	}

	if p, ok := c.Lookup(id); !ok || p.DisplayName != "Mei" {
		t.Fatalf("Lookup() = %+v, %v", p, ok)
	}

	// cached ids are not fetched again
	c.Request([]uuid.UUID{id})
	time.Sleep(20 * time.Millisecond)
	if n := f.callCount(); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
}

func TestRequestDeduplicatesInFlight(t *testing.T) {
	id := uuid.New()
	f := &fakeFetcher{known: map[uuid.UUID]string{id: "Mei"}, release: make(chan struct{})}
	c := NewCache(DefaultConfig(), clockwork.NewFakeClock(), f)
	defer c.Close()

	c.Request([]uuid.UUID{id})
	eventually(t, func() bool { return f.callCount() == 1 })
	c.Request([]uuid.UUID{id, id})
	c.Request([]uuid.UUID{id})

	close(f.release)
	eventually(t, func() bool {
		_, ok := c.Lookup(id)
		return ok
	})
	if n := f.callCount(); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
}

func TestRetryAllowedAfterFailure(t *testing.T) {
	id := uuid.New()
	clock := clockwork.NewFakeClock()
	f := &fakeFetcher{known: map[uuid.UUID]string{id: "Mei"}, fail: true}
	cfg := DefaultConfig()
	c := NewCache(cfg, clock, f)
	defer c.Close()

	c.Request([]uuid.UUID{id})
	eventually(t, func() bool { return f.callCount() == 1 })
	// wait for the failure to be recorded
	eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, inflight := c.inflight[id]
		return !inflight
	})

	// inside the retry delay
	c.Request([]uuid.UUID{id})
	time.Sleep(20 * time.Millisecond)
	if n := f.callCount(); n != 1 {
		t.Fatalf("fetch calls inside retry delay = %d, want 1", n)
	}

	f.setFail(false)
	clock.Advance(cfg.RetryAfter)
	c.Request([]uuid.UUID{id})
	eventually(t, func() bool {
		_, ok := c.Lookup(id)
		return ok
	})
}

func TestRequestBatches(t *testing.T) {
	f := &fakeFetcher{known: map[uuid.UUID]string{}}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	c := NewCache(cfg, clockwork.NewFakeClock(), f)
	defer c.Close()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	c.Request(ids)
	eventually(t, func() bool { return f.callCount() == 2 })
}

func TestPutAndClose(t *testing.T) {
	id := uuid.New()
	f := &fakeFetcher{}
	c := NewCache(DefaultConfig(), clockwork.NewFakeClock(), f)

	c.Put(models.Profile{UserID: id, DisplayName: "Local"})
	if p, ok := c.Lookup(id); !ok || p.DisplayName != "Local" {
		t.Fatalf("Lookup() after Put = %+v, %v", p, ok)
	}

	c.Close()
	c.Request([]uuid.UUID{uuid.New()})
	time.Sleep(10 * time.Millisecond)
	if n := f.callCount(); n != 0 {
		t.Fatalf("fetch after Close = %d calls, want 0", n)
	}
}

func TestRequestRacingClose(t *testing.T) {
	f := &fakeFetcher{known: map[uuid.UUID]string{}}
	c := NewCache(DefaultConfig(), clockwork.NewFakeClock(), f)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for range 50 {
				c.Request([]uuid.UUID{uuid.New()})
			}
		}()
	}

	close(start)
	c.Close()
	// every fetch started before Close has finished, and none start after
	after := f.callCount()
	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	if n := f.callCount(); n != after {
		t.Fatalf("fetches after Close = %d, want %d", n, after)
	}
}
