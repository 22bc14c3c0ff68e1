package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/gamestate"
	"github.com/mcdev12/geotag/go/internal/models"
)

type fakeSource struct {
	mu       sync.Mutex
	presence gamestate.Presence
	ok       bool
}

func (s *fakeSource) LocalPresence() (gamestate.Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence, s.ok
}

func (s *fakeSource) set(fn func(*gamestate.Presence)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.presence)
	s.ok = true
}

type fakeWriter struct {
	mu      sync.Mutex
	upserts []models.PlayerUpsert
	fail    bool
}

func (w *fakeWriter) UpsertPlayerState(_ context.Context, u models.PlayerUpsert) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.upserts = append(w.upserts, u)
	if w.fail {
		return errors.New("network down")
	}
	return nil
}

func (w *fakeWriter) calls() []models.PlayerUpsert {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.PlayerUpsert(nil), w.upserts...)
}

func (w *fakeWriter) setFail(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = v
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

func startPublisher(t *testing.T, source *fakeSource, writer *fakeWriter, onError func(error)) (*Publisher, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	p := NewPublisher(DefaultConfig(), clock, source, writer, nil, onError)
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker not registered: %v", err)
	}
	return p, clock
}

func TestHeartbeatReadsCurrentRoleEachTick(t *testing.T) {
	pos := models.Coordinate{Lat: 51.5, Lng: -0.12}
	source := &fakeSource{}
	source.set(func(p *gamestate.Presence) {
		p.RoomID, p.UserID = uuid.New(), uuid.New()
		p.Role, p.Status, p.Position = models.RoleRunner, models.PlayerStatusActive, &pos
	})
	writer := &fakeWriter{}
	_, clock := startPublisher(t, source, writer, nil)

	clock.Advance(DefaultConfig().Interval)
	eventually(t, func() bool { return len(writer.calls()) == 1 })

	source.set(func(p *gamestate.Presence) { p.Role = models.RoleHunter })
	clock.Advance(DefaultConfig().Interval)
	eventually(t, func() bool { return len(writer.calls()) == 2 })

	calls := writer.calls()
	if calls[0].Role != models.RoleRunner || calls[1].Role != models.RoleHunter {
		t.Fatalf("roles = %s, %s; want runner then hunter", calls[0].Role, calls[1].Role)
	}
	if calls[1].Position == nil || *calls[1].Position != pos {
		t.Fatal("heartbeat without position")
	}
	if calls[1].Effects != nil {
		t.Fatal("heartbeat must not overwrite effects")
	}
}

func TestHeartbeatSkipsWithoutPosition(t *testing.T) {
	source := &fakeSource{}
	source.set(func(p *gamestate.Presence) { p.Role = models.RoleRunner })
	writer := &fakeWriter{}
	p, clock := startPublisher(t, source, writer, nil)

	clock.Advance(DefaultConfig().Interval)
	eventually(t, func() bool { return p.Status().Skipped == 1 })
	if n := len(writer.calls()); n != 0 {
		t.Fatalf("pushes without position = %d", n)
	}
}

func TestHeartbeatFailureSkippedAndRetriedNextTick(t *testing.T) {
	pos := models.Coordinate{Lat: 51.5, Lng: -0.12}
	source := &fakeSource{}
	source.set(func(p *gamestate.Presence) { p.Position = &pos })
	writer := &fakeWriter{fail: true}

	var mu sync.Mutex
	var errs []error
	p, clock := startPublisher(t, source, writer, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})

	clock.Advance(DefaultConfig().Interval)
	eventually(t, func() bool { return p.Status().Failures == 1 })
	if n := len(writer.calls()); n != 1 {
		t.Fatalf("attempts after one failing tick = %d, want 1 (no retry mid-cycle)", n)
	}

	writer.setFail(false)
	clock.Advance(DefaultConfig().Interval)
	eventually(t, func() bool { return !p.Status().LastSuccess.IsZero() })

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("error callbacks = %d, want 1", len(errs))
	}
}

func TestRestartKeepsOneLoop(t *testing.T) {
	pos := models.Coordinate{Lat: 51.5, Lng: -0.12}
	source := &fakeSource{}
	source.set(func(p *gamestate.Presence) { p.Position = &pos })
	writer := &fakeWriter{}
	p, clock := startPublisher(t, source, writer, nil)

	p.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}

	clock.Advance(DefaultConfig().Interval)
	eventually(t, func() bool { return len(writer.calls()) >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := len(writer.calls()); n != 1 {
		t.Fatalf("pushes = %d, want 1", n)
	}

	p.Stop()
	if p.Status().Running {
		t.Fatal("Running after Stop")
	}
}
