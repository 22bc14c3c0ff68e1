package natsjs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mcdev12/geotag/go/internal/realtime"
	"github.com/nats-io/nats.go/jetstream"
)

const testRoom = "5b0d1b50-8f5e-4c38-9d4b-2f8f7f1f6a10"

func roomFilter() realtime.Filter {
	return realtime.Filter{Table: realtime.TableRooms, Column: "id", Value: testRoom}
}

func roomChange(id string) []byte {
	return []byte(`{"table":"rooms","type":"update","record":{"id":"` + id + `","status":"playing"}}`)
}

func TestSubject(t *testing.T) {
	cfg := DefaultConfig()
	want := "geotag.changes.rooms." + testRoom
	if got := cfg.Subject(roomFilter()); got != want {
		t.Fatalf("Subject() = %q, want %q", got, want)
	}
}

func TestDeliverFiltersAndDecodes(t *testing.T) {
	sub := newSubscription("s", roomFilter(), 4)

	sub.deliver([]byte("{broken"))
	sub.deliver(roomChange("00000000-0000-0000-0000-000000000001"))
	sub.deliver(roomChange(testRoom))

	select {
	case c := <-sub.Changes():
		if c.Op != realtime.OpUpdate || c.Table != realtime.TableRooms {
			t.Fatalf("change = %+v", c)
		}
	default:
		t.Fatal("expected the matching change to be delivered")
	}
	select {
	case c := <-sub.Changes():
		t.Fatalf("unexpected extra change %+v", c)
	default:
	}
}

func TestServerSideEndClosesChanges(t *testing.T) {
	sub := newSubscription("s", roomFilter(), 1)
	done := make(chan struct{})
	go sub.watch(done)
	close(done)

	select {
	case _, ok := <-sub.Changes():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("changes channel not closed")
	}

	// deliveries after the end are discarded, not panics
	sub.deliver(roomChange(testRoom))
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCloseUnblocksDeliver(t *testing.T) {
	sub := newSubscription("s", roomFilter(), 0)
	go sub.watch(make(chan struct{}))

	delivered := make(chan struct{})
	go func() {
		sub.deliver(roomChange(testRoom))
		close(delivered)
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Close()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("deliver still blocked after Close")
	}
}

func TestSubscribeAgainstJetStream(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}

	cfg := DefaultConfig()
	cfg.URL = url
	cfg.StreamName = "GEOTAG_TEST"
	tr, err := NewTransport(cfg)
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := tr.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.MemoryStorage,
	}); err != nil {
		t.Fatalf("create stream: %v", err)
	}

	sub, err := tr.Subscribe(ctx, roomFilter())
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if _, err := tr.js.Publish(ctx, cfg.Subject(roomFilter()), roomChange(testRoom)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case c := <-sub.Changes():
		if c.Table != realtime.TableRooms {
			t.Fatalf("change table = %s", c.Table)
		}
	case <-ctx.Done():
		t.Fatal("no change received")
	}
}
