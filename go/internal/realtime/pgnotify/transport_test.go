package pgnotify

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/geotag/go/internal/realtime"
)

type fakeListener struct {
	notes  chan *pq.Notification
	pings  atomic.Int32
	closed atomic.Bool
}

func (f *fakeListener) NotificationChannel() <-chan *pq.Notification { return f.notes }
func (f *fakeListener) Ping() error                                   { f.pings.Add(1); return nil }
func (f *fakeListener) Close() error                                  { f.closed.Store(true); return nil }

var roomID = "5b0d1b50-8f5e-4c38-9d4b-2f8f7f1f6a10"

func playerPayload(room string) string {
	return fmt.Sprintf(`{"table":"player_states","type":"UPDATE","record":{"room_id":%q,"user_id":"0d7c2c7a-5b59-4b37-a6a0-5e1f1ef6bb11","role":"runner","status":"active"}}`, room)
}

func newTestSub() *subscription {
	return newSubscription("geotag_player_states", realtime.Filter{
		Table:  realtime.TablePlayerStates,
		Column: "room_id",
		Value:  roomID,
	}, 8)
}

func TestChannelName(t *testing.T) {
	tr := NewTransport(Config{ChannelPrefix: "game"}, nil)
	if got := tr.Channel(realtime.TableRooms); got != "game_rooms" {
		t.Fatalf("Channel() = %q, want game_rooms", got)
	}
	if got := NewTransport(Config{}, nil).Channel(realtime.TableRooms); got != "geotag_rooms" {
		t.Fatalf("default Channel() = %q, want geotag_rooms", got)
	}
}

func TestHandleFiltersRows(t *testing.T) {
	sub := newTestSub()

	tests := []struct {
		name    string
		payload string
		keep    bool
	}{
		{"matching room", playerPayload(roomID), true},
		{"other room", playerPayload("11111111-1111-1111-1111-111111111111"), false},
		{"garbage", "not json", false},
		{"no table", `{"type":"INSERT","record":{}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, keep := sub.handle(tt.payload)
			if keep != tt.keep {
				t.Fatalf("handle() keep = %v, want %v", keep, tt.keep)
			}
		})
	}
}

func TestRunDeliversAndStopsOnReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := &fakeListener{notes: make(chan *pq.Notification, 4)}
	sub := newTestSub()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sub.run(l, clock, time.Minute)
	}()

	l.notes <- &pq.Notification{Channel: sub.channel, Extra: playerPayload(roomID)}
	select {
	case c := <-sub.Changes():
		if c.Op != realtime.OpUpdate {
			t.Fatalf("change op = %s, want UPDATE", c.Op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	if err := clock.BlockUntilContext(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for l.pings.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener was not pinged")
		}
		time.Sleep(5 * time.Millisecond)
	}

	l.notes <- nil
	wg.Wait()

	if _, ok := <-sub.Changes(); ok {
		t.Fatal("changes channel still open after reconnect")
	}
	if !l.closed.Load() {
		t.Fatal("listener not closed")
	}
}

func TestCloseStopsRun(t *testing.T) {
	l := &fakeListener{notes: make(chan *pq.Notification)}
	sub := newTestSub()
	done := make(chan struct{})
	go func() {
		sub.run(l, clockwork.NewFakeClock(), time.Minute)
		close(done)
	}()

	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	_ = sub.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not exit after Close")
	}
}

func TestSubscribeAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	tr := NewTransport(Config{DatabaseURL: dsn, ChannelPrefix: "geotag_test"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := tr.Subscribe(ctx, realtime.Filter{Table: realtime.TablePlayerStates, Column: "room_id", Value: roomID})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	conn, err := pq.NewConnector(dsn)
	if err != nil {
		t.Fatal(err)
	}
	db := sql.OpenDB(conn)
	defer db.Close()

	if _, err := db.ExecContext(ctx, "SELECT pg_notify($1, $2)", tr.Channel(realtime.TablePlayerStates), playerPayload(roomID)); err != nil {
		t.Fatalf("pg_notify error = %v", err)
	}

	select {
	case c := <-sub.Changes():
		if c.Table != realtime.TablePlayerStates {
			t.Fatalf("change table = %s", c.Table)
		}
	case <-ctx.Done():
		t.Fatal("no notification received")
	}
}
