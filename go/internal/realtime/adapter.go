package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/telemetry"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// SnapshotSource is what the adapter needs for the one-time state fetch
type SnapshotSource interface {
	FetchRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error)
	FetchPlayerStates(ctx context.Context, roomID uuid.UUID) ([]models.PlayerState, error)
}

// Config holds configuration for the change stream adapter
type Config struct {
	BufferSize int `yaml:"buffer_size"`
}

// DefaultConfig returns default adapter configuration
func DefaultConfig() Config {
	return Config{BufferSize: 256}
}

// Adapter joins a snapshot with live table subscriptions into one ordered
// stream of typed events for a room. Only one room is joined at a time.
type Adapter struct {
	transport Transport
	snapshots SnapshotSource
	metrics   telemetry.MetricsCollector
	config    Config

	mu     sync.Mutex
	active *generation
}

type generation struct {
	roomID uuid.UUID
	cancel context.CancelFunc
	subs   []Subscription
	done   chan struct{}
}

// NewAdapter creates a new change stream adapter
func NewAdapter(transport Transport, snapshots SnapshotSource, config Config, metrics telemetry.MetricsCollector) *Adapter {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	return &Adapter{
		transport: transport,
		snapshots: snapshots,
		metrics:   telemetry.OrNoOp(metrics),
		config:    config,
	}
}

// Join subscribes to the room's tables, then fetches the snapshot, and returns
// the merged event stream. Snapshot records come first, closed by a single
// EventSnapshotComplete. Any previous join is fully torn down first. The
// returned channel closes when ctx is cancelled, Leave is called, or every
// subscription has ended.
func (a *Adapter) Join(ctx context.Context, roomID uuid.UUID) (<-chan Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.teardownLocked()

	filters := []Filter{
		{Table: TablePlayerStates, Column: "room_id", Value: roomID.String()},
		{Table: TableRooms, Column: "id", Value: roomID.String()},
		{Table: TableGameEvents, Column: "room_id", Value: roomID.String()},
	}

	subs := make([]Subscription, 0, len(filters))
	for _, f := range filters {
		sub, err := a.transport.Subscribe(ctx, f)
		if err != nil {
			closeAll(subs)
			return nil, &SubscribeError{Table: f.Table, Err: err}
		}
		subs = append(subs, sub)
		log.Debug().
			Str("transport", a.transport.Name()).
			Str("table", f.Table).
			Str("filter", f.String()).
			Msg("subscribed")
	}

	// Subscriptions are live; anything committed from here on reaches us
	// through them, so the snapshot can only duplicate, never lose.
	room, players, err := a.fetchSnapshot(ctx, roomID)
	if err != nil {
		closeAll(subs)
		return nil, err
	}

	genCtx, cancel := context.WithCancel(ctx)
	gen := &generation{
		roomID: roomID,
		cancel: cancel,
		subs:   subs,
		done:   make(chan struct{}),
	}
	a.active = gen

	out := make(chan Event, a.config.BufferSize)
	go a.listen(genCtx, gen, filters, room, players, out)

	log.Info().
		Str("room_id", roomID.String()).
		Str("transport", a.transport.Name()).
		Int("snapshot_players", len(players)).
		Msg("joined room change stream")

	return out, nil
}

// Leave tears down the active subscriptions and waits for the listener to exit.
func (a *Adapter) Leave() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardownLocked()
}

// RoomID returns the currently joined room, if any
func (a *Adapter) RoomID() (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return uuid.Nil, false
	}
	return a.active.roomID, true
}

func (a *Adapter) teardownLocked() {
	gen := a.active
	if gen == nil {
		return
	}
	a.active = nil

	gen.cancel()
	closeAll(gen.subs)
	<-gen.done

	log.Info().Str("room_id", gen.roomID.String()).Msg("left room change stream")
}

func (a *Adapter) fetchSnapshot(ctx context.Context, roomID uuid.UUID) (models.Room, []models.PlayerState, error) {
	var (
		room    models.Room
		players []models.PlayerState
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := a.snapshots.FetchRoom(gctx, roomID)
		if err != nil {
			return &SnapshotError{Resource: TableRooms, Err: err}
		}
		room = r
		return nil
	})
	g.Go(func() error {
		ps, err := a.snapshots.FetchPlayerStates(gctx, roomID)
		if err != nil {
			return &SnapshotError{Resource: TablePlayerStates, Err: err}
		}
		players = ps
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.Room{}, nil, err
	}
	return room, players, nil
}

func (a *Adapter) listen(ctx context.Context, gen *generation, filters []Filter, room models.Room, players []models.PlayerState, out chan<- Event) {
	defer close(gen.done)
	defer close(out)

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(Event{Kind: EventRoomUpsert, Source: SourceSnapshot, Table: TableRooms, Room: &room}) {
		return
	}
	for i := range players {
		p := players[i]
		if !emit(Event{Kind: EventPlayerUpsert, Source: SourceSnapshot, Table: TablePlayerStates, Player: &p, UserID: p.UserID}) {
			return
		}
	}
	if !emit(Event{Kind: EventSnapshotComplete, Source: SourceSnapshot}) {
		return
	}

	chans := make([]<-chan Change, len(gen.subs))
	for i, sub := range gen.subs {
		chans[i] = sub.Changes()
	}
	open := len(chans)

	for open > 0 {
		var (
			change Change
			ok     bool
			idx    int
		)
		select {
		case <-ctx.Done():
			return
		case change, ok = <-chans[0]:
			idx = 0
		case change, ok = <-chans[1]:
			idx = 1
		case change, ok = <-chans[2]:
			idx = 2
		}

		if !ok {
			chans[idx] = nil
			open--
			if ctx.Err() != nil {
				return
			}
			log.Warn().
				Str("room_id", gen.roomID.String()).
				Str("table", filters[idx].Table).
				Msg("subscription ended")
			if !emit(Event{Kind: EventStreamLost, Source: SourceStream, Table: filters[idx].Table}) {
				return
			}
			continue
		}

		if !filters[idx].Matches(change) {
			continue
		}

		ev, keep, err := decodeChange(change)
		if err != nil {
			a.metrics.RecordChangeDropped(change.Table, "decode")
			log.Warn().
				Err(err).
				Str("table", change.Table).
				Str("op", string(change.Op)).
				Msg("dropping malformed change")
			continue
		}
		if !keep {
			continue
		}
		if !emit(ev) {
			return
		}
	}
}

func closeAll(subs []Subscription) {
	for _, sub := range subs {
		if err := sub.Close(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("failed to close subscription")
		}
	}
}

// String implements fmt.Stringer for log fields
func (e Event) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.Source)
}
