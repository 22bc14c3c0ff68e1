package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/geotag/go/internal/models"
)

// EventKind represents the type of a decoded realtime event
type EventKind int

const (
	EventPlayerUpsert EventKind = iota
	EventPlayerDelete
	EventRoomUpsert
	EventRoomDelete
	EventGameEvent
	// EventSnapshotComplete follows the last snapshot record.
	EventSnapshotComplete
	// EventStreamLost is emitted once when a table subscription ends on its own.
	EventStreamLost
)

func (k EventKind) String() string {
	switch k {
	case EventPlayerUpsert:
		return "player_upsert"
	case EventPlayerDelete:
		return "player_delete"
	case EventRoomUpsert:
		return "room_upsert"
	case EventRoomDelete:
		return "room_delete"
	case EventGameEvent:
		return "game_event"
	case EventSnapshotComplete:
		return "snapshot_complete"
	case EventStreamLost:
		return "stream_lost"
	}
	return "unknown"
}

// Source tells whether an event came from the one-shot snapshot or the live stream
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourceStream   Source = "stream"
)

// Event is a typed, authoritative change for one entity
type Event struct {
	Kind   EventKind
	Source Source
	Table  string

	Player    *models.PlayerState
	UserID    uuid.UUID
	DeletedAt time.Time
	Room      *models.Room
	GameEvent *models.GameEvent
}

// decodeChange turns a raw change into a typed event. ok is false for changes
// the engine has no use for (e.g. updates to game event rows).
func decodeChange(c Change) (ev Event, ok bool, err error) {
	ev = Event{Source: SourceStream, Table: c.Table}

	switch c.Table {
	case TablePlayerStates:
		if c.Op == OpDelete {
			var key struct {
				UserID    uuid.UUID `json:"user_id"`
				UpdatedAt time.Time `json:"updated_at"`
			}
			if err := json.Unmarshal(c.OldRecord, &key); err != nil {
				return ev, false, fmt.Errorf("decode player delete key: %w", err)
			}
			if key.UserID == uuid.Nil {
				return ev, false, fmt.Errorf("player delete without user_id")
			}
			ev.Kind = EventPlayerDelete
			ev.UserID = key.UserID
			ev.DeletedAt = c.CommitTimestamp
			return ev, true, nil
		}
		p, err := decodePlayerState(c.Record)
		if err != nil {
			return ev, false, err
		}
		ev.Kind = EventPlayerUpsert
		ev.Player = &p
		ev.UserID = p.UserID
		return ev, true, nil

	case TableRooms:
		if c.Op == OpDelete {
			ev.Kind = EventRoomDelete
			return ev, true, nil
		}
		r, err := decodeRoom(c.Record)
		if err != nil {
			return ev, false, err
		}
		ev.Kind = EventRoomUpsert
		ev.Room = &r
		return ev, true, nil

	case TableGameEvents:
		if c.Op != OpInsert {
			return ev, false, nil
		}
		var ge models.GameEvent
		if err := json.Unmarshal(c.Record, &ge); err != nil {
			return ev, false, fmt.Errorf("decode game event: %w", err)
		}
		if ge.ID == uuid.Nil {
			return ev, false, fmt.Errorf("game event without id")
		}
		ev.Kind = EventGameEvent
		ev.GameEvent = &ge
		return ev, true, nil
	}

	return ev, false, fmt.Errorf("unexpected table %q", c.Table)
}

func decodePlayerState(raw json.RawMessage) (models.PlayerState, error) {
	var p models.PlayerState
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.PlayerState{}, fmt.Errorf("decode player state: %w", err)
	}
	if p.UserID == uuid.Nil || p.RoomID == uuid.Nil {
		return models.PlayerState{}, fmt.Errorf("player state missing key")
	}
	if !p.Role.Valid() {
		return models.PlayerState{}, fmt.Errorf("player state has unknown role %q", p.Role)
	}
	if !p.Status.Valid() {
		return models.PlayerState{}, fmt.Errorf("player state has unknown status %q", p.Status)
	}
	return p, nil
}

func decodeRoom(raw json.RawMessage) (models.Room, error) {
	var r models.Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Room{}, fmt.Errorf("decode room: %w", err)
	}
	if r.ID == uuid.Nil {
		return models.Room{}, fmt.Errorf("room missing id")
	}
	if !r.Status.Valid() {
		return models.Room{}, fmt.Errorf("room has unknown status %q", r.Status)
	}
	return r, nil
}
