package models

import (
	"time"

	"github.com/google/uuid"
)

// GameEventKind is the kind of a server-pushed game event record.
type GameEventKind string

const (
	GameEventCapture GameEventKind = "capture"
	GameEventAlert   GameEventKind = "alert"
	GameEventReveal  GameEventKind = "reveal"
	GameEventZone    GameEventKind = "zone"
)

// GameEvent is a transient record the server pushes for presentation.
type GameEvent struct {
	ID        uuid.UUID     `json:"id"`
	RoomID    uuid.UUID     `json:"room_id"`
	Kind      GameEventKind `json:"kind"`
	ActorID   *uuid.UUID    `json:"actor_id,omitempty"`
	TargetID  *uuid.UUID    `json:"target_id,omitempty"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}
