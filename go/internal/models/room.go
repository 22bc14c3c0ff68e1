package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus defines the lifecycle status of a room.
type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusPlaying RoomStatus = "playing"
	RoomStatusEnded   RoomStatus = "ended"
	RoomStatusClosed  RoomStatus = "closed"
)

// Valid reports whether s is one of the known room statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusWaiting, RoomStatusPlaying, RoomStatusEnded, RoomStatusClosed:
		return true
	}
	return false
}

// Room represents a game room as the server last reported it.
// The engine never patches a Room in place; every inbound record replaces it.
type Room struct {
	ID        uuid.UUID  `json:"id"`
	Status    RoomStatus `json:"status"`
	RegionID  string     `json:"region_id"`
	CreatedBy uuid.UUID  `json:"created_by"`
	Winner    *string    `json:"winner,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RoomPatch holds the fields a client may ask the server to change on a room.
type RoomPatch struct {
	Status   *RoomStatus `json:"status,omitempty"`
	RegionID *string     `json:"region_id,omitempty"`
	Winner   *string     `json:"winner,omitempty"`
}

// Winner tags carried on Room.Winner.
const (
	WinnerHunters = "hunters"
	WinnerRunners = "runners"
)
