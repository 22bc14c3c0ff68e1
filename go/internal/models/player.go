package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the side a participant plays on.
type Role string

const (
	RoleHunter    Role = "hunter"
	RoleRunner    Role = "runner"
	RoleSpectator Role = "spectator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleHunter, RoleRunner, RoleSpectator:
		return true
	}
	return false
}

// PlayerStatus is the per-episode status of a participant.
type PlayerStatus string

const (
	PlayerStatusReady   PlayerStatus = "ready"
	PlayerStatusActive  PlayerStatus = "active"
	PlayerStatusCaught  PlayerStatus = "caught"
	PlayerStatusOffline PlayerStatus = "offline"
)

// Valid reports whether s is a known player status.
func (s PlayerStatus) Valid() bool {
	switch s {
	case PlayerStatusReady, PlayerStatusActive, PlayerStatusCaught, PlayerStatusOffline:
		return true
	}
	return false
}

// PlayerState is the unit of realtime synchronization, keyed by (RoomID, UserID).
type PlayerState struct {
	RoomID    uuid.UUID    `json:"room_id"`
	UserID    uuid.UUID    `json:"user_id"`
	Role      Role         `json:"role"`
	Status    PlayerStatus `json:"status"`
	Latitude  *float64     `json:"latitude,omitempty"`
	Longitude *float64     `json:"longitude,omitempty"`
	Effects   Effects      `json:"effects"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Position returns the last known coordinate, if the record carries a valid one.
func (p PlayerState) Position() (Coordinate, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return Coordinate{}, false
	}
	c := Coordinate{Lat: *p.Latitude, Lng: *p.Longitude}
	return c, c.Valid()
}

// SetPosition stores c as the last known coordinate.
func (p *PlayerState) SetPosition(c Coordinate) {
	lat, lng := c.Lat, c.Lng
	p.Latitude = &lat
	p.Longitude = &lng
}

// IsActiveRunner reports whether the player can currently be targeted for capture.
func (p PlayerState) IsActiveRunner() bool {
	return p.Role == RoleRunner && p.Status == PlayerStatusActive
}

// PlayerUpsert is the payload of the upsert-player-state remote write.
type PlayerUpsert struct {
	RoomID   uuid.UUID
	UserID   uuid.UUID
	Role     Role
	Status   PlayerStatus
	Position *Coordinate
	Effects  *Effects
}

// UpsertFromState builds the remote write for a full local record.
func UpsertFromState(p PlayerState) PlayerUpsert {
	u := PlayerUpsert{
		RoomID: p.RoomID,
		UserID: p.UserID,
		Role:   p.Role,
		Status: p.Status,
	}
	if pos, ok := p.Position(); ok {
		u.Position = &pos
	}
	effects := p.Effects
	u.Effects = &effects
	return u
}
