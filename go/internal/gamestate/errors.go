package gamestate

import "errors"

var (
	// ErrNoIdentity is returned when a room-scoped action needs the local user
	// and none has been set.
	ErrNoIdentity = errors.New("no local identity")
	// ErrNotLocalPlayer is returned when a local edit targets another user.
	ErrNotLocalPlayer = errors.New("edit targets a player other than the local one")
	// ErrNoRoom is returned when an action needs a joined room.
	ErrNoRoom = errors.New("no room joined")
	// ErrInvalidValue is returned for an edit carrying an unknown enum value.
	ErrInvalidValue = errors.New("invalid field value")
)
