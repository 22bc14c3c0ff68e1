package gamestate

import "github.com/mcdev12/geotag/go/internal/models"

// Phase is the local room phase derived from the room status stream
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseLobby    Phase = "lobby"
	PhasePlaying  Phase = "playing"
	PhaseGameOver Phase = "gameOver"
)

// phaseFor maps a room status onto the phase it drives. closed maps to setup
// through a full reset.
func phaseFor(status models.RoomStatus) Phase {
	switch status {
	case models.RoomStatusWaiting:
		return PhaseLobby
	case models.RoomStatusPlaying:
		return PhasePlaying
	case models.RoomStatusEnded:
		return PhaseGameOver
	default:
		return PhaseSetup
	}
}

// PhaseChange describes one phase transition. Room is nil after a reset.
// ZoneCreated marks a playing to playing change emitted when the safe zone
// could only be built after play had started.
type PhaseChange struct {
	From        Phase
	To          Phase
	Room        *models.Room
	ZoneCreated bool
}

// PhaseListener is called after every phase transition, outside the state lock
type PhaseListener func(PhaseChange)
