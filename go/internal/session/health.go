package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/geotag/go/internal/capture"
	"github.com/mcdev12/geotag/go/internal/gamestate"
	"github.com/mcdev12/geotag/go/internal/heartbeat"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/overlay"
)

type healthState struct {
	streamLive  bool
	lastError   string
	lastErrorOp string
	lastErrorAt time.Time
	errors      int
}

// Health is a point-in-time summary of the session's connectivity
type Health struct {
	UserID          uuid.UUID        `json:"user_id"`
	RoomID          *uuid.UUID       `json:"room_id,omitempty"`
	Phase           gamestate.Phase  `json:"phase"`
	StreamLive      bool             `json:"stream_live"`
	GeofenceRunning bool             `json:"geofence_running"`
	Heartbeat       heartbeat.Status `json:"heartbeat"`
	Errors          int              `json:"errors"`
	LastError       string           `json:"last_error,omitempty"`
	LastErrorOp     string           `json:"last_error_op,omitempty"`
	LastErrorAt     *time.Time       `json:"last_error_at,omitempty"`
}

// Healthy reports whether a joined session still has its stream
func (h Health) Healthy() bool {
	return h.RoomID == nil || h.StreamLive
}

func (s *Session) recordError(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.errors++
	s.health.lastError = err.Error()
	s.health.lastErrorOp = op
	s.health.lastErrorAt = s.clock.Now()
}

// Health returns the session's connectivity summary
func (s *Session) Health() Health {
	h := Health{
		UserID:          s.userID,
		Phase:           s.state.Phase(),
		GeofenceRunning: s.zone.Running(),
		Heartbeat:       s.beat.Status(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != nil {
		id := s.gen.roomID
		h.RoomID = &id
	}
	h.StreamLive = s.health.streamLive
	h.Errors = s.health.errors
	if s.health.errors > 0 {
		h.LastError = s.health.lastError
		h.LastErrorOp = s.health.lastErrorOp
		at := s.health.lastErrorAt
		h.LastErrorAt = &at
	}
	return h
}

// Snapshot is everything a UI renders for one frame
type Snapshot struct {
	Phase      gamestate.Phase           `json:"phase"`
	Room       *models.Room              `json:"room,omitempty"`
	SafeZone   *models.SafeZone          `json:"safe_zone,omitempty"`
	Region     *models.Region            `json:"region,omitempty"`
	Players    []gamestate.DerivedPlayer `json:"players"`
	Candidate  capture.Candidate         `json:"candidate"`
	Overlay    *overlay.Request          `json:"overlay,omitempty"`
	Navigation *models.Coordinate        `json:"navigation_target,omitempty"`
}

// Snapshot reads the current render state
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Phase:     s.state.Phase(),
		Players:   s.state.DerivedPlayers(),
		Candidate: s.capture.Evaluate(),
	}
	if room, ok := s.state.Room(); ok {
		snap.Room = &room
	}
	if zone, ok := s.state.SafeZone(); ok {
		snap.SafeZone = &zone
	}
	if region, ok := s.state.SelectedRegion(); ok {
		snap.Region = &region
	}
	if req, ok := s.overlays.Current(); ok {
		snap.Overlay = &req
	}
	if target, ok := s.state.NavigationTarget(); ok {
		snap.Navigation = &target
	}
	return snap
}
