package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/capture"
	"github.com/mcdev12/geotag/go/internal/config"
	"github.com/mcdev12/geotag/go/internal/gamestate"
	"github.com/mcdev12/geotag/go/internal/geofence"
	"github.com/mcdev12/geotag/go/internal/heartbeat"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/overlay"
	"github.com/mcdev12/geotag/go/internal/realtime"
	"github.com/mcdev12/geotag/go/internal/telemetry"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined         = errors.New("not in a room")
	ErrRoomClosed        = errors.New("room is closed")
	ErrNotCreator        = errors.New("only the room creator can do that")
	ErrInvalidTransition = errors.New("room cannot move to that status")
	ErrClosed            = errors.New("session closed")
)

// Backend is the remote store the session reads from and writes to
type Backend interface {
	realtime.SnapshotSource
	UpsertPlayerState(ctx context.Context, upsert models.PlayerUpsert) error
	UpdateRoom(ctx context.Context, roomID uuid.UUID, patch models.RoomPatch) (models.Room, error)
	DeletePlayerState(ctx context.Context, roomID, userID uuid.UUID) error
}

// Deps are the session's collaborators. Profiles, Feedback, Metrics and Clock
// are optional.
type Deps struct {
	Backend   Backend
	Transport realtime.Transport
	Judge     capture.Judge
	Profiles  gamestate.ProfileSource
	Feedback  capture.Feedback
	Metrics   telemetry.MetricsCollector
	Clock     clockwork.Clock
}

// Session is one signed-in user's view of at most one room. It owns the
// change stream, the state, and every loop that runs for the room.
type Session struct {
	cfg     config.Engine
	userID  uuid.UUID
	clock   clockwork.Clock
	backend Backend

	state    *gamestate.Reconciler
	stream   *realtime.Adapter
	zone     *geofence.Clock
	beat     *heartbeat.Publisher
	capture  *capture.Arbiter
	overlays *overlay.Arbiter

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes Join, Leave and Close
	opMu   sync.Mutex
	mu     sync.Mutex
	gen    *generation
	seen   *eventLog
	health healthState
}

type generation struct {
	roomID uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a session for userID
func New(cfg config.Engine, userID uuid.UUID, deps Deps) *Session {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		userID:  userID,
		clock:   clock,
		backend: deps.Backend,
		ctx:     ctx,
		cancel:  cancel,
		seen:    newEventLog(256),
	}

	s.overlays = overlay.NewArbiter(clock, cfg.Overlay, deps.Metrics)
	s.state = gamestate.NewReconciler(cfg.State, clock, gamestate.Deps{
		Writer:   deps.Backend,
		Profiles: deps.Profiles,
		Metrics:  deps.Metrics,
		Regions:  cfg.Regions,
	})
	s.state.SetIdentity(userID)
	s.stream = realtime.NewAdapter(deps.Transport, deps.Backend, cfg.Realtime, deps.Metrics)
	s.zone = geofence.NewClock(cfg.Geofence, clock, s.state)
	s.beat = heartbeat.NewPublisher(cfg.Heartbeat, clock, s.state, deps.Backend, deps.Metrics, s.onHeartbeatError)
	s.capture = capture.NewArbiter(cfg.Capture, clock, capture.Deps{
		State:     s.state,
		Judge:     deps.Judge,
		Feedback:  deps.Feedback,
		Presenter: s.overlays,
		Metrics:   deps.Metrics,
	})

	s.state.OnPhaseChange(s.onPhaseChange)
	s.state.OnRemoteError(s.onRemoteError)
	return s
}

func (s *Session) UserID() uuid.UUID            { return s.userID }
func (s *Session) State() *gamestate.Reconciler { return s.state }
func (s *Session) Overlays() *overlay.Arbiter   { return s.overlays }

// Candidate evaluates the capture candidate against the current state
func (s *Session) Candidate() capture.Candidate {
	return s.capture.Evaluate()
}

// Join enters roomID. The snapshot is applied before Join returns; the live
// stream is consumed in the background. If the local player has no record
// in the room yet it is seated with role (runner when empty). An existing
// seat keeps its status and takes the new role when one is given.
func (s *Session) Join(ctx context.Context, roomID uuid.UUID, role models.Role) error {
	if role != "" && !role.Valid() {
		return fmt.Errorf("%w: role %q", gamestate.ErrInvalidValue, role)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	s.teardown()
	s.state.BeginRoom(roomID)

	// the caller's ctx bounds the join itself, not the stream's lifetime
	genCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)

	events, err := s.stream.Join(genCtx, roomID)
	if err != nil {
		stop()
		cancel()
		s.state.Reset()
		s.streamFailed(err)
		return fmt.Errorf("failed to join room %s: %w", roomID, err)
	}

	err = s.applySnapshot(genCtx, events)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		s.stream.Leave()
		s.state.Reset()
		return fmt.Errorf("failed to join room %s: %w", roomID, err)
	}
	if s.state.Phase() == gamestate.PhaseSetup {
		cancel()
		s.stream.Leave()
		s.state.Reset()
		return fmt.Errorf("failed to join room %s: %w", roomID, ErrRoomClosed)
	}

	gen := &generation{roomID: roomID, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.gen = gen
	s.health.streamLive = true
	s.mu.Unlock()
	go s.consume(gen, events)

	log.Info().
		Str("room_id", roomID.String()).
		Str("user_id", s.userID.String()).
		Str("phase", string(s.state.Phase())).
		Msg("joined room")

	return s.seat(ctx, roomID, role)
}

func (s *Session) applySnapshot(ctx context.Context, events <-chan realtime.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: stream ended during snapshot", realtime.ErrConnectivity)
			}
			if ev.Kind == realtime.EventSnapshotComplete {
				return nil
			}
			s.apply(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) seat(ctx context.Context, roomID uuid.UUID, role models.Role) error {
	// a location reported before the seat is not a seat
	if local, ok := s.state.LocalPresence(); ok {
		if role == "" || role == local.Role {
			return nil
		}
		return s.state.SetLocalField(s.userID, gamestate.SetRole(role))
	}

	if role == "" {
		role = models.RoleRunner
	}
	status := models.PlayerStatusReady
	if s.state.Phase() == gamestate.PhasePlaying {
		status = models.PlayerStatusActive
	}
	err := s.backend.UpsertPlayerState(ctx, models.PlayerUpsert{
		RoomID: roomID,
		UserID: s.userID,
		Role:   role,
		Status: status,
	})
	if err != nil {
		s.onRemoteError("seat", err)
		return fmt.Errorf("failed to take a seat in room %s: %w", roomID, err)
	}
	return nil
}

func (s *Session) consume(gen *generation, events <-chan realtime.Event) {
	defer close(gen.done)
	ended := false
	for ev := range events {
		if s.apply(ev) && !ended {
			ended = true
			// Leave waits for this goroutine to drain, so it runs elsewhere
			go s.endClosed(gen)
		}
	}
	log.Debug().Str("room_id", gen.roomID.String()).Msg("event stream closed")
}

// apply routes one event and reports whether it closed the room
func (s *Session) apply(ev realtime.Event) bool {
	switch ev.Kind {
	case realtime.EventPlayerUpsert:
		s.state.ApplyAuthoritative(*ev.Player)
	case realtime.EventPlayerDelete:
		s.state.ApplyDelete(ev.UserID, ev.DeletedAt)
	case realtime.EventRoomUpsert:
		return s.state.ApplyRoomUpdate(*ev.Room) && ev.Room.Status == models.RoomStatusClosed
	case realtime.EventRoomDelete:
		s.state.ApplyRoomDelete()
		return true
	case realtime.EventGameEvent:
		s.handleGameEvent(*ev.GameEvent)
	case realtime.EventStreamLost:
		s.streamFailed(fmt.Errorf("%w: %s subscription ended", realtime.ErrConnectivity, ev.Table))
	}
	return false
}

// endClosed drops the change stream of a room the server closed. A Join,
// Leave or Close that ran first already tore gen down.
func (s *Session) endClosed(gen *generation) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	current := s.gen == gen
	if current {
		s.gen = nil
		s.health.streamLive = false
	}
	s.mu.Unlock()
	if !current {
		return
	}

	gen.cancel()
	s.stream.Leave()
	<-gen.done
	log.Info().Str("room_id", gen.roomID.String()).Msg("room closed, left change stream")
}

// Leave tears down the room and gives up the seat in it
func (s *Session) Leave(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	roomID := s.state.RoomID()
	s.teardown()
	if roomID == uuid.Nil {
		return nil
	}

	if err := s.backend.DeletePlayerState(ctx, roomID, s.userID); err != nil {
		return fmt.Errorf("failed to leave room %s: %w", roomID, err)
	}
	log.Info().Str("room_id", roomID.String()).Msg("left room")
	return nil
}

// SwitchRoom leaves the current room, if any, and joins roomID
func (s *Session) SwitchRoom(ctx context.Context, roomID uuid.UUID, role models.Role) error {
	if err := s.Leave(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to leave previous room, joining anyway")
	}
	return s.Join(ctx, roomID, role)
}

// Close tears everything down. The session cannot be reused.
func (s *Session) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.teardown()
	s.cancel()
	s.overlays.Clear()
}

// teardown must be called with opMu held
func (s *Session) teardown() {
	s.mu.Lock()
	gen := s.gen
	s.gen = nil
	s.health.streamLive = false
	s.seen.reset()
	s.mu.Unlock()

	if gen != nil {
		gen.cancel()
	}
	s.stream.Leave()
	if gen != nil {
		<-gen.done
	}
	s.beat.Stop()
	s.zone.Stop()
	s.capture.Reset()
	s.state.Reset()
}

// UpdateLocation records the device position
func (s *Session) UpdateLocation(c models.Coordinate) error {
	return s.state.SetLocalPosition(c)
}

// SetRole changes the local player's role
func (s *Session) SetRole(role models.Role) error {
	return s.state.SetLocalField(s.userID, gamestate.SetRole(role))
}

// SetEffects replaces the local player's effects
func (s *Session) SetEffects(effects models.Effects) error {
	return s.state.SetLocalField(s.userID, gamestate.SetEffects(effects))
}

func (s *Session) Lock(target uuid.UUID) (capture.Candidate, error) {
	return s.capture.Lock(target)
}

func (s *Session) Unlock() {
	s.capture.Unlock()
}

// Capture asks the server to judge a capture of target
func (s *Session) Capture(ctx context.Context, target uuid.UUID) (capture.Outcome, error) {
	return s.capture.Attempt(ctx, target)
}

func (s *Session) SetNavigationTarget(c models.Coordinate) {
	s.state.SetNavigationTarget(c)
}

func (s *Session) ClearNavigationTarget() {
	s.state.ClearNavigationTarget()
}

// SelectRegion picks the geofence region. The creator also stores it on the
// room while it is in the lobby.
func (s *Session) SelectRegion(ctx context.Context, regionID string) error {
	if err := s.state.SelectRegion(regionID); err != nil {
		return err
	}
	room, ok := s.state.Room()
	if !ok || room.CreatedBy != s.userID || room.Status != models.RoomStatusWaiting || room.RegionID == regionID {
		return nil
	}
	_, err := s.updateRoom(ctx, room.ID, models.RoomPatch{RegionID: &regionID})
	return err
}

// allowed room status moves for the creator
var roomMoves = map[models.RoomStatus][]models.RoomStatus{
	models.RoomStatusWaiting: {models.RoomStatusPlaying, models.RoomStatusClosed},
	models.RoomStatusPlaying: {models.RoomStatusEnded, models.RoomStatusClosed},
	models.RoomStatusEnded:   {models.RoomStatusWaiting, models.RoomStatusClosed},
}

func canMove(from, to models.RoomStatus) bool {
	for _, s := range roomMoves[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StartGame moves the lobby to playing
func (s *Session) StartGame(ctx context.Context) error {
	return s.moveRoom(ctx, models.RoomStatusPlaying, nil)
}

// EndGame ends a running game with the given winner tag
func (s *Session) EndGame(ctx context.Context, winner string) error {
	var w *string
	if winner != "" {
		w = &winner
	}
	return s.moveRoom(ctx, models.RoomStatusEnded, w)
}

// ReopenLobby starts a new episode in an ended room
func (s *Session) ReopenLobby(ctx context.Context) error {
	return s.moveRoom(ctx, models.RoomStatusWaiting, nil)
}

// CloseRoom closes the room for everyone
func (s *Session) CloseRoom(ctx context.Context) error {
	return s.moveRoom(ctx, models.RoomStatusClosed, nil)
}

func (s *Session) moveRoom(ctx context.Context, to models.RoomStatus, winner *string) error {
	room, ok := s.state.Room()
	if !ok {
		return ErrNotJoined
	}
	if room.CreatedBy != s.userID {
		return ErrNotCreator
	}
	if !canMove(room.Status, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, room.Status, to)
	}

	patch := models.RoomPatch{Status: &to, Winner: winner}
	if to == models.RoomStatusPlaying && room.RegionID == "" {
		if region, ok := s.state.SelectedRegion(); ok {
			patch.RegionID = &region.ID
		}
	}
	_, err := s.updateRoom(ctx, room.ID, patch)
	return err
}

// updateRoom writes patch and applies the returned room right away; the
// echo from the stream is then a no-op.
func (s *Session) updateRoom(ctx context.Context, roomID uuid.UUID, patch models.RoomPatch) (models.Room, error) {
	updated, err := s.backend.UpdateRoom(ctx, roomID, patch)
	if err != nil {
		s.onRemoteError("update_room", err)
		return models.Room{}, fmt.Errorf("failed to update room: %w", err)
	}
	s.state.ApplyRoomUpdate(updated)
	return updated, nil
}
