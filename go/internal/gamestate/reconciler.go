package gamestate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// RemoteWriter is the remote write path for the local player's row
type RemoteWriter interface {
	UpsertPlayerState(ctx context.Context, upsert models.PlayerUpsert) error
}

// ProfileSource resolves display identities. Request must not block and must
// not start a second fetch for a key already in flight.
type ProfileSource interface {
	Lookup(userID uuid.UUID) (models.Profile, bool)
	Request(userIDs []uuid.UUID)
}

// Config holds the reconciler's tunables
type Config struct {
	ProtectionWindow time.Duration `yaml:"protection_window"`
	PushDebounce     time.Duration `yaml:"push_debounce"`
	PushTimeout      time.Duration `yaml:"push_timeout"`
	StaleAfter       time.Duration `yaml:"stale_after"`
}

// DefaultConfig returns default reconciler configuration
func DefaultConfig() Config {
	return Config{
		ProtectionWindow: 2 * time.Second,
		PushDebounce:     300 * time.Millisecond,
		PushTimeout:      5 * time.Second,
		StaleAfter:       30 * time.Second,
	}
}

// Reconciler owns the room cache, the player map, the safe zone and the local
// mutation windows. Every producer goes through its methods; listeners and
// remote calls are run after the lock is released.
type Reconciler struct {
	config   Config
	clock    clockwork.Clock
	writer   RemoteWriter
	profiles ProfileSource
	metrics  telemetry.MetricsCollector
	regions  map[string]models.Region

	mu             sync.Mutex
	identity       uuid.UUID
	roomID         uuid.UUID
	room           *models.Room
	phase          Phase
	players        map[uuid.UUID]models.PlayerState
	tombstones     map[uuid.UUID]time.Time
	windows        windowArena
	pushes         map[Field]*pendingPush
	pushSeq        uint64
	safeZone       *models.SafeZone
	selectedRegion string
	navTarget      *models.Coordinate
	// normalizeStatus is set when a phase transition could not yet adjust the
	// local status because the local record had not arrived.
	normalizeStatus bool
	// seated is set once a server record for the local player has been
	// applied. Until then nothing is pushed and deferred holds the fields
	// whose push was held back.
	seated   bool
	deferred map[Field]struct{}
	// closed is the last room that closed or was deleted. Closed is terminal,
	// so every later record for it is a redelivery.
	closed roomMarker

	listeners      []PhaseListener
	errorListeners []func(op string, err error)
}

type roomMarker struct {
	id uuid.UUID
	at time.Time
}

type pendingPush struct {
	seq   uint64
	timer clockwork.Timer
}

// Deps are the reconciler's collaborators. Profiles and Metrics are optional.
type Deps struct {
	Writer   RemoteWriter
	Profiles ProfileSource
	Metrics  telemetry.MetricsCollector
	Regions  []models.Region
}

// NewReconciler creates a new state reconciler in phase setup
func NewReconciler(config Config, clock clockwork.Clock, deps Deps) *Reconciler {
	def := DefaultConfig()
	if config.ProtectionWindow <= 0 {
		config.ProtectionWindow = def.ProtectionWindow
	}
	if config.PushDebounce <= 0 {
		config.PushDebounce = def.PushDebounce
	}
	if config.PushTimeout <= 0 {
		config.PushTimeout = def.PushTimeout
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = def.StaleAfter
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	regions := make(map[string]models.Region, len(deps.Regions))
	for _, r := range deps.Regions {
		regions[r.ID] = r
	}

	return &Reconciler{
		config:     config,
		clock:      clock,
		writer:     deps.Writer,
		profiles:   deps.Profiles,
		metrics:    telemetry.OrNoOp(deps.Metrics),
		regions:    regions,
		phase:      PhaseSetup,
		players:    make(map[uuid.UUID]models.PlayerState),
		tombstones: make(map[uuid.UUID]time.Time),
		windows:    make(windowArena),
		pushes:     make(map[Field]*pendingPush),
		deferred:   make(map[Field]struct{}),
	}
}

// OnPhaseChange registers a listener for phase transitions
func (r *Reconciler) OnPhaseChange(l PhaseListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// OnRemoteError registers a listener for failed remote writes
func (r *Reconciler) OnRemoteError(l func(op string, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorListeners = append(r.errorListeners, l)
}

// SetIdentity sets the local user
func (r *Reconciler) SetIdentity(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity = userID
}

// Identity returns the local user, or uuid.Nil
func (r *Reconciler) Identity() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// BeginRoom resets all room state and scopes the reconciler to roomID
func (r *Reconciler) BeginRoom(roomID uuid.UUID) {
	changes := r.withLock(func() []PhaseChange {
		c := r.resetLocked()
		r.roomID = roomID
		r.closed = roomMarker{}
		return c
	})
	r.notify(changes)
}

// Reset clears all room state and returns to phase setup
func (r *Reconciler) Reset() {
	changes := r.withLock(func() []PhaseChange {
		c := r.resetLocked()
		r.roomID = uuid.Nil
		r.closed = roomMarker{}
		return c
	})
	r.notify(changes)
}

// ApplyAuthoritative applies a server record for one player. It reports
// whether the record changed local state.
func (r *Reconciler) ApplyAuthoritative(p models.PlayerState) bool {
	var applied bool
	changes := r.withLock(func() []PhaseChange {
		applied = r.applyPlayerLocked(p)
		return nil
	})
	r.notify(changes)
	return applied
}

func (r *Reconciler) applyPlayerLocked(p models.PlayerState) bool {
	if r.roomID != uuid.Nil && p.RoomID != r.roomID {
		r.metrics.RecordChangeDropped("player_states", "foreign_room")
		return false
	}
	if r.closed.id != uuid.Nil && p.RoomID == r.closed.id {
		r.metrics.RecordChangeDropped("player_states", "room_closed")
		return false
	}
	if deletedAt, ok := r.tombstones[p.UserID]; ok {
		if !p.UpdatedAt.After(deletedAt) {
			r.metrics.RecordChangeDropped("player_states", "tombstoned")
			return false
		}
		delete(r.tombstones, p.UserID)
	}

	existing, exists := r.players[p.UserID]
	if exists && p.UpdatedAt.Before(existing.UpdatedAt) {
		r.metrics.RecordChangeDropped("player_states", "stale")
		return false
	}

	now := r.clock.Now()
	if exists && p.UserID == r.identity && r.windows.anyActive(now) {
		merged, kept := r.windows.mergeAround(existing, p, now)
		r.players[p.UserID] = merged
		log.Debug().
			Str("user_id", p.UserID.String()).
			Interface("protected", kept).
			Msg("merged authoritative record around local edits")
	} else {
		r.players[p.UserID] = p
	}
	r.metrics.RecordChangeApplied("player_states", "upsert")

	if p.UserID == r.identity && r.identity != uuid.Nil && !r.seated {
		r.seated = true
		r.resumeDeferredLocked(now)
	}
	if p.UserID == r.identity && r.normalizeStatus {
		r.normalizeLocalStatusLocked()
	}
	return true
}

// resumeDeferredLocked schedules the pushes that were held back before the
// local seat existed. Edits whose window has lapsed were overwritten by the
// seat record and are not pushed.
func (r *Reconciler) resumeDeferredLocked(now time.Time) {
	for f := range r.deferred {
		if r.windows.active(f, now) {
			r.schedulePushLocked(f)
		}
	}
	clear(r.deferred)
}

// ApplyDelete removes a player. deletedAt guards against older records for the
// same key arriving after the delete; a zero deletedAt falls back to the last
// known update time.
func (r *Reconciler) ApplyDelete(userID uuid.UUID, deletedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tomb := deletedAt
	if existing, ok := r.players[userID]; ok {
		if existing.UpdatedAt.After(tomb) {
			tomb = existing.UpdatedAt
		}
		delete(r.players, userID)
		r.metrics.RecordChangeApplied("player_states", "delete")
	}
	if prev, ok := r.tombstones[userID]; !ok || tomb.After(prev) {
		r.tombstones[userID] = tomb
	}

	if userID == r.identity {
		r.windows.clear()
		r.cancelPushesLocked()
		r.seated = false
		clear(r.deferred)
	}
}

// ApplyRoomUpdate replaces the cached room and runs phase side effects
func (r *Reconciler) ApplyRoomUpdate(room models.Room) bool {
	var applied bool
	changes := r.withLock(func() []PhaseChange {
		if r.roomID != uuid.Nil && room.ID != r.roomID {
			r.metrics.RecordChangeDropped("rooms", "foreign_room")
			return nil
		}
		if r.closed.id != uuid.Nil && room.ID == r.closed.id {
			r.metrics.RecordChangeDropped("rooms", "room_closed")
			log.Debug().
				Str("room_id", room.ID.String()).
				Str("status", string(room.Status)).
				Time("closed_at", r.closed.at).
				Msg("dropped record for closed room")
			return nil
		}
		if r.room != nil && room.UpdatedAt.Before(r.room.UpdatedAt) {
			r.metrics.RecordChangeDropped("rooms", "stale")
			return nil
		}
		applied = true
		r.metrics.RecordChangeApplied("rooms", "upsert")

		if room.Status == models.RoomStatusClosed {
			c := r.resetLocked()
			r.closed = roomMarker{id: room.ID, at: room.UpdatedAt}
			return c
		}

		rc := room
		r.room = &rc
		r.roomID = room.ID

		if room.RegionID != "" && room.RegionID != r.selectedRegion {
			r.selectRegionLocked(room.RegionID)
		}
		return r.transitionLocked(phaseFor(room.Status))
	})
	r.notify(changes)
	return applied
}

// ApplyRoomDelete treats a deleted room like a closed one
func (r *Reconciler) ApplyRoomDelete() {
	changes := r.withLock(func() []PhaseChange {
		r.metrics.RecordChangeApplied("rooms", "delete")
		marker := roomMarker{id: r.roomID, at: r.clock.Now()}
		if r.room != nil {
			marker = roomMarker{id: r.room.ID, at: r.room.UpdatedAt}
		}
		c := r.resetLocked()
		r.closed = marker
		return c
	})
	r.notify(changes)
}

func (r *Reconciler) transitionLocked(to Phase) []PhaseChange {
	from := r.phase
	if from == to {
		return r.lateZoneLocked()
	}
	r.phase = to

	switch to {
	case PhaseLobby:
		if r.safeZone != nil {
			r.safeZone.Shrinking = false
		}
		r.normalizeStatus = true
		r.normalizeLocalStatusLocked()
	case PhasePlaying:
		r.initSafeZoneLocked()
		r.normalizeStatus = true
		r.normalizeLocalStatusLocked()
	case PhaseGameOver:
		if r.safeZone != nil {
			r.safeZone.Shrinking = false
		}
		r.navTarget = nil
		r.normalizeStatus = false
	}

	log.Info().
		Str("room_id", r.roomID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("room phase changed")

	return []PhaseChange{{From: from, To: to, Room: r.roomCopyLocked()}}
}

// normalizeLocalStatusLocked forces the local status the current phase
// requires: ready in the lobby, ready→active when playing. caught is never
// overridden while playing.
func (r *Reconciler) normalizeLocalStatusLocked() {
	local, ok := r.players[r.identity]
	if r.identity == uuid.Nil || !ok {
		return
	}
	r.normalizeStatus = false

	switch r.phase {
	case PhaseLobby:
		if local.Status != models.PlayerStatusReady {
			r.setLocalLocked(SetStatus(models.PlayerStatusReady))
		}
	case PhasePlaying:
		if local.Status == models.PlayerStatusReady {
			r.setLocalLocked(SetStatus(models.PlayerStatusActive))
		}
	}
}

// lateZoneLocked creates the safe zone when the region became known after
// play started. The change it returns tells listeners to start the clock.
func (r *Reconciler) lateZoneLocked() []PhaseChange {
	if r.phase != PhasePlaying || r.safeZone != nil {
		return nil
	}
	if !r.initSafeZoneLocked() {
		return nil
	}
	log.Info().
		Str("room_id", r.roomID.String()).
		Str("region_id", r.selectedRegion).
		Msg("safe zone created after play started")
	return []PhaseChange{{From: PhasePlaying, To: PhasePlaying, Room: r.roomCopyLocked(), ZoneCreated: true}}
}

func (r *Reconciler) initSafeZoneLocked() bool {
	region, ok := r.regions[r.selectedRegion]
	if !ok {
		log.Warn().
			Str("room_id", r.roomID.String()).
			Str("region_id", r.selectedRegion).
			Msg("cannot start safe zone without a known region")
		return false
	}
	r.safeZone = &models.SafeZone{
		Center:    region.Center,
		Radius:    region.InitialRadius,
		Shrinking: true,
	}
	r.metrics.RecordSafeZoneRadius(region.InitialRadius)
	return true
}

func (r *Reconciler) selectRegionLocked(regionID string) {
	if _, ok := r.regions[regionID]; !ok {
		log.Warn().Str("region_id", regionID).Msg("room references an unknown region")
	}
	r.selectedRegion = regionID
	log.Info().Str("region_id", regionID).Msg("selected region")
}

// resetLocked clears every piece of room state. Identity and the selected
// region survive.
func (r *Reconciler) resetLocked() []PhaseChange {
	from := r.phase
	r.room = nil
	r.players = make(map[uuid.UUID]models.PlayerState)
	r.tombstones = make(map[uuid.UUID]time.Time)
	r.windows.clear()
	r.cancelPushesLocked()
	r.safeZone = nil
	r.navTarget = nil
	r.normalizeStatus = false
	r.seated = false
	clear(r.deferred)
	r.phase = PhaseSetup

	if from == PhaseSetup {
		return nil
	}
	log.Info().Str("room_id", r.roomID.String()).Str("from", string(from)).Msg("room state reset")
	return []PhaseChange{{From: from, To: PhaseSetup}}
}

// SelectRegion changes the selected geofence region locally
func (r *Reconciler) SelectRegion(regionID string) error {
	var err error
	changes := r.withLock(func() []PhaseChange {
		if _, ok := r.regions[regionID]; !ok {
			err = fmt.Errorf("unknown region %q", regionID)
			return nil
		}
		r.selectRegionLocked(regionID)
		return r.lateZoneLocked()
	})
	r.notify(changes)
	return err
}

// SelectedRegion returns the selected region, if it is known
func (r *Reconciler) SelectedRegion() (models.Region, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	region, ok := r.regions[r.selectedRegion]
	return region, ok
}

// SetLocalField writes one protected field of the local player immediately,
// opens its mutation window and schedules a debounced remote push.
func (r *Reconciler) SetLocalField(userID uuid.UUID, edit Edit) error {
	if err := edit.validate(); err != nil {
		return fmt.Errorf("set %s: %w", edit.field, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.identity == uuid.Nil {
		return ErrNoIdentity
	}
	if userID != r.identity {
		return ErrNotLocalPlayer
	}
	if r.roomID == uuid.Nil {
		return ErrNoRoom
	}
	r.setLocalLocked(edit)
	return nil
}

func (r *Reconciler) setLocalLocked(edit Edit) {
	local, ok := r.players[r.identity]
	if !ok {
		local = models.PlayerState{RoomID: r.roomID, UserID: r.identity}
	}
	edit.apply(&local)
	r.players[r.identity] = local

	r.windows.open(edit.field, r.clock.Now(), r.config.ProtectionWindow)
	r.schedulePushLocked(edit.field)
}

// schedulePushLocked (re)arms the debounced push of one field. The sequence
// number makes a timer that fired concurrently with its replacement a no-op.
func (r *Reconciler) schedulePushLocked(field Field) {
	if prev, ok := r.pushes[field]; ok {
		prev.timer.Stop()
	}
	r.pushSeq++
	seq := r.pushSeq
	r.pushes[field] = &pendingPush{
		seq:   seq,
		timer: r.clock.AfterFunc(r.config.PushDebounce, func() { r.flush(field, seq) }),
	}
}

func (r *Reconciler) cancelPushesLocked() {
	for f, p := range r.pushes {
		p.timer.Stop()
		delete(r.pushes, f)
	}
}

func (r *Reconciler) flush(field Field, seq uint64) {
	r.mu.Lock()
	pending, ok := r.pushes[field]
	if !ok || pending.seq != seq {
		r.mu.Unlock()
		return
	}
	delete(r.pushes, field)

	if !r.seated {
		r.deferred[field] = struct{}{}
		r.mu.Unlock()
		log.Debug().Str("field", string(field)).Msg("holding local edit until seated")
		return
	}
	local, ok := r.players[r.identity]
	writer := r.writer
	r.mu.Unlock()

	if !ok || writer == nil {
		return
	}

	upsert := models.PlayerUpsert{
		RoomID: local.RoomID,
		UserID: local.UserID,
		Role:   local.Role,
		Status: local.Status,
	}
	if pos, ok := local.Position(); ok {
		upsert.Position = &pos
	}
	if field == FieldEffects {
		effects := local.Effects
		upsert.Effects = &effects
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.PushTimeout)
	defer cancel()

	start := r.clock.Now()
	err := writer.UpsertPlayerState(ctx, upsert)
	r.metrics.RecordRemoteWrite("upsert_player_state", err == nil, r.clock.Since(start))
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", local.RoomID.String()).
			Str("field", string(field)).
			Msg("failed to push local edit")
		r.reportError("upsert_player_state", err)
		return
	}
	log.Debug().Str("field", string(field)).Msg("pushed local edit")
}

func (r *Reconciler) reportError(op string, err error) {
	r.mu.Lock()
	listeners := append([]func(string, error){}, r.errorListeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l(op, err)
	}
}

// SetLocalPosition records the device location of the local player. Position
// is never protected and is pushed by the heartbeat, not here.
func (r *Reconciler) SetLocalPosition(c models.Coordinate) error {
	if !c.Valid() {
		return fmt.Errorf("set position: %w", ErrInvalidValue)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == uuid.Nil {
		return ErrNoIdentity
	}
	if r.roomID == uuid.Nil {
		return ErrNoRoom
	}
	local, ok := r.players[r.identity]
	if !ok {
		local = models.PlayerState{RoomID: r.roomID, UserID: r.identity}
	}
	local.SetPosition(c)
	r.players[r.identity] = local
	return nil
}

// ShrinkSafeZone shrinks the zone by step without going below floor. more is
// false once the zone is gone, no longer shrinking, or at the floor; the
// shrinking flag is cleared when the floor is reached.
func (r *Reconciler) ShrinkSafeZone(step, floor float64) (radius float64, more bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	zone := r.safeZone
	if zone == nil || !zone.Shrinking || r.phase != PhasePlaying {
		return 0, false
	}
	if zone.Radius <= floor {
		zone.Shrinking = false
		return zone.Radius, false
	}

	next := zone.Radius - step
	if next < floor {
		next = floor
	}
	zone.Radius = next
	r.metrics.RecordSafeZoneRadius(next)

	if next <= floor {
		zone.Shrinking = false
		log.Info().Str("room_id", r.roomID.String()).Float64("radius_m", next).Msg("safe zone reached floor")
		return next, false
	}
	return next, true
}

// SetNavigationTarget sets the point the local player is navigating to
func (r *Reconciler) SetNavigationTarget(c models.Coordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navTarget = &c
}

// ClearNavigationTarget clears any navigation target
func (r *Reconciler) ClearNavigationTarget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navTarget = nil
}

// NavigationTarget returns the current navigation target
func (r *Reconciler) NavigationTarget() (models.Coordinate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.navTarget == nil {
		return models.Coordinate{}, false
	}
	return *r.navTarget, true
}

// Phase returns the current phase
func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Room returns a copy of the cached room
func (r *Reconciler) Room() (models.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.room == nil {
		return models.Room{}, false
	}
	return *r.room, true
}

// RoomID returns the room the reconciler is scoped to
func (r *Reconciler) RoomID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// SafeZone returns a copy of the safe zone
func (r *Reconciler) SafeZone() (models.SafeZone, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.safeZone == nil {
		return models.SafeZone{}, false
	}
	return *r.safeZone, true
}

// Player returns one player's state
func (r *Reconciler) Player(userID uuid.UUID) (models.PlayerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[userID]
	return p, ok
}

// LocalPlayer returns the local player's state
func (r *Reconciler) LocalPlayer() (models.PlayerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[r.identity]
	return p, ok && r.identity != uuid.Nil
}

// Players returns a copy of every known player
func (r *Reconciler) Players() []models.PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PlayerState, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	return out
}

// Presence is what the heartbeat pushes for the local player
type Presence struct {
	RoomID   uuid.UUID
	UserID   uuid.UUID
	Role     models.Role
	Status   models.PlayerStatus
	Position *models.Coordinate
}

// LocalPresence reads the local player's current role, status and position.
// It reports false until the server has a record for the local player.
func (r *Reconciler) LocalPresence() (Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == uuid.Nil || !r.seated {
		return Presence{}, false
	}
	local, ok := r.players[r.identity]
	if !ok {
		return Presence{}, false
	}
	p := Presence{RoomID: local.RoomID, UserID: local.UserID, Role: local.Role, Status: local.Status}
	if pos, ok := local.Position(); ok {
		p.Position = &pos
	}
	return p, true
}

// View is a consistent read of everything capture arbitration needs
type View struct {
	Phase    Phase
	Room     *models.Room
	Identity uuid.UUID
	Local    *models.PlayerState
	Players  []models.PlayerState
	SafeZone *models.SafeZone
	Now      time.Time
}

// View returns a consistent copy of the engine state
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		Phase:    r.phase,
		Room:     r.roomCopyLocked(),
		Identity: r.identity,
		Players:  make([]models.PlayerState, 0, len(r.players)),
		Now:      r.clock.Now(),
	}
	for _, p := range r.players {
		v.Players = append(v.Players, p)
	}
	if local, ok := r.players[r.identity]; ok && r.identity != uuid.Nil {
		v.Local = &local
	}
	if r.safeZone != nil {
		z := *r.safeZone
		v.SafeZone = &z
	}
	return v
}

func (r *Reconciler) roomCopyLocked() *models.Room {
	if r.room == nil {
		return nil
	}
	rc := *r.room
	return &rc
}

// withLock runs fn under the state lock and returns the phase changes it
// produced for notification after unlocking.
func (r *Reconciler) withLock(fn func() []PhaseChange) []PhaseChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

func (r *Reconciler) notify(changes []PhaseChange) {
	if len(changes) == 0 {
		return
	}
	r.mu.Lock()
	listeners := append([]PhaseListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, c := range changes {
		for _, l := range listeners {
			l(c)
		}
	}
}
