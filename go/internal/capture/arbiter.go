package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/gamestate"
	"github.com/mcdev12/geotag/go/internal/geo"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/overlay"
	"github.com/mcdev12/geotag/go/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// State is the capture candidate state
type State string

const (
	StateIdle    State = "idle"
	StateInRange State = "inRange"
	StateLocked  State = "locked"
)

// Candidate is the outcome of one evaluation. Target and Distance are only
// set outside idle; Distance is nil for a lock whose target has no position.
type Candidate struct {
	State     State      `json:"state"`
	Target    uuid.UUID  `json:"target,omitempty"`
	Distance  *float64   `json:"distance_m,omitempty"`
	LockUntil *time.Time `json:"lock_until,omitempty"`
}

// StateReader is the read side of the reconciler
type StateReader interface {
	View() gamestate.View
}

// Judge is the server's atomic capture judgment
type Judge interface {
	JudgeCapture(ctx context.Context, roomID, targetID uuid.UUID) (models.CaptureResult, error)
}

// Feedback receives the success side effect (haptics, sound)
type Feedback interface {
	CaptureSucceeded(target uuid.UUID, result models.CaptureResult)
}

// Presenter shows transient notifications
type Presenter interface {
	Present(req overlay.Request) bool
}

// Config holds capture tunables
type Config struct {
	ShowThreshold float64       `yaml:"show_threshold_m"`
	HideThreshold float64       `yaml:"hide_threshold_m"`
	LockDuration  time.Duration `yaml:"lock_duration"`
	JudgeTimeout  time.Duration `yaml:"judge_timeout"`
}

// DefaultConfig returns default capture configuration
func DefaultConfig() Config {
	return Config{
		ShowThreshold: 15,
		HideThreshold: 18,
		LockDuration:  2500 * time.Millisecond,
		JudgeTimeout:  10 * time.Second,
	}
}

// Outcome is the interpreted result of a capture attempt
type Outcome struct {
	Target  uuid.UUID            `json:"target"`
	OK      bool                 `json:"ok"`
	Message string               `json:"message"`
	Result  models.CaptureResult `json:"result"`
}

type captureLock struct {
	target    uuid.UUID
	expiresAt time.Time
}

// Arbiter selects the capture candidate and runs capture attempts
type Arbiter struct {
	config    Config
	clock     clockwork.Clock
	state     StateReader
	judge     Judge
	feedback  Feedback
	presenter Presenter
	metrics   telemetry.MetricsCollector

	mu       sync.Mutex
	lock     *captureLock
	tracking uuid.UUID
	inFlight bool
}

// Deps are the arbiter's collaborators. Feedback, Presenter and Metrics are optional.
type Deps struct {
	State     StateReader
	Judge     Judge
	Feedback  Feedback
	Presenter Presenter
	Metrics   telemetry.MetricsCollector
}

// NewArbiter creates a new capture arbiter
func NewArbiter(config Config, clock clockwork.Clock, deps Deps) *Arbiter {
	def := DefaultConfig()
	if config.ShowThreshold <= 0 {
		config.ShowThreshold = def.ShowThreshold
	}
	if config.HideThreshold < config.ShowThreshold {
		config.HideThreshold = config.ShowThreshold
	}
	if config.LockDuration <= 0 {
		config.LockDuration = def.LockDuration
	}
	if config.JudgeTimeout <= 0 {
		config.JudgeTimeout = def.JudgeTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Arbiter{
		config:    config,
		clock:     clock,
		state:     deps.State,
		judge:     deps.Judge,
		feedback:  deps.Feedback,
		presenter: deps.Presenter,
		metrics:   telemetry.OrNoOp(deps.Metrics),
	}
}

// Evaluate returns the current candidate
func (a *Arbiter) Evaluate() Candidate {
	v := a.state.View()

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evaluateLocked(v)
}

func (a *Arbiter) evaluateLocked(v gamestate.View) Candidate {
	now := a.clock.Now()
	if a.lock != nil && !now.Before(a.lock.expiresAt) {
		a.lock = nil
	}

	if v.Phase != gamestate.PhasePlaying || v.Local == nil || v.Local.Role != models.RoleHunter {
		a.tracking = uuid.Nil
		return Candidate{State: StateIdle}
	}
	self, ok := v.Local.Position()
	if !ok {
		a.tracking = uuid.Nil
		return Candidate{State: StateIdle}
	}

	runners := make(map[uuid.UUID]models.PlayerState)
	for _, p := range v.Players {
		if p.UserID != v.Identity && p.IsActiveRunner() {
			runners[p.UserID] = p
		}
	}

	if a.lock != nil {
		if target, ok := runners[a.lock.target]; ok {
			until := a.lock.expiresAt
			c := Candidate{State: StateLocked, Target: target.UserID, LockUntil: &until}
			if pos, ok := target.Position(); ok {
				d := geo.Distance(self, pos)
				c.Distance = &d
			}
			return c
		}
		a.lock = nil
	}

	var (
		nearest     uuid.UUID
		nearestDist float64
	)
	distances := make(map[uuid.UUID]float64, len(runners))
	for id, p := range runners {
		pos, ok := p.Position()
		if !ok {
			continue
		}
		d := geo.Distance(self, pos)
		distances[id] = d
		if nearest == uuid.Nil || d < nearestDist {
			nearest, nearestDist = id, d
		}
	}

	if a.tracking != uuid.Nil {
		if d, ok := distances[a.tracking]; ok {
			switch {
			case nearest != a.tracking && nearestDist <= a.config.ShowThreshold && nearestDist < d:
				a.tracking = nearest
				return inRange(nearest, nearestDist)
			case d <= a.config.HideThreshold:
				return inRange(a.tracking, d)
			}
		}
		a.tracking = uuid.Nil
	}

	if nearest != uuid.Nil && nearestDist <= a.config.ShowThreshold {
		a.tracking = nearest
		return inRange(nearest, nearestDist)
	}
	return Candidate{State: StateIdle}
}

func inRange(target uuid.UUID, d float64) Candidate {
	return Candidate{State: StateInRange, Target: target, Distance: &d}
}

// Lock pins the candidate to target for the lock duration, regardless of
// distance, and returns the resulting candidate.
func (a *Arbiter) Lock(target uuid.UUID) (Candidate, error) {
	v := a.state.View()
	if err := checkPreconditions(v, target); err != nil {
		return Candidate{State: StateIdle}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lock = &captureLock{target: target, expiresAt: a.clock.Now().Add(a.config.LockDuration)}
	log.Debug().Str("target", target.String()).Dur("duration", a.config.LockDuration).Msg("capture target locked")
	return a.evaluateLocked(v), nil
}

// Unlock drops the lock, if any
func (a *Arbiter) Unlock() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lock = nil
}

// Reset clears the lock and the tracked candidate
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lock = nil
	a.tracking = uuid.Nil
}

func checkPreconditions(v gamestate.View, target uuid.UUID) error {
	if v.Identity == uuid.Nil {
		return gamestate.ErrNoIdentity
	}
	if v.Room == nil {
		return gamestate.ErrNoRoom
	}
	if v.Phase != gamestate.PhasePlaying {
		return ErrNotPlaying
	}
	if v.Local == nil || v.Local.Role != models.RoleHunter {
		return ErrNotHunter
	}
	if target == v.Identity {
		return ErrTargetUnavailable
	}
	for _, p := range v.Players {
		if p.UserID == target {
			if p.IsActiveRunner() {
				return nil
			}
			break
		}
	}
	return ErrTargetUnavailable
}

// Attempt asks the server to judge a capture of target. Precondition failures
// return an error without calling the server. A judged rejection is not an
// error: it comes back as an Outcome with OK false and is presented to the
// user. Success never marks the target caught locally; that arrives through
// the change stream.
func (a *Arbiter) Attempt(ctx context.Context, target uuid.UUID) (Outcome, error) {
	v := a.state.View()
	if err := checkPreconditions(v, target); err != nil {
		a.metrics.RecordCaptureAttempt("precondition")
		return Outcome{}, err
	}

	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		return Outcome{}, ErrAttemptInFlight
	}
	a.inFlight = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
	}()

	judgeCtx, cancel := context.WithTimeout(ctx, a.config.JudgeTimeout)
	defer cancel()

	start := a.clock.Now()
	result, err := a.judge.JudgeCapture(judgeCtx, v.Room.ID, target)
	a.metrics.RecordRemoteWrite("judge_capture", err == nil, a.clock.Since(start))
	if err != nil {
		a.metrics.RecordCaptureAttempt("error")
		log.Error().
			Err(err).
			Str("room_id", v.Room.ID.String()).
			Str("target", target.String()).
			Msg("capture judgment failed")
		a.present(overlay.NewRequest(overlay.KindError, "Couldn't reach the server. Try again.", overlay.PriorityError, 0))
		return Outcome{}, fmt.Errorf("failed to judge capture: %w", err)
	}

	out := Outcome{Target: target, OK: result.OK, Result: result}
	if result.OK {
		out.Message = SuccessMessage(result)
		a.metrics.RecordCaptureAttempt("success")
		a.Unlock()
		if a.feedback != nil {
			a.feedback.CaptureSucceeded(target, result)
		}
		a.present(overlay.NewRequest(overlay.KindCaptureSuccess, out.Message, overlay.PriorityCapture, 0))
		log.Info().
			Str("room_id", v.Room.ID.String()).
			Str("target", target.String()).
			Msg("capture accepted")
		return out, nil
	}

	out.Message = RejectionMessage(result)
	reason := "unknown"
	if result.Reason != nil {
		reason = string(*result.Reason)
	}
	a.metrics.RecordCaptureAttempt("rejected_" + reason)
	a.present(overlay.NewRequest(overlay.KindCaptureRejected, out.Message, overlay.PriorityCaptureRejected, 0))
	log.Info().
		Str("room_id", v.Room.ID.String()).
		Str("target", target.String()).
		Str("reason", reason).
		Msg("capture rejected")
	return out, nil
}

func (a *Arbiter) present(req overlay.Request) {
	if a.presenter != nil {
		a.presenter.Present(req)
	}
}
