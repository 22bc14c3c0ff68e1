package overlay

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Config holds overlay timing defaults
type Config struct {
	DefaultTTL  time.Duration `yaml:"default_ttl"`
	CaptureTTL  time.Duration `yaml:"capture_ttl"`
	GameOverTTL time.Duration `yaml:"game_over_ttl"`
	AlertTTL    time.Duration `yaml:"alert_ttl"`
	BannerTTL   time.Duration `yaml:"banner_ttl"`
}

// DefaultConfig returns default overlay timings
func DefaultConfig() Config {
	return Config{
		DefaultTTL:  3 * time.Second,
		CaptureTTL:  2500 * time.Millisecond,
		GameOverTTL: 6 * time.Second,
		AlertTTL:    3 * time.Second,
		BannerTTL:   4 * time.Second,
	}
}

// ChangeFunc is called whenever the displayed slot changes. shown is false when the slot empties.
type ChangeFunc func(req Request, shown bool)

// Arbiter is a single-slot, priority-preemptive notification presenter.
// A request is shown only if the slot is empty or it strictly outranks the
// request on screen; anything else is dropped, never queued.
type Arbiter struct {
	clock   clockwork.Clock
	cfg     Config
	metrics telemetry.MetricsCollector

	mu        sync.Mutex
	current   *Request
	timer     clockwork.Timer
	gen       uint64
	listeners []ChangeFunc
}

// NewArbiter creates an empty arbiter
func NewArbiter(clock clockwork.Clock, cfg Config, metrics telemetry.MetricsCollector) *Arbiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Arbiter{
		clock:   clock,
		cfg:     cfg,
		metrics: telemetry.OrNoOp(metrics),
	}
}

// OnChange registers a listener for slot changes
func (a *Arbiter) OnChange(fn ChangeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Present offers req to the slot and reports whether it is now displayed.
func (a *Arbiter) Present(req Request) bool {
	if req.TTL <= 0 {
		req.TTL = a.TTLFor(req.Kind)
	}

	a.mu.Lock()
	if a.current != nil && req.Priority <= a.current.Priority {
		current := *a.current
		a.mu.Unlock()

		a.metrics.RecordOverlay(string(req.Kind), false)
		log.Debug().
			Str("kind", string(req.Kind)).
			Int("priority", int(req.Priority)).
			Str("showing", string(current.Kind)).
			Int("showing_priority", int(current.Priority)).
			Msg("overlay request dropped")
		return false
	}

	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	shown := req
	a.current = &shown
	a.timer = a.clock.AfterFunc(req.TTL, func() { a.expire(gen) })
	listeners := a.listenersLocked()
	a.mu.Unlock()

	a.metrics.RecordOverlay(string(req.Kind), true)
	for _, fn := range listeners {
		fn(req, true)
	}
	return true
}

// TTLFor returns the configured display time for a kind of request
func (a *Arbiter) TTLFor(kind Kind) time.Duration {
	var ttl time.Duration
	switch kind {
	case KindCaptureSuccess, KindCaptureRejected, KindCaught:
		ttl = a.cfg.CaptureTTL
	case KindVictory, KindDefeat:
		ttl = a.cfg.GameOverTTL
	case KindAlert, KindReveal, KindZone:
		ttl = a.cfg.AlertTTL
	case KindConnectivity:
		ttl = a.cfg.BannerTTL
	}
	if ttl <= 0 {
		ttl = a.cfg.DefaultTTL
	}
	return ttl
}

// Current returns the displayed request, if any
func (a *Arbiter) Current() (Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return Request{}, false
	}
	return *a.current, true
}

// CurrentPriority returns the priority of the displayed request, or PriorityNone.
func (a *Arbiter) CurrentPriority() Priority {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentPriorityLocked()
}

// Dismiss clears the slot early if id is still the displayed request.
func (a *Arbiter) Dismiss(id string) bool {
	a.mu.Lock()
	if a.current == nil || a.current.ID != id {
		a.mu.Unlock()
		return false
	}
	return a.clearLocked()
}

// Clear empties the slot regardless of what is shown
func (a *Arbiter) Clear() {
	a.mu.Lock()
	if a.current == nil {
		a.mu.Unlock()
		return
	}
	a.clearLocked()
}

func (a *Arbiter) expire(gen uint64) {
	a.mu.Lock()
	// a newer request took the slot after this timer was armed
	if gen != a.gen || a.current == nil {
		a.mu.Unlock()
		return
	}
	a.clearLocked()
}

// clearLocked must be called with mu held; it releases mu.
func (a *Arbiter) clearLocked() bool {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
	prev := *a.current
	a.current = nil
	listeners := a.listenersLocked()
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, false)
	}
	return true
}

func (a *Arbiter) currentPriorityLocked() Priority {
	if a.current == nil {
		return PriorityNone
	}
	return a.current.Priority
}

func (a *Arbiter) listenersLocked() []ChangeFunc {
	out := make([]ChangeFunc, len(a.listeners))
	copy(out, a.listeners)
	return out
}
