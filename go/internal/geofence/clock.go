package geofence

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Shrinker is the state entry point the clock drives
type Shrinker interface {
	ShrinkSafeZone(step, floor float64) (radius float64, more bool)
}

// Config holds geofence clock tunables
type Config struct {
	Interval time.Duration `yaml:"interval"`
	Step     float64       `yaml:"step_m"`
	Floor    float64       `yaml:"floor_m"`
}

// DefaultConfig returns default geofence clock configuration
func DefaultConfig() Config {
	return Config{
		Interval: 500 * time.Millisecond,
		Step:     5,
		Floor:    100,
	}
}

// Clock shrinks the safe zone on a fixed interval. At most one loop runs at a
// time; it ends on Stop or when the zone reports it can shrink no further, and
// never restarts on its own.
type Clock struct {
	config   Config
	clock    clockwork.Clock
	shrinker Shrinker

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewClock creates a stopped geofence clock
func NewClock(config Config, clock clockwork.Clock, shrinker Shrinker) *Clock {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Step <= 0 {
		config.Step = def.Step
	}
	if config.Floor < 0 {
		config.Floor = def.Floor
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Clock{config: config, clock: clock, shrinker: shrinker}
}

// Start stops any running loop and starts a new one
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run(c.stopCh, c.doneCh)

	log.Info().
		Dur("interval", c.config.Interval).
		Float64("step_m", c.config.Step).
		Float64("floor_m", c.config.Floor).
		Msg("geofence clock started")
}

// Stop stops the running loop and waits for it to exit
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Running reports whether a loop is active
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doneCh == nil {
		return false
	}
	select {
	case <-c.doneCh:
		return false
	default:
		return true
	}
}

func (c *Clock) stopLocked() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.stopCh = nil
	c.doneCh = nil
}

func (c *Clock) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			radius, more := c.shrinker.ShrinkSafeZone(c.config.Step, c.config.Floor)
			if more {
				continue
			}
			log.Info().Float64("radius_m", radius).Msg("geofence clock finished")
			return
		}
	}
}
