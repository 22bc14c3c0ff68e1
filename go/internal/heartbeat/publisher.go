package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/gamestate"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// PresenceSource returns the local player's current presence
type PresenceSource interface {
	LocalPresence() (gamestate.Presence, bool)
}

// Writer is the remote write path
type Writer interface {
	UpsertPlayerState(ctx context.Context, upsert models.PlayerUpsert) error
}

// Config holds heartbeat tunables
type Config struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig returns default heartbeat configuration
func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Status is a point-in-time summary of the publisher
type Status struct {
	Running     bool      `json:"running"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Failures    int       `json:"failures"`
	Skipped     int       `json:"skipped"`
}

// Publisher pushes the local presence on a fixed interval
type Publisher struct {
	config  Config
	clock   clockwork.Clock
	source  PresenceSource
	writer  Writer
	metrics telemetry.MetricsCollector
	onError func(error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// statusMu is separate from mu so a beat in flight never blocks Stop.
	statusMu sync.Mutex
	status   Status
}

// NewPublisher creates a stopped heartbeat publisher. onError may be nil.
func NewPublisher(config Config, clock clockwork.Clock, source PresenceSource, writer Writer, metrics telemetry.MetricsCollector, onError func(error)) *Publisher {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Publisher{
		config:  config,
		clock:   clock,
		source:  source,
		writer:  writer,
		metrics: telemetry.OrNoOp(metrics),
		onError: onError,
	}
}

// Start stops any running loop and starts a new one bound to ctx
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.record(func(s *Status) { *s = Status{} })
	go p.run(loopCtx, p.done)

	log.Info().Dur("interval", p.config.Interval).Msg("heartbeat started")
}

// Stop stops the loop and waits for it to exit
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Publisher) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

// Status returns the publisher's status
func (p *Publisher) Status() Status {
	p.mu.Lock()
	running := p.done != nil
	p.mu.Unlock()

	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	s := p.status
	s.Running = running
	return s
}

func (p *Publisher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := p.clock.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.beat(ctx)
		}
	}
}

// beat reads the presence at push time so role and status changes made since
// the last tick are picked up.
func (p *Publisher) beat(ctx context.Context) {
	presence, ok := p.source.LocalPresence()
	if !ok || presence.Position == nil {
		p.record(func(s *Status) { s.Skipped++ })
		return
	}

	upsert := models.PlayerUpsert{
		RoomID:   presence.RoomID,
		UserID:   presence.UserID,
		Role:     presence.Role,
		Status:   presence.Status,
		Position: presence.Position,
	}

	pushCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := p.clock.Now()
	err := p.writer.UpsertPlayerState(pushCtx, upsert)
	p.metrics.RecordRemoteWrite("heartbeat", err == nil, p.clock.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().
			Err(err).
			Str("room_id", presence.RoomID.String()).
			Msg("heartbeat push failed")
		p.record(func(s *Status) {
			s.Failures++
			s.LastError = err.Error()
		})
		if p.onError != nil {
			p.onError(err)
		}
		return
	}

	p.record(func(s *Status) {
		s.LastSuccess = p.clock.Now()
		s.LastError = ""
	})
}

func (p *Publisher) record(fn func(*Status)) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	fn(&p.status)
}
