package pgnotify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/geotag/go/internal/realtime"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the LISTEN/NOTIFY transport
type Config struct {
	DatabaseURL          string        `yaml:"-"`
	ChannelPrefix        string        `yaml:"channel_prefix"`
	MinReconnectInterval time.Duration `yaml:"min_reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	BufferSize           int           `yaml:"buffer_size"`
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		ChannelPrefix:        "geotag",
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
		BufferSize:           64,
	}
}

// Transport delivers row changes published by database triggers with
// pg_notify('<prefix>_<table>', <change envelope json>). Each subscription
// owns its own listener connection and filters rows client side.
type Transport struct {
	cfg   Config
	clock clockwork.Clock
}

// NewTransport creates a new LISTEN/NOTIFY transport
func NewTransport(cfg Config, clock clockwork.Clock) *Transport {
	def := DefaultConfig()
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = def.ChannelPrefix
	}
	if cfg.MinReconnectInterval <= 0 {
		cfg.MinReconnectInterval = def.MinReconnectInterval
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = def.MaxReconnectInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Transport{cfg: cfg, clock: clock}
}

func (t *Transport) Name() string { return "pgnotify" }

// Channel returns the notification channel a table's trigger publishes on
func (t *Transport) Channel(table string) string {
	return fmt.Sprintf("%s_%s", t.cfg.ChannelPrefix, table)
}

// Subscribe opens a listener connection and returns once LISTEN has been
// acknowledged by the server.
func (t *Transport) Subscribe(ctx context.Context, filter realtime.Filter) (realtime.Subscription, error) {
	channel := t.Channel(filter.Table)

	l := pq.NewListener(
		t.cfg.DatabaseURL,
		t.cfg.MinReconnectInterval,
		t.cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Str("channel", channel).Msg("listener event")
			}
		},
	)

	listened := make(chan error, 1)
	go func() { listened <- l.Listen(channel) }()

	select {
	case err := <-listened:
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to listen to channel %s: %w", channel, err)
		}
	case <-ctx.Done():
		l.Close()
		return nil, ctx.Err()
	}

	log.Info().
		Str("channel", channel).
		Str("filter", filter.String()).
		Msg("listening for notifications")

	sub := newSubscription(channel, filter, t.cfg.BufferSize)
	go sub.run(l, t.clock, t.cfg.PingInterval)
	return sub, nil
}

type subscription struct {
	channel string
	filter  realtime.Filter
	out     chan realtime.Change
	stop    chan struct{}
	once    sync.Once
}

func newSubscription(channel string, filter realtime.Filter, buffer int) *subscription {
	return &subscription{
		channel: channel,
		filter:  filter,
		out:     make(chan realtime.Change, buffer),
		stop:    make(chan struct{}),
	}
}

func (s *subscription) Changes() <-chan realtime.Change { return s.out }

func (s *subscription) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// noteSource is the part of pq.Listener the loop reads from
type noteSource interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

func (s *subscription) run(l noteSource, clock clockwork.Clock, pingInterval time.Duration) {
	defer close(s.out)
	defer func() {
		if err := l.Close(); err != nil {
			log.Warn().Err(err).Str("channel", s.channel).Msg("failed to close listener")
		}
	}()

	ping := clock.NewTicker(pingInterval)
	defer ping.Stop()

	notes := l.NotificationChannel()
	for {
		select {
		case <-s.stop:
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			if note == nil {
				// reconnected; anything sent while we were down is gone
				log.Warn().Str("channel", s.channel).Msg("listener reconnected, notifications may have been lost")
				return
			}
			change, keep := s.handle(note.Extra)
			if !keep {
				continue
			}
			select {
			case s.out <- change:
			case <-s.stop:
				return
			}
		case <-ping.Chan():
			if err := l.Ping(); err != nil {
				log.Error().Err(err).Str("channel", s.channel).Msg("failed to ping listener")
			}
		}
	}
}

// handle decodes a notification payload and applies the row filter
func (s *subscription) handle(payload string) (realtime.Change, bool) {
	change, err := realtime.DecodeChange([]byte(payload))
	if err != nil {
		log.Warn().Err(err).Str("channel", s.channel).Msg("invalid change in notification")
		return realtime.Change{}, false
	}
	return change, s.filter.Matches(change)
}
