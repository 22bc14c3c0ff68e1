package natsjs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/geotag/go/internal/realtime"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the JetStream transport
type Config struct {
	URL           string        `yaml:"url"`
	StreamName    string        `yaml:"stream_name"`
	SubjectPrefix string        `yaml:"subject_prefix"` // e.g. "geotag.changes"
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DefaultConfig returns default JetStream transport configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "GEOTAG_CHANGES",
		SubjectPrefix: "geotag.changes",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		BufferSize:    64,
	}
}

// Subject returns the subject a row change is published on:
// <prefix>.<table>.<filter value>
func (c Config) Subject(filter realtime.Filter) string {
	return fmt.Sprintf("%s.%s.%s", c.SubjectPrefix, filter.Table, filter.Value)
}

// Transport consumes row changes from a JetStream stream with one ordered,
// ephemeral consumer per subscription, starting at new messages.
type Transport struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
}

// NewTransport connects to NATS and creates the JetStream context
func NewTransport(config Config) (*Transport, error) {
	def := DefaultConfig()
	if config.URL == "" {
		config.URL = def.URL
	}
	if config.StreamName == "" {
		config.StreamName = def.StreamName
	}
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = def.SubjectPrefix
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Transport{nc: nc, js: js, config: config}, nil
}

func (t *Transport) Name() string { return "natsjs" }

// Close drains the NATS connection
func (t *Transport) Close() error {
	return t.nc.Drain()
}

// Healthy reports whether the NATS connection is up
func (t *Transport) Healthy() bool {
	return t.nc.IsConnected()
}

// Subscribe creates an ordered consumer filtered to the row's subject. It
// returns once the consumer exists on the server.
func (t *Transport) Subscribe(ctx context.Context, filter realtime.Filter) (realtime.Subscription, error) {
	subject := t.config.Subject(filter)

	consumer, err := t.js.OrderedConsumer(ctx, t.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create ordered consumer for %s: %w", subject, err)
	}

	sub := newSubscription(subject, filter, t.config.BufferSize)

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		sub.deliver(msg.Data())
	}, jetstream.ConsumeErrHandler(func(cc jetstream.ConsumeContext, err error) {
		log.Warn().Err(err).Str("subject", subject).Msg("consume error")
	}))
	if err != nil {
		return nil, fmt.Errorf("start consumer for %s: %w", subject, err)
	}
	sub.consume = consumeCtx
	go sub.watch(consumeCtx.Closed())

	log.Info().
		Str("stream", t.config.StreamName).
		Str("subject", subject).
		Msg("started ordered consumer")

	return sub, nil
}

type subscription struct {
	subject string
	filter  realtime.Filter
	consume jetstream.ConsumeContext

	mu     sync.Mutex
	closed bool
	out    chan realtime.Change
	stop   chan struct{}
	once   sync.Once
}

func newSubscription(subject string, filter realtime.Filter, buffer int) *subscription {
	return &subscription{
		subject: subject,
		filter:  filter,
		out:     make(chan realtime.Change, buffer),
		stop:    make(chan struct{}),
	}
}

func (s *subscription) Changes() <-chan realtime.Change { return s.out }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		if s.consume != nil {
			s.consume.Stop()
		}
	})
	return nil
}

// deliver decodes one message and hands it to the reader. It blocks while the
// reader is behind, which keeps the consumer ordered.
func (s *subscription) deliver(data []byte) {
	change, err := realtime.DecodeChange(data)
	if err != nil {
		log.Warn().Err(err).Str("subject", s.subject).Msg("invalid change message")
		return
	}
	if !s.filter.Matches(change) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- change:
	case <-s.stop:
	}
}

// watch closes the change channel when the consumer ends, from Close or from
// the server side.
func (s *subscription) watch(done <-chan struct{}) {
	select {
	case <-done:
	case <-s.stop:
	}
	s.finish()
}

func (s *subscription) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}
