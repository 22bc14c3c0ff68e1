package wsrealtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/geotag/go/internal/realtime"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the websocket transport
type Config struct {
	URL              string        `yaml:"url"`
	Token            string        `yaml:"-"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	BufferSize       int           `yaml:"buffer_size"`
}

// DefaultConfig returns default websocket transport configuration
func DefaultConfig() Config {
	return Config{
		SubscribeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     54 * time.Second,
		MaxMessageSize:   512 * 1024,
		BufferSize:       64,
	}
}

// Transport subscribes to row changes over a websocket, one connection per
// subscription.
type Transport struct {
	config Config
	dialer *websocket.Dialer
}

// NewTransport creates a new websocket transport
func NewTransport(config Config) *Transport {
	def := DefaultConfig()
	if config.SubscribeTimeout <= 0 {
		config.SubscribeTimeout = def.SubscribeTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.PingInterval <= 0 || config.PingInterval >= config.ReadTimeout {
		config.PingInterval = config.ReadTimeout * 9 / 10
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	return &Transport{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: config.SubscribeTimeout},
	}
}

func (t *Transport) Name() string { return "websocket" }

// Subscribe dials the server, sends the subscribe frame and waits for the
// server's acknowledgement before returning.
func (t *Transport) Subscribe(ctx context.Context, filter realtime.Filter) (realtime.Subscription, error) {
	header := http.Header{}
	if t.config.Token != "" {
		header.Set("Authorization", "Bearer "+t.config.Token)
	}

	conn, _, err := t.dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial realtime server: %w", err)
	}

	ref := uuid.NewString()
	req := Message{Type: TypeSubscribe, Ref: ref, Table: filter.Table, Filter: filter.String()}

	conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	if err := t.awaitAck(ctx, conn, ref); err != nil {
		conn.Close()
		return nil, err
	}

	sub := &subscription{
		conn:   conn,
		filter: filter,
		config: t.config,
		out:    make(chan realtime.Change, t.config.BufferSize),
		done:   make(chan struct{}),
	}
	go sub.writePump()
	go sub.readPump()

	log.Info().
		Str("url", t.config.URL).
		Str("table", filter.Table).
		Str("filter", filter.String()).
		Msg("websocket subscription established")

	return sub, nil
}

func (t *Transport) awaitAck(ctx context.Context, conn *websocket.Conn, ref string) error {
	deadline := time.Now().Add(t.config.SubscribeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await subscribe ack: %w", err)
		}
		if msg.Ref != ref {
			continue
		}
		switch msg.Type {
		case TypeSubscribed:
			return nil
		case TypeError:
			return fmt.Errorf("subscribe rejected: %s", msg.Message)
		}
	}
}

type subscription struct {
	conn   *websocket.Conn
	filter realtime.Filter
	config Config
	out    chan realtime.Change

	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Changes() <-chan realtime.Change { return s.out }

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.config.WriteTimeout))
		err = s.conn.Close()
	})
	return err
}

// readPump handles reading frames from the server until the connection ends
func (s *subscription) readPump() {
	defer close(s.out)

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("table", s.filter.Table).Msg("unexpected websocket close error")
				}
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		change, ok := s.handleFrame(data)
		if !ok {
			continue
		}
		select {
		case s.out <- change:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) handleFrame(data []byte) (realtime.Change, bool) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("table", s.filter.Table).Msg("invalid realtime frame")
		return realtime.Change{}, false
	}
	switch msg.Type {
	case TypeChange:
	case TypeError:
		log.Warn().Str("table", s.filter.Table).Str("message", msg.Message).Msg("realtime server error")
		return realtime.Change{}, false
	default:
		return realtime.Change{}, false
	}

	change, err := realtime.DecodeChange(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("table", s.filter.Table).Msg("invalid change frame")
		return realtime.Change{}, false
	}
	return change, s.filter.Matches(change)
}

// writePump keeps the connection alive with pings
func (s *subscription) writePump() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("table", s.filter.Table).Msg("failed to send ping")
				return
			}
		}
	}
}
