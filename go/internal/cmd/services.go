package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/clients/profile_client"
	"github.com/mcdev12/geotag/go/internal/capture"
	"github.com/mcdev12/geotag/go/internal/capture/connectjudge"
	"github.com/mcdev12/geotag/go/internal/config"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/profiles"
	"github.com/mcdev12/geotag/go/internal/realtime"
	"github.com/mcdev12/geotag/go/internal/realtime/natsjs"
	"github.com/mcdev12/geotag/go/internal/realtime/pgnotify"
	"github.com/mcdev12/geotag/go/internal/realtime/wsrealtime"
	"github.com/mcdev12/geotag/go/internal/session"
	"github.com/mcdev12/geotag/go/internal/store"
	"github.com/mcdev12/geotag/go/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Store    *store.Store
	Profiles *profiles.Cache
	Session  *session.Session
	Registry *prometheus.Registry

	closeTransport func() error
}

// Close stops the session and releases everything it was built on. The
// store is closed by the caller.
func (s *Services) Close() {
	s.Session.Close()
	s.Profiles.Close()
	if s.closeTransport != nil {
		if err := s.closeTransport(); err != nil {
			log.Warn().Err(err).Msg("failed to close transport")
		}
	}
}

func setupServices(rt config.Runtime, engine config.Engine, st *store.Store) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Transport → Judge / Profiles → Session
	clock := clockwork.NewRealClock()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewPrometheusMetrics("geotag", registry)

	transport, closeTransport, err := setupTransport(engine, clock)
	if err != nil {
		return nil, err
	}

	var judge capture.Judge = st
	if rt.JudgeURL != "" {
		judge = connectjudge.NewClient(http.DefaultClient, rt.JudgeURL, rt.UserID)
		log.Info().Str("url", rt.JudgeURL).Msg("judging captures remotely")
	}

	var fetcher profiles.Fetcher = st
	if rt.ProfileURL != "" {
		fetcher = profile_client.NewProfileClient(rt.ProfileURL, rt.AuthToken)
		log.Info().Str("url", rt.ProfileURL).Msg("fetching profiles from profile service")
	}
	cache := profiles.NewCache(engine.Profiles, clock, fetcher)
	cache.OnLoaded(func(loaded []models.Profile) {
		log.Debug().Int("count", len(loaded)).Msg("profiles loaded")
	})

	sess := session.New(engine, rt.UserID, session.Deps{
		Backend:   st,
		Transport: transport,
		Judge:     judge,
		Profiles:  cache,
		Feedback:  logFeedback{},
		Metrics:   metrics,
		Clock:     clock,
	})

	return &Services{
		Store:          st,
		Profiles:       cache,
		Session:        sess,
		Registry:       registry,
		closeTransport: closeTransport,
	}, nil
}

func setupTransport(engine config.Engine, clock clockwork.Clock) (realtime.Transport, func() error, error) {
	switch engine.Transport {
	case config.TransportNATS:
		t, err := natsjs.NewTransport(engine.NATS)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		log.Info().Str("url", engine.NATS.URL).Msg("using nats change stream")
		return t, t.Close, nil
	case config.TransportWebSocket:
		if engine.WebSocket.URL == "" {
			return nil, nil, fmt.Errorf("websocket transport needs GEOTAG_REALTIME_URL or websocket.url")
		}
		log.Info().Str("url", engine.WebSocket.URL).Msg("using websocket change stream")
		return wsrealtime.NewTransport(engine.WebSocket), nil, nil
	default:
		log.Info().Str("prefix", engine.PGNotify.ChannelPrefix).Msg("using postgres notify change stream")
		return pgnotify.NewTransport(engine.PGNotify, clock), nil, nil
	}
}

// joinRoom enters the configured room, or creates one when none is set
func joinRoom(ctx context.Context, rt config.Runtime, services *Services) error {
	sess := services.Session
	role := models.Role(rt.Role)

	if rt.RegionID != "" {
		if err := sess.SelectRegion(ctx, rt.RegionID); err != nil {
			return fmt.Errorf("failed to select region: %w", err)
		}
	}

	roomID := rt.RoomID
	if roomID == uuid.Nil {
		room, err := services.Store.CreateRoom(ctx, rt.RegionID, role)
		if err != nil {
			return err
		}
		roomID = room.ID
		log.Info().Str("room_id", roomID.String()).Msg("created room")
	}

	return sess.Join(ctx, roomID, role)
}

// logFeedback stands in for haptics on a headless client
type logFeedback struct{}

func (logFeedback) CaptureSucceeded(target uuid.UUID, result models.CaptureResult) {
	ev := log.Info().Str("target", target.String())
	if result.RemainingRunners != nil {
		ev = ev.Int("remaining_runners", *result.RemainingRunners)
	}
	ev.Msg("capture feedback")
}
