package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/geotag/go/internal/config"
	"github.com/mcdev12/geotag/go/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	envErr := godotenv.Load()

	rt, err := config.LoadRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "geotag: %v\n", err)
		os.Exit(1)
	}
	logging.Init(rt.Log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded")
	}

	engine, err := loadEngine(rt)
	if err != nil {
		log.Fatal().Err(err).Msg("load engine config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := setupDatabase(ctx, rt, engine)
	if err != nil {
		log.Fatal().Err(err).Msg("database setup failed")
	}
	defer st.Close()

	services, err := setupServices(rt, engine, st)
	if err != nil {
		log.Fatal().Err(err).Msg("service setup failed")
	}
	defer services.Close()

	servers := setupServers(rt, services)
	for _, srv := range servers {
		go serve(srv)
	}

	if err := joinRoom(ctx, rt, services); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("addr", srv.Addr).Msg("server shutdown failed")
		}
	}
}

func serve(srv *http.Server) {
	log.Info().Str("addr", srv.Addr).Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", srv.Addr).Msg("server stopped")
	}
}
