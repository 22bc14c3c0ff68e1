package main

import (
	"net/http"
	"time"

	"github.com/mcdev12/geotag/go/internal/capture/connectjudge"
	"github.com/mcdev12/geotag/go/internal/config"
	"github.com/mcdev12/geotag/go/internal/debugserver"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServers(rt config.Runtime, services *Services) []*http.Server {
	servers := []*http.Server{
		debugserver.New(debugserver.Config{
			Addr:     rt.DebugAddr,
			Gatherer: services.Registry,
		}, services.Session),
	}
	if rt.JudgeAddr != "" {
		servers = append(servers, setupJudgeServer(rt.JudgeAddr, services))
	}
	return servers
}

// setupJudgeServer serves capture judgment to other clients, backed by the
// database function.
func setupJudgeServer(addr string, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	svc := connectjudge.NewService(connectjudge.JudgerFunc(services.Store.JudgeCaptureBy))
	mux.Handle(connectjudge.NewHandler(svc))

	setupHealthCheck(mux, services)

	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func setupHealthCheck(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := services.Store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Warn().Err(err).Msg("failed to write health check response")
		}
	})
}
