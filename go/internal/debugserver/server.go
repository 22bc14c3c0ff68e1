package debugserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
	"github.com/mcdev12/geotag/go/internal/logging"
	"github.com/mcdev12/geotag/go/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// StateSource is the read side of a session
type StateSource interface {
	Health() session.Health
	Snapshot() session.Snapshot
}

// Route is an extra handler mounted on the server, e.g. a Connect service
type Route struct {
	Pattern string
	Handler http.Handler
}

// Config holds the debug server settings
type Config struct {
	Addr     string
	Gatherer prometheus.Gatherer
	Routes   []Route
}

// New builds the debug HTTP server. It serves HTTP/2 without TLS so Connect
// clients can reach mounted routes.
func New(cfg Config, src StateSource) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(NewRouter(cfg, src), &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// NewRouter returns the debug routes wrapped with CORS
func NewRouter(cfg Config, src StateSource) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(requestLogger()).Get("/health", healthHandler(src))
	r.With(requestLogger()).Get("/state", stateHandler(src))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	for _, route := range cfg.Routes {
		r.With(requestLogger()).Handle(route.Pattern, route.Handler)
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func requestLogger() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{})),
		&httplog.Options{
			Level:              slog.LevelInfo,
			Schema:             httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
			LogRequestBody:     func(*http.Request) bool { return false },
			LogResponseBody:    func(*http.Request) bool { return false },
			LogRequestHeaders:  []string{},
			LogResponseHeaders: []string{},
			LogExtraAttrs: func(req *http.Request, _ string, _ int) []slog.Attr {
				route := req.URL.Path
				if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				return []slog.Attr{
					slog.String("request_id", chimw.GetReqID(req.Context())),
					slog.String("method", req.Method),
					slog.String("route", route),
				}
			},
		},
	)
}

func healthHandler(src StateSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := src.Health()
		status := http.StatusOK
		if !h.Healthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	}
}

func stateHandler(src StateSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write debug response")
	}
}
