package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/autonom-console/internal/auth"
	"github.com/tjfontaine/autonom-console/internal/telemetry"
)

// RequestTimeout bounds every route except the status stream.
const RequestTimeout = 30 * time.Second

type Server struct {
	Router  *chi.Mux
	Port    int
	logger  *slog.Logger
	auth    *auth.Authenticator
	metrics *telemetry.Metrics
	http    *http.Server
}

// New creates the router with the shared middleware chain. Authentication
// guards /api routes only; /health and /metrics stay open for probes.
func New(port int, logger *slog.Logger, authenticator *auth.Authenticator, metrics *telemetry.Metrics) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	if metrics != nil {
		r.Use(metrics.Middleware)
	}

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "autonom-console")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	if authenticator == nil {
		authenticator = auth.NewAuthenticator(nil)
	}
	return &Server{
		Router:  r,
		Port:    port,
		logger:  logger,
		auth:    authenticator,
		metrics: metrics,
	}
}

// Mount registers the console API under /api.
func (s *Server) Mount(api *API) {
	s.Router.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		// The stream is long-lived and must not inherit the request timeout.
		r.Get("/status/stream", api.streamStatus)

		r.Group(func(r chi.Router) {
			r.Use(TimeoutMiddleware(RequestTimeout))
			api.routes(r)
		})
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
