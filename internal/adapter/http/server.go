package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/forecast"
	"github.com/couchcryptid/aqi-forecast/internal/risk"
)

// Forecaster answers forecast requests against the current snapshot.
type Forecaster interface {
	Predict(ctx context.Context, city string, group risk.Group) (domain.ForecastResult, error)
	Current() (*forecast.Snapshot, error)
}

// Server exposes the forecast API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer   *http.Server
	forecaster   Forecaster
	defaultGroup risk.Group
	logger       *slog.Logger
}

// NewServer creates an HTTP server with /, /forecast/{city}, /cities, /healthz,
// /readyz, and /metrics routes. Requests without a group use defaultGroup.
func NewServer(addr string, f Forecaster, ready sharedobs.ReadinessChecker, defaultGroup risk.Group, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		forecaster:   f,
		defaultGroup: defaultGroup,
		logger:       logger,
	}

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /forecast/{city}", s.handleForecast)
	mux.HandleFunc("GET /cities", s.handleCities)
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Air Quality Intelligence API is running"})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	city := r.PathValue("city")

	group := s.defaultGroup
	if name := r.URL.Query().Get("group"); name != "" {
		g, err := risk.ParseGroup(name)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  err.Error(),
				"groups": risk.GroupNames(),
			})
			return
		}
		group = g
	}

	result, err := s.forecaster.Predict(r.Context(), city, group)
	if err != nil {
		s.writeForecastError(w, city, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeForecastError(w http.ResponseWriter, city string, err error) {
	var notFound *domain.CityNotFoundError
	switch {
	case errors.As(err, &notFound):
		known := notFound.Known
		if known == nil {
			known = []string{}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":            "city not found",
			"available_cities": known,
		})
	case errors.Is(err, domain.ErrSchemaMismatch):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "schema mismatch"})
	case errors.Is(err, forecast.ErrNoSnapshot):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot loaded"})
	default:
		s.logger.Error("forecast request failed", "city", city, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "forecast failed"})
	}
}

func (s *Server) handleCities(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.forecaster.Current()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot loaded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cities":      snap.Cities,
		"reference":   snap.Schema.Reference,
		"snapshot":    snap.ID,
		"fingerprint": snap.Schema.Fingerprint,
		"loaded_at":   snap.LoadedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client gone
}
