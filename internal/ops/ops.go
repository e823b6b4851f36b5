// Package ops serves the operator endpoints: liveness, readiness and
// Prometheus metrics. It listens separately from the browser console.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/R3E-Network/patient_portal/internal/logging"
	"github.com/R3E-Network/patient_portal/internal/metrics"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the ops router.
type Config struct {
	Service string
	Version string
	Metrics *metrics.Metrics
	Logger  *logging.Logger
	// Checks are pinged by /readyz, keyed by name.
	Checks       map[string]Pinger
	CheckTimeout time.Duration
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse is the /readyz body.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewRouter builds the ops router.
func NewRouter(cfg Config) http.Handler {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:    "healthy",
			Service:   cfg.Service,
			Version:   cfg.Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), cfg.CheckTimeout)
		defer cancel()

		resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(cfg.Checks))}
		status := http.StatusOK
		for name, check := range cfg.Checks {
			if err := check.Ping(ctx); err != nil {
				logger.WithContext(ctx).WithError(err).WithField("check", name).Warn("Readiness check failed")
				resp.Checks[name] = err.Error()
				resp.Status = "not ready"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		writeJSON(w, status, resp)
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
