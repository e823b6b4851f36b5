// Package web serves the browser-facing console: login and registration,
// the guarded patient board and the current user's profile. Every handler
// works on the Session bound to the request by the session middleware.
package web

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/R3E-Network/patient_portal/internal/logging"
	"github.com/R3E-Network/patient_portal/internal/metrics"
	"github.com/R3E-Network/patient_portal/internal/middleware"
	"github.com/R3E-Network/patient_portal/internal/session"
)

// ServiceName labels the console's request metrics and logs.
const ServiceName = "patient-portal"

// Config wires the console.
type Config struct {
	Registry *session.Registry
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	// CredentialLimiter throttles POST /login and POST /register. Optional.
	CredentialLimiter *middleware.RateLimiter
	// Cookies holds the browser cookie. Defaults to a store with random
	// keys.
	Cookies sessions.Store
}

type handler struct {
	logger   *logging.Logger
	renderer *renderer
	sessions *middleware.SessionMiddleware
}

// NewRouter builds the console router.
func NewRouter(cfg Config) (*mux.Router, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	renderer, err := newRenderer()
	if err != nil {
		return nil, err
	}
	cookies := cfg.Cookies
	if cookies == nil {
		cookies = middleware.NewCookieStore(securecookie.GenerateRandomKey(64), securecookie.GenerateRandomKey(32), false)
	}
	h := &handler{
		logger:   logger,
		renderer: renderer,
		sessions: middleware.NewSessionMiddleware(cfg.Registry, cookies, logger),
	}

	r := mux.NewRouter()
	r.Use(middleware.NewRequestLog(logger).Handler)
	if cfg.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(ServiceName, cfg.Metrics))
	}
	r.Use(h.sessions.Handler)

	limit := func(next http.HandlerFunc) http.Handler {
		if cfg.CredentialLimiter == nil {
			return next
		}
		return cfg.CredentialLimiter.Handler(next)
	}

	r.HandleFunc("/", h.root).Methods(http.MethodGet)
	r.HandleFunc("/login", h.loginForm).Methods(http.MethodGet)
	r.Handle("/login", limit(h.login)).Methods(http.MethodPost)
	r.HandleFunc("/register", h.registerForm).Methods(http.MethodGet)
	r.Handle("/register", limit(h.register)).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.logout).Methods(http.MethodPost)

	guarded := r.NewRoute().Subrouter()
	guarded.Use(middleware.RequireToken)
	guarded.HandleFunc("/patients", h.patients).Methods(http.MethodGet)
	guarded.HandleFunc("/patients", h.createPatient).Methods(http.MethodPost)
	guarded.HandleFunc("/patients/{id:[0-9]+}/delete", h.deletePatient).Methods(http.MethodPost)
	guarded.HandleFunc("/profile", h.profile).Methods(http.MethodGet)

	return r, nil
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/patients", http.StatusFound)
}

func (h *handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	if s := middleware.SessionFrom(r.Context()); s != nil {
		data.LoggedIn = s.HasToken()
	}
	if err := h.renderer.render(w, status, page, data); err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Error("Render failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
