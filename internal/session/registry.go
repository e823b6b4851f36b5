package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/patient_portal/internal/api"
	"github.com/R3E-Network/patient_portal/internal/logging"
	"github.com/R3E-Network/patient_portal/internal/metrics"
	"github.com/R3E-Network/patient_portal/internal/storage"
)

// Registry maps browser identifiers to their sessions.
type Registry struct {
	client  *api.Client
	store   storage.Store
	logger  *logging.Logger
	metrics *metrics.Metrics
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Client is the template every session client is cloned from.
	Client  *api.Client
	Store   storage.Store
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// IdleTTL evicts sessions without activity for longer than this.
	IdleTTL time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.IdleTTL <= 0 {
		return nil, fmt.Errorf("idle TTL must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Registry{
		client:   cfg.Client,
		store:    cfg.Store,
		logger:   logger,
		metrics:  cfg.Metrics,
		idleTTL:  cfg.IdleTTL,
		sessions: make(map[string]*Session),
	}, nil
}

// Get returns the session for browserID, creating it and restoring its
// stored token on first use. A restore failure is returned together with
// the (logged-out) session and retried on the next Get.
func (r *Registry) Get(ctx context.Context, browserID string) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	s, ok := r.sessions[browserID]
	if !ok {
		s = r.addLocked(browserID)
	}
	// Touched under r.mu so a concurrent Sweep cannot evict it.
	s.Touch(time.Now())
	r.mu.Unlock()

	return s, s.Restore(ctx)
}

// Rotate moves the browser known as oldID onto a freshly issued
// identifier. The old session is closed and forgotten, its stored token is
// deleted, and a token it held is set on the new session.
func (r *Registry) Rotate(ctx context.Context, oldID string) (*Session, error) {
	newID := uuid.NewString()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	old := r.sessions[oldID]
	delete(r.sessions, oldID)
	s := r.addLocked(newID)
	s.Touch(time.Now())
	r.mu.Unlock()

	token := ""
	if old != nil {
		token = old.Token()
		old.Close()
	}
	if err := r.store.Delete(ctx, storage.TokenKey(oldID)); err != nil {
		return s, fmt.Errorf("delete token of %s: %w", oldID, err)
	}
	if token != "" {
		if _, err := s.SetToken(ctx, token); err != nil {
			return s, err
		}
	}
	return s, nil
}

// addLocked requires r.mu.
func (r *Registry) addLocked(browserID string) *Session {
	s := New(browserID, Options{
		Client:  r.client.Clone(),
		Store:   r.store,
		Logger:  r.logger,
		Metrics: r.metrics,
	})
	r.sessions[browserID] = s
	r.updateGauge()
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes and forgets sessions idle since before now minus the idle
// TTL. It returns the number evicted.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			evicted = append(evicted, s)
			delete(r.sessions, id)
		}
	}
	r.updateGauge()
	r.mu.Unlock()

	for _, s := range evicted {
		s.Close()
	}
	return len(evicted)
}

// ScheduleSweep runs Sweep on the cron spec.
func (r *Registry) ScheduleSweep(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if n := r.Sweep(time.Now()); n > 0 {
			r.logger.WithContext(context.Background()).WithField("evicted", n).Info("Evicted idle sessions")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule session sweep %q: %w", spec, err)
	}
	return id, nil
}

// Close closes every session. Later Get calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.closed = true
	r.updateGauge()
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// updateGauge requires r.mu.
func (r *Registry) updateGauge() {
	if r.metrics != nil {
		r.metrics.SetActiveSessions(len(r.sessions))
	}
}
