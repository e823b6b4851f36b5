// Package session holds the per-browser session state: the token, the
// current user and the fetch task that resolves one from the other.
//
// Every token change goes through SetToken (or Restore on first sight),
// which applies the effects of the change exactly once: token storage,
// the client's default Authorization header, and a new current-user
// fetch. Each change bumps the session generation; a fetch only applies
// its result if the generation it was started for is still current.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/patient_portal/internal/api"
	"github.com/R3E-Network/patient_portal/internal/logging"
	"github.com/R3E-Network/patient_portal/internal/metrics"
	"github.com/R3E-Network/patient_portal/internal/storage"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Session is the state of one browser.
type Session struct {
	id      string
	key     string
	store   storage.Store
	client  *api.Client
	logger  *logging.Logger
	metrics *metrics.Metrics

	// restoreMu serializes Restore; restored is set once a load succeeded
	// or found nothing.
	restoreMu sync.Mutex
	restored  bool

	mu         sync.Mutex
	token      string
	user       *api.User
	generation uint64
	pending    *Task
	closed     bool
	lastSeen   time.Time
	values     map[string]any
}

// Options configures a Session.
type Options struct {
	// Client is the session's own API client; it must not be shared.
	Client  *api.Client
	Store   storage.Store
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// New creates a logged-out session for browserID. Call Restore to load a
// previously stored token.
func New(browserID string, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Session{
		id:       browserID,
		key:      storage.TokenKey(browserID),
		store:    opts.Store,
		client:   opts.Client,
		logger:   logger,
		metrics:  opts.Metrics,
		lastSeen: time.Now(),
		values:   make(map[string]any),
	}
}

// ID returns the browser identifier.
func (s *Session) ID() string {
	return s.id
}

// Client returns the session's API client. Its Authorization header always
// matches Token.
func (s *Session) Client() *api.Client {
	return s.client
}

// Token returns the current token, "" when logged out.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// HasToken reports whether the session is logged in.
func (s *Session) HasToken() bool {
	return s.Token() != ""
}

// User returns the current user, nil while unknown or logged out.
func (s *Session) User() *api.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Generation returns the number of token changes applied so far.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Restore loads the stored token and applies it without writing it back.
// Once a load has succeeded (or found nothing) later calls do nothing; a
// failed load is retried on the next call.
func (s *Session) Restore(ctx context.Context) error {
	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()

	if s.restored {
		return nil
	}
	if err := s.restore(ctx); err != nil {
		return err
	}
	s.restored = true
	return nil
}

func (s *Session) restore(ctx context.Context) error {
	token, err := s.store.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	// A token set since the session was created wins over storage.
	if s.generation > 0 || token == s.token {
		return nil
	}
	s.applyLocked(token)
	s.recordTransition(metrics.TransitionRestore)
	return nil
}

// SetToken replaces the token. Storage, the client header and the current
// user are updated before it returns; when the new token is non-empty the
// returned task resolves the matching user. Setting the current token again
// changes nothing and returns the task already in flight, if any.
//
// A storage failure is returned after the in-memory state has been updated.
func (s *Session) SetToken(ctx context.Context, token string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if token == s.token {
		return s.pending, nil
	}

	task := s.applyLocked(token)

	kind := metrics.TransitionSet
	var err error
	if token == "" {
		kind = metrics.TransitionClear
		err = s.store.Delete(ctx, s.key)
	} else {
		err = s.store.Set(ctx, s.key, token)
	}
	s.recordTransition(kind)

	if err != nil {
		return task, fmt.Errorf("persist token: %w", err)
	}
	return task, nil
}

// Logout clears the token, its storage entry and the current user.
func (s *Session) Logout(ctx context.Context) error {
	_, err := s.SetToken(ctx, "")
	return err
}

// applyLocked switches the in-memory state to token and starts the fetch
// for it. Callers hold s.mu.
func (s *Session) applyLocked(token string) *Task {
	if s.pending != nil {
		s.pending.Cancel()
		s.pending = nil
	}

	s.token = token
	s.client.SetToken(token)
	s.user = nil
	s.values = make(map[string]any)
	s.generation++

	if token == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(logging.WithBrowserID(context.Background(), s.id))
	task := newTask(s.generation, cancel)
	s.pending = task
	go s.fetchUser(ctx, s.client.Clone(), task)
	return task
}

// fetchUser runs one GET /auth/me with a client snapshot taken when the
// token was applied. No retry.
func (s *Session) fetchUser(ctx context.Context, client *api.Client, task *Task) {
	defer close(task.done)
	defer task.cancel()

	user, err := client.CurrentUser(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.generation != task.generation {
		task.err = ErrSuperseded
		s.recordFetch(metrics.FetchDiscarded)
		return
	}

	task.user, task.err = user, err
	if err != nil {
		s.user = nil
		s.recordFetch(metrics.FetchFailed)
		s.logger.WithContext(ctx).WithError(err).Error("Failed to fetch user")
		return
	}

	s.user = user
	s.recordFetch(metrics.FetchOK)
	s.logger.WithContext(ctx).WithField("role", user.Role).Debug("Current user loaded")
}

// AwaitUser waits for the fetch of the current token, if any, and returns
// the current user. When ctx ends first it returns whatever is known.
func (s *Session) AwaitUser(ctx context.Context) *api.User {
	for {
		s.mu.Lock()
		task := s.pending
		user := s.user
		s.mu.Unlock()

		if task == nil {
			return user
		}

		select {
		case <-task.Done():
			s.mu.Lock()
			current := s.pending == task
			user = s.user
			s.mu.Unlock()
			if current {
				return user
			}
		case <-ctx.Done():
			return s.User()
		}
	}
}

// Value returns view state stored under key for the current token.
func (s *Session) Value(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// SetValue stores view state. All view state is dropped on token change.
func (s *Session) SetValue(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// LoadOrStoreValue returns the value under key, creating it with create
// when absent.
func (s *Session) LoadOrStoreValue(key string, create func() any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	v := create()
	s.values[key] = v
	return v
}

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

// LastSeen returns the time of the last recorded activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close releases the in-memory session. The stored token is kept so the
// browser is restored on its next request. Results of fetches still in
// flight are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.pending != nil {
		s.pending.Cancel()
	}
}

func (s *Session) recordTransition(kind string) {
	if s.metrics != nil {
		s.metrics.RecordTokenTransition(kind)
	}
}

func (s *Session) recordFetch(result string) {
	if s.metrics != nil {
		s.metrics.RecordUserFetch(result)
	}
}
