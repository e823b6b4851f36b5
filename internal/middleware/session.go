// Package middleware provides HTTP middleware for the patient portal
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/R3E-Network/patient_portal/internal/logging"
	"github.com/R3E-Network/patient_portal/internal/session"
)

// BrowserCookie names the cookie carrying the browser identifier.
const BrowserCookie = "portal_browser"

const browserIDValue = "browser_id"

type sessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session bound by SessionMiddleware, or nil.
func SessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey{}).(*session.Session)
	return s
}

// NewCookieStore returns the signed and encrypted store the browser cookie
// lives in.
func NewCookieStore(hashKey, blockKey []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// SessionMiddleware binds every request to the session of its browser,
// issuing a browser cookie on first visit.
type SessionMiddleware struct {
	registry *session.Registry
	cookies  sessions.Store
	logger   *logging.Logger
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(registry *session.Registry, cookies sessions.Store, logger *logging.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		registry: registry,
		cookies:  cookies,
		logger:   logger,
	}
}

// Handler returns the middleware handler
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A cookie that fails to decode yields a new, empty session.
		cookie, _ := m.cookies.Get(r, BrowserCookie)

		browserID, _ := cookie.Values[browserIDValue].(string)
		if _, err := uuid.Parse(browserID); err != nil {
			browserID = uuid.NewString()
			if err := m.save(w, r, cookie, browserID); err != nil {
				m.logger.WithContext(r.Context()).WithError(err).Error("Failed to issue browser cookie")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
		}

		ctx := logging.WithBrowserID(r.Context(), browserID)
		bindBrowser(ctx, browserID)

		s, err := m.registry.Get(ctx, browserID)
		if s == nil {
			m.logger.WithContext(ctx).WithError(err).Error("Session unavailable")
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			m.logger.WithContext(ctx).WithError(err).Warn("Stored token could not be restored")
		}

		next.ServeHTTP(w, r.WithContext(WithSession(ctx, s)))
	})
}

// Rotate moves the request's browser onto a fresh identifier and sets the
// cookie for it. The previous identifier no longer maps to any session
// state. The returned context carries the new browser ID.
func (m *SessionMiddleware) Rotate(w http.ResponseWriter, r *http.Request) (context.Context, *session.Session, error) {
	ctx := r.Context()
	current := SessionFrom(ctx)
	if current == nil {
		return ctx, nil, fmt.Errorf("no session bound to request")
	}

	s, err := m.registry.Rotate(ctx, current.ID())
	if s == nil {
		return ctx, nil, err
	}
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Previous browser state not fully cleared")
	}

	cookie, _ := m.cookies.Get(r, BrowserCookie)
	if err := m.save(w, r, cookie, s.ID()); err != nil {
		return ctx, nil, err
	}

	ctx = logging.WithBrowserID(ctx, s.ID())
	bindBrowser(ctx, s.ID())
	m.logger.WithContext(ctx).WithField("previous_browser_id", current.ID()).Debug("Browser identifier rotated")
	return WithSession(ctx, s), s, nil
}

func (m *SessionMiddleware) save(w http.ResponseWriter, r *http.Request, cookie *sessions.Session, browserID string) error {
	cookie.Values[browserIDValue] = browserID
	if err := m.cookies.Save(r, w, cookie); err != nil {
		return fmt.Errorf("save browser cookie: %w", err)
	}
	return nil
}
