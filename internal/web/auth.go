package web

import (
	stderrors "errors"
	"net/http"

	"github.com/R3E-Network/patient_portal/internal/api"
	"github.com/R3E-Network/patient_portal/internal/errors"
	"github.com/R3E-Network/patient_portal/internal/middleware"
	"github.com/R3E-Network/patient_portal/internal/session"
)

const defaultRole = "user"

func (h *handler) loginForm(w http.ResponseWriter, r *http.Request) {
	if s := middleware.SessionFrom(r.Context()); s != nil && s.HasToken() {
		http.Redirect(w, r, "/patients", http.StatusFound)
		return
	}
	h.render(w, r, http.StatusOK, "login", pageData{Title: "Login"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := middleware.SessionFrom(ctx)
	if s.HasToken() {
		http.Redirect(w, r, "/patients", http.StatusSeeOther)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	token, err := s.Client().Login(ctx, username, password)
	if err != nil {
		serviceErr := errors.InvalidCredentials(err)
		h.logger.WithContext(ctx).WithError(serviceErr).Warn("Login failed")
		h.render(w, r, serviceErr.HTTPStatus, "login", pageData{
			Title:    "Login",
			Error:    serviceErr.Message,
			Username: username,
		})
		return
	}

	// The pre-login browser ID may have been planted; log in on a fresh one.
	ctx, fresh, err := h.sessions.Rotate(w, r)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to rotate browser session")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	if _, err := fresh.SetToken(ctx, token); err != nil {
		if stderrors.Is(err, session.ErrClosed) {
			h.logger.WithContext(ctx).WithError(err).Error("Session closed during login")
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		// The session holds the token in memory; only persistence failed.
		h.logger.WithContext(ctx).WithError(err).Error("Failed to persist token")
	}
	http.Redirect(w, r, "/patients", http.StatusSeeOther)
}

func (h *handler) registerForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "register", pageData{
		Title: "Register",
		Form:  api.RegisterRequest{Role: defaultRole},
	})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := middleware.SessionFrom(ctx)

	form := api.RegisterRequest{
		Username:  r.PostFormValue("username"),
		Email:     r.PostFormValue("email"),
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
		Password:  r.PostFormValue("password"),
		Role:      r.PostFormValue("role"),
	}
	if form.Role == "" {
		form.Role = defaultRole
	}

	if _, err := s.Client().Register(ctx, form); err != nil {
		serviceErr := errors.RegistrationFailed(err)
		h.logger.WithContext(ctx).WithError(serviceErr).Warn("Registration failed")
		form.Password = ""
		h.render(w, r, serviceErr.HTTPStatus, "register", pageData{
			Title: "Register",
			Error: serviceErr.Message,
			Form:  form,
		})
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := middleware.SessionFrom(ctx).Logout(ctx); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to clear stored token")
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
