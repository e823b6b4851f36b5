package middleware

import (
	"net/http"
)

// LoginPath is where the guard sends browsers without a token.
const LoginPath = "/login"

// RequireToken renders next only for requests whose session holds a
// token. Anything else is redirected to the login view before next runs.
func RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := SessionFrom(r.Context())
		if s == nil || !s.HasToken() {
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
