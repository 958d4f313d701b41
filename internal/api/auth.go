package api

import (
	"context"
	"net/http"
	"strings"

	"vrpdicho/internal/auth"
)

type ctxKeyPrincipal struct{}

// requireAuth authenticates every /v1 request. /v1/debug additionally needs the admin role.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		authz := r.Header.Get("Authorization")
		if authz == "" && strings.HasSuffix(r.URL.Path, "/ws") {
			// browsers cannot set headers on websocket upgrades
			if tok := r.URL.Query().Get("access_token"); tok != "" {
				authz = "Bearer " + tok
			}
		}
		p, err := s.Auth.Authenticate(authz)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="vrpdicho"`)
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
			return
		}
		if r.URL.Path == "/v1/debug" && !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, p)))
	})
}

// principal returns the caller of an authenticated request.
func principal(r *http.Request) auth.Principal {
	p, _ := r.Context().Value(ctxKeyPrincipal{}).(auth.Principal)
	return p
}
