package api

import (
	"net/http"

	"github.com/mattjoyce/hbrun/internal/auth"
)

// authMiddleware authenticates the bearer token and stores the principal on
// the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.auth.Authenticate(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.logger.Debug("authenticated", "principal", principal.Name, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireScope rejects principals that do not hold scope.
func (s *Server) requireScope(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !principal.Allows(scope) {
				s.writeError(w, http.StatusForbidden, "token lacks scope "+string(scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
