package api

import (
	"net/http"

	"github.com/mattjoyce/ipcmux/internal/auth"
)

// authMiddleware requires a configured bearer token. It passes every
// request through when no tokens are configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Tokens) == 0 {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{
				Scopes: map[string]struct{}{auth.ScopeAll: {}},
			})))
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := auth.Authenticate(token, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireScopes rejects principals holding none of scopes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
