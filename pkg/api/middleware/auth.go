package middleware

import (
	"fmt"
	"net/http"

	"github.com/goclaw/clusterctl/pkg/api/response"
	"github.com/goclaw/clusterctl/pkg/grpc/interceptors"
)

// Auth returns a middleware that requires a bearer token granting at least
// role. Tokens and roles are the ones the gRPC server enforces. A nil
// authenticator lets every request through.
func Auth(auth *interceptors.TokenAuthenticator, role interceptors.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if auth == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			header := r.Header.Get("Authorization")
			if header == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="clusterctl"`)
				response.Error(w, http.StatusUnauthorized, response.ErrCodeUnauthorized, "missing authorization token", requestID)
				return
			}
			p, ok := auth.Authenticate(interceptors.BearerToken(header))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="clusterctl", error="invalid_token"`)
				response.Error(w, http.StatusUnauthorized, response.ErrCodeUnauthorized, "invalid token", requestID)
				return
			}
			if !p.Role.Allows(role) {
				response.Error(w, http.StatusForbidden, response.ErrCodeForbidden, fmt.Sprintf("%s role required", role), requestID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
