package jwt

import (
	"encoding/json"
	"net/http"

	"fleet-tracker/internal/domain/user"
)

// AuthMiddlewareFunc validates the bearer token, enforces allowedRoles and
// injects the claims into the request context.
func AuthMiddlewareFunc(mgr *Manager, allowedRoles ...user.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, err := FromAuthorization(r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err)
				return
			}

			claims, err := mgr.ParseAndValidate(raw)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err)
				return
			}

			if err := RoleAllowed(claims, allowedRoles...); err != nil {
				writeAuthError(w, http.StatusForbidden, err)
				return
			}

			next(w, r.WithContext(InjectClaims(r.Context(), claims)))
		}
	}
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="fleet-tracker"`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
