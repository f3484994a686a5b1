package middleware

import (
	"crypto/subtle"
	"net/http"

	"swapi-archive/pkg/apierror"
)

// AdminKeyHeader carries the admin key on admin requests.
const AdminKeyHeader = "X-Admin-Key"

// NewAdminAuth guards admin routes with a shared key.
// An empty key leaves the routes open, which suits local development.
func NewAdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if adminKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(AdminKeyHeader)
			if provided == "" {
				writeError(w, apierror.Unauthorized("Admin key required. Use the X-Admin-Key header."))
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) != 1 {
				writeError(w, apierror.Unauthorized("Invalid admin key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_, _ = w.Write(err.ToJSON())
}
