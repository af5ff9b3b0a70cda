package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/platinummonkey/claimgate/pkg/contextkeys"
	"github.com/platinummonkey/claimgate/pkg/httputil"
)

// AdminKeyHeader carries the operator shared secret.
const AdminKeyHeader = "X-Admin-Api-Key"

// AdminKeyMiddleware guards operator endpoints with a shared secret
type AdminKeyMiddleware struct {
	key []byte
}

// NewAdminKeyMiddleware creates the middleware. An empty key rejects every
// request.
func NewAdminKeyMiddleware(key string) *AdminKeyMiddleware {
	return &AdminKeyMiddleware{key: []byte(key)}
}

// Valid compares a presented key with the configured one in constant time.
func (m *AdminKeyMiddleware) Valid(presented string) bool {
	if len(m.key) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), m.key) == 1
}

// Handler wraps an HTTP handler with the admin key check
func (m *AdminKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Valid(r.Header.Get(AdminKeyHeader)) {
			httputil.WriteUnauthorized(w, "Invalid admin key")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithAdmin(r.Context())))
	})
}
