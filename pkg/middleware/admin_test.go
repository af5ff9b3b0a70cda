package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/claimgate/pkg/contextkeys"
)

func TestAdminKeyMiddleware(t *testing.T) {
	m := NewAdminKeyMiddleware("s3cret-admin-key")

	admin := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin = contextkeys.IsAdmin(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "s3cret-admin-kex", http.StatusUnauthorized},
		{"prefix of key", "s3cret", http.StatusUnauthorized},
		{"correct key", "s3cret-admin-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin = false
			req := httptest.NewRequest("GET", "/admin/users", nil)
			if tt.key != "" {
				req.Header.Set(AdminKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.status == http.StatusOK, admin)
		})
	}
}

func TestAdminKeyMiddleware_EmptyConfiguredKeyRejectsAll(t *testing.T) {
	m := NewAdminKeyMiddleware("")
	assert.False(t, m.Valid(""))
	assert.False(t, m.Valid("anything"))
}
