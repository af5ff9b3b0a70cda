// Package contextkeys provides centralized context key definitions
//
// All context keys shared between packages are defined here so that every
// setter and getter agrees on the key and the stored type.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains *membership.User
	// Set by: middleware.SessionMiddleware (pkg/middleware/session.go)
	// Required by: all /me endpoints
	UserKey Key = "user"

	// SessionTokenKey contains the raw session cookie value (string)
	// Set by: middleware.SessionMiddleware
	// Used by: logout
	SessionTokenKey Key = "session_token"

	// AdminKey contains bool, true once the admin key was verified
	// Set by: middleware.AdminKeyMiddleware (pkg/middleware/admin.go)
	AdminKey Key = "admin"
)

// WithUser adds the authenticated user to the context
func WithUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// WithSessionToken adds the session cookie value to the context
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, SessionTokenKey, token)
}

// WithAdmin marks the request as admin-authenticated
func WithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, AdminKey, true)
}

// GetSessionToken retrieves the session cookie value from context
func GetSessionToken(ctx context.Context) string {
	if token, ok := ctx.Value(SessionTokenKey).(string); ok {
		return token
	}
	return ""
}

// IsAdmin reports whether the admin key was verified for this request
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(AdminKey).(bool)
	return admin
}
