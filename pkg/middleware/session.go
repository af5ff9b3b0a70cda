package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/claimgate/pkg/auth"
	"github.com/platinummonkey/claimgate/pkg/contextkeys"
	"github.com/platinummonkey/claimgate/pkg/httputil"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/observability"
)

// Authenticator resolves a session cookie value to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*membership.User, error)
}

// SessionMiddleware requires a valid session cookie
type SessionMiddleware struct {
	authn Authenticator
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(authn Authenticator) *SessionMiddleware {
	return &SessionMiddleware{authn: authn}
}

// Handler wraps an HTTP handler with session authentication. Requests without
// a live session get 401.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.SessionToken(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "Not authenticated")
			return
		}

		user, err := m.authn.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrSessionNotFound) {
				httputil.WriteUnauthorized(w, "Not authenticated")
				return
			}
			observability.FromContext(r.Context()).WithError(err).Error("session lookup failed")
			httputil.WriteInternalError(w)
			return
		}

		ctx := contextkeys.WithUser(r.Context(), user)
		ctx = contextkeys.WithSessionToken(ctx, token)
		ctx = observability.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUser extracts the authenticated user from the request
func GetUser(r *http.Request) *membership.User {
	user, _ := r.Context().Value(contextkeys.UserKey).(*membership.User)
	return user
}
