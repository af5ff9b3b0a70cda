package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials is the single answer to any failed password login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidLink is returned for unknown, expired or already used links.
	ErrInvalidLink = errors.New("invalid or expired link")
	// ErrSessionNotFound is returned for unknown or expired sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrWeakPassword is returned when a new password fails the strength check.
	ErrWeakPassword = errors.New("password must be at least 8 characters and contain a letter and a digit")
)

// Purpose separates login links from activation links.
type Purpose string

const (
	PurposeLogin      Purpose = "login"
	PurposeActivation Purpose = "activation"
)

// MagicLink is a single-use, time-bounded token. Only the hash is stored.
type MagicLink struct {
	TokenHash  string     `json:"-"`
	Email      string     `json:"email"`
	Purpose    Purpose    `json:"purpose"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Session is a server-side login session. ID is the hash of the cookie value.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Issued is a freshly created session together with the raw cookie value,
// which is never stored.
type Issued struct {
	Token   string
	Session *Session
}

// LinkStore persists magic-link tokens.
type LinkStore interface {
	CreateLink(ctx context.Context, link *MagicLink) error
	// ConsumeLink marks an unexpired, unused token as consumed and returns its
	// email. Anything else yields ErrInvalidLink.
	ConsumeLink(ctx context.Context, tokenHash string, purpose Purpose, now time.Time) (string, error)
	PruneLinks(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	PruneSessions(ctx context.Context, now time.Time) (int64, error)
}
