package membership

import (
	"context"
	"errors"
	"time"
)

// Audit reasons recorded with membership mutations.
const (
	ReasonCheckout            = "checkout"
	ReasonSubscriptionUpdated = "subscription_updated"
	ReasonSubscriptionDeleted = "subscription_deleted"
	ReasonAdmin               = "admin"
)

// Role distinguishes operators from regular members.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	// ErrUserNotFound is returned when no user matches a lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when creating a user whose email is taken.
	ErrUserExists = errors.New("user already exists")
)

// User is one member account, keyed by normalized email.
type User struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	Tier             Tier      `json:"tier"`
	Role             Role      `json:"role"`
	IsActive         bool      `json:"is_active"`
	PasswordHash     string    `json:"-"`
	StripeCustomerID string    `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasPassword reports whether the user completed activation.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Audit is one append-only membership audit row.
type Audit struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	StripeEventID    string    `json:"stripe_event_id,omitempty"`
	EventType        string    `json:"event_type,omitempty"`
	OldTier          *Tier     `json:"old_tier"`
	NewTier          Tier      `json:"new_tier"`
	StripeCustomerID string    `json:"stripe_customer_id,omitempty"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"created_at"`
}

// Change sets a user's tier to a freshly computed value. Applying the same
// Change twice leaves the same state and a single audit row.
type Change struct {
	Email            string
	Tier             Tier
	StripeCustomerID string
	// EventID is the billing event that produced the change; empty for
	// operator changes. When set, the event is marked processed in the same
	// transaction and at most one audit row exists for it.
	EventID   string
	EventType string
	Reason    string
}

// ChangeResult describes what ApplyChange did.
type ChangeResult struct {
	User    *User
	OldTier *Tier
	Created bool
	Audited bool
}

// Store persists users and their audit trail.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByCustomerID(ctx context.Context, customerID string) (*User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error)
	CreateUser(ctx context.Context, user *User) error
	ApplyChange(ctx context.Context, change Change) (*ChangeResult, error)
	SetPassword(ctx context.Context, userID int64, passwordHash string, activate bool) error
	ListAudit(ctx context.Context, email string, limit int) ([]*Audit, error)
}
