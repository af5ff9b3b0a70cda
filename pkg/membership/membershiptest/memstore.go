// Package membershiptest provides an in-memory membership.Store for tests.
package membershiptest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/claimgate/pkg/membership"
)

// MemStore is a goroutine-safe in-memory membership.Store. ApplyChange keeps
// the same idempotency contract as the SQL store: one audit row per event ID.
type MemStore struct {
	mu      sync.Mutex
	nextID  int64
	users   map[string]*membership.User
	audit   []*membership.Audit
	applied []string

	// Err, when set, is returned by every method.
	Err error
}

// New returns an empty store.
func New() *MemStore {
	return &MemStore{users: make(map[string]*membership.User)}
}

// Add inserts a user directly and returns the stored copy.
func (s *MemStore) Add(u membership.User) *membership.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u.ID = s.nextID
	u.Email = membership.NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = membership.RoleUser
	}
	if u.Tier == "" {
		u.Tier = membership.TierFree
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	s.users[u.Email] = &u
	out := u
	return &out
}

// Audit returns a copy of all audit rows in insertion order.
func (s *MemStore) Audit() []membership.Audit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]membership.Audit, 0, len(s.audit))
	for _, a := range s.audit {
		out = append(out, *a)
	}
	return out
}

// ProcessedEvents returns the event IDs ApplyChange marked processed.
func (s *MemStore) ProcessedEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.applied...)
}

func (s *MemStore) GetUserByID(_ context.Context, id int64) (*membership.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if u.ID == id {
			out := *u
			return &out, nil
		}
	}
	return nil, membership.ErrUserNotFound
}

func (s *MemStore) GetUserByEmail(_ context.Context, email string) (*membership.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if u, ok := s.users[membership.NormalizeEmail(email)]; ok {
		out := *u
		return &out, nil
	}
	return nil, membership.ErrUserNotFound
}

func (s *MemStore) GetUserByCustomerID(_ context.Context, customerID string) (*membership.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if customerID != "" && u.StripeCustomerID == customerID {
			out := *u
			return &out, nil
		}
	}
	return nil, membership.ErrUserNotFound
}

func (s *MemStore) ListUsers(_ context.Context, limit, offset int) ([]*membership.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	all := make([]*membership.User, 0, len(s.users))
	for _, u := range s.users {
		out := *u
		all = append(all, &out)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= total {
		return []*membership.User{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemStore) CreateUser(_ context.Context, user *membership.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	email := membership.NormalizeEmail(user.Email)
	if _, ok := s.users[email]; ok {
		return membership.ErrUserExists
	}
	s.nextID++
	user.ID = s.nextID
	user.Email = email
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	s.users[email] = &stored
	return nil
}

func (s *MemStore) ApplyChange(_ context.Context, change membership.Change) (*membership.ChangeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	email := membership.NormalizeEmail(change.Email)
	result := &membership.ChangeResult{}
	u, ok := s.users[email]
	if !ok {
		s.nextID++
		u = &membership.User{
			ID:        s.nextID,
			Email:     email,
			Role:      membership.RoleUser,
			IsActive:  true,
			CreatedAt: time.Now(),
		}
		s.users[email] = u
		result.Created = true
	} else {
		old := u.Tier
		result.OldTier = &old
	}
	u.Tier = change.Tier
	if change.StripeCustomerID != "" {
		u.StripeCustomerID = change.StripeCustomerID
	}
	u.UpdatedAt = time.Now()

	duplicate := false
	if change.EventID != "" {
		for _, a := range s.audit {
			if a.StripeEventID == change.EventID {
				duplicate = true
				break
			}
		}
	}
	if !duplicate {
		s.audit = append(s.audit, &membership.Audit{
			ID:               int64(len(s.audit) + 1),
			Email:            email,
			StripeEventID:    change.EventID,
			EventType:        change.EventType,
			OldTier:          result.OldTier,
			NewTier:          change.Tier,
			StripeCustomerID: u.StripeCustomerID,
			Reason:           change.Reason,
			CreatedAt:        time.Now(),
		})
		result.Audited = true
	}
	if change.EventID != "" {
		s.applied = append(s.applied, change.EventID)
	}

	out := *u
	result.User = &out
	return result, nil
}

func (s *MemStore) SetPassword(_ context.Context, userID int64, passwordHash string, activate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, u := range s.users {
		if u.ID == userID {
			u.PasswordHash = passwordHash
			if activate {
				u.IsActive = true
			}
			return nil
		}
	}
	return membership.ErrUserNotFound
}

func (s *MemStore) ListAudit(_ context.Context, email string, limit int) ([]*membership.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	email = membership.NormalizeEmail(email)
	var out []*membership.Audit
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].Email == email {
			a := *s.audit[i]
			out = append(out, &a)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
