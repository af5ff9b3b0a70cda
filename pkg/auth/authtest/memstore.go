// Package authtest provides in-memory link and session stores for tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/claimgate/pkg/auth"
)

// LinkStore is an in-memory auth.LinkStore.
type LinkStore struct {
	mu    sync.Mutex
	links map[string]*auth.MagicLink
}

// NewLinkStore returns an empty link store.
func NewLinkStore() *LinkStore {
	return &LinkStore{links: make(map[string]*auth.MagicLink)}
}

// Len returns the number of stored links.
func (s *LinkStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// Expire moves every link's expiry into the past.
func (s *LinkStore) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		l.ExpiresAt = time.Unix(0, 0)
	}
}

func (s *LinkStore) CreateLink(_ context.Context, link *auth.MagicLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *link
	s.links[link.TokenHash] = &stored
	return nil
}

func (s *LinkStore) ConsumeLink(_ context.Context, tokenHash string, purpose auth.Purpose, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[tokenHash]
	if !ok || l.Purpose != purpose || l.ConsumedAt != nil || !now.Before(l.ExpiresAt) {
		return "", auth.ErrInvalidLink
	}
	consumed := now
	l.ConsumedAt = &consumed
	return l.Email, nil
}

func (s *LinkStore) PruneLinks(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, l := range s.links {
		if l.ExpiresAt.Before(before) {
			delete(s.links, hash)
			n++
		}
	}
	return n, nil
}

// SessionStore is an in-memory auth.SessionStore.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

// NewSessionStore returns an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*auth.Session)}
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) CreateSession(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *session
	s.sessions[session.ID] = &stored
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, id string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	out := *session
	return &out, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *SessionStore) PruneSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Notifier records links instead of sending them.
type Notifier struct {
	mu          sync.Mutex
	MagicLinks  map[string]string
	Activations map[string]string
	Err         error
}

// NewNotifier returns an empty recording notifier.
func NewNotifier() *Notifier {
	return &Notifier{MagicLinks: make(map[string]string), Activations: make(map[string]string)}
}

func (n *Notifier) SendMagicLink(_ context.Context, email, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.MagicLinks[email] = link
	return nil
}

func (n *Notifier) SendActivation(_ context.Context, email, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Activations[email] = link
	return nil
}

// MagicLink returns the last magic link sent to email.
func (n *Notifier) MagicLink(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.MagicLinks[email]
}

// Activation returns the last activation link sent to email.
func (n *Notifier) Activation(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Activations[email]
}
