package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/claimgate/pkg/auth"
)

// SessionStore keeps sessions in PostgreSQL. It is used when Redis is not
// configured.
type SessionStore struct {
	db *sql.DB
}

// Sessions returns a session store sharing the store's connection pool.
func (s *Store) Sessions() *SessionStore {
	return &SessionStore{db: s.db}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, email, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.UserID, session.Email, session.ExpiresAt, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*auth.Session, error) {
	var session auth.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, expires_at, created_at FROM sessions WHERE id = $1
	`, id).Scan(&session.ID, &session.UserID, &session.Email, &session.ExpiresAt, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) PruneSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}

var _ auth.SessionStore = (*SessionStore)(nil)
