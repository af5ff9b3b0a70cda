package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/claimgate/pkg/auth"
)

// CreateLink stores a hashed magic or activation link.
func (s *Store) CreateLink(ctx context.Context, link *auth.MagicLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO magic_links (token_hash, email, purpose, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, link.TokenHash, link.Email, string(link.Purpose), link.ExpiresAt, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// ConsumeLink marks an unexpired, unused link consumed and returns its email.
// The conditional update makes redemption single-use under concurrency.
func (s *Store) ConsumeLink(ctx context.Context, tokenHash string, purpose auth.Purpose, now time.Time) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `
		UPDATE magic_links SET consumed_at = $3
		WHERE token_hash = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
		RETURNING email
	`, tokenHash, string(purpose), now).Scan(&email)
	if err == sql.ErrNoRows {
		return "", auth.ErrInvalidLink
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume link: %w", err)
	}
	return email, nil
}

// PruneLinks deletes links that expired before the given time.
func (s *Store) PruneLinks(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM magic_links WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune links: %w", err)
	}
	return res.RowsAffected()
}

var _ auth.LinkStore = (*Store)(nil)
