package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/claimgate/pkg/membership"
)

const userColumns = `id, email, tier, role, is_active, COALESCE(password_hash, ''),
	COALESCE(stripe_customer_id, ''), created_at, updated_at`

func scanUser(row scanner) (*membership.User, error) {
	var u membership.User
	var tier, role string
	if err := row.Scan(&u.ID, &u.Email, &tier, &role, &u.IsActive, &u.PasswordHash,
		&u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Tier = membership.Tier(tier)
	u.Role = membership.Role(role)
	return &u, nil
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*membership.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, membership.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByID returns a user by id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*membership.User, error) {
	return s.getUser(ctx, "id = $1", id)
}

// GetUserByEmail returns a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*membership.User, error) {
	return s.getUser(ctx, "email = $1", membership.NormalizeEmail(email))
}

// GetUserByCustomerID returns the user linked to a Stripe customer.
func (s *Store) GetUserByCustomerID(ctx context.Context, customerID string) (*membership.User, error) {
	if customerID == "" {
		return nil, membership.ErrUserNotFound
	}
	return s.getUser(ctx, "stripe_customer_id = $1", customerID)
}

// ListUsers returns a page of users ordered by id and the total count.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]*membership.User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*membership.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

// CreateUser inserts a user. ErrUserExists is returned when the email is taken.
func (s *Store) CreateUser(ctx context.Context, user *membership.User) error {
	user.Email = membership.NormalizeEmail(user.Email)
	if user.Role == "" {
		user.Role = membership.RoleUser
	}
	if user.Tier == "" {
		user.Tier = membership.TierFree
	}

	query := `
		INSERT INTO users (email, tier, role, is_active, password_hash, stripe_customer_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (email) DO NOTHING
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.Email, string(user.Tier), string(user.Role), user.IsActive,
		user.PasswordHash, user.StripeCustomerID,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return membership.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// ApplyChange sets a user's tier, writes the audit row and marks the source
// event processed in one transaction. The audit insert is keyed by event id,
// so applying the same event again leaves exactly one row.
func (s *Store) ApplyChange(ctx context.Context, change membership.Change) (*membership.ChangeResult, error) {
	email := membership.NormalizeEmail(change.Email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := &membership.ChangeResult{}

	// A concurrent insert of the same email makes DO NOTHING wait for it to
	// commit, so the locking read below always sees the winner's row.
	insert := `
		INSERT INTO users (email, tier, role, is_active, stripe_customer_id)
		VALUES ($1, $2, 'user', TRUE, NULLIF($3, ''))
		ON CONFLICT (email) DO NOTHING
		RETURNING ` + userColumns
	result.User, err = scanUser(tx.QueryRowContext(ctx, insert, email, string(change.Tier), change.StripeCustomerID))
	switch {
	case err == nil:
		result.Created = true
	case errors.Is(err, sql.ErrNoRows):
		var old string
		if err := tx.QueryRowContext(ctx, `SELECT tier FROM users WHERE email = $1 FOR UPDATE`, email).Scan(&old); err != nil {
			return nil, fmt.Errorf("failed to lock user: %w", err)
		}
		oldTier := membership.Tier(old)
		result.OldTier = &oldTier

		update := `
			UPDATE users SET
				tier = $2,
				stripe_customer_id = COALESCE(NULLIF($3, ''), stripe_customer_id),
				updated_at = NOW()
			WHERE email = $1
			RETURNING ` + userColumns
		result.User, err = scanUser(tx.QueryRowContext(ctx, update, email, string(change.Tier), change.StripeCustomerID))
		if err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	var oldTier interface{}
	if result.OldTier != nil {
		oldTier = string(*result.OldTier)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO membership_audit (email, stripe_event_id, event_type, old_tier, new_tier, stripe_customer_id, reason)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (stripe_event_id) DO NOTHING
	`, email, change.EventID, change.EventType, oldTier, string(change.Tier), result.User.StripeCustomerID, change.Reason)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit row: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		result.Audited = true
	}

	if change.EventID != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE webhook_events SET status = 'processed', error = NULL, processed_at = NOW()
			WHERE stripe_event_id = $1
		`, change.EventID); err != nil {
			return nil, fmt.Errorf("failed to mark event processed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tier change: %w", err)
	}
	return result, nil
}

// SetPassword stores a new password hash, optionally activating the account.
func (s *Store) SetPassword(ctx context.Context, userID int64, passwordHash string, activate bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, is_active = (is_active OR $3), updated_at = NOW()
		WHERE id = $1
	`, userID, passwordHash, activate)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return membership.ErrUserNotFound
	}
	return nil
}

// ListAudit returns the newest audit rows for an email.
func (s *Store) ListAudit(ctx context.Context, email string, limit int) ([]*membership.Audit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(stripe_event_id, ''), COALESCE(event_type, ''), old_tier,
			new_tier, COALESCE(stripe_customer_id, ''), reason, created_at
		FROM membership_audit
		WHERE email = $1
		ORDER BY id DESC
		LIMIT $2
	`, membership.NormalizeEmail(email), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit: %w", err)
	}
	defer rows.Close()

	var out []*membership.Audit
	for rows.Next() {
		var a membership.Audit
		var oldTier sql.NullString
		var newTier string
		if err := rows.Scan(&a.ID, &a.Email, &a.StripeEventID, &a.EventType, &oldTier,
			&newTier, &a.StripeCustomerID, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		a.NewTier = membership.Tier(newTier)
		if oldTier.Valid {
			t := membership.Tier(oldTier.String)
			a.OldTier = &t
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

var _ membership.Store = (*Store)(nil)
