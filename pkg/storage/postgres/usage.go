package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/claimgate/pkg/entitlements"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/usage"
)

const incrementQuery = `
	INSERT INTO usage_counters (user_id, date, daily_checks_used)
	VALUES ($1, $2::date, 1)
	ON CONFLICT (user_id, date) DO UPDATE SET
		daily_checks_used = usage_counters.daily_checks_used + 1,
		updated_at = NOW()`

// GetDailyCount returns the counter for a user and day, zero when absent.
func (s *Store) GetDailyCount(ctx context.Context, userID int64, date time.Time) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT daily_checks_used FROM usage_counters WHERE user_id = $1 AND date = $2::date`,
		userID, date.Format(usage.DateLayout),
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return used, nil
}

// IncrementDaily adds one to the counter in a single statement. The
// conditional upsert holds the row lock, so concurrent callers can never push
// the counter past limit. ErrLimitReached is returned when no row was written.
func (s *Store) IncrementDaily(ctx context.Context, userID int64, date time.Time, limit int) (int, error) {
	if limit != entitlements.Unlimited && limit <= 0 {
		return 0, usage.ErrLimitReached
	}

	query := incrementQuery
	args := []interface{}{userID, date.Format(usage.DateLayout)}
	if limit != entitlements.Unlimited {
		query += ` WHERE usage_counters.daily_checks_used < $3`
		args = append(args, limit)
	}
	query += ` RETURNING daily_checks_used`

	var used int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, usage.ErrLimitReached
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return used, nil
}

// ListDailyCounts returns counters keyed by YYYY-MM-DD in [from, to].
func (s *Store) ListDailyCounts(ctx context.Context, userID int64, from, to time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, daily_checks_used FROM usage_counters
		WHERE user_id = $1 AND date BETWEEN $2::date AND $3::date
	`, userID, from.Format(usage.DateLayout), to.Format(usage.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day time.Time
		var used int
		if err := rows.Scan(&day, &used); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		counts[day.Format(usage.DateLayout)] = used
	}
	return counts, rows.Err()
}

// ListUsageForDate returns every user's counter for a day.
func (s *Store) ListUsageForDate(ctx context.Context, date time.Time) ([]*usage.ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.email, u.tier, c.daily_checks_used, c.updated_at
		FROM usage_counters c
		JOIN users u ON u.id = c.user_id
		WHERE c.date = $1::date
		ORDER BY c.daily_checks_used DESC, u.email
	`, date.Format(usage.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage for date: %w", err)
	}
	defer rows.Close()

	var out []*usage.ReportRow
	for rows.Next() {
		var row usage.ReportRow
		var tier string
		if err := rows.Scan(&row.Email, &tier, &row.Used, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		row.Tier = membership.Tier(tier)
		out = append(out, &row)
	}
	return out, rows.Err()
}

// PruneBefore deletes counters older than cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_counters WHERE date < $1::date`, cutoff.Format(usage.DateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage: %w", err)
	}
	return res.RowsAffected()
}

var _ usage.Store = (*Store)(nil)
