package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/claimgate/pkg/entitlements"
	"github.com/platinummonkey/claimgate/pkg/membership"
)

const (
	// DefaultHistoryDays is used when no window is requested.
	DefaultHistoryDays = 30
	// MaxHistoryDays bounds history queries.
	MaxHistoryDays = 90
)

// Meter enforces daily limits on top of a Store.
type Meter struct {
	store Store
	table *entitlements.Table
	now   func() time.Time
}

// NewMeter creates a usage meter.
func NewMeter(store Store, table *entitlements.Table) *Meter {
	return &Meter{
		store: store,
		table: table,
		now:   time.Now,
	}
}

// Today returns the current UTC day.
func (m *Meter) Today() time.Time {
	return Day(m.now())
}

// Plan returns the user's tier and its entitlements.
func (m *Meter) Plan(user *membership.User) Plan {
	ent := m.table.Get(user.Tier)
	return Plan{
		Email:             user.Email,
		Tier:              user.Tier,
		DailyLimit:        ent.DailyLimit,
		CountriesPerCheck: ent.CountriesPerCheck,
		Features:          ent.Features,
	}
}

// Usage returns the counter for the given day, zero when no row exists.
func (m *Meter) Usage(ctx context.Context, user *membership.User, date time.Time) (*Usage, error) {
	date = Day(date)
	used, err := m.store.GetDailyCount(ctx, user.ID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	limit := m.table.Get(user.Tier).DailyLimit
	return &Usage{
		Date:      date.Format(DateLayout),
		Used:      used,
		Limit:     limit,
		Remaining: remaining(limit, used),
	}, nil
}

// Increment consumes one unit of today's allowance. When the allowance is
// exhausted it returns a *QuotaExceededError and leaves the counter as is.
func (m *Meter) Increment(ctx context.Context, user *membership.User) (*Usage, error) {
	ent := m.table.Get(user.Tier)
	if !user.IsActive || ent.DailyLimit == 0 {
		return nil, &QuotaExceededError{Code: CodeUpgradeRequired, Tier: user.Tier, Limit: ent.DailyLimit}
	}

	today := m.Today()
	used, err := m.store.IncrementDaily(ctx, user.ID, today, ent.DailyLimit)
	if errors.Is(err, ErrLimitReached) {
		return nil, &QuotaExceededError{
			Code:  CodeDailyLimitExceeded,
			Tier:  user.Tier,
			Limit: ent.DailyLimit,
			Used:  ent.DailyLimit,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}

	return &Usage{
		Date:      today.Format(DateLayout),
		Used:      used,
		Limit:     ent.DailyLimit,
		Remaining: remaining(ent.DailyLimit, used),
	}, nil
}

// RequireFeature returns a *QuotaExceededError when the user's tier does not
// include the flag.
func (m *Meter) RequireFeature(user *membership.User, flag string) error {
	if user.IsActive && m.table.Get(user.Tier).HasFeature(flag) {
		return nil
	}
	return &QuotaExceededError{Code: CodeUpgradeRequired, Tier: user.Tier, Feature: flag}
}

// History returns per-day counts for the last days days, oldest first,
// including days without usage. days is clamped to [1, MaxHistoryDays].
func (m *Meter) History(ctx context.Context, userID int64, days int) ([]DayCount, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	if days > MaxHistoryDays {
		days = MaxHistoryDays
	}

	to := m.Today()
	from := to.AddDate(0, 0, -(days - 1))
	counts, err := m.store.ListDailyCounts(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage history: %w", err)
	}

	out := make([]DayCount, 0, days)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(DateLayout)
		out = append(out, DayCount{Date: key, Used: counts[key]})
	}
	return out, nil
}

// DailyReport lists every user with usage on date, with their limits.
func (m *Meter) DailyReport(ctx context.Context, date time.Time) ([]*ReportRow, error) {
	rows, err := m.store.ListUsageForDate(ctx, Day(date))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	for _, row := range rows {
		row.Limit = m.table.Get(row.Tier).DailyLimit
		row.Remaining = remaining(row.Limit, row.Used)
	}
	return rows, nil
}

// Prune deletes counters older than retention. Counters are keyed by day,
// so this is housekeeping only.
func (m *Meter) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := Day(m.now().Add(-retention))
	n, err := m.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage: %w", err)
	}
	return n, nil
}
