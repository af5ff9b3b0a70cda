package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/claimgate/pkg/entitlements"
	"github.com/platinummonkey/claimgate/pkg/membership"
)

// Paywall codes carried by QuotaExceededError.
const (
	// CodeUpgradeRequired means the plan grants no access at all: the user is
	// inactive, the tier has a zero daily limit, or it lacks a feature.
	CodeUpgradeRequired = "UPGRADE_REQUIRED"
	// CodeDailyLimitExceeded means today's allowance is used up. It clears at
	// the next UTC day.
	CodeDailyLimitExceeded = "DAILY_LIMIT_EXCEEDED"
)

// DateLayout is the wire format for usage dates.
const DateLayout = "2006-01-02"

// ErrLimitReached is returned by Store.IncrementDaily when the counter is
// already at the limit. The counter is left untouched.
var ErrLimitReached = errors.New("daily limit reached")

// QuotaExceededError reports a denied usage increment or feature.
type QuotaExceededError struct {
	Code    string
	Tier    membership.Tier
	Limit   int
	Used    int
	Feature string
}

func (e *QuotaExceededError) Error() string {
	if e.Feature != "" {
		return fmt.Sprintf("feature %q requires upgrade from %s", e.Feature, e.Tier)
	}
	if e.Code == CodeDailyLimitExceeded {
		return fmt.Sprintf("daily limit of %d reached for %s", e.Limit, e.Tier)
	}
	return fmt.Sprintf("upgrade required for %s", e.Tier)
}

// Transient reports whether the denial clears at day rollover.
func (e *QuotaExceededError) Transient() bool {
	return e.Code == CodeDailyLimitExceeded
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// Plan is a user's tier with its entitlements.
type Plan struct {
	Email             string          `json:"email"`
	Tier              membership.Tier `json:"tier"`
	DailyLimit        int             `json:"daily_limit"`
	CountriesPerCheck int             `json:"countries_per_check"`
	Features          map[string]bool `json:"features"`
}

// Usage is one day's counter for a user. Limit and Remaining are -1 for
// unlimited tiers.
type Usage struct {
	Date      string `json:"date"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// DayCount is one entry of a usage history.
type DayCount struct {
	Date string `json:"date"`
	Used int    `json:"daily_checks_used"`
}

// ReportRow is one user's usage on a given date.
type ReportRow struct {
	Email     string          `json:"email"`
	Tier      membership.Tier `json:"tier"`
	Used      int             `json:"daily_checks_used"`
	Limit     int             `json:"limit"`
	Remaining int             `json:"remaining"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists per-user daily counters. Dates are UTC midnights.
type Store interface {
	GetDailyCount(ctx context.Context, userID int64, date time.Time) (int, error)
	// IncrementDaily atomically adds one to the counter if it is below limit
	// and returns the new value. A limit of entitlements.Unlimited disables
	// the check.
	IncrementDaily(ctx context.Context, userID int64, date time.Time, limit int) (int, error)
	ListDailyCounts(ctx context.Context, userID int64, from, to time.Time) (map[string]int, error)
	ListUsageForDate(ctx context.Context, date time.Time) ([]*ReportRow, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date as a UTC day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

func remaining(limit, used int) int {
	if limit == entitlements.Unlimited {
		return entitlements.Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
