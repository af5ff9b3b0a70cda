package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/claimgate/pkg/entitlements"
	"github.com/platinummonkey/claimgate/pkg/membership"
)

// memStore is an in-memory Store keyed by user and day.
type memStore struct {
	mu       sync.Mutex
	counts   map[int64]map[string]int
	failWith error
}

func newMemStore() *memStore {
	return &memStore{counts: make(map[int64]map[string]int)}
}

func (s *memStore) GetDailyCount(_ context.Context, userID int64, date time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	return s.counts[userID][date.Format(DateLayout)], nil
}

func (s *memStore) IncrementDaily(_ context.Context, userID int64, date time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	if s.counts[userID] == nil {
		s.counts[userID] = make(map[string]int)
	}
	key := date.Format(DateLayout)
	if limit != entitlements.Unlimited && s.counts[userID][key] >= limit {
		return 0, ErrLimitReached
	}
	s.counts[userID][key]++
	return s.counts[userID][key], nil
}

func (s *memStore) ListDailyCounts(_ context.Context, userID int64, from, to time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for key, n := range s.counts[userID] {
		d, _ := ParseDate(key)
		if !d.Before(from) && !d.After(to) {
			out[key] = n
		}
	}
	return out, nil
}

func (s *memStore) ListUsageForDate(_ context.Context, date time.Time) ([]*ReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*ReportRow
	for userID, days := range s.counts {
		if n, ok := days[date.Format(DateLayout)]; ok {
			tier := membership.TierStarter
			if userID == 2 {
				tier = membership.TierEnterprise
			}
			rows = append(rows, &ReportRow{Email: "u@example.com", Tier: tier, Used: n})
		}
	}
	return rows, nil
}

func (s *memStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, days := range s.counts {
		for key := range days {
			d, _ := ParseDate(key)
			if d.Before(cutoff) {
				delete(days, key)
				n++
			}
		}
	}
	return n, nil
}

func testTable(t *testing.T) *entitlements.Table {
	t.Helper()
	table, err := entitlements.Parse([]byte(`
tiers:
  free:
    daily_checks: 0
  starter:
    daily_checks: 3
  pro:
    daily_checks: 10
    features:
      pro_tools: true
  enterprise:
    daily_checks: -1
`))
	require.NoError(t, err)
	return table
}

func fixedMeter(t *testing.T, store Store, now time.Time) *Meter {
	m := NewMeter(store, testTable(t))
	m.now = func() time.Time { return now }
	return m
}

func starterUser() *membership.User {
	return &membership.User{ID: 1, Email: "u@example.com", Tier: membership.TierStarter, IsActive: true}
}

func TestMeter_IncrementStopsAtLimit(t *testing.T) {
	store := newMemStore()
	m := fixedMeter(t, store, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	user := starterUser()
	ctx := context.Background()

	const n = 7
	succeeded := 0
	var lastErr error
	for i := 0; i < n; i++ {
		u, err := m.Increment(ctx, user)
		if err == nil {
			succeeded++
			assert.Equal(t, succeeded, u.Used)
			assert.Equal(t, 3-succeeded, u.Remaining)
			continue
		}
		lastErr = err
	}

	assert.Equal(t, 3, succeeded)
	require.Error(t, lastErr)

	var qe *QuotaExceededError
	require.True(t, errors.As(lastErr, &qe))
	assert.Equal(t, CodeDailyLimitExceeded, qe.Code)
	assert.True(t, qe.Transient())
	assert.Equal(t, 3, qe.Limit)

	u, err := m.Usage(ctx, user, m.Today())
	require.NoError(t, err)
	assert.Equal(t, 3, u.Used)
	assert.Equal(t, 0, u.Remaining)
}

func TestMeter_ConcurrentIncrementsNeverExceedLimit(t *testing.T) {
	store := newMemStore()
	m := fixedMeter(t, store, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	user := &membership.User{ID: 5, Tier: membership.TierPro, IsActive: true}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Increment(context.Background(), user); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	n, _ := store.GetDailyCount(context.Background(), 5, m.Today())
	assert.Equal(t, 10, n)
}

func TestMeter_DatesAreIndependent(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	user := starterUser()

	yesterday := fixedMeter(t, store, time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		_, err := yesterday.Increment(ctx, user)
		require.NoError(t, err)
	}

	today := fixedMeter(t, store, time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC))
	u, err := today.Increment(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Used)
	assert.Equal(t, "2026-03-02", u.Date)

	prev, err := today.Usage(ctx, user, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, prev.Used)
}

func TestMeter_NoSubscription(t *testing.T) {
	m := fixedMeter(t, newMemStore(), time.Now())
	ctx := context.Background()

	tests := []struct {
		name string
		user *membership.User
	}{
		{"inactive user", &membership.User{ID: 1, Tier: membership.TierPro, IsActive: false}},
		{"zero limit tier", &membership.User{ID: 2, Tier: membership.TierFree, IsActive: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Increment(ctx, tt.user)
			var qe *QuotaExceededError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, CodeUpgradeRequired, qe.Code)
			assert.False(t, qe.Transient())
			assert.True(t, IsQuotaExceeded(err))
		})
	}
}

func TestMeter_Unlimited(t *testing.T) {
	m := fixedMeter(t, newMemStore(), time.Now())
	user := &membership.User{ID: 2, Tier: membership.TierEnterprise, IsActive: true}

	var u *Usage
	var err error
	for i := 0; i < 500; i++ {
		u, err = m.Increment(context.Background(), user)
		require.NoError(t, err)
	}
	assert.Equal(t, 500, u.Used)
	assert.Equal(t, entitlements.Unlimited, u.Remaining)
	assert.Equal(t, entitlements.Unlimited, u.Limit)
}

func TestMeter_StoreError(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("connection refused")
	m := fixedMeter(t, store, time.Now())

	_, err := m.Increment(context.Background(), starterUser())
	require.Error(t, err)
	assert.False(t, IsQuotaExceeded(err))

	_, err = m.Usage(context.Background(), starterUser(), time.Now())
	assert.Error(t, err)
}

func TestMeter_Plan(t *testing.T) {
	m := fixedMeter(t, newMemStore(), time.Now())
	plan := m.Plan(&membership.User{Email: "p@example.com", Tier: membership.TierPro})

	assert.Equal(t, membership.TierPro, plan.Tier)
	assert.Equal(t, 10, plan.DailyLimit)
	assert.True(t, plan.Features["pro_tools"])
}

func TestMeter_RequireFeature(t *testing.T) {
	m := fixedMeter(t, newMemStore(), time.Now())

	assert.NoError(t, m.RequireFeature(&membership.User{Tier: membership.TierPro, IsActive: true}, "pro_tools"))

	err := m.RequireFeature(starterUser(), "pro_tools")
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "pro_tools", qe.Feature)
	assert.Equal(t, CodeUpgradeRequired, qe.Code)
}

func TestMeter_History(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	m := fixedMeter(t, store, now)
	ctx := context.Background()

	store.counts[1] = map[string]int{"2026-03-10": 2, "2026-03-08": 1, "2026-01-01": 9}

	history, err := m.History(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []DayCount{
		{Date: "2026-03-08", Used: 1},
		{Date: "2026-03-09", Used: 0},
		{Date: "2026-03-10", Used: 2},
	}, history)

	history, err = m.History(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, history, DefaultHistoryDays)

	history, err = m.History(ctx, 1, 1000)
	require.NoError(t, err)
	assert.Len(t, history, MaxHistoryDays)
}

func TestMeter_DailyReport(t *testing.T) {
	store := newMemStore()
	m := fixedMeter(t, store, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	store.counts[1] = map[string]int{"2026-03-10": 2}
	store.counts[2] = map[string]int{"2026-03-10": 40}

	rows, err := m.DailyReport(context.Background(), m.Today())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		switch row.Tier {
		case membership.TierStarter:
			assert.Equal(t, 3, row.Limit)
			assert.Equal(t, 1, row.Remaining)
		case membership.TierEnterprise:
			assert.Equal(t, entitlements.Unlimited, row.Remaining)
		}
	}
}

func TestMeter_Prune(t *testing.T) {
	store := newMemStore()
	m := fixedMeter(t, store, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	store.counts[1] = map[string]int{"2026-03-10": 2, "2025-11-01": 1, "2025-12-01": 4}

	n, err := m.Prune(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, store.counts[1], 1)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, d.Location())

	_, err = ParseDate("28/02/2026")
	assert.Error(t, err)
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	d := Day(time.Date(2026, 3, 2, 5, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), d)
}
