// Package usagetest provides an in-memory usage.Store for tests.
package usagetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/claimgate/pkg/entitlements"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/usage"
)

// MemStore keeps counters per user and day. Report rows are joined against
// the optional Users store.
type MemStore struct {
	mu     sync.Mutex
	counts map[int64]map[string]int
	users  membership.Store

	// Err, when set, is returned by every method.
	Err error
}

// New returns an empty store. users may be nil.
func New(users membership.Store) *MemStore {
	return &MemStore{counts: make(map[int64]map[string]int), users: users}
}

// Set overwrites a counter.
func (s *MemStore) Set(userID int64, date time.Time, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[userID] == nil {
		s.counts[userID] = make(map[string]int)
	}
	s.counts[userID][usage.Day(date).Format(usage.DateLayout)] = n
}

func (s *MemStore) GetDailyCount(_ context.Context, userID int64, date time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return s.counts[userID][date.Format(usage.DateLayout)], nil
}

func (s *MemStore) IncrementDaily(_ context.Context, userID int64, date time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	if s.counts[userID] == nil {
		s.counts[userID] = make(map[string]int)
	}
	key := date.Format(usage.DateLayout)
	if limit != entitlements.Unlimited && s.counts[userID][key] >= limit {
		return 0, usage.ErrLimitReached
	}
	s.counts[userID][key]++
	return s.counts[userID][key], nil
}

func (s *MemStore) ListDailyCounts(_ context.Context, userID int64, from, to time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]int)
	for key, n := range s.counts[userID] {
		d, err := usage.ParseDate(key)
		if err == nil && !d.Before(from) && !d.After(to) {
			out[key] = n
		}
	}
	return out, nil
}

func (s *MemStore) ListUsageForDate(ctx context.Context, date time.Time) ([]*usage.ReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	key := date.Format(usage.DateLayout)
	ids := make([]int64, 0, len(s.counts))
	for id, days := range s.counts {
		if _, ok := days[key]; ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]*usage.ReportRow, 0, len(ids))
	for _, id := range ids {
		row := &usage.ReportRow{Used: s.counts[id][key], Tier: membership.TierFree}
		if s.users != nil {
			if u, err := s.users.GetUserByID(ctx, id); err == nil {
				row.Email = u.Email
				row.Tier = u.Tier
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *MemStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, days := range s.counts {
		for key := range days {
			if d, err := usage.ParseDate(key); err == nil && d.Before(cutoff) {
				delete(days, key)
				n++
			}
		}
	}
	return n, nil
}
