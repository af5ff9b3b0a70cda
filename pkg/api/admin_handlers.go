package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/claimgate/pkg/httputil"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/usage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// listUsers handles GET /admin/users?limit=&offset=
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryIntInRange(r, "limit", defaultPageSize, 1, maxPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		httputil.WriteBadRequest(w, "offset must be a non-negative integer")
		return
	}

	users, total, err := s.services.Users.ListUsers(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, r, err, "list users failed")
		return
	}
	httputil.WriteSuccess(w, UserListResponse{Users: users, Total: total, Limit: limit, Offset: offset})
}

// getUser handles GET /admin/users/{email}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}

	u, err := s.services.Meter.Usage(r.Context(), user, s.services.Meter.Today())
	if err != nil {
		s.internalError(w, r, err, "usage lookup failed")
		return
	}
	httputil.WriteSuccess(w, UserDetailResponse{User: user, UsageToday: u.Used})
}

// getUserUsage handles GET /admin/users/{email}/usage?days=
func (s *Server) getUserUsage(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.ParseQueryIntInRange(r, "days", usage.DefaultHistoryDays, 1, usage.MaxHistoryDays)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}

	history, err := s.services.Meter.History(r.Context(), user.ID, days)
	if err != nil {
		s.internalError(w, r, err, "usage history failed")
		return
	}
	httputil.WriteSuccess(w, UsageHistoryResponse{Email: user.Email, Days: days, Usage: history})
}

// getUsageReport handles GET /admin/usage?date=
func (s *Server) getUsageReport(w http.ResponseWriter, r *http.Request) {
	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}

	rows, err := s.services.Meter.DailyReport(r.Context(), date)
	if err != nil {
		s.internalError(w, r, err, "usage report failed")
		return
	}
	if rows == nil {
		rows = []*usage.ReportRow{}
	}
	httputil.WriteSuccess(w, UsageReportResponse{Date: date.Format(usage.DateLayout), Rows: rows})
}

func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request) (*membership.User, bool) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return nil, false
	}

	user, err := s.services.Users.GetUserByEmail(r.Context(), membership.NormalizeEmail(email))
	if errors.Is(err, membership.ErrUserNotFound) {
		httputil.WriteNotFoundError(w, "User not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, err, "user lookup failed")
		return nil, false
	}
	return user, true
}
