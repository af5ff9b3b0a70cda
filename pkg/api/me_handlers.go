package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/claimgate/pkg/billing"
	"github.com/platinummonkey/claimgate/pkg/httputil"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/middleware"
	"github.com/platinummonkey/claimgate/pkg/usage"
)

func currentUser(r *http.Request) *membership.User {
	return middleware.GetUser(r)
}

// getPlan handles GET /me/plan
func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.services.Meter.Plan(currentUser(r)))
}

// getUsage handles GET /me/usage?date=YYYY-MM-DD
func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}

	u, err := s.services.Meter.Usage(r.Context(), currentUser(r), date)
	if err != nil {
		s.internalError(w, r, err, "usage lookup failed")
		return
	}
	httputil.WriteSuccess(w, u)
}

// incrementUsage handles POST /me/usage/increment
func (s *Server) incrementUsage(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	u, err := s.services.Meter.Increment(r.Context(), user)
	if err != nil {
		if s.writeQuotaError(w, err) {
			s.recorder.RecordUsage(string(user.Tier), resultDenied)
			return
		}
		s.recorder.RecordUsage(string(user.Tier), resultError)
		s.internalError(w, r, err, "usage increment failed")
		return
	}

	s.recorder.RecordUsage(string(user.Tier), resultSuccess)
	httputil.WriteSuccess(w, u)
}

// getUsageHistory handles GET /me/usage/history?days=
func (s *Server) getUsageHistory(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	days, err := httputil.ParseQueryIntInRange(r, "days", usage.DefaultHistoryDays, 1, usage.MaxHistoryDays)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	history, err := s.services.Meter.History(r.Context(), user.ID, days)
	if err != nil {
		s.internalError(w, r, err, "usage history failed")
		return
	}
	httputil.WriteSuccess(w, UsageHistoryResponse{Email: user.Email, Days: days, Usage: history})
}

// checkFeature handles GET /me/features/{flag}
func (s *Server) checkFeature(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	flag := mux.Vars(r)["flag"]

	if err := s.services.Meter.RequireFeature(user, flag); err != nil {
		if s.writeQuotaError(w, err) {
			return
		}
		s.internalError(w, r, err, "feature check failed")
		return
	}
	httputil.WriteSuccess(w, FeatureResponse{Feature: flag, Tier: user.Tier, Enabled: true})
}

// billingPortal handles POST /me/billing/portal
func (s *Server) billingPortal(w http.ResponseWriter, r *http.Request) {
	url, err := s.services.Billing.PortalURL(r.Context(), currentUser(r), s.config.PortalReturnURL)
	switch {
	case errors.Is(err, billing.ErrNoCustomer):
		httputil.WriteBadRequest(w, "No billing account for this user")
	case errors.Is(err, billing.ErrStripeUnavailable):
		httputil.WriteServiceUnavailable(w, "Billing portal is unavailable")
	case err != nil:
		s.internalError(w, r, err, "billing portal failed")
	default:
		httputil.WriteSuccess(w, PortalResponse{URL: url})
	}
}

// parseDate reads ?date=, defaulting to today UTC. It writes 400 on a bad
// value.
func (s *Server) parseDate(w http.ResponseWriter, r *http.Request) (date time.Time, ok bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return s.services.Meter.Today(), true
	}
	date, err := usage.ParseDate(raw)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return date, false
	}
	return date, true
}
