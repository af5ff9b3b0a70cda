package api

import (
	"context"
	"time"

	"github.com/platinummonkey/claimgate/pkg/auth"
	"github.com/platinummonkey/claimgate/pkg/billing"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/usage"
)

// AuthService is the subset of auth.Service the handlers call.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*auth.Issued, error)
	RequestMagicLink(ctx context.Context, email string) error
	RedeemMagicLink(ctx context.Context, token string) (*auth.Issued, error)
	Activate(ctx context.Context, token, password string) (*auth.Issued, error)
	ChangePassword(ctx context.Context, user *membership.User, current, next string) error
	Authenticate(ctx context.Context, token string) (*membership.User, error)
	Logout(ctx context.Context, token string) error
	SessionTTL() time.Duration
	SecureCookies() bool
}

// UsageMeter is the subset of usage.Meter the handlers call.
type UsageMeter interface {
	Today() time.Time
	Plan(user *membership.User) usage.Plan
	Usage(ctx context.Context, user *membership.User, date time.Time) (*usage.Usage, error)
	Increment(ctx context.Context, user *membership.User) (*usage.Usage, error)
	RequireFeature(user *membership.User, flag string) error
	History(ctx context.Context, userID int64, days int) ([]usage.DayCount, error)
	DailyReport(ctx context.Context, date time.Time) ([]*usage.ReportRow, error)
}

// BillingService is the subset of billing.Processor the handlers call.
type BillingService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*billing.Result, error)
	Replay(ctx context.Context, eventID string) (*billing.Result, error)
	PortalURL(ctx context.Context, user *membership.User, returnURL string) (string, error)
}

// UserDirectory is the read side of membership.Store used by admin views.
type UserDirectory interface {
	GetUserByEmail(ctx context.Context, email string) (*membership.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*membership.User, int, error)
}

// Recorder counts auth and usage outcomes. *observability.Metrics
// satisfies it.
type Recorder interface {
	RecordLogin(method, result string)
	RecordUsage(tier, result string)
	RecordQuotaDenial(code string)
	RecordRateLimited(route string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string, string) {}
func (nopRecorder) RecordUsage(string, string) {}
func (nopRecorder) RecordQuotaDenial(string)   {}
func (nopRecorder) RecordRateLimited(string)   {}

// Login methods and results used as metric labels.
const (
	loginPassword  = "password"
	loginMagicLink = "magic_link"
	loginActivate  = "activation"

	resultSuccess = "success"
	resultFailure = "failure"
	resultError   = "error"
	resultDenied  = "denied"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MagicLinkRequest is the body of POST /auth/magic-link.
type MagicLinkRequest struct {
	Email string `json:"email"`
}

// ActivateRequest is the body of POST /auth/activate.
type ActivateRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the body of POST /me/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ReplayRequest is the body of POST /internal/replay-webhook.
type ReplayRequest struct {
	StripeEventID string `json:"stripe_event_id"`
}

// SessionResponse is returned after a successful login.
type SessionResponse struct {
	Email     string          `json:"email"`
	Tier      membership.Tier `json:"tier"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// FeatureResponse is returned by GET /me/features/{flag}.
type FeatureResponse struct {
	Feature string          `json:"feature"`
	Tier    membership.Tier `json:"tier"`
	Enabled bool            `json:"enabled"`
}

// PortalResponse carries a billing portal URL.
type PortalResponse struct {
	URL string `json:"url"`
}

// UsageHistoryResponse is a per-day usage history.
type UsageHistoryResponse struct {
	Email string           `json:"email"`
	Days  int              `json:"days"`
	Usage []usage.DayCount `json:"usage"`
}

// UserListResponse is a page of users.
type UserListResponse struct {
	Users  []*membership.User `json:"users"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// UserDetailResponse is a user with today's usage.
type UserDetailResponse struct {
	*membership.User
	UsageToday int `json:"usage_today"`
}

// UsageReportResponse lists usage for one date.
type UsageReportResponse struct {
	Date string             `json:"date"`
	Rows []*usage.ReportRow `json:"rows"`
}

// ReplayResponse is returned by the replay endpoint.
type ReplayResponse struct {
	Status string          `json:"status"`
	Result *billing.Result `json:"result"`
}

// PaywallResponse is the 402 body for quota and feature denials.
type PaywallResponse struct {
	Detail     string          `json:"detail"`
	Code       string          `json:"code"`
	Plan       membership.Tier `json:"plan"`
	Limit      *int            `json:"limit"`
	Remaining  *int            `json:"remaining"`
	UpgradeURL string          `json:"upgrade_url"`
}
