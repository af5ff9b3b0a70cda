package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/observability"
)

// Notifier delivers out-of-band links. Implementations queue the work and
// return promptly.
type Notifier interface {
	SendMagicLink(ctx context.Context, email, link string) error
	SendActivation(ctx context.Context, email, link string) error
}

// Config controls token lifetimes and link construction.
type Config struct {
	BaseURL       string
	MagicLinkTTL  time.Duration
	ActivationTTL time.Duration
	SessionTTL    time.Duration
}

// DefaultConfig returns the default lifetimes.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:8080",
		MagicLinkTTL:  15 * time.Minute,
		ActivationTTL: 7 * 24 * time.Hour,
		SessionTTL:    7 * 24 * time.Hour,
	}
}

// Service implements password login, magic links, activation and sessions.
type Service struct {
	users    membership.Store
	links    LinkStore
	sessions SessionStore
	notifier Notifier
	config   Config
	logger   *observability.Logger

	linkTokens       *TokenGenerator
	activationTokens *TokenGenerator
	sessionTokens    *TokenGenerator

	now func() time.Time
}

// NewService creates an auth service.
func NewService(users membership.Store, links LinkStore, sessions SessionStore, notifier Notifier, config Config, logger *observability.Logger) *Service {
	defaults := DefaultConfig()
	if config.MagicLinkTTL <= 0 {
		config.MagicLinkTTL = defaults.MagicLinkTTL
	}
	if config.ActivationTTL <= 0 {
		config.ActivationTTL = defaults.ActivationTTL
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = defaults.SessionTTL
	}
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Service{
		users:            users,
		links:            links,
		sessions:         sessions,
		notifier:         notifier,
		config:           config,
		logger:           logger.WithField("component", "auth"),
		linkTokens:       NewTokenGenerator(LinkTokenPrefix),
		activationTokens: NewTokenGenerator(ActivationTokenPrefix),
		sessionTokens:    NewTokenGenerator(SessionTokenPrefix),
		now:              time.Now,
	}
}

// SessionTTL returns the configured session lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.config.SessionTTL
}

// SecureCookies reports whether the public base URL is served over https.
func (s *Service) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(s.config.BaseURL), "https://")
}

// Login verifies a password and issues a session. Every failure mode returns
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*Issued, error) {
	email = membership.NormalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, membership.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || !user.IsActive || !user.HasPassword() {
		burnCompare(password)
		return nil, ErrInvalidCredentials
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return s.issueSession(ctx, user)
}

// RequestMagicLink issues a login link for an active user and queues the
// email. Unknown or inactive addresses are silently skipped so the caller
// cannot tell them apart.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	email = membership.NormalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, membership.ErrUserNotFound) {
		s.logger.WithField("email", email).Debug("magic link requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		s.logger.WithField("email", email).Debug("magic link requested for inactive user")
		return nil
	}

	token, err := s.createLink(ctx, s.linkTokens, email, PurposeLogin, s.config.MagicLinkTTL)
	if err != nil {
		return err
	}

	if err := s.notifier.SendMagicLink(ctx, email, s.url("/auth/magic-login", token)); err != nil {
		s.logger.WithError(err).WithField("email", email).Error("failed to queue magic link email")
	}
	return nil
}

// RedeemMagicLink consumes a login link and issues a session. A consumed,
// expired or unknown token yields ErrInvalidLink.
func (s *Service) RedeemMagicLink(ctx context.Context, token string) (*Issued, error) {
	if s.linkTokens.ValidateTokenFormat(token) != nil {
		return nil, ErrInvalidLink
	}

	email, err := s.links.ConsumeLink(ctx, HashToken(token), PurposeLogin, s.now())
	if err != nil {
		if errors.Is(err, ErrInvalidLink) {
			return nil, ErrInvalidLink
		}
		return nil, fmt.Errorf("failed to consume link: %w", err)
	}

	user, err := s.activeUser(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.issueSession(ctx, user)
}

// IssueActivation creates an activation link for a new member and queues the
// onboarding email.
func (s *Service) IssueActivation(ctx context.Context, email string) error {
	email = membership.NormalizeEmail(email)

	token, err := s.createLink(ctx, s.activationTokens, email, PurposeActivation, s.config.ActivationTTL)
	if err != nil {
		return err
	}

	if err := s.notifier.SendActivation(ctx, email, s.url("/auth/activate", token)); err != nil {
		s.logger.WithError(err).WithField("email", email).Error("failed to queue activation email")
	}
	return nil
}

// Activate consumes an activation token, sets the first password and
// activates the account.
func (s *Service) Activate(ctx context.Context, token, password string) (*Issued, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if s.activationTokens.ValidateTokenFormat(token) != nil {
		return nil, ErrInvalidLink
	}

	email, err := s.links.ConsumeLink(ctx, HashToken(token), PurposeActivation, s.now())
	if err != nil {
		if errors.Is(err, ErrInvalidLink) {
			return nil, ErrInvalidLink
		}
		return nil, fmt.Errorf("failed to consume link: %w", err)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, membership.ErrUserNotFound) {
		return nil, ErrInvalidLink
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetPassword(ctx, user.ID, hash, true); err != nil {
		return nil, fmt.Errorf("failed to set password: %w", err)
	}
	user.PasswordHash = hash
	user.IsActive = true

	s.logger.WithField("email", email).Info("account activated")
	return s.issueSession(ctx, user)
}

// ChangePassword replaces the password of a logged-in user.
func (s *Service) ChangePassword(ctx context.Context, user *membership.User, current, next string) error {
	if !user.HasPassword() || !CheckPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, user.ID, hash, false); err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return nil
}

// Authenticate resolves a session cookie value to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (*membership.User, error) {
	if s.sessionTokens.ValidateTokenFormat(token) != nil {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessions.GetSession(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if errors.Is(err, membership.ErrUserNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrSessionNotFound
	}
	return user, nil
}

// Logout deletes the session behind a cookie value.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, HashToken(token)); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PruneExpired removes expired links and sessions.
func (s *Service) PruneExpired(ctx context.Context) (links int64, sessions int64, err error) {
	now := s.now()
	if links, err = s.links.PruneLinks(ctx, now); err != nil {
		return 0, 0, fmt.Errorf("failed to prune links: %w", err)
	}
	if sessions, err = s.sessions.PruneSessions(ctx, now); err != nil {
		return links, 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return links, sessions, nil
}

func (s *Service) activeUser(ctx context.Context, email string) (*membership.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, membership.ErrUserNotFound) {
		return nil, ErrInvalidLink
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidLink
	}
	return user, nil
}

func (s *Service) createLink(ctx context.Context, gen *TokenGenerator, email string, purpose Purpose, ttl time.Duration) (string, error) {
	token, hash, err := gen.GenerateToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	link := &MagicLink{
		TokenHash: hash,
		Email:     email,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.links.CreateLink(ctx, link); err != nil {
		return "", fmt.Errorf("failed to store %s link: %w", purpose, err)
	}
	return token, nil
}

func (s *Service) issueSession(ctx context.Context, user *membership.User) (*Issued, error) {
	token, hash, err := s.sessionTokens.GenerateToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	session := &Session{
		ID:        hash,
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &Issued{Token: token, Session: session}, nil
}

func (s *Service) url(path, token string) string {
	return s.config.BaseURL + path + "?token=" + url.QueryEscape(token)
}
