package auth_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/claimgate/pkg/auth"
	"github.com/platinummonkey/claimgate/pkg/auth/authtest"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/membership/membershiptest"
	"github.com/platinummonkey/claimgate/pkg/observability"
)

type fixture struct {
	users    *membershiptest.MemStore
	links    *authtest.LinkStore
	sessions *authtest.SessionStore
	notifier *authtest.Notifier
	svc      *auth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    membershiptest.New(),
		links:    authtest.NewLinkStore(),
		sessions: authtest.NewSessionStore(),
		notifier: authtest.NewNotifier(),
	}
	f.svc = auth.NewService(f.users, f.links, f.sessions, f.notifier, auth.Config{
		BaseURL: "https://app.example.com/",
	}, observability.NewLogger(observability.ErrorLevel, io.Discard))
	return f
}

func (f *fixture) addUser(t *testing.T, email, password string, active bool) *membership.User {
	t.Helper()
	hash := ""
	if password != "" {
		var err error
		hash, err = auth.HashPassword(password)
		require.NoError(t, err)
	}
	return f.users.Add(membership.User{Email: email, Tier: membership.TierPro, IsActive: active, PasswordHash: hash})
}

func tokenFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice@example.com", "s3cretpass", true)
	f.addUser(t, "inactive@example.com", "s3cretpass", false)
	f.addUser(t, "nopass@example.com", "", true)
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "  Alice@Example.com", "s3cretpass")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, "alice@example.com", issued.Session.Email)

	user, err := f.svc.Authenticate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)

	failures := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "nope12345"},
		{"unknown email", "bob@example.com", "s3cretpass"},
		{"inactive user", "inactive@example.com", "s3cretpass"},
		{"no password set", "nopass@example.com", "s3cretpass"},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		})
	}
}

func TestLogin_StoreError(t *testing.T) {
	f := newFixture(t)
	f.users.Err = errors.New("db down")

	_, err := f.svc.Login(context.Background(), "alice@example.com", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestMagicLink_SingleUse(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice@example.com", "", true)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestMagicLink(ctx, "ALICE@example.com "))
	link := f.notifier.MagicLink("alice@example.com")
	require.NotEmpty(t, link)
	assert.Contains(t, link, "https://app.example.com/auth/magic-login?token=")

	token := tokenFrom(t, link)
	issued, err := f.svc.RedeemMagicLink(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", issued.Session.Email)

	_, err = f.svc.RedeemMagicLink(ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidLink)
}

func TestMagicLink_Expired(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice@example.com", "", true)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestMagicLink(ctx, "alice@example.com"))
	f.links.Expire()

	_, err := f.svc.RedeemMagicLink(ctx, tokenFrom(t, f.notifier.MagicLink("alice@example.com")))
	assert.ErrorIs(t, err, auth.ErrInvalidLink)
}

func TestMagicLink_UnknownOrInactiveUserIsSilent(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "inactive@example.com", "", false)
	ctx := context.Background()

	assert.NoError(t, f.svc.RequestMagicLink(ctx, "nobody@example.com"))
	assert.NoError(t, f.svc.RequestMagicLink(ctx, "inactive@example.com"))
	assert.Empty(t, f.notifier.MagicLinks)
	assert.Equal(t, 0, f.links.Len())
}

func TestMagicLink_GarbageToken(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{"", "abc", auth.SessionTokenPrefix + "xyz"} {
		_, err := f.svc.RedeemMagicLink(context.Background(), token)
		assert.ErrorIs(t, err, auth.ErrInvalidLink)
	}
}

func TestMagicLink_NotifierFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice@example.com", "", true)
	f.notifier.Err = errors.New("queue closed")

	assert.NoError(t, f.svc.RequestMagicLink(context.Background(), "alice@example.com"))
}

func TestActivation(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "new@example.com", "", false)
	ctx := context.Background()

	require.NoError(t, f.svc.IssueActivation(ctx, "new@example.com"))
	link := f.notifier.Activation("new@example.com")
	require.Contains(t, link, "https://app.example.com/auth/activate?token=")
	token := tokenFrom(t, link)

	_, err := f.svc.Activate(ctx, token, "short")
	assert.ErrorIs(t, err, auth.ErrWeakPassword)

	issued, err := f.svc.Activate(ctx, token, "longenough1")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)

	user, err := f.users.GetUserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.True(t, user.IsActive)
	assert.True(t, auth.CheckPassword(user.PasswordHash, "longenough1"))

	_, err = f.svc.Activate(ctx, token, "longenough2")
	assert.ErrorIs(t, err, auth.ErrInvalidLink)

	_, err = f.svc.Login(ctx, "new@example.com", "longenough1")
	assert.NoError(t, err)
}

func TestActivationTokenCannotLogIn(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "new@example.com", "", true)
	ctx := context.Background()

	require.NoError(t, f.svc.IssueActivation(ctx, "new@example.com"))
	token := tokenFrom(t, f.notifier.Activation("new@example.com"))

	_, err := f.svc.RedeemMagicLink(ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidLink)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	user := f.addUser(t, "alice@example.com", "oldpass123", true)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, user, "wrong", "newpass123"), auth.ErrInvalidCredentials)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, user, "oldpass123", "weak"), auth.ErrWeakPassword)
	require.NoError(t, f.svc.ChangePassword(ctx, user, "oldpass123", "newpass123"))

	_, err := f.svc.Login(ctx, "alice@example.com", "newpass123")
	assert.NoError(t, err)
}

func TestAuthenticateAndLogout(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice@example.com", "s3cretpass", true)
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "alice@example.com", "s3cretpass")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, "cgs_garbage")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)

	require.NoError(t, f.svc.Logout(ctx, issued.Token))
	_, err = f.svc.Authenticate(ctx, issued.Token)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestSecureCookies(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.svc.SecureCookies())
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, auth.ValidatePassword("abcdefg1"))
	assert.ErrorIs(t, auth.ValidatePassword("abcdefgh"), auth.ErrWeakPassword)
	assert.ErrorIs(t, auth.ValidatePassword("12345678"), auth.ErrWeakPassword)
	assert.ErrorIs(t, auth.ValidatePassword("a1"), auth.ErrWeakPassword)
}
