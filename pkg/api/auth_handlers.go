package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/claimgate/pkg/auth"
	"github.com/platinummonkey/claimgate/pkg/httputil"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/observability"
)

// login handles POST /login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	issued, err := s.services.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.recorder.RecordLogin(loginPassword, resultFailure)
			httputil.WriteUnauthorized(w, "Invalid credentials")
			return
		}
		s.recorder.RecordLogin(loginPassword, resultError)
		s.internalError(w, r, err, "login failed")
		return
	}

	s.recorder.RecordLogin(loginPassword, resultSuccess)
	s.startSession(w, r, issued)
}

// logout handles POST /logout. It succeeds without a session so clients can
// always clear the cookie.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Auth.Logout(r.Context(), auth.SessionToken(r)); err != nil {
		s.internalError(w, r, err, "logout failed")
		return
	}
	auth.ClearSessionCookie(w, r, s.cookieOptions())
	httputil.WriteNoContent(w)
}

// requestMagicLink handles POST /auth/magic-link. The answer is 202 whether
// or not the address belongs to a member.
func (s *Server) requestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !membership.ValidEmail(membership.NormalizeEmail(req.Email)) {
		httputil.WriteBadRequest(w, "A valid email is required")
		return
	}

	if err := s.services.Auth.RequestMagicLink(r.Context(), req.Email); err != nil {
		s.internalError(w, r, err, "magic link request failed")
		return
	}
	httputil.WriteAccepted(w, map[string]string{
		"detail": "If the address belongs to an active account, a login link is on its way.",
	})
}

// magicLogin handles GET /auth/magic-login?token=
func (s *Server) magicLogin(w http.ResponseWriter, r *http.Request) {
	issued, err := s.services.Auth.RedeemMagicLink(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidLink) {
			s.recorder.RecordLogin(loginMagicLink, resultFailure)
			httputil.WriteUnauthorized(w, "Invalid or expired link")
			return
		}
		s.recorder.RecordLogin(loginMagicLink, resultError)
		s.internalError(w, r, err, "magic link redemption failed")
		return
	}

	s.recorder.RecordLogin(loginMagicLink, resultSuccess)
	auth.SetSessionCookie(w, r, issued.Token, s.services.Auth.SessionTTL(), s.cookieOptions())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// activate handles POST /auth/activate. It takes a JSON body, or the HTML
// form served by activateForm, in which case success redirects to "/".
func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	form := isFormPost(r)
	if form {
		if err := r.ParseForm(); err != nil {
			httputil.WriteBadRequest(w, "Invalid form body")
			return
		}
		req.Token = r.PostForm.Get("token")
		req.Password = r.PostForm.Get("password")
	} else if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Token, "token") {
		return
	}

	issued, err := s.services.Auth.Activate(r.Context(), req.Token, req.Password)
	switch {
	case errors.Is(err, auth.ErrWeakPassword):
		httputil.WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidLink):
		s.recorder.RecordLogin(loginActivate, resultFailure)
		httputil.WriteUnauthorized(w, "Invalid or expired link")
		return
	case err != nil:
		s.recorder.RecordLogin(loginActivate, resultError)
		s.internalError(w, r, err, "activation failed")
		return
	}

	s.recorder.RecordLogin(loginActivate, resultSuccess)
	if form {
		auth.SetSessionCookie(w, r, issued.Token, s.services.Auth.SessionTTL(), s.cookieOptions())
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.startSession(w, r, issued)
}

// changePassword handles POST /me/password
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var req ChangePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := s.services.Auth.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "Current password is incorrect")
	case errors.Is(err, auth.ErrWeakPassword):
		httputil.WriteBadRequest(w, err.Error())
	case err != nil:
		s.internalError(w, r, err, "password change failed")
	default:
		httputil.WriteNoContent(w)
	}
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, issued *auth.Issued) {
	auth.SetSessionCookie(w, r, issued.Token, s.services.Auth.SessionTTL(), s.cookieOptions())

	resp := SessionResponse{Email: issued.Session.Email, ExpiresAt: issued.Session.ExpiresAt}
	if user, err := s.services.Auth.Authenticate(r.Context(), issued.Token); err == nil {
		resp.Tier = user.Tier
	}
	httputil.WriteSuccess(w, resp)
}

func (s *Server) cookieOptions() auth.CookieOptions {
	return auth.CookieOptions{
		BaseURLSecure: s.services.Auth.SecureCookies(),
		TrustProxy:    s.config.TrustProxy,
	}
}

// internalError logs the cause and writes a generic 500.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	observability.FromContext(r.Context()).WithError(err).Error(msg)
	httputil.WriteInternalError(w)
}
