package auth

import (
	"net/http"
	"strings"
	"time"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "claimgate_session"

// CookieOptions decide the Secure flag on session cookies.
type CookieOptions struct {
	// BaseURLSecure is set when the public base URL is https.
	BaseURLSecure bool
	// TrustProxy honours X-Forwarded-Proto from a fronting proxy.
	TrustProxy bool
}

// CookieSecure reports whether cookies for r must carry the Secure flag:
// always when the public base URL is https, otherwise when the request itself
// arrived over TLS or, behind a trusted proxy, the proxy saw https.
func CookieSecure(r *http.Request, opts CookieOptions) bool {
	if opts.BaseURLSecure || r.TLS != nil {
		return true
	}
	return opts.TrustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// SetSessionCookie writes the session cookie: not readable by scripts and not
// sent on cross-site subrequests.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, ttl time.Duration, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   CookieSecure(r, opts),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   CookieSecure(r, opts),
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionToken returns the session token from the request cookie, if any.
func SessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
