// Package auth implements member authentication: bcrypt password login,
// single-use magic links, activation links and opaque session cookies.
//
// # Tokens
//
// Magic-link, activation and session tokens are 32 random bytes, base64url
// encoded behind a type prefix (cgl_, cga_, cgs_). Only the SHA256 hash of a
// token is ever persisted.
//
// # Sessions
//
// Session cookies are HttpOnly, SameSite=Lax and Secure whenever the public
// base URL is https or the request arrived over TLS.
package auth
