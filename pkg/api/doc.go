// Package api is the HTTP surface of claimgate.
//
// Routes fall in four groups:
//
//	POST /login, /logout, /auth/magic-link, /auth/activate; GET /auth/magic-login, /auth/activate
//	/me/...            session cookie required (401 otherwise)
//	POST /webhook/stripe   signature checked by the billing processor
//	/admin/..., /internal/...  X-Admin-Api-Key required
//
// Quota and feature denials answer 402 with a paywall body:
//
//	{"detail":"Upgrade required","code":"DAILY_LIMIT_EXCEEDED","plan":"free",
//	 "limit":3,"remaining":0,"upgrade_url":"https://example.com/pricing"}
//
// /login and /auth/magic-link are throttled per client IP. The throttle uses
// Redis when configured and an in-memory window otherwise.
package api
