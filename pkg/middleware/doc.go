// Package middleware provides HTTP middleware for session authentication,
// the operator admin key and login throttling.
//
//	sessions := middleware.NewSessionMiddleware(authService)
//	me := router.PathPrefix("/me").Subrouter()
//	me.Use(sessions.Handler)
//
//	admin := middleware.NewAdminKeyMiddleware(cfg.AdminAPIKey)
//	ops := router.PathPrefix("/admin").Subrouter()
//	ops.Use(admin.Handler)
//
// Throttling counts requests per client IP in a fixed window. The Redis
// limiter is shared across instances; when Redis errors the in-memory limiter
// decides instead.
//
//	throttle := middleware.NewThrottleMiddleware(
//		middleware.NewDistributedRateLimiter(rdb, middleware.LoginRateLimitConfig(), ""),
//		middleware.NewRateLimiter(middleware.LoginRateLimitConfig()),
//		metrics, false)
//	router.Handle("/login", throttle.Handler("login")(loginHandler))
package middleware
