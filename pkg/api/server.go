package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/claimgate/pkg/httputil"
	"github.com/platinummonkey/claimgate/pkg/middleware"
	"github.com/platinummonkey/claimgate/pkg/observability"
)

const defaultMaxBodyBytes = 1 << 20

// Config holds HTTP-layer settings.
type Config struct {
	AdminAPIKey     string
	UpgradeURL      string
	PortalReturnURL string
	MaxBodyBytes    int64
	// TrustProxy keys login throttling on X-Forwarded-For and lets
	// X-Forwarded-Proto mark session cookies Secure.
	TrustProxy bool
	// Tracing wraps the handler with otelhttp.
	Tracing bool
}

// Services are the collaborators the handlers delegate to. Metrics,
// Registry, Health and the limiters are optional.
type Services struct {
	Auth    AuthService
	Meter   UsageMeter
	Billing BillingService
	Users   UserDirectory

	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Health   *observability.HealthChecker

	// Limiter is the shared (Redis) login throttle; Fallback answers when
	// it errors or is nil.
	Limiter  middleware.Limiter
	Fallback middleware.Limiter
}

// Server represents our API server
type Server struct {
	services Services
	config   Config
	recorder Recorder
	logger   *observability.Logger

	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server
func NewServer(services Services, config Config, logger *observability.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if services.Fallback == nil {
		services.Fallback = middleware.NewRateLimiter(middleware.LoginRateLimitConfig())
	}

	s := &Server{
		services: services,
		config:   config,
		recorder: nopRecorder{},
		logger:   logger.WithField("component", "api"),
		router:   mux.NewRouter(),
	}
	if services.Metrics != nil {
		s.recorder = services.Metrics
	}

	s.setupRoutes()

	var h http.Handler = s.router
	h = httputil.Chain(
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.SecurityHeadersMiddleware,
		httputil.MaxBytesMiddleware(config.MaxBodyBytes),
	)(h)
	if config.Tracing {
		h = otelhttp.NewHandler(h, "claimgate",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
	s.handler = h
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	r := s.router
	if s.services.Metrics != nil {
		r.Use(observability.HTTPMetricsMiddleware(s.services.Metrics))
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteNotFoundError(w, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Ops
	if s.services.Health != nil {
		r.HandleFunc("/healthz", s.services.Health.Liveness).Methods(http.MethodGet)
		r.HandleFunc("/readyz", s.services.Health.Readiness).Methods(http.MethodGet)
	}
	if s.services.Registry != nil {
		r.Handle("/metrics", observability.MetricsHandler(s.services.Registry)).Methods(http.MethodGet)
	}

	// Auth
	throttle := middleware.NewThrottleMiddleware(s.services.Limiter, s.services.Fallback, s.recorder, s.config.TrustProxy)
	r.Handle("/login", throttle.Handler("login")(http.HandlerFunc(s.login))).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	r.Handle("/auth/magic-link", throttle.Handler("magic_link")(http.HandlerFunc(s.requestMagicLink))).Methods(http.MethodPost)
	r.HandleFunc("/auth/magic-login", s.magicLogin).Methods(http.MethodGet)
	r.HandleFunc("/auth/activate", s.activateForm).Methods(http.MethodGet)
	r.HandleFunc("/auth/activate", s.activate).Methods(http.MethodPost)

	// Billing
	r.HandleFunc("/webhook/stripe", s.stripeWebhook).Methods(http.MethodPost)

	// Member routes
	me := r.PathPrefix("/me").Subrouter()
	me.Use(middleware.NewSessionMiddleware(s.services.Auth).Handler)
	me.HandleFunc("/plan", s.getPlan).Methods(http.MethodGet)
	me.HandleFunc("/usage", s.getUsage).Methods(http.MethodGet)
	me.HandleFunc("/usage/increment", s.incrementUsage).Methods(http.MethodPost)
	me.HandleFunc("/usage/history", s.getUsageHistory).Methods(http.MethodGet)
	me.HandleFunc("/features/{flag}", s.checkFeature).Methods(http.MethodGet)
	me.HandleFunc("/billing/portal", s.billingPortal).Methods(http.MethodPost)
	me.HandleFunc("/password", s.changePassword).Methods(http.MethodPost)

	// Operator routes
	adminKey := middleware.NewAdminKeyMiddleware(s.config.AdminAPIKey)
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(adminKey.Handler)
	admin.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{email}", s.getUser).Methods(http.MethodGet)
	admin.HandleFunc("/users/{email}/usage", s.getUserUsage).Methods(http.MethodGet)
	admin.HandleFunc("/usage", s.getUsageReport).Methods(http.MethodGet)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(adminKey.Handler)
	internal.HandleFunc("/replay-webhook", s.replayWebhook).Methods(http.MethodPost)
}

// Router returns the route table, used by tests and by callers that mount
// extra routes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
