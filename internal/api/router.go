// Package api exposes verifygw over HTTP: verification, policy lookup and
// management, the chat assistant, user accounts and cache administration.
// Every /api route except register and login sits behind bearer
// authentication. All of them are rate limited per caller.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ferro-labs/verifygw/internal/auth"
	"github.com/ferro-labs/verifygw/internal/chat"
	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/ferro-labs/verifygw/internal/policy"
	"github.com/ferro-labs/verifygw/internal/ratelimit"
	"github.com/ferro-labs/verifygw/internal/store"
	"github.com/ferro-labs/verifygw/internal/verification"
	"github.com/ferro-labs/verifygw/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// Server holds the services behind the HTTP API.
type Server struct {
	Verifications *verification.Service
	Policies      *policy.Service
	Chat          *chat.Service
	Cache         *coordinator.Coordinator
	Accounts      *auth.Accounts
	Audit         store.AuditTrail
	Checks        map[string]HealthCheck
}

// Options configures the router.
type Options struct {
	Auth        *auth.Verifier
	RateLimit   *ratelimit.Store
	CORSOrigins []string
}

// Handler builds the HTTP router.
func (s *Server) Handler(opts Options) http.Handler {
	if opts.Auth == nil {
		opts.Auth = auth.NewVerifier("")
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.Accounts != nil {
			r.Group(func(r chi.Router) {
				if opts.RateLimit != nil {
					r.Use(rateLimitMiddleware(opts.RateLimit))
				}
				r.Post("/auth/register", s.register)
				r.Post("/auth/login", s.login)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(opts.Auth))
			if opts.RateLimit != nil {
				r.Use(rateLimitMiddleware(opts.RateLimit))
			}
			s.protectedRoutes(r)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", "", "route_not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", "method_not_allowed")
	})
	return r
}

func (s *Server) protectedRoutes(r chi.Router) {
	r.Post("/verify", s.verify)
	r.Get("/verify/{id}", s.getVerification)

	r.Post("/policy-info", s.policyInfo)
	r.Get("/policies/number/{number}", s.policyByNumber)
	r.Get("/policies", s.listPolicies)
	r.Post("/policies", s.createPolicy)
	r.Get("/policies/{id}", s.getPolicy)
	r.Put("/policies/{id}", s.updatePolicy)
	r.Delete("/policies/{id}", s.deletePolicy)

	r.Post("/chat", s.chat)
	r.Post("/chat/session", s.startChatSession)
	r.Get("/chat/session/{id}", s.getChatSession)

	r.Delete("/cache/{namespace}", s.invalidateCache)

	if s.Accounts != nil {
		r.Get("/auth/me", s.me)
	}
	if s.Audit != nil {
		r.Get("/audit", s.listAudit)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.Checks))
	for name, check := range s.Checks {
		if err := check(ctx); err != nil {
			logging.FromContext(ctx).Warn("health check failed", "check", name, "error", err)
			checks[name] = "error"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": version.Short(),
		"checks":  checks,
	})
}

// audit records an action. Failures are logged and never fail the request.
func (s *Server) audit(r *http.Request, action string, details map[string]any) {
	if s.Audit == nil {
		return
	}
	ctx := r.Context()
	raw, _ := json.Marshal(details)
	err := s.Audit.WriteAudit(ctx, store.AuditEntry{
		Action:    action,
		UserID:    logging.UserIDFromContext(ctx),
		TraceID:   logging.TraceIDFromContext(ctx),
		Details:   raw,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("audit write failed", "action", action, "error", err)
	}
}
