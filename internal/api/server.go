// Package api exposes the CRM automation core over HTTP: the trigger
// endpoint, automation rule CRUD, event log reads, standing webhook
// management, and admin tenant provisioning, wired through gorilla/mux.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/crm-automation/internal/automation"
	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/config"
	"github.com/ocx/crm-automation/internal/cryptoutil"
	"github.com/ocx/crm-automation/internal/events"
	"github.com/ocx/crm-automation/internal/middleware"
	"github.com/ocx/crm-automation/internal/providers"
	"github.com/ocx/crm-automation/internal/queue"
	"github.com/ocx/crm-automation/internal/tenant"
	"github.com/ocx/crm-automation/internal/webhooks"
)

// Deps bundles every collaborator the HTTP surface needs. Nothing here is
// tenant-specific — every handler resolves its tenant's own connection
// through Registry per request.
type Deps struct {
	Central    *central.Store
	Registry   *tenant.Registry
	QueueStore *queue.Store
	Engine     *automation.Engine
	Callback   automation.CallbackSender
	Calendar   providers.CalendarProvider
	Cipher     *cryptoutil.Cipher
	Config     *config.Config

	// Limiter overrides the default in-memory rate limiter (set it to the
	// Redis-backed one when Redis is configured). nil falls back to
	// in-memory.
	Limiter middleware.Limiter

	// Hooks is the standing webhook subscription registry; Bus is where
	// lifecycle events are published. Either may be nil to disable that
	// surface.
	Hooks *webhooks.Registry
	Bus   events.Emitter

	// AdminToken gates the admin provisioning routes; empty disables them
	// (refusing every admin request) rather than leaving them open.
	AdminToken string
}

// Server is the HTTP surface over the automation core.
type Server struct {
	central    *central.Store
	registry   *tenant.Registry
	queueStore *queue.Store
	engine     *automation.Engine
	callback   automation.CallbackSender
	calendar   providers.CalendarProvider
	cipher     *cryptoutil.Cipher
	cfg        *config.Config
	rateLimit  middleware.Limiter
	hooks      *webhooks.Registry
	bus        events.Emitter
	adminToken string
	log        *slog.Logger
}

// New builds a Server from its dependency set.
func New(d Deps) *Server {
	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			MaxCallsPerMinute: d.Config.RateLimit.RequestsPerMinute,
			BurstSize:         d.Config.RateLimit.BurstSize,
		})
	}
	return &Server{
		central:    d.Central,
		registry:   d.Registry,
		queueStore: d.QueueStore,
		engine:     d.Engine,
		callback:   d.Callback,
		calendar:   d.Calendar,
		cipher:     d.Cipher,
		cfg:        d.Config,
		rateLimit:  limiter,
		hooks:      d.Hooks,
		bus:        d.Bus,
		adminToken: d.AdminToken,
		log:        slog.Default().With("component", "api"),
	}
}

// Router builds the full mux.Router, CORS and tenant-auth middleware
// included.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/workflows/trigger", s.withTenant(s.handleTrigger)).Methods(http.MethodPost)
	r.HandleFunc("/events/logs", s.withTenant(s.handleEventLogs)).Methods(http.MethodGet)
	r.HandleFunc("/automations", s.withTenant(s.handleListOrCreateRule)).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/automations/{id}", s.withTenant(s.handleUpdateOrDeleteRule)).Methods(http.MethodPut, http.MethodDelete)

	if s.hooks != nil {
		r.HandleFunc("/webhooks", s.withTenant(s.handleListOrCreateWebhook)).Methods(http.MethodGet, http.MethodPost)
		r.HandleFunc("/webhooks/{id}", s.withTenant(s.handleDeleteWebhook)).Methods(http.MethodDelete)
	}

	r.HandleFunc("/admin/clients", s.withAdmin(s.handleCreateClient)).Methods(http.MethodPost)
	r.HandleFunc("/admin/clients/{code}/secrets", s.withAdmin(s.handleUpsertSecrets)).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return r
}

// Start runs the HTTP server until the process is killed. Graceful
// shutdown of in-flight requests is the caller's responsibility (see
// cmd/server, which wraps the router in an http.Server for signal-driven
// shutdown).
func (s *Server) Start(port string) error {
	addr := fmt.Sprintf(":%s", port)
	s.log.Info("api server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": nowISO()})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-api-key, x-client-code, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withTenant authenticates the request, then enforces the per-tenant
// request budget before calling next — rate limiting must key off the
// resolved tenantCode, not the raw connection, so it has to run after
// TenantAuth rather than as a router-wide middleware.
func (s *Server) withTenant(next http.HandlerFunc) http.HandlerFunc {
	return middleware.TenantAuth(s.central, func(w http.ResponseWriter, r *http.Request) {
		tenantCode := middleware.TenantCodeFromContext(r.Context())
		if !s.rateLimit.Allow(tenantCode) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		next(w, r)
	})
}

func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "NOT_CONFIGURED", "admin routes are disabled")
			return
		}
		token := r.Header.Get("Authorization")
		if token != "Bearer "+s.adminToken {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// nowISO formats timestamps the way EventLog/CallbackLog rows surface them
// to API callers.
func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }
