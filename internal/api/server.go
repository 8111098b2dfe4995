// Package api serves the operator HTTP API and the call-event webhook.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-entry/internal/calls"
	"github.com/sells-group/lead-entry/internal/config"
	"github.com/sells-group/lead-entry/internal/model"
	"github.com/sells-group/lead-entry/internal/resilience"
	"github.com/sells-group/lead-entry/internal/store"
)

// maxBodyBytes caps request bodies. Call transcripts are the largest payloads.
const maxBodyBytes = 1 << 20

// Automation is the monitor surface the operator routes drive.
type Automation interface {
	ProcessLead(ctx context.Context, tenantID, leadID string, priority int) (*model.QueueItem, error)
	Stats(ctx context.Context, tenantID string, window time.Duration) (*model.AutomationStats, error)
}

// CallHandler applies call events.
type CallHandler interface {
	Handle(ctx context.Context, ev calls.Event) (*model.CallOutcomeResult, error)
}

// BrowserStatus reports the submission engine's breaker.
type BrowserStatus interface {
	BreakerStatus() resilience.BreakerStatus
}

// Deps are the collaborators behind the routes. Browser may be nil when the
// process runs without a submission engine.
type Deps struct {
	Store      store.Store
	Automation Automation
	Calls      CallHandler
	Browser    BrowserStatus
}

// Server holds the route handlers.
type Server struct {
	deps    Deps
	cfg     config.ServerConfig
	portals config.PortalConfig
	log     *zap.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps, cfg config.ServerConfig, portals config.PortalConfig) *Server {
	return &Server{
		deps:    deps,
		cfg:     cfg,
		portals: portals,
		log:     zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.With(bearerAuth(s.cfg.WebhookSecret)).Post("/webhooks/calls", s.handleCallWebhook)

	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Use(bearerAuth(s.cfg.APIToken))
		r.Post("/leads/{leadID}/process", s.handleProcessLead)
		r.Get("/leads/{leadID}/automation", s.handleAutomationStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/portals", s.handleListPortals)
		r.Put("/portals", s.handleUpsertPortal)
		r.Delete("/portals/{configID}", s.handleDeactivatePortal)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
