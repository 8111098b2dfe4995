package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/lead-entry/internal/calls"
	"github.com/sells-group/lead-entry/internal/model"
	"github.com/sells-group/lead-entry/internal/monitor"
	"github.com/sells-group/lead-entry/internal/resilience"
	"github.com/sells-group/lead-entry/internal/store"
)

// recentLogLimit is how many log entries the automation status route returns.
const recentLogLimit = 5

type healthResponse struct {
	Status  string                    `json:"status"`
	Store   string                    `json:"store"`
	Browser *resilience.BreakerStatus `json:"browser,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}
	code := http.StatusOK

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.log.Warn("health: store ping failed", zap.Error(err))
		resp.Status, resp.Store = "degraded", "unreachable"
		code = http.StatusServiceUnavailable
	}
	if s.deps.Browser != nil {
		st := s.deps.Browser.BreakerStatus()
		resp.Browser = &st
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleCallWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	ev, err := calls.ParseEvent(body)
	switch {
	case errors.Is(err, calls.ErrMissingTenant):
		writeError(w, http.StatusBadRequest, "tenant id is required")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid call event payload")
		return
	}

	res, err := s.deps.Calls.Handle(r.Context(), ev)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		s.log.Error("call webhook failed", zap.String("call_id", ev.CallID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type processRequest struct {
	Priority int `json:"priority"`
}

func (s *Server) handleProcessLead(w http.ResponseWriter, r *http.Request) {
	tenantID, leadID := chi.URLParam(r, "tenantID"), chi.URLParam(r, "leadID")

	var req processRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Priority < 0 {
		writeError(w, http.StatusBadRequest, "priority must not be negative")
		return
	}

	item, err := s.deps.Automation.ProcessLead(r.Context(), tenantID, leadID, req.Priority)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "lead not found")
	case errors.Is(err, store.ErrAlreadyProcessing):
		writeError(w, http.StatusConflict, "lead is currently being processed")
	case errors.Is(err, monitor.ErrNoPortalConfig):
		writeError(w, http.StatusUnprocessableEntity, "tenant has no active portal configuration")
	case err != nil:
		s.log.Error("manual process failed", zap.String("lead_id", leadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "queue_item": item})
	}
}

type automationStatus struct {
	Lead      *model.Lead                `json:"lead"`
	QueueItem *model.QueueItem           `json:"queue_item"`
	Logs      []model.AutomationLogEntry `json:"logs"`
}

func (s *Server) handleAutomationStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, leadID := chi.URLParam(r, "tenantID"), chi.URLParam(r, "leadID")
	ctx := r.Context()

	lead, err := s.deps.Store.GetLead(ctx, tenantID, leadID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		s.internalError(w, "get lead", err)
		return
	}

	item, err := s.deps.Store.GetQueueItemByLead(ctx, leadID)
	if err != nil {
		s.internalError(w, "get queue item", err)
		return
	}
	logs, err := s.deps.Store.ListAutomationLogs(ctx, store.LogFilter{
		TenantID: tenantID,
		LeadID:   leadID,
		Limit:    recentLogLimit,
	})
	if err != nil {
		s.internalError(w, "list automation logs", err)
		return
	}
	if logs == nil {
		logs = []model.AutomationLogEntry{}
	}

	writeJSON(w, http.StatusOK, automationStatus{Lead: lead, QueueItem: item, Logs: logs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	window, err := monitor.ParseTimeframe(timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.deps.Automation.Stats(r.Context(), chi.URLParam(r, "tenantID"), window)
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}
	if timeframe == "" {
		timeframe = "24h"
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeframe": timeframe, "stats": st})
}

func (s *Server) handleListPortals(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.deps.Store.ListPortalConfigs(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		s.internalError(w, "list portal configs", err)
		return
	}
	if cfgs == nil {
		cfgs = []model.PortalConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": cfgs})
}

type portalRequest struct {
	PortalID          string             `json:"portal_id"`
	PortalURL         string             `json:"portal_url"`
	FieldMapping      model.FieldMapping `json:"field_mapping"`
	DefaultValues     map[string]string  `json:"default_values"`
	AutoSubmit        *bool              `json:"auto_submit"`
	RetryAttempts     *int               `json:"retry_attempts"`
	RetryDelayMinutes *int               `json:"retry_delay_minutes"`
}

func (s *Server) handleUpsertPortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := &model.PortalConfig{
		TenantID:      chi.URLParam(r, "tenantID"),
		PortalID:      strings.TrimSpace(req.PortalID),
		PortalURL:     strings.TrimSpace(req.PortalURL),
		FieldMapping:  req.FieldMapping,
		DefaultValues: req.DefaultValues,
		AutoSubmit:    req.AutoSubmit == nil || *req.AutoSubmit,
	}
	if cfg.FieldMapping == nil {
		cfg.FieldMapping = model.FieldMapping{}
	}
	cfg.RetryAttempts, cfg.RetryDelayMinutes = s.portals.RetrySettings(req.RetryAttempts, req.RetryDelayMinutes)

	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.deps.Store.UpsertPortalConfig(r.Context(), cfg)
	if err != nil {
		s.internalError(w, "upsert portal config", err)
		return
	}
	s.log.Info("portal config saved",
		zap.String("tenant_id", saved.TenantID),
		zap.String("portal_id", saved.PortalID),
		zap.Bool("auto_submit", saved.AutoSubmit),
	)
	writeJSON(w, http.StatusOK, map[string]any{"config": saved})
}

func (s *Server) handleDeactivatePortal(w http.ResponseWriter, r *http.Request) {
	tenantID, configID := chi.URLParam(r, "tenantID"), chi.URLParam(r, "configID")

	err := s.deps.Store.DeactivatePortalConfig(r.Context(), tenantID, configID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "portal config not found")
		return
	}
	if err != nil {
		s.internalError(w, "deactivate portal config", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
