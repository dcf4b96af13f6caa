package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ocx/crm-automation/internal/apierr"
	"github.com/ocx/crm-automation/internal/crm"
	"github.com/ocx/crm-automation/internal/middleware"
)

// ruleInput is the request body shape for creating or updating an
// automation rule through the rule CRUD surface.
type ruleInput struct {
	Trigger       crm.TriggerKind   `json:"trigger"`
	TriggerConfig crm.TriggerConfig `json:"triggerConfig"`
	Condition     *crm.Condition    `json:"condition,omitempty"`
	Actions       []crm.RuleAction  `json:"actions"`
	IsActive      bool              `json:"isActive"`
}

// handleListOrCreateRule serves GET /automations (list) and POST
// /automations (create) for the authenticated tenant.
func (s *Server) handleListOrCreateRule(w http.ResponseWriter, r *http.Request) {
	tenantCode := middleware.TenantCodeFromContext(r.Context())
	repo, apiErr := s.repoForTenant(r.Context(), tenantCode)
	if apiErr != nil {
		writeAPIErr(w, apiErr)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rules, err := repo.ListRules(r.Context(), tenantCode)
		if err != nil {
			writeAPIErr(w, apierr.Internal("RULE_LIST_FAILED", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})

	case http.MethodPost:
		var in ruleInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_RULE", "malformed request body")
			return
		}
		if in.Trigger == "" {
			writeError(w, http.StatusBadRequest, "INVALID_RULE", "trigger is required")
			return
		}
		rule := &crm.AutomationRule{
			TenantCode:    tenantCode,
			Trigger:       in.Trigger,
			TriggerConfig: in.TriggerConfig,
			Condition:     in.Condition,
			Actions:       in.Actions,
			IsActive:      in.IsActive,
		}
		if err := repo.CreateRule(r.Context(), rule); err != nil {
			writeAPIErr(w, apierr.Internal("RULE_CREATE_FAILED", err))
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	}
}

// handleUpdateOrDeleteRule serves PUT /automations/{id} and DELETE
// /automations/{id}.
func (s *Server) handleUpdateOrDeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantCode := middleware.TenantCodeFromContext(r.Context())
	ruleID := mux.Vars(r)["id"]
	repo, apiErr := s.repoForTenant(r.Context(), tenantCode)
	if apiErr != nil {
		writeAPIErr(w, apiErr)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var in ruleInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_RULE", "malformed request body")
			return
		}
		rule := &crm.AutomationRule{
			ID:            ruleID,
			TenantCode:    tenantCode,
			Trigger:       in.Trigger,
			TriggerConfig: in.TriggerConfig,
			Condition:     in.Condition,
			Actions:       in.Actions,
			IsActive:      in.IsActive,
		}
		if err := repo.UpdateRule(r.Context(), rule); err != nil {
			writeAPIErr(w, apierr.Internal("RULE_UPDATE_FAILED", err))
			return
		}
		writeJSON(w, http.StatusOK, rule)

	case http.MethodDelete:
		if err := repo.DeleteRule(r.Context(), tenantCode, ruleID); err != nil {
			writeAPIErr(w, apierr.Internal("RULE_DELETE_FAILED", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
