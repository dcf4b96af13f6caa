package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ocx/crm-automation/internal/events"
	"github.com/ocx/crm-automation/internal/middleware"
	"github.com/ocx/crm-automation/internal/webhooks"
)

// webhookInput is the request body for registering a standing webhook
// subscription.
type webhookInput struct {
	URL    string        `json:"url"`
	Events []events.Type `json:"events"`
	Secret string        `json:"secret,omitempty"`
}

// handleListOrCreateWebhook serves GET /webhooks (list the tenant's
// subscriptions) and POST /webhooks (register a new one).
func (s *Server) handleListOrCreateWebhook(w http.ResponseWriter, r *http.Request) {
	tenantCode := middleware.TenantCodeFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": s.hooks.ListForTenant(tenantCode)})

	case http.MethodPost:
		var in webhookInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_WEBHOOK", "malformed request body")
			return
		}
		sub := &webhooks.Subscription{
			TenantCode: tenantCode,
			URL:        in.URL,
			Events:     in.Events,
			Secret:     in.Secret,
		}
		if err := s.hooks.Register(sub); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_WEBHOOK", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	}
}

// handleDeleteWebhook serves DELETE /webhooks/{id}. A tenant can only
// remove its own subscriptions.
func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	tenantCode := middleware.TenantCodeFromContext(r.Context())
	id := mux.Vars(r)["id"]

	sub := s.hooks.Get(id)
	if sub == nil || sub.TenantCode != tenantCode {
		writeError(w, http.StatusNotFound, "WEBHOOK_NOT_FOUND", "no such webhook subscription")
		return
	}
	if err := s.hooks.Unregister(id); err != nil {
		writeError(w, http.StatusNotFound, "WEBHOOK_NOT_FOUND", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
