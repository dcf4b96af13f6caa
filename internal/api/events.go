package api

import (
	"net/http"
	"strconv"

	"github.com/ocx/crm-automation/internal/apierr"
	"github.com/ocx/crm-automation/internal/middleware"
)

const defaultEventLogLimit = 50

// handleEventLogs serves GET /events/logs?limit=N, newest-first, scoped to
// the authenticated tenant.
func (s *Server) handleEventLogs(w http.ResponseWriter, r *http.Request) {
	tenantCode := middleware.TenantCodeFromContext(r.Context())

	limit := defaultEventLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := s.central.GetEventLogs(r.Context(), tenantCode, limit)
	if err != nil {
		writeAPIErr(w, apierr.Internal("EVENT_LOG_READ_FAILED", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}
