package api

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/ocx/crm-automation/internal/apierr"
	"github.com/ocx/crm-automation/internal/automation"
	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/crm"
	"github.com/ocx/crm-automation/internal/events"
	"github.com/ocx/crm-automation/internal/metrics"
	"github.com/ocx/crm-automation/internal/middleware"
	"github.com/ocx/crm-automation/internal/providers"
	"github.com/ocx/crm-automation/internal/queue"
)

var (
	triggerNameRe = regexp.MustCompile(`^\S{1,50}$`)
	phoneRe       = regexp.MustCompile(`^[0-9]{10,15}$`)
)

// triggerRequest is the inbound body of POST /workflows/trigger.
type triggerRequest struct {
	Trigger             string                 `json:"trigger"`
	Phone               string                 `json:"phone"`
	Email               string                 `json:"email,omitempty"`
	Variables           map[string]interface{} `json:"variables,omitempty"`
	Data                map[string]interface{} `json:"data,omitempty"`
	RequiresMeet        bool                   `json:"requiresMeet,omitempty"`
	CallbackURL         string                 `json:"callbackUrl,omitempty"`
	CallbackMetadata    map[string]interface{} `json:"callbackMetadata,omitempty"`
	DelayMinutes        int                    `json:"delayMinutes,omitempty"`
	CreateLeadIfMissing bool                   `json:"createLeadIfMissing,omitempty"`
	LeadData            *leadDataInput         `json:"leadData,omitempty"`
}

type leadDataInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Source    string `json:"source,omitempty"`
}

type triggerResponse struct {
	EventLogID   string `json:"eventLogId"`
	Trigger      string `json:"trigger"`
	LeadID       string `json:"leadId"`
	MeetLink     string `json:"meetLink,omitempty"`
	MeetWarning  string `json:"meetWarning,omitempty"`
	RulesMatched int    `json:"rulesMatched"`
	Scheduled    bool   `json:"scheduled"`
}

// handleTrigger implements the trigger protocol: validate, persist an
// EventLog, resolve or create the lead, optionally book a meeting, count
// matching rules, fire an async "queued" callback, then either run the
// automation pipeline inline or defer it onto the queue.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	tenantCode := middleware.TenantCodeFromContext(r.Context())
	start := time.Now()
	outcome := "error"
	defer func() { metrics.ObserveTriggerRequest(tenantCode, outcome, time.Since(start)) }()

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TRIGGER", "malformed request body")
		return
	}

	if err := validateTriggerRequest(&req); err != nil {
		writeAPIErr(w, err)
		return
	}

	ctx := r.Context()
	eventLog := &central.EventLog{
		TenantCode: tenantCode,
		Trigger:    req.Trigger,
		Phone:      req.Phone,
		Email:      req.Email,
		Status:     central.EventReceived,
		Payload:    sanitizedPayload(&req),
	}
	eventLogID, err := s.central.CreateEventLog(ctx, eventLog)
	if err != nil {
		writeAPIErr(w, apierr.Internal("EVENT_LOG_WRITE_FAILED", err))
		return
	}
	eventLog.ID = eventLogID

	repo, apiErr := s.repoForTenant(ctx, tenantCode)
	if apiErr != nil {
		s.failEventLog(ctx, eventLogID, apiErr)
		writeAPIErr(w, apiErr)
		return
	}

	lead, created, apiErr := s.resolveOrCreateLead(ctx, repo, tenantCode, &req)
	if apiErr != nil {
		s.failEventLog(ctx, eventLogID, apiErr)
		writeAPIErr(w, apiErr)
		return
	}
	if s.bus != nil {
		s.bus.Emit(events.TypeTriggerReceived, tenantCode, eventLogID, map[string]interface{}{
			"trigger": req.Trigger,
			"leadId":  lead.ID,
		})
		if created {
			s.bus.Emit(events.TypeLeadCreated, tenantCode, lead.ID, map[string]interface{}{
				"phone":      lead.Phone,
				"pipelineId": lead.PipelineID,
				"source":     lead.Source,
			})
		}
	}

	var meetLink, meetWarning string
	if req.RequiresMeet {
		meetLink, meetWarning = s.tryBookMeeting(ctx, tenantCode, lead)
	}

	rulesMatched, err := repo.CountActiveRulesForTrigger(ctx, tenantCode, crm.TriggerKind(req.Trigger))
	if err != nil {
		apiErr := apierr.Internal("RULE_COUNT_FAILED", err)
		s.failEventLog(ctx, eventLogID, apiErr)
		writeAPIErr(w, apiErr)
		return
	}
	_ = s.central.UpdateEventLog(ctx, eventLogID, map[string]interface{}{
		"status":        central.EventProcessing,
		"rules_matched": rulesMatched,
		"meet_link":     meetLink,
	})

	if req.CallbackURL != "" && s.callback != nil {
		go s.sendQueuedCallback(tenantCode, eventLogID, req.CallbackURL, req.CallbackMetadata)
	}

	enrichedVariables := buildEnrichedVariables(&req, lead, meetLink)

	jobsCreated := 0
	scheduled := req.DelayMinutes > 0
	secrets, secretsErr := s.decryptedSecrets(ctx, tenantCode)
	if secretsErr != nil {
		s.log.Warn("failed to load tenant secrets for trigger", "tenant_code", tenantCode, "error", secretsErr)
	}

	if scheduled {
		payload := map[string]interface{}{
			"leadId":    lead.ID,
			"trigger":   req.Trigger,
			"variables": enrichedVariables,
		}
		if _, err := s.queueStore.Add(ctx, "automation", central.JobData{
			TenantCode: tenantCode,
			Type:       central.JobTypeAutomationEvent,
			Payload:    payload,
		}, queue.AddOptions{DelayMs: int64(req.DelayMinutes) * 60_000}); err != nil {
			s.log.Error("failed to enqueue automation event", "error", err)
		} else {
			jobsCreated = 1
		}
	} else if s.engine != nil {
		tc := &automation.TriggerContext{
			Trigger:   crm.TriggerKind(req.Trigger),
			Lead:      lead,
			Variables: enrichedVariables,
			Secrets:   secrets,
		}
		matched, err := s.engine.RunAutomations(ctx, repo, tenantCode, tc)
		if err != nil {
			s.log.Warn("inline automation run failed", "error", err)
		}
		rulesMatched = matched
	}

	_ = s.central.UpdateEventLog(ctx, eventLogID, map[string]interface{}{
		"status":       central.EventCompleted,
		"jobs_created": jobsCreated,
	})

	outcome = "success"
	writeJSON(w, http.StatusOK, triggerResponse{
		EventLogID:   eventLogID,
		Trigger:      req.Trigger,
		LeadID:       lead.ID,
		MeetLink:     meetLink,
		MeetWarning:  meetWarning,
		RulesMatched: rulesMatched,
		Scheduled:    scheduled,
	})
}

func validateTriggerRequest(req *triggerRequest) *apierr.Error {
	if req.Trigger == "" || !triggerNameRe.MatchString(req.Trigger) {
		return apierr.Validation("INVALID_TRIGGER", "trigger must be 1-50 characters with no spaces")
	}
	if req.Phone == "" || !phoneRe.MatchString(req.Phone) {
		return apierr.Validation("INVALID_PHONE", "phone must be 10-15 digits in E.164 form, no leading +")
	}
	return nil
}

func sanitizedPayload(req *triggerRequest) map[string]interface{} {
	return map[string]interface{}{
		"trigger":      req.Trigger,
		"phone":        req.Phone,
		"email":        req.Email,
		"variables":    req.Variables,
		"data":         req.Data,
		"requiresMeet": req.RequiresMeet,
		"delayMinutes": req.DelayMinutes,
	}
}

func (s *Server) failEventLog(ctx context.Context, eventLogID string, err *apierr.Error) {
	_ = s.central.UpdateEventLog(ctx, eventLogID, map[string]interface{}{
		"status": central.EventFailed,
		"error":  err.Error(),
	})
}

func (s *Server) resolveOrCreateLead(ctx context.Context, repo *crm.Repo, tenantCode string, req *triggerRequest) (*crm.Lead, bool, *apierr.Error) {
	pipeline, err := repo.GetDefaultPipeline(ctx, tenantCode)
	if err != nil {
		return nil, false, apierr.Internal("PIPELINE_LOOKUP_FAILED", err)
	}
	var pipelineID string
	if pipeline != nil {
		pipelineID = pipeline.ID
		lead, err := repo.GetLeadByPhone(ctx, tenantCode, pipelineID, req.Phone)
		if err != nil {
			return nil, false, apierr.Internal("LEAD_LOOKUP_FAILED", err)
		}
		if lead != nil {
			return lead, false, nil
		}
	}

	if !req.CreateLeadIfMissing {
		return nil, false, apierr.NotFound("LEAD_NOT_FOUND", "no lead matches this phone number")
	}

	var stage *crm.PipelineStage
	if pipeline == nil {
		var err error
		pipeline, stage, err = repo.CreateDefaultPipelineAndStage(ctx, tenantCode)
		if err != nil {
			return nil, false, apierr.Internal("PIPELINE_PROVISION_FAILED", err)
		}
		pipelineID = pipeline.ID
	} else {
		var err error
		stage, err = repo.GetDefaultStage(ctx, tenantCode, pipelineID)
		if err != nil {
			return nil, false, apierr.Internal("STAGE_LOOKUP_FAILED", err)
		}
	}

	lead := &crm.Lead{
		TenantCode: tenantCode,
		Phone:      req.Phone,
		Email:      req.Email,
		PipelineID: pipelineID,
	}
	if stage != nil {
		lead.StageID = stage.ID
	}
	if req.LeadData != nil {
		lead.FirstName = req.LeadData.FirstName
		lead.LastName = req.LeadData.LastName
		lead.Source = req.LeadData.Source
	}
	if err := repo.CreateLead(ctx, lead); err != nil {
		return nil, false, apierr.Internal("LEAD_CREATE_FAILED", err)
	}
	return lead, true, nil
}

// tryBookMeeting calls the tenant's calendar provider; a failure here never
// fails the trigger request — it only populates meetWarning.
func (s *Server) tryBookMeeting(ctx context.Context, tenantCode string, lead *crm.Lead) (meetLink, meetWarning string) {
	if s.calendar == nil {
		return "", "calendar provider not configured"
	}
	attendees := []string{}
	if lead.Email != "" {
		attendees = append(attendees, lead.Email)
	}
	start := time.Now().Add(24 * time.Hour)
	result, err := s.calendar.CreateMeeting(ctx, lead.TenantCode, providers.MeetingRequest{
		Summary:   "Meeting with " + lead.FirstName + " " + lead.LastName,
		Start:     start,
		End:       start.Add(30 * time.Minute),
		Attendees: attendees,
	})
	if err != nil {
		return "", err.Error()
	}
	if !result.Success {
		return "", result.Error
	}
	return result.HangoutLink, ""
}

func buildEnrichedVariables(req *triggerRequest, lead *crm.Lead, meetLink string) map[string]interface{} {
	vars := make(map[string]interface{}, len(req.Variables)+4)
	for k, v := range req.Variables {
		vars[k] = v
	}
	if meetLink != "" {
		vars["meetLink"] = meetLink
	}
	vars["phone"] = lead.Phone
	if lead.Email != "" {
		vars["email"] = lead.Email
	}
	vars["trigger"] = req.Trigger
	for k, v := range req.Data {
		vars["data."+k] = v
	}
	return vars
}

func (s *Server) sendQueuedCallback(tenantCode, eventLogID, url string, metadata map[string]interface{}) {
	secrets, err := s.decryptedSecrets(context.Background(), tenantCode)
	if err != nil {
		s.log.Warn("failed to load secrets for queued callback", "error", err)
		return
	}
	payload := map[string]interface{}{"status": "queued", "eventLogId": eventLogID, "metadata": metadata}
	secret := ""
	if secrets != nil {
		secret = secrets.HMACWebhookSecret
	}
	if s.callback != nil {
		_ = s.callback.Send(tenantCode, eventLogID, url, secret, payload)
	}
}

func writeAPIErr(w http.ResponseWriter, err *apierr.Error) {
	writeError(w, apierr.StatusCode(err), err.Code, err.Error())
}
