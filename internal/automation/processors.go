// processors.go adapts the Engine into worker.Processor functions for every
// recognized job type in the job data envelope
// list. Each processor resolves the job's tenant connection through the
// tenant registry, builds a crm.Repo over it, and either re-enters the
// automation pipeline or drives a provider call directly.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ocx/crm-automation/internal/apierr"
	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/crm"
	"github.com/ocx/crm-automation/internal/cryptoutil"
	"github.com/ocx/crm-automation/internal/providers"
	"github.com/ocx/crm-automation/internal/tenant"
)

// Dispatcher wires an Engine to the tenant registry and central store so
// job payloads can be turned into a tenant-scoped crm.Repo and decrypted
// secrets before the engine runs. This is the "registry {providerWhatsApp,
// providerEmail, providerCalendar, automationEngine}" interface injection
// from the worker's point of view.
type Dispatcher struct {
	Engine   *Engine
	Registry *tenant.Registry
	Central  *central.Store
	Cipher   *cryptoutil.Cipher
}

func (d *Dispatcher) repoFor(ctx context.Context, tenantCode string) (*crm.Repo, error) {
	conn, err := d.Registry.Resolve(ctx, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant connection: %w", err)
	}
	return crm.NewRepo(conn.DB), nil
}

func (d *Dispatcher) secretsFor(ctx context.Context, tenantCode string) (*central.DecryptedSecrets, error) {
	secrets, err := d.Central.GetSecrets(ctx, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	if secrets == nil {
		return &central.DecryptedSecrets{TenantCode: tenantCode}, nil
	}
	return secrets.Decrypted(d.Cipher)
}

// automationEventPayload is the payload shape for crm.automation_event jobs:
// the delayed re-entry of a trigger endpoint invocation.
type automationEventPayload struct {
	LeadID    string                 `json:"leadId"`
	Trigger   string                 `json:"trigger"`
	Variables map[string]interface{} `json:"variables"`
}

// AutomationEventProcessor re-enters runAutomations for a trigger whose
// delayMinutes deferred it onto the queue.
func (d *Dispatcher) AutomationEventProcessor(ctx context.Context, job *central.Job) error {
	var p automationEventPayload
	if err := decodePayload(job.Data.Payload, &p); err != nil {
		return err
	}

	repo, err := d.repoFor(ctx, job.Data.TenantCode)
	if err != nil {
		return err
	}
	lead, err := repo.GetLeadByID(ctx, job.Data.TenantCode, p.LeadID)
	if err != nil {
		return err
	}
	if lead == nil {
		return fmt.Errorf("automation: lead %s not found", p.LeadID)
	}
	secrets, err := d.secretsFor(ctx, job.Data.TenantCode)
	if err != nil {
		return err
	}

	tc := &TriggerContext{
		Trigger:   crm.TriggerKind(p.Trigger),
		Lead:      lead,
		Variables: p.Variables,
		Secrets:   secrets,
	}
	_, err = d.Engine.RunAutomations(ctx, repo, job.Data.TenantCode, tc)
	return err
}

// automationActionPayload is the payload shape for crm.automation_action
// jobs, as produced by Engine.dispatchAction.
type automationActionPayload struct {
	ActionType   string                 `json:"actionType"`
	ActionConfig map[string]interface{} `json:"actionConfig"`
	LeadID       string                 `json:"leadId"`
	CtxVariables map[string]interface{} `json:"ctxVariables"`
}

// AutomationActionProcessor executes a single previously-matched action
// whose delayMinutes has now elapsed.
func (d *Dispatcher) AutomationActionProcessor(ctx context.Context, job *central.Job) error {
	var p automationActionPayload
	if err := decodePayload(job.Data.Payload, &p); err != nil {
		return err
	}

	repo, err := d.repoFor(ctx, job.Data.TenantCode)
	if err != nil {
		return err
	}
	lead, err := repo.GetLeadByID(ctx, job.Data.TenantCode, p.LeadID)
	if err != nil {
		return err
	}
	if lead == nil {
		return fmt.Errorf("automation: lead %s not found", p.LeadID)
	}
	secrets, err := d.secretsFor(ctx, job.Data.TenantCode)
	if err != nil {
		return err
	}

	tc := &TriggerContext{Lead: lead, Variables: p.CtxVariables, Secrets: secrets}
	action := crm.RuleAction{Type: crm.ActionType(p.ActionType), Config: p.ActionConfig}
	return d.Engine.executeAction(ctx, repo, job.Data.TenantCode, action, tc)
}

// emailPayload is the payload shape for crm.email jobs.
type emailPayload struct {
	LeadID  string `json:"leadId,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// EmailProcessor sends a standalone email job, independent of the
// automation rule pipeline (e.g. a transactional notification).
func (d *Dispatcher) EmailProcessor(ctx context.Context, job *central.Job) error {
	var p emailPayload
	if err := decodePayload(job.Data.Payload, &p); err != nil {
		return err
	}
	if d.Engine.providers.Email == nil {
		return fmt.Errorf("automation: no email provider configured")
	}
	result, err := d.Engine.providers.Email.SendEmail(ctx, job.Data.TenantCode, providers.EmailMessage{
		To: p.To, Subject: p.Subject, HTML: p.HTML, Text: p.Text,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("email provider: %s", result.Error)
	}
	return nil
}

// meetingPayload is the payload shape for crm.meeting jobs.
type meetingPayload struct {
	LeadID    string   `json:"leadId,omitempty"`
	Summary   string   `json:"summary"`
	StartUnix int64    `json:"startUnix"`
	Attendees []string `json:"attendees"`
}

// MeetingProcessor creates a standalone calendar meeting, storing the
// resulting link onto the lead when leadId is present.
func (d *Dispatcher) MeetingProcessor(ctx context.Context, job *central.Job) error {
	var p meetingPayload
	if err := decodePayload(job.Data.Payload, &p); err != nil {
		return err
	}
	if d.Engine.providers.Calendar == nil {
		return fmt.Errorf("automation: no calendar provider configured")
	}
	start := time.Unix(p.StartUnix, 0)
	if p.StartUnix == 0 {
		start = time.Now().Add(24 * time.Hour)
	}
	result, err := d.Engine.providers.Calendar.CreateMeeting(ctx, job.Data.TenantCode, providers.MeetingRequest{
		Summary: p.Summary, Start: start, End: start.Add(30 * time.Minute), Attendees: p.Attendees,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("calendar provider: %s", result.Error)
	}
	if p.LeadID == "" {
		return nil
	}
	repo, err := d.repoFor(ctx, job.Data.TenantCode)
	if err != nil {
		return err
	}
	lead, err := repo.GetLeadByID(ctx, job.Data.TenantCode, p.LeadID)
	if err != nil || lead == nil {
		return err
	}
	if lead.Metadata.Extra == nil {
		lead.Metadata.Extra = make(map[string]interface{})
	}
	lead.Metadata.Extra["meetLink"] = result.HangoutLink
	lead.Metadata.Refs.MeetingID = result.EventID
	return repo.UpdateLead(ctx, lead)
}

// reminderPayload is the payload shape for crm.reminder jobs: a delayed
// nudge sent over whichever channel the rule that scheduled it configured.
type reminderPayload struct {
	LeadID  string `json:"leadId"`
	Channel string `json:"channel"` // "whatsapp" or "email"
	Message string `json:"message"`
	Subject string `json:"subject,omitempty"`
}

// ReminderProcessor sends a reminder message directly, bypassing the
// template system for free-form reminder text.
func (d *Dispatcher) ReminderProcessor(ctx context.Context, job *central.Job) error {
	var p reminderPayload
	if err := decodePayload(job.Data.Payload, &p); err != nil {
		return err
	}
	repo, err := d.repoFor(ctx, job.Data.TenantCode)
	if err != nil {
		return err
	}
	lead, err := repo.GetLeadByID(ctx, job.Data.TenantCode, p.LeadID)
	if err != nil {
		return err
	}
	if lead == nil {
		return fmt.Errorf("automation: lead %s not found", p.LeadID)
	}

	switch p.Channel {
	case "email":
		if d.Engine.providers.Email == nil {
			return fmt.Errorf("automation: no email provider configured")
		}
		result, err := d.Engine.providers.Email.SendEmail(ctx, job.Data.TenantCode, providers.EmailMessage{
			To: lead.Email, Subject: p.Subject, Text: p.Message,
		})
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("email provider: %s", result.Error)
		}
		return nil
	default:
		if d.Engine.providers.WhatsApp == nil {
			return fmt.Errorf("automation: no messaging provider configured")
		}
		conv, err := repo.EnsureConversation(ctx, job.Data.TenantCode, lead.Phone, lead.ID)
		if err != nil {
			return err
		}
		result, err := d.Engine.providers.WhatsApp.SendTemplated(ctx, job.Data.TenantCode, lead.Phone, "reminder", "en", []string{p.Message})
		if err != nil {
			return err
		}
		msg := &crm.Message{TenantCode: job.Data.TenantCode, ConversationID: conv.ID, Direction: crm.DirectionOutbound, TemplateName: "reminder", Status: crm.MessageSent}
		if !result.Success {
			msg.Status = crm.MessageFailed
			msg.Body = result.Error
		} else {
			msg.ProviderMessageID = result.ProviderMessageID
		}
		_ = repo.CreateMessage(ctx, msg)
		if !result.Success {
			return fmt.Errorf("messaging provider: %s", result.Error)
		}
		return nil
	}
}

// scoreRefreshPayload is the payload shape for crm.score_refresh jobs.
type scoreRefreshPayload struct {
	LeadID string `json:"leadId"`
}

// ScoreRefreshProcessor recomputes a lead's composite score from its
// current state. Recency decays with time since last contact; the other
// factors are cheap proxies derived from data already on the lead record,
// deliberately simple since the scoring model itself is out of this core's
// scope — only that a job type exists to trigger a refresh.
func (d *Dispatcher) ScoreRefreshProcessor(ctx context.Context, job *central.Job) error {
	var p scoreRefreshPayload
	if err := decodePayload(job.Data.Payload, &p); err != nil {
		return err
	}
	repo, err := d.repoFor(ctx, job.Data.TenantCode)
	if err != nil {
		return err
	}
	lead, err := repo.GetLeadByID(ctx, job.Data.TenantCode, p.LeadID)
	if err != nil {
		return err
	}
	if lead == nil {
		return fmt.Errorf("automation: lead %s not found", p.LeadID)
	}

	lead.Score = computeScore(lead)
	return repo.UpdateLead(ctx, lead)
}

func computeScore(lead *crm.Lead) crm.LeadScore {
	recency := 100.0
	if lead.LastContactedAt != nil {
		days := time.Since(*lead.LastContactedAt).Hours() / 24
		recency = 100.0 - days*5
		if recency < 0 {
			recency = 0
		}
	}
	engagement := float64(len(lead.Tags)) * 10
	if engagement > 100 {
		engagement = 100
	}
	dealSize := lead.DealValue / 100
	if dealSize > 100 {
		dealSize = 100
	}
	score := crm.LeadScore{
		Recency:       recency,
		Engagement:    engagement,
		StageDepth:    lead.Score.StageDepth,
		DealSize:      dealSize,
		SourceQuality: lead.Score.SourceQuality,
	}
	score.Total = (score.Recency + score.Engagement + score.StageDepth + score.DealSize + score.SourceQuality) / 5
	return score
}

// webhookNotifyPayload is the payload shape for crm.webhook_notify jobs: a
// standalone signed callback, not tied to a matched rule's action.
type webhookNotifyPayload struct {
	CallbackURL string                 `json:"callbackUrl"`
	Secret      string                 `json:"secret"`
	EventLogID  string                 `json:"eventLogId,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
}

// WebhookNotifyProcessor dispatches a queued callback through the signed
// sender.
func (d *Dispatcher) WebhookNotifyProcessor(ctx context.Context, job *central.Job) error {
	var p webhookNotifyPayload
	if err := decodePayload(job.Data.Payload, &p); err != nil {
		return err
	}
	if d.Engine.callback == nil {
		return fmt.Errorf("automation: no callback sender configured")
	}
	return d.Engine.callback.Send(job.Data.TenantCode, p.EventLogID, p.CallbackURL, p.Secret, p.Payload)
}

// whatsappBroadcastPayload is the payload shape for crm.whatsapp_broadcast
// jobs: one templated send fanned out to many phone numbers.
type whatsappBroadcastPayload struct {
	Phones    []string `json:"phones"`
	Template  string   `json:"template"`
	Language  string   `json:"language"`
	Variables []string `json:"variables"`
}

// WhatsAppBroadcastProcessor sends the same template to every phone number
// in the payload, continuing past individual send failures and returning
// an error only if every send failed.
func (d *Dispatcher) WhatsAppBroadcastProcessor(ctx context.Context, job *central.Job) error {
	var p whatsappBroadcastPayload
	if err := decodePayload(job.Data.Payload, &p); err != nil {
		return err
	}
	if d.Engine.providers.WhatsApp == nil {
		return fmt.Errorf("automation: no messaging provider configured")
	}

	failures := 0
	for _, phone := range p.Phones {
		result, err := d.Engine.providers.WhatsApp.SendTemplated(ctx, job.Data.TenantCode, phone, p.Template, p.Language, p.Variables)
		if err != nil || !result.Success {
			failures++
			d.Engine.log.Warn("broadcast send failed", "phone", phone, "error", err)
		}
	}
	if failures == len(p.Phones) && failures > 0 {
		return fmt.Errorf("automation: whatsapp broadcast failed for all %d recipients", failures)
	}
	return nil
}

// Dispatch routes a claimed job to the processor matching its Data.Type. It
// is the worker.Processor handed to worker.New for the queue this
// Dispatcher serves.
func (d *Dispatcher) Dispatch(ctx context.Context, job *central.Job) error {
	switch job.Data.Type {
	case central.JobTypeAutomationEvent:
		return d.AutomationEventProcessor(ctx, job)
	case central.JobTypeAutomationAction:
		return d.AutomationActionProcessor(ctx, job)
	case central.JobTypeEmail:
		return d.EmailProcessor(ctx, job)
	case central.JobTypeMeeting:
		return d.MeetingProcessor(ctx, job)
	case central.JobTypeReminder:
		return d.ReminderProcessor(ctx, job)
	case central.JobTypeScoreRefresh:
		return d.ScoreRefreshProcessor(ctx, job)
	case central.JobTypeWebhookNotify:
		return d.WebhookNotifyProcessor(ctx, job)
	case central.JobTypeWhatsAppBroadcast:
		return d.WhatsAppBroadcastProcessor(ctx, job)
	default:
		return apierr.Permanent("UNKNOWN_JOB_TYPE", fmt.Errorf("automation: unrecognized job type %q", job.Data.Type))
	}
}

func decodePayload(payload map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("automation: marshal job payload: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("automation: unmarshal job payload: %w", err)
	}
	return nil
}
