package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/ocx/crm-automation/internal/crm"
	"github.com/ocx/crm-automation/internal/events"
	"github.com/ocx/crm-automation/internal/providers"
)

// executeAction runs one action's effect against lead. Called both for inline zero-delay actions and by the
// crm.automation_action job processor after a delay has elapsed.
func (e *Engine) executeAction(ctx context.Context, repo *crm.Repo, tenantCode string, action crm.RuleAction, tc *TriggerContext) error {
	switch action.Type {
	case crm.ActionSendWhatsApp:
		return e.actionSendWhatsApp(ctx, repo, tenantCode, action, tc)
	case crm.ActionSendEmail:
		return e.actionSendEmail(ctx, tenantCode, action, tc)
	case crm.ActionMoveStage:
		return e.actionMoveStage(ctx, repo, tenantCode, action, tc)
	case crm.ActionAssignTo:
		return e.actionAssignTo(ctx, repo, tenantCode, action, tc)
	case crm.ActionAddTag:
		return e.actionAddTag(ctx, repo, tenantCode, action, tc)
	case crm.ActionRemoveTag:
		return e.actionRemoveTag(ctx, repo, tenantCode, action, tc)
	case crm.ActionWebhookNotify:
		return e.actionWebhookNotify(tenantCode, action, tc)
	case crm.ActionCreateMeeting:
		return e.actionCreateMeeting(ctx, repo, tenantCode, action, tc)
	default:
		return fmt.Errorf("automation: unknown action type %q", action.Type)
	}
}

func configString(config map[string]interface{}, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// actionSendWhatsApp resolves a template's variables against the lead and
// firing context, ensures the lead's phone has a conversation, and sends
// the templated message through the tenant's messaging provider.
func (e *Engine) actionSendWhatsApp(ctx context.Context, repo *crm.Repo, tenantCode string, action crm.RuleAction, tc *TriggerContext) error {
	if e.providers.WhatsApp == nil {
		return fmt.Errorf("automation: no messaging provider configured")
	}
	templateName := configString(action.Config, "template")
	if templateName == "" {
		return fmt.Errorf("automation: send_whatsapp action missing config.template")
	}

	tmpl, err := repo.GetTemplateByName(ctx, tenantCode, templateName)
	if err != nil {
		return fmt.Errorf("load template %q: %w", templateName, err)
	}
	if tmpl == nil {
		return fmt.Errorf("template %q not found", templateName)
	}

	resolved := make(map[string]interface{}, len(tc.Variables)+1)
	for k, v := range tc.Variables {
		resolved[k] = v
	}

	variables, err := ResolveVariables(tmpl, tc.Lead, resolved)
	if err != nil {
		return fmt.Errorf("resolve template variables: %w", err)
	}

	conv, err := repo.EnsureConversation(ctx, tenantCode, tc.Lead.Phone, tc.Lead.ID)
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}

	result, err := e.providers.WhatsApp.SendTemplated(ctx, tenantCode, tc.Lead.Phone, templateName, tmpl.Language, variables)
	if err != nil {
		return fmt.Errorf("send templated message: %w", err)
	}

	msg := &crm.Message{
		TenantCode:     tenantCode,
		ConversationID: conv.ID,
		Direction:      crm.DirectionOutbound,
		TemplateName:   templateName,
		Status:         crm.MessageSent,
	}
	if result == nil || !result.Success {
		msg.Status = crm.MessageFailed
		if result != nil {
			msg.Body = result.Error
		}
	} else {
		msg.ProviderMessageID = result.ProviderMessageID
	}
	if logErr := repo.CreateMessage(ctx, msg); logErr != nil {
		e.log.Warn("failed to log outbound message", "error", logErr)
	}

	if result != nil && !result.Success {
		return fmt.Errorf("messaging provider: %s", result.Error)
	}
	return nil
}

// actionSendEmail resolves the recipient and body from the action's config
// (falling back to the lead's own email) and sends through the tenant's
// SMTP provider.
func (e *Engine) actionSendEmail(ctx context.Context, tenantCode string, action crm.RuleAction, tc *TriggerContext) error {
	if e.providers.Email == nil {
		return fmt.Errorf("automation: no email provider configured")
	}
	to := configString(action.Config, "to")
	if to == "" {
		to = tc.Lead.Email
	}
	if to == "" {
		return fmt.Errorf("automation: send_email action has no recipient")
	}

	msg := providers.EmailMessage{
		To:      to,
		Subject: configString(action.Config, "subject"),
		HTML:    configString(action.Config, "html"),
		Text:    configString(action.Config, "text"),
	}
	result, err := e.providers.Email.SendEmail(ctx, tenantCode, msg)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("email provider: %s", result.Error)
	}
	return nil
}

// actionMoveStage updates the lead's stage, derives the won/lost status
// transition, and re-emits stage_enter/stage_exit so any rule gated on the
// new stage fires within the same guarded chain.
func (e *Engine) actionMoveStage(ctx context.Context, repo *crm.Repo, tenantCode string, action crm.RuleAction, tc *TriggerContext) error {
	targetStageID := configString(action.Config, "stageId")
	if targetStageID == "" {
		return fmt.Errorf("automation: move_stage action missing config.stageId")
	}

	stage, err := repo.GetStage(ctx, tenantCode, targetStageID)
	if err != nil {
		return fmt.Errorf("load target stage: %w", err)
	}
	if stage == nil {
		return fmt.Errorf("stage %q not found", targetStageID)
	}

	previousStageID := tc.Lead.StageID
	tc.Lead.StageID = targetStageID
	switch {
	case stage.IsWon:
		tc.Lead.Status = crm.LeadWon
		now := time.Now()
		tc.Lead.ConvertedAt = &now
	case stage.IsLost:
		tc.Lead.Status = crm.LeadLost
	}

	if err := repo.UpdateLead(ctx, tc.Lead); err != nil {
		return fmt.Errorf("persist stage move: %w", err)
	}

	if e.bus != nil {
		e.bus.Emit(events.TypeLeadStageMoved, tenantCode, tc.Lead.ID, map[string]interface{}{
			"fromStageId": previousStageID,
			"toStageId":   targetStageID,
		})
		if stage.IsWon {
			e.bus.Emit(events.TypeLeadConverted, tenantCode, tc.Lead.ID, map[string]interface{}{
				"stageId":   targetStageID,
				"dealValue": tc.Lead.DealValue,
			})
		}
	}

	if previousStageID != "" {
		exitCtx := tc.newChildContext(crm.TriggerStageExit)
		exitCtx.StageID = previousStageID
		if _, err := e.RunAutomations(ctx, repo, tenantCode, exitCtx); err != nil {
			e.log.Warn("stage_exit re-entry failed", "lead_id", tc.Lead.ID, "error", err)
		}
	}
	enterCtx := tc.newChildContext(crm.TriggerStageEnter)
	enterCtx.StageID = targetStageID
	if _, err := e.RunAutomations(ctx, repo, tenantCode, enterCtx); err != nil {
		e.log.Warn("stage_enter re-entry failed", "lead_id", tc.Lead.ID, "error", err)
	}
	return nil
}

// actionAssignTo sets the lead's owner and logs an activity note.
func (e *Engine) actionAssignTo(ctx context.Context, repo *crm.Repo, tenantCode string, action crm.RuleAction, tc *TriggerContext) error {
	assignee := configString(action.Config, "assignedTo")
	if assignee == "" {
		return fmt.Errorf("automation: assign_to action missing config.assignedTo")
	}
	tc.Lead.AssignedTo = assignee
	if err := repo.UpdateLead(ctx, tc.Lead); err != nil {
		return fmt.Errorf("persist assignment: %w", err)
	}
	return repo.LogActivity(ctx, tenantCode, tc.Lead.ID, "assigned_to", assignee)
}

// actionAddTag adds a tag and, if the set actually changed, re-emits
// tag_added so tag-gated rules fire within the same guarded chain.
func (e *Engine) actionAddTag(ctx context.Context, repo *crm.Repo, tenantCode string, action crm.RuleAction, tc *TriggerContext) error {
	tag := configString(action.Config, "tag")
	if tag == "" {
		return fmt.Errorf("automation: add_tag action missing config.tag")
	}
	changed := tc.Lead.AddTag(tag)
	if !changed {
		return nil
	}
	if err := repo.UpdateLead(ctx, tc.Lead); err != nil {
		return fmt.Errorf("persist tag add: %w", err)
	}
	tagCtx := tc.newChildContext(crm.TriggerTagAdded)
	tagCtx.TagName = tag
	if _, err := e.RunAutomations(ctx, repo, tenantCode, tagCtx); err != nil {
		e.log.Warn("tag_added re-entry failed", "lead_id", tc.Lead.ID, "error", err)
	}
	return nil
}

// actionRemoveTag mirrors actionAddTag for the remove_tag action.
func (e *Engine) actionRemoveTag(ctx context.Context, repo *crm.Repo, tenantCode string, action crm.RuleAction, tc *TriggerContext) error {
	tag := configString(action.Config, "tag")
	if tag == "" {
		return fmt.Errorf("automation: remove_tag action missing config.tag")
	}
	changed := tc.Lead.RemoveTag(tag)
	if !changed {
		return nil
	}
	if err := repo.UpdateLead(ctx, tc.Lead); err != nil {
		return fmt.Errorf("persist tag remove: %w", err)
	}
	tagCtx := tc.newChildContext(crm.TriggerTagRemoved)
	tagCtx.TagName = tag
	if _, err := e.RunAutomations(ctx, repo, tenantCode, tagCtx); err != nil {
		e.log.Warn("tag_removed re-entry failed", "lead_id", tc.Lead.ID, "error", err)
	}
	return nil
}

// actionWebhookNotify fires the action's configured callback URL through
// the signed callback sender. Fire-and-forget.
func (e *Engine) actionWebhookNotify(tenantCode string, action crm.RuleAction, tc *TriggerContext) error {
	if e.callback == nil {
		return fmt.Errorf("automation: no callback sender configured")
	}
	url := configString(action.Config, "callbackUrl")
	if url == "" {
		return fmt.Errorf("automation: webhook_notify action missing config.callbackUrl")
	}
	secret := ""
	if tc.Secrets != nil {
		secret = tc.Secrets.HMACWebhookSecret
	}
	payload := map[string]interface{}{
		"leadId":    tc.Lead.ID,
		"trigger":   string(tc.Trigger),
		"variables": tc.Variables,
	}
	return e.callback.Send(tenantCode, "", url, secret, payload)
}

// actionCreateMeeting calls the tenant's calendar provider and, on
// success, stores the returned meeting link into the lead's metadata so
// later template resolution can reference it as a system-injected value.
func (e *Engine) actionCreateMeeting(ctx context.Context, repo *crm.Repo, tenantCode string, action crm.RuleAction, tc *TriggerContext) error {
	if e.providers.Calendar == nil {
		return fmt.Errorf("automation: no calendar provider configured")
	}
	summary := configString(action.Config, "summary")
	if summary == "" {
		summary = fmt.Sprintf("Meeting with %s %s", tc.Lead.FirstName, tc.Lead.LastName)
	}
	start := time.Now().Add(24 * time.Hour)
	attendees := []string{}
	if tc.Lead.Email != "" {
		attendees = append(attendees, tc.Lead.Email)
	}

	req := providers.MeetingRequest{
		Summary:   summary,
		Start:     start,
		End:       start.Add(30 * time.Minute),
		Attendees: attendees,
	}
	result, err := e.providers.Calendar.CreateMeeting(ctx, tenantCode, req)
	if err != nil {
		return fmt.Errorf("create meeting: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("calendar provider: %s", result.Error)
	}

	if tc.Lead.Metadata.Extra == nil {
		tc.Lead.Metadata.Extra = make(map[string]interface{})
	}
	tc.Lead.Metadata.Extra["meetLink"] = result.HangoutLink
	tc.Lead.Metadata.Refs.MeetingID = result.EventID
	if err := repo.UpdateLead(ctx, tc.Lead); err != nil {
		return fmt.Errorf("persist meeting link: %w", err)
	}
	return nil
}
