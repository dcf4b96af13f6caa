// Package automation implements the trigger/automation engine: rule
// selection against a firing context, condition evaluation, and ordered
// action dispatch, with actions either executed inline or deferred onto the
// central job queue. This is the largest subsystem in the core — the rule
// engine a CRM automation platform is actually built around.
package automation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/crm"
	"github.com/ocx/crm-automation/internal/events"
	"github.com/ocx/crm-automation/internal/metrics"
	"github.com/ocx/crm-automation/internal/providers"
	"github.com/ocx/crm-automation/internal/queue"
)

// TriggerContext is the ctx argument to runAutomations: the firing event
// plus whatever the gate/condition/action pipeline needs to evaluate and
// act on it.
type TriggerContext struct {
	Trigger   crm.TriggerKind
	Lead      *crm.Lead
	StageID   string
	TagName   string
	Score     float64
	Variables map[string]interface{}

	// Secrets is the tenant's decrypted credential set, used by inline and
	// queued actions to reach provider clients and sign webhook_notify
	// callbacks.
	Secrets *central.DecryptedSecrets

	// executed guards against infinite re-entrant loops: a (ruleId, leadId)
	// pair already processed within this logical trigger chain is skipped.
	executed map[string]bool
}

// newChildContext derives a context for a recursively re-emitted trigger
// (e.g. stage_enter fired by a move_stage action), sharing the same
// re-entrancy guard so the chain as a whole still terminates.
func (tc *TriggerContext) newChildContext(trigger crm.TriggerKind) *TriggerContext {
	return &TriggerContext{
		Trigger:   trigger,
		Lead:      tc.Lead,
		StageID:   tc.StageID,
		TagName:   tc.TagName,
		Score:     tc.Score,
		Variables: tc.Variables,
		Secrets:   tc.Secrets,
		executed:  tc.executed,
	}
}

func (tc *TriggerContext) guardKey(ruleID string) string {
	return ruleID + ":" + tc.Lead.ID
}

func (tc *TriggerContext) alreadyExecuted(ruleID string) bool {
	if tc.executed == nil {
		return false
	}
	return tc.executed[tc.guardKey(ruleID)]
}

func (tc *TriggerContext) markExecuted(ruleID string) {
	if tc.executed == nil {
		tc.executed = make(map[string]bool)
	}
	tc.executed[tc.guardKey(ruleID)] = true
}

// CallbackSender is the subset of the callback package's Sender the engine
// needs for webhook_notify actions.
type CallbackSender interface {
	Send(tenantCode, eventLogID, url, secret string, payload interface{}) error
}

// Providers bundles the vendor collaborator clients the engine dispatches
// inline actions to. Injected at construction,
// not loaded at runtime, so the dependency graph stays explicit.
type Providers struct {
	WhatsApp providers.MessagingProvider
	Email    providers.EmailProvider
	Calendar providers.CalendarProvider
}

// Engine is the rule-match/condition/action pipeline. It is not bound to a
// single tenant — every call takes the tenant's crm.Repo (resolved via the
// tenant registry) and tenantCode explicitly.
type Engine struct {
	queueStore *queue.Store
	callback   CallbackSender
	providers  Providers
	bus        events.Emitter
	log        *slog.Logger
}

// New builds an Engine. queueStore is where delayed and non-inline actions
// land as crm.automation_action jobs; callback may be nil if webhook_notify
// actions are never configured for this deployment; bus may be nil to
// disable lifecycle event publication.
func New(queueStore *queue.Store, callback CallbackSender, providerSet Providers, bus events.Emitter) *Engine {
	return &Engine{
		queueStore: queueStore,
		callback:   callback,
		providers:  providerSet,
		bus:        bus,
		log:        slog.Default().With("component", "automation"),
	}
}

// RunAutomations loads
// every active rule for tc.Trigger, applies each rule's gate and optional
// condition, and dispatches the actions of every rule that matches. It
// returns the count of rules that matched (the trigger endpoint's
// rulesMatched field).
func (e *Engine) RunAutomations(ctx context.Context, repo *crm.Repo, tenantCode string, tc *TriggerContext) (int, error) {
	rules, err := repo.GetActiveRulesForTrigger(ctx, tenantCode, tc.Trigger)
	if err != nil {
		return 0, fmt.Errorf("automation: load rules: %w", err)
	}

	matched := 0
	for i := range rules {
		rule := &rules[i]

		if !matchesGate(rule, tc) {
			continue
		}
		if !matchesCondition(rule, tc) {
			continue
		}
		if tc.alreadyExecuted(rule.ID) {
			e.log.Debug("skipping already-executed rule in this chain", "rule_id", rule.ID, "lead_id", tc.Lead.ID)
			continue
		}
		tc.markExecuted(rule.ID)
		matched++

		if err := repo.RecordRuleExecution(ctx, tenantCode, rule.ID); err != nil {
			e.log.Warn("failed to record rule execution", "rule_id", rule.ID, "error", err)
		}
		if e.bus != nil {
			e.bus.Emit(events.TypeRuleExecuted, tenantCode, rule.ID, map[string]interface{}{
				"trigger": string(tc.Trigger),
				"leadId":  tc.Lead.ID,
				"actions": len(rule.Actions),
			})
		}

		for _, action := range rule.Actions {
			e.dispatchAction(ctx, repo, tenantCode, rule, action, tc)
		}
	}

	metrics.IncRulesMatched(tenantCode, string(tc.Trigger), matched)
	return matched, nil
}

// dispatchAction either executes an action inline or enqueues it as a
// crm.automation_action job. Inline failures are
// caught and logged — a provider failure inside an inline action must
// never crash the trigger request.
func (e *Engine) dispatchAction(ctx context.Context, repo *crm.Repo, tenantCode string, rule *crm.AutomationRule, action crm.RuleAction, tc *TriggerContext) {
	if action.DelayMinutes == 0 && isInlineAction(action.Type) {
		if err := e.executeAction(ctx, repo, tenantCode, action, tc); err != nil {
			e.log.Warn("inline action failed", "type", action.Type, "lead_id", tc.Lead.ID, "error", err)
			_ = repo.LogActivity(ctx, tenantCode, tc.Lead.ID, "automation_error", err.Error())
			metrics.IncActionExecuted(string(action.Type), "error")
		} else {
			metrics.IncActionExecuted(string(action.Type), "success")
		}
		return
	}

	payload := map[string]interface{}{
		"actionType":   string(action.Type),
		"actionConfig": action.Config,
		"leadId":       tc.Lead.ID,
		"ctxVariables": tc.Variables,
	}
	delayMs := int64(action.DelayMinutes) * 60_000

	if e.queueStore == nil {
		e.log.Warn("no queue store configured, dropping deferred action", "type", action.Type)
		return
	}
	if _, err := e.queueStore.Add(ctx, "automation", central.JobData{
		TenantCode: tenantCode,
		Type:       central.JobTypeAutomationAction,
		Payload:    payload,
	}, queue.AddOptions{DelayMs: delayMs}); err != nil {
		e.log.Error("failed to enqueue automation action", "type", action.Type, "error", err)
	}
}
