package automation

import (
	"time"

	"github.com/ocx/crm-automation/internal/crm"
)

// matchesGate applies a rule's trigger-specific gate against the firing
// context. The trigger match itself
// (rule.Trigger == ctx.Trigger) is already guaranteed by the repo query
// that loaded the rule.
func matchesGate(rule *crm.AutomationRule, tc *TriggerContext) bool {
	switch rule.Trigger {
	case crm.TriggerStageEnter, crm.TriggerStageExit:
		return rule.TriggerConfig.StageID == tc.StageID
	case crm.TriggerScoreAbove:
		return tc.Score >= rule.TriggerConfig.ScoreThreshold
	case crm.TriggerScoreBelow:
		return tc.Score <= rule.TriggerConfig.ScoreThreshold
	case crm.TriggerTagAdded, crm.TriggerTagRemoved:
		return rule.TriggerConfig.TagName == tc.TagName
	case crm.TriggerNoContact:
		if tc.Lead.LastContactedAt == nil {
			return true
		}
		inactiveFor := time.Since(*tc.Lead.LastContactedAt)
		return inactiveFor >= time.Duration(rule.TriggerConfig.InactiveDays)*24*time.Hour
	default:
		// Free-form business events (form_submitted, product_purchased, ...)
		// carry no gate config; the trigger-name match alone decides.
		return true
	}
}

// matchesCondition applies a rule's optional condition. A rule
// with no condition always matches.
func matchesCondition(rule *crm.AutomationRule, tc *TriggerContext) bool {
	if rule.Condition == nil {
		return true
	}
	return evaluateCondition(tc.Lead, rule.Condition)
}

// isInlineAction reports whether an action with zero delay should run
// synchronously rather than through the queue:
// tag changes, assignment, and stage moves are low-latency and run inline;
// everything else with delayMinutes == 0 is still enqueued immediately
// (delayMs = 0) so provider calls never block the firing request's caller.
func isInlineAction(actionType crm.ActionType) bool {
	switch actionType {
	case crm.ActionAddTag, crm.ActionRemoveTag, crm.ActionAssignTo, crm.ActionMoveStage:
		return true
	default:
		return false
	}
}
