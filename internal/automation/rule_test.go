package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/crm-automation/internal/crm"
)

func TestGateStageEnter(t *testing.T) {
	rule := &crm.AutomationRule{Trigger: crm.TriggerStageEnter, TriggerConfig: crm.TriggerConfig{StageID: "s1"}}

	assert.True(t, matchesGate(rule, &TriggerContext{StageID: "s1", Lead: testLead()}))
	assert.False(t, matchesGate(rule, &TriggerContext{StageID: "s2", Lead: testLead()}))
}

func TestGateScoreAboveBelow(t *testing.T) {
	above := &crm.AutomationRule{Trigger: crm.TriggerScoreAbove, TriggerConfig: crm.TriggerConfig{ScoreThreshold: 50}}
	below := &crm.AutomationRule{Trigger: crm.TriggerScoreBelow, TriggerConfig: crm.TriggerConfig{ScoreThreshold: 50}}

	assert.True(t, matchesGate(above, &TriggerContext{Score: 60, Lead: testLead()}))
	assert.True(t, matchesGate(above, &TriggerContext{Score: 50, Lead: testLead()}))
	assert.False(t, matchesGate(above, &TriggerContext{Score: 40, Lead: testLead()}))

	assert.True(t, matchesGate(below, &TriggerContext{Score: 40, Lead: testLead()}))
	assert.False(t, matchesGate(below, &TriggerContext{Score: 60, Lead: testLead()}))
}

func TestGateTagAddedRemoved(t *testing.T) {
	rule := &crm.AutomationRule{Trigger: crm.TriggerTagAdded, TriggerConfig: crm.TriggerConfig{TagName: "vip"}}

	assert.True(t, matchesGate(rule, &TriggerContext{TagName: "vip", Lead: testLead()}))
	assert.False(t, matchesGate(rule, &TriggerContext{TagName: "cold", Lead: testLead()}))
}

func TestGateNoContact(t *testing.T) {
	rule := &crm.AutomationRule{Trigger: crm.TriggerNoContact, TriggerConfig: crm.TriggerConfig{InactiveDays: 7}}

	lead := testLead()
	old := time.Now().Add(-8 * 24 * time.Hour)
	lead.LastContactedAt = &old
	assert.True(t, matchesGate(rule, &TriggerContext{Lead: lead}))

	recent := time.Now().Add(-24 * time.Hour)
	lead.LastContactedAt = &recent
	assert.False(t, matchesGate(rule, &TriggerContext{Lead: lead}))

	// never contacted counts as inactive
	lead.LastContactedAt = nil
	assert.True(t, matchesGate(rule, &TriggerContext{Lead: lead}))
}

func TestIsInlineAction(t *testing.T) {
	assert.True(t, isInlineAction(crm.ActionAddTag))
	assert.True(t, isInlineAction(crm.ActionRemoveTag))
	assert.True(t, isInlineAction(crm.ActionAssignTo))
	assert.True(t, isInlineAction(crm.ActionMoveStage))

	assert.False(t, isInlineAction(crm.ActionSendWhatsApp))
	assert.False(t, isInlineAction(crm.ActionSendEmail))
	assert.False(t, isInlineAction(crm.ActionWebhookNotify))
	assert.False(t, isInlineAction(crm.ActionCreateMeeting))
}

func TestReentrancyGuard(t *testing.T) {
	tc := &TriggerContext{Lead: testLead()}

	assert.False(t, tc.alreadyExecuted("r1"))
	tc.markExecuted("r1")
	assert.True(t, tc.alreadyExecuted("r1"))
	assert.False(t, tc.alreadyExecuted("r2"))

	// child contexts share the same guard set
	child := tc.newChildContext(crm.TriggerStageEnter)
	assert.True(t, child.alreadyExecuted("r1"))
	child.markExecuted("r2")
	assert.True(t, tc.alreadyExecuted("r2"))
}
