package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/crm-automation/internal/crm"
)

func testLead() *crm.Lead {
	return &crm.Lead{
		ID:         "l1",
		TenantCode: "ACME",
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Email:      "ada@example.com",
		Phone:      "919876543210",
		Status:     crm.LeadOpen,
		DealValue:  1500,
		Source:     "website",
		Tags:       []string{"vip", "new"},
		Score:      crm.LeadScore{Total: 72, Engagement: 40},
		Metadata: crm.LeadMetadata{
			Extra: map[string]interface{}{"plan": "pro", "seats": float64(12)},
		},
	}
}

func TestEvaluateConditionEq(t *testing.T) {
	lead := testLead()
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "source", Operator: crm.OpEq, Value: "website"}))
	assert.False(t, evaluateCondition(lead, &crm.Condition{Field: "source", Operator: crm.OpEq, Value: "referral"}))
}

func TestEvaluateConditionNeq(t *testing.T) {
	lead := testLead()
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "status", Operator: crm.OpNeq, Value: "won"}))
	assert.False(t, evaluateCondition(lead, &crm.Condition{Field: "status", Operator: crm.OpNeq, Value: "open"}))
}

func TestEvaluateConditionNumericOperators(t *testing.T) {
	lead := testLead()
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "dealValue", Operator: crm.OpGt, Value: float64(1000)}))
	assert.False(t, evaluateCondition(lead, &crm.Condition{Field: "dealValue", Operator: crm.OpGt, Value: float64(2000)}))
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "dealValue", Operator: crm.OpGte, Value: float64(1500)}))
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "dealValue", Operator: crm.OpLt, Value: float64(1501)}))
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "dealValue", Operator: crm.OpLte, Value: float64(1500)}))
}

func TestEvaluateConditionNumericStringValue(t *testing.T) {
	lead := testLead()
	// Rule values arrive from JSON and may be strings
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "dealValue", Operator: crm.OpGt, Value: "1000"}))
}

func TestEvaluateConditionScorePath(t *testing.T) {
	lead := testLead()
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "score.total", Operator: crm.OpGte, Value: float64(72)}))
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "score.engagement", Operator: crm.OpLt, Value: float64(50)}))
}

func TestEvaluateConditionMetadataExtraPath(t *testing.T) {
	lead := testLead()
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "metadata.extra.plan", Operator: crm.OpEq, Value: "pro"}))
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "metadata.extra.seats", Operator: crm.OpGt, Value: float64(10)}))
}

func TestEvaluateConditionMissingFieldIsUnset(t *testing.T) {
	lead := testLead()
	// unset against eq to non-null is false
	assert.False(t, evaluateCondition(lead, &crm.Condition{Field: "metadata.extra.missing", Operator: crm.OpEq, Value: "x"}))
	assert.False(t, evaluateCondition(lead, &crm.Condition{Field: "nosuchfield", Operator: crm.OpEq, Value: "x"}))
}

func TestEvaluateConditionIn(t *testing.T) {
	lead := testLead()
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "source", Operator: crm.OpIn, Value: []interface{}{"referral", "website"}}))
	assert.False(t, evaluateCondition(lead, &crm.Condition{Field: "source", Operator: crm.OpIn, Value: []interface{}{"referral"}}))
	assert.False(t, evaluateCondition(lead, &crm.Condition{Field: "source", Operator: crm.OpIn, Value: "website"}))
}

func TestEvaluateConditionContains(t *testing.T) {
	lead := testLead()
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "email", Operator: crm.OpContains, Value: "@example"}))
	assert.True(t, evaluateCondition(lead, &crm.Condition{Field: "tags", Operator: crm.OpContains, Value: "vip"}))
	assert.False(t, evaluateCondition(lead, &crm.Condition{Field: "tags", Operator: crm.OpContains, Value: "cold"}))
}

func TestMatchesConditionNilAlwaysMatches(t *testing.T) {
	rule := &crm.AutomationRule{}
	tc := &TriggerContext{Lead: testLead()}
	assert.True(t, matchesCondition(rule, tc))
}
