package automation

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/crm-automation/internal/crm"
)

func ruleColumns() []string {
	return []string{"id", "tenant_code", "trigger", "trigger_config", "condition", "actions",
		"is_active", "execution_count", "last_executed_at", "created_at"}
}

func TestRunAutomationsInlineAddTag(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := crm.NewRepo(db)

	actions := `[{"type":"add_tag","delayMinutes":0,"config":{"tag":"hot"}}]`
	mock.ExpectQuery("SELECT (.+) FROM automation_rules").
		WithArgs("ACME", "form_submitted").
		WillReturnRows(sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "ACME", "form_submitted", `{}`, nil, actions, true, 0, nil, time.Now()))

	mock.ExpectExec("UPDATE automation_rules SET execution_count").
		WithArgs("ACME", "r1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// add_tag persists the lead, then re-emits tag_added, which loads rules
	// again and finds none
	mock.ExpectExec("UPDATE leads SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM automation_rules").
		WithArgs("ACME", "tag_added").
		WillReturnRows(sqlmock.NewRows(ruleColumns()))

	engine := New(nil, nil, Providers{}, nil)
	lead := testLead()
	lead.Tags = nil
	tc := &TriggerContext{Trigger: crm.TriggerKind("form_submitted"), Lead: lead}

	matched, err := engine.RunAutomations(context.Background(), repo, "ACME", tc)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.True(t, lead.HasTag("hot"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAutomationsRepeatedAddTagIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := crm.NewRepo(db)

	actions := `[{"type":"add_tag","delayMinutes":0,"config":{"tag":"hot"}}]`
	mock.ExpectQuery("SELECT (.+) FROM automation_rules").
		WithArgs("ACME", "form_submitted").
		WillReturnRows(sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "ACME", "form_submitted", `{}`, nil, actions, true, 3, nil, time.Now()))

	mock.ExpectExec("UPDATE automation_rules SET execution_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Tag already present: no lead update, no tag_added re-emission
	engine := New(nil, nil, Providers{}, nil)
	lead := testLead()
	lead.Tags = []string{"hot"}
	tc := &TriggerContext{Trigger: crm.TriggerKind("form_submitted"), Lead: lead}

	matched, err := engine.RunAutomations(context.Background(), repo, "ACME", tc)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Equal(t, []string{"hot"}, lead.Tags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAutomationsConditionBlocksRule(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := crm.NewRepo(db)

	condition := `{"field":"source","operator":"eq","value":"referral"}`
	actions := `[{"type":"add_tag","delayMinutes":0,"config":{"tag":"hot"}}]`
	mock.ExpectQuery("SELECT (.+) FROM automation_rules").
		WithArgs("ACME", "form_submitted").
		WillReturnRows(sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "ACME", "form_submitted", `{}`, condition, actions, true, 0, nil, time.Now()))

	engine := New(nil, nil, Providers{}, nil)
	lead := testLead() // source = "website"
	tc := &TriggerContext{Trigger: crm.TriggerKind("form_submitted"), Lead: lead}

	matched, err := engine.RunAutomations(context.Background(), repo, "ACME", tc)
	require.NoError(t, err)
	assert.Equal(t, 0, matched)
	assert.False(t, lead.HasTag("hot"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAutomationsReentrancyGuardStopsLoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := crm.NewRepo(db)

	// A tag_added rule (tagName=hot) whose action adds "hot" re-enters itself;
	// the guard must stop the second pass over the same rule.
	actions := `[{"type":"add_tag","delayMinutes":0,"config":{"tag":"hot"}}]`
	ruleRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "ACME", "tag_added", `{"tagName":"hot"}`, nil, actions, true, 0, nil, time.Now())
	}

	mock.ExpectQuery("SELECT (.+) FROM automation_rules").
		WithArgs("ACME", "tag_added").
		WillReturnRows(ruleRow())
	mock.ExpectExec("UPDATE automation_rules SET execution_count").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE leads SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// re-entry for tag "hot": the rule's gate matches again, but (r1, lead)
	// is already in the guard's set, so no second execution or update runs
	mock.ExpectQuery("SELECT (.+) FROM automation_rules").
		WithArgs("ACME", "tag_added").
		WillReturnRows(ruleRow())

	engine := New(nil, nil, Providers{}, nil)
	lead := testLead()
	lead.Tags = nil
	tc := &TriggerContext{Trigger: crm.TriggerTagAdded, TagName: "hot", Lead: lead}

	matched, err := engine.RunAutomations(context.Background(), repo, "ACME", tc)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.True(t, lead.HasTag("hot"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
