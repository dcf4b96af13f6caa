package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/crm-automation/internal/crm"
)

func TestResolveVariablesSources(t *testing.T) {
	tmpl := &crm.MessagingTemplate{
		Name:     "welcome",
		Language: "en",
		Variables: []crm.VariableMapping{
			{Position: 0, Source: crm.VarLeadField, Path: "firstName", Policy: crm.PolicySendAnyway},
			{Position: 1, Source: crm.VarStaticValue, Value: "Acme Corp", Policy: crm.PolicySendAnyway},
			{Position: 2, Source: crm.VarFormula, Path: "fullName", Policy: crm.PolicySendAnyway},
			{Position: 3, Source: crm.VarSystemInject, Path: "meetLink", Policy: crm.PolicySendAnyway},
		},
	}

	out, err := ResolveVariables(tmpl, testLead(), map[string]interface{}{"meetLink": "https://meet.example/xyz"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada", "Acme Corp", "Ada Lovelace", "https://meet.example/xyz"}, out)
}

func TestResolveVariablesPositionsOutOfDeclarationOrder(t *testing.T) {
	tmpl := &crm.MessagingTemplate{
		Variables: []crm.VariableMapping{
			{Position: 1, Source: crm.VarStaticValue, Value: "second", Policy: crm.PolicySendAnyway},
			{Position: 0, Source: crm.VarStaticValue, Value: "first", Policy: crm.PolicySendAnyway},
		},
	}
	out, err := ResolveVariables(tmpl, testLead(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, out)
}

func TestResolveVariablesSkipSendPolicy(t *testing.T) {
	tmpl := &crm.MessagingTemplate{
		Variables: []crm.VariableMapping{
			{Position: 0, Source: crm.VarSystemInject, Path: "missing", Policy: crm.PolicySkipSend},
		},
	}
	_, err := ResolveVariables(tmpl, testLead(), nil)
	assert.ErrorIs(t, err, ErrSkipSend)
}

func TestResolveVariablesFallbackPolicy(t *testing.T) {
	tmpl := &crm.MessagingTemplate{
		Variables: []crm.VariableMapping{
			{Position: 0, Source: crm.VarLeadField, Path: "assignedTo", Fallback: "our team", Policy: crm.PolicyUseFallback},
		},
	}
	out, err := ResolveVariables(tmpl, testLead(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"our team"}, out)
}

func TestResolveVariablesSendAnywayPolicy(t *testing.T) {
	tmpl := &crm.MessagingTemplate{
		Variables: []crm.VariableMapping{
			{Position: 0, Source: crm.VarLeadField, Path: "assignedTo", Policy: crm.PolicySendAnyway},
		},
	}
	out, err := ResolveVariables(tmpl, testLead(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, out)
}

func TestEvaluateFormulaFullNameSingleName(t *testing.T) {
	lead := testLead()
	lead.LastName = ""
	assert.Equal(t, "Ada", evaluateFormula("fullName", lead, nil))
}
