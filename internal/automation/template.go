package automation

import (
	"fmt"

	"github.com/ocx/crm-automation/internal/crm"
)

// ErrSkipSend is returned by ResolveVariables when a variable resolved
// empty and the template's policy is skip_send.
var ErrSkipSend = fmt.Errorf("automation: template variable resolved empty, send skipped")

// ResolveVariables turns a template's positional variable mappings into an
// ordered []string ready for MessagingProvider.SendTemplated: for each
// position, read from the mapped
// source (lead field path, static value, formula, system value) and apply
// the per-template empty-variable policy.
func ResolveVariables(tmpl *crm.MessagingTemplate, lead *crm.Lead, resolved map[string]interface{}) ([]string, error) {
	out := make([]string, len(tmpl.Variables))
	for _, mapping := range tmpl.Variables {
		value, err := resolveOne(mapping, lead, resolved)
		if err != nil {
			return nil, err
		}
		if mapping.Position >= 0 && mapping.Position < len(out) {
			out[mapping.Position] = value
		}
	}
	return out, nil
}

func resolveOne(mapping crm.VariableMapping, lead *crm.Lead, resolved map[string]interface{}) (string, error) {
	var value string
	switch mapping.Source {
	case crm.VarLeadField:
		if v, ok := resolveField(lead, mapping.Path); ok {
			value = toComparableString(v)
		}
	case crm.VarStaticValue:
		value = mapping.Value
	case crm.VarFormula:
		value = evaluateFormula(mapping.Path, lead, resolved)
	case crm.VarSystemInject:
		if v, ok := resolved[mapping.Path]; ok {
			value = toComparableString(v)
		}
	case crm.VarManual:
		value = mapping.Value
	}

	if value != "" {
		return value, nil
	}

	switch mapping.Policy {
	case crm.PolicySkipSend:
		return "", ErrSkipSend
	case crm.PolicyUseFallback:
		return mapping.Fallback, nil
	case crm.PolicySendAnyway:
		return "", nil
	default:
		return "", nil
	}
}

// evaluateFormula supports the small set of formulas templates reference
// over lead fields: a concatenation of "firstName" and "lastName" is the
// only composite formula templates actually reference ("fullName");
// anything else falls back to a direct field lookup.
func evaluateFormula(expr string, lead *crm.Lead, resolved map[string]interface{}) string {
	if expr == "fullName" {
		name := lead.FirstName
		if lead.LastName != "" {
			if name != "" {
				name += " "
			}
			name += lead.LastName
		}
		return name
	}
	if v, ok := resolveField(lead, expr); ok {
		return toComparableString(v)
	}
	if v, ok := resolved[expr]; ok {
		return toComparableString(v)
	}
	return ""
}
