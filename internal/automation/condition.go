package automation

import (
	"strconv"
	"strings"

	"github.com/ocx/crm-automation/internal/crm"
)

// resolveField reads a dotted-path field off a lead, supporting dotted
// paths into metadata.extra. The second return is false if the path does not resolve
// to anything — callers treat that as "unset", not zero-value.
func resolveField(lead *crm.Lead, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}

	switch segments[0] {
	case "firstName":
		return lead.FirstName, true
	case "lastName":
		return lead.LastName, true
	case "email":
		return lead.Email, true
	case "phone":
		return lead.Phone, true
	case "status":
		return string(lead.Status), true
	case "dealValue":
		return lead.DealValue, true
	case "source":
		return lead.Source, true
	case "assignedTo":
		return lead.AssignedTo, true
	case "stageId":
		return lead.StageID, true
	case "tags":
		return lead.Tags, true
	case "score":
		if len(segments) == 1 {
			return lead.Score, true
		}
		switch segments[1] {
		case "total":
			return lead.Score.Total, true
		case "recency":
			return lead.Score.Recency, true
		case "engagement":
			return lead.Score.Engagement, true
		case "stageDepth":
			return lead.Score.StageDepth, true
		case "dealSize":
			return lead.Score.DealSize, true
		case "sourceQuality":
			return lead.Score.SourceQuality, true
		}
		return nil, false
	case "metadata":
		if len(segments) >= 3 && segments[1] == "extra" {
			key := strings.Join(segments[2:], ".")
			v, ok := lead.Metadata.Extra[key]
			return v, ok
		}
		return nil, false
	default:
		return nil, false
	}
}

// evaluateCondition applies condition.Operator to the field value read from
// lead at condition.Field. Missing fields
// compare as unset; unset against eq to a non-null value is false.
func evaluateCondition(lead *crm.Lead, cond *crm.Condition) bool {
	actual, ok := resolveField(lead, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case crm.OpEq:
		return compareEqual(actual, cond.Value)
	case crm.OpNeq:
		return !compareEqual(actual, cond.Value)
	case crm.OpGt:
		return compareNumeric(actual, cond.Value) > 0
	case crm.OpGte:
		return compareNumeric(actual, cond.Value) >= 0
	case crm.OpLt:
		return compareNumeric(actual, cond.Value) < 0
	case crm.OpLte:
		return compareNumeric(actual, cond.Value) <= 0
	case crm.OpIn:
		return valueIn(actual, cond.Value)
	case crm.OpContains:
		return valueContains(actual, cond.Value)
	default:
		return false
	}
}

func compareEqual(a, b interface{}) bool {
	return toComparableString(a) == toComparableString(b)
}

func toComparableString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func compareNumeric(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0
	}
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func valueIn(actual, list interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if compareEqual(actual, item) {
			return true
		}
	}
	return false
}

func valueContains(actual, needle interface{}) bool {
	switch a := actual.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(a, n)
	case []string:
		n := toComparableString(needle)
		for _, item := range a {
			if item == n {
				return true
			}
		}
		return false
	default:
		return false
	}
}
