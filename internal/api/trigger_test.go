package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/crm-automation/internal/crm"
)

func TestValidateTriggerRequest(t *testing.T) {
	cases := []struct {
		name    string
		req     triggerRequest
		wantErr string
	}{
		{"valid", triggerRequest{Trigger: "form_submitted", Phone: "919876543210"}, ""},
		{"valid short phone", triggerRequest{Trigger: "t", Phone: "1234567890"}, ""},
		{"missing trigger", triggerRequest{Phone: "919876543210"}, "INVALID_TRIGGER"},
		{"trigger with spaces", triggerRequest{Trigger: "form submitted", Phone: "919876543210"}, "INVALID_TRIGGER"},
		{"trigger too long", triggerRequest{Trigger: string(make([]byte, 51)), Phone: "919876543210"}, "INVALID_TRIGGER"},
		{"missing phone", triggerRequest{Trigger: "form_submitted"}, "INVALID_PHONE"},
		{"phone too short", triggerRequest{Trigger: "form_submitted", Phone: "123456789"}, "INVALID_PHONE"},
		{"phone too long", triggerRequest{Trigger: "form_submitted", Phone: "1234567890123456"}, "INVALID_PHONE"},
		{"phone with plus", triggerRequest{Trigger: "form_submitted", Phone: "+919876543210"}, "INVALID_PHONE"},
		{"phone with letters", triggerRequest{Trigger: "form_submitted", Phone: "91987abc3210"}, "INVALID_PHONE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateTriggerRequest(&tc.req)
			if tc.wantErr == "" {
				assert.Nil(t, err)
			} else {
				require.NotNil(t, err)
				assert.Equal(t, tc.wantErr, err.Code)
			}
		})
	}
}

func TestBuildEnrichedVariables(t *testing.T) {
	req := &triggerRequest{
		Trigger:   "form_submitted",
		Variables: map[string]interface{}{"name": "Ada"},
		Data:      map[string]interface{}{"orderId": "o-1"},
	}
	lead := &crm.Lead{Phone: "919876543210", Email: "ada@example.com"}

	vars := buildEnrichedVariables(req, lead, "https://meet.example/xyz")

	assert.Equal(t, "Ada", vars["name"])
	assert.Equal(t, "https://meet.example/xyz", vars["meetLink"])
	assert.Equal(t, "919876543210", vars["phone"])
	assert.Equal(t, "ada@example.com", vars["email"])
	assert.Equal(t, "form_submitted", vars["trigger"])
	assert.Equal(t, "o-1", vars["data.orderId"])
}

func TestBuildEnrichedVariablesOmitsEmptyMeetLink(t *testing.T) {
	req := &triggerRequest{Trigger: "t"}
	lead := &crm.Lead{Phone: "919876543210"}

	vars := buildEnrichedVariables(req, lead, "")
	_, hasMeet := vars["meetLink"]
	assert.False(t, hasMeet)
	_, hasEmail := vars["email"]
	assert.False(t, hasEmail)
}

func TestSanitizedPayloadDropsCallbackMetadata(t *testing.T) {
	req := &triggerRequest{
		Trigger:          "form_submitted",
		Phone:            "919876543210",
		CallbackURL:      "https://client.example/cb",
		CallbackMetadata: map[string]interface{}{"internal": "token"},
	}
	payload := sanitizedPayload(req)
	_, hasCb := payload["callbackUrl"]
	assert.False(t, hasCb)
	_, hasMeta := payload["callbackMetadata"]
	assert.False(t, hasMeta)
	assert.Equal(t, "form_submitted", payload["trigger"])
}
