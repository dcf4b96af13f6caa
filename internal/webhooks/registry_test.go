package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/crm-automation/internal/events"
)

func TestRegisterRequiresURLTenantAndEvents(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(&Subscription{TenantCode: "ACME", Events: []events.Type{events.TypeLeadCreated}}))
	assert.Error(t, r.Register(&Subscription{URL: "https://x.example/hook", Events: []events.Type{events.TypeLeadCreated}}))
	assert.Error(t, r.Register(&Subscription{URL: "https://x.example/hook", TenantCode: "ACME"}))

	sub := &Subscription{URL: "https://x.example/hook", TenantCode: "ACME", Events: []events.Type{events.TypeLeadCreated}}
	require.NoError(t, r.Register(sub))
	assert.NotEmpty(t, sub.ID)
	assert.True(t, sub.Active)
}

func TestGetSubscribersFiltersByEventType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Subscription{URL: "https://a.example", TenantCode: "ACME", Events: []events.Type{events.TypeLeadCreated, events.TypeJobFailed}}))
	require.NoError(t, r.Register(&Subscription{URL: "https://b.example", TenantCode: "ACME", Events: []events.Type{events.TypeRuleExecuted}}))

	assert.Len(t, r.GetSubscribers(events.TypeLeadCreated), 1)
	assert.Len(t, r.GetSubscribers(events.TypeRuleExecuted), 1)
	assert.Empty(t, r.GetSubscribers(events.TypeLeadConverted))
}

func TestUnregisterRemovesFromEventIndex(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{URL: "https://a.example", TenantCode: "ACME", Events: []events.Type{events.TypeLeadCreated}}
	require.NoError(t, r.Register(sub))

	require.NoError(t, r.Unregister(sub.ID))
	assert.Empty(t, r.GetSubscribers(events.TypeLeadCreated))
	assert.Error(t, r.Unregister(sub.ID))
}

func TestMarkFailedDisablesAfterTenFailures(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{URL: "https://a.example", TenantCode: "ACME", Events: []events.Type{events.TypeLeadCreated}}
	require.NoError(t, r.Register(sub))

	for i := 0; i < 9; i++ {
		r.MarkFailed(sub.ID)
	}
	assert.Len(t, r.GetSubscribers(events.TypeLeadCreated), 1)

	r.MarkFailed(sub.ID)
	assert.Empty(t, r.GetSubscribers(events.TypeLeadCreated))
}

func TestListForTenantIsolation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Subscription{URL: "https://a.example", TenantCode: "ACME", Events: []events.Type{events.TypeLeadCreated}}))
	require.NoError(t, r.Register(&Subscription{URL: "https://b.example", TenantCode: "GLOBEX", Events: []events.Type{events.TypeLeadCreated}}))

	assert.Len(t, r.ListForTenant("ACME"), 1)
	assert.Len(t, r.ListForTenant("GLOBEX"), 1)
	assert.Empty(t, r.ListForTenant("INITECH"))
}

func TestSignPayloadMatchesKnownShape(t *testing.T) {
	sig1 := SignPayload([]byte(`{"a":1}`), "secret")
	sig2 := SignPayload([]byte(`{"a":1}`), "secret")
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 64) // hex-encoded sha256
	assert.NotEqual(t, sig1, SignPayload([]byte(`{"a":2}`), "secret"))
}
