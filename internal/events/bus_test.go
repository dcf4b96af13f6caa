package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToTypedSubscriber(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypeLeadCreated)

	bus.Emit(TypeLeadCreated, "ACME", "l1", map[string]interface{}{"phone": "919876543210"})

	select {
	case evt := <-ch:
		assert.Equal(t, TypeLeadCreated, evt.Type)
		assert.Equal(t, "ACME", evt.TenantCode)
		assert.Equal(t, "l1", evt.Subject)
		assert.Equal(t, "1.0", evt.SpecVersion)
		assert.NotEmpty(t, evt.ID)
	case <-time.After(time.Second):
		t.Fatal("expected event on typed subscriber channel")
	}
}

func TestBusSkipsNonMatchingType(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypeJobFailed)

	bus.Emit(TypeLeadCreated, "ACME", "l1", nil)

	select {
	case <-ch:
		t.Fatal("subscriber for job.failed must not receive lead.created")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusAllSubscriberReceivesEverything(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Emit(TypeLeadCreated, "ACME", "l1", nil)
	bus.Emit(TypeJobFailed, "ACME", "j1", nil)

	require.Equal(t, TypeLeadCreated, (<-ch).Type)
	require.Equal(t, TypeJobFailed, (<-ch).Type)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypeLeadCreated)
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBusPublishNeverBlocksOnFullChannel(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1
	ch := bus.Subscribe(TypeLeadCreated)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(TypeLeadCreated, "ACME", "l1", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
	<-ch // at least the first event arrived
}
