// Package events is the in-process pub/sub layer for automation lifecycle
// events: lead creation, stage changes, rule executions, job failures. The
// standing-webhook dispatcher is the primary subscriber; an optional
// Pub/Sub backend mirrors every publish to a Google Cloud topic for
// downstream consumers.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names one kind of automation lifecycle event.
type Type string

const (
	TypeLeadCreated     Type = "lead.created"
	TypeLeadStageMoved  Type = "lead.stage_changed"
	TypeLeadConverted   Type = "lead.converted"
	TypeTriggerReceived Type = "trigger.received"
	TypeRuleExecuted    Type = "rule.executed"
	TypeJobCompleted    Type = "job.completed"
	TypeJobFailed       Type = "job.failed"
)

// Emitter is the interface for publishing lifecycle events.
// Both the in-memory Bus and PubSubBus satisfy this interface.
type Emitter interface {
	Emit(eventType Type, tenantCode, subject string, data map[string]interface{})
}

// Event is the CloudEvents 1.0 envelope for all automation events.
// Compatible with the CNCF CloudEvents specification.
type Event struct {
	SpecVersion string                 `json:"specversion"`
	Type        Type                   `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	TenantCode  string                 `json:"tenantcode,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// New creates a CloudEvents 1.0 compliant event.
func New(eventType Type, tenantCode, subject string, data map[string]interface{}) *Event {
	return &Event{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      "/workflows",
		ID:          uuid.NewString(),
		Time:        time.Now(),
		Subject:     subject,
		TenantCode:  tenantCode,
		Data:        data,
	}
}

// JSON serializes the event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Bus is an in-process pub/sub event bus. Publishing never blocks: a
// subscriber whose channel is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]chan *Event // event type -> channels
	allSubs     []chan *Event          // subscribers to all events
	logger      *log.Logger
	bufferSize  int
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Type][]chan *Event),
		allSubs:     make([]chan *Event, 0),
		logger:      log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize:  100,
	}
}

// Subscribe creates a channel that receives events of specific types.
// Pass no types to receive ALL events.
func (b *Bus) Subscribe(eventTypes ...Type) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)

	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}

	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		filtered := make([]chan *Event, 0)
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		b.subscribers[et] = filtered
	}

	filtered := make([]chan *Event, 0)
	for _, s := range b.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	b.allSubs = filtered

	close(ch)
}

// Publish sends an event to all matching subscribers.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}

	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit is a convenience method to create and publish an event.
func (b *Bus) Emit(eventType Type, tenantCode, subject string, data map[string]interface{}) {
	b.Publish(New(eventType, tenantCode, subject, data))
}

// SubscriberCount returns the total number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
