// Package webhooks implements standing webhook subscriptions: tenants
// register URLs against automation lifecycle event types (lead.created,
// rule.executed, job.failed, ...) and the dispatcher fans matching events
// out to them, HMAC-signed. This is distinct from the per-trigger
// callbackUrl, which the callback package delivers — subscriptions here
// outlive any single trigger request.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/crm-automation/internal/events"
)

// Emitter is the interface for dispatching webhook events.
// Both the in-memory Dispatcher and CloudDispatcher satisfy this interface.
type Emitter interface {
	Emit(eventType events.Type, tenantCode string, data map[string]interface{})
	Shutdown()
}

// Subscription represents a registered standing webhook.
type Subscription struct {
	ID         string        `json:"id"`
	TenantCode string        `json:"tenant_code"`
	URL        string        `json:"url"`
	Events     []events.Type `json:"events"`
	Secret     string        `json:"secret,omitempty"`
	Active     bool          `json:"active"`
	CreatedAt  time.Time     `json:"created_at"`
	FailCount  int           `json:"fail_count"`
}

// Delivery is the payload sent to webhook subscribers.
type Delivery struct {
	ID         string                 `json:"id"`
	Type       events.Type            `json:"type"`
	Source     string                 `json:"source"`
	Timestamp  time.Time              `json:"timestamp"`
	TenantCode string                 `json:"tenant_code"`
	Data       map[string]interface{} `json:"data"`
}

// Registry stores and manages webhook subscriptions.
type Registry struct {
	mu      sync.RWMutex
	hooks   map[string]*Subscription // id -> subscription
	byEvent map[events.Type][]*Subscription
	logger  *log.Logger
}

// NewRegistry creates a new webhook registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks:   make(map[string]*Subscription),
		byEvent: make(map[events.Type][]*Subscription),
		logger:  log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags),
	}
}

// Register adds a webhook subscription.
func (r *Registry) Register(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if sub.TenantCode == "" {
		return fmt.Errorf("tenant code is required")
	}
	if len(sub.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}

	if sub.ID == "" {
		sub.ID = "wh-" + uuid.NewString()
	}
	sub.Active = true
	sub.CreatedAt = time.Now()
	sub.FailCount = 0

	r.hooks[sub.ID] = sub

	for _, evt := range sub.Events {
		r.byEvent[evt] = append(r.byEvent[evt], sub)
	}

	r.logger.Printf("📡 Registered webhook %s → %s (tenant=%s, events: %v)", sub.ID, sub.URL, sub.TenantCode, sub.Events)
	return nil
}

// Unregister removes a webhook subscription.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return fmt.Errorf("webhook %s not found", id)
	}

	delete(r.hooks, id)

	for _, evt := range sub.Events {
		filtered := make([]*Subscription, 0)
		for _, s := range r.byEvent[evt] {
			if s.ID != id {
				filtered = append(filtered, s)
			}
		}
		r.byEvent[evt] = filtered
	}

	r.logger.Printf("🗑️  Unregistered webhook %s", id)
	return nil
}

// GetSubscribers returns all active subscribers for an event type.
func (r *Registry) GetSubscribers(eventType events.Type) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*Subscription
	for _, sub := range r.byEvent[eventType] {
		if sub.Active {
			active = append(active, sub)
		}
	}
	return active
}

// ListForTenant returns all of one tenant's registered webhooks.
func (r *Registry) ListForTenant(tenantCode string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Subscription, 0)
	for _, sub := range r.hooks {
		if sub.TenantCode == tenantCode {
			result = append(result, sub)
		}
	}
	return result
}

// Get returns a subscription by id, or nil.
func (r *Registry) Get(id string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hooks[id]
}

// MarkFailed increments failure count and disables after 10 failures.
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return
	}
	sub.FailCount++
	if sub.FailCount >= 10 {
		sub.Active = false
		r.logger.Printf("⚠️  Webhook %s disabled after %d failures", id, sub.FailCount)
	}
}

// SignPayload creates the HMAC-SHA256 signature subscribers verify
// deliveries with. Same scheme as the per-trigger callback sender.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
