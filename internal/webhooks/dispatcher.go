package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/crm-automation/internal/events"
)

// Dispatcher sends webhook events to registered subscribers asynchronously
// through a background worker pool.
type Dispatcher struct {
	registry   *Registry
	httpClient *http.Client
	queue      chan *deliveryJob
	logger     *log.Logger
	wg         sync.WaitGroup
	workers    int
}

type deliveryJob struct {
	subscriber *Subscription
	delivery   *Delivery
	attempt    int
}

// NewDispatcher creates a webhook dispatcher with a background worker pool.
func NewDispatcher(registry *Registry, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		registry: registry,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		queue:   make(chan *deliveryJob, 1000),
		logger:  log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		workers: workers,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Emit sends an event to all of the tenant's subscribers for that event
// type. Non-blocking; a full queue drops the delivery.
func (d *Dispatcher) Emit(eventType events.Type, tenantCode string, data map[string]interface{}) {
	subscribers := d.registry.GetSubscribers(eventType)
	if len(subscribers) == 0 {
		return
	}

	delivery := &Delivery{
		ID:         "evt-" + uuid.NewString(),
		Type:       eventType,
		Source:     "/workflows",
		Timestamp:  time.Now(),
		TenantCode: tenantCode,
		Data:       data,
	}

	for _, sub := range subscribers {
		// Only deliver to the owning tenant
		if sub.TenantCode != tenantCode {
			continue
		}

		select {
		case d.queue <- &deliveryJob{subscriber: sub, delivery: delivery, attempt: 1}:
		default:
			d.logger.Printf("⚠️  Webhook queue full, dropping event %s for %s", delivery.ID, sub.ID)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job *deliveryJob) {
	payload, err := json.Marshal(job.delivery)
	if err != nil {
		d.logger.Printf("❌ Failed to marshal webhook event: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, job.subscriber.URL, bytes.NewReader(payload))
	if err != nil {
		d.logger.Printf("❌ Failed to create webhook request: %v", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-ecodrix-event", string(job.delivery.Type))
	req.Header.Set("x-ecodrix-event-id", job.delivery.ID)
	req.Header.Set("x-ecodrix-delivery-attempt", fmt.Sprintf("%d", job.attempt))

	if job.subscriber.Secret != "" {
		sig := SignPayload(payload, job.subscriber.Secret)
		req.Header.Set("x-ecodrix-signature", "sha256="+sig)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Printf("❌ Webhook delivery failed: %s → %v", job.subscriber.URL, err)
		d.registry.MarkFailed(job.subscriber.ID)

		// Re-queue after a transport error, up to 3 attempts in all, sleeping
		// attempt² seconds first (1s, then 4s)
		if job.attempt < 3 {
			time.Sleep(time.Duration(job.attempt*job.attempt) * time.Second)
			job.attempt++
			select {
			case d.queue <- job:
			default:
			}
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.logger.Printf("⚠️  Webhook returned %d: %s → %s", resp.StatusCode, job.subscriber.URL, job.delivery.Type)
		d.registry.MarkFailed(job.subscriber.ID)
	} else {
		d.logger.Printf("✅ Webhook delivered: %s → %s (%s)", job.delivery.Type, job.subscriber.URL, job.delivery.ID)
	}
}

// Shutdown gracefully shuts down the dispatcher.
func (d *Dispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}
