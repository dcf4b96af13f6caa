package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
)

// CloudSender uses Google Cloud Tasks for durable, at-least-once callback
// delivery, letting the queue's own retry/backoff policy carry attempts
// beyond the in-process Sender's queue. Falls back to an in-memory Sender
// if Cloud Tasks enqueue fails, mirroring the webhook dispatcher's
// CloudDispatcher/Dispatcher fallback pair.
type CloudSender struct {
	client    *cloudtasks.Client
	queuePath string
	logger    *log.Logger
	fallback  *Sender
}

// NewCloudSender creates a Cloud Tasks-backed callback sender. fallback may
// be nil to disable the in-memory fallback path.
func NewCloudSender(projectID, locationID, queueID string, fallback *Sender) (*CloudSender, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("callback: cloudtasks.NewClient: %w", err)
	}

	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID)

	cs := &CloudSender{
		client:    client,
		queuePath: queuePath,
		logger:    log.New(log.Writer(), "[CALLBACK-CLOUD] ", log.LstdFlags),
		fallback:  fallback,
	}
	cs.logger.Printf("✅ connected to Cloud Tasks queue: %s", queuePath)
	return cs, nil
}

// Send enqueues a Cloud Task that POSTs the signed payload to url.
func (cs *CloudSender) Send(tenantCode, eventLogID, url, secret string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("callback: marshal payload: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if secret != "" {
		headers["x-ecodrix-signature"] = "sha256=" + SignPayload(body, secret)
	}

	req := &taskspb.CreateTaskRequest{
		Parent: cs.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        url,
					Headers:    headers,
					Body:       body,
				},
			},
		},
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		task, err := cs.client.CreateTask(ctx, req)
		if err != nil {
			cs.logger.Printf("❌ Cloud Task enqueue failed: %s: %v", url, err)
			if cs.fallback != nil {
				cs.logger.Printf("↩️  falling back to in-memory delivery for %s", url)
				_ = cs.fallback.Send(tenantCode, eventLogID, url, secret, payload)
			}
			return
		}
		cs.logger.Printf("📤 enqueued Cloud Task: %s (task=%s)", url, task.GetName())
	}()

	return nil
}

// Shutdown closes the Cloud Tasks client and any fallback sender.
func (cs *CloudSender) Shutdown() {
	if cs.fallback != nil {
		cs.fallback.Shutdown()
	}
	if err := cs.client.Close(); err != nil {
		cs.logger.Printf("⚠️ Cloud Tasks client close error: %v", err)
	}
}
