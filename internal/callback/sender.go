// Package callback implements the signed outbound callback dispatcher: a
// fire-and-forget, HMAC-signed HTTP POST with exponential backoff retry,
// persisting every attempt to CallbackLog. Same worker-pool shape as the
// standing-webhook dispatcher, but delivery goes to the one callbackUrl a
// trigger request named rather than fanning out to subscriptions.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/config"
	"github.com/ocx/crm-automation/internal/metrics"
)

// deliveryJob is one queued attempt at delivering a callback.
type deliveryJob struct {
	tenantCode string
	eventLogID string
	url        string
	secret     string
	payload    []byte
	attempt    int
}

// Sender dispatches signed callbacks through a background worker pool, the
// way the webhook dispatcher drains its delivery queue.
type Sender struct {
	store      *central.Store
	httpClient *http.Client
	cfg        config.CallbackConfig
	queue      chan *deliveryJob
	logger     *log.Logger
	wg         sync.WaitGroup
}

// NewSender builds a Sender backed by store for CallbackLog persistence.
func NewSender(store *central.Store, cfg config.CallbackConfig) *Sender {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	s := &Sender{
		store:      store,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		cfg:        cfg,
		queue:      make(chan *deliveryJob, 1000),
		logger:     log.New(log.Writer(), "[CALLBACK] ", log.LstdFlags),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Send enqueues a callback delivery and returns immediately; the trigger
// endpoint never awaits the result.
func (s *Sender) Send(tenantCode, eventLogID, url, secret string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("callback: marshal payload: %w", err)
	}

	job := &deliveryJob{tenantCode: tenantCode, eventLogID: eventLogID, url: url, secret: secret, payload: body, attempt: 1}
	select {
	case s.queue <- job:
	default:
		s.logger.Printf("⚠️  callback queue full, dropping delivery for %s", url)
	}
	return nil
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		s.deliver(job)
	}
}

func (s *Sender) deliver(job *deliveryJob) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.TimeoutSec)*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.url, bytes.NewReader(job.payload))
	if err != nil {
		s.logger.Printf("❌ build callback request failed: %v", err)
		s.logAttempt(job, 0, "", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if job.secret != "" {
		sig := SignPayload(job.payload, job.secret)
		req.Header.Set("x-ecodrix-signature", "sha256="+sig)
	}

	resp, err := s.httpClient.Do(req)
	metrics.ObserveCallbackDuration(job.tenantCode, time.Since(start))
	if err != nil {
		s.logger.Printf("❌ callback delivery failed: %s → %v", job.url, err)
		s.logAttempt(job, 0, "", err)
		s.retryOrAbandon(job)
		return
	}
	defer resp.Body.Close()

	snippet := readSnippet(resp.Body, 512)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Printf("✅ callback delivered: %s (%d)", job.url, resp.StatusCode)
		s.logAttemptWithStatus(job, resp.StatusCode, snippet, nil)
		metrics.IncCallbackAttempt("delivered")
		return
	}

	s.logger.Printf("⚠️  callback returned %d: %s", resp.StatusCode, job.url)
	s.logAttemptWithStatus(job, resp.StatusCode, snippet, fmt.Errorf("status %d", resp.StatusCode))

	if isTerminalStatus(resp.StatusCode) {
		metrics.IncCallbackAttempt("abandoned")
		return
	}
	s.retryOrAbandon(job)
}

// isTerminalStatus reports whether a non-2xx response should NOT be
// retried: any 4xx other than 408 (timeout) or 429 (rate limited) is
// permanent.
func isTerminalStatus(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	return status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}

func (s *Sender) retryOrAbandon(job *deliveryJob) {
	if job.attempt >= s.cfg.MaxAttempts {
		s.logger.Printf("❌ callback abandoned after %d attempts: %s", job.attempt, job.url)
		metrics.IncCallbackAttempt("abandoned")
		return
	}

	backoff := time.Duration(s.cfg.BaseBackoffSec) * time.Second * time.Duration(1<<uint(job.attempt-1))
	job.attempt++
	metrics.IncCallbackAttempt("retried")

	time.AfterFunc(backoff, func() {
		select {
		case s.queue <- job:
		default:
			s.logger.Printf("⚠️  callback queue full on retry, dropping delivery for %s", job.url)
		}
	})
}

func (s *Sender) logAttempt(job *deliveryJob, status int, snippet string, err error) {
	s.logAttemptWithStatus(job, status, snippet, err)
}

func (s *Sender) logAttemptWithStatus(job *deliveryJob, status int, snippet string, err error) {
	entry := &central.CallbackLog{
		TenantCode:      job.tenantCode,
		EventLogID:      job.eventLogID,
		CallbackURL:     job.url,
		Attempt:         job.attempt,
		HTTPStatus:      status,
		ResponseSnippet: snippet,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if sigErr := s.store.CreateCallbackLog(context.Background(), entry); sigErr != nil {
		s.logger.Printf("❌ failed to persist callback log: %v", sigErr)
	}
}

func readSnippet(body interface{ Read([]byte) (int, error) }, max int) string {
	buf := make([]byte, max)
	n, _ := body.Read(buf)
	return strings.TrimSpace(string(buf[:n]))
}

// Shutdown drains the delivery queue and waits for workers to exit.
func (s *Sender) Shutdown() {
	close(s.queue)
	s.wg.Wait()
}
