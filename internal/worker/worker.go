// Package worker implements the claim/execute/retry loop over the
// central job queue. A Worker is bound to one queue name and one Processor;
// running multiple Worker processes against the same queue name duplicates
// work, an explicit limitation of this design.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/crm-automation/internal/apierr"
	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/config"
	"github.com/ocx/crm-automation/internal/events"
	"github.com/ocx/crm-automation/internal/metrics"
	"github.com/ocx/crm-automation/internal/queue"
)

// Processor executes one claimed job's side effects. Returning an error
// triggers the store's retry/backoff bookkeeping.
type Processor func(ctx context.Context, job *central.Job) error

// Worker polls a single queue name, running up to Concurrency processors
// in flight at any time.
type Worker struct {
	QueueName string
	store     *queue.Store
	process   Processor
	cfg       config.WorkerConfig
	bus       events.Emitter

	log *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Worker for queueName, claiming jobs from store and handing
// each to process. bus may be nil to disable lifecycle event publication.
func New(queueName string, store *queue.Store, process Processor, cfg config.WorkerConfig, bus events.Emitter) *Worker {
	return &Worker{
		QueueName: queueName,
		store:     store,
		process:   process,
		cfg:       cfg,
		bus:       bus,
		log:       slog.Default().With("queue", queueName),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run blocks, polling every PollIntervalMs until ctx is cancelled or Stop is
// called. Stopping halts polling; in-flight jobs run to completion — there
// is no forced cancel.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(time.Duration(w.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	var inFlight sync.WaitGroup
	slots := make(chan struct{}, w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			inFlight.Wait()
			return
		case <-w.stopCh:
			inFlight.Wait()
			return
		case <-ticker.C:
			w.drain(ctx, slots, &inFlight)
		}
	}
}

// drain claims and dispatches jobs until the queue is empty or capacity is
// saturated.
func (w *Worker) drain(ctx context.Context, slots chan struct{}, inFlight *sync.WaitGroup) {
	for {
		select {
		case slots <- struct{}{}:
		default:
			return // at capacity
		}

		job, err := w.store.Claim(ctx, w.QueueName)
		if err != nil {
			w.log.Error("claim failed", "error", err)
			<-slots
			return
		}
		if job == nil {
			<-slots
			return
		}

		inFlight.Add(1)
		go func(j *central.Job) {
			defer inFlight.Done()
			defer func() { <-slots }()
			w.execute(ctx, j)
		}(job)
	}
}

func (w *Worker) execute(ctx context.Context, job *central.Job) {
	start := time.Now()
	err := w.process(ctx, job)
	metrics.ObserveJobDuration(w.QueueName, job.Data.Type, time.Since(start))

	if err == nil {
		if cErr := w.store.Complete(ctx, job.ID); cErr != nil {
			w.log.Error("mark complete failed", "job_id", job.ID, "error", cErr)
		}
		metrics.IncJobResult(w.QueueName, job.Data.Type, "completed")
		if w.bus != nil {
			w.bus.Emit(events.TypeJobCompleted, job.Data.TenantCode, job.ID, map[string]interface{}{
				"type":     job.Data.Type,
				"attempts": job.Attempts + 1,
			})
		}
		return
	}

	w.log.Warn("job processing failed", "job_id", job.ID, "type", job.Data.Type, "attempt", job.Attempts+1, "error", err)
	if !apierr.IsTransient(err) {
		// a permanent error fails the job on this attempt
		job.MaxAttempts = job.Attempts + 1
	}
	if rErr := w.store.Retry(ctx, job, w.cfg.BaseBackoffMs, err); rErr != nil {
		w.log.Error("retry bookkeeping failed", "job_id", job.ID, "error", rErr)
	}
	if job.Attempts+1 >= job.MaxAttempts {
		metrics.IncJobResult(w.QueueName, job.Data.Type, "failed")
		if w.bus != nil {
			w.bus.Emit(events.TypeJobFailed, job.Data.TenantCode, job.ID, map[string]interface{}{
				"type":     job.Data.Type,
				"attempts": job.Attempts + 1,
				"error":    err.Error(),
			})
		}
	} else {
		metrics.IncJobResult(w.QueueName, job.Data.Type, "retried")
	}
}

// Stop signals Run to stop polling after in-flight jobs drain, and blocks
// until it has returned.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}
