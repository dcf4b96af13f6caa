// Package metrics registers the process-wide Prometheus collectors for the
// queue, worker, callback and automation subsystems: package-level promauto
// vectors, exposed through small Inc/Observe helpers rather than a
// passed-around struct.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobResultTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_job_result_total",
			Help: "Total jobs processed by the worker, by queue, job type and terminal result",
		},
		[]string{"queue", "job_type", "result"}, // result: completed, retried, failed
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_job_duration_seconds",
			Help:    "Processor execution time per job",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "job_type"},
	)

	callbackAttemptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_callback_attempt_total",
			Help: "Total outbound callback delivery attempts, by outcome",
		},
		[]string{"outcome"}, // outcome: delivered, retried, abandoned
	)

	callbackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_callback_duration_seconds",
			Help:    "Outbound callback HTTP round-trip time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant_code"},
	)

	rulesMatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_automation_rules_matched_total",
			Help: "Total automation rules matched per trigger",
		},
		[]string{"tenant_code", "trigger"},
	)

	actionExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_automation_action_executed_total",
			Help: "Total automation actions executed, by type and outcome",
		},
		[]string{"action_type", "outcome"}, // outcome: success, error
	)

	triggerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_trigger_request_duration_seconds",
			Help:    "POST /workflows/trigger request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant_code", "outcome"},
	)
)

// IncJobResult records a completed worker attempt's terminal result.
func IncJobResult(queue, jobType, result string) {
	jobResultTotal.WithLabelValues(queue, jobType, result).Inc()
}

// ObserveJobDuration records how long a processor took to run.
func ObserveJobDuration(queue, jobType string, d time.Duration) {
	jobDuration.WithLabelValues(queue, jobType).Observe(d.Seconds())
}

// IncCallbackAttempt records one outbound callback delivery attempt outcome.
func IncCallbackAttempt(outcome string) {
	callbackAttemptTotal.WithLabelValues(outcome).Inc()
}

// ObserveCallbackDuration records the round-trip time of one callback POST.
func ObserveCallbackDuration(tenantCode string, d time.Duration) {
	callbackDuration.WithLabelValues(tenantCode).Observe(d.Seconds())
}

// IncRulesMatched records how many rules matched a single trigger.
func IncRulesMatched(tenantCode, trigger string, count int) {
	rulesMatchedTotal.WithLabelValues(tenantCode, trigger).Add(float64(count))
}

// IncActionExecuted records one automation action's execution outcome.
func IncActionExecuted(actionType, outcome string) {
	actionExecutedTotal.WithLabelValues(actionType, outcome).Inc()
}

// ObserveTriggerRequest records the end-to-end latency of a trigger request.
func ObserveTriggerRequest(tenantCode, outcome string, d time.Duration) {
	triggerRequestDuration.WithLabelValues(tenantCode, outcome).Observe(d.Seconds())
}
