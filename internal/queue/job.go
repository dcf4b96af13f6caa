// Package queue implements the durable central job queue: a single
// Postgres-backed table holding every tenant's jobs, with atomic claim,
// priority/runAt FIFO ordering, and retry bookkeeping left to the worker
// package.
package queue

import (
	"encoding/json"
	"time"

	"github.com/ocx/crm-automation/internal/central"
)

// AddOptions configures a single Add call. Zero values take the queue's
// configured defaults.
type AddOptions struct {
	DelayMs     int64
	Priority    int
	MaxAttempts int
}

// jobRow mirrors the jobs table. Data is stored as JSON text and
// (de)serialized through central.JobData on the way in and out.
type jobRow struct {
	ID          string
	QueueName   string
	Data        []byte
	Priority    int
	RunAt       time.Time
	Status      central.JobStatus
	Attempts    int
	MaxAttempts int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
}

func (r *jobRow) toJob() (*central.Job, error) {
	var data central.JobData
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, err
	}
	return &central.Job{
		ID:          r.ID,
		QueueName:   r.QueueName,
		Data:        data,
		Priority:    r.Priority,
		RunAt:       r.RunAt,
		Status:      r.Status,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
		FailedAt:    r.FailedAt,
	}, nil
}
