package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/config"
)

// Store is the job store: a single `jobs` table in the central
// Postgres project, shared by every tenant and every queue name. It is kept
// over database/sql and lib/pq rather than the Supabase client because the
// claim protocol needs a single atomic `UPDATE ... RETURNING`, which
// PostgREST does not expose.
type Store struct {
	db     *sql.DB
	cfg    config.QueueConfig
	logger *log.Logger
}

// NewStore opens the jobs table connection.
func NewStore(dsn string, cfg config.QueueConfig) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: open jobs db: %w", err)
	}
	return NewStoreWithDB(db, cfg), nil
}

// NewStoreWithDB wraps an already-open connection. Used by tests and by
// callers that manage the pool themselves.
func NewStoreWithDB(db *sql.DB, cfg config.QueueConfig) *Store {
	return &Store{
		db:     db,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[QUEUE] ", log.LstdFlags),
	}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Add enqueues a new job:
//   add(queueName, data, {delayMs=0, priority=5, maxAttempts=3}) →
//     Job{status=waiting, runAt=now+max(0,delayMs), attempts=0}
func (s *Store) Add(ctx context.Context, queueName string, data central.JobData, opts AddOptions) (*central.Job, error) {
	priority := opts.Priority
	if priority == 0 {
		priority = s.cfg.DefaultPriority
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.cfg.DefaultMaxAttempts
	}
	delay := opts.DelayMs
	if delay < 0 {
		delay = 0
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal job data: %w", err)
	}

	now := time.Now()
	runAt := now.Add(time.Duration(delay) * time.Millisecond)
	id := uuid.NewString()

	const q = `
		INSERT INTO jobs (id, queue_name, data, priority, run_at, status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'waiting', 0, $6, $7, $7)
	`
	if _, err := s.db.ExecContext(ctx, q, id, queueName, payload, priority, runAt, maxAttempts, now); err != nil {
		return nil, fmt.Errorf("queue: insert job: %w", err)
	}

	return &central.Job{
		ID:          id,
		QueueName:   queueName,
		Data:        data,
		Priority:    priority,
		RunAt:       runAt,
		Status:      central.JobWaiting,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Claim atomically selects and marks active the single highest-precedence
// claimable job for queueName: status=waiting, runAt<=now, ordered
// (priority asc, runAt asc). Returns (nil, nil) if nothing is claimable.
//
// The `UPDATE ... WHERE id = (SELECT ... FOR UPDATE SKIP LOCKED) RETURNING`
// shape is the sole compare-and-set
// coordination point between concurrent worker goroutines.
func (s *Store) Claim(ctx context.Context, queueName string) (*central.Job, error) {
	const q = `
		UPDATE jobs SET status = 'active', updated_at = $1
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue_name = $2 AND status = 'waiting' AND run_at <= $1
			ORDER BY priority ASC, run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, queue_name, data, priority, run_at, status, attempts, max_attempts, last_error, created_at, updated_at, completed_at, failed_at
	`
	now := time.Now()
	row := s.db.QueryRowContext(ctx, q, now, queueName)

	var r jobRow
	var lastError sql.NullString
	err := row.Scan(&r.ID, &r.QueueName, &r.Data, &r.Priority, &r.RunAt, &r.Status,
		&r.Attempts, &r.MaxAttempts, &lastError, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt, &r.FailedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim job: %w", err)
	}
	r.LastError = lastError.String

	job, err := r.toJob()
	if err != nil {
		return nil, err
	}
	s.logger.Printf("🔧 claimed job %s (queue=%s type=%s attempt=%d)", job.ID, queueName, job.Data.Type, job.Attempts+1)
	return job, nil
}

// Complete marks a job completed.
func (s *Store) Complete(ctx context.Context, id string) error {
	const q = `UPDATE jobs SET status = 'completed', completed_at = $2, updated_at = $2 WHERE id = $1`
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, q, id, now); err != nil {
		return fmt.Errorf("queue: complete job: %w", err)
	}
	s.logger.Printf("✅ completed job %s", id)
	return nil
}

// Retry reschedules a job for another attempt with exponential backoff, or
// marks it failed if attempts have been exhausted:
//
//	attempts := attempts + 1
//	if attempts >= maxAttempts: status=failed, failedAt=now, lastError=message
//	else: status=waiting, lastError=message, runAt = now + baseBackoffMs * 2^attempts
func (s *Store) Retry(ctx context.Context, job *central.Job, baseBackoffMs int, cause error) error {
	attempts := job.Attempts + 1
	now := time.Now()
	errMsg := cause.Error()

	if attempts >= job.MaxAttempts {
		const q = `UPDATE jobs SET status = 'failed', attempts = $2, last_error = $3, failed_at = $4, updated_at = $4 WHERE id = $1`
		if _, err := s.db.ExecContext(ctx, q, job.ID, attempts, errMsg, now); err != nil {
			return fmt.Errorf("queue: fail job: %w", err)
		}
		s.logger.Printf("❌ job %s failed after %d attempts: %s", job.ID, attempts, errMsg)
		return nil
	}

	backoff := time.Duration(baseBackoffMs) * time.Millisecond * time.Duration(1<<uint(attempts))
	runAt := now.Add(backoff)

	const q = `UPDATE jobs SET status = 'waiting', attempts = $2, last_error = $3, run_at = $4, updated_at = $5 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, job.ID, attempts, errMsg, runAt, now); err != nil {
		return fmt.Errorf("queue: retry job: %w", err)
	}
	s.logger.Printf("⚠️  retrying job %s in %s (attempt %d/%d)", job.ID, backoff, attempts, job.MaxAttempts)
	return nil
}
