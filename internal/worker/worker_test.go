package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/config"
	"github.com/ocx/crm-automation/internal/queue"
)

func jobColumns() []string {
	return []string{"id", "queue_name", "data", "priority", "run_at", "status",
		"attempts", "max_attempts", "last_error", "created_at", "updated_at", "completed_at", "failed_at"}
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{Concurrency: 2, PollIntervalMs: 10, BaseBackoffMs: 100}
}

func TestWorkerProcessesClaimedJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	// claims and status updates interleave across goroutines
	mock.MatchExpectationsInOrder(false)
	store := queue.NewStoreWithDB(db, config.QueueConfig{DefaultMaxAttempts: 3, DefaultPriority: 5})

	now := time.Now()
	data := `{"tenantCode":"ACME","type":"crm.automation_event","payload":{"leadId":"l1"}}`
	mock.ExpectQuery("UPDATE jobs SET status = 'active'").
		WillReturnRows(sqlmock.NewRows(jobColumns()).
			AddRow("j1", "automation", data, 5, now, "active", 0, 3, nil, now, now, nil, nil))
	mock.ExpectExec("UPDATE jobs SET status = 'completed'").
		WithArgs("j1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// subsequent polls find nothing claimable
	mock.ExpectQuery("UPDATE jobs SET status = 'active'").
		WillReturnRows(sqlmock.NewRows(jobColumns()))

	var processed atomic.Int32
	process := func(ctx context.Context, job *central.Job) error {
		assert.Equal(t, "j1", job.ID)
		assert.Equal(t, "ACME", job.Data.TenantCode)
		processed.Add(1)
		return nil
	}

	w := New("automation", store, process, testWorkerConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	assert.Equal(t, int32(1), processed.Load())
}

func TestWorkerRetriesFailedJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	// claims and status updates interleave across goroutines
	mock.MatchExpectationsInOrder(false)
	store := queue.NewStoreWithDB(db, config.QueueConfig{DefaultMaxAttempts: 3, DefaultPriority: 5})

	now := time.Now()
	data := `{"tenantCode":"ACME","type":"crm.email","payload":{}}`
	mock.ExpectQuery("UPDATE jobs SET status = 'active'").
		WillReturnRows(sqlmock.NewRows(jobColumns()).
			AddRow("j1", "automation", data, 5, now, "active", 0, 3, nil, now, now, nil, nil))
	mock.ExpectExec("UPDATE jobs SET status = 'waiting'").
		WithArgs("j1", 1, "smtp unavailable", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE jobs SET status = 'active'").
		WillReturnRows(sqlmock.NewRows(jobColumns()))

	process := func(ctx context.Context, job *central.Job) error {
		return errors.New("smtp unavailable")
	}

	w := New("automation", store, process, testWorkerConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)
}

func TestWorkerStopHaltsPolling(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	// claims and status updates interleave across goroutines
	mock.MatchExpectationsInOrder(false)
	store := queue.NewStoreWithDB(db, config.QueueConfig{DefaultMaxAttempts: 3, DefaultPriority: 5})

	mock.ExpectQuery("UPDATE jobs SET status = 'active'").
		WillReturnRows(sqlmock.NewRows(jobColumns()))

	w := New("automation", store, func(ctx context.Context, job *central.Job) error { return nil }, testWorkerConfig(), nil)
	go w.Run(context.Background())
	time.Sleep(30 * time.Millisecond)
	w.Stop() // blocks until Run has returned
}
