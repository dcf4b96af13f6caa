package queue

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/config"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(db, config.QueueConfig{DefaultMaxAttempts: 3, DefaultPriority: 5}), mock
}

func TestAddInsertsWaitingJob(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), "automation", sqlmock.AnyArg(), 5, sqlmock.AnyArg(), 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job, err := s.Add(context.Background(), "automation", central.JobData{
		TenantCode: "ACME",
		Type:       central.JobTypeAutomationEvent,
		Payload:    map[string]interface{}{"leadId": "l1"},
	}, AddOptions{})

	require.NoError(t, err)
	assert.Equal(t, central.JobWaiting, job.Status)
	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimReturnsNilWhenNothingClaimable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE jobs SET status = 'active'").
		WillReturnError(sql.ErrNoRows)

	job, err := s.Claim(context.Background(), "automation")
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryMarksFailedAfterMaxAttempts(t *testing.T) {
	s, mock := newMockStore(t)

	job := &central.Job{ID: "j1", Attempts: 2, MaxAttempts: 3}

	mock.ExpectExec("UPDATE jobs SET status = 'failed'").
		WithArgs("j1", 3, "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Retry(context.Background(), job, 1000, errors.New("boom"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryReschedulesWithBackoff(t *testing.T) {
	s, mock := newMockStore(t)

	job := &central.Job{ID: "j1", Attempts: 0, MaxAttempts: 3}

	mock.ExpectExec("UPDATE jobs SET status = 'waiting'").
		WithArgs("j1", 1, "boom", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	before := time.Now()
	err := s.Retry(context.Background(), job, 1000, errors.New("boom"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	_ = before
}
