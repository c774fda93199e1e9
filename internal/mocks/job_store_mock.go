package mocks

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/store"
	"github.com/stretchr/testify/mock"
)

// TestifyMockJobStore is a mock of store.JobStore interface for use with testify/mock
type TestifyMockJobStore struct {
	mock.Mock
}

// Insert is a mock implementation of store.JobStore.Insert
func (m *TestifyMockJobStore) Insert(ctx context.Context, job *domain.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// ClaimBatch is a mock implementation of store.JobStore.ClaimBatch
func (m *TestifyMockJobStore) ClaimBatch(
	ctx context.Context,
	batchSize int,
	lease time.Duration,
	workerID string,
) ([]store.ClaimedJob, error) {
	args := m.Called(ctx, batchSize, lease, workerID)
	if jobs, ok := args.Get(0).([]store.ClaimedJob); ok {
		return jobs, args.Error(1)
	}
	return nil, args.Error(1)
}

// Complete is a mock implementation of store.JobStore.Complete
func (m *TestifyMockJobStore) Complete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Fail is a mock implementation of store.JobStore.Fail
func (m *TestifyMockJobStore) Fail(ctx context.Context, id uuid.UUID, errMsg string, backoff time.Duration) error {
	args := m.Called(ctx, id, errMsg, backoff)
	return args.Error(0)
}

// ReclaimExpired is a mock implementation of store.JobStore.ReclaimExpired
func (m *TestifyMockJobStore) ReclaimExpired(ctx context.Context) (int, []store.ClaimedJob, error) {
	args := m.Called(ctx)
	if dead, ok := args.Get(1).([]store.ClaimedJob); ok {
		return args.Int(0), dead, args.Error(2)
	}
	return args.Int(0), nil, args.Error(2)
}

// GetByID is a mock implementation of store.JobStore.GetByID
func (m *TestifyMockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	args := m.Called(ctx, id)
	if job, ok := args.Get(0).(*domain.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

// FindActiveByIdempotencyKey is a mock implementation of store.JobStore.FindActiveByIdempotencyKey
func (m *TestifyMockJobStore) FindActiveByIdempotencyKey(
	ctx context.Context,
	jobType domain.JobType,
	key string,
) (*domain.Job, error) {
	args := m.Called(ctx, jobType, key)
	if job, ok := args.Get(0).(*domain.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

// CountByRunAndStatus is a mock implementation of store.JobStore.CountByRunAndStatus
func (m *TestifyMockJobStore) CountByRunAndStatus(
	ctx context.Context,
	runID uuid.UUID,
	status domain.JobStatus,
) (int, error) {
	args := m.Called(ctx, runID, status)
	return args.Int(0), args.Error(1)
}

// WithTx is a mock implementation of store.JobStore.WithTx
func (m *TestifyMockJobStore) WithTx(tx *sql.Tx) store.JobStore {
	args := m.Called(tx)
	if ret, ok := args.Get(0).(store.JobStore); ok {
		return ret
	}
	return m
}
