package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	payload := json.RawMessage(`{"run_id":"abc"}`)

	job, err := domain.NewJob(domain.JobTypeAnalyzeChapter, payload)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, domain.JobTypeAnalyzeChapter, job.Type)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, domain.DefaultMaxAttempts, job.MaxAttempts)
	assert.Zero(t, job.Attempts)
	assert.False(t, job.RunAfter.IsZero())
}

func TestNewJobValidation(t *testing.T) {
	tests := []struct {
		name    string
		jobType domain.JobType
		payload json.RawMessage
		wantErr error
	}{
		{
			name:    "unknown type",
			jobType: domain.JobType("compress_video"),
			payload: json.RawMessage(`{}`),
			wantErr: domain.ErrInvalidJobType,
		},
		{
			name:    "empty payload",
			jobType: domain.JobTypeGenerateImage,
			payload: nil,
			wantErr: domain.ErrEmptyJobPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewJob(tt.jobType, tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestJobTerminal(t *testing.T) {
	job, err := domain.NewJob(domain.JobTypeFinalizeRun, json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.False(t, job.Terminal())

	job.Status = domain.JobStatusRunning
	assert.False(t, job.Terminal())

	job.Status = domain.JobStatusCompleted
	assert.True(t, job.Terminal())

	job.Status = domain.JobStatusFailed
	assert.True(t, job.Terminal())
}

func TestJobLeaseExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	job, err := domain.NewJob(domain.JobTypeGenerateImage, json.RawMessage(`{}`))
	require.NoError(t, err)

	// Queued jobs never hold a lease.
	assert.False(t, job.LeaseExpired(now))

	job.Status = domain.JobStatusRunning
	job.LeaseUntil = &future
	assert.False(t, job.LeaseExpired(now))

	job.LeaseUntil = &past
	assert.True(t, job.LeaseExpired(now))
}

func TestIsValidJobType(t *testing.T) {
	assert.True(t, domain.IsValidJobType(domain.JobTypeAnalyzeChapter))
	assert.True(t, domain.IsValidJobType(domain.JobTypeGenerateImage))
	assert.True(t, domain.IsValidJobType(domain.JobTypeFinalizeRun))
	assert.False(t, domain.IsValidJobType(domain.JobType("")))
	assert.False(t, domain.IsValidJobType(domain.JobType("unknown")))
}
