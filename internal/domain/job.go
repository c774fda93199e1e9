package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the pipeline stage a job drives.
type JobType string

// Job type constants. The worker dispatch switch in internal/worker must
// cover every value defined here.
const (
	JobTypeAnalyzeChapter JobType = "analyze_chapter"
	JobTypeGenerateImage  JobType = "generate_image"
	JobTypeFinalizeRun    JobType = "finalize_run"
)

// JobStatus represents the current state of a job.
type JobStatus string

// Possible job status values.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// DefaultMaxAttempts is applied when a job is enqueued without an explicit
// attempt budget.
const DefaultMaxAttempts = 3

// Common validation errors for Job.
var (
	ErrEmptyJobID       = errors.New("job ID cannot be empty")
	ErrEmptyJobPayload  = errors.New("job payload cannot be empty")
	ErrInvalidAttempts  = errors.New("job max attempts must be positive")
	ErrInvalidRunAfter  = errors.New("job run_after cannot be zero")
	ErrInvalidJobIdxKey = errors.New("job idempotency key cannot be whitespace only")
)

// Job represents one durable, atomically claimable unit of asynchronous work.
// The jobs table row is the single point of mutual exclusion for pipeline
// execution: the run, scene, and image rows a job touches are mutated only by
// the worker currently holding the job's lease.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	Type           JobType         `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Status         JobStatus       `json:"status"`
	RunAfter       time.Time       `json:"run_after"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	LastError      string          `json:"last_error,omitempty"`
	ReservedBy     string          `json:"reserved_by,omitempty"`
	LeaseUntil     *time.Time      `json:"lease_until,omitempty"`
	RunID          *uuid.UUID      `json:"run_id,omitempty"`
	SceneID        *uuid.UUID      `json:"scene_id,omitempty"`
	UserID         *uuid.UUID      `json:"user_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewJob creates a queued Job of the given type with the supplied payload.
// It generates a new UUID, sets run_after to now, and applies the default
// attempt budget. Returns an error if validation fails.
func NewJob(jobType JobType, payload json.RawMessage) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New(),
		Type:        jobType,
		Payload:     payload,
		Status:      JobStatusQueued,
		RunAfter:    now,
		Attempts:    0,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
// Returns an error if any field fails validation.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if !IsValidJobType(j.Type) {
		return ErrInvalidJobType
	}

	if len(j.Payload) == 0 {
		return ErrEmptyJobPayload
	}

	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}

	if j.MaxAttempts <= 0 {
		return ErrInvalidAttempts
	}

	if j.RunAfter.IsZero() {
		return ErrInvalidRunAfter
	}

	return nil
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// LeaseExpired reports whether the job holds a lease that has lapsed at the
// given instant. Jobs without a lease are never considered expired.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == JobStatusRunning && j.LeaseUntil != nil && j.LeaseUntil.Before(now)
}

// IsValidJobType checks if the given type is a known JobType.
func IsValidJobType(t JobType) bool {
	switch t {
	case JobTypeAnalyzeChapter, JobTypeGenerateImage, JobTypeFinalizeRun:
		return true
	default:
		return false
	}
}

func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}
