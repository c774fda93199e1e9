// Package queue provides the enqueue-side API over the durable job store.
// Handlers and services enqueue through it rather than writing job rows
// directly, so payload construction, attempt budgets, and idempotent dedupe
// live in one place.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/platform/logger"
	"github.com/storyloom/storyloom-api/internal/store"
)

// Option customizes a job before it is persisted.
type Option func(*domain.Job)

// WithRunAfter delays the job until the given instant.
func WithRunAfter(t time.Time) Option {
	return func(j *domain.Job) {
		j.RunAfter = t
	}
}

// WithMaxAttempts overrides the default attempt budget.
func WithMaxAttempts(n int) Option {
	return func(j *domain.Job) {
		j.MaxAttempts = n
	}
}

// WithIdempotencyKey enables dedupe: if an active job of the same type
// already carries the key, Enqueue returns that job instead of inserting a
// new one.
func WithIdempotencyKey(key string) Option {
	return func(j *domain.Job) {
		j.IdempotencyKey = key
	}
}

// WithRunID associates the job with an enhancement run. Jobs sharing a run
// ID are serialized by the claim: at most one of them runs at a time.
func WithRunID(id uuid.UUID) Option {
	return func(j *domain.Job) {
		j.RunID = &id
	}
}

// WithSceneID associates the job with a scene.
func WithSceneID(id uuid.UUID) Option {
	return func(j *domain.Job) {
		j.SceneID = &id
	}
}

// WithUserID records the user on whose behalf the job runs.
func WithUserID(id uuid.UUID) Option {
	return func(j *domain.Job) {
		j.UserID = &id
	}
}

// Queue enqueues durable jobs. It is safe for concurrent use.
type Queue struct {
	jobs store.JobStore
}

// New creates a Queue backed by the given job store.
func New(jobs store.JobStore) *Queue {
	return &Queue{jobs: jobs}
}

// WithTx returns a Queue whose inserts run inside the provided transaction.
// Enqueueing in the same transaction that creates a run makes "run exists
// but was never scheduled" unrepresentable.
func (q *Queue) WithTx(tx *sql.Tx) *Queue {
	return &Queue{jobs: q.jobs.WithTx(tx)}
}

// Enqueue persists a new queued job of the given type. The payload must
// marshal to JSON. When an idempotency key option is set and an active job
// of the same type already holds that key, the existing job is returned and
// no new row is written.
func (q *Queue) Enqueue(ctx context.Context, jobType domain.JobType, payload interface{}, opts ...Option) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job, err := domain.NewJob(jobType, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if job.IdempotencyKey != "" {
		existing, err := q.jobs.FindActiveByIdempotencyKey(ctx, jobType, job.IdempotencyKey)
		if err == nil {
			log.Debug("enqueue deduplicated against active job",
				"job_type", jobType,
				"idempotency_key", job.IdempotencyKey,
				"existing_job_id", existing.ID)
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if err := q.jobs.Insert(ctx, job); err != nil {
		// A concurrent enqueue can win the race between the dedupe lookup
		// and the insert; the partial unique index reports it as a
		// duplicate, and the winner's job is the result.
		if job.IdempotencyKey != "" && store.IsDuplicateError(err) {
			existing, findErr := q.jobs.FindActiveByIdempotencyKey(ctx, jobType, job.IdempotencyKey)
			if findErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	log.Debug("job enqueued",
		"job_id", job.ID,
		"job_type", jobType,
		"run_after", job.RunAfter)
	return job, nil
}
