package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
)

// ClaimedJob is the projection of a job row handed to the dispatch loop.
// Workers receive only what they need to route and execute the job.
type ClaimedJob struct {
	ID          uuid.UUID
	Type        domain.JobType
	Payload     json.RawMessage
	RunID       *uuid.UUID
	SceneID     *uuid.UUID
	Attempts    int
	MaxAttempts int
}

// FinalAttempt reports whether this claim is the job's last allowed attempt.
// Handlers use it to settle domain state before the job goes terminally
// failed, so no scene or run is stranded in a non-terminal status.
func (j ClaimedJob) FinalAttempt() bool {
	return j.Attempts+1 >= j.MaxAttempts
}

// JobStore defines the interface for durable job persistence. It is the sole
// primitive providing atomicity in the pipeline: claiming must guarantee
// at-most-one-concurrent-claim per job and at most one running job per run.
// Version: 1.0
type JobStore interface {
	// Insert persists a new queued job. run_after defaults to now when the
	// job leaves it unset.
	Insert(ctx context.Context, job *domain.Job) error

	// ClaimBatch atomically selects up to batchSize queued, due jobs whose
	// run (if any) has no running sibling, marks them running with a lease,
	// and returns them. Rows locked by concurrent claimers are skipped, so
	// two workers never both claim the same job while its lease is valid.
	ClaimBatch(ctx context.Context, batchSize int, lease time.Duration, workerID string) ([]ClaimedJob, error)

	// Complete marks the job completed. Completing an already-completed job
	// is a no-op, not an error.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records the error and increments attempts. At the attempt budget
	// the job becomes terminally failed; otherwise it is requeued with
	// run_after pushed out by backoff and its lease cleared.
	Fail(ctx context.Context, id uuid.UUID, errMsg string, backoff time.Duration) error

	// ReclaimExpired requeues running jobs whose lease has lapsed, counting
	// the lapse as a failed attempt. Jobs whose attempt budget is exhausted
	// by the lapse go terminally failed instead; those are returned so the
	// caller can settle the scene or run they owned, since no handler ever
	// saw their final failure. Returns the number of jobs requeued and the
	// jobs taken terminal.
	ReclaimExpired(ctx context.Context) (int, []ClaimedJob, error)

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// FindActiveByIdempotencyKey returns the non-terminal job with the given
	// (type, idempotency key) pair, or ErrJobNotFound if none exists.
	FindActiveByIdempotencyKey(ctx context.Context, jobType domain.JobType, key string) (*domain.Job, error)

	// CountByRunAndStatus returns how many jobs for the run currently hold
	// the given status.
	CountByRunAndStatus(ctx context.Context, runID uuid.UUID, status domain.JobStatus) (int, error)

	// WithTx returns a JobStore bound to the provided transaction so that
	// multiple operations can execute atomically with other stores.
	WithTx(tx *sql.Tx) JobStore
}
