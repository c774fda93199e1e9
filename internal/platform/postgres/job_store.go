package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/platform/logger"
	"github.com/storyloom/storyloom-api/internal/store"
)

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db store.DBTX
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore
// interface. It accepts a database connection or transaction that should be
// initialized and managed by the caller.
func NewPostgresJobStore(db store.DBTX) *PostgresJobStore {
	return &PostgresJobStore{
		db: db,
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// WithTx implements store.JobStore.WithTx
// It returns a new JobStore instance that uses the provided transaction.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{
		db: tx,
	}
}

// Insert implements store.JobStore.Insert
// It validates the job and persists it with queued status.
func (s *PostgresJobStore) Insert(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO jobs (id, type, payload, status, run_after, attempts,
			max_attempts, last_error, reserved_by, lease_until, run_id,
			scene_id, user_id, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		job.Payload,
		job.Status,
		job.RunAfter,
		job.Attempts,
		job.MaxAttempts,
		job.LastError,
		job.ReservedBy,
		job.LeaseUntil,
		job.RunID,
		job.SceneID,
		job.UserID,
		nullString(job.IdempotencyKey),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert job",
			"job_id", job.ID,
			"job_type", job.Type,
			"error", err)
		return mapError(err)
	}

	return nil
}

// ClaimBatch implements store.JobStore.ClaimBatch
//
// The claim is a single statement. The inner CTE locks queued, due jobs with
// FOR UPDATE SKIP LOCKED so concurrent workers never select the same rows;
// the ranking CTE keeps at most one job per run out of the locked set; the
// outer UPDATE transitions the survivors to running with a fresh lease.
//
// A partial unique index on jobs(run_id) WHERE status = 'running' backs the
// one-running-job-per-run invariant at the database level. If two workers
// race through the claim for the same run, the loser's statement aborts on
// that index; the batch is surrendered and picked up on the next poll.
func (s *PostgresJobStore) ClaimBatch(
	ctx context.Context,
	batchSize int,
	lease time.Duration,
	workerID string,
) ([]store.ClaimedJob, error) {
	log := logger.FromContextOrDefault(ctx)

	query := `
		WITH locked AS (
			SELECT j.id, j.run_id, j.created_at
			FROM jobs j
			WHERE j.status = 'queued'
			  AND j.run_after <= $1
			  AND (j.run_id IS NULL OR NOT EXISTS (
					SELECT 1 FROM jobs r
					WHERE r.run_id = j.run_id AND r.status = 'running'))
			ORDER BY j.created_at
			FOR UPDATE OF j SKIP LOCKED
			LIMIT $2
		),
		picked AS (
			SELECT id FROM (
				SELECT id, run_id,
					row_number() OVER (PARTITION BY run_id ORDER BY created_at) AS rn
				FROM locked
			) ranked
			WHERE run_id IS NULL OR rn = 1
		)
		UPDATE jobs
		SET status = 'running',
			reserved_by = $3,
			lease_until = $4,
			updated_at = $1
		FROM picked
		WHERE jobs.id = picked.id
		RETURNING jobs.id, jobs.type, jobs.payload, jobs.run_id, jobs.scene_id,
			jobs.attempts, jobs.max_attempts
	`

	now := time.Now().UTC()

	rows, err := s.db.QueryContext(ctx, query, now, batchSize, workerID, now.Add(lease))
	if err != nil {
		if IsUniqueViolation(err) {
			log.Debug("claim lost run-serialization race, surrendering batch",
				"worker_id", workerID)
			return nil, nil
		}
		log.Error("failed to claim job batch",
			"worker_id", workerID,
			"batch_size", batchSize,
			"error", err)
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	var claimed []store.ClaimedJob
	for rows.Next() {
		var job store.ClaimedJob
		var runID, sceneID uuid.NullUUID

		if err := rows.Scan(&job.ID, &job.Type, &job.Payload, &runID, &sceneID,
			&job.Attempts, &job.MaxAttempts); err != nil {
			log.Error("failed to scan claimed job row",
				"worker_id", workerID,
				"error", err)
			return nil, fmt.Errorf("failed to scan claimed job row: %w", err)
		}

		if runID.Valid {
			job.RunID = &runID.UUID
		}
		if sceneID.Valid {
			job.SceneID = &sceneID.UUID
		}

		claimed = append(claimed, job)
	}
	if err := rows.Err(); err != nil {
		log.Error("error iterating claimed job rows",
			"worker_id", workerID,
			"error", err)
		return nil, fmt.Errorf("error iterating claimed job rows: %w", err)
	}

	return claimed, nil
}

// Complete implements store.JobStore.Complete
// Completing a job that is already completed is a no-op.
func (s *PostgresJobStore) Complete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx)

	query := `
		UPDATE jobs
		SET status = 'completed', reserved_by = '', lease_until = NULL, updated_at = $2
		WHERE id = $1 AND status IN ('queued', 'running')
	`

	result, err := s.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		log.Error("failed to complete job",
			"job_id", id,
			"error", err)
		return mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Either the job does not exist or it is already terminal. Re-completing
	// a completed job must stay a no-op.
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusCompleted {
		return nil
	}

	log.Warn("refusing to complete terminally failed job", "job_id", id)
	return fmt.Errorf("%w: job %s is %s", store.ErrUpdateFailed, id, job.Status)
}

// Fail implements store.JobStore.Fail
// At the attempt budget the job becomes terminally failed; otherwise it is
// requeued with run_after pushed out by backoff. Both paths clear the lease
// and record the error message.
func (s *PostgresJobStore) Fail(ctx context.Context, id uuid.UUID, errMsg string, backoff time.Duration) error {
	log := logger.FromContextOrDefault(ctx)

	query := `
		UPDATE jobs
		SET attempts = attempts + 1,
			last_error = $2,
			reserved_by = '',
			lease_until = NULL,
			status = CASE WHEN attempts + 1 >= max_attempts
				THEN 'failed' ELSE 'queued' END,
			run_after = CASE WHEN attempts + 1 >= max_attempts
				THEN run_after ELSE $3 END,
			updated_at = $4
		WHERE id = $1 AND status = 'running'
	`

	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, query, id, errMsg, now.Add(backoff), now)
	if err != nil {
		log.Error("failed to record job failure",
			"job_id", id,
			"error", err)
		return mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		log.Warn("no running job found to fail", "job_id", id)
		return store.ErrJobNotFound
	}

	return nil
}

// ReclaimExpired implements store.JobStore.ReclaimExpired
// A lapsed lease counts as a failed attempt, so a job whose worker keeps
// dying exhausts its budget instead of cycling forever. Jobs the budget
// takes terminal are returned: the reaper is the only code that sees their
// final failure, and it must settle the scene or run they owned.
func (s *PostgresJobStore) ReclaimExpired(ctx context.Context) (int, []store.ClaimedJob, error) {
	log := logger.FromContextOrDefault(ctx)

	query := `
		UPDATE jobs
		SET attempts = attempts + 1,
			last_error = 'lease expired',
			reserved_by = '',
			lease_until = NULL,
			status = CASE WHEN attempts + 1 >= max_attempts
				THEN 'failed' ELSE 'queued' END,
			updated_at = $1
		WHERE status = 'running' AND lease_until IS NOT NULL AND lease_until < $1
		RETURNING id, type, payload, run_id, scene_id, attempts, max_attempts, status
	`

	rows, err := s.db.QueryContext(ctx, query, time.Now().UTC())
	if err != nil {
		log.Error("failed to reclaim expired jobs", "error", err)
		return 0, nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	requeued := 0
	var dead []store.ClaimedJob
	for rows.Next() {
		var job store.ClaimedJob
		var runID, sceneID uuid.NullUUID
		var status domain.JobStatus

		if err := rows.Scan(&job.ID, &job.Type, &job.Payload, &runID, &sceneID,
			&job.Attempts, &job.MaxAttempts, &status); err != nil {
			log.Error("failed to scan reclaimed job row", "error", err)
			return 0, nil, fmt.Errorf("failed to scan reclaimed job row: %w", err)
		}

		if status != domain.JobStatusFailed {
			requeued++
			continue
		}

		if runID.Valid {
			job.RunID = &runID.UUID
		}
		if sceneID.Valid {
			job.SceneID = &sceneID.UUID
		}
		dead = append(dead, job)
	}
	if err := rows.Err(); err != nil {
		log.Error("error iterating reclaimed job rows", "error", err)
		return 0, nil, fmt.Errorf("error iterating reclaimed job rows: %w", err)
	}

	return requeued, dead, nil
}

// GetByID implements store.JobStore.GetByID
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `
		SELECT id, type, payload, status, run_after, attempts, max_attempts,
			last_error, reserved_by, lease_until, run_id, scene_id, user_id,
			idempotency_key, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	job, err := s.scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, mapError(err)
	}

	return job, nil
}

// FindActiveByIdempotencyKey implements store.JobStore.FindActiveByIdempotencyKey
func (s *PostgresJobStore) FindActiveByIdempotencyKey(
	ctx context.Context,
	jobType domain.JobType,
	key string,
) (*domain.Job, error) {
	query := `
		SELECT id, type, payload, status, run_after, attempts, max_attempts,
			last_error, reserved_by, lease_until, run_id, scene_id, user_id,
			idempotency_key, created_at, updated_at
		FROM jobs
		WHERE type = $1 AND idempotency_key = $2 AND status IN ('queued', 'running')
		LIMIT 1
	`

	job, err := s.scanJob(s.db.QueryRowContext(ctx, query, jobType, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, mapError(err)
	}

	return job, nil
}

// CountByRunAndStatus implements store.JobStore.CountByRunAndStatus
func (s *PostgresJobStore) CountByRunAndStatus(
	ctx context.Context,
	runID uuid.UUID,
	status domain.JobStatus,
) (int, error) {
	query := `SELECT count(*) FROM jobs WHERE run_id = $1 AND status = $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, runID, status).Scan(&count); err != nil {
		return 0, mapError(err)
	}

	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a full jobs row into a domain.Job.
func (s *PostgresJobStore) scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var leaseUntil sql.NullTime
	var runID, sceneID, userID uuid.NullUUID
	var idempotencyKey sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Payload,
		&job.Status,
		&job.RunAfter,
		&job.Attempts,
		&job.MaxAttempts,
		&job.LastError,
		&job.ReservedBy,
		&leaseUntil,
		&runID,
		&sceneID,
		&userID,
		&idempotencyKey,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if leaseUntil.Valid {
		job.LeaseUntil = &leaseUntil.Time
	}
	if runID.Valid {
		job.RunID = &runID.UUID
	}
	if sceneID.Valid {
		job.SceneID = &sceneID.UUID
	}
	if userID.Valid {
		job.UserID = &userID.UUID
	}
	job.IdempotencyKey = idempotencyKey.String

	return &job, nil
}

// nullString maps an empty string to SQL NULL so partial unique indexes on
// optional text columns never collide on the empty value.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
