// Package worker drives the durable job queue: it claims batches of due
// jobs, routes each one to its stage handler, and reports the outcome back
// to the store. It also hosts the lease reaper that rescues jobs from
// workers that died mid-execution.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/redact"
	"github.com/storyloom/storyloom-api/internal/store"
)

// Default dispatch settings, applied when the config leaves them unset.
const (
	DefaultBatchSize      = 5
	DefaultLease          = 120 * time.Second
	DefaultPollInterval   = 5 * time.Second
	DefaultFailureBackoff = 30 * time.Second
)

// StageHandler executes one claimed job of a particular type.
type StageHandler interface {
	Handle(ctx context.Context, job store.ClaimedJob) error
}

// AbandonedHandler settles the domain state of a job whose attempt budget
// was exhausted by lapsed leases. Such a job goes terminally failed inside
// the reaper, so no Handle invocation ever sees its final failure; without
// this hook the scene or run the job owned would stay non-terminal forever.
type AbandonedHandler interface {
	HandleAbandoned(ctx context.Context, job store.ClaimedJob) error
}

// Config holds the dispatch loop settings.
type Config struct {
	BatchSize      int
	Lease          time.Duration
	PollInterval   time.Duration
	FailureBackoff time.Duration
}

// withDefaults fills unset fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = DefaultFailureBackoff
	}
	return c
}

// Dispatcher claims and executes jobs. Routing is an explicit switch over
// domain.JobType so an unrouted job type is a visible code change, not a
// missing map entry discovered at runtime.
type Dispatcher struct {
	jobs     store.JobStore
	analyze  StageHandler
	generate StageHandler
	finalize StageHandler
	cfg      Config
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given job store and stage
// handlers. Unset config fields fall back to the package defaults.
func NewDispatcher(
	jobs store.JobStore,
	analyze StageHandler,
	generate StageHandler,
	finalize StageHandler,
	cfg Config,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		jobs:     jobs,
		analyze:  analyze,
		generate: generate,
		finalize: finalize,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "worker"),
	}
}

// RunOnce performs a single dispatch pass: claim a batch under a fresh
// worker ID, execute each job, report each outcome. Handler errors and
// panics are absorbed per job; one bad job never aborts the rest of the
// batch. Returns the number of jobs processed.
func (d *Dispatcher) RunOnce(ctx context.Context) int {
	workerID := uuid.NewString()

	claimed, err := d.jobs.ClaimBatch(ctx, d.cfg.BatchSize, d.cfg.Lease, workerID)
	if err != nil {
		d.logger.Error("failed to claim job batch",
			"worker_id", workerID,
			"error", redact.Error(err))
		return 0
	}
	if len(claimed) == 0 {
		return 0
	}

	d.logger.Debug("claimed job batch",
		"worker_id", workerID,
		"count", len(claimed))

	for _, job := range claimed {
		d.execute(ctx, job)
	}

	return len(claimed)
}

// execute runs one job and settles it as completed or failed.
func (d *Dispatcher) execute(ctx context.Context, job store.ClaimedJob) {
	log := d.logger.With("job_id", job.ID, "job_type", job.Type)

	started := time.Now()
	err := d.dispatch(ctx, job)
	elapsed := time.Since(started)

	if err == nil {
		if cerr := d.jobs.Complete(ctx, job.ID); cerr != nil {
			log.Error("failed to mark job completed", "error", redact.Error(cerr))
			return
		}
		log.Info("job completed", "duration_ms", elapsed.Milliseconds())
		return
	}

	log.Warn("job failed",
		"attempt", job.Attempts+1,
		"max_attempts", job.MaxAttempts,
		"duration_ms", elapsed.Milliseconds(),
		"error", redact.Error(err))

	if ferr := d.jobs.Fail(ctx, job.ID, err.Error(), d.cfg.FailureBackoff); ferr != nil {
		log.Error("failed to record job failure", "error", redact.Error(ferr))
	}
}

// dispatch routes the job to its handler, converting a handler panic into
// an ordinary error so it takes the normal retry path.
func (d *Dispatcher) dispatch(ctx context.Context, job store.ClaimedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()

	switch job.Type {
	case domain.JobTypeAnalyzeChapter:
		return d.analyze.Handle(ctx, job)
	case domain.JobTypeGenerateImage:
		return d.generate.Handle(ctx, job)
	case domain.JobTypeFinalizeRun:
		return d.finalize.Handle(ctx, job)
	default:
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
}

// Run blocks, dispatching batches on the poll interval until the context is
// cancelled. Each tick first reclaims lapsed leases, then runs one pass;
// non-empty passes loop immediately so a backlog drains faster than one
// batch per tick.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("worker loop starting",
		"batch_size", d.cfg.BatchSize,
		"lease", d.cfg.Lease.String(),
		"poll_interval", d.cfg.PollInterval.String())

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.Reap(ctx)
		for d.RunOnce(ctx) > 0 {
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			d.logger.Info("worker loop stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// Reap performs one reaper pass: running jobs whose lease has lapsed are
// requeued, and jobs the lapse took terminally failed are routed to their
// handler's abandonment path so the scene or run they owned still settles.
func (d *Dispatcher) Reap(ctx context.Context) {
	requeued, dead, err := d.jobs.ReclaimExpired(ctx)
	if err != nil {
		d.logger.Error("failed to reclaim expired leases", "error", redact.Error(err))
		return
	}
	if requeued > 0 {
		d.logger.Warn("requeued jobs with expired leases", "count", requeued)
	}
	for _, job := range dead {
		d.settleAbandoned(ctx, job)
	}
}

// settleAbandoned settles one job the reaper took terminally failed.
func (d *Dispatcher) settleAbandoned(ctx context.Context, job store.ClaimedJob) {
	log := d.logger.With("job_id", job.ID, "job_type", job.Type)

	var handler StageHandler
	switch job.Type {
	case domain.JobTypeAnalyzeChapter:
		handler = d.analyze
	case domain.JobTypeGenerateImage:
		handler = d.generate
	case domain.JobTypeFinalizeRun:
		handler = d.finalize
	default:
		log.Error("no handler for abandoned job type")
		return
	}

	settler, ok := handler.(AbandonedHandler)
	if !ok {
		log.Warn("handler cannot settle abandoned jobs")
		return
	}

	if err := d.settle(ctx, settler, job); err != nil {
		log.Error("failed to settle abandoned job", "error", redact.Error(err))
		return
	}
	log.Warn("settled job abandoned by expired lease",
		"attempts", job.Attempts,
		"max_attempts", job.MaxAttempts)
}

// settle invokes the abandonment hook, converting a panic into an error so
// one bad job never aborts the reaper pass.
func (d *Dispatcher) settle(ctx context.Context, settler AbandonedHandler, job store.ClaimedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("abandonment handler panicked: %v", r)
		}
	}()
	return settler.HandleAbandoned(ctx, job)
}
