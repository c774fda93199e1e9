package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/platform/logger"
	"github.com/storyloom/storyloom-api/internal/store"
)

// FinalizeHandler executes finalize_run jobs: once every scene of a run is
// terminal, the run completes when at least one scene produced an image and
// fails otherwise. Partial success is a completed run.
type FinalizeHandler struct {
	runs   store.RunStore
	scenes store.SceneStore
}

// NewFinalizeHandler creates a FinalizeHandler.
func NewFinalizeHandler(runs store.RunStore, scenes store.SceneStore) *FinalizeHandler {
	return &FinalizeHandler{
		runs:   runs,
		scenes: scenes,
	}
}

// Handle processes one claimed finalize_run job.
func (h *FinalizeHandler) Handle(ctx context.Context, job store.ClaimedJob) error {
	log := logger.FromContextOrDefault(ctx).With("job_id", job.ID)

	var payload FinalizeRunPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal finalize payload: %w", err)
	}
	log = log.With("run_id", payload.RunID)

	run, err := h.runs.GetByID(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("finalize job references missing run, dropping")
			return nil
		}
		return err
	}
	if run.Terminal() {
		log.Debug("run already terminal, finalize is a no-op", "status", run.Status)
		return nil
	}

	scenes, err := h.scenes.ListByRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		log.Warn("finalizing run with no scenes, failing run")
		return h.runs.UpdateStatus(ctx, run.ID, domain.RunStatusFailed, "run has no scenes")
	}

	succeeded := 0
	for _, scene := range scenes {
		if !scene.Terminal() {
			log.Debug("scene still in flight, finalize is a no-op",
				"scene_id", scene.ID,
				"idx", scene.Idx,
				"status", scene.Status)
			return nil
		}
		if scene.Status == domain.SceneStatusCompleted {
			succeeded++
		}
	}

	if succeeded == 0 {
		log.Warn("every scene failed, failing run", "scene_count", len(scenes))
		return h.runs.UpdateStatus(ctx, run.ID, domain.RunStatusFailed, "all scenes failed")
	}

	log.Info("run completed",
		"scene_count", len(scenes),
		"succeeded", succeeded,
		"failed", len(scenes)-succeeded)
	return h.runs.UpdateStatus(ctx, run.ID, domain.RunStatusCompleted, "")
}

// HandleAbandoned settles a finalize job whose attempt budget was consumed
// by lapsed leases. Finalization only reads scene statuses and writes the
// run's terminal status, so running the settlement once more is safe.
func (h *FinalizeHandler) HandleAbandoned(ctx context.Context, job store.ClaimedJob) error {
	return h.Handle(ctx, job)
}
