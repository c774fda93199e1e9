package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/platform/logger"
	"github.com/storyloom/storyloom-api/internal/queue"
	"github.com/storyloom/storyloom-api/internal/store"
)

// GenerateHandler executes generate_image jobs: one job illustrates one
// scene, records the attempt, stores the bytes, sets the scene's current
// image, and schedules the next scene (or the run's finalize when the scene
// was the last one).
//
// The scene always reaches a terminal status before the chain advances, and
// the chain advances even when the scene fails. One bad scene degrades the
// run to partial success instead of stalling it.
type GenerateHandler struct {
	runs       store.RunStore
	scenes     store.SceneStore
	images     store.ImageStore
	queue      *queue.Queue
	prompter   Prompting
	moderation Moderation
	generator  ImageGenerator
	storage    ObjectStorage
}

// NewGenerateHandler creates a GenerateHandler with its collaborators.
func NewGenerateHandler(
	runs store.RunStore,
	scenes store.SceneStore,
	images store.ImageStore,
	q *queue.Queue,
	prompter Prompting,
	moderation Moderation,
	generator ImageGenerator,
	storage ObjectStorage,
) *GenerateHandler {
	return &GenerateHandler{
		runs:       runs,
		scenes:     scenes,
		images:     images,
		queue:      q,
		prompter:   prompter,
		moderation: moderation,
		generator:  generator,
		storage:    storage,
	}
}

// Handle processes one claimed generate_image job.
func (h *GenerateHandler) Handle(ctx context.Context, job store.ClaimedJob) error {
	log := logger.FromContextOrDefault(ctx).With("job_id", job.ID)

	var payload GenerateImagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal generate payload: %w", err)
	}
	log = log.With("run_id", payload.RunID, "scene_id", payload.SceneID, "idx", payload.Idx)

	run, err := h.runs.GetByID(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("generate job references missing run, dropping")
			return nil
		}
		return err
	}
	if run.Terminal() {
		log.Debug("run already terminal, generate is a no-op", "status", run.Status)
		return nil
	}

	scene, err := h.scenes.GetByID(ctx, payload.SceneID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("generate job references missing scene, dropping")
			return nil
		}
		return err
	}

	// A retried job can land on a scene an earlier attempt already settled.
	// Re-advancing is safe: the idempotency keys absorb duplicate enqueues.
	if scene.Terminal() {
		log.Debug("scene already terminal, re-ensuring chain", "status", scene.Status)
		return h.advance(ctx, run, scene.Idx)
	}

	if err := h.scenes.UpdateStatus(ctx, scene.ID, domain.SceneStatusGenerating); err != nil {
		return err
	}

	prompt := h.prompter.BuildImagePrompt(scene, run.StylePreset)

	if err := h.moderation.CheckText(ctx, prompt); err != nil {
		if errors.Is(err, ErrModerationBlocked) {
			log.Warn("scene blocked by moderation, failing scene and advancing")
			return h.settleScene(ctx, run, scene, domain.SceneStatusFailed)
		}
		return h.failScene(ctx, job, run, scene, fmt.Errorf("moderation check failed: %w", err))
	}

	attemptNo, err := h.images.NextAttempt(ctx, scene.ID)
	if err != nil {
		return h.failScene(ctx, job, run, scene, err)
	}

	attempt, err := domain.NewImageAttempt(
		scene.ID,
		attemptNo,
		prompt,
		h.generator.Name(),
		run.Config.ImageWidth,
		run.Config.ImageHeight,
	)
	if err != nil {
		return h.failScene(ctx, job, run, scene, fmt.Errorf("invalid image attempt: %w", err))
	}
	if err := h.images.Create(ctx, attempt); err != nil {
		return h.failScene(ctx, job, run, scene, err)
	}

	generated, err := h.generator.GenerateImage(ctx, ImageRequest{
		Prompt: prompt,
		Width:  run.Config.ImageWidth,
		Height: run.Config.ImageHeight,
		Format: run.Config.ImageFormat,
	})
	if err != nil {
		h.markAttemptFailed(ctx, attempt.ID)
		return h.failScene(ctx, job, run, scene, fmt.Errorf("image generation failed: %w", err))
	}

	key := storageKey(run.ID, scene.Idx, attemptNo, generated.Format)
	storagePath, err := h.storage.Write(ctx, key, generated.Data)
	if err != nil {
		h.markAttemptFailed(ctx, attempt.ID)
		return h.failScene(ctx, job, run, scene, fmt.Errorf("failed to store image: %w", err))
	}

	if err := h.images.Finalize(ctx, attempt.ID, storagePath, generated.Format,
		generated.Width, generated.Height); err != nil {
		return h.failScene(ctx, job, run, scene, err)
	}

	if err := h.images.SetCurrentImage(ctx, scene.ID, attempt.ID); err != nil {
		return h.failScene(ctx, job, run, scene, err)
	}

	log.Info("scene illustrated",
		"attempt", attemptNo,
		"storage_path", storagePath)
	return h.settleScene(ctx, run, scene, domain.SceneStatusCompleted)
}

// HandleAbandoned settles the scene of a generate job whose attempt budget
// was consumed by lapsed leases. The scene is failed and the chain advances,
// exactly as an in-handler exhausted attempt would have done; without this
// the scene would stay in generating and no follow-on job would exist.
func (h *GenerateHandler) HandleAbandoned(ctx context.Context, job store.ClaimedJob) error {
	var payload GenerateImagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal generate payload: %w", err)
	}

	run, err := h.runs.GetByID(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if run.Terminal() {
		return nil
	}

	scene, err := h.scenes.GetByID(ctx, payload.SceneID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	// An earlier attempt may have settled the scene before its worker died.
	// Re-advancing is safe: the idempotency keys absorb duplicate enqueues.
	if scene.Terminal() {
		return h.advance(ctx, run, scene.Idx)
	}

	logger.FromContextOrDefault(ctx).Warn("failing scene abandoned by generate job",
		"run_id", run.ID,
		"scene_id", scene.ID,
		"job_id", job.ID)
	return h.settleScene(ctx, run, scene, domain.SceneStatusFailed)
}

// settleScene moves the scene to its terminal status and advances the chain.
func (h *GenerateHandler) settleScene(
	ctx context.Context,
	run *domain.EnhancementRun,
	scene *domain.Scene,
	status domain.SceneStatus,
) error {
	if err := h.scenes.UpdateStatus(ctx, scene.ID, status); err != nil {
		return err
	}
	return h.advance(ctx, run, scene.Idx)
}

// failScene propagates a transient error to the job retry path. On the
// final attempt the scene is settled as failed and the chain advances, so
// an exhausted generate job never stalls the run.
func (h *GenerateHandler) failScene(
	ctx context.Context,
	job store.ClaimedJob,
	run *domain.EnhancementRun,
	scene *domain.Scene,
	err error,
) error {
	if job.FinalAttempt() {
		log := logger.FromContextOrDefault(ctx)
		if serr := h.settleScene(ctx, run, scene, domain.SceneStatusFailed); serr != nil {
			log.Error("failed to settle scene after exhausted generate job",
				"scene_id", scene.ID,
				"error", serr)
		}
	}
	return err
}

// advance enqueues the next scene's generate job, or the run's finalize job
// when no scene holds idx+1.
func (h *GenerateHandler) advance(ctx context.Context, run *domain.EnhancementRun, idx int) error {
	next, err := h.scenes.GetByRunIdx(ctx, run.ID, idx+1)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_, err = h.queue.Enqueue(ctx,
				domain.JobTypeFinalizeRun,
				FinalizeRunPayload{RunID: run.ID},
				queue.WithRunID(run.ID),
				queue.WithUserID(run.UserID),
				queue.WithIdempotencyKey(FinalizeIdempotencyKey(run.ID)),
			)
			return err
		}
		return err
	}

	_, err = h.queue.Enqueue(ctx,
		domain.JobTypeGenerateImage,
		GenerateImagePayload{RunID: run.ID, SceneID: next.ID, Idx: next.Idx},
		queue.WithRunID(run.ID),
		queue.WithSceneID(next.ID),
		queue.WithUserID(run.UserID),
		queue.WithIdempotencyKey(GenerateIdempotencyKey(run.ID, next.Idx)),
	)
	return err
}

func (h *GenerateHandler) markAttemptFailed(ctx context.Context, id uuid.UUID) {
	if err := h.images.MarkFailed(ctx, id); err != nil {
		logger.FromContextOrDefault(ctx).Error("failed to mark image attempt failed",
			"image_id", id,
			"error", err)
	}
}

// storageKey builds the object key for a generated image.
func storageKey(runID uuid.UUID, idx, attempt int, format string) string {
	return fmt.Sprintf("runs/%s/scene-%03d/attempt-%d.%s", runID, idx, attempt, extension(format))
}

func extension(format string) string {
	switch format {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}
