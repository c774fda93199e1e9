package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/platform/logger"
	"github.com/storyloom/storyloom-api/internal/queue"
	"github.com/storyloom/storyloom-api/internal/store"
)

// AnalyzeHandler executes analyze_chapter jobs: it segments the chapter into
// scenes, persists them, moves the run to generating, and schedules the
// first scene's illustration.
type AnalyzeHandler struct {
	runs      store.RunStore
	scenes    store.SceneStore
	queue     *queue.Queue
	segmenter Segmenter
	chapters  ChapterSource
}

// NewAnalyzeHandler creates an AnalyzeHandler with its collaborators.
// chapters may be nil when every run carries inline chapter text.
func NewAnalyzeHandler(
	runs store.RunStore,
	scenes store.SceneStore,
	q *queue.Queue,
	segmenter Segmenter,
	chapters ChapterSource,
) *AnalyzeHandler {
	return &AnalyzeHandler{
		runs:      runs,
		scenes:    scenes,
		queue:     q,
		segmenter: segmenter,
		chapters:  chapters,
	}
}

// Handle processes one claimed analyze_chapter job.
func (h *AnalyzeHandler) Handle(ctx context.Context, job store.ClaimedJob) error {
	log := logger.FromContextOrDefault(ctx).With("job_id", job.ID)

	var payload AnalyzeChapterPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal analyze payload: %w", err)
	}
	log = log.With("run_id", payload.RunID)

	run, err := h.runs.GetByID(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("analyze job references missing run, dropping")
			return nil
		}
		return h.failRun(ctx, job, payload, err)
	}

	if run.Terminal() {
		log.Debug("run already terminal, analyze is a no-op", "status", run.Status)
		return nil
	}

	chapterText, err := h.chapterText(ctx, run)
	if err != nil {
		return h.failRun(ctx, job, payload, err)
	}

	drafts, err := h.segmenter.Segment(ctx, chapterText, run.Config.CapScenes)
	if err != nil {
		return h.failRun(ctx, job, payload, fmt.Errorf("segmentation failed: %w", err))
	}

	if len(drafts) == 0 {
		log.Warn("chapter produced no scenes, failing run")
		return h.runs.UpdateStatus(ctx, run.ID, domain.RunStatusFailed, "chapter produced no scenes")
	}

	firstScene, err := h.persistScenes(ctx, run, drafts)
	if err != nil {
		return h.failRun(ctx, job, payload, err)
	}

	if err := h.runs.UpdateStatus(ctx, run.ID, domain.RunStatusGenerating, ""); err != nil {
		return h.failRun(ctx, job, payload, err)
	}

	_, err = h.queue.Enqueue(ctx,
		domain.JobTypeGenerateImage,
		GenerateImagePayload{RunID: run.ID, SceneID: firstScene.ID, Idx: 0},
		queue.WithRunID(run.ID),
		queue.WithSceneID(firstScene.ID),
		queue.WithUserID(run.UserID),
		queue.WithIdempotencyKey(GenerateIdempotencyKey(run.ID, 0)),
	)
	if err != nil {
		return h.failRun(ctx, job, payload, err)
	}

	log.Info("chapter analyzed",
		"scene_count", len(drafts),
		"first_scene_id", firstScene.ID)
	return nil
}

// chapterText resolves the prose to illustrate: the inline snapshot when
// present, otherwise the referenced chapter.
func (h *AnalyzeHandler) chapterText(ctx context.Context, run *domain.EnhancementRun) (string, error) {
	if run.ChapterText != "" {
		return run.ChapterText, nil
	}
	if run.ChapterID == nil {
		return "", errors.New("run has neither inline text nor a chapter reference")
	}
	if h.chapters == nil {
		return "", errors.New("run references a chapter but no chapter source is configured")
	}

	text, err := h.chapters.FetchChapter(ctx, *run.ChapterID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch chapter %s: %w", run.ChapterID, err)
	}
	return text, nil
}

// persistScenes inserts the drafted scenes and returns the idx-0 scene. A
// duplicate means an earlier attempt of this job already inserted the set;
// the existing first scene is used so re-entry stays idempotent.
func (h *AnalyzeHandler) persistScenes(
	ctx context.Context,
	run *domain.EnhancementRun,
	drafts []SceneDraft,
) (*domain.Scene, error) {
	scenes := make([]*domain.Scene, 0, len(drafts))
	for idx, draft := range drafts {
		scene, err := domain.NewScene(run.ID, idx, draft.Title, draft.Description, draft.Characters)
		if err != nil {
			return nil, fmt.Errorf("invalid scene at idx %d: %w", idx, err)
		}
		scenes = append(scenes, scene)
	}

	if err := h.scenes.InsertScenes(ctx, scenes); err != nil {
		if store.IsDuplicateError(err) {
			return h.scenes.GetByRunIdx(ctx, run.ID, 0)
		}
		return nil, err
	}

	return scenes[0], nil
}

// HandleAbandoned settles the run of an analyze job whose attempt budget
// was consumed by lapsed leases. No Handle invocation saw the final failure,
// so the run would otherwise stay queued forever.
func (h *AnalyzeHandler) HandleAbandoned(ctx context.Context, job store.ClaimedJob) error {
	var payload AnalyzeChapterPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal analyze payload: %w", err)
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

	logger.FromContextOrDefault(ctx).Warn("failing run abandoned by analyze job",
		"run_id", run.ID,
		"job_id", job.ID)
	return h.runs.UpdateStatus(ctx, run.ID, domain.RunStatusFailed,
		"chapter analysis abandoned: lease expired")
}

// failRun propagates a transient error to the job retry path. On the final
// attempt the run is settled as failed first, so an exhausted analyze job
// never strands its run in a non-terminal status.
func (h *AnalyzeHandler) failRun(ctx context.Context, job store.ClaimedJob, payload AnalyzeChapterPayload, err error) error {
	if job.FinalAttempt() {
		log := logger.FromContextOrDefault(ctx)
		if uerr := h.runs.UpdateStatus(ctx, payload.RunID, domain.RunStatusFailed, err.Error()); uerr != nil {
			log.Error("failed to settle run after exhausted analyze job",
				"run_id", payload.RunID,
				"error", uerr)
		}
	}
	return err
}
