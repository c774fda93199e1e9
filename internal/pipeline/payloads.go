package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// AnalyzeChapterPayload is the payload of an analyze_chapter job.
type AnalyzeChapterPayload struct {
	RunID  uuid.UUID `json:"run_id"`
	UserID uuid.UUID `json:"user_id"`
}

// GenerateImagePayload is the payload of a generate_image job.
type GenerateImagePayload struct {
	RunID   uuid.UUID `json:"run_id"`
	SceneID uuid.UUID `json:"scene_id"`
	Idx     int       `json:"idx"`
}

// FinalizeRunPayload is the payload of a finalize_run job.
type FinalizeRunPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// GenerateIdempotencyKey returns the dedupe key for a scene's generate job.
// One active generate job per (run, idx) keeps the in-order chain single-
// threaded even if completion and retry race to enqueue the same scene.
func GenerateIdempotencyKey(runID uuid.UUID, idx int) string {
	return fmt.Sprintf("generate:%s:%d", runID, idx)
}

// FinalizeIdempotencyKey returns the dedupe key for a run's finalize job.
func FinalizeIdempotencyKey(runID uuid.UUID) string {
	return fmt.Sprintf("finalize:%s", runID)
}
