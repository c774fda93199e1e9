package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of an enhancement run.
type RunStatus string

// Possible run status values. A run only ever moves forward through this
// lifecycle; regressions are rejected by UpdateStatus and by the run store.
const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusGenerating RunStatus = "generating"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Common validation errors for EnhancementRun.
var (
	ErrEmptyRunID      = errors.New("run ID cannot be empty")
	ErrEmptyRunUserID  = errors.New("run user ID cannot be empty")
	ErrEmptyChapterRef = errors.New("run requires a chapter ID or inline chapter text")
)

// RunConfig captures the per-run generation settings snapshotted when the
// enhancement request is accepted.
type RunConfig struct {
	CapScenes   int    `json:"cap_scenes"`
	ImageWidth  int    `json:"image_width"`
	ImageHeight int    `json:"image_height"`
	ImageFormat string `json:"image_format"`
}

// DefaultRunConfig returns the generation settings applied when a start
// request leaves them unspecified.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		CapScenes:   5,
		ImageWidth:  1024,
		ImageHeight: 1024,
		ImageFormat: "image/png",
	}
}

// EnhancementRun represents one end-to-end illustration attempt over a single
// chapter. Runs are created queued and mutated only by stage handlers.
type EnhancementRun struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	ChapterID   *uuid.UUID `json:"chapter_id,omitempty"`
	ChapterText string     `json:"chapter_text,omitempty"`
	Status      RunStatus  `json:"status"`
	StylePreset string     `json:"style_preset,omitempty"`
	Config      RunConfig  `json:"config"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// NewEnhancementRun creates a queued run for the given user. Exactly one of
// chapterID or chapterText must be provided; the chapter text, when inline,
// is snapshotted on the run so later edits to the chapter cannot change what
// the pipeline illustrates.
func NewEnhancementRun(
	userID uuid.UUID,
	chapterID *uuid.UUID,
	chapterText string,
	stylePreset string,
	cfg RunConfig,
) (*EnhancementRun, error) {
	run := &EnhancementRun{
		ID:          uuid.New(),
		UserID:      userID,
		ChapterID:   chapterID,
		ChapterText: chapterText,
		Status:      RunStatusQueued,
		StylePreset: stylePreset,
		Config:      cfg,
		StartedAt:   time.Now().UTC(),
	}

	if err := run.Validate(); err != nil {
		return nil, err
	}

	return run, nil
}

// Validate checks if the EnhancementRun has valid data.
func (r *EnhancementRun) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRunID
	}

	if r.UserID == uuid.Nil {
		return ErrEmptyRunUserID
	}

	if r.ChapterID == nil && r.ChapterText == "" {
		return ErrEmptyChapterRef
	}

	if !isValidRunStatus(r.Status) {
		return ErrInvalidRunStatus
	}

	return nil
}

// UpdateStatus advances the run's status. The lifecycle is monotonic:
// queued → generating → {completed, failed}. Attempting to move backwards
// returns ErrStatusRegression.
func (r *EnhancementRun) UpdateStatus(status RunStatus) error {
	if !isValidRunStatus(status) {
		return ErrInvalidRunStatus
	}

	if runStatusRank(status) < runStatusRank(r.Status) {
		return ErrStatusRegression
	}

	r.Status = status
	if r.Terminal() {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}
	return nil
}

// Terminal reports whether the run has reached a terminal status.
func (r *EnhancementRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

func isValidRunStatus(status RunStatus) bool {
	switch status {
	case RunStatusQueued, RunStatusGenerating, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

func runStatusRank(status RunStatus) int {
	switch status {
	case RunStatusQueued:
		return 0
	case RunStatusGenerating:
		return 1
	default:
		return 2
	}
}
