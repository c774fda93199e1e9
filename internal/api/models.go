package api

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// StartRunRequest is the body of POST /api/runs. Exactly one of chapter_id
// or chapter_text must be provided.
type StartRunRequest struct {
	ChapterID   *uuid.UUID `json:"chapter_id,omitempty"`
	ChapterText string     `json:"chapter_text,omitempty"`
	StylePreset string     `json:"style_preset,omitempty" validate:"omitempty,max=200"`
	CapScenes   int        `json:"cap_scenes,omitempty"   validate:"omitempty,gt=0,lte=20"`
}

// Validate enforces the chapter reference constraint the struct tags cannot
// express.
func (r *StartRunRequest) Validate() error {
	if r.ChapterID == nil && r.ChapterText == "" {
		return errors.New("one of chapter_id or chapter_text is required")
	}
	if r.ChapterID != nil && r.ChapterText != "" {
		return errors.New("chapter_id and chapter_text are mutually exclusive")
	}
	if r.CapScenes < 0 || r.CapScenes > 20 {
		return errors.New("cap_scenes must be between 1 and 20")
	}
	return nil
}

// StartRunResponse is the body of a 202 from POST /api/runs.
type StartRunResponse struct {
	RunID uuid.UUID `json:"run_id"`
}

// SceneResponse is one scene in a run status report.
type SceneResponse struct {
	Idx          int        `json:"idx"`
	Title        string     `json:"title,omitempty"`
	Status       string     `json:"status"`
	CurrentImage *uuid.UUID `json:"current_image,omitempty"`
}

// RunStatusResponse is the body of GET /api/runs/{id}.
type RunStatusResponse struct {
	RunID      uuid.UUID       `json:"run_id"`
	Status     string          `json:"status"`
	Scenes     []SceneResponse `json:"scenes"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
}
