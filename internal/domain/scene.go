package domain

import (
	"errors"

	"github.com/google/uuid"
)

// SceneStatus represents the lifecycle state of a scene within a run.
type SceneStatus string

// Possible scene status values. A retried generation re-enters "generating"
// via a new job without changing the scene's idx.
const (
	SceneStatusPending    SceneStatus = "pending"
	SceneStatusGenerating SceneStatus = "generating"
	SceneStatusCompleted  SceneStatus = "completed"
	SceneStatusFailed     SceneStatus = "failed"
)

// Common validation errors for Scene.
var (
	ErrEmptySceneID    = errors.New("scene ID cannot be empty")
	ErrEmptySceneRunID = errors.New("scene run ID cannot be empty")
	ErrNegativeIdx     = errors.New("scene idx cannot be negative")
	ErrEmptySceneDesc  = errors.New("scene description cannot be empty")
)

// Scene is one illustration unit within a run. Idx values are unique and
// contiguous within a run and scenes are processed strictly in ascending idx
// order.
type Scene struct {
	ID          uuid.UUID   `json:"id"`
	RunID       uuid.UUID   `json:"run_id"`
	Idx         int         `json:"idx"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      SceneStatus `json:"status"`
	Characters  []string    `json:"characters,omitempty"`
}

// NewScene creates a pending scene at the given position within a run.
func NewScene(runID uuid.UUID, idx int, title, description string, characters []string) (*Scene, error) {
	scene := &Scene{
		ID:          uuid.New(),
		RunID:       runID,
		Idx:         idx,
		Title:       title,
		Description: description,
		Status:      SceneStatusPending,
		Characters:  characters,
	}

	if err := scene.Validate(); err != nil {
		return nil, err
	}

	return scene, nil
}

// Validate checks if the Scene has valid data.
func (s *Scene) Validate() error {
	if s.ID == uuid.Nil {
		return ErrEmptySceneID
	}

	if s.RunID == uuid.Nil {
		return ErrEmptySceneRunID
	}

	if s.Idx < 0 {
		return ErrNegativeIdx
	}

	if s.Description == "" {
		return ErrEmptySceneDesc
	}

	if !isValidSceneStatus(s.Status) {
		return ErrInvalidSceneStatus
	}

	return nil
}

// Terminal reports whether the scene has reached a terminal status.
func (s *Scene) Terminal() bool {
	return s.Status == SceneStatusCompleted || s.Status == SceneStatusFailed
}

func isValidSceneStatus(status SceneStatus) bool {
	switch status {
	case SceneStatusPending, SceneStatusGenerating, SceneStatusCompleted, SceneStatusFailed:
		return true
	default:
		return false
	}
}
