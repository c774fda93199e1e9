package domain

import (
	"errors"

	"github.com/google/uuid"
)

// ImageStatus represents the lifecycle state of a single generation attempt.
type ImageStatus string

// Possible image attempt status values.
const (
	ImageStatusGenerating ImageStatus = "generating"
	ImageStatusCompleted  ImageStatus = "completed"
	ImageStatusFailed     ImageStatus = "failed"
)

// Common validation errors for ImageAttempt.
var (
	ErrEmptyImageID      = errors.New("image ID cannot be empty")
	ErrEmptyImageSceneID = errors.New("image scene ID cannot be empty")
	ErrNegativeAttempt   = errors.New("image attempt number cannot be negative")
	ErrEmptyImagePrompt  = errors.New("image prompt cannot be empty")
)

// ImageAttempt is one generation attempt for a scene. Attempt numbers for a
// scene are strictly increasing and gap-free: the next attempt is always
// max(existing)+1, or 0 when the scene has none.
type ImageAttempt struct {
	ID          uuid.UUID   `json:"id"`
	SceneID     uuid.UUID   `json:"scene_id"`
	Attempt     int         `json:"attempt"`
	Prompt      string      `json:"prompt"`
	Provider    string      `json:"provider"`
	Status      ImageStatus `json:"status"`
	StoragePath string      `json:"storage_path,omitempty"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Format      string      `json:"format,omitempty"`
}

// NewImageAttempt creates a generating attempt record for a scene.
func NewImageAttempt(sceneID uuid.UUID, attempt int, prompt, provider string, width, height int) (*ImageAttempt, error) {
	img := &ImageAttempt{
		ID:       uuid.New(),
		SceneID:  sceneID,
		Attempt:  attempt,
		Prompt:   prompt,
		Provider: provider,
		Status:   ImageStatusGenerating,
		Width:    width,
		Height:   height,
	}

	if err := img.Validate(); err != nil {
		return nil, err
	}

	return img, nil
}

// Validate checks if the ImageAttempt has valid data.
func (i *ImageAttempt) Validate() error {
	if i.ID == uuid.Nil {
		return ErrEmptyImageID
	}

	if i.SceneID == uuid.Nil {
		return ErrEmptyImageSceneID
	}

	if i.Attempt < 0 {
		return ErrNegativeAttempt
	}

	if i.Prompt == "" {
		return ErrEmptyImagePrompt
	}

	if !isValidImageStatus(i.Status) {
		return ErrInvalidImageStatus
	}

	return nil
}

// CurrentImagePointer marks which attempt is authoritative for a scene.
// The pointer is set at most once automatically: the first successfully
// finalized attempt wins and later retries never silently override it.
type CurrentImagePointer struct {
	SceneID uuid.UUID `json:"scene_id"`
	ImageID uuid.UUID `json:"image_id"`
}

func isValidImageStatus(status ImageStatus) bool {
	switch status {
	case ImageStatusGenerating, ImageStatusCompleted, ImageStatusFailed:
		return true
	default:
		return false
	}
}
