// Package pipeline implements the stage handlers that move an enhancement
// run from accepted chapter to illustrated scenes: Analyze segments the
// chapter, Generate illustrates one scene per job, Finalize settles the run.
// Handlers are pure consumers of injected collaborators; nothing in this
// package reaches for process-global state.
package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
)

// ErrModerationBlocked marks a scene whose content was rejected by the
// moderation check. It is permanent: the scene fails immediately and the
// job is not retried.
var ErrModerationBlocked = errors.New("moderation_blocked")

// ChapterSource fetches chapter text by ID for runs that reference a stored
// chapter instead of carrying inline text.
type ChapterSource interface {
	FetchChapter(ctx context.Context, chapterID uuid.UUID) (string, error)
}

// Prompting builds the image-generation prompt for a scene. The style preset
// comes from the run and may be empty.
type Prompting interface {
	BuildImagePrompt(scene *domain.Scene, stylePreset string) string
}

// Moderation screens text before it is sent to the image provider. A block
// is reported as an error wrapping ErrModerationBlocked.
type Moderation interface {
	CheckText(ctx context.Context, text string) error
}

// GeneratedImage is the binary result of one provider call.
type GeneratedImage struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// ImageRequest describes a single image to generate.
type ImageRequest struct {
	Prompt string
	Width  int
	Height int
	Format string
}

// ImageGenerator produces one illustration for a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*GeneratedImage, error)

	// Name identifies the provider for attempt bookkeeping.
	Name() string
}

// ObjectStorage persists generated image bytes and returns the storage path
// recorded on the attempt.
type ObjectStorage interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Segmenter splits chapter text into at most capScenes scenes. It is the
// replaceable analysis strategy; different strategies may use heuristics or
// a model.
type Segmenter interface {
	Segment(ctx context.Context, chapterText string, capScenes int) ([]SceneDraft, error)
}

// SceneDraft is a segmenter's proposal for one scene, before persistence.
type SceneDraft struct {
	Title       string
	Description string
	Characters  []string
}
