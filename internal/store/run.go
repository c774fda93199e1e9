package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
)

// RunStore defines the interface for enhancement run persistence.
// Version: 1.0
type RunStore interface {
	// Create saves a new run to the store.
	// It handles domain validation internally.
	Create(ctx context.Context, run *domain.EnhancementRun) error

	// GetByID retrieves a run by its unique ID.
	// Returns ErrRunNotFound if the run does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.EnhancementRun, error)

	// UpdateStatus advances the run's status, recording runErr when not
	// empty and setting finished_at automatically on terminal statuses.
	// The update never regresses a run that is already terminal.
	// Returns ErrRunNotFound if the run does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus, runErr string) error

	// WithTx returns a RunStore bound to the provided transaction.
	WithTx(tx *sql.Tx) RunStore
}

// SceneStore defines the interface for scene persistence.
// Version: 1.0
type SceneStore interface {
	// InsertScenes bulk-inserts the scenes, preserving idx from input order.
	InsertScenes(ctx context.Context, scenes []*domain.Scene) error

	// GetByID retrieves a scene by its unique ID.
	// Returns ErrSceneNotFound if the scene does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Scene, error)

	// GetByRunIdx retrieves the scene at the given position within a run.
	// Returns ErrSceneNotFound if no scene holds that idx.
	GetByRunIdx(ctx context.Context, runID uuid.UUID, idx int) (*domain.Scene, error)

	// ListByRun returns all scenes for the run in ascending idx order.
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.Scene, error)

	// UpdateStatus sets the scene's status.
	// Returns ErrSceneNotFound if the scene does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SceneStatus) error

	// WithTx returns a SceneStore bound to the provided transaction.
	WithTx(tx *sql.Tx) SceneStore
}

// ImageStore defines the interface for image attempt persistence and the
// per-scene current-image pointer.
// Version: 1.0
type ImageStore interface {
	// NextAttempt computes the next attempt number for the scene:
	// max(existing attempts)+1, or 0 if the scene has none.
	NextAttempt(ctx context.Context, sceneID uuid.UUID) (int, error)

	// Create persists a new generating attempt row.
	Create(ctx context.Context, img *domain.ImageAttempt) error

	// Finalize marks the attempt completed and records its storage fields in
	// a single update, so no partial write is ever observable.
	// Returns ErrImageNotFound if the attempt does not exist.
	Finalize(ctx context.Context, id uuid.UUID, storagePath, format string, width, height int) error

	// MarkFailed marks the attempt failed.
	// Returns ErrImageNotFound if the attempt does not exist.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// SetCurrentImage records imageID as the scene's authoritative image
	// unless a pointer already exists. First writer wins; the call is a
	// silent no-op when the pointer is already set.
	SetCurrentImage(ctx context.Context, sceneID, imageID uuid.UUID) error

	// GetCurrentImage returns the scene's pointer, or ErrImageNotFound if
	// the scene has none.
	GetCurrentImage(ctx context.Context, sceneID uuid.UUID) (*domain.CurrentImagePointer, error)

	// CurrentImagesByRun returns the scene→image pointer map for every scene
	// of the run that has one.
	CurrentImagesByRun(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]uuid.UUID, error)

	// WithTx returns an ImageStore bound to the provided transaction.
	WithTx(tx *sql.Tx) ImageStore
}
