package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/platform/logger"
	"github.com/storyloom/storyloom-api/internal/store"
)

// PostgresImageStore implements the store.ImageStore interface
// using a PostgreSQL database as the storage backend.
type PostgresImageStore struct {
	db store.DBTX
}

// NewPostgresImageStore creates a new PostgreSQL implementation of the
// ImageStore interface.
func NewPostgresImageStore(db store.DBTX) *PostgresImageStore {
	return &PostgresImageStore{
		db: db,
	}
}

// Ensure PostgresImageStore implements store.ImageStore interface
var _ store.ImageStore = (*PostgresImageStore)(nil)

// WithTx implements store.ImageStore.WithTx
func (s *PostgresImageStore) WithTx(tx *sql.Tx) store.ImageStore {
	return &PostgresImageStore{
		db: tx,
	}
}

// NextAttempt implements store.ImageStore.NextAttempt
func (s *PostgresImageStore) NextAttempt(ctx context.Context, sceneID uuid.UUID) (int, error) {
	query := `
		SELECT COALESCE(MAX(attempt) + 1, 0)
		FROM scene_images
		WHERE scene_id = $1
	`

	var next int
	if err := s.db.QueryRowContext(ctx, query, sceneID).Scan(&next); err != nil {
		return 0, mapError(err)
	}

	return next, nil
}

// Create implements store.ImageStore.Create
func (s *PostgresImageStore) Create(ctx context.Context, img *domain.ImageAttempt) error {
	log := logger.FromContextOrDefault(ctx)

	if err := img.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO scene_images (id, scene_id, attempt, prompt, provider,
			status, storage_path, width, height, format, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		img.ID,
		img.SceneID,
		img.Attempt,
		img.Prompt,
		img.Provider,
		img.Status,
		img.StoragePath,
		img.Width,
		img.Height,
		img.Format,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to create image attempt",
			"image_id", img.ID,
			"scene_id", img.SceneID,
			"attempt", img.Attempt,
			"error", err)
		return mapError(err)
	}

	return nil
}

// Finalize implements store.ImageStore.Finalize
// Status and storage fields land in one update so readers never observe a
// completed attempt without its storage path.
func (s *PostgresImageStore) Finalize(
	ctx context.Context,
	id uuid.UUID,
	storagePath, format string,
	width, height int,
) error {
	log := logger.FromContextOrDefault(ctx)

	query := `
		UPDATE scene_images
		SET status = 'completed',
			storage_path = $2,
			format = $3,
			width = $4,
			height = $5,
			updated_at = $6
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, storagePath, format, width, height, time.Now().UTC())
	if err != nil {
		log.Error("failed to finalize image attempt",
			"image_id", id,
			"error", err)
		return mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrImageNotFound
	}

	return nil
}

// MarkFailed implements store.ImageStore.MarkFailed
func (s *PostgresImageStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx)

	query := `
		UPDATE scene_images
		SET status = 'failed', updated_at = $2
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		log.Error("failed to mark image attempt failed",
			"image_id", id,
			"error", err)
		return mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrImageNotFound
	}

	return nil
}

// SetCurrentImage implements store.ImageStore.SetCurrentImage
// ON CONFLICT DO NOTHING gives first-writer-wins: once a scene has a pointer,
// later finalized attempts leave it untouched.
func (s *PostgresImageStore) SetCurrentImage(ctx context.Context, sceneID, imageID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx)

	query := `
		INSERT INTO scenes_current_image (scene_id, image_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (scene_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, sceneID, imageID, time.Now().UTC())
	if err != nil {
		log.Error("failed to set current image pointer",
			"scene_id", sceneID,
			"image_id", imageID,
			"error", err)
		return mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		log.Debug("current image pointer already set, keeping existing winner",
			"scene_id", sceneID,
			"image_id", imageID)
	}

	return nil
}

// GetCurrentImage implements store.ImageStore.GetCurrentImage
func (s *PostgresImageStore) GetCurrentImage(ctx context.Context, sceneID uuid.UUID) (*domain.CurrentImagePointer, error) {
	query := `
		SELECT scene_id, image_id
		FROM scenes_current_image
		WHERE scene_id = $1
	`

	var ptr domain.CurrentImagePointer
	err := s.db.QueryRowContext(ctx, query, sceneID).Scan(&ptr.SceneID, &ptr.ImageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrImageNotFound
		}
		return nil, mapError(err)
	}

	return &ptr, nil
}

// CurrentImagesByRun implements store.ImageStore.CurrentImagesByRun
func (s *PostgresImageStore) CurrentImagesByRun(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx)

	query := `
		SELECT c.scene_id, c.image_id
		FROM scenes_current_image c
		JOIN scenes s ON s.id = c.scene_id
		WHERE s.run_id = $1
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		log.Error("failed to query current images for run",
			"run_id", runID,
			"error", err)
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	pointers := make(map[uuid.UUID]uuid.UUID)
	for rows.Next() {
		var sceneID, imageID uuid.UUID
		if err := rows.Scan(&sceneID, &imageID); err != nil {
			return nil, fmt.Errorf("failed to scan current image row: %w", err)
		}
		pointers[sceneID] = imageID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating current image rows: %w", err)
	}

	return pointers, nil
}
