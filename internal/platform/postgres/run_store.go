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

// PostgresRunStore implements the store.RunStore interface
// using a PostgreSQL database as the storage backend.
type PostgresRunStore struct {
	db store.DBTX
}

// NewPostgresRunStore creates a new PostgreSQL implementation of the RunStore
// interface. It accepts a database connection or transaction that should be
// initialized and managed by the caller.
func NewPostgresRunStore(db store.DBTX) *PostgresRunStore {
	return &PostgresRunStore{
		db: db,
	}
}

// Ensure PostgresRunStore implements store.RunStore interface
var _ store.RunStore = (*PostgresRunStore)(nil)

// WithTx implements store.RunStore.WithTx
func (s *PostgresRunStore) WithTx(tx *sql.Tx) store.RunStore {
	return &PostgresRunStore{
		db: tx,
	}
}

// Create implements store.RunStore.Create
func (s *PostgresRunStore) Create(ctx context.Context, run *domain.EnhancementRun) error {
	log := logger.FromContextOrDefault(ctx)

	if err := run.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO enhancement_runs (id, user_id, chapter_id, chapter_text,
			status, style_preset, cap_scenes, image_width, image_height,
			image_format, error, started_at, finished_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.UserID,
		run.ChapterID,
		run.ChapterText,
		run.Status,
		run.StylePreset,
		run.Config.CapScenes,
		run.Config.ImageWidth,
		run.Config.ImageHeight,
		run.Config.ImageFormat,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to create enhancement run",
			"run_id", run.ID,
			"user_id", run.UserID,
			"error", err)
		return mapError(err)
	}

	return nil
}

// GetByID implements store.RunStore.GetByID
func (s *PostgresRunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.EnhancementRun, error) {
	query := `
		SELECT id, user_id, chapter_id, chapter_text, status, style_preset,
			cap_scenes, image_width, image_height, image_format, error,
			started_at, finished_at
		FROM enhancement_runs
		WHERE id = $1
	`

	var run domain.EnhancementRun
	var chapterID uuid.NullUUID
	var finishedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.UserID,
		&chapterID,
		&run.ChapterText,
		&run.Status,
		&run.StylePreset,
		&run.Config.CapScenes,
		&run.Config.ImageWidth,
		&run.Config.ImageHeight,
		&run.Config.ImageFormat,
		&run.Error,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRunNotFound
		}
		return nil, mapError(err)
	}

	if chapterID.Valid {
		run.ChapterID = &chapterID.UUID
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return &run, nil
}

// UpdateStatus implements store.RunStore.UpdateStatus
//
// The WHERE clause excludes terminal rows, so a late status write from a
// retried job can never resurrect a completed or failed run. finished_at is
// stamped in the same statement when the new status is terminal.
func (s *PostgresRunStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.RunStatus,
	runErr string,
) error {
	log := logger.FromContextOrDefault(ctx)

	query := `
		UPDATE enhancement_runs
		SET status = $2,
			error = CASE WHEN $3 = '' THEN error ELSE $3 END,
			finished_at = CASE WHEN $2 IN ('completed', 'failed')
				THEN $4 ELSE finished_at END,
			updated_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`

	result, err := s.db.ExecContext(ctx, query, id, status, runErr, time.Now().UTC())
	if err != nil {
		log.Error("failed to update run status",
			"run_id", id,
			"status", status,
			"error", err)
		return mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// No row updated: the run is missing or already terminal.
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}

	log.Warn("ignoring status update for terminal run",
		"run_id", id,
		"status", status)
	return nil
}
