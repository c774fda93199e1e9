package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/platform/logger"
	"github.com/storyloom/storyloom-api/internal/store"
)

// PostgresSceneStore implements the store.SceneStore interface
// using a PostgreSQL database as the storage backend.
type PostgresSceneStore struct {
	db store.DBTX
}

// NewPostgresSceneStore creates a new PostgreSQL implementation of the
// SceneStore interface.
func NewPostgresSceneStore(db store.DBTX) *PostgresSceneStore {
	return &PostgresSceneStore{
		db: db,
	}
}

// Ensure PostgresSceneStore implements store.SceneStore interface
var _ store.SceneStore = (*PostgresSceneStore)(nil)

// WithTx implements store.SceneStore.WithTx
func (s *PostgresSceneStore) WithTx(tx *sql.Tx) store.SceneStore {
	return &PostgresSceneStore{
		db: tx,
	}
}

// InsertScenes implements store.SceneStore.InsertScenes
// All scenes are inserted in a single statement so a run's scene list is
// never partially visible.
func (s *PostgresSceneStore) InsertScenes(ctx context.Context, scenes []*domain.Scene) error {
	log := logger.FromContextOrDefault(ctx)

	if len(scenes) == 0 {
		return nil
	}

	now := time.Now().UTC()

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO scenes (id, run_id, idx, title, description, status,
			characters, created_at, updated_at)
		VALUES `)

	args := make([]interface{}, 0, len(scenes)*9)
	for i, scene := range scenes {
		if err := scene.Validate(); err != nil {
			return fmt.Errorf("%w: scene idx %d: %v", store.ErrInvalidEntity, scene.Idx, err)
		}

		characters, err := json.Marshal(scene.Characters)
		if err != nil {
			return fmt.Errorf("failed to marshal scene characters: %w", err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)

		args = append(args,
			scene.ID,
			scene.RunID,
			scene.Idx,
			scene.Title,
			scene.Description,
			scene.Status,
			json.RawMessage(characters),
			now,
			now,
		)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		log.Error("failed to insert scenes",
			"run_id", scenes[0].RunID,
			"count", len(scenes),
			"error", err)
		return mapError(err)
	}

	return nil
}

// GetByID implements store.SceneStore.GetByID
func (s *PostgresSceneStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Scene, error) {
	query := sceneSelect + ` WHERE id = $1`

	scene, err := scanScene(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSceneNotFound
		}
		return nil, mapError(err)
	}

	return scene, nil
}

// GetByRunIdx implements store.SceneStore.GetByRunIdx
func (s *PostgresSceneStore) GetByRunIdx(ctx context.Context, runID uuid.UUID, idx int) (*domain.Scene, error) {
	query := sceneSelect + ` WHERE run_id = $1 AND idx = $2`

	scene, err := scanScene(s.db.QueryRowContext(ctx, query, runID, idx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSceneNotFound
		}
		return nil, mapError(err)
	}

	return scene, nil
}

// ListByRun implements store.SceneStore.ListByRun
func (s *PostgresSceneStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.Scene, error) {
	log := logger.FromContextOrDefault(ctx)

	query := sceneSelect + ` WHERE run_id = $1 ORDER BY idx ASC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		log.Error("failed to list scenes for run",
			"run_id", runID,
			"error", err)
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	var scenes []*domain.Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scene row: %w", err)
		}
		scenes = append(scenes, scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scene rows: %w", err)
	}

	return scenes, nil
}

// UpdateStatus implements store.SceneStore.UpdateStatus
func (s *PostgresSceneStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SceneStatus) error {
	log := logger.FromContextOrDefault(ctx)

	query := `
		UPDATE scenes
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		log.Error("failed to update scene status",
			"scene_id", id,
			"status", status,
			"error", err)
		return mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrSceneNotFound
	}

	return nil
}

const sceneSelect = `
	SELECT id, run_id, idx, title, description, status, characters
	FROM scenes`

func scanScene(row scanner) (*domain.Scene, error) {
	var scene domain.Scene
	var characters []byte

	err := row.Scan(
		&scene.ID,
		&scene.RunID,
		&scene.Idx,
		&scene.Title,
		&scene.Description,
		&scene.Status,
		&characters,
	)
	if err != nil {
		return nil, err
	}

	if len(characters) > 0 {
		if err := json.Unmarshal(characters, &scene.Characters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scene characters: %w", err)
		}
	}

	return &scene, nil
}
