// Package service contains the application services that sit between the
// HTTP layer and the stores. Services own transaction boundaries; handlers
// below them never begin or commit transactions themselves.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/pipeline"
	"github.com/storyloom/storyloom-api/internal/queue"
	"github.com/storyloom/storyloom-api/internal/store"
)

// TxRunner executes a function inside a database transaction. It exists so
// services can be tested without a live database.
type TxRunner interface {
	RunInTransaction(ctx context.Context, fn store.TxFn) error
}

// DBTxRunner is the production TxRunner over a *sql.DB.
type DBTxRunner struct {
	db *sql.DB
}

// NewDBTxRunner creates a TxRunner over the given database handle.
func NewDBTxRunner(db *sql.DB) *DBTxRunner {
	return &DBTxRunner{db: db}
}

// RunInTransaction implements TxRunner.
func (r *DBTxRunner) RunInTransaction(ctx context.Context, fn store.TxFn) error {
	return store.RunInTransaction(ctx, r.db, fn)
}

// StartRunParams carries an accepted enhancement request into the service.
type StartRunParams struct {
	UserID      uuid.UUID
	ChapterID   *uuid.UUID
	ChapterText string
	StylePreset string
	CapScenes   int
}

// SceneView is one scene in a run status report, with the current image
// attempt when the scene has one.
type SceneView struct {
	Scene          *domain.Scene
	CurrentImageID *uuid.UUID
}

// RunView is the full status report for a run.
type RunView struct {
	Run    *domain.EnhancementRun
	Scenes []SceneView
}

// EnhancementService accepts enhancement requests and reports run status.
type EnhancementService struct {
	tx       TxRunner
	runs     store.RunStore
	jobs     store.JobStore
	scenes   store.SceneStore
	images   store.ImageStore
	defaults domain.RunConfig
	logger   *slog.Logger
}

// NewEnhancementService creates an EnhancementService. defaults supplies the
// run config applied when a start request leaves settings unspecified.
func NewEnhancementService(
	tx TxRunner,
	runs store.RunStore,
	jobs store.JobStore,
	scenes store.SceneStore,
	images store.ImageStore,
	defaults domain.RunConfig,
	logger *slog.Logger,
) *EnhancementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnhancementService{
		tx:       tx,
		runs:     runs,
		jobs:     jobs,
		scenes:   scenes,
		images:   images,
		defaults: defaults,
		logger:   logger.With("component", "enhancement_service"),
	}
}

// StartRun creates a queued run and its analyze_chapter job in a single
// transaction. Either both rows exist afterwards or neither does, so a run
// can never be accepted without being scheduled.
func (s *EnhancementService) StartRun(ctx context.Context, params StartRunParams) (*domain.EnhancementRun, error) {
	cfg := s.defaults
	if params.CapScenes > 0 {
		cfg.CapScenes = params.CapScenes
	}

	run, err := domain.NewEnhancementRun(
		params.UserID,
		params.ChapterID,
		params.ChapterText,
		params.StylePreset,
		cfg,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	err = s.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.runs.WithTx(tx).Create(ctx, run); err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}

		_, err := queue.New(s.jobs.WithTx(tx)).Enqueue(ctx,
			domain.JobTypeAnalyzeChapter,
			pipeline.AnalyzeChapterPayload{RunID: run.ID, UserID: run.UserID},
			queue.WithRunID(run.ID),
			queue.WithUserID(run.UserID),
			queue.WithIdempotencyKey(fmt.Sprintf("analyze:%s", run.ID)),
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue analyze job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("enhancement run accepted",
		"run_id", run.ID,
		"user_id", run.UserID,
		"cap_scenes", cfg.CapScenes)
	return run, nil
}

// GetRunStatus returns the run with its scenes and current images. A run
// belonging to another user is reported as not found.
func (s *EnhancementService) GetRunStatus(ctx context.Context, runID, userID uuid.UUID) (*RunView, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, store.ErrRunNotFound
	}

	scenes, err := s.scenes.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	view := &RunView{Run: run}
	if len(scenes) == 0 {
		return view, nil
	}

	pointers, err := s.images.CurrentImagesByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	view.Scenes = make([]SceneView, 0, len(scenes))
	for _, scene := range scenes {
		sv := SceneView{Scene: scene}
		if imageID, ok := pointers[scene.ID]; ok {
			id := imageID
			sv.CurrentImageID = &id
		}
		view.Scenes = append(view.Scenes, sv)
	}

	return view, nil
}
