package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyloom/storyloom-api/internal/config"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/pipeline"
	"github.com/storyloom/storyloom-api/internal/platform/gemini"
	"github.com/storyloom/storyloom-api/internal/platform/postgres"
	"github.com/storyloom/storyloom-api/internal/platform/storage"
	"github.com/storyloom/storyloom-api/internal/queue"
	"github.com/storyloom/storyloom-api/internal/service"
	"github.com/storyloom/storyloom-api/internal/service/auth"
	"github.com/storyloom/storyloom-api/internal/store"
	"github.com/storyloom/storyloom-api/internal/worker"
)

// application holds the shared application dependencies so wiring happens in
// one place and cleanup can release them in order.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	runStore   store.RunStore
	jobStore   store.JobStore
	sceneStore store.SceneStore
	imageStore store.ImageStore

	jwtService  auth.JWTService
	enhancement *service.EnhancementService
	dispatcher  *worker.Dispatcher
}

// newApplication creates an application instance with all dependencies
// initialized. The caller owns the database connection; cleanup closes it.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.runStore = postgres.NewPostgresRunStore(db)
	app.jobStore = postgres.NewPostgresJobStore(db)
	app.sceneStore = postgres.NewPostgresSceneStore(db)
	app.imageStore = postgres.NewPostgresImageStore(db)

	genaiClient, err := gemini.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}

	imageProvider, err := gemini.NewImageProvider(logger, cfg.LLM, genaiClient)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image provider: %w", err)
	}

	moderation, err := gemini.NewModerationProvider(logger, cfg.LLM, genaiClient)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize moderation provider: %w", err)
	}

	fileStore, err := storage.NewFileStore(cfg.Storage.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	jobQueue := queue.New(app.jobStore)

	// No chapter store is deployed yet, so the analyze stage handles only
	// runs carrying inline chapter text. Runs referencing a chapter by ID
	// fail with a clear error until a ChapterSource is wired here.
	analyzeHandler := pipeline.NewAnalyzeHandler(
		app.runStore,
		app.sceneStore,
		jobQueue,
		pipeline.NewParagraphSegmenter(),
		nil,
	)
	generateHandler := pipeline.NewGenerateHandler(
		app.runStore,
		app.sceneStore,
		app.imageStore,
		jobQueue,
		pipeline.NewScenePrompter(),
		moderation,
		imageProvider,
		fileStore,
	)
	finalizeHandler := pipeline.NewFinalizeHandler(app.runStore, app.sceneStore)

	app.dispatcher = worker.NewDispatcher(
		app.jobStore,
		analyzeHandler,
		generateHandler,
		finalizeHandler,
		worker.Config{
			BatchSize:      cfg.Worker.BatchSize,
			Lease:          time.Duration(cfg.Worker.LeaseSeconds) * time.Second,
			PollInterval:   time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second,
			FailureBackoff: time.Duration(cfg.Worker.FailureBackoffSeconds) * time.Second,
		},
		logger,
	)

	app.enhancement = service.NewEnhancementService(
		service.NewDBTxRunner(db),
		app.runStore,
		app.jobStore,
		app.sceneStore,
		app.imageStore,
		domain.RunConfig{
			CapScenes:   cfg.Pipeline.CapScenes,
			ImageWidth:  cfg.Pipeline.ImageWidth,
			ImageHeight: cfg.Pipeline.ImageHeight,
			ImageFormat: cfg.Pipeline.ImageFormat,
		},
		logger,
	)

	logger.Info("Application initialized",
		slog.String("image_provider", imageProvider.Name()))
	return app, nil
}

// Run starts the worker dispatch loop and the HTTP server, blocking until
// shutdown completes. The worker stops when the server context is
// cancelled, so in-flight jobs finish before the process exits.
func (app *application) Run(ctx context.Context) error {
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		app.dispatcher.Run(workerCtx)
	}()

	err := app.startHTTPServer(ctx, app.setupRouter())

	stopWorker()
	<-workerDone
	app.cleanup()

	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup releases application resources after the server and worker have
// stopped.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}
	app.logger.Info("Application shutdown completed")
}
