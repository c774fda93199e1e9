package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/mocks"
	"github.com/storyloom/storyloom-api/internal/pipeline"
	"github.com/storyloom/storyloom-api/internal/queue"
	"github.com/storyloom/storyloom-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type generateFixture struct {
	runs      *mocks.TestifyMockRunStore
	scenes    *mocks.TestifyMockSceneStore
	images    *mocks.TestifyMockImageStore
	jobStore  *mocks.TestifyMockJobStore
	generator *fakeGenerator
	storage   *fakeStorage

	run   *domain.EnhancementRun
	scene *domain.Scene

	enqueued []*domain.Job
}

func newGenerateFixture(t *testing.T) *generateFixture {
	t.Helper()

	run := testRun(domain.RunStatusGenerating)
	scene := testScene(run.ID, 0, domain.SceneStatusPending)

	f := &generateFixture{
		runs:     new(mocks.TestifyMockRunStore),
		scenes:   new(mocks.TestifyMockSceneStore),
		images:   new(mocks.TestifyMockImageStore),
		jobStore: new(mocks.TestifyMockJobStore),
		generator: &fakeGenerator{image: &pipeline.GeneratedImage{
			Data:   []byte("png-bytes"),
			Format: "image/png",
			Width:  1024,
			Height: 1024,
		}},
		storage: newFakeStorage(),
		run:     run,
		scene:   scene,
	}

	f.runs.On("GetByID", mock.Anything, run.ID).Return(run, nil)
	f.scenes.On("GetByID", mock.Anything, scene.ID).Return(scene, nil)

	f.jobStore.On("FindActiveByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, store.ErrJobNotFound).Maybe()
	f.jobStore.On("Insert", mock.Anything, mock.AnythingOfType("*domain.Job")).
		Run(func(args mock.Arguments) {
			f.enqueued = append(f.enqueued, args.Get(1).(*domain.Job))
		}).
		Return(nil).Maybe()

	return f
}

func (f *generateFixture) handler(moderation *fakeModeration) *pipeline.GenerateHandler {
	return pipeline.NewGenerateHandler(
		f.runs, f.scenes, f.images, queue.New(f.jobStore),
		pipeline.NewScenePrompter(), moderation, f.generator, f.storage,
	)
}

func (f *generateFixture) job(t *testing.T, attempts, maxAttempts int) store.ClaimedJob {
	t.Helper()

	payload, err := json.Marshal(pipeline.GenerateImagePayload{
		RunID:   f.run.ID,
		SceneID: f.scene.ID,
		Idx:     f.scene.Idx,
	})
	require.NoError(t, err)

	return store.ClaimedJob{
		ID:          uuid.New(),
		Type:        domain.JobTypeGenerateImage,
		Payload:     payload,
		RunID:       &f.run.ID,
		SceneID:     &f.scene.ID,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
}

func TestGenerateHappyPathAdvancesToNextScene(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)
	next := testScene(f.run.ID, 1, domain.SceneStatusPending)

	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusGenerating).Return(nil)
	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusCompleted).Return(nil)
	f.scenes.On("GetByRunIdx", mock.Anything, f.run.ID, 1).Return(next, nil)

	f.images.On("NextAttempt", mock.Anything, f.scene.ID).Return(0, nil)
	var created *domain.ImageAttempt
	f.images.On("Create", mock.Anything, mock.AnythingOfType("*domain.ImageAttempt")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*domain.ImageAttempt)
		}).
		Return(nil)
	f.images.On("Finalize", mock.Anything, mock.Anything, mock.AnythingOfType("string"),
		"image/png", 1024, 1024).Return(nil)
	f.images.On("SetCurrentImage", mock.Anything, f.scene.ID, mock.Anything).Return(nil)

	h := f.handler(&fakeModeration{})
	err := h.Handle(context.Background(), f.job(t, 0, 3))
	require.NoError(t, err)

	require.NotNil(t, created)
	assert.Equal(t, 0, created.Attempt)
	assert.Equal(t, "fake", created.Provider)
	assert.Contains(t, created.Prompt, "watercolor")
	assert.Contains(t, created.Prompt, f.scene.Description)

	assert.Len(t, f.storage.writes, 1)

	require.Len(t, f.enqueued, 1)
	assert.Equal(t, domain.JobTypeGenerateImage, f.enqueued[0].Type)
	assert.Equal(t, pipeline.GenerateIdempotencyKey(f.run.ID, 1), f.enqueued[0].IdempotencyKey)

	f.images.AssertExpectations(t)
	f.scenes.AssertExpectations(t)
}

func TestGenerateLastSceneEnqueuesFinalize(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)

	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusGenerating).Return(nil)
	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusCompleted).Return(nil)
	f.scenes.On("GetByRunIdx", mock.Anything, f.run.ID, 1).Return(nil, store.ErrSceneNotFound)

	f.images.On("NextAttempt", mock.Anything, f.scene.ID).Return(0, nil)
	f.images.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.images.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything).Return(nil)
	f.images.On("SetCurrentImage", mock.Anything, f.scene.ID, mock.Anything).Return(nil)

	h := f.handler(&fakeModeration{})
	err := h.Handle(context.Background(), f.job(t, 0, 3))
	require.NoError(t, err)

	require.Len(t, f.enqueued, 1)
	assert.Equal(t, domain.JobTypeFinalizeRun, f.enqueued[0].Type)
	assert.Equal(t, pipeline.FinalizeIdempotencyKey(f.run.ID), f.enqueued[0].IdempotencyKey)
}

func TestGenerateModerationBlockFailsSceneAndAdvances(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)
	next := testScene(f.run.ID, 1, domain.SceneStatusPending)

	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusGenerating).Return(nil)
	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusFailed).Return(nil)
	f.scenes.On("GetByRunIdx", mock.Anything, f.run.ID, 1).Return(next, nil)

	blocked := fmt.Errorf("provider said no: %w", pipeline.ErrModerationBlocked)
	h := f.handler(&fakeModeration{err: blocked})

	// The job completes: a moderation block is permanent, not retryable.
	err := h.Handle(context.Background(), f.job(t, 0, 3))
	require.NoError(t, err)

	assert.Equal(t, 0, f.generator.calls)
	f.images.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	require.Len(t, f.enqueued, 1)
	assert.Equal(t, domain.JobTypeGenerateImage, f.enqueued[0].Type)

	f.scenes.AssertExpectations(t)
}

func TestGenerateTransientErrorRetries(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)
	f.generator.err = errors.New("provider timeout")

	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusGenerating).Return(nil)

	f.images.On("NextAttempt", mock.Anything, f.scene.ID).Return(0, nil)
	var created *domain.ImageAttempt
	f.images.On("Create", mock.Anything, mock.AnythingOfType("*domain.ImageAttempt")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*domain.ImageAttempt)
		}).
		Return(nil)
	f.images.On("MarkFailed", mock.Anything, mock.Anything).Return(nil)

	h := f.handler(&fakeModeration{})
	err := h.Handle(context.Background(), f.job(t, 0, 3))
	require.Error(t, err)

	// The attempt row is settled but the scene stays in flight for the retry.
	require.NotNil(t, created)
	f.images.AssertCalled(t, "MarkFailed", mock.Anything, created.ID)
	f.scenes.AssertNotCalled(t, "UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusFailed)
	assert.Empty(t, f.enqueued)
}

func TestGenerateFinalAttemptFailsSceneAndAdvances(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)
	f.generator.err = errors.New("provider timeout")

	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusGenerating).Return(nil)
	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusFailed).Return(nil)
	f.scenes.On("GetByRunIdx", mock.Anything, f.run.ID, 1).Return(nil, store.ErrSceneNotFound)

	f.images.On("NextAttempt", mock.Anything, f.scene.ID).Return(2, nil)
	f.images.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.images.On("MarkFailed", mock.Anything, mock.Anything).Return(nil)

	h := f.handler(&fakeModeration{})
	err := h.Handle(context.Background(), f.job(t, 2, 3))
	require.Error(t, err)

	// Budget exhausted: scene settled failed and the chain still advanced.
	f.scenes.AssertCalled(t, "UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusFailed)
	require.Len(t, f.enqueued, 1)
	assert.Equal(t, domain.JobTypeFinalizeRun, f.enqueued[0].Type)
}

func TestGenerateTerminalSceneReAdvances(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)
	f.scene.Status = domain.SceneStatusCompleted
	next := testScene(f.run.ID, 1, domain.SceneStatusPending)

	f.scenes.On("GetByRunIdx", mock.Anything, f.run.ID, 1).Return(next, nil)

	h := f.handler(&fakeModeration{})
	err := h.Handle(context.Background(), f.job(t, 1, 3))
	require.NoError(t, err)

	assert.Equal(t, 0, f.generator.calls)
	require.Len(t, f.enqueued, 1)
	assert.Equal(t, domain.JobTypeGenerateImage, f.enqueued[0].Type)
}

func TestGenerateAbandonedJobFailsSceneAndAdvances(t *testing.T) {
	t.Parallel()

	// A worker died mid-generation and lapsed leases burned the attempt
	// budget, so the reaper took the job terminal with the scene still in
	// generating. Settlement must fail the scene and keep the chain moving.
	f := newGenerateFixture(t)
	f.scene.Status = domain.SceneStatusGenerating
	next := testScene(f.run.ID, 1, domain.SceneStatusPending)

	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusFailed).Return(nil)
	f.scenes.On("GetByRunIdx", mock.Anything, f.run.ID, 1).Return(next, nil)

	h := f.handler(&fakeModeration{})
	err := h.HandleAbandoned(context.Background(), f.job(t, 3, 3))
	require.NoError(t, err)

	assert.Equal(t, 0, f.generator.calls)
	f.scenes.AssertCalled(t, "UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusFailed)
	require.Len(t, f.enqueued, 1)
	assert.Equal(t, domain.JobTypeGenerateImage, f.enqueued[0].Type)
	assert.Equal(t, pipeline.GenerateIdempotencyKey(f.run.ID, 1), f.enqueued[0].IdempotencyKey)
}

func TestGenerateAbandonedLastSceneEnqueuesFinalize(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)
	f.scene.Status = domain.SceneStatusGenerating

	f.scenes.On("UpdateStatus", mock.Anything, f.scene.ID, domain.SceneStatusFailed).Return(nil)
	f.scenes.On("GetByRunIdx", mock.Anything, f.run.ID, 1).Return(nil, store.ErrSceneNotFound)

	h := f.handler(&fakeModeration{})
	err := h.HandleAbandoned(context.Background(), f.job(t, 3, 3))
	require.NoError(t, err)

	require.Len(t, f.enqueued, 1)
	assert.Equal(t, domain.JobTypeFinalizeRun, f.enqueued[0].Type)
}

func TestGenerateAbandonedTerminalSceneReAdvancesOnly(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)
	f.scene.Status = domain.SceneStatusCompleted
	next := testScene(f.run.ID, 1, domain.SceneStatusPending)

	f.scenes.On("GetByRunIdx", mock.Anything, f.run.ID, 1).Return(next, nil)

	h := f.handler(&fakeModeration{})
	err := h.HandleAbandoned(context.Background(), f.job(t, 3, 3))
	require.NoError(t, err)

	f.scenes.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, f.enqueued, 1)
	assert.Equal(t, domain.JobTypeGenerateImage, f.enqueued[0].Type)
}

func TestGenerateAbandonedTerminalRunIsNoOp(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)
	f.run.Status = domain.RunStatusFailed

	h := f.handler(&fakeModeration{})
	err := h.HandleAbandoned(context.Background(), f.job(t, 3, 3))
	require.NoError(t, err)

	assert.Empty(t, f.enqueued)
	f.scenes.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerateTerminalRunIsNoOp(t *testing.T) {
	t.Parallel()

	f := newGenerateFixture(t)
	f.run.Status = domain.RunStatusFailed

	h := f.handler(&fakeModeration{})
	err := h.Handle(context.Background(), f.job(t, 0, 3))
	require.NoError(t, err)

	assert.Equal(t, 0, f.generator.calls)
	assert.Empty(t, f.enqueued)
	f.scenes.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}
