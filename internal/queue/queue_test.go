package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/mocks"
	"github.com/storyloom/storyloom-api/internal/queue"
	"github.com/storyloom/storyloom-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type analyzePayload struct {
	RunID string `json:"run_id"`
}

func TestEnqueueInsertsQueuedJob(t *testing.T) {
	t.Parallel()

	jobStore := new(mocks.TestifyMockJobStore)
	var inserted *domain.Job
	jobStore.On("Insert", mock.Anything, mock.AnythingOfType("*domain.Job")).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(*domain.Job)
		}).
		Return(nil)

	q := queue.New(jobStore)
	runID := uuid.New()

	job, err := q.Enqueue(context.Background(),
		domain.JobTypeAnalyzeChapter,
		analyzePayload{RunID: runID.String()},
		queue.WithRunID(runID),
	)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, domain.JobTypeAnalyzeChapter, job.Type)
	assert.Equal(t, domain.DefaultMaxAttempts, job.MaxAttempts)
	require.NotNil(t, job.RunID)
	assert.Equal(t, runID, *job.RunID)
	assert.Same(t, job, inserted)
	assert.JSONEq(t, `{"run_id":"`+runID.String()+`"}`, string(job.Payload))

	jobStore.AssertExpectations(t)
}

func TestEnqueueAppliesOptions(t *testing.T) {
	t.Parallel()

	jobStore := new(mocks.TestifyMockJobStore)
	jobStore.On("FindActiveByIdempotencyKey", mock.Anything, domain.JobTypeGenerateImage, "scene-7").
		Return(nil, store.ErrJobNotFound)
	jobStore.On("Insert", mock.Anything, mock.AnythingOfType("*domain.Job")).Return(nil)

	q := queue.New(jobStore)
	sceneID := uuid.New()
	userID := uuid.New()
	runAfter := time.Now().UTC().Add(30 * time.Second)

	job, err := q.Enqueue(context.Background(),
		domain.JobTypeGenerateImage,
		analyzePayload{RunID: "unused"},
		queue.WithSceneID(sceneID),
		queue.WithUserID(userID),
		queue.WithRunAfter(runAfter),
		queue.WithMaxAttempts(5),
		queue.WithIdempotencyKey("scene-7"),
	)
	require.NoError(t, err)

	assert.Equal(t, runAfter, job.RunAfter)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, "scene-7", job.IdempotencyKey)
	require.NotNil(t, job.SceneID)
	assert.Equal(t, sceneID, *job.SceneID)
	require.NotNil(t, job.UserID)
	assert.Equal(t, userID, *job.UserID)

	jobStore.AssertExpectations(t)
}

func TestEnqueueDeduplicatesOnIdempotencyKey(t *testing.T) {
	t.Parallel()

	existing := &domain.Job{
		ID:             uuid.New(),
		Type:           domain.JobTypeGenerateImage,
		Status:         domain.JobStatusQueued,
		IdempotencyKey: "scene-3",
	}

	jobStore := new(mocks.TestifyMockJobStore)
	jobStore.On("FindActiveByIdempotencyKey", mock.Anything, domain.JobTypeGenerateImage, "scene-3").
		Return(existing, nil)

	q := queue.New(jobStore)

	job, err := q.Enqueue(context.Background(),
		domain.JobTypeGenerateImage,
		analyzePayload{RunID: "r"},
		queue.WithIdempotencyKey("scene-3"),
	)
	require.NoError(t, err)
	assert.Same(t, existing, job)

	jobStore.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestEnqueueRecoversFromInsertRace(t *testing.T) {
	t.Parallel()

	winner := &domain.Job{
		ID:             uuid.New(),
		Type:           domain.JobTypeFinalizeRun,
		Status:         domain.JobStatusQueued,
		IdempotencyKey: "finalize-run-9",
	}

	jobStore := new(mocks.TestifyMockJobStore)
	jobStore.On("FindActiveByIdempotencyKey", mock.Anything, domain.JobTypeFinalizeRun, "finalize-run-9").
		Return(nil, store.ErrJobNotFound).Once()
	jobStore.On("Insert", mock.Anything, mock.AnythingOfType("*domain.Job")).
		Return(store.ErrDuplicate)
	jobStore.On("FindActiveByIdempotencyKey", mock.Anything, domain.JobTypeFinalizeRun, "finalize-run-9").
		Return(winner, nil).Once()

	q := queue.New(jobStore)

	job, err := q.Enqueue(context.Background(),
		domain.JobTypeFinalizeRun,
		analyzePayload{RunID: "r"},
		queue.WithIdempotencyKey("finalize-run-9"),
	)
	require.NoError(t, err)
	assert.Same(t, winner, job)

	jobStore.AssertExpectations(t)
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	t.Parallel()

	jobStore := new(mocks.TestifyMockJobStore)
	q := queue.New(jobStore)

	_, err := q.Enqueue(context.Background(),
		domain.JobTypeAnalyzeChapter,
		analyzePayload{RunID: "r"},
		queue.WithMaxAttempts(0),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	jobStore.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestEnqueueRejectsUnknownJobType(t *testing.T) {
	t.Parallel()

	jobStore := new(mocks.TestifyMockJobStore)
	q := queue.New(jobStore)

	_, err := q.Enqueue(context.Background(), domain.JobType("reticulate_splines"), analyzePayload{})
	require.Error(t, err)

	jobStore.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}
