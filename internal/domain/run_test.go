package domain_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRun(t *testing.T) *domain.EnhancementRun {
	t.Helper()
	run, err := domain.NewEnhancementRun(
		uuid.New(),
		nil,
		"It was a dark and stormy night.",
		"watercolor",
		domain.DefaultRunConfig(),
	)
	require.NoError(t, err)
	return run
}

func TestNewEnhancementRun(t *testing.T) {
	run := newTestRun(t)

	assert.Equal(t, domain.RunStatusQueued, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.False(t, run.StartedAt.IsZero())
	assert.Equal(t, 5, run.Config.CapScenes)
}

func TestNewEnhancementRunRequiresChapter(t *testing.T) {
	_, err := domain.NewEnhancementRun(uuid.New(), nil, "", "", domain.DefaultRunConfig())
	assert.ErrorIs(t, err, domain.ErrEmptyChapterRef)
}

func TestRunStatusMonotonic(t *testing.T) {
	run := newTestRun(t)

	require.NoError(t, run.UpdateStatus(domain.RunStatusGenerating))
	assert.Equal(t, domain.RunStatusGenerating, run.Status)
	assert.Nil(t, run.FinishedAt)

	// Regression back to queued is rejected.
	err := run.UpdateStatus(domain.RunStatusQueued)
	assert.ErrorIs(t, err, domain.ErrStatusRegression)
	assert.Equal(t, domain.RunStatusGenerating, run.Status)

	require.NoError(t, run.UpdateStatus(domain.RunStatusCompleted))
	assert.True(t, run.Terminal())
	require.NotNil(t, run.FinishedAt)
}

func TestRunTerminalSetsFinishedAt(t *testing.T) {
	run := newTestRun(t)

	require.NoError(t, run.UpdateStatus(domain.RunStatusFailed))
	assert.True(t, run.Terminal())
	assert.NotNil(t, run.FinishedAt)
}

func TestRunInvalidStatus(t *testing.T) {
	run := newTestRun(t)
	err := run.UpdateStatus(domain.RunStatus("paused"))
	assert.ErrorIs(t, err, domain.ErrInvalidRunStatus)
}
